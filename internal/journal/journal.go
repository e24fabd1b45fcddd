// Package journal provides a WAL-mode SQLite-backed session journal. Every
// poll outcome and delivered notification is persisted so session history
// survives restarts and can be served by the status API.
//
// # WAL mode
//
// The database is opened with PRAGMA journal_mode = WAL so the status API's
// reads proceed concurrently with the orchestrator's writes.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql

	"github.com/korailwatch/agent/internal/agent"
)

// Journal is a WAL-mode SQLite-backed implementation of agent.Journal.
// It is safe for concurrent use.
type Journal struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path, enables WAL journal
// mode, and applies the schema. ":memory:" gives an in-memory database,
// suitable for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}

	// SQLite allows only one writer at a time. A single-connection pool
	// serialises concurrent writes instead of surfacing "database is locked".
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}

	// NORMAL synchronous: durable across application crashes; not OS crashes.
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set synchronous = NORMAL: %w", err)
	}

	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

const ddl = `
CREATE TABLE IF NOT EXISTS polls (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    ts              TEXT    NOT NULL,
    success         INTEGER NOT NULL,
    elapsed_ms      REAL    NOT NULL DEFAULT 0,
    train_count     INTEGER NOT NULL DEFAULT 0,
    available_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_polls_ts ON polls (ts);

CREATE TABLE IF NOT EXISTS notifications (
    id     INTEGER PRIMARY KEY AUTOINCREMENT,
    ts     TEXT    NOT NULL,
    trains INTEGER NOT NULL,
    number INTEGER NOT NULL
);
`

// RecordPoll persists one poll outcome. It implements agent.Journal.
func (j *Journal) RecordPoll(r agent.PollRecord) error {
	success := 0
	if r.Success {
		success = 1
	}
	_, err := j.db.Exec(
		`INSERT INTO polls (ts, success, elapsed_ms, train_count, available_count)
		 VALUES (?, ?, ?, ?, ?)`,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		success,
		r.ElapsedMS,
		r.TrainCount,
		r.AvailableCount,
	)
	if err != nil {
		return fmt.Errorf("journal: record poll: %w", err)
	}
	return nil
}

// RecordNotification persists one delivered notification. It implements
// agent.Journal.
func (j *Journal) RecordNotification(r agent.NotificationRecord) error {
	_, err := j.db.Exec(
		`INSERT INTO notifications (ts, trains, number) VALUES (?, ?, ?)`,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
		r.Trains,
		r.Number,
	)
	if err != nil {
		return fmt.Errorf("journal: record notification: %w", err)
	}
	return nil
}

// RecentPolls returns up to n poll records, newest first.
func (j *Journal) RecentPolls(n int) ([]agent.PollRecord, error) {
	if n <= 0 {
		return nil, nil
	}

	rows, err := j.db.Query(
		`SELECT ts, success, elapsed_ms, train_count, available_count
		 FROM   polls
		 ORDER  BY id DESC
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: recent polls query: %w", err)
	}
	defer rows.Close()

	var out []agent.PollRecord
	for rows.Next() {
		var (
			r       agent.PollRecord
			tsStr   string
			success int
		)
		if err := rows.Scan(&tsStr, &success, &r.ElapsedMS, &r.TrainCount, &r.AvailableCount); err != nil {
			return nil, fmt.Errorf("journal: recent polls scan: %w", err)
		}
		r.Success = success != 0
		r.Timestamp, err = time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			r.Timestamp, _ = time.Parse(time.RFC3339, tsStr)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: recent polls rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database. The journal must not be used after
// Close returns.
func (j *Journal) Close() error {
	return j.db.Close()
}
