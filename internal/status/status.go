// Package status serves the loopback observability API: liveness, the live
// session counters, and the journaled poll history.
package status

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/korailwatch/agent/internal/agent"
)

// History reads the persisted poll records. Implemented by the SQLite
// journal; nil disables the /history endpoint.
type History interface {
	RecentPolls(n int) ([]agent.PollRecord, error)
}

// Server holds the dependencies needed by the status handlers.
type Server struct {
	orch    *agent.Orchestrator
	history History
}

// NewServer creates a status Server reading from the given orchestrator.
func NewServer(orch *agent.Orchestrator, history History) *Server {
	return &Server{orch: orch, history: history}
}

// NewRouter returns the configured router.
//
// Route layout:
//
//	GET /healthz  – liveness probe
//	GET /status   – orchestrator state and session counters
//	GET /history  – recent journaled polls (404 without a journal)
func NewRouter(srv *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)
	r.Get("/status", srv.handleStatus)
	r.Get("/history", srv.handleHistory)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusResponse is the GET /status body.
type statusResponse struct {
	State        string         `json:"state"`
	MonitorState string         `json:"monitor_state"`
	RequestCount int            `json:"request_count"`
	Metrics      agent.Snapshot `json:"metrics"`
	GeneratedAt  time.Time      `json:"generated_at"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{
		State:        s.orch.State().String(),
		MonitorState: s.orch.Monitor().State().String(),
		RequestCount: s.orch.Monitor().RequestCount(),
		Metrics:      s.orch.Metrics().Snapshot(),
		GeneratedAt:  time.Now().UTC(),
	})
}

// historyPoll is one GET /history entry.
type historyPoll struct {
	Timestamp      time.Time `json:"timestamp"`
	Success        bool      `json:"success"`
	ElapsedMS      float64   `json:"elapsed_ms"`
	TrainCount     int       `json:"train_count"`
	AvailableCount int       `json:"available_count"`
}

// handleHistory responds to GET /history.
//
// Supported query parameters:
//
//	limit – maximum number of records (default 50, max 500)
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "no session journal configured")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "'limit' must be a positive integer")
			return
		}
		limit = n
	}
	if limit > 500 {
		limit = 500
	}

	records, err := s.history.RecentPolls(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "journal read failed")
		return
	}

	out := make([]historyPoll, 0, len(records))
	for _, rec := range records {
		out = append(out, historyPoll{
			Timestamp:      rec.Timestamp,
			Success:        rec.Success,
			ElapsedMS:      rec.ElapsedMS,
			TrainCount:     rec.TrainCount,
			AvailableCount: rec.AvailableCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
