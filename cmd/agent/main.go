// Command agent is the Korail seat-monitoring binary. It loads a YAML
// configuration file, builds the query from command-line flags, runs one
// monitoring session (polling, notifications, health supervision, optional
// status API and session journal), and shuts down gracefully on SIGTERM or
// SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/korailwatch/agent/internal/agent"
	"github.com/korailwatch/agent/internal/config"
	"github.com/korailwatch/agent/internal/journal"
	"github.com/korailwatch/agent/internal/korail"
	"github.com/korailwatch/agent/internal/notify"
	"github.com/korailwatch/agent/internal/status"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to the YAML configuration file (optional)")
		from       = flag.String("from", "", "departure station, e.g. 서울")
		to         = flag.String("to", "", "arrival station, e.g. 부산")
		date       = flag.String("date", "", "departure date, YYYY-MM-DD")
		timeStart  = flag.String("time-start", "05:00", "earliest departure, HH:MM")
		timeEnd    = flag.String("time-end", "23:59", "latest departure, HH:MM")
		trainClass = flag.String("train", korail.TrainKTX, "train class (KTX, ITX-새마을, 무궁화, 전체, ...)")
		seatClass  = flag.String("seat", korail.SeatGeneral, "seat class (일반실 or 특실)")
		passengers = flag.Int("passengers", 1, "passenger count, 1 to 9")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "korail-agent: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	query, err := buildQuery(*from, *to, *date, *timeStart, *timeEnd, *trainClass, *seatClass, *passengers)
	if err != nil {
		fmt.Fprintf(os.Stderr, "korail-agent: %v\n", err)
		flag.Usage()
		os.Exit(2)
	}

	channels, err := notify.FromConfig(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "korail-agent: %v\n", err)
		os.Exit(1)
	}

	opts := []agent.Option{agent.WithChannels(channels)}
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "korail-agent: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, agent.WithJournal(j))
		logger.Info("session journal enabled", slog.String("path", cfg.JournalPath))
	}

	orch := agent.New(cfg, logger, opts...)

	// Optional loopback status API.
	var statusServer *http.Server
	if cfg.StatusAddr != "" {
		var history status.History
		if cfg.JournalPath != "" {
			// A separate read connection; the orchestrator owns the writer.
			h, err := journal.Open(cfg.JournalPath)
			if err == nil {
				defer h.Close()
				history = h
			}
		}
		statusServer = &http.Server{
			Addr:         cfg.StatusAddr,
			Handler:      status.NewRouter(status.NewServer(orch, history)),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("status server listening", slog.String("addr", cfg.StatusAddr))
			if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server error", slog.Any("error", err))
			}
		}()
	}

	// Forward the first signal to an orderly stop; a second signal kills the
	// process the usual way.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		orch.Stop()
		signal.Stop(sigCh)
	}()

	runErr := orch.Run(context.Background(), query)

	if statusServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := statusServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("status server shutdown error", slog.Any("error", err))
		}
	}

	fmt.Println(orch.Metrics().Summary())

	if runErr != nil {
		logger.Error("session failed", slog.Any("error", runErr))
		os.Exit(1)
	}
	logger.Info("korail agent exited cleanly")
}

// buildQuery assembles and validates the query from the flag values.
func buildQuery(from, to, dateStr, startStr, endStr, trainClass, seatClass string, passengers int) (korail.TrainQuery, error) {
	if from == "" || to == "" || dateStr == "" {
		return korail.TrainQuery{}, fmt.Errorf("-from, -to, and -date are required")
	}
	date, err := time.ParseInLocation("2006-01-02", dateStr, time.Local)
	if err != nil {
		return korail.TrainQuery{}, fmt.Errorf("invalid -date %q (want YYYY-MM-DD)", dateStr)
	}
	start, err := korail.ParseClockTime(startStr)
	if err != nil {
		return korail.TrainQuery{}, err
	}
	end, err := korail.ParseClockTime(endStr)
	if err != nil {
		return korail.TrainQuery{}, err
	}
	return korail.NewQuery(from, to, date, start, end, trainClass, seatClass, passengers)
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
