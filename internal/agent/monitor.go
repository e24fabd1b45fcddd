package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/korailwatch/agent/internal/config"
	"github.com/korailwatch/agent/internal/korail"
	"github.com/korailwatch/agent/internal/schedule"
)

// Checker performs one complete availability check. Implemented by
// korail.Client; tests substitute fakes.
type Checker interface {
	Check(ctx context.Context, query korail.TrainQuery) (korail.CheckResult, error)
}

// MonitorState labels where the monitor is inside its poll cycle. The labels
// exist for logging and the status API; the loop never refuses a transition.
type MonitorState int32

const (
	MonitorIdle MonitorState = iota
	MonitorPolling
	MonitorDetected
)

func (s MonitorState) String() string {
	switch s {
	case MonitorIdle:
		return "IDLE"
	case MonitorPolling:
		return "POLLING"
	case MonitorDetected:
		return "DETECTED"
	default:
		return "UNKNOWN"
	}
}

// Monitor is the polling agent. Each cycle it checks the session limits,
// waits for a rate-limiter token, performs one availability check, emits the
// poll events, and sleeps for the scheduler's adaptive interval (or until
// stopped). It exits on its own when a session limit or the consecutive-error
// cap is hit, which ends the session.
type Monitor struct {
	base

	cfg       *config.Config
	checker   Checker
	scheduler *schedule.Scheduler
	limiter   *schedule.Limiter

	query    korail.TrainQuery
	hasQuery bool

	state             atomic.Int32
	requestCount      atomic.Int64
	consecutiveErrors int
	started           time.Time
}

// NewMonitor creates a Monitor wired to the bus. The query is injected later
// via SetQuery, before the orchestrator starts the agent.
func NewMonitor(cfg *config.Config, checker Checker, bus *Bus, logger *slog.Logger) *Monitor {
	return &Monitor{
		base:    newBase("monitor", bus, logger),
		cfg:     cfg,
		checker: checker,
		scheduler: schedule.NewScheduler(
			config.Seconds(cfg.BaseInterval),
			config.Seconds(cfg.MaxInterval),
			cfg.BackoffMultiplier,
			config.Seconds(cfg.JitterRange),
		),
		limiter: schedule.NewLimiter(config.Seconds(cfg.BaseInterval)),
	}
}

// SetQuery injects the validated query. Called by the orchestrator before
// starting the agent.
func (m *Monitor) SetQuery(q korail.TrainQuery) {
	m.query = q
	m.hasQuery = true
}

// State returns the current poll-cycle label.
func (m *Monitor) State() MonitorState { return MonitorState(m.state.Load()) }

// RequestCount returns the number of polls attempted so far, successes and
// failures both.
func (m *Monitor) RequestCount() int { return int(m.requestCount.Load()) }

// ConsecutiveErrors returns the current error run length.
func (m *Monitor) ConsecutiveErrors() int { return m.consecutiveErrors }

// Setup records the session start for limit tracking.
func (m *Monitor) Setup(ctx context.Context) error {
	if !m.hasQuery {
		return errors.New("monitor: no query injected")
	}
	m.started = time.Now()
	m.logger.Info("monitoring starting",
		slog.String("query", m.query.Summary()),
		slog.Float64("base_interval_s", m.cfg.BaseInterval),
	)
	return nil
}

// Run is the poll loop. It returns nil on every orderly exit (stop requested,
// session limit, error cap); only programming errors surface as an error.
func (m *Monitor) Run(ctx context.Context) error {
	// Tie a context to the stop flag so the rate-limiter wait and in-flight
	// HTTP requests unblock promptly on stop.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.stop.done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for !m.stop.tripped() {
		if reason, exceeded := m.limitExceeded(); exceeded {
			m.logger.Warn("session limit reached", slog.String("reason", reason))
			m.emit(Message{
				Event:  EventHealthCritical,
				Health: &HealthReason{Kind: ReasonSessionLimit, Detail: reason},
			})
			return nil
		}

		waited, err := m.limiter.Acquire(ctx)
		if err != nil {
			return nil // stop requested while waiting for a token
		}
		if waited > 0 {
			m.logger.Debug("rate limiter wait", slog.Duration("waited", waited))
		}

		m.emit(Message{
			Event: EventPollStart,
			Poll:  &PollStats{RequestCount: m.RequestCount() + 1},
		})

		hadError, fatal := m.pollOnce(ctx)
		if fatal {
			return nil
		}

		interval := m.scheduler.NextInterval(hadError)
		m.logger.Debug("waiting for next poll", slog.Duration("interval", interval))
		if !m.stop.sleep(interval) {
			return nil
		}
	}
	return nil
}

// Teardown logs the session's polling total.
func (m *Monitor) Teardown(ctx context.Context) error {
	m.logger.Info("monitor finished", slog.Int("total_polls", m.RequestCount()))
	return nil
}

// pollOnce performs a single availability check and emits the poll events.
// It reports whether the poll failed, and whether the failure run has become
// fatal for the session.
func (m *Monitor) pollOnce(ctx context.Context) (hadError, fatal bool) {
	m.state.Store(int32(MonitorPolling))

	start := time.Now()
	result, err := m.checker.Check(ctx, m.query)
	elapsedMS := float64(time.Since(start)) / float64(time.Millisecond)
	count := int(m.requestCount.Add(1))

	if err != nil {
		m.consecutiveErrors++
		m.state.Store(int32(MonitorIdle))
		m.logger.Warn("poll failed",
			slog.Int("poll", count),
			slog.Int("consecutive_errors", m.consecutiveErrors),
			slog.Any("error", err),
		)
		if m.consecutiveErrors >= m.cfg.MaxConsecutiveErrors {
			m.emit(Message{
				Event: EventHealthCritical,
				Health: &HealthReason{
					Kind:   ReasonConsecutiveErrors,
					Detail: fmt.Sprintf("%d consecutive errors, last: %v", m.consecutiveErrors, err),
				},
			})
			return true, true
		}
		return true, false
	}

	m.consecutiveErrors = 0
	m.emit(Message{
		Event:  EventPollResult,
		Result: &result,
		Poll:   &PollStats{ElapsedMS: elapsedMS, RequestCount: count},
	})

	if result.SeatsAvailable {
		m.state.Store(int32(MonitorDetected))
		m.logger.Info("seats detected",
			slog.Int("available_trains", len(result.AvailableTrains())),
			slog.Float64("elapsed_ms", elapsedMS),
		)
		m.emit(Message{Event: EventSeatDetected, Result: &result})
	} else {
		m.state.Store(int32(MonitorIdle))
		m.logger.Info("no seats",
			slog.Int("poll", count),
			slog.Float64("elapsed_ms", elapsedMS),
		)
	}
	return false, false
}

// limitExceeded checks the per-session caps.
func (m *Monitor) limitExceeded() (string, bool) {
	if elapsed := time.Since(m.started); elapsed > config.Seconds(m.cfg.MaxSessionDuration) {
		return fmt.Sprintf("session duration %.0fm exceeded", elapsed.Minutes()), true
	}
	if count := m.RequestCount(); count >= m.cfg.MaxRequestsPerSession {
		return fmt.Sprintf("request cap %d reached", count), true
	}
	return "", false
}
