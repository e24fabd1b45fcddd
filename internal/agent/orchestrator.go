package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/korailwatch/agent/internal/config"
	"github.com/korailwatch/agent/internal/korail"
)

// State is the orchestrator's own coarse state, distinct from the per-agent
// lifecycle.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopping:
		return "STOPPING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// shutdownGrace bounds how long Run waits for agents to drain after a stop.
const shutdownGrace = 10 * time.Second

// PollRecord is one poll outcome handed to the journal.
type PollRecord struct {
	Timestamp      time.Time
	Success        bool
	ElapsedMS      float64
	TrainCount     int
	AvailableCount int
}

// NotificationRecord is one delivered notification handed to the journal.
type NotificationRecord struct {
	Timestamp time.Time
	Trains    int
	Number    int
}

// Journal persists the session history. Implemented by the SQLite journal;
// nil means no persistence.
type Journal interface {
	RecordPoll(PollRecord) error
	RecordNotification(NotificationRecord) error
	Close() error
}

// Option configures an Orchestrator at construction.
type Option func(*Orchestrator)

// WithChecker substitutes the availability checker. Without it the
// orchestrator builds a korail.Client from the configuration.
func WithChecker(c Checker) Option {
	return func(o *Orchestrator) { o.checker = c }
}

// WithChannels sets the notification channels.
func WithChannels(channels []Channel) Option {
	return func(o *Orchestrator) { o.channels = channels }
}

// WithJournal sets the session journal.
func WithJournal(j Journal) Option {
	return func(o *Orchestrator) { o.journal = j }
}

// Orchestrator owns the session: it builds the three agents, runs them, and
// consumes the event bus until the session ends. Run blocks for the whole
// session; Stop may be called from any goroutine.
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger
	bus    *Bus

	checker  Checker
	channels []Channel
	journal  Journal

	metrics  *Metrics
	monitor  *Monitor
	notifier *Notifier
	health   *Health

	ownsClient bool
	state      atomic.Int32
}

// New creates an Orchestrator in StateIdle. The zero option set builds a real
// Korail client and no notification channels.
func New(cfg *config.Config, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "orchestrator")),
		bus:     NewBus(0, logger),
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.checker == nil {
		o.checker = korail.NewClient(korail.ClientConfig{
			RequestTimeout: config.Seconds(cfg.RequestTimeout),
			ConnectTimeout: config.Seconds(cfg.ConnectTimeout),
			MaxConnections: cfg.MaxConnections,
		}, logger)
		o.ownsClient = true
	}

	o.monitor = NewMonitor(cfg, o.checker, o.bus, logger)
	o.notifier = NewNotifier(cfg, o.channels, o.bus, logger)
	o.health = NewHealth(cfg, o.metrics, o.bus, logger)
	return o
}

// State returns the orchestrator's current state.
func (o *Orchestrator) State() State { return State(o.state.Load()) }

// Metrics exposes the session counters, live during the run and final after
// Run returns.
func (o *Orchestrator) Metrics() *Metrics { return o.metrics }

// Monitor exposes the polling agent for the status API.
func (o *Orchestrator) Monitor() *Monitor { return o.monitor }

// Stop requests an orderly session end. Idempotent and safe from any
// goroutine, including signal handlers.
func (o *Orchestrator) Stop() {
	if !o.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
		return
	}
	o.logger.Info("stop requested")
	o.bus.Publish(Message{Event: EventSessionStop, Source: "orchestrator"})
}

// Run executes one complete monitoring session for query and blocks until the
// session ends: a stop request, a session limit, or a health critical. The
// returned error covers startup failures and agent faults, not ordinary
// session endings.
func (o *Orchestrator) Run(ctx context.Context, query korail.TrainQuery) error {
	if !o.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		return fmt.Errorf("orchestrator: not idle (state %s)", o.State())
	}
	defer o.state.Store(int32(StateStopped))

	if err := query.Validate(); err != nil {
		return err
	}
	o.bus.Publish(Message{Event: EventQueryReady, Source: "orchestrator", Query: &query})
	o.monitor.SetQuery(query)
	o.notifier.SetQuery(query)

	o.logger.Info("session starting", slog.String("query", query.Summary()))

	var wg sync.WaitGroup
	agentErrs := make(chan error, 3)
	monitorExited := make(chan struct{})

	start := func(r Runner, after func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if after != nil {
				defer after()
			}
			if err := runAgent(ctx, r); err != nil {
				agentErrs <- err
			}
		}()
	}
	start(o.monitor, func() { close(monitorExited) })
	start(o.notifier, nil)
	start(o.health, nil)

	var runErr error

loop:
	for {
		select {
		case <-monitorExited:
			// The monitor never exits while the session should continue, so
			// its return always means the session is over.
			break loop
		case err := <-agentErrs:
			runErr = err
			break loop
		case msg := <-o.bus.C():
			if o.dispatch(msg) {
				break loop
			}
		case <-ctx.Done():
			break loop
		case <-time.After(time.Second):
			// Stop publishes session.stop, but the bus drops messages when
			// full; this tick catches a stop request that never arrived.
			if o.State() == StateStopping {
				break loop
			}
		}
	}

	o.shutdown(&wg)

	// Drain remaining agent faults so a teardown error is not lost.
	select {
	case err := <-agentErrs:
		if runErr == nil {
			runErr = err
		}
	default:
	}
	return runErr
}

// dispatch handles one bus message, reporting whether the session should end.
func (o *Orchestrator) dispatch(msg Message) bool {
	switch msg.Event {
	case EventPollStart:
		if msg.Poll != nil {
			o.logger.Debug("poll starting", slog.Int("request", msg.Poll.RequestCount))
		}

	case EventPollResult:
		if msg.Poll != nil {
			o.health.RecordRequest(true, msg.Poll.ElapsedMS)
		}
		if o.journal != nil && msg.Result != nil {
			rec := PollRecord{
				Timestamp:      msg.Timestamp,
				Success:        true,
				TrainCount:     len(msg.Result.Trains),
				AvailableCount: len(msg.Result.AvailableTrains()),
			}
			if msg.Poll != nil {
				rec.ElapsedMS = msg.Poll.ElapsedMS
			}
			if err := o.journal.RecordPoll(rec); err != nil {
				o.logger.Warn("journal write failed", slog.Any("error", err))
			}
		}

	case EventSeatDetected:
		o.health.RecordDetection()
		if msg.Result != nil {
			o.notifier.Enqueue(*msg.Result)
		}

	case EventNotifyComplete:
		o.health.RecordNotification()
		if msg.Notify != nil {
			o.logger.Info("notification delivered",
				slog.Int("number", msg.Notify.Number),
				slog.Int("trains", msg.Notify.Trains),
			)
			if o.journal != nil {
				err := o.journal.RecordNotification(NotificationRecord{
					Timestamp: msg.Timestamp,
					Trains:    msg.Notify.Trains,
					Number:    msg.Notify.Number,
				})
				if err != nil {
					o.logger.Warn("journal write failed", slog.Any("error", err))
				}
			}
		}

	case EventHealthWarning:
		if msg.Health != nil {
			o.logger.Warn("health warning reported",
				slog.String("kind", msg.Health.Kind),
				slog.String("detail", msg.Health.Detail),
				slog.String("source", msg.Source),
			)
		}

	case EventHealthCritical:
		if msg.Health != nil {
			o.logger.Error("session ending on critical condition",
				slog.String("kind", msg.Health.Kind),
				slog.String("detail", msg.Health.Detail),
				slog.String("source", msg.Source),
			)
		}
		return true

	case EventSessionStop:
		return true

	case EventQueryReady:
		// Emitted by this orchestrator at startup; nothing to do on receipt.

	default:
		o.logger.Warn("unknown event", slog.String("event", string(msg.Event)))
	}
	return false
}

// shutdown stops every agent, waits out the drain with a bound, reconciles
// the metrics, and releases owned resources.
func (o *Orchestrator) shutdown(wg *sync.WaitGroup) {
	o.state.Store(int32(StateStopping))
	o.logger.Info("session stopping")

	// Stop the monitor first, then dispatch everything already queued so a
	// detection on the final poll still reaches the notifier before it is
	// asked to stop. The notifier flushes its own inbox on stop.
	o.monitor.RequestStop()
	o.drainBus()
	o.notifier.RequestStop()
	o.health.RequestStop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		o.logger.Error("agents did not drain in time, abandoning",
			slog.Duration("grace", shutdownGrace),
		)
	}

	// Events emitted during the drain (delivery confirmations in particular)
	// still need recording.
	o.drainBus()

	// Failed polls never produce poll.result, so reconcile the totals from
	// the monitor's own counter.
	o.metrics.FinalizeRequests(o.monitor.RequestCount())

	if o.ownsClient {
		if c, ok := o.checker.(*korail.Client); ok {
			c.Close()
		}
	}
	if o.journal != nil {
		if err := o.journal.Close(); err != nil {
			o.logger.Warn("journal close failed", slog.Any("error", err))
		}
	}

	o.logger.Info("session stopped", slog.Int("dropped_events", o.bus.Len()))
}

// drainBus dispatches every queued message without blocking. Session-ending
// events are ignored here; the session is already over.
func (o *Orchestrator) drainBus() {
	for {
		select {
		case msg := <-o.bus.C():
			o.dispatch(msg)
		default:
			return
		}
	}
}
