package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Lifecycle is the monotonic agent lifecycle. Agents move strictly forward;
// Recovering is entered only from Active when Run fails, and still drains to
// Off through Teardown.
type Lifecycle int32

const (
	LifecycleInit Lifecycle = iota
	LifecycleReady
	LifecycleActive
	LifecycleDraining
	LifecycleRecovering
	LifecycleOff
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleInit:
		return "INIT"
	case LifecycleReady:
		return "READY"
	case LifecycleActive:
		return "ACTIVE"
	case LifecycleDraining:
		return "DRAINING"
	case LifecycleRecovering:
		return "RECOVERING"
	case LifecycleOff:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// Runner is the common agent contract: Setup, Run, Teardown driven in order by
// the orchestrator, and an out-of-band stop request that unblocks any timed
// wait inside Run.
type Runner interface {
	ID() string
	Setup(ctx context.Context) error
	Run(ctx context.Context) error
	Teardown(ctx context.Context) error
	RequestStop()
	Lifecycle() Lifecycle

	setLifecycle(Lifecycle)
}

// stopFlag is the shared cancellation primitive: a latch that can be tripped
// from any goroutine and selected on. Every sleep in an agent goes through
// sleep so cancellation is never slower than the wait itself.
type stopFlag struct {
	once sync.Once
	ch   chan struct{}
}

func newStopFlag() *stopFlag {
	return &stopFlag{ch: make(chan struct{})}
}

// trip latches the flag. Idempotent.
func (s *stopFlag) trip() {
	s.once.Do(func() { close(s.ch) })
}

func (s *stopFlag) tripped() bool {
	select {
	case <-s.ch:
		return true
	default:
		return false
	}
}

func (s *stopFlag) done() <-chan struct{} { return s.ch }

// sleep waits d or until the flag trips, reporting false when stopped.
func (s *stopFlag) sleep(d time.Duration) bool {
	if d <= 0 {
		return !s.tripped()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-s.ch:
		return false
	}
}

// base carries the state every agent shares; concrete agents embed it.
type base struct {
	id        string
	bus       *Bus
	logger    *slog.Logger
	stop      *stopFlag
	lifecycle atomic.Int32
}

func newBase(id string, bus *Bus, logger *slog.Logger) base {
	if logger == nil {
		logger = slog.Default()
	}
	return base{
		id:     id,
		bus:    bus,
		logger: logger.With(slog.String("agent", id)),
		stop:   newStopFlag(),
	}
}

func (b *base) ID() string { return b.id }

// RequestStop trips the agent's stop flag. Safe from any goroutine, idempotent.
func (b *base) RequestStop() { b.stop.trip() }

func (b *base) Lifecycle() Lifecycle { return Lifecycle(b.lifecycle.Load()) }

func (b *base) setLifecycle(l Lifecycle) {
	prev := Lifecycle(b.lifecycle.Swap(int32(l)))
	if prev != l {
		b.logger.Debug("lifecycle transition",
			slog.String("from", prev.String()),
			slog.String("to", l.String()),
		)
	}
}

// emit publishes an event from this agent to the orchestrator.
func (b *base) emit(msg Message) {
	if b.bus == nil {
		return
	}
	msg.Source = b.id
	if msg.Target == "" {
		msg.Target = "orchestrator"
	}
	b.bus.Publish(msg)
}

// runAgent drives one agent through its full lifecycle. A Run error or panic
// moves the agent to RECOVERING before draining; Teardown always runs.
func runAgent(ctx context.Context, r Runner) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.setLifecycle(LifecycleRecovering)
			err = fmt.Errorf("agent %s: panic: %v", r.ID(), p)
		}
		r.setLifecycle(LifecycleDraining)
		if terr := r.Teardown(ctx); terr != nil && err == nil {
			err = fmt.Errorf("agent %s: teardown: %w", r.ID(), terr)
		}
		r.setLifecycle(LifecycleOff)
	}()

	if err := r.Setup(ctx); err != nil {
		return fmt.Errorf("agent %s: setup: %w", r.ID(), err)
	}
	r.setLifecycle(LifecycleReady)
	r.setLifecycle(LifecycleActive)

	if err := r.Run(ctx); err != nil {
		r.setLifecycle(LifecycleRecovering)
		return fmt.Errorf("agent %s: run: %w", r.ID(), err)
	}
	return nil
}
