// Package agent contains the monitoring control plane: the monitor, notifier,
// and health agents, the orchestrator that owns them, and the event bus they
// communicate over. Every cross-agent interaction is either a message on the
// bus (upward, agent → orchestrator) or a direct method call made by the
// orchestrator (downward), so no agent ever holds a reference back to the
// orchestrator.
package agent

import (
	"log/slog"
	"time"

	"github.com/korailwatch/agent/internal/korail"
)

// Event identifies a bus message kind. The vocabulary is closed; the
// orchestrator's dispatch is exhaustive over it.
type Event string

const (
	EventQueryReady     Event = "query.ready"
	EventPollStart      Event = "poll.start"
	EventPollResult     Event = "poll.result"
	EventSeatDetected   Event = "seat.detected"
	EventNotifyComplete Event = "notify.complete"
	EventHealthWarning  Event = "health.warning"
	EventHealthCritical Event = "health.critical"
	EventSessionStop    Event = "session.stop"
)

// PollStats accompanies poll.start and poll.result.
type PollStats struct {
	ElapsedMS    float64
	RequestCount int
}

// HealthReason accompanies health.warning and health.critical.
type HealthReason struct {
	Kind   string
	Detail string
}

// Health reason kinds emitted by the monitor and health agents.
const (
	ReasonSessionLimit      = "session_limit_reached"
	ReasonConsecutiveErrors = "consecutive_errors"
	ReasonSessionTimeout    = "session_timeout"
	ReasonMemoryLimit       = "memory_limit"
	ReasonSlowResponse      = "slow_response"
	ReasonHighMemory        = "high_memory"
)

// NotifyStats accompanies notify.complete.
type NotifyStats struct {
	Trains int
	Number int
}

// Message is one event on the bus. Exactly one payload pointer is non-nil for
// events that carry one; pure signals carry none.
type Message struct {
	Event     Event
	Source    string
	Target    string
	Timestamp time.Time

	Result *korail.CheckResult
	Query  *korail.TrainQuery
	Poll   *PollStats
	Health *HealthReason
	Notify *NotifyStats
}

// defaultBusCapacity is deep enough that the bus only fills if the
// orchestrator's dispatch loop has stalled for many poll cycles.
const defaultBusCapacity = 1024

// Bus is the session event queue: many producing agents, one consuming
// orchestrator. Publish never blocks; when the buffer is full the message is
// dropped with a warning, because a producer stuck on a dead consumer would
// wedge shutdown.
type Bus struct {
	ch     chan Message
	logger *slog.Logger
}

// NewBus creates a Bus. A non-positive capacity uses the default.
func NewBus(capacity int, logger *slog.Logger) *Bus {
	if capacity <= 0 {
		capacity = defaultBusCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		ch:     make(chan Message, capacity),
		logger: logger,
	}
}

// Publish enqueues msg, stamping the time if unset.
func (b *Bus) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	select {
	case b.ch <- msg:
	default:
		b.logger.Warn("event bus full, dropping message",
			slog.String("event", string(msg.Event)),
			slog.String("source", msg.Source),
		)
	}
}

// C exposes the receive side; only the orchestrator reads it.
func (b *Bus) C() <-chan Message { return b.ch }

// Len reports the number of queued messages.
func (b *Bus) Len() int { return len(b.ch) }
