package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/korailwatch/agent/internal/config"
	"github.com/korailwatch/agent/internal/korail"
)

// Channel delivers one rendered notification over a single medium. Send must
// be safe for concurrent use; the notifier fans out to all channels at once.
type Channel interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Notification is a rendered detection, shared by all channels.
type Notification struct {
	Title   string
	Body    string
	Summary string // one-line form for channels without a body
}

// maxTrainsShown caps the trains listed in the notification body.
const maxTrainsShown = 5

// renderNotification formats a detection result for delivery.
func renderNotification(query korail.TrainQuery, result korail.CheckResult) Notification {
	trains := result.AvailableTrains()
	shown := trains
	if len(shown) > maxTrainsShown {
		shown = shown[:maxTrainsShown]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s → %s %s\n", query.Departure, query.Arrival, query.Date.Format("2006-01-02"))
	for _, t := range shown {
		b.WriteString(t.Display())
		b.WriteByte('\n')
	}
	if extra := len(trains) - len(shown); extra > 0 {
		fmt.Fprintf(&b, "외 %d건\n", extra)
	}

	return Notification{
		Title:   "코레일 빈자리 발견!",
		Body:    strings.TrimRight(b.String(), "\n"),
		Summary: fmt.Sprintf("%s → %s: %d개 열차 예약 가능", query.Departure, query.Arrival, len(trains)),
	}
}

// Notifier consumes detection results and delivers notifications over its
// channels, deduplicating repeats within the cooldown window. The first
// detection of a session is always delivered.
type Notifier struct {
	base

	cooldown time.Duration
	channels []Channel
	query    korail.TrainQuery

	inbox chan korail.CheckResult

	mu               sync.Mutex
	lastNotification time.Time
	sent             int
}

// NewNotifier creates a Notifier. A notifier with no channels still consumes
// detections so the monitor is never blocked by notification config.
func NewNotifier(cfg *config.Config, channels []Channel, bus *Bus, logger *slog.Logger) *Notifier {
	return &Notifier{
		base:     newBase("notifier", bus, logger),
		cooldown: config.Seconds(cfg.NotificationCooldown),
		channels: channels,
		inbox:    make(chan korail.CheckResult, 16),
	}
}

// SetQuery injects the session query used to render notifications. Called by
// the orchestrator before starting the agent.
func (n *Notifier) SetQuery(q korail.TrainQuery) { n.query = q }

// Enqueue hands a detection to the notifier without blocking. When the inbox
// is full the detection is dropped; the next poll will detect again if seats
// remain.
func (n *Notifier) Enqueue(result korail.CheckResult) {
	select {
	case n.inbox <- result:
	default:
		n.logger.Warn("notification inbox full, dropping detection")
	}
}

// Sent returns the number of deliveries that reached at least one channel.
func (n *Notifier) Sent() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent
}

func (n *Notifier) Setup(ctx context.Context) error {
	names := make([]string, len(n.channels))
	for i, c := range n.channels {
		names[i] = c.Name()
	}
	n.logger.Info("notifier ready",
		slog.Any("channels", names),
		slog.Duration("cooldown", n.cooldown),
	)
	return nil
}

// Run drains the inbox until stopped. Detections already queued when the stop
// arrives are still delivered, so a detection on the session's final poll is
// not lost to shutdown.
func (n *Notifier) Run(ctx context.Context) error {
	for {
		select {
		case result := <-n.inbox:
			n.deliver(ctx, result)
		case <-n.stop.done():
			n.flush(ctx)
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// flush delivers everything still queued.
func (n *Notifier) flush(ctx context.Context) {
	for {
		select {
		case result := <-n.inbox:
			n.deliver(ctx, result)
		default:
			return
		}
	}
}

func (n *Notifier) Teardown(ctx context.Context) error {
	n.logger.Info("notifier finished", slog.Int("sent", n.Sent()))
	return nil
}

// deliver renders the result and fans it out to every channel concurrently.
// A channel failure never affects the others; the delivery counts as sent when
// at least one channel succeeds, and only then does the cooldown window reset.
func (n *Notifier) deliver(ctx context.Context, result korail.CheckResult) {
	n.mu.Lock()
	if !n.lastNotification.IsZero() && time.Since(n.lastNotification) < n.cooldown {
		remaining := n.cooldown - time.Since(n.lastNotification)
		n.mu.Unlock()
		n.logger.Info("detection suppressed by cooldown",
			slog.Duration("remaining", remaining),
		)
		return
	}
	n.mu.Unlock()

	if len(n.channels) == 0 {
		n.logger.Warn("seats detected but no notification channels configured")
		return
	}

	notification := renderNotification(n.query, result)

	var wg sync.WaitGroup
	results := make([]error, len(n.channels))
	for i, c := range n.channels {
		wg.Add(1)
		go func(i int, c Channel) {
			defer wg.Done()
			if err := c.Send(ctx, notification); err != nil {
				results[i] = err
				n.logger.Warn("notification channel failed",
					slog.String("channel", c.Name()),
					slog.Any("error", err),
				)
			}
		}(i, c)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		}
	}
	if succeeded == 0 {
		n.logger.Error("all notification channels failed")
		return
	}

	n.mu.Lock()
	n.lastNotification = time.Now()
	n.sent++
	number := n.sent
	n.mu.Unlock()

	n.logger.Info("notification sent",
		slog.Int("number", number),
		slog.Int("channels_ok", succeeded),
		slog.Int("channels_total", len(n.channels)),
	)
	n.emit(Message{
		Event:  EventNotifyComplete,
		Notify: &NotifyStats{Trains: len(result.AvailableTrains()), Number: number},
	})
}
