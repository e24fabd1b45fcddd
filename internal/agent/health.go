package agent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/korailwatch/agent/internal/config"
)

// Health thresholds. Warnings are advisory; the memory limit is the one
// condition the health agent escalates to a session-ending critical.
const (
	slowResponseMS   = 10000.0
	memoryWarnMB     = 45.0
	memoryCriticalMB = 50.0
	healthTickPeriod = 60 * time.Second
)

// Health is the supervision agent. The orchestrator feeds it every poll
// outcome through Record*; its own loop ticks once a minute to check the
// session clock and the heap, emitting health.warning for advisory conditions
// and health.critical when the session must end.
type Health struct {
	base

	cfg     *config.Config
	metrics *Metrics

	started   time.Time
	gcCounter int
}

// NewHealth creates a Health agent writing into the shared metrics.
func NewHealth(cfg *config.Config, metrics *Metrics, bus *Bus, logger *slog.Logger) *Health {
	return &Health{
		base:    newBase("health", bus, logger),
		cfg:     cfg,
		metrics: metrics,
	}
}

// Metrics exposes the shared counters for the status API.
func (h *Health) Metrics() *Metrics { return h.metrics }

// RecordRequest ingests one completed poll. Called from the orchestrator's
// dispatch goroutine, never concurrently with itself. Every gc_interval
// successful polls it nudges the collector and re-samples the heap; sustained
// sessions otherwise creep upward on response buffers.
func (h *Health) RecordRequest(success bool, elapsedMS float64) {
	h.metrics.RecordRequest(success, elapsedMS)

	if success {
		h.gcCounter++
		if h.gcCounter >= h.cfg.GCInterval {
			h.gcCounter = 0
			runtime.GC()
			h.logger.Debug("forced garbage collection")
		}
	}

	if elapsedMS > slowResponseMS {
		h.warn(ReasonSlowResponse, fmt.Sprintf("response took %.0fms", elapsedMS))
	}

	if mb := h.metrics.UpdateMemory(); mb > memoryWarnMB {
		h.warn(ReasonHighMemory, fmt.Sprintf("heap at %.1fMB", mb))
	}
}

// RecordDetection ingests one seat detection.
func (h *Health) RecordDetection() { h.metrics.RecordDetection() }

// RecordNotification ingests one delivered notification.
func (h *Health) RecordNotification() { h.metrics.RecordNotification() }

func (h *Health) Setup(ctx context.Context) error {
	h.started = time.Now()
	return nil
}

// Run ticks once a minute until stopped, logging session progress and
// escalating the session clock and heap limits.
func (h *Health) Run(ctx context.Context) error {
	ticker := time.NewTicker(healthTickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.tick()
		case <-h.stop.done():
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// tick is one supervision pass.
func (h *Health) tick() {
	elapsed := time.Since(h.started)
	snap := h.metrics.Snapshot()

	h.logger.Info("session progress",
		slog.Float64("elapsed_min", elapsed.Minutes()),
		slog.Int("requests", snap.TotalRequests),
		slog.Int("detections", snap.SeatsDetected),
		slog.Float64("mean_response_ms", snap.MeanResponseMS),
		slog.Float64("peak_memory_mb", snap.PeakMemoryMB),
	)

	if elapsed > config.Seconds(h.cfg.MaxSessionDuration) {
		h.critical(ReasonSessionTimeout,
			fmt.Sprintf("session running for %.0f minutes", elapsed.Minutes()))
		return
	}

	if mb := h.metrics.UpdateMemory(); mb > memoryCriticalMB {
		h.critical(ReasonMemoryLimit, fmt.Sprintf("heap at %.1fMB", mb))
	}
}

// Teardown runs a final collection and logs the closing snapshot.
func (h *Health) Teardown(ctx context.Context) error {
	runtime.GC()
	snap := h.metrics.Snapshot()
	h.logger.Info("health agent finished",
		slog.Int("requests", snap.TotalRequests),
		slog.Int("failed", snap.FailedChecks),
		slog.Float64("peak_memory_mb", snap.PeakMemoryMB),
	)
	return nil
}

func (h *Health) warn(kind, detail string) {
	h.logger.Warn("health warning", slog.String("kind", kind), slog.String("detail", detail))
	h.emit(Message{Event: EventHealthWarning, Health: &HealthReason{Kind: kind, Detail: detail}})
}

func (h *Health) critical(kind, detail string) {
	h.logger.Error("health critical", slog.String("kind", kind), slog.String("detail", detail))
	h.emit(Message{Event: EventHealthCritical, Health: &HealthReason{Kind: kind, Detail: detail}})
}
