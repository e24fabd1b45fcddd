package agent

import (
	"fmt"
	"runtime"
	"sync"
	"time"
)

// responseTimeWindow is how many recent response times feed the mean.
const responseTimeWindow = 100

// Metrics accumulates the session counters. It is written by the health agent
// (driven from the orchestrator's dispatch) and read concurrently by the
// health tick and the status API, so all access is mutex-guarded.
type Metrics struct {
	mu sync.Mutex

	totalRequests      int
	successfulChecks   int
	failedChecks       int
	seatsDetected      int
	notificationsSent  int
	responseTimes      []float64 // ring of the most recent responseTimeWindow entries
	responseTimesStart int
	peakMemoryMB       float64
	start              time.Time
}

// NewMetrics creates a Metrics anchored at now.
func NewMetrics() *Metrics {
	return &Metrics{start: time.Now()}
}

// RecordRequest counts one completed poll and its response time.
func (m *Metrics) RecordRequest(success bool, elapsedMS float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalRequests++
	if success {
		m.successfulChecks++
	} else {
		m.failedChecks++
	}
	if len(m.responseTimes) < responseTimeWindow {
		m.responseTimes = append(m.responseTimes, elapsedMS)
	} else {
		m.responseTimes[m.responseTimesStart] = elapsedMS
		m.responseTimesStart = (m.responseTimesStart + 1) % responseTimeWindow
	}
}

// RecordDetection counts one seat detection.
func (m *Metrics) RecordDetection() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seatsDetected++
}

// RecordNotification counts one successful notification dispatch.
func (m *Metrics) RecordNotification() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notificationsSent++
}

// FinalizeRequests reconciles the request total with the monitor's own count,
// attributing the difference to failed polls (failures never produce a
// poll.result event, so they are invisible to RecordRequest).
func (m *Metrics) FinalizeRequests(total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if total > m.totalRequests {
		m.failedChecks += total - m.totalRequests
		m.totalRequests = total
	}
}

// UpdateMemory samples the heap and keeps the high-water mark.
func (m *Metrics) UpdateMemory() float64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	mb := float64(ms.HeapAlloc) / (1024 * 1024)

	m.mu.Lock()
	defer m.mu.Unlock()
	if mb > m.peakMemoryMB {
		m.peakMemoryMB = mb
	}
	return mb
}

// PeakMemoryMB returns the recorded high-water mark.
func (m *Metrics) PeakMemoryMB() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peakMemoryMB
}

// MeanResponseMS returns the mean of the recent response-time window.
func (m *Metrics) MeanResponseMS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meanLocked()
}

func (m *Metrics) meanLocked() float64 {
	if len(m.responseTimes) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range m.responseTimes {
		sum += v
	}
	return sum / float64(len(m.responseTimes))
}

// Snapshot is a point-in-time copy of the metrics, JSON-ready for the status
// API.
type Snapshot struct {
	SessionDurationS  float64 `json:"session_duration_s"`
	TotalRequests     int     `json:"total_requests"`
	SuccessfulChecks  int     `json:"successful_checks"`
	FailedChecks      int     `json:"failed_checks"`
	SeatsDetected     int     `json:"seats_detected"`
	NotificationsSent int     `json:"notifications_sent"`
	MeanResponseMS    float64 `json:"mean_response_ms"`
	PeakMemoryMB      float64 `json:"peak_memory_mb"`
}

// Snapshot returns a consistent copy of all counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		SessionDurationS:  time.Since(m.start).Seconds(),
		TotalRequests:     m.totalRequests,
		SuccessfulChecks:  m.successfulChecks,
		FailedChecks:      m.failedChecks,
		SeatsDetected:     m.seatsDetected,
		NotificationsSent: m.notificationsSent,
		MeanResponseMS:    m.meanLocked(),
		PeakMemoryMB:      m.peakMemoryMB,
	}
}

// Summary renders the end-of-session report printed when the orchestrator
// returns.
func (m *Metrics) Summary() string {
	s := m.Snapshot()
	successRate := 0.0
	if s.TotalRequests > 0 {
		successRate = float64(s.SuccessfulChecks) / float64(s.TotalRequests) * 100
	}
	return fmt.Sprintf(
		"session summary:\n"+
			"  elapsed:       %.1f min\n"+
			"  requests:      %d (%.1f%% ok)\n"+
			"  detections:    %d\n"+
			"  notifications: %d\n"+
			"  mean response: %.0f ms\n"+
			"  peak memory:   %.1f MB",
		s.SessionDurationS/60, s.TotalRequests, successRate,
		s.SeatsDetected, s.NotificationsSent, s.MeanResponseMS, s.PeakMemoryMB,
	)
}
