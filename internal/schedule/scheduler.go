// Package schedule contains the poll cadence control for the monitoring
// session: an adaptive backoff scheduler and a token-bucket rate limiter that
// enforces a hard politeness floor on outbound requests.
package schedule

import (
	"math/rand/v2"
	"time"
)

// Default scheduler tuning. Backoff is deliberately faster than recovery so a
// flapping upstream settles at a slow cadence instead of oscillating.
const (
	DefaultBaseInterval      = 30 * time.Second
	DefaultMaxInterval       = 300 * time.Second
	DefaultBackoffMultiplier = 1.5
	DefaultJitterRange       = 5 * time.Second

	// recoveryDivisor controls how quickly the interval returns to base
	// after errors stop.
	recoveryDivisor = 1.2
)

// Scheduler computes the wait before the next poll. Errors multiply the
// interval (capped), successes divide it (floored at base), and every result
// carries a uniform jitter so the cadence never locks onto server-side
// buckets. Not safe for concurrent use; the monitor owns it.
type Scheduler struct {
	base       time.Duration
	max        time.Duration
	multiplier float64
	jitter     time.Duration
	current    time.Duration
}

// NewScheduler creates a Scheduler. Non-positive arguments fall back to the
// defaults above.
func NewScheduler(base, max time.Duration, multiplier float64, jitter time.Duration) *Scheduler {
	if base <= 0 {
		base = DefaultBaseInterval
	}
	if max <= 0 {
		max = DefaultMaxInterval
	}
	if max < base {
		max = base
	}
	if multiplier <= 1 {
		multiplier = DefaultBackoffMultiplier
	}
	if jitter < 0 {
		jitter = DefaultJitterRange
	}
	return &Scheduler{
		base:       base,
		max:        max,
		multiplier: multiplier,
		jitter:     jitter,
		current:    base,
	}
}

// NextInterval advances the adaptive interval and returns the wait before the
// next poll, jitter included.
func (s *Scheduler) NextInterval(hadError bool) time.Duration {
	if hadError {
		next := time.Duration(float64(s.current) * s.multiplier)
		if next > s.max {
			next = s.max
		}
		s.current = next
	} else {
		next := time.Duration(float64(s.current) / recoveryDivisor)
		if next < s.base {
			next = s.base
		}
		s.current = next
	}

	var jitter time.Duration
	if s.jitter > 0 {
		jitter = time.Duration(rand.Float64() * float64(s.jitter))
	}
	return s.current + jitter
}

// CurrentInterval returns the interval without jitter, as last computed.
func (s *Scheduler) CurrentInterval() time.Duration { return s.current }

// Reset returns the interval to the base value.
func (s *Scheduler) Reset() { s.current = s.base }
