package schedule

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// minRequestSpacing is the politeness floor: no matter how aggressive the
// scheduler gets, the bucket never refills faster than one token per this
// interval.
const minRequestSpacing = 10 * time.Second

// Limiter gates outbound availability checks with a token bucket. It wraps
// golang.org/x/time/rate with the session's fixed policy: burst 1, refill
// 1/max(baseInterval, 10s).
type Limiter struct {
	bucket *rate.Limiter
}

// NewLimiter creates the session limiter for the given base poll interval.
func NewLimiter(baseInterval time.Duration) *Limiter {
	spacing := baseInterval
	if spacing < minRequestSpacing {
		spacing = minRequestSpacing
	}
	return &Limiter{bucket: rate.NewLimiter(rate.Every(spacing), 1)}
}

// NewLimiterRate creates a Limiter with an explicit refill rate and burst,
// used by tests and tooling that need a different policy.
func NewLimiterRate(r rate.Limit, burst int) *Limiter {
	return &Limiter{bucket: rate.NewLimiter(r, burst)}
}

// Acquire blocks until a token is available or ctx is done, and reports how
// long the caller waited.
func (l *Limiter) Acquire(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return time.Since(start), err
	}
	return time.Since(start), nil
}
