package schedule

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func TestLimiterFirstTokenImmediate(t *testing.T) {
	l := NewLimiter(30 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	waited, err := l.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if waited > 100*time.Millisecond {
		t.Errorf("first acquire waited %v, want immediate burst token", waited)
	}
}

func TestLimiterBlocksSecondToken(t *testing.T) {
	l := NewLimiter(30 * time.Second) // refill 1/30s: second token is far away

	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Fatal("second Acquire succeeded inside the refill interval")
	}
}

// The bucket must never hand out more than burst + rate*T tokens in a window
// of length T.
func TestLimiterDispatchBound(t *testing.T) {
	const (
		refill = 20 * time.Millisecond
		burst  = 2
		window = 250 * time.Millisecond
	)
	l := NewLimiterRate(rate.Every(refill), burst)

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	granted := 0
	for {
		if _, err := l.Acquire(ctx); err != nil {
			break
		}
		granted++
	}

	bound := burst + int(window/refill) + 1 // +1 for timer slack
	if granted > bound {
		t.Errorf("granted %d tokens in %v, bound is %d", granted, window, bound)
	}
	if granted < burst {
		t.Errorf("granted only %d tokens, expected at least the burst of %d", granted, burst)
	}
}

func TestLimiterFloorsAggressiveIntervals(t *testing.T) {
	// A base interval below the floor must not speed up the bucket: after the
	// burst token, the next one is ~10s away, far beyond this test's patience.
	l := NewLimiter(time.Second)
	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 1200*time.Millisecond)
	defer cancel()
	if _, err := l.Acquire(ctx); err == nil {
		t.Fatal("limiter refilled faster than the 10s politeness floor")
	}
}

func TestLimiterAcquireReportsWait(t *testing.T) {
	l := NewLimiterRate(rate.Every(60*time.Millisecond), 1)
	if _, err := l.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	waited, err := l.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if waited < 30*time.Millisecond {
		t.Errorf("reported wait %v, want roughly the refill interval", waited)
	}
}
