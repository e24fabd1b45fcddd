package schedule

import (
	"math"
	"testing"
	"time"
)

func TestNextIntervalBacksOffOnErrors(t *testing.T) {
	base := 30 * time.Second
	max := 300 * time.Second
	multiplier := 1.5
	s := NewScheduler(base, max, multiplier, 0)

	// After k consecutive errors the interval is min(base*mult^k, max).
	for k := 1; k <= 10; k++ {
		s.NextInterval(true)
		bound := time.Duration(float64(base) * math.Pow(multiplier, float64(k)))
		if bound > max {
			bound = max
		}
		got := s.CurrentInterval()
		if got > bound {
			t.Fatalf("after %d errors interval = %v, exceeds bound %v", k, got, bound)
		}
		if got > max {
			t.Fatalf("after %d errors interval = %v, exceeds max %v", k, got, max)
		}
	}
	if s.CurrentInterval() != max {
		t.Errorf("interval = %v after 10 errors, want saturation at %v", s.CurrentInterval(), max)
	}
}

func TestNextIntervalRecoversMonotonically(t *testing.T) {
	s := NewScheduler(30*time.Second, 300*time.Second, 1.5, 0)

	// Push to the ceiling, then recover.
	for i := 0; i < 10; i++ {
		s.NextInterval(true)
	}

	prev := s.CurrentInterval()
	for i := 0; i < 50; i++ {
		s.NextInterval(false)
		cur := s.CurrentInterval()
		if cur > prev {
			t.Fatalf("recovery step %d increased interval: %v → %v", i, prev, cur)
		}
		if cur < 30*time.Second {
			t.Fatalf("recovery step %d undershot base: %v", i, cur)
		}
		prev = cur
	}
	if prev != 30*time.Second {
		t.Errorf("interval = %v after long recovery, want base", prev)
	}
}

func TestRecoveryIsSlowerThanBackoff(t *testing.T) {
	s := NewScheduler(30*time.Second, 300*time.Second, 1.5, 0)
	s.NextInterval(true) // 45s
	up := s.CurrentInterval()
	s.NextInterval(false)
	down := s.CurrentInterval()

	growth := float64(up) / float64(30*time.Second)
	shrink := float64(up) / float64(down)
	if shrink >= growth {
		t.Errorf("recovery factor %.2f not slower than backoff factor %.2f", shrink, growth)
	}
}

func TestNextIntervalJitterBounds(t *testing.T) {
	base := 30 * time.Second
	jitter := 5 * time.Second
	s := NewScheduler(base, 300*time.Second, 1.5, jitter)

	for i := 0; i < 200; i++ {
		got := s.NextInterval(false)
		cur := s.CurrentInterval()
		if got < cur || got > cur+jitter {
			t.Fatalf("interval %v outside [%v, %v]", got, cur, cur+jitter)
		}
	}
}

func TestSchedulerReset(t *testing.T) {
	s := NewScheduler(30*time.Second, 300*time.Second, 1.5, 0)
	for i := 0; i < 5; i++ {
		s.NextInterval(true)
	}
	if s.CurrentInterval() == 30*time.Second {
		t.Fatal("setup failed: interval did not grow")
	}
	s.Reset()
	if s.CurrentInterval() != 30*time.Second {
		t.Errorf("Reset left interval at %v", s.CurrentInterval())
	}
}

func TestNewSchedulerDefaults(t *testing.T) {
	s := NewScheduler(0, 0, 0, -1)
	if s.CurrentInterval() != DefaultBaseInterval {
		t.Errorf("default base = %v, want %v", s.CurrentInterval(), DefaultBaseInterval)
	}
	s.NextInterval(true)
	if s.CurrentInterval() != time.Duration(float64(DefaultBaseInterval)*DefaultBackoffMultiplier) {
		t.Errorf("default multiplier not applied: %v", s.CurrentInterval())
	}
}
