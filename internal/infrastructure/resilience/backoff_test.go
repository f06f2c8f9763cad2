package resilience

import (
	"testing"
	"time"
)

func TestDelayStaysWithinJitterBounds(t *testing.T) {
	for attempt := 0; attempt <= 8; attempt++ {
		base := 100 * time.Millisecond << attempt
		if base > 3200*time.Millisecond {
			base = 3200 * time.Millisecond
		}
		low := time.Duration(float64(base) * 0.75)
		high := time.Duration(float64(base) * 1.25)

		for i := 0; i < 500; i++ {
			got := Delay(attempt)
			if got < low || got > high {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, got, low, high)
			}
		}
	}
}

func TestDelayIsJittered(t *testing.T) {
	seen := make(map[time.Duration]struct{})
	for i := 0; i < 50; i++ {
		seen[Delay(2)] = struct{}{}
	}
	if len(seen) < 2 {
		t.Fatalf("expected jittered delays, got a single value")
	}
}

func TestBackoffDeterministicEdges(t *testing.T) {
	b := Backoff{Initial: 100 * time.Millisecond, Max: 3200 * time.Millisecond, Jitter: 0.25}

	b.rand = func() float64 { return 0 }
	if got := b.Delay(0); got != 75*time.Millisecond {
		t.Fatalf("expected 75ms at lower bound, got %v", got)
	}
	b.rand = func() float64 { return 0.5 }
	if got := b.Delay(3); got != 800*time.Millisecond {
		t.Fatalf("expected 800ms at midpoint, got %v", got)
	}
	if got := b.Delay(1 << 20); got != 3200*time.Millisecond {
		t.Fatalf("expected cap for huge attempt, got %v", got)
	}
	if got := (Backoff{}).Delay(4); got != 0 {
		t.Fatalf("expected zero delay without initial backoff, got %v", got)
	}
}
