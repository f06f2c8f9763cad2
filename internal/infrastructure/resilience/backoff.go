package resilience

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays: min(initial*2^attempt, max) with symmetric
// jitter applied after capping. Attempt 0 is the first retry.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  float64

	// rand returns a float in [0,1); nil means math/rand/v2.
	rand func() float64
}

func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	// Doubling stops at the cap, so large attempts cannot overflow.
	capped := b.Initial
	for i := 0; i < attempt && capped < b.Max; i++ {
		capped *= 2
	}
	if capped > b.Max {
		capped = b.Max
	}

	rnd := b.rand
	if rnd == nil {
		rnd = rand.Float64
	}
	spread := float64(capped) * b.Jitter
	delay := float64(capped) + (rnd()*2-1)*spread
	if delay < 0 {
		return 0
	}
	return time.Duration(delay)
}

// Delay uses the default policy: 100ms initial, 3200ms cap, ±25% jitter.
func Delay(attempt int) time.Duration {
	def := DefaultConfig()
	return Backoff{
		Initial: def.RetryInitialBackoff,
		Max:     def.RetryMaxBackoff,
		Jitter:  def.RetryJitter,
	}.Delay(attempt)
}
