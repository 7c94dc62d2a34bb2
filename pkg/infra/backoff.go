package infra

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// jitterSpread is the +/- fraction applied to every delay
const jitterSpread = 0.2

// Backoff hands out exponentially growing, jittered delays between
// minDelay and maxDelay. It is safe for concurrent use.
type Backoff struct {
	minDelay   time.Duration
	maxDelay   time.Duration
	multiplier float64

	mu       sync.Mutex
	attempts int
}

func NewBackoff(minDelay, maxDelay time.Duration, mult float64) *Backoff {
	if maxDelay < minDelay {
		maxDelay = minDelay
	}
	if mult <= 1 {
		mult = 2.0
	}
	return &Backoff{minDelay: minDelay, maxDelay: maxDelay, multiplier: mult}
}

// Next returns the delay for the next attempt and counts it
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	step := b.attempts
	b.attempts++
	b.mu.Unlock()

	base := b.base(step)
	jitter := time.Duration((rand.Float64()*2 - 1) * jitterSpread * float64(base))
	return max(base+jitter, b.minDelay)
}

// base is minDelay*multiplier^step, capped at maxDelay
func (b *Backoff) base(step int) time.Duration {
	d := float64(b.minDelay) * math.Pow(b.multiplier, float64(step))
	if d >= float64(b.maxDelay) || math.IsInf(d, 1) {
		return b.maxDelay
	}
	return time.Duration(d)
}

// Wait sleeps for the next delay. It returns ctx.Err() when ctx ends first.
func (b *Backoff) Wait(ctx context.Context) (time.Duration, error) {
	wait := b.Next()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return wait, ctx.Err()
	case <-timer.C:
		return wait, nil
	}
}

func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
}

func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}
