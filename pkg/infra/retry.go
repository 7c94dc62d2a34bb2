package infra

import (
	"context"
	"time"
)

// RetryPolicy bounds a retry loop. Delays come from a fresh jittered Backoff per call.
type RetryPolicy struct {
	Attempts   int
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Multiplier float64
}

// DefaultRetryPolicy is used when a zero policy is supplied
var DefaultRetryPolicy = RetryPolicy{
	Attempts:   4,
	MinDelay:   500 * time.Millisecond,
	MaxDelay:   30 * time.Second,
	Multiplier: 2.0,
}

// Retry calls fn until it succeeds, returns an error for which retryable is
// false, the attempts run out, or ctx ends. onRetry, if set, is called before
// each wait. The last error from fn is returned.
func Retry(ctx context.Context, p RetryPolicy, retryable func(error) bool, onRetry func(attempt int, wait time.Duration, err error), fn func(ctx context.Context) error) error {
	if p.Attempts <= 0 {
		p = DefaultRetryPolicy
	}
	backoff := NewBackoff(p.MinDelay, p.MaxDelay, p.Multiplier)

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !retryable(err) || attempt == p.Attempts {
			return err
		}

		wait := backoff.Next()
		if onRetry != nil {
			onRetry(attempt, wait, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}
