// internal/worker/retry.go
package worker

import (
	"context"
	"time"
)

// RetryPolicy controls upload retries: a fixed attempt count with a fixed
// inter-attempt delay. Exhausting the attempts is not fatal — the batch
// stays pending and the next scheduled flush tries again.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryPolicy returns 3 attempts with a 2s delay.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Delay: 2 * time.Second}
}

// Execute runs fn up to MaxAttempts times, sleeping Delay between
// attempts. Attempts are strictly sequential: attempt N+1 never starts
// before attempt N has returned. Returns nil on the first success, the
// last error on exhaustion, or the context error if cancelled while
// waiting.
func (p RetryPolicy) Execute(ctx context.Context, fn func() error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt < attempts {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
