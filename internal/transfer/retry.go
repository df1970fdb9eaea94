package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// RetryPolicy controls how a failed unit attempt is retried. Timeouts get a
// larger backoff base than generic I/O errors, and jitter spreads out
// retries when many units fail together on a network blip.
type RetryPolicy struct {
	MaxRetries       int
	BaseDelay        time.Duration
	TimeoutBaseDelay time.Duration
	MaxJitter        time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:       5,
		BaseDelay:        500 * time.Millisecond,
		TimeoutBaseDelay: 2 * time.Second,
		MaxJitter:        time.Second,
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	base := p.BaseDelay
	if isTimeout(err) {
		base = p.TimeoutBaseDelay
	}
	delay := base * (1 << attempt)
	if p.MaxJitter > 0 {
		delay += rand.N(p.MaxJitter)
	}
	return delay
}

// Execute runs one unit attempt up to MaxRetries+1 times. Invariant
// violations and cancellation end the unit immediately; transient failures
// back off and retry until the budget is exhausted, after which the unit is
// permanently failed. attempts, when non-nil, receives the attempt count.
func (p RetryPolicy) Execute(ctx context.Context, attempt func(ctx context.Context) error, attempts *int) error {
	var lastErr error
	for try := 0; try <= p.MaxRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.Backoff(try, lastErr)):
			}
		}
		if attempts != nil {
			*attempts = try + 1
		}
		err := attempt(ctx)
		if err == nil {
			return nil
		}
		var violation *InvariantViolation
		if errors.As(err, &violation) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}
	return fmt.Errorf("unit failed after %d attempts: %w", p.MaxRetries+1, lastErr)
}
