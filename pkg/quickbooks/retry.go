package quickbooks

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/drivepoint/source-quickbooks/pkg/errors"
)

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	RandomizeFactor float64

	// sleep waits for d or until ctx is done
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy creates a retry policy with exponential backoff. maxRetries
// counts retries, so the call is attempted maxRetries+1 times.
func NewRetryPolicy(maxRetries int, initialDelay, maxDelay time.Duration) *RetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &RetryPolicy{
		MaxAttempts:     maxRetries + 1,
		InitialDelay:    initialDelay,
		MaxDelay:        maxDelay,
		Multiplier:      2.0,
		RandomizeFactor: 0.25,
		sleep:           sleepContext,
	}
}

// Execute runs fn until it succeeds, returns a non-retryable error, or the
// attempts are used up. Only errors.IsRetryable errors are retried.
func (rp *RetryPolicy) Execute(ctx context.Context, fn func(attempt int) error) error {
	var lastErr error

	for attempt := 0; attempt < rp.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			return err
		}
		if attempt == rp.MaxAttempts-1 {
			break
		}

		if err := rp.sleep(ctx, rp.delay(attempt, err)); err != nil {
			return fmt.Errorf("retry cancelled: %w", err)
		}
	}

	if rp.MaxAttempts <= 1 {
		return lastErr
	}
	return fmt.Errorf("all %d attempts failed: %w", rp.MaxAttempts, lastErr)
}

// delay honours a Retry-After hint on rate limit errors, otherwise backs off
func (rp *RetryPolicy) delay(attempt int, err error) time.Duration {
	var e *errors.Error
	if errors.As(err, &e) {
		if ra, ok := e.Details["retry_after"].(time.Duration); ok && ra > 0 {
			if rp.MaxDelay > 0 && ra > rp.MaxDelay {
				return rp.MaxDelay
			}
			return ra
		}
	}
	return rp.calculateDelay(attempt)
}

// calculateDelay calculates the delay for a given attempt
func (rp *RetryPolicy) calculateDelay(attempt int) time.Duration {
	delay := float64(rp.InitialDelay) * math.Pow(rp.Multiplier, float64(attempt))

	if rp.MaxDelay > 0 && delay > float64(rp.MaxDelay) {
		delay = float64(rp.MaxDelay)
	}

	// jitter
	if rp.RandomizeFactor > 0 {
		delta := delay * rp.RandomizeFactor
		minDelay := delay - delta
		maxDelay := delay + delta
		delay = minDelay + (rand.Float64() * (maxDelay - minDelay))
	}

	return time.Duration(delay)
}

// GetDelay returns the delay for a specific attempt
func (rp *RetryPolicy) GetDelay(attempt int) time.Duration {
	return rp.calculateDelay(attempt)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
