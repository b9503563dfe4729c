package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// RetryPolicy bounds retries of transient provider failures.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy matches the llm.max_attempts and llm.base_delay defaults.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}

// statusError is a non-200 response from a provider.
type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.body)
}

// retryable reports whether err is worth another attempt: rate limits and
// server-side failures are, client errors are not.
func retryable(err error) bool {
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status >= 500
	}
	return false
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// attempts are spent. The delay doubles from BaseDelay after each failure.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := range attempts {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
		if attempt < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt)):
			}
		}
	}
	return fmt.Errorf("giving up after %d attempts: %w", attempts, lastErr)
}
