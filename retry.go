package steward

import (
	"context"
	"fmt"
	"time"
)

// ErrorClass is the retry classification of a tool invocation failure.
type ErrorClass int

const (
	// ClassRetryable failures (timeouts, connection resets, rate limits)
	// are retried with exponential backoff until attempts run out.
	ClassRetryable ErrorClass = iota
	// ClassPermanent failures (invalid input, not found, unauthorized) are
	// surfaced immediately without retry.
	ClassPermanent
)

// ClassifyFunc maps an invocation error to its retry class.
type ClassifyFunc func(error) ErrorClass

// RetryConfig bounds one tool invocation's retry behavior.
// The delay before retry n is BaseDelay × 2^(n−1), capped at MaxDelay.
type RetryConfig struct {
	// MaxAttempts is the total attempt budget (1 initial + retries).
	MaxAttempts int
	// BaseDelay is the backoff before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the backoff.
	MaxDelay time.Duration
	// OnRetry, when set, is called before each backoff sleep with the
	// 1-based attempt that just failed, its error, and the upcoming delay.
	// The loop uses it to surface transient failures to the event stream.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig is the runtime's default tool retry policy:
// 4 attempts (1 initial + 3 retries), 500ms base delay, 8s cap.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 4,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// RetryError is the final failure of a retried invocation. It carries the
// attempt count and the last error; Exhausted distinguishes a retryable
// failure that ran out of attempts from a permanent one.
type RetryError struct {
	Attempts  int
	Exhausted bool
	Err       error
}

func (e *RetryError) Error() string {
	if e.Exhausted {
		return fmt.Sprintf("failed after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("permanent failure on attempt %d: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retries returns the number of retries performed (attempts beyond the first).
func (e *RetryError) Retries() int { return e.Attempts - 1 }

// ExecuteWithRetry invokes fn up to cfg.MaxAttempts times, sleeping the
// configured backoff between retryable failures. Permanent failures and
// exhausted budgets return a *RetryError; the error is never swallowed.
// The backoff sleep is a timed resumption, not a thread-blocking wait:
// cancelling ctx aborts it immediately.
func ExecuteWithRetry[T any](ctx context.Context, cfg RetryConfig, classify ClassifyFunc, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetryConfig().MaxAttempts
	}
	if classify == nil {
		classify = DefaultClassify
	}

	var last error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		if classify(err) == ClassPermanent {
			return zero, &RetryError{Attempts: attempt, Exhausted: false, Err: err}
		}
		last = err
		if attempt == cfg.MaxAttempts {
			break
		}
		delay := backoffDelay(cfg.BaseDelay, cfg.MaxDelay, attempt)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}
	}
	return zero, &RetryError{Attempts: cfg.MaxAttempts, Exhausted: true, Err: last}
}

// backoffDelay returns BaseDelay × 2^(attempt−1) capped at max.
// attempt is the 1-based attempt that just failed.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << (attempt - 1)
	if d <= 0 || (max > 0 && d > max) {
		return max
	}
	return d
}
