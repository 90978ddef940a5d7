// Package retry provides generic retry logic with exponential backoff for
// transient failures, plus the retryability policy for checkout operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	checkout "github.com/mintgate/checkout-go"
)

// Config holds retry configuration.
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (including initial attempt)
	InitialDelay time.Duration // Initial delay between retries
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Multiplier for exponential backoff
}

// DefaultConfig provides sensible defaults for retry operations.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 100 * time.Millisecond,
	MaxDelay:     5 * time.Second,
	Multiplier:   2.0,
}

// IsRetryable determines if an error should trigger a retry.
type IsRetryable func(error) bool

// Transient is the checkout retryability policy. Deliberate outcomes are
// never retried: a buyer's rejection stays rejected, a reverting quote or
// tagged purchaser revert reproduces on every attempt, and rejected gating
// data will not verify differently next time. Everything else is assumed
// to be infrastructure noise worth another attempt.
func Transient(err error) bool {
	permanent := []error{
		checkout.ErrUserRejected,
		checkout.ErrInsufficientFunds,
		checkout.ErrSwapFailed,
		checkout.ErrLockCallFailed,
		checkout.ErrInsufficientBalance,
		checkout.ErrPricing,
		checkout.ErrGatingFailed,
		checkout.ErrInvalidConfig,
		checkout.ErrTransactionReverted,
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return false
		}
	}
	return true
}

// WithRetry executes a function with retry logic using generics for type safety.
// It applies exponential backoff with configurable parameters and respects context cancellation.
func WithRetry[T any](
	ctx context.Context,
	config Config,
	isRetryable IsRetryable,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := config.InitialDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		// Check context before attempt
		if err := ctx.Err(); err != nil {
			return zero, fmt.Errorf("context cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}

		lastErr = err

		// Check if error is retryable
		if !isRetryable(err) {
			return zero, err
		}

		// Don't sleep after last attempt
		if attempt < config.MaxAttempts-1 {
			// Apply exponential backoff
			select {
			case <-time.After(delay):
				delay = time.Duration(float64(delay) * config.Multiplier)
				if delay > config.MaxDelay {
					delay = config.MaxDelay
				}
			case <-ctx.Done():
				return zero, ctx.Err()
			}
		}
	}

	return zero, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// WithSimpleRetry retries with the default configuration and the checkout
// retryability policy.
func WithSimpleRetry[T any](
	ctx context.Context,
	fn func() (T, error),
) (T, error) {
	return WithRetry(ctx, DefaultConfig, Transient, fn)
}
