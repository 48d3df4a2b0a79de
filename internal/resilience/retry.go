// Package resilience implements retry and circuit-breaker wrappers:
// composable policies applied around any outbound HTTP call, expressed
// as Go higher-order functions operating on context.Context.
package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/nphies/claims-core/internal/coreerr"
)

// RetryPolicy holds the exponential-backoff parameters.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Backoff      float64
}

// DefaultRetryPolicy returns the standard policy: 3 attempts, 1s initial
// delay, 2.0 backoff multiplier.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, InitialDelay: time.Second, Backoff: 2.0}
}

// Retryable is implemented by errors that the retry policy should treat as
// transient (network timeout, connection reset, 5xx, 429). Errors that
// don't implement it, or report false, are treated as non-retryable and
// fail immediately.
type Retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err should be retried under C2 semantics.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return errors.Is(err, coreerr.ErrTransientNetwork)
}

// Do invokes fn, retrying transient failures with exponential backoff per
// p. The final attempt's error is returned unwrapped beyond fn's own
// wrapping. ctx cancellation aborts both the in-flight attempt and any
// pending sleep.
func Do(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	delay := p.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsRetryable(lastErr) {
			return lastErr
		}
		if attempt == p.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.Backoff)
	}
	return lastErr
}
