package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/nphies/claims-core/internal/coreerr"
)

// breakerState is the closed/open/half-open state machine.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// Breaker is a per-operation circuit breaker. One Breaker instance guards
// one logical operation (e.g. one connector's submitClaim); create a
// distinct Breaker per operation, not per call.
type Breaker struct {
	mu            sync.Mutex
	failures      int
	lastFailureAt time.Time
	state         breakerState

	threshold int
	timeout   time.Duration
	now       func() time.Time
}

// NewBreaker returns a closed breaker with the given failure threshold and
// open-state timeout. Spec defaults are threshold=5, timeout=60s.
func NewBreaker(threshold int, timeout time.Duration) *Breaker {
	return &Breaker{threshold: threshold, timeout: timeout, now: time.Now, state: stateClosed}
}

// allow reports whether a call may proceed, transitioning open->half-open
// when the timeout has elapsed.
func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateOpen:
		if b.now().Sub(b.lastFailureAt) > b.timeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = stateClosed
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailureAt = b.now()
	if b.failures >= b.threshold {
		b.state = stateOpen
	}
}

// Do invokes fn if the breaker is closed or half-open (after timeout),
// otherwise returns coreerr.ErrCircuitOpen without invoking fn at all — a
// breaker-open rejection never consumes a retry attempt.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.allow() {
		return coreerr.ErrCircuitOpen
	}
	err := fn(ctx)
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

// State exposes the current state for tests and health reporting.
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}
