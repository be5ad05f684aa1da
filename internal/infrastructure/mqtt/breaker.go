package mqtt

import (
	"sync"
	"time"
)

// BreakerState is a point-in-time copy of a CircuitBreaker.
type BreakerState struct {
	FailureCount    int       `json:"failure_count"`
	LastFailureTime time.Time `json:"last_failure_time,omitzero"`
	IsOpen          bool      `json:"is_open"`
}

// CircuitBreaker throttles connection attempts after repeated failures.
//
// It has no separate half-open state: once the cooldown has elapsed,
// CanAttempt closes the breaker and lets one attempt through. A failure of
// that attempt reopens it immediately because failure_count is still at or
// above the threshold.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type CircuitBreaker struct {
	mu           sync.Mutex
	failureCount int
	lastFailure  time.Time
	isOpen       bool

	now func() time.Time
}

// NewCircuitBreaker returns a closed breaker using the wall clock.
func NewCircuitBreaker() *CircuitBreaker {
	return &CircuitBreaker{now: time.Now}
}

// RecordSuccess resets the breaker to closed with no recorded failures.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount = 0
	b.isOpen = false
	b.lastFailure = time.Time{}
}

// RecordFailure counts a failure and opens the breaker once the count
// reaches threshold.
func (b *CircuitBreaker) RecordFailure(threshold int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailure = b.now()
	if b.failureCount >= threshold {
		b.isOpen = true
	}
}

// CanAttempt reports whether a connection attempt is allowed.
//
// A closed breaker always allows. An open breaker allows, and closes
// itself, once cooldown has elapsed since the last failure.
func (b *CircuitBreaker) CanAttempt(cooldown time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isOpen {
		return true
	}
	if b.now().Sub(b.lastFailure) >= cooldown {
		b.isOpen = false
		return true
	}
	return false
}

// Snapshot returns a copy of the current state.
func (b *CircuitBreaker) Snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BreakerState{
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailure,
		IsOpen:          b.isOpen,
	}
}

// remaining returns how long until an open breaker's cooldown elapses.
// It returns 0 for a closed breaker.
func (b *CircuitBreaker) remaining(cooldown time.Duration) time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isOpen {
		return 0
	}
	left := cooldown - b.now().Sub(b.lastFailure)
	if left < 0 {
		return 0
	}
	return left
}
