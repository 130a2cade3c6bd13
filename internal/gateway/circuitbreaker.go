// Package gateway provides council.ModelCaller implementations: an
// OpenRouter-backed HTTP caller, a fault-isolating circuit breaker
// wrapper, a TTL-bounded response cache, and a deterministic in-memory
// caller for tests and local development.
package gateway

import (
	"sync"
	"time"
)

// CircuitState is one of the three states of the CLOSED/OPEN/HALF_OPEN
// state machine.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitOpenError is returned by CircuitBreaker.Execute when Allow denies
// the request; there is no fallback path.
type CircuitOpenError struct {
	RouterID string
}

func (e *CircuitOpenError) Error() string {
	return "gateway: circuit open for router " + e.RouterID
}

// CircuitBreaker isolates a single model's faults from the rest of the
// council: after failureThreshold consecutive failures it stops allowing
// requests for timeout, then allows trial requests (HALF_OPEN)
// before fully closing again. One breaker guards one upstream model.
type CircuitBreaker struct {
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	routerID         string

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	lastStateChange time.Time
}

// NewCircuitBreaker constructs a breaker in the CLOSED state.
// failureThreshold and successThreshold default to 5 and 1; timeout
// defaults to 60s if zero, matching the original implementation's
// defaults.
func NewCircuitBreaker(routerID string, failureThreshold, successThreshold int, timeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if successThreshold <= 0 {
		successThreshold = 1
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		routerID:         routerID,
		state:            CircuitClosed,
		lastStateChange:  time.Now(),
	}
}

// State returns the breaker's current state.
func (b *CircuitBreaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the breaker's current consecutive-failure count.
func (b *CircuitBreaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

func (b *CircuitBreaker) transitionTo(state CircuitState) {
	b.state = state
	b.lastStateChange = time.Now()
	switch state {
	case CircuitClosed:
		b.failureCount = 0
		b.successCount = 0
	case CircuitHalfOpen:
		b.successCount = 0
	}
}

// RecordFailure registers a failed call, tripping the circuit if
// failureThreshold is reached in CLOSED, or immediately reopening it if it
// occurs in HALF_OPEN.
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = time.Now()

	switch b.state {
	case CircuitClosed:
		if b.failureCount >= b.failureThreshold {
			b.transitionTo(CircuitOpen)
		}
	case CircuitHalfOpen:
		b.transitionTo(CircuitOpen)
	}
}

// RecordSuccess registers a successful call, resetting the failure streak
// in CLOSED or advancing the recovery count in HALF_OPEN, closing the
// circuit once successThreshold is reached.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		b.failureCount = 0
	case CircuitHalfOpen:
		b.successCount++
		if b.successCount >= b.successThreshold {
			b.transitionTo(CircuitClosed)
		}
	}
}

// Allow reports whether a request should proceed. In OPEN, once timeout
// has elapsed since the last failure it transitions to HALF_OPEN and
// allows the request. While HALF_OPEN every call is allowed; the next
// RecordFailure reopens the circuit, and RecordSuccess closes it once
// successThreshold successes are counted.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if !b.lastFailureTime.IsZero() && time.Since(b.lastFailureTime) >= b.timeout {
			b.transitionTo(CircuitHalfOpen)
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	default:
		return false
	}
}

// Stats is a snapshot of the breaker's bookkeeping, for diagnostics.
type Stats struct {
	State           CircuitState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime time.Time    `json:"last_failure_time,omitempty"`
	LastStateChange time.Time    `json:"last_state_change"`
	RouterID        string       `json:"router_id"`
}

// Stats returns a snapshot of the breaker's current bookkeeping.
func (b *CircuitBreaker) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
		RouterID:        b.routerID,
	}
}

// Execute runs fn under circuit-breaker protection: if the circuit denies
// the request, it returns a *CircuitOpenError without calling fn; a
// successful fn call closes/holds the circuit, a failing one records the
// failure and the original error is returned.
func (b *CircuitBreaker) Execute(fn func() error) error {
	if !b.Allow() {
		return &CircuitOpenError{RouterID: b.routerID}
	}
	if err := fn(); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}
