// Package resilience provides the circuit breaker and retry primitives
// every outbound call in the fabric is wrapped in.
package resilience

import (
	"sync"
	"time"

	"famagpt-fabric/internal/observability"
)

// State is the circuit breaker's current mode.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// CircuitBreaker implements the classic closed/open/half-open state
// machine: it opens after a run of consecutive failures, waits a reset
// timeout, then lets calls through in half-open until the next recorded
// result decides whether to close or reopen.
type CircuitBreaker struct {
	caller, callee string

	mu               sync.Mutex
	state            State
	failureCount     int
	lastFailureAt    time.Time
	failureThreshold int
	resetTimeout     time.Duration

	metrics *observability.Metrics
}

func NewCircuitBreaker(caller, callee string, failureThreshold int, resetTimeout time.Duration, metrics *observability.Metrics) *CircuitBreaker {
	cb := &CircuitBreaker{
		caller:           caller,
		callee:           callee,
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		metrics:          metrics,
	}
	cb.publishState()
	return cb
}

// Allow reports whether a call should be attempted right now, transitioning
// open -> half_open once the reset timeout has elapsed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case Closed:
		return true
	case Open:
		if time.Since(cb.lastFailureAt) >= cb.resetTimeout {
			cb.setState(HalfOpen)
			return true
		}
		return false
	case HalfOpen:
		return true
	default:
		return true
	}
}

// RecordSuccess closes the breaker and clears the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	if cb.state != Closed {
		cb.setState(Closed)
	}
}

// RecordFailure increments the failure count and opens the breaker once
// the threshold is crossed, or immediately reopens from half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.lastFailureAt = time.Now()

	if cb.state == HalfOpen {
		cb.setState(Open)
		return
	}

	cb.failureCount++
	if cb.failureCount >= cb.failureThreshold {
		cb.setState(Open)
	}
}

// Snapshot returns the current state for diagnostics.
func (cb *CircuitBreaker) Snapshot() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(s State) {
	if s == cb.state {
		return
	}
	cb.state = s
	if s == Closed {
		cb.failureCount = 0
	}
	cb.publishStateLocked()
}

func (cb *CircuitBreaker) publishState() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.publishStateLocked()
}

func (cb *CircuitBreaker) publishStateLocked() {
	if cb.metrics == nil {
		return
	}
	cb.metrics.CircuitBreakerState.WithLabelValues(cb.caller, cb.callee).Set(float64(cb.state))
	cb.metrics.CircuitBreakerTransitions.WithLabelValues(cb.caller, cb.callee, cb.state.String()).Inc()
}
