package resilience_test

import (
	"testing"
	"time"

	"famagpt-fabric/internal/resilience"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := resilience.NewCircuitBreaker("worker", "rag", 3, 50*time.Millisecond, nil)

	if !cb.Allow() {
		t.Fatal("expected closed breaker to allow calls")
	}

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.Snapshot() != resilience.Closed {
		t.Fatal("breaker should stay closed below the failure threshold")
	}

	cb.RecordFailure()
	if cb.Snapshot() != resilience.Open {
		t.Fatal("breaker should open once the failure threshold is crossed")
	}
	if cb.Allow() {
		t.Fatal("open breaker should not allow calls before the reset timeout elapses")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := resilience.NewCircuitBreaker("worker", "rag", 1, 10*time.Millisecond, nil)

	cb.RecordFailure()
	if cb.Snapshot() != resilience.Open {
		t.Fatal("expected breaker to open after one failure with threshold 1")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected breaker to allow a trial call after reset timeout")
	}
	if cb.Snapshot() != resilience.HalfOpen {
		t.Fatal("expected breaker to be half_open after the trial call is allowed")
	}

	cb.RecordSuccess()
	if cb.Snapshot() != resilience.Closed {
		t.Fatal("expected a successful trial call to close the breaker")
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := resilience.NewCircuitBreaker("worker", "rag", 1, 10*time.Millisecond, nil)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow()
	if cb.Snapshot() != resilience.HalfOpen {
		t.Fatal("expected half_open state before the trial call result")
	}

	cb.RecordFailure()
	if cb.Snapshot() != resilience.Open {
		t.Fatal("expected a failed trial call to reopen the breaker")
	}
}
