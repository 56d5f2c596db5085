package resultkind_test

import (
	"errors"
	"fmt"
	"testing"

	"famagpt-fabric/internal/resultkind"
)

func TestRetryableKinds(t *testing.T) {
	retryable := []resultkind.Kind{
		resultkind.Timeout,
		resultkind.ConnectionError,
		resultkind.RateLimited,
		resultkind.ExternalServiceError,
	}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}

	notRetryable := []resultkind.Kind{
		resultkind.ValidationError,
		resultkind.AuthError,
		resultkind.NotFound,
		resultkind.CircuitOpen,
		resultkind.BusinessRuleViolation,
		resultkind.InternalError,
		resultkind.Unknown,
	}
	for _, k := range notRetryable {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestKindOfAndRetryable(t *testing.T) {
	base := errors.New("upstream exploded")
	wrapped := resultkind.New(resultkind.Timeout, "agents.call", base)
	err := fmt.Errorf("dispatch failed: %w", wrapped)

	if got := resultkind.KindOf(err); got != resultkind.Timeout {
		t.Errorf("KindOf() = %s, want timeout", got)
	}
	if !resultkind.Retryable(err) {
		t.Error("expected wrapped timeout error to be retryable")
	}

	plain := errors.New("not classified")
	if got := resultkind.KindOf(plain); got != resultkind.Unknown {
		t.Errorf("KindOf(plain) = %s, want unknown", got)
	}
	if resultkind.Retryable(plain) {
		t.Error("plain error should not be retryable")
	}
}

func TestErrorUnwrap(t *testing.T) {
	base := errors.New("connection refused")
	err := resultkind.New(resultkind.ConnectionError, "stream.publish", base)

	if !errors.Is(err, base) {
		t.Error("expected Unwrap to expose the base error")
	}
	if err.Error() == "" {
		t.Error("expected non-empty error message")
	}
}
