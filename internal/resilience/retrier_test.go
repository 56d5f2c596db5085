package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"famagpt-fabric/internal/resilience"
	"famagpt-fabric/internal/resultkind"
)

func TestRetrierSucceedsAfterTransientFailures(t *testing.T) {
	r := resilience.NewRetrier("test.op", 5, time.Millisecond, 20*time.Millisecond, 2.0, nil)

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return resultkind.New(resultkind.Timeout, "test.op", errors.New("try again"))
		}
		return nil
	})

	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetrierStopsOnNonRetryableError(t *testing.T) {
	r := resilience.NewRetrier("test.op", 5, time.Millisecond, 20*time.Millisecond, 2.0, nil)

	attempts := 0
	wantErr := resultkind.New(resultkind.ValidationError, "test.op", errors.New("bad input"))
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return wantErr
	})

	if err != wantErr {
		t.Fatalf("expected the non-retryable error back, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected exactly 1 attempt for a non-retryable error, got %d", attempts)
	}
}

func TestRetrierExhaustsMaxAttempts(t *testing.T) {
	r := resilience.NewRetrier("test.op", 3, time.Millisecond, 10*time.Millisecond, 2.0, nil)

	attempts := 0
	err := r.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return resultkind.New(resultkind.Timeout, "test.op", errors.New("always fails"))
	})

	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetrierRespectsContextCancellation(t *testing.T) {
	r := resilience.NewRetrier("test.op", 10, 50*time.Millisecond, time.Second, 2.0, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := r.Do(ctx, func(ctx context.Context) error {
		attempts++
		return resultkind.New(resultkind.Timeout, "test.op", errors.New("fails"))
	})

	if attempts != 1 {
		t.Fatalf("expected the first attempt to run before the cancellation is observed, got %d", attempts)
	}
	if err == nil {
		t.Fatal("expected an error")
	}
}
