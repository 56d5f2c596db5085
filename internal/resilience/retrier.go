package resilience

import (
	"context"
	"math/rand"
	"time"

	"famagpt-fabric/internal/observability"
	"famagpt-fabric/internal/resultkind"
)

// Retrier retries an operation with exponential backoff and jitter,
// stopping early on non-retryable error kinds.
type Retrier struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration

	operation string
	metrics   *observability.Metrics
}

func NewRetrier(operation string, maxAttempts int, baseDelay, maxDelay time.Duration, backoffFactor float64, metrics *observability.Metrics) *Retrier {
	return &Retrier{
		MaxAttempts:   maxAttempts,
		BaseDelay:     baseDelay,
		BackoffFactor: backoffFactor,
		MaxDelay:      maxDelay,
		operation:     operation,
		metrics:       metrics,
	}
}

// Do runs fn, retrying while the returned error is Retryable, up to
// MaxAttempts, sleeping backoff(attempt) between tries.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < r.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := r.backoff(attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := fn(ctx)
		if err == nil {
			r.observe("success")
			return nil
		}
		lastErr = err
		if !resultkind.Retryable(err) {
			r.observe("non_retryable")
			return err
		}
		r.observe("retried")
	}
	return lastErr
}

func (r *Retrier) backoff(attempt int) time.Duration {
	delay := float64(r.BaseDelay) * pow(r.BackoffFactor, attempt-1)
	if time.Duration(delay) > r.MaxDelay {
		delay = float64(r.MaxDelay)
	}
	jitter := rand.Float64() * float64(r.BaseDelay)
	return time.Duration(delay + jitter)
}

func pow(base float64, exp int) float64 {
	result := 1.0
	for i := 0; i < exp; i++ {
		result *= base
	}
	return result
}

func (r *Retrier) observe(outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.RetryAttemptsTotal.WithLabelValues(r.operation, outcome).Inc()
}
