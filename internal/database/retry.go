package database

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// ExponentialBackoffRetryer retries an operation with exponential backoff and jitter.
type ExponentialBackoffRetryer struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	multiplier float64
	jitter     bool
}

// RetryOption tunes an ExponentialBackoffRetryer.
type RetryOption func(*ExponentialBackoffRetryer)

// WithMaxRetries sets how many times a failed call is retried.
func WithMaxRetries(n int) RetryOption {
	return func(r *ExponentialBackoffRetryer) {
		r.maxRetries = n
	}
}

// WithDelays sets the first delay and the cap.
func WithDelays(base, ceiling time.Duration) RetryOption {
	return func(r *ExponentialBackoffRetryer) {
		r.baseDelay = base
		r.maxDelay = ceiling
	}
}

// WithoutJitter makes delays deterministic.
func WithoutJitter() RetryOption {
	return func(r *ExponentialBackoffRetryer) {
		r.jitter = false
	}
}

// NewExponentialBackoffRetryer creates a retryer that makes up to six
// attempts, starting at 100ms and doubling up to 30s.
func NewExponentialBackoffRetryer(opts ...RetryOption) *ExponentialBackoffRetryer {
	r := &ExponentialBackoffRetryer{
		maxRetries: 5,
		baseDelay:  100 * time.Millisecond,
		maxDelay:   30 * time.Second,
		multiplier: 2.0,
		jitter:     true,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Retry calls fn until it succeeds, the attempts run out or ctx is done.
func (r *ExponentialBackoffRetryer) Retry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == r.maxRetries {
			break
		}

		delay := r.calculateDelay(attempt)
		slog.DebugContext(ctx, "Attempt failed, backing off",
			"attempt", attempt+1, "max_attempts", r.maxRetries+1,
			"delay", delay, "error", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("operation failed after %d attempts: %w", r.maxRetries+1, lastErr)
}

func (r *ExponentialBackoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := math.Min(float64(r.baseDelay)*math.Pow(r.multiplier, float64(attempt)), float64(r.maxDelay))
	if r.jitter {
		// Up to 25% on top.
		delay += rand.Float64() * delay * 0.25
	}
	return time.Duration(delay)
}
