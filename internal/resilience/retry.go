// Package resilience provides the retry and circuit breaker primitives that
// guard every upstream call. The two compose: the breaker wraps the retried
// call, so an exhausted retry counts as a single breaker failure.
package resilience

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// RetryPolicy drives exponential backoff with jitter. Attempt 0 runs
// immediately; after failed attempt n the wait is
// min(InitialWait * BackoffFactor^n, MaxWait) scaled by a random factor in
// [1-Jitter, 1+Jitter].
type RetryPolicy struct {
	MaxAttempts   int
	InitialWait   time.Duration
	BackoffFactor float64
	MaxWait       time.Duration
	Jitter        float64

	// Retryable classifies errors. A nil func retries everything.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the standard upstream retry parameters.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		InitialWait:   100 * time.Millisecond,
		BackoffFactor: 2,
		MaxWait:       30 * time.Second,
		Jitter:        0.1,
	}
}

// Do runs fn up to MaxAttempts times, sleeping between failed attempts.
// Non-retryable errors and context cancellation stop the loop early.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%s aborted before attempt %d: %w", op, attempt+1, err)
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts-1 {
			break
		}

		wait := p.jittered(p.backoff(attempt))
		log.Debug().
			Str("comp", "retry").
			Str("op", op).
			Int("attempt", attempt+1).
			Dur("wait", wait).
			Err(lastErr).
			Msg("attempt failed, backing off")

		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return fmt.Errorf("%s aborted during backoff: %w", op, ctx.Err())
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, attempts, lastErr)
}

// backoff returns the unjittered wait after failed attempt n.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	wait := float64(p.InitialWait) * math.Pow(p.BackoffFactor, float64(attempt))
	if max := float64(p.MaxWait); wait > max {
		wait = max
	}
	return time.Duration(wait)
}

// jittered scales a wait by a random factor in [1-Jitter, 1+Jitter].
func (p RetryPolicy) jittered(wait time.Duration) time.Duration {
	if p.Jitter <= 0 {
		return wait
	}
	factor := 1 + p.Jitter*(2*rand.Float64()-1)
	if factor < 0 {
		factor = 0
	}
	return time.Duration(float64(wait) * factor)
}
