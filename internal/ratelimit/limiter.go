// Package ratelimit enforces per-client request budgets over minute-aligned
// windows backed by the shared cache store, so limits hold across workers.
// When the store is unreachable the limiter fails open: availability wins
// over strict enforcement.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// Decision is the outcome of one admission check. Reset and RetryAfter are
// seconds until the current window rolls over.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	Reset      int
	RetryAfter int
}

// Limiter admits requests against per-client minute budgets.
type Limiter struct {
	store   cache.Store
	window  time.Duration
	metrics *telemetry.Metrics

	now func() time.Time
}

// NewLimiter creates a limiter whose counters live in store with the given
// window TTL.
func NewLimiter(store cache.Store, window time.Duration, metrics *telemetry.Metrics) *Limiter {
	return &Limiter{
		store:   store,
		window:  window,
		metrics: metrics,
		now:     time.Now,
	}
}

// Allow admits or rejects one request for clientID under limit requests
// per minute. Counter store failures admit the request.
func (l *Limiter) Allow(ctx context.Context, clientID string, limit int) Decision {
	unixSeconds := l.now().Unix()
	window := unixSeconds / 60
	reset := int(60 - unixSeconds%60)

	key := cache.Key(cache.NamespaceRateLimit, fmt.Sprintf("%s:%d", clientID, window))

	count, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		log.Warn().Err(err).
			Str("comp", "ratelimit").
			Str("client_id", clientID).
			Msg("counter store unavailable, failing open")
		l.metrics.RecordRateLimitFailOpen()
		return Decision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - 1,
			Reset:     reset,
		}
	}

	if count > int64(limit) {
		l.metrics.RecordRateLimitRejection()
		return Decision{
			Allowed:    false,
			Limit:      limit,
			Remaining:  0,
			Reset:      reset,
			RetryAfter: reset,
		}
	}

	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: limit - int(count),
		Reset:     reset,
	}
}
