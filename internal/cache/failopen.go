package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/telemetry"
)

// FailOpen wraps a Store so that cache failures never fail a calculation.
// A failed Get becomes a miss, a failed Set or Delete becomes a no-op, and
// every swallowed error is logged and counted. Increment is passed through
// unchanged because the rate limiter applies its own fail-open policy to
// counter errors.
type FailOpen struct {
	store   Store
	metrics *telemetry.Metrics
}

// NewFailOpen wraps store with the fail-open policy.
func NewFailOpen(store Store, metrics *telemetry.Metrics) *FailOpen {
	return &FailOpen{store: store, metrics: metrics}
}

// Get returns a miss when the underlying store fails.
func (f *FailOpen) Get(ctx context.Context, key string) ([]byte, bool, error) {
	namespace := NamespaceOf(key)

	value, found, err := f.store.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("comp", "cache").Str("key", key).Msg("cache get failed, treating as miss")
		f.metrics.RecordCacheError(namespace, "get")
		return nil, false, nil
	}

	if found {
		f.metrics.RecordCacheHit(namespace)
	} else {
		f.metrics.RecordCacheMiss(namespace)
	}
	return value, found, nil
}

// Set swallows store failures.
func (f *FailOpen) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := f.store.Set(ctx, key, value, ttl); err != nil {
		log.Warn().Err(err).Str("comp", "cache").Str("key", key).Msg("cache set failed, skipping")
		f.metrics.RecordCacheError(NamespaceOf(key), "set")
	}
	return nil
}

// Delete swallows store failures.
func (f *FailOpen) Delete(ctx context.Context, key string) error {
	if err := f.store.Delete(ctx, key); err != nil {
		log.Warn().Err(err).Str("comp", "cache").Str("key", key).Msg("cache delete failed, skipping")
		f.metrics.RecordCacheError(NamespaceOf(key), "delete")
	}
	return nil
}

// Increment delegates to the underlying store. Counter errors surface to
// the caller.
func (f *FailOpen) Increment(ctx context.Context, key string, window time.Duration) (int64, error) {
	return f.store.Increment(ctx, key, window)
}

// Ping delegates to the underlying store.
func (f *FailOpen) Ping(ctx context.Context) error {
	return f.store.Ping(ctx)
}

// Close delegates to the underlying store.
func (f *FailOpen) Close() error {
	return f.store.Close()
}
