// Package cache provides the key-value fabric shared by upstream snapshots,
// calculation results, broker configs, and rate-limit counters. Keys are
// namespaced, entries carry per-namespace TTLs, and every implementation
// satisfies the same Store contract.
package cache

import (
	"context"
	"strings"
	"time"
)

// Store is the cache contract. Get reports a miss with found=false and a
// nil error; errors are reserved for store failures.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error

	// Increment atomically increments a counter key, arming the window
	// expiry on first touch. Used by the rate limiter.
	Increment(ctx context.Context, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Cache key namespaces.
const (
	NamespaceBorrowRate   = "borrow_rate"
	NamespaceVolatility   = "volatility"
	NamespaceEventRisk    = "event_risk"
	NamespaceBrokerConfig = "broker_config"
	NamespaceCalculation  = "calculation"
	NamespaceMinRate      = "min_rate"
	NamespaceRateLimit    = "rate_limit"
)

// MarketWide identifies the market-wide volatility entry within the
// volatility namespace.
const MarketWide = "__market__"

// Key builds a namespaced cache key.
func Key(namespace, identifier string) string {
	return namespace + ":" + identifier
}

// NamespaceOf extracts the namespace from a key built by Key.
func NamespaceOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return key
}
