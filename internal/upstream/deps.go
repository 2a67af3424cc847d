package upstream

import (
	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/resilience"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// Deps bundles the plumbing shared by the three feed clients: the HTTP
// transport, the cache store, one breaker per feed, the retry policy, and
// metrics. The retry policy is copied per client so each can carry its own
// error classifier.
type Deps struct {
	HTTP     *Client
	Store    cache.Store
	Breakers *resilience.BreakerRegistry
	Retry    resilience.RetryPolicy
	Metrics  *telemetry.Metrics
}
