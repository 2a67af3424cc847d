package brokerstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/domain"
)

// Cached wraps a Store so repeated pricing calls do not hit Postgres per
// request. Fee schedules live in the shared broker_config cache namespace;
// resolved API clients stay in a per-process map since every authenticated
// request reads one. Errors are never cached.
type Cached struct {
	inner Store
	store cache.Store
	ttl   time.Duration

	mu      sync.RWMutex
	clients map[string]clientEntry

	now func() time.Time
}

type clientEntry struct {
	client  domain.Client
	expires time.Time
}

// NewCached wraps inner with the given cache store and TTL.
func NewCached(inner Store, store cache.Store, ttl time.Duration) *Cached {
	return &Cached{
		inner:   inner,
		store:   store,
		ttl:     ttl,
		clients: make(map[string]clientEntry),
		now:     time.Now,
	}
}

func (c *Cached) LookupBrokerConfig(ctx context.Context, clientID string) (domain.BrokerConfig, error) {
	key := cache.Key(cache.NamespaceBrokerConfig, clientID)
	if raw, hit, _ := c.store.Get(ctx, key); hit {
		var config domain.BrokerConfig
		if err := json.Unmarshal(raw, &config); err == nil {
			return config, nil
		}
		_ = c.store.Delete(ctx, key)
	}

	config, err := c.inner.LookupBrokerConfig(ctx, clientID)
	if err != nil {
		return domain.BrokerConfig{}, err
	}
	if raw, marshalErr := json.Marshal(config); marshalErr == nil {
		_ = c.store.Set(ctx, key, raw, c.ttl)
	}
	return config, nil
}

func (c *Cached) LookupClient(ctx context.Context, apiKey string) (domain.Client, error) {
	c.mu.RLock()
	entry, ok := c.clients[apiKey]
	c.mu.RUnlock()
	if ok && c.now().Before(entry.expires) {
		return entry.client, nil
	}

	client, err := c.inner.LookupClient(ctx, apiKey)
	if err != nil {
		return domain.Client{}, err
	}

	c.mu.Lock()
	c.clients[apiKey] = clientEntry{client: client, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return client, nil
}

func (c *Cached) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

func (c *Cached) Close() error {
	return c.inner.Close()
}
