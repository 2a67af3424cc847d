package brokerstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/domain"
)

type stubStore struct {
	configCalls int
	clientCalls int
	config      domain.BrokerConfig
	client      domain.Client
	configErr   error
	clientErr   error
}

func (s *stubStore) LookupBrokerConfig(context.Context, string) (domain.BrokerConfig, error) {
	s.configCalls++
	return s.config, s.configErr
}

func (s *stubStore) LookupClient(context.Context, string) (domain.Client, error) {
	s.clientCalls++
	return s.client, s.clientErr
}

func (s *stubStore) Ping(context.Context) error { return nil }
func (s *stubStore) Close() error               { return nil }

func TestCachedBrokerConfigHitsInnerOnce(t *testing.T) {
	inner := &stubStore{config: domain.BrokerConfig{
		ClientID:  "client_A",
		MarkupPct: dec("5"),
		FeeType:   domain.FeeTypeFlat,
		FeeAmount: dec("25"),
		Active:    true,
	}}
	cached := NewCached(inner, cache.NewMemory(), time.Minute)

	first, err := cached.LookupBrokerConfig(context.Background(), "client_A")
	require.NoError(t, err)
	second, err := cached.LookupBrokerConfig(context.Background(), "client_A")
	require.NoError(t, err)

	assert.Equal(t, 1, inner.configCalls)
	assert.True(t, first.MarkupPct.Equal(second.MarkupPct))
	assert.Equal(t, first.ClientID, second.ClientID)
}

func TestCachedBrokerConfigErrorsNotCached(t *testing.T) {
	inner := &stubStore{configErr: domain.E(domain.KindClientNotFound, "no broker config")}
	cached := NewCached(inner, cache.NewMemory(), time.Minute)

	_, err := cached.LookupBrokerConfig(context.Background(), "ghost")
	require.Error(t, err)
	_, err = cached.LookupBrokerConfig(context.Background(), "ghost")
	require.Error(t, err)

	assert.Equal(t, 2, inner.configCalls)
}

func TestCachedClientExpiry(t *testing.T) {
	inner := &stubStore{client: domain.Client{ClientID: "client_A", RateLimit: 60, Active: true}}
	cached := NewCached(inner, cache.NewMemory(), time.Minute)

	current := time.Unix(1700000000, 0)
	cached.now = func() time.Time { return current }

	_, err := cached.LookupClient(context.Background(), "key-123")
	require.NoError(t, err)
	_, err = cached.LookupClient(context.Background(), "key-123")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.clientCalls)

	current = current.Add(2 * time.Minute)

	_, err = cached.LookupClient(context.Background(), "key-123")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.clientCalls)
}

func TestCachedClientErrorPropagates(t *testing.T) {
	inner := &stubStore{clientErr: domain.E(domain.KindUnauthorized, "unknown API key")}
	cached := NewCached(inner, cache.NewMemory(), time.Minute)

	_, err := cached.LookupClient(context.Background(), "bogus")
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUnauthorized, kind)
}
