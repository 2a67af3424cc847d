package upstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/domain"
)

func newVolatilityClient(baseURL string, store cache.Store) (*VolatilityClient, Deps) {
	deps := testDeps(store)
	client := NewVolatilityClient(VolatilityConfig{
		BaseURL:      baseURL,
		DefaultIndex: dec("20"),
		SnapshotTTL:  900 * time.Second,
	}, deps)
	return client, deps
}

func TestVolatilityFetchTickerLive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/market/volatility/stock/AAPL", r.URL.Path)
		w.Write([]byte(`{"ticker":"AAPL","volatility":22.5}`))
	}))
	defer server.Close()

	store := cache.NewMemory()
	client, _ := newVolatilityClient(server.URL, store)

	snapshot := client.FetchTicker(context.Background(), "AAPL")

	assert.Equal(t, "AAPL", snapshot.Ticker)
	assert.True(t, snapshot.VolIndex.Equal(dec("22.5")), "volIndex = %s", snapshot.VolIndex)
	assert.Equal(t, "live", snapshot.Source)
	assert.False(t, snapshot.IsFallback)
	assert.False(t, snapshot.Sanitized)

	_, hit, _ := store.Get(context.Background(), "volatility:AAPL")
	assert.True(t, hit)
}

func TestVolatilityPerTickerFallsBackToMarket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/volatility/index":
			w.Write([]byte(`{"value":18}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	store := cache.NewMemory()
	client, _ := newVolatilityClient(server.URL, store)

	snapshot := client.FetchTicker(context.Background(), "AAPL")

	assert.Equal(t, "AAPL", snapshot.Ticker)
	assert.True(t, snapshot.VolIndex.Equal(dec("18")), "volIndex = %s", snapshot.VolIndex)
	assert.Equal(t, "market", snapshot.Source)
	assert.True(t, snapshot.IsFallback)

	// The market index is cached for everyone; the broken per-ticker entry
	// is not, so live data resumes on recovery.
	_, hit, _ := store.Get(context.Background(), "volatility:__market__")
	assert.True(t, hit)
	_, hit, _ = store.Get(context.Background(), "volatility:AAPL")
	assert.False(t, hit)
}

func TestVolatilityDefaultsWhenAllPathsFail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, _ := newVolatilityClient(server.URL, cache.NewMemory())
	snapshot := client.FetchTicker(context.Background(), "AAPL")

	assert.True(t, snapshot.VolIndex.Equal(dec("20")), "volIndex = %s", snapshot.VolIndex)
	assert.Equal(t, "default", snapshot.Source)
	assert.True(t, snapshot.IsFallback)
}

func TestVolatilityUnknownTickerUsesMarket(t *testing.T) {
	var tickerCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/market/volatility/index":
			w.Write([]byte(`{"value":15}`))
		default:
			atomic.AddInt32(&tickerCalls, 1)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client, deps := newVolatilityClient(server.URL, cache.NewMemory())
	snapshot := client.FetchTicker(context.Background(), "ZZZZ")

	assert.True(t, snapshot.VolIndex.Equal(dec("15")))
	assert.Equal(t, "market", snapshot.Source)
	assert.True(t, snapshot.IsFallback)

	// A 404 is authoritative: one call, no retry, no breaker failure.
	assert.Equal(t, int32(1), atomic.LoadInt32(&tickerCalls))
	assert.Equal(t, "closed", deps.Breakers.Get(domain.SourceKeyVolatility).State())
}

func TestVolatilityNegativeIndexSanitized(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ticker":"AAPL","volatility":-3}`))
	}))
	defer server.Close()

	client, _ := newVolatilityClient(server.URL, cache.NewMemory())
	snapshot := client.FetchTicker(context.Background(), "AAPL")

	assert.True(t, snapshot.VolIndex.IsZero(), "volIndex = %s", snapshot.VolIndex)
	assert.True(t, snapshot.Sanitized)
	assert.Equal(t, "live", snapshot.Source)
	assert.False(t, snapshot.IsFallback)
}

func TestVolatilityCachedMarketServesTickerFallback(t *testing.T) {
	var indexCalls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/market/volatility/index" {
			atomic.AddInt32(&indexCalls, 1)
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	store := cache.NewMemory()
	cached := domain.VolatilitySnapshot{VolIndex: dec("17"), Source: "live"}
	raw, err := json.Marshal(cached)
	require.NoError(t, err)
	require.NoError(t, store.Set(context.Background(), "volatility:__market__", raw, time.Minute))

	client, _ := newVolatilityClient(server.URL, store)
	snapshot := client.FetchTicker(context.Background(), "AAPL")

	assert.True(t, snapshot.VolIndex.Equal(dec("17")))
	assert.Equal(t, "market", snapshot.Source)
	assert.True(t, snapshot.IsFallback)
	assert.Equal(t, int32(0), atomic.LoadInt32(&indexCalls))
}

func TestVolatilityMarketMissingValueUsesDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"timestamp":"2026-02-01T00:00:00Z"}`))
	}))
	defer server.Close()

	client, _ := newVolatilityClient(server.URL, cache.NewMemory())
	snapshot := client.FetchMarket(context.Background())

	assert.True(t, snapshot.VolIndex.Equal(dec("20")))
	assert.Equal(t, "default", snapshot.Source)
	assert.True(t, snapshot.IsFallback)
}
