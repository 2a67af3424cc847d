package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/decmath"
	"github.com/shortwire/borrowd/internal/domain"
	"github.com/shortwire/borrowd/internal/resilience"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// VolatilityConfig holds the volatility feed endpoints and defaults.
type VolatilityConfig struct {
	BaseURL      string
	DefaultIndex decimal.Decimal // served when both feed paths fail
	SnapshotTTL  time.Duration
}

// VolatilityClient fetches volatility with a two-stage fallback: per-ticker
// volatility, then the market-wide index, then a configured default. It
// never fails a pricing request.
type VolatilityClient struct {
	cfg     VolatilityConfig
	http    *Client
	store   cache.Store
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewVolatilityClient wires the volatility feed client from shared deps.
func NewVolatilityClient(cfg VolatilityConfig, deps Deps) *VolatilityClient {
	retry := deps.Retry
	retry.Retryable = Retryable
	return &VolatilityClient{
		cfg:     cfg,
		http:    deps.HTTP,
		store:   deps.Store,
		retry:   retry,
		breaker: deps.Breakers.Get(domain.SourceKeyVolatility),
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

type tickerVolPayload struct {
	Ticker     string           `json:"ticker"`
	Volatility *decimal.Decimal `json:"volatility"`
}

type marketVolPayload struct {
	Value *decimal.Decimal `json:"value"`
}

// FetchTicker returns the volatility snapshot for ticker, degrading to the
// market-wide index and then the configured default. Fallback snapshots are
// not written to the per-ticker cache entry, so live per-ticker data
// resumes as soon as the feed recovers.
func (c *VolatilityClient) FetchTicker(ctx context.Context, ticker string) domain.VolatilitySnapshot {
	key := cache.Key(cache.NamespaceVolatility, ticker)
	if snapshot, ok := c.cached(ctx, key); ok {
		return snapshot
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		var payload tickerVolPayload
		callErr := c.retry.Do(ctx, "volatility", func(ctx context.Context) error {
			return c.http.GetJSON(ctx, c.cfg.BaseURL+"/market/volatility/stock/"+url.PathEscape(ticker), &payload)
		})
		return payload, callErr
	})
	c.metrics.ObserveUpstream(domain.SourceKeyVolatility, time.Since(start))

	if err == nil {
		payload := result.(tickerVolPayload)
		if payload.Volatility != nil {
			snapshot := c.snapshot(ticker, *payload.Volatility, "live", false)
			c.writeBack(ctx, key, snapshot)
			return snapshot
		}
		log.Warn().
			Str("comp", "upstream").
			Str("ticker", ticker).
			Msg("volatility feed response missing required fields, using market index")
	} else {
		if !errors.Is(err, ErrNotFound) {
			c.metrics.RecordUpstreamFailure(domain.SourceKeyVolatility)
		}
		log.Warn().Err(err).
			Str("comp", "upstream").
			Str("ticker", ticker).
			Msg("per-ticker volatility unavailable, using market index")
	}

	market := c.FetchMarket(ctx)
	snapshot := market
	snapshot.Ticker = ticker
	snapshot.IsFallback = true
	if !market.IsFallback {
		snapshot.Source = "market"
	}
	c.metrics.RecordFallback(domain.SourceKeyVolatility)
	return snapshot
}

// FetchMarket returns the market-wide volatility index, or the configured
// default when the feed is unavailable.
func (c *VolatilityClient) FetchMarket(ctx context.Context) domain.VolatilitySnapshot {
	key := cache.Key(cache.NamespaceVolatility, cache.MarketWide)
	if snapshot, ok := c.cached(ctx, key); ok {
		return snapshot
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		var payload marketVolPayload
		callErr := c.retry.Do(ctx, "volatility_index", func(ctx context.Context) error {
			return c.http.GetJSON(ctx, c.cfg.BaseURL+"/market/volatility/index", &payload)
		})
		return payload, callErr
	})
	c.metrics.ObserveUpstream(domain.SourceKeyVolatility, time.Since(start))

	if err == nil {
		payload := result.(marketVolPayload)
		if payload.Value != nil {
			snapshot := c.snapshot("", *payload.Value, "live", false)
			c.writeBack(ctx, key, snapshot)
			return snapshot
		}
		log.Warn().
			Str("comp", "upstream").
			Msg("market volatility response missing required fields, using default")
	} else {
		c.metrics.RecordUpstreamFailure(domain.SourceKeyVolatility)
		log.Warn().Err(err).
			Str("comp", "upstream").
			Msg("market volatility unavailable, using default")
	}

	return domain.VolatilitySnapshot{
		VolIndex:   c.cfg.DefaultIndex,
		Source:     "default",
		FetchedAt:  c.now().UTC(),
		IsFallback: true,
	}
}

func (c *VolatilityClient) snapshot(ticker string, value decimal.Decimal, source string, fallback bool) domain.VolatilitySnapshot {
	snapshot := domain.VolatilitySnapshot{
		Ticker:     ticker,
		VolIndex:   value,
		Source:     source,
		FetchedAt:  c.now().UTC(),
		IsFallback: fallback,
	}
	if value.IsNegative() {
		log.Warn().
			Str("comp", "upstream").
			Str("ticker", ticker).
			Str("vol_index", value.String()).
			Msg("negative volatility index floored to zero")
		snapshot.VolIndex = decmath.Zero
		snapshot.Sanitized = true
	}
	return snapshot
}

func (c *VolatilityClient) cached(ctx context.Context, key string) (domain.VolatilitySnapshot, bool) {
	raw, hit, _ := c.store.Get(ctx, key)
	if !hit {
		return domain.VolatilitySnapshot{}, false
	}
	var snapshot domain.VolatilitySnapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		log.Warn().Str("comp", "upstream").Str("key", key).Msg("dropping undecodable cached snapshot")
		_ = c.store.Delete(ctx, key)
		return domain.VolatilitySnapshot{}, false
	}
	return snapshot, true
}

func (c *VolatilityClient) writeBack(ctx context.Context, key string, snapshot domain.VolatilitySnapshot) {
	if raw, err := json.Marshal(snapshot); err == nil {
		_ = c.store.Set(ctx, key, raw, c.cfg.SnapshotTTL)
	}
}
