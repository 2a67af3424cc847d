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

// BorrowConfig holds the borrow-rate feed endpoint and fallback parameters.
type BorrowConfig struct {
	BaseURL     string
	MinRate     decimal.Decimal // fallback base rate when the feed is down
	SnapshotTTL time.Duration
	MinRateTTL  time.Duration
}

// BorrowClient fetches base borrow rates. A feed outage degrades to a
// conservative fallback snapshot priced at the minimum rate with HARD
// status; only an authoritative not-found surfaces as an error.
type BorrowClient struct {
	cfg     BorrowConfig
	http    *Client
	store   cache.Store
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewBorrowClient wires the borrow-rate feed client from shared deps.
func NewBorrowClient(cfg BorrowConfig, deps Deps) *BorrowClient {
	retry := deps.Retry
	retry.Retryable = Retryable
	return &BorrowClient{
		cfg:     cfg,
		http:    deps.HTTP,
		store:   deps.Store,
		retry:   retry,
		breaker: deps.Breakers.Get(domain.SourceKeyBorrowRate),
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

type borrowPayload struct {
	Ticker  string           `json:"ticker"`
	Rate    *decimal.Decimal `json:"rate"`
	Status  *string          `json:"status"`
	MinRate *decimal.Decimal `json:"min_rate"`
	Source  string           `json:"source"`
}

// Fetch returns the base borrow rate snapshot for ticker. Live responses
// are cached under the borrow_rate namespace; fallback snapshots are not,
// so recovery is visible as soon as the feed answers again.
func (c *BorrowClient) Fetch(ctx context.Context, ticker string) (domain.RateSnapshot, error) {
	key := cache.Key(cache.NamespaceBorrowRate, ticker)
	if raw, hit, _ := c.store.Get(ctx, key); hit {
		var snapshot domain.RateSnapshot
		if err := json.Unmarshal(raw, &snapshot); err == nil {
			return snapshot, nil
		}
		log.Warn().Str("comp", "upstream").Str("key", key).Msg("dropping undecodable cached snapshot")
		_ = c.store.Delete(ctx, key)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		var payload borrowPayload
		callErr := c.retry.Do(ctx, "borrow_rate", func(ctx context.Context) error {
			return c.http.GetJSON(ctx, c.endpoint(ticker), &payload)
		})
		return payload, callErr
	})
	c.metrics.ObserveUpstream(domain.SourceKeyBorrowRate, time.Since(start))

	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return domain.RateSnapshot{}, domain.Ef(domain.KindTickerNotFound, "ticker %s not found in borrow feed", ticker)
		}
		c.metrics.RecordUpstreamFailure(domain.SourceKeyBorrowRate)
		if ctx.Err() != nil {
			// The request deadline already passed; a fallback would only
			// hide how late we are.
			return domain.RateSnapshot{}, domain.Wrap(domain.KindExternalUnavailable, "borrow rate fetch abandoned", ctx.Err())
		}
		log.Warn().Err(err).
			Str("comp", "upstream").
			Str("ticker", ticker).
			Msg("borrow feed unavailable, serving fallback")
		return c.fallback(ctx, ticker), nil
	}

	payload := result.(borrowPayload)
	if payload.Rate == nil || payload.Status == nil {
		log.Warn().
			Str("comp", "upstream").
			Str("ticker", ticker).
			Msg("borrow feed response missing required fields, serving fallback")
		return c.fallback(ctx, ticker), nil
	}

	snapshot := domain.RateSnapshot{
		Ticker:    ticker,
		BaseRate:  *payload.Rate,
		Status:    domain.ParseBorrowStatus(*payload.Status),
		Source:    sourceOrLive(payload.Source),
		FetchedAt: c.now().UTC(),
	}
	if payload.MinRate != nil {
		snapshot.MinRate = *payload.MinRate
		c.storeMinRate(ctx, ticker, *payload.MinRate)
	} else if floor, ok := c.cachedMinRate(ctx, ticker); ok {
		snapshot.MinRate = floor
	}

	if raw, marshalErr := json.Marshal(snapshot); marshalErr == nil {
		_ = c.store.Set(ctx, key, raw, c.cfg.SnapshotTTL)
	}
	return snapshot, nil
}

func (c *BorrowClient) fallback(ctx context.Context, ticker string) domain.RateSnapshot {
	c.metrics.RecordFallback(domain.SourceKeyBorrowRate)
	snapshot := domain.RateSnapshot{
		Ticker:     ticker,
		BaseRate:   c.cfg.MinRate,
		Status:     domain.BorrowStatusHard,
		Source:     "fallback",
		FetchedAt:  c.now().UTC(),
		IsFallback: true,
	}
	// A previously learned per-ticker floor outlives the snapshot TTL and
	// still applies while the feed is down.
	if floor, ok := c.cachedMinRate(ctx, ticker); ok {
		snapshot.MinRate = floor
	}
	return snapshot
}

func (c *BorrowClient) endpoint(ticker string) string {
	return c.cfg.BaseURL + "/api/borrows/" + url.PathEscape(ticker)
}

func (c *BorrowClient) storeMinRate(ctx context.Context, ticker string, floor decimal.Decimal) {
	key := cache.Key(cache.NamespaceMinRate, ticker)
	_ = c.store.Set(ctx, key, []byte(decmath.Canonical(floor)), c.cfg.MinRateTTL)
}

func (c *BorrowClient) cachedMinRate(ctx context.Context, ticker string) (decimal.Decimal, bool) {
	key := cache.Key(cache.NamespaceMinRate, ticker)
	raw, hit, err := c.store.Get(ctx, key)
	if err != nil || !hit {
		return decimal.Decimal{}, false
	}
	floor, parseErr := decimal.NewFromString(string(raw))
	if parseErr != nil {
		return decimal.Decimal{}, false
	}
	return floor, true
}

func sourceOrLive(source string) string {
	if source == "" {
		return "live"
	}
	return source
}
