package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/domain"
	"github.com/shortwire/borrowd/internal/resilience"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// EventConfig holds the event calendar feed endpoint.
type EventConfig struct {
	BaseURL     string
	DaysAhead   int // 0 leaves the look-ahead to the feed's default
	SnapshotTTL time.Duration
}

// EventClient fetches upcoming corporate events and distills them into a
// single risk factor in [0, 10]. Missing data or a feed outage means zero
// event risk, never a failed request.
type EventClient struct {
	cfg     EventConfig
	http    *Client
	store   cache.Store
	retry   resilience.RetryPolicy
	breaker *resilience.Breaker
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewEventClient wires the event calendar client from shared deps.
func NewEventClient(cfg EventConfig, deps Deps) *EventClient {
	retry := deps.Retry
	retry.Retryable = Retryable
	return &EventClient{
		cfg:     cfg,
		http:    deps.HTTP,
		store:   deps.Store,
		retry:   retry,
		breaker: deps.Breakers.Get(domain.SourceKeyEventRisk),
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

type eventsPayload struct {
	Events *[]eventPayload `json:"events"`
}

type eventPayload struct {
	EventID    string    `json:"event_id"`
	Ticker     string    `json:"ticker"`
	EventType  string    `json:"event_type"`
	EventDate  time.Time `json:"event_date"`
	RiskFactor int       `json:"risk_factor"`
}

// Fetch returns the event risk for ticker: the maximum risk factor over all
// upcoming events, clamped to [0, 10]. No events means zero risk.
func (c *EventClient) Fetch(ctx context.Context, ticker string) domain.EventRisk {
	key := cache.Key(cache.NamespaceEventRisk, ticker)
	if raw, hit, _ := c.store.Get(ctx, key); hit {
		var risk domain.EventRisk
		if err := json.Unmarshal(raw, &risk); err == nil {
			return risk
		}
		log.Warn().Str("comp", "upstream").Str("key", key).Msg("dropping undecodable cached snapshot")
		_ = c.store.Delete(ctx, key)
	}

	start := time.Now()
	result, err := c.breaker.Execute(func() (any, error) {
		var payload eventsPayload
		callErr := c.retry.Do(ctx, "event_risk", func(ctx context.Context) error {
			return c.http.GetJSON(ctx, c.endpoint(ticker), &payload)
		})
		return payload, callErr
	})
	c.metrics.ObserveUpstream(domain.SourceKeyEventRisk, time.Since(start))

	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.metrics.RecordUpstreamFailure(domain.SourceKeyEventRisk)
		}
		log.Warn().Err(err).
			Str("comp", "upstream").
			Str("ticker", ticker).
			Msg("event calendar unavailable, assuming zero event risk")
		return c.fallback(ticker)
	}

	payload := result.(eventsPayload)
	if payload.Events == nil {
		log.Warn().
			Str("comp", "upstream").
			Str("ticker", ticker).
			Msg("event calendar response missing required fields, assuming zero event risk")
		return c.fallback(ticker)
	}

	risk := domain.EventRisk{
		Ticker:    ticker,
		Source:    "live",
		FetchedAt: c.now().UTC(),
	}
	for _, event := range *payload.Events {
		factor := clampRisk(event.RiskFactor)
		if factor > risk.RiskFactor {
			risk.RiskFactor = factor
		}
		risk.Events = append(risk.Events, domain.CalendarEvent{
			EventID:    event.EventID,
			Ticker:     event.Ticker,
			EventType:  event.EventType,
			EventDate:  event.EventDate,
			RiskFactor: factor,
		})
	}

	if raw, marshalErr := json.Marshal(risk); marshalErr == nil {
		_ = c.store.Set(ctx, key, raw, c.cfg.SnapshotTTL)
	}
	return risk
}

func (c *EventClient) fallback(ticker string) domain.EventRisk {
	c.metrics.RecordFallback(domain.SourceKeyEventRisk)
	return domain.EventRisk{
		Ticker:     ticker,
		RiskFactor: 0,
		Source:     "fallback",
		FetchedAt:  c.now().UTC(),
		IsFallback: true,
	}
}

func (c *EventClient) endpoint(ticker string) string {
	params := url.Values{}
	params.Set("ticker", ticker)
	if c.cfg.DaysAhead > 0 {
		params.Set("days_ahead", strconv.Itoa(c.cfg.DaysAhead))
	}
	return c.cfg.BaseURL + "/events?" + params.Encode()
}

func clampRisk(factor int) int {
	if factor < 0 {
		return 0
	}
	if factor > 10 {
		return 10
	}
	return factor
}
