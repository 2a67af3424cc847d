// Package pricing orchestrates a pricing request end to end: validate the
// inputs, resolve the broker's fee schedule, consult the calculation cache,
// gather the three upstream snapshots in parallel, compose the adjusted
// rate and the fee breakdown, cache the result, and hand the audit trail a
// record of everything that went into it.
package pricing

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/shortwire/borrowd/internal/audit"
	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/domain"
	"github.com/shortwire/borrowd/internal/fees"
	"github.com/shortwire/borrowd/internal/rates"
	"github.com/shortwire/borrowd/internal/telemetry"
	"github.com/shortwire/borrowd/internal/validate"
)

// BorrowSource yields base borrow-rate snapshots.
type BorrowSource interface {
	Fetch(ctx context.Context, ticker string) (domain.RateSnapshot, error)
}

// VolatilitySource yields volatility snapshots, degrading internally from
// per-ticker to market-wide to a configured default.
type VolatilitySource interface {
	FetchTicker(ctx context.Context, ticker string) domain.VolatilitySnapshot
}

// EventSource yields event-risk summaries, degrading to zero risk.
type EventSource interface {
	Fetch(ctx context.Context, ticker string) domain.EventRisk
}

// ConfigSource resolves broker fee schedules.
type ConfigSource interface {
	LookupBrokerConfig(ctx context.Context, clientID string) (domain.BrokerConfig, error)
}

// Auditor accepts completed calculation records.
type Auditor interface {
	Emit(record audit.Record) int64
}

// Config holds the orchestrator's own parameters. The default fee schedule
// applies when the broker store is unreachable.
type Config struct {
	CalculationTTL   time.Duration
	RequestDeadline  time.Duration
	DefaultMarkupPct decimal.Decimal
	DefaultFeeFlat   decimal.Decimal
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Store      cache.Store
	Borrow     BorrowSource
	Volatility VolatilitySource
	Events     EventSource
	Brokers    ConfigSource
	Rates      *rates.Engine
	Fees       *fees.Engine
	Audit      Auditor
	Metrics    *telemetry.Metrics
}

// Service coordinates pricing requests.
type Service struct {
	cfg     Config
	store   cache.Store
	borrow  BorrowSource
	vol     VolatilitySource
	events  EventSource
	brokers ConfigSource
	rates   *rates.Engine
	fees    *fees.Engine
	audit   Auditor
	metrics *telemetry.Metrics

	now func() time.Time
}

// NewService wires a pricing service.
func NewService(cfg Config, deps Deps) *Service {
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		borrow:  deps.Borrow,
		vol:     deps.Volatility,
		events:  deps.Events,
		brokers: deps.Brokers,
		rates:   deps.Rates,
		fees:    deps.Fees,
		audit:   deps.Audit,
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

// CalculateFee prices a locate for the validated request. Identical inputs
// inside the calculation TTL are served from cache byte-identically and
// without a second audit record.
func (s *Service) CalculateFee(ctx context.Context, req domain.FeeRequest) (*domain.CalculationResult, error) {
	if err := validate.FeeRequest(&req); err != nil {
		return nil, err
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	brokerCfg, brokerSource, err := s.brokerConfig(ctx, req.ClientID)
	if err != nil {
		return nil, err
	}

	fingerprint := Fingerprint(req, brokerCfg)
	key := cache.Key(cache.NamespaceCalculation, fingerprint)
	if cached, ok := s.cachedResult(ctx, key); ok {
		s.metrics.RecordCalculation("cached")
		return cached, nil
	}

	snaps, err := s.fetchSnapshots(ctx, req.Ticker)
	if err != nil {
		return nil, err
	}

	adj := s.rates.Adjust(snaps.Rate.BaseRate, snaps.Volatility.VolIndex, snaps.EventRisk.RiskFactor, snaps.Rate.MinRate)
	breakdown, total, err := s.fees.Calculate(fees.Input{
		PositionValue: req.PositionValue,
		LoanDays:      req.LoanDays,
		AnnualRate:    adj.FinalRate,
		MarkupPct:     brokerCfg.MarkupPct,
		FeeType:       brokerCfg.FeeType,
		FeeAmount:     brokerCfg.FeeAmount,
	})
	if err != nil {
		return nil, err
	}

	sources := dataSources(snaps)
	sources[domain.SourceKeyBrokerConfig] = brokerSource

	result := &domain.CalculationResult{
		TotalFee:       total,
		Breakdown:      breakdown,
		BorrowRateUsed: adj.RoundedRate,
		DataSources:    sources,
		Fingerprint:    fingerprint,
		CalculatedAt:   s.now().UTC(),
	}

	if raw, marshalErr := json.Marshal(result); marshalErr == nil {
		_ = s.store.Set(ctx, key, raw, s.cfg.CalculationTTL)
	}

	s.audit.Emit(audit.Record{
		Timestamp:   result.CalculatedAt,
		ClientID:    req.ClientID,
		Request:     req,
		Snapshots:   snaps,
		BrokerAppl:  brokerCfg,
		Breakdown:   breakdown,
		TotalFee:    total,
		RateUsed:    adj.RoundedRate,
		Fingerprint: fingerprint,
		Notes:       auditNotes(snaps, adj),
	})
	s.metrics.RecordCalculation("fresh")
	return result, nil
}

// GetRate quotes the current adjusted borrow rate for a ticker. It shares
// the fee path's fetch and rate composition but involves no fee schedule,
// no calculation cache, and no audit record.
func (s *Service) GetRate(ctx context.Context, rawTicker string) (*domain.RateQuote, error) {
	ticker, err := validate.Ticker(rawTicker)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	snaps, err := s.fetchSnapshots(ctx, ticker)
	if err != nil {
		return nil, err
	}

	adj := s.rates.Adjust(snaps.Rate.BaseRate, snaps.Volatility.VolIndex, snaps.EventRisk.RiskFactor, snaps.Rate.MinRate)
	return &domain.RateQuote{
		Ticker:      ticker,
		CurrentRate: adj.RoundedRate,
		Status:      snaps.Rate.Status,
		LastUpdated: snaps.Rate.FetchedAt,
		DataSources: dataSources(snaps),
	}, nil
}

// fetchSnapshots gathers the three upstream observations in parallel. Each
// client runs exactly once per request; retries live inside the clients.
// The volatility and event clients always produce a value, so the only
// group error is the borrow client's.
func (s *Service) fetchSnapshots(ctx context.Context, ticker string) (domain.SnapshotSet, error) {
	var snaps domain.SnapshotSet
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		rate, err := s.borrow.Fetch(gctx, ticker)
		if err != nil {
			return err
		}
		snaps.Rate = rate
		return nil
	})
	g.Go(func() error {
		snaps.Volatility = s.vol.FetchTicker(gctx, ticker)
		return nil
	})
	g.Go(func() error {
		snaps.EventRisk = s.events.Fetch(gctx, ticker)
		return nil
	})

	if err := g.Wait(); err != nil {
		if _, ok := domain.KindOf(err); ok {
			return domain.SnapshotSet{}, err
		}
		return domain.SnapshotSet{}, domain.Wrap(domain.KindExternalUnavailable, "upstream fetch failed", err)
	}
	return snaps, nil
}

// brokerConfig resolves the client's fee schedule. Authoritative outcomes
// (unknown client, deactivated schedule) propagate; an unreachable store
// degrades to the configured default schedule so pricing stays available.
func (s *Service) brokerConfig(ctx context.Context, clientID string) (domain.BrokerConfig, domain.DataSource, error) {
	cfg, err := s.brokers.LookupBrokerConfig(ctx, clientID)
	if err == nil {
		return cfg, domain.DataSource{Source: "store"}, nil
	}
	if _, ok := domain.KindOf(err); ok {
		return domain.BrokerConfig{}, domain.DataSource{}, err
	}

	log.Warn().Err(err).
		Str("comp", "pricing").
		Str("client_id", clientID).
		Msg("broker store unavailable, using default fee schedule")
	s.metrics.RecordFallback(domain.SourceKeyBrokerConfig)
	return domain.BrokerConfig{
		ClientID:  clientID,
		MarkupPct: s.cfg.DefaultMarkupPct,
		FeeType:   domain.FeeTypeFlat,
		FeeAmount: s.cfg.DefaultFeeFlat,
		Active:    true,
	}, domain.DataSource{Source: "default", IsFallback: true}, nil
}

func (s *Service) cachedResult(ctx context.Context, key string) (*domain.CalculationResult, bool) {
	raw, hit, _ := s.store.Get(ctx, key)
	if !hit {
		return nil, false
	}
	var result domain.CalculationResult
	if err := json.Unmarshal(raw, &result); err != nil {
		log.Warn().Str("comp", "pricing").Str("key", key).Msg("dropping undecodable cached result")
		_ = s.store.Delete(ctx, key)
		return nil, false
	}
	return &result, true
}

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestDeadline <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.cfg.RequestDeadline)
}

func dataSources(snaps domain.SnapshotSet) map[string]domain.DataSource {
	return map[string]domain.DataSource{
		domain.SourceKeyBorrowRate: {Source: snaps.Rate.Source, IsFallback: snaps.Rate.IsFallback},
		domain.SourceKeyVolatility: {Source: snaps.Volatility.Source, IsFallback: snaps.Volatility.IsFallback},
		domain.SourceKeyEventRisk:  {Source: snaps.EventRisk.Source, IsFallback: snaps.EventRisk.IsFallback},
	}
}

func auditNotes(snaps domain.SnapshotSet, adj rates.Adjustment) []string {
	var notes []string
	if snaps.Volatility.Sanitized {
		notes = append(notes, "volatility index repaired from negative value")
	}
	if adj.FloorApplied {
		notes = append(notes, "minimum rate floor applied")
	}
	return notes
}
