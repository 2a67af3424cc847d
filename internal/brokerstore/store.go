// Package brokerstore resolves broker fee schedules and API clients from
// Postgres. All lookups are read-only; running without a DSN serves static
// defaults so the pricing path works in development.
package brokerstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/domain"
)

// Store resolves broker fee schedules and API clients.
type Store interface {
	// LookupBrokerConfig returns the fee schedule for a client. A missing
	// row is a ClientNotFound domain error; an inactive row is
	// Unauthorized; infrastructure failures are plain wrapped errors the
	// caller may absorb with configured defaults.
	LookupBrokerConfig(ctx context.Context, clientID string) (domain.BrokerConfig, error)

	// LookupClient resolves an API key to a client identity and rate
	// limit. Unknown and revoked keys are Unauthorized; infrastructure
	// failures map to ExternalUnavailable.
	LookupClient(ctx context.Context, apiKey string) (domain.Client, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config holds the broker database connection settings.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
	QueryTimeout time.Duration
}

// SQL is the Postgres-backed Store.
type SQL struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open connects to the broker database and verifies connectivity.
func Open(cfg Config) (*SQL, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("broker database DSN is required")
	}

	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open broker database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping broker database: %w", err)
	}

	return New(db, cfg.QueryTimeout), nil
}

// New wraps an existing connection pool.
func New(db *sqlx.DB, timeout time.Duration) *SQL {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &SQL{db: db, timeout: timeout}
}

const brokerConfigQuery = `
	SELECT client_id, markup_pct, fee_type, fee_amount, active
	FROM broker_configs
	WHERE client_id = $1`

func (s *SQL) LookupBrokerConfig(ctx context.Context, clientID string) (domain.BrokerConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var config domain.BrokerConfig
	err := s.db.GetContext(ctx, &config, brokerConfigQuery, clientID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.BrokerConfig{}, domain.Ef(domain.KindClientNotFound, "no broker config for client %s", clientID)
		}
		return domain.BrokerConfig{}, fmt.Errorf("broker config lookup for %s: %w", clientID, err)
	}
	if !config.Active {
		return domain.BrokerConfig{}, domain.Ef(domain.KindUnauthorized, "broker config for client %s is inactive", clientID)
	}
	return config, nil
}

const clientQuery = `
	SELECT client_id, tier, rate_limit, active
	FROM clients
	WHERE api_key = $1`

func (s *SQL) LookupClient(ctx context.Context, apiKey string) (domain.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var client domain.Client
	err := s.db.GetContext(ctx, &client, clientQuery, apiKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Client{}, domain.E(domain.KindUnauthorized, "unknown API key")
		}
		return domain.Client{}, domain.Wrap(domain.KindExternalUnavailable, "client directory unavailable", err)
	}
	if !client.Active {
		return domain.Client{}, domain.Ef(domain.KindUnauthorized, "client %s is revoked", client.ClientID)
	}
	return client, nil
}

func (s *SQL) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *SQL) Close() error {
	return s.db.Close()
}

// Static serves one fixed fee schedule and admits any API key. It backs the
// service when no broker database is configured.
type Static struct {
	markupPct decimal.Decimal
	feeType   domain.FeeType
	feeAmount decimal.Decimal
	limit     int
}

// NewStatic builds the no-database store from the configured defaults.
func NewStatic(markupPct, feeAmount decimal.Decimal, limit int) *Static {
	return &Static{
		markupPct: markupPct,
		feeType:   domain.FeeTypeFlat,
		feeAmount: feeAmount,
		limit:     limit,
	}
}

func (s *Static) LookupBrokerConfig(_ context.Context, clientID string) (domain.BrokerConfig, error) {
	return domain.BrokerConfig{
		ClientID:  clientID,
		MarkupPct: s.markupPct,
		FeeType:   s.feeType,
		FeeAmount: s.feeAmount,
		Active:    true,
	}, nil
}

// LookupClient trusts the presented key as the client identity. Development
// only; never run this against real traffic.
func (s *Static) LookupClient(_ context.Context, apiKey string) (domain.Client, error) {
	if apiKey == "" {
		return domain.Client{}, domain.E(domain.KindUnauthorized, "missing API key")
	}
	return domain.Client{
		ClientID:  apiKey,
		Tier:      "standard",
		RateLimit: s.limit,
		Active:    true,
	}, nil
}

func (s *Static) Ping(context.Context) error { return nil }
func (s *Static) Close() error               { return nil }
