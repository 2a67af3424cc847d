package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/audit"
	"github.com/shortwire/borrowd/internal/brokerstore"
	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/config"
	"github.com/shortwire/borrowd/internal/fees"
	httpapi "github.com/shortwire/borrowd/internal/interfaces/http"
	"github.com/shortwire/borrowd/internal/pricing"
	"github.com/shortwire/borrowd/internal/ratelimit"
	"github.com/shortwire/borrowd/internal/rates"
	"github.com/shortwire/borrowd/internal/resilience"
	"github.com/shortwire/borrowd/internal/telemetry"
	"github.com/shortwire/borrowd/internal/upstream"
)

func runCheckConfig(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	fmt.Printf("config OK: listening on %s, redis=%q, broker db=%v\n",
		cfg.HTTP.Addr, cfg.Redis.Addr, cfg.Database.DSN != "")
	return nil
}

func runServe(path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	setupLogger(cfg.LogLevel)
	log.Info().Str("comp", "main").Str("version", version).Msg("starting borrowd")

	metrics := telemetry.New()

	store, err := buildStore(cfg, metrics)
	if err != nil {
		return err
	}
	defer store.Close()

	brokers, err := buildBrokerStore(cfg, store)
	if err != nil {
		return err
	}
	defer brokers.Close()

	breakers := resilience.NewBreakerRegistry(resilience.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		Timeout:          cfg.Breaker.Timeout(),
		IsSuccessful:     upstream.IsSuccessfulResponse,
	}, metrics)

	feedDeps := upstream.Deps{
		HTTP:     upstream.NewClient(cfg.Upstreams.Timeout()),
		Store:    store,
		Breakers: breakers,
		Retry: resilience.RetryPolicy{
			MaxAttempts:   cfg.Retry.MaxAttempts,
			InitialWait:   cfg.Retry.InitialWait(),
			BackoffFactor: cfg.Retry.BackoffFactor,
			MaxWait:       cfg.Retry.MaxWait(),
			Jitter:        cfg.Retry.Jitter,
		},
		Metrics: metrics,
	}

	borrowClient := upstream.NewBorrowClient(upstream.BorrowConfig{
		BaseURL:     cfg.Upstreams.BorrowURL,
		MinRate:     cfg.Pricing.MinRate(),
		SnapshotTTL: cfg.CacheTTL.BorrowRate(),
		MinRateTTL:  cfg.CacheTTL.MinRate(),
	}, feedDeps)
	volClient := upstream.NewVolatilityClient(upstream.VolatilityConfig{
		BaseURL:      cfg.Upstreams.VolatilityURL,
		DefaultIndex: cfg.Pricing.FallbackVolatility(),
		SnapshotTTL:  cfg.CacheTTL.Volatility(),
	}, feedDeps)
	eventClient := upstream.NewEventClient(upstream.EventConfig{
		BaseURL:     cfg.Upstreams.EventURL,
		SnapshotTTL: cfg.CacheTTL.EventRisk(),
	}, feedDeps)

	auditor := audit.NewEmitter(audit.NewLogSink(log.Logger), 256, metrics)
	defer auditor.Close()

	service := pricing.NewService(pricing.Config{
		CalculationTTL:   cfg.CacheTTL.Calculation(),
		RequestDeadline:  cfg.HTTP.RequestDeadline(),
		DefaultMarkupPct: cfg.Pricing.FallbackMarkupPct(),
		DefaultFeeFlat:   cfg.Pricing.FallbackFeeFlat(),
	}, pricing.Deps{
		Store:      store,
		Borrow:     borrowClient,
		Volatility: volClient,
		Events:     eventClient,
		Brokers:    brokers,
		Rates:      rates.NewEngine(cfg.Pricing.VolMultiplier(), cfg.Pricing.EventMultiplier(), cfg.Pricing.MinRate()),
		Fees:       fees.NewEngine(cfg.Pricing.DaysInYear),
		Audit:      auditor,
		Metrics:    metrics,
	})

	serverCfg := httpapi.DefaultServerConfig(cfg.HTTP.Addr)
	// The write timeout must outlast the orchestrator deadline or slow
	// upstream requests get cut off mid-response.
	serverCfg.WriteTimeout = cfg.HTTP.RequestDeadline() + 5*time.Second

	server := httpapi.NewServer(serverCfg, httpapi.Deps{
		Handlers:      httpapi.NewHandlers(service),
		Health:        httpapi.NewHealthHandler(store, brokers, breakers, version),
		Directory:     brokers,
		Limiter:       ratelimit.NewLimiter(store, cfg.CacheTTL.RateLimitWindow(), metrics),
		Metrics:       metrics,
		StandardLimit: cfg.RateLimit.Standard,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-stop:
		log.Info().Str("comp", "main").Str("signal", sig.String()).Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info().Str("comp", "main").Msg("shutdown complete")
	return nil
}

// buildStore selects the cache backend: Redis when configured, otherwise the
// in-process store. Either way it is wrapped fail-open so cache trouble
// degrades to misses instead of failed calculations.
func buildStore(cfg *config.Config, metrics *telemetry.Metrics) (cache.Store, error) {
	if cfg.Redis.Addr == "" {
		log.Warn().Str("comp", "main").Msg("REDIS_ADDR unset, using in-process cache; rate limits are per-instance")
		return cache.NewFailOpen(cache.NewMemory(), metrics), nil
	}
	redisStore, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	log.Info().Str("comp", "main").Str("addr", cfg.Redis.Addr).Msg("redis cache connected")
	return cache.NewFailOpen(redisStore, metrics), nil
}

// buildBrokerStore opens the Postgres-backed store, or serves the configured
// static defaults when no DSN is set. Live lookups are cached under the
// broker_config namespace.
func buildBrokerStore(cfg *config.Config, store cache.Store) (brokerstore.Store, error) {
	if cfg.Database.DSN == "" {
		log.Warn().Str("comp", "main").Msg("PG_DSN unset, serving static broker defaults")
		return brokerstore.NewStatic(cfg.Pricing.FallbackMarkupPct(), cfg.Pricing.FallbackFeeFlat(), cfg.RateLimit.Standard), nil
	}
	sqlStore, err := brokerstore.Open(brokerstore.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		QueryTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect broker database: %w", err)
	}
	log.Info().Str("comp", "main").Msg("broker database connected")
	return brokerstore.NewCached(sqlStore, store, cfg.CacheTTL.BrokerConfig()), nil
}
