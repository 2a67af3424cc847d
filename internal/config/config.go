package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete service configuration. Values come from three
// layers, later layers winning: built-in defaults, an optional YAML file,
// and environment variables.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Upstreams UpstreamsConfig `yaml:"upstreams"`
	Pricing   PricingConfig   `yaml:"pricing"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retry     RetryConfig     `yaml:"retry"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	CacheTTL  CacheTTLConfig  `yaml:"cache_ttl"`
	LogLevel  string          `yaml:"log_level"`
}

// HTTPConfig holds listener settings.
type HTTPConfig struct {
	Addr             string `yaml:"addr"`
	RequestDeadlineS int    `yaml:"request_deadline_s"` // Overall per-request budget
}

// RedisConfig holds cache store settings. An empty Addr selects the
// in-process store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig holds broker-store settings. An empty DSN disables the
// store and serves built-in broker defaults.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// UpstreamsConfig holds the three upstream base URLs and the per-attempt
// timeout shared by their clients.
type UpstreamsConfig struct {
	BorrowURL     string `yaml:"borrow_url"`
	VolatilityURL string `yaml:"volatility_url"`
	EventURL      string `yaml:"event_url"`
	TimeoutS      int    `yaml:"timeout_s"`
}

// PricingConfig holds the rate and fee calculation parameters.
type PricingConfig struct {
	DaysInYear        int     `yaml:"days_in_year"`
	MinBorrowRate     float64 `yaml:"min_borrow_rate"`
	VolFactor         float64 `yaml:"vol_factor"`
	EventFactor       float64 `yaml:"event_factor"`
	DefaultMarkupPct  float64 `yaml:"default_markup_pct"`
	DefaultFeeFlat    float64 `yaml:"default_fee_flat"`
	DefaultVolatility float64 `yaml:"default_volatility"`
}

// RateLimitConfig holds per-tier request budgets in requests per minute.
type RateLimitConfig struct {
	Standard int `yaml:"standard"`
	Premium  int `yaml:"premium"`
}

// RetryConfig holds exponential backoff parameters.
type RetryConfig struct {
	MaxAttempts   int     `yaml:"max_attempts"`
	InitialWaitMS int     `yaml:"initial_wait_ms"`
	BackoffFactor float64 `yaml:"backoff_factor"`
	MaxWaitMS     int     `yaml:"max_wait_ms"`
	Jitter        float64 `yaml:"jitter"` // Fraction of the wait, e.g. 0.1
}

// BreakerConfig holds per-upstream circuit breaker thresholds.
type BreakerConfig struct {
	FailThreshold    int `yaml:"fail_threshold"`
	SuccessThreshold int `yaml:"success_threshold"`
	TimeoutS         int `yaml:"timeout_s"`
}

// CacheTTLConfig holds per-namespace TTLs in seconds.
type CacheTTLConfig struct {
	BorrowRateS   int `yaml:"borrow_rate_s"`
	VolatilityS   int `yaml:"volatility_s"`
	EventRiskS    int `yaml:"event_risk_s"`
	BrokerConfigS int `yaml:"broker_config_s"`
	CalculationS  int `yaml:"calculation_s"`
	MinRateS      int `yaml:"min_rate_s"`
	RateLimitS    int `yaml:"rate_limit_s"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:             ":8080",
			RequestDeadlineS: 30,
		},
		Redis: RedisConfig{},
		Database: DatabaseConfig{
			MaxOpenConns: 10,
			MaxIdleConns: 5,
		},
		Upstreams: UpstreamsConfig{
			TimeoutS: 10,
		},
		Pricing: PricingConfig{
			DaysInYear:        365,
			MinBorrowRate:     0.0001,
			VolFactor:         0.01,
			EventFactor:       0.05,
			DefaultMarkupPct:  5.0,
			DefaultFeeFlat:    25.0,
			DefaultVolatility: 20.0,
		},
		RateLimit: RateLimitConfig{
			Standard: 60,
			Premium:  300,
		},
		Retry: RetryConfig{
			MaxAttempts:   3,
			InitialWaitMS: 100,
			BackoffFactor: 2,
			MaxWaitMS:     30000,
			Jitter:        0.1,
		},
		Breaker: BreakerConfig{
			FailThreshold:    5,
			SuccessThreshold: 3,
			TimeoutS:         60,
		},
		CacheTTL: CacheTTLConfig{
			BorrowRateS:   300,
			VolatilityS:   900,
			EventRiskS:    3600,
			BrokerConfigS: 1800,
			CalculationS:  60,
			MinRateS:      86400,
			RateLimitS:    60,
		},
		LogLevel: "info",
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// environment variable overrides, then validates the result.
func Load(configPath string) (*Config, error) {
	config := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
			}
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides. Malformed
// values are ignored in favor of the current value.
func applyEnvOverrides(config *Config) {
	overrideString(&config.HTTP.Addr, "HTTP_ADDR")
	overrideInt(&config.HTTP.RequestDeadlineS, "REQUEST_DEADLINE_S")

	overrideString(&config.Redis.Addr, "REDIS_ADDR")
	overrideString(&config.Redis.Password, "REDIS_PASSWORD")
	overrideInt(&config.Redis.DB, "REDIS_DB")

	overrideString(&config.Database.DSN, "PG_DSN")
	overrideInt(&config.Database.MaxOpenConns, "PG_MAX_OPEN_CONNS")
	overrideInt(&config.Database.MaxIdleConns, "PG_MAX_IDLE_CONNS")

	overrideString(&config.Upstreams.BorrowURL, "BORROW_API_URL")
	overrideString(&config.Upstreams.VolatilityURL, "VOLATILITY_API_URL")
	overrideString(&config.Upstreams.EventURL, "EVENT_API_URL")
	overrideInt(&config.Upstreams.TimeoutS, "UPSTREAM_TIMEOUT_S")

	overrideInt(&config.Pricing.DaysInYear, "DAYS_IN_YEAR")
	overrideFloat(&config.Pricing.MinBorrowRate, "MIN_BORROW_RATE")
	overrideFloat(&config.Pricing.VolFactor, "VOL_FACTOR")
	overrideFloat(&config.Pricing.EventFactor, "EVENT_FACTOR")
	overrideFloat(&config.Pricing.DefaultMarkupPct, "DEFAULT_MARKUP_PCT")
	overrideFloat(&config.Pricing.DefaultFeeFlat, "DEFAULT_FEE_FLAT")
	overrideFloat(&config.Pricing.DefaultVolatility, "DEFAULT_VOLATILITY")

	overrideInt(&config.RateLimit.Standard, "LIMIT_STANDARD")
	overrideInt(&config.RateLimit.Premium, "LIMIT_PREMIUM")

	overrideInt(&config.Retry.MaxAttempts, "RETRY_MAX_ATTEMPTS")
	overrideInt(&config.Retry.InitialWaitMS, "RETRY_INITIAL_WAIT_MS")
	overrideFloat(&config.Retry.BackoffFactor, "RETRY_BACKOFF_FACTOR")
	overrideInt(&config.Retry.MaxWaitMS, "RETRY_MAX_WAIT_MS")
	overrideFloat(&config.Retry.Jitter, "RETRY_JITTER")

	overrideInt(&config.Breaker.FailThreshold, "CB_FAIL_THRESHOLD")
	overrideInt(&config.Breaker.SuccessThreshold, "CB_SUCCESS_THRESHOLD")
	overrideInt(&config.Breaker.TimeoutS, "CB_TIMEOUT_S")

	overrideInt(&config.CacheTTL.BorrowRateS, "CACHE_TTL_BORROW_RATE")
	overrideInt(&config.CacheTTL.VolatilityS, "CACHE_TTL_VOLATILITY")
	overrideInt(&config.CacheTTL.EventRiskS, "CACHE_TTL_EVENT_RISK")
	overrideInt(&config.CacheTTL.BrokerConfigS, "CACHE_TTL_BROKER_CONFIG")
	overrideInt(&config.CacheTTL.CalculationS, "CACHE_TTL_CALCULATION")
	overrideInt(&config.CacheTTL.MinRateS, "CACHE_TTL_MIN_RATE")
	overrideInt(&config.CacheTTL.RateLimitS, "CACHE_TTL_RATE_LIMIT")

	overrideString(&config.LogLevel, "LOG_LEVEL")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func overrideInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func overrideFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}

// Validate ensures the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.HTTP.Addr == "" {
		return fmt.Errorf("http addr cannot be empty")
	}
	if c.HTTP.RequestDeadlineS <= 0 {
		return fmt.Errorf("request_deadline_s must be positive, got %d", c.HTTP.RequestDeadlineS)
	}
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("max_open_conns must be positive, got %d", c.Database.MaxOpenConns)
	}
	if c.Database.MaxIdleConns < 0 || c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("max_idle_conns must be between 0 and max_open_conns, got %d", c.Database.MaxIdleConns)
	}
	if c.Upstreams.TimeoutS <= 0 {
		return fmt.Errorf("upstream timeout_s must be positive, got %d", c.Upstreams.TimeoutS)
	}
	if err := c.Pricing.validate(); err != nil {
		return fmt.Errorf("pricing: %w", err)
	}
	if c.RateLimit.Standard <= 0 || c.RateLimit.Premium <= 0 {
		return fmt.Errorf("rate limits must be positive, got standard=%d premium=%d", c.RateLimit.Standard, c.RateLimit.Premium)
	}
	if err := c.Retry.validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Breaker.validate(); err != nil {
		return fmt.Errorf("breaker: %w", err)
	}
	if err := c.CacheTTL.validate(); err != nil {
		return fmt.Errorf("cache_ttl: %w", err)
	}
	return nil
}

func (p *PricingConfig) validate() error {
	if p.DaysInYear <= 0 {
		return fmt.Errorf("days_in_year must be positive, got %d", p.DaysInYear)
	}
	if p.MinBorrowRate < 0 {
		return fmt.Errorf("min_borrow_rate cannot be negative, got %f", p.MinBorrowRate)
	}
	if p.VolFactor < 0 {
		return fmt.Errorf("vol_factor cannot be negative, got %f", p.VolFactor)
	}
	if p.EventFactor < 0 {
		return fmt.Errorf("event_factor cannot be negative, got %f", p.EventFactor)
	}
	if p.DefaultMarkupPct < 0 {
		return fmt.Errorf("default_markup_pct cannot be negative, got %f", p.DefaultMarkupPct)
	}
	if p.DefaultFeeFlat < 0 {
		return fmt.Errorf("default_fee_flat cannot be negative, got %f", p.DefaultFeeFlat)
	}
	return nil
}

func (r *RetryConfig) validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1, got %d", r.MaxAttempts)
	}
	if r.InitialWaitMS <= 0 {
		return fmt.Errorf("initial_wait_ms must be positive, got %d", r.InitialWaitMS)
	}
	if r.BackoffFactor < 1 {
		return fmt.Errorf("backoff_factor must be at least 1, got %f", r.BackoffFactor)
	}
	if r.MaxWaitMS < r.InitialWaitMS {
		return fmt.Errorf("max_wait_ms (%d) must be >= initial_wait_ms (%d)", r.MaxWaitMS, r.InitialWaitMS)
	}
	if r.Jitter < 0 || r.Jitter >= 1 {
		return fmt.Errorf("jitter must be in [0, 1), got %f", r.Jitter)
	}
	return nil
}

func (b *BreakerConfig) validate() error {
	if b.FailThreshold <= 0 {
		return fmt.Errorf("fail_threshold must be positive, got %d", b.FailThreshold)
	}
	if b.SuccessThreshold <= 0 {
		return fmt.Errorf("success_threshold must be positive, got %d", b.SuccessThreshold)
	}
	if b.TimeoutS <= 0 {
		return fmt.Errorf("timeout_s must be positive, got %d", b.TimeoutS)
	}
	return nil
}

func (t *CacheTTLConfig) validate() error {
	ttls := map[string]int{
		"borrow_rate_s":   t.BorrowRateS,
		"volatility_s":    t.VolatilityS,
		"event_risk_s":    t.EventRiskS,
		"broker_config_s": t.BrokerConfigS,
		"calculation_s":   t.CalculationS,
		"min_rate_s":      t.MinRateS,
		"rate_limit_s":    t.RateLimitS,
	}
	for name, v := range ttls {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, v)
		}
	}
	return nil
}

// RequestDeadline returns the overall per-request budget.
func (h HTTPConfig) RequestDeadline() time.Duration {
	return time.Duration(h.RequestDeadlineS) * time.Second
}

// Timeout returns the per-attempt upstream timeout.
func (u UpstreamsConfig) Timeout() time.Duration {
	return time.Duration(u.TimeoutS) * time.Second
}

// InitialWait returns the first backoff wait.
func (r RetryConfig) InitialWait() time.Duration {
	return time.Duration(r.InitialWaitMS) * time.Millisecond
}

// MaxWait returns the backoff ceiling.
func (r RetryConfig) MaxWait() time.Duration {
	return time.Duration(r.MaxWaitMS) * time.Millisecond
}

// Timeout returns how long an open breaker waits before probing.
func (b BreakerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutS) * time.Second
}

// MinRate returns the borrow-rate floor as a decimal.
func (p PricingConfig) MinRate() decimal.Decimal {
	return decimal.NewFromFloat(p.MinBorrowRate)
}

// VolMultiplier returns the volatility multiplier as a decimal.
func (p PricingConfig) VolMultiplier() decimal.Decimal {
	return decimal.NewFromFloat(p.VolFactor)
}

// EventMultiplier returns the event-risk multiplier as a decimal.
func (p PricingConfig) EventMultiplier() decimal.Decimal {
	return decimal.NewFromFloat(p.EventFactor)
}

// FallbackMarkupPct returns the markup applied when no broker config is
// available.
func (p PricingConfig) FallbackMarkupPct() decimal.Decimal {
	return decimal.NewFromFloat(p.DefaultMarkupPct)
}

// FallbackFeeFlat returns the flat transaction fee applied when no broker
// config is available.
func (p PricingConfig) FallbackFeeFlat() decimal.Decimal {
	return decimal.NewFromFloat(p.DefaultFeeFlat)
}

// FallbackVolatility returns the volatility index used when both the
// per-ticker and market-wide lookups fail.
func (p PricingConfig) FallbackVolatility() decimal.Decimal {
	return decimal.NewFromFloat(p.DefaultVolatility)
}

func ttl(seconds int) time.Duration {
	return time.Duration(seconds) * time.Second
}

// BorrowRate returns the borrow_rate namespace TTL.
func (t CacheTTLConfig) BorrowRate() time.Duration { return ttl(t.BorrowRateS) }

// Volatility returns the volatility namespace TTL.
func (t CacheTTLConfig) Volatility() time.Duration { return ttl(t.VolatilityS) }

// EventRisk returns the event_risk namespace TTL.
func (t CacheTTLConfig) EventRisk() time.Duration { return ttl(t.EventRiskS) }

// BrokerConfig returns the broker_config namespace TTL.
func (t CacheTTLConfig) BrokerConfig() time.Duration { return ttl(t.BrokerConfigS) }

// Calculation returns the calculation namespace TTL.
func (t CacheTTLConfig) Calculation() time.Duration { return ttl(t.CalculationS) }

// MinRate returns the min_rate namespace TTL.
func (t CacheTTLConfig) MinRate() time.Duration { return ttl(t.MinRateS) }

// RateLimitWindow returns the rate_limit namespace TTL.
func (t CacheTTLConfig) RateLimitWindow() time.Duration { return ttl(t.RateLimitS) }
