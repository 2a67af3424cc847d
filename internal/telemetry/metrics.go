package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pricing service. Each
// instance carries its own registry so the exposition endpoint only serves
// what this process registered.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestDuration *prometheus.HistogramVec

	// Cache performance metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
	CacheErrors *prometheus.CounterVec

	// Upstream client metrics
	UpstreamDuration *prometheus.HistogramVec
	UpstreamFailures *prometheus.CounterVec
	FallbacksServed  *prometheus.CounterVec

	// Circuit breaker metrics
	BreakerState       *prometheus.GaugeVec
	BreakerTransitions *prometheus.CounterVec

	// Rate limiter metrics
	RateLimitRejections prometheus.Counter
	RateLimitFailOpen   prometheus.Counter

	// Audit trail metrics
	AuditRecords *prometheus.CounterVec

	// Calculation metrics
	Calculations *prometheus.CounterVec
}

// New creates a metrics registry with all service collectors registered.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "borrowd_request_duration_seconds",
				Help:    "Duration of HTTP requests by endpoint and status",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"endpoint", "status"},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_cache_hits_total",
				Help: "Total number of cache hits by namespace",
			},
			[]string{"namespace"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_cache_misses_total",
				Help: "Total number of cache misses by namespace",
			},
			[]string{"namespace"},
		),

		CacheErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_cache_errors_total",
				Help: "Total number of cache operations that failed open",
			},
			[]string{"namespace", "op"},
		),

		UpstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "borrowd_upstream_duration_seconds",
				Help:    "Duration of upstream API calls by service",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"service"},
		),

		UpstreamFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_upstream_failures_total",
				Help: "Total number of failed upstream calls after retries",
			},
			[]string{"service"},
		),

		FallbacksServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_fallbacks_total",
				Help: "Total number of fallback values served by service",
			},
			[]string{"service"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "borrowd_breaker_state",
				Help: "Circuit breaker state by service (0=closed, 1=half-open, 2=open)",
			},
			[]string{"service"},
		),

		BreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_breaker_transitions_total",
				Help: "Total number of circuit breaker state transitions",
			},
			[]string{"service", "from", "to"},
		),

		RateLimitRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "borrowd_rate_limit_rejections_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
		),

		RateLimitFailOpen: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "borrowd_rate_limit_fail_open_total",
				Help: "Total number of requests allowed because the limiter store was unavailable",
			},
		),

		AuditRecords: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_audit_records_total",
				Help: "Total number of audit records by outcome",
			},
			[]string{"outcome"},
		),

		Calculations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "borrowd_calculations_total",
				Help: "Total number of fee calculations by source",
			},
			[]string{"source"},
		),
	}

	m.registry.MustRegister(
		m.RequestDuration,
		m.CacheHits,
		m.CacheMisses,
		m.CacheErrors,
		m.UpstreamDuration,
		m.UpstreamFailures,
		m.FallbacksServed,
		m.BreakerState,
		m.BreakerTransitions,
		m.RateLimitRejections,
		m.RateLimitFailOpen,
		m.AuditRecords,
		m.Calculations,
	)

	return m
}

// Handler returns the Prometheus exposition handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records the duration and status of one HTTP request.
func (m *Metrics) ObserveRequest(endpoint, status string, duration time.Duration) {
	m.RequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordCacheHit records a cache hit for the given namespace.
func (m *Metrics) RecordCacheHit(namespace string) {
	m.CacheHits.WithLabelValues(namespace).Inc()
}

// RecordCacheMiss records a cache miss for the given namespace.
func (m *Metrics) RecordCacheMiss(namespace string) {
	m.CacheMisses.WithLabelValues(namespace).Inc()
}

// RecordCacheError records a cache operation that failed open.
func (m *Metrics) RecordCacheError(namespace, op string) {
	m.CacheErrors.WithLabelValues(namespace, op).Inc()
}

// ObserveUpstream records the duration of one upstream call.
func (m *Metrics) ObserveUpstream(service string, duration time.Duration) {
	m.UpstreamDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// RecordUpstreamFailure records an upstream call abandoned after retries.
func (m *Metrics) RecordUpstreamFailure(service string) {
	m.UpstreamFailures.WithLabelValues(service).Inc()
}

// RecordFallback records a fallback value served in place of live data.
func (m *Metrics) RecordFallback(service string) {
	m.FallbacksServed.WithLabelValues(service).Inc()
}

// SetBreakerState updates the breaker state gauge for a service.
func (m *Metrics) SetBreakerState(service string, state float64) {
	m.BreakerState.WithLabelValues(service).Set(state)
}

// RecordBreakerTransition records a breaker state change.
func (m *Metrics) RecordBreakerTransition(service, from, to string) {
	m.BreakerTransitions.WithLabelValues(service, from, to).Inc()
}

// RecordRateLimitRejection records a request rejected over budget.
func (m *Metrics) RecordRateLimitRejection() {
	m.RateLimitRejections.Inc()
}

// RecordRateLimitFailOpen records a request allowed on store failure.
func (m *Metrics) RecordRateLimitFailOpen() {
	m.RateLimitFailOpen.Inc()
}

// RecordAudit records an audit record outcome ("emitted", "dropped" or
// "failed").
func (m *Metrics) RecordAudit(outcome string) {
	m.AuditRecords.WithLabelValues(outcome).Inc()
}

// RecordCalculation records a served calculation ("fresh" or "cached").
func (m *Metrics) RecordCalculation(source string) {
	m.Calculations.WithLabelValues(source).Inc()
}
