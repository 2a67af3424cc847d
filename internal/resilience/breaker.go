package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/shortwire/borrowd/internal/telemetry"
)

// BreakerSettings holds the thresholds for one circuit breaker.
type BreakerSettings struct {
	FailureThreshold int           // Consecutive failures to open
	SuccessThreshold int           // Consecutive successes to close from half-open
	Timeout          time.Duration // Open duration before probing

	// IsSuccessful classifies errors returned by wrapped calls. Errors it
	// reports as successful do not count toward tripping; the error still
	// propagates to the caller. Nil counts every non-nil error as a failure.
	IsSuccessful func(err error) bool
}

// DefaultBreakerSettings returns the standard upstream breaker thresholds.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		Timeout:          60 * time.Second,
	}
}

// Breaker wraps one gobreaker instance for a named upstream. State lives
// in-process; workers do not coordinate breaker state across instances.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	openedAt time.Time
}

// NewBreaker creates a named breaker. Transitions are logged and, when
// metrics is non-nil, exported.
func NewBreaker(name string, settings BreakerSettings, metrics *telemetry.Metrics) *Breaker {
	b := &Breaker{name: name}

	st := gobreaker.Settings{
		Name: name,
		// MaxRequests doubles as the consecutive-success threshold for
		// closing from half-open.
		MaxRequests:  uint32(settings.SuccessThreshold),
		Timeout:      settings.Timeout,
		IsSuccessful: settings.IsSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(settings.FailureThreshold)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.recordTransition(from, to)
			if metrics != nil {
				metrics.RecordBreakerTransition(name, from.String(), to.String())
				metrics.SetBreakerState(name, stateGauge(to))
			}
			log.Warn().
				Str("comp", "breaker").
				Str("service", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	}

	b.cb = gobreaker.NewCircuitBreaker(st)
	return b
}

// Execute runs fn under the breaker. While open it returns the breaker's
// rejection error without calling fn.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	return b.cb.Execute(fn)
}

// State returns the current state name.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// OpenedAt returns when the breaker last opened, zero if it has closed
// since.
func (b *Breaker) OpenedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.openedAt
}

func (b *Breaker) recordTransition(from, to gobreaker.State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch to {
	case gobreaker.StateOpen:
		b.openedAt = time.Now()
	case gobreaker.StateClosed:
		b.openedAt = time.Time{}
	}
}

// IsOpen reports whether err is a breaker rejection rather than a failure
// of the wrapped call.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

func stateGauge(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return -1
	}
}

// BreakerRegistry hands out one breaker per upstream service name.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	settings BreakerSettings
	metrics  *telemetry.Metrics
}

// NewBreakerRegistry creates a registry applying the same settings to every
// breaker it creates.
func NewBreakerRegistry(settings BreakerSettings, metrics *telemetry.Metrics) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
		settings: settings,
		metrics:  metrics,
	}
}

// Get returns the breaker for a service, creating it on first use.
func (r *BreakerRegistry) Get(name string) *Breaker {
	r.mu.RLock()
	breaker, exists := r.breakers[name]
	r.mu.RUnlock()
	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if breaker, exists = r.breakers[name]; exists {
		return breaker
	}
	breaker = NewBreaker(name, r.settings, r.metrics)
	r.breakers[name] = breaker
	return breaker
}

// States returns the current state name per registered service.
func (r *BreakerRegistry) States() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	states := make(map[string]string, len(r.breakers))
	for name, breaker := range r.breakers {
		states[name] = breaker.State()
	}
	return states
}
