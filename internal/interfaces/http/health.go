package http

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Pinger is the liveness probe of one backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

// BreakerStates reports per-upstream circuit state.
type BreakerStates interface {
	States() map[string]string
}

// HealthHandler reports component health and process readiness. Every
// dependency has a degraded-mode fallback, so component failures report
// "degraded" rather than failing the probe; readiness only flips off
// during shutdown.
type HealthHandler struct {
	cache    Pinger
	brokers  Pinger
	breakers BreakerStates
	version  string
	start    time.Time

	ready int32
}

// NewHealthHandler creates the health and readiness probes.
func NewHealthHandler(cache, brokers Pinger, breakers BreakerStates, version string) *HealthHandler {
	return &HealthHandler{
		cache:    cache,
		brokers:  brokers,
		breakers: breakers,
		version:  version,
		start:    time.Now(),
	}
}

// SetReady flips the readiness probe.
func (h *HealthHandler) SetReady(ready bool) {
	var v int32
	if ready {
		v = 1
	}
	atomic.StoreInt32(&h.ready, v)
}

type componentStatus struct {
	Status string `json:"status"` // "ok", "degraded", "down"
	Detail string `json:"detail,omitempty"`
}

type healthComponents struct {
	Cache     componentStatus            `json:"cache"`
	BrokerDB  componentStatus            `json:"broker_db"`
	Upstreams map[string]componentStatus `json:"upstreams"`
}

type healthResponse struct {
	Status     string           `json:"status"` // "healthy" or "degraded"
	Timestamp  time.Time        `json:"timestamp"`
	Uptime     string           `json:"uptime"`
	Version    string           `json:"version"`
	Components healthComponents `json:"components"`
}

// ServeHTTP answers the health probe. Degraded components do not change
// the 200 status; the response body says what is limping.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	components := healthComponents{
		Cache:     pingStatus(ctx, h.cache),
		BrokerDB:  pingStatus(ctx, h.brokers),
		Upstreams: make(map[string]componentStatus),
	}
	for name, state := range h.breakers.States() {
		components.Upstreams[name] = breakerStatus(state)
	}

	status := "healthy"
	if components.Cache.Status != "ok" || components.BrokerDB.Status != "ok" {
		status = "degraded"
	}
	for _, upstream := range components.Upstreams {
		if upstream.Status != "ok" {
			status = "degraded"
		}
	}

	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, http.StatusOK, healthResponse{
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Uptime:     time.Since(h.start).Round(time.Second).String(),
		Version:    h.version,
		Components: components,
	})
}

// Ready answers the readiness probe: 200 while serving, 503 once shutdown
// has begun.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if atomic.LoadInt32(&h.ready) == 1 {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "draining"})
}

func pingStatus(ctx context.Context, p Pinger) componentStatus {
	if err := p.Ping(ctx); err != nil {
		return componentStatus{Status: "down", Detail: err.Error()}
	}
	return componentStatus{Status: "ok"}
}

func breakerStatus(state string) componentStatus {
	switch state {
	case "closed":
		return componentStatus{Status: "ok"}
	case "half-open":
		return componentStatus{Status: "degraded", Detail: "probing after failures"}
	default:
		return componentStatus{Status: "down", Detail: "circuit open"}
	}
}
