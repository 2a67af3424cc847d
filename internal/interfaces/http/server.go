// Package http exposes the pricing service over a JSON API: the fee and
// rate endpoints behind API-key auth and per-client rate limiting, plus
// health, readiness, and metrics.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/ratelimit"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// ServerConfig holds listener settings. WriteTimeout must exceed the
// orchestrator's request deadline or slow upstream requests are cut off
// mid-response.
type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// DefaultServerConfig returns the standard listener settings.
func DefaultServerConfig(addr string) ServerConfig {
	return ServerConfig{
		Addr:         addr,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// Deps bundles everything the router serves.
type Deps struct {
	Handlers  *Handlers
	Health    *HealthHandler
	Directory ClientDirectory
	Limiter   *ratelimit.Limiter
	Metrics   *telemetry.Metrics

	// StandardLimit backstops clients whose directory record carries no
	// explicit budget.
	StandardLimit int
}

// Server is the HTTP front of the pricing service.
type Server struct {
	router *mux.Router
	server *http.Server
	health *HealthHandler
	cfg    ServerConfig
}

// NewServer builds the router and the underlying http.Server.
func NewServer(cfg ServerConfig, deps Deps) *Server {
	s := &Server{
		router: mux.NewRouter(),
		health: deps.Health,
		cfg:    cfg,
	}
	s.setupRoutes(deps)

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) setupRoutes(deps Deps) {
	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware(deps.Metrics))
	s.router.Use(recoveryMiddleware)

	s.router.Handle("/health", deps.Health).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", deps.Health.Ready).Methods(http.MethodGet)
	s.router.Handle("/metrics", deps.Metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(deps.Directory))
	api.Use(rateLimitMiddleware(deps.Limiter, deps.StandardLimit))
	api.HandleFunc("/calculate-fee", deps.Handlers.CalculateFee).Methods(http.MethodPost)
	api.HandleFunc("/rates/{ticker}", deps.Handlers.GetRate).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(deps.Handlers.NotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(deps.Handlers.MethodNotAllowed)
}

// Router exposes the configured router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start blocks serving requests until Shutdown or a listener error.
func (s *Server) Start() error {
	s.health.SetReady(true)
	log.Info().Str("comp", "http").Str("addr", s.cfg.Addr).Msg("http server listening")
	return s.server.ListenAndServe()
}

// Shutdown flips readiness off and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	log.Info().Str("comp", "http").Msg("http server shutting down")
	return s.server.Shutdown(ctx)
}

// responseWrapper captures the status code written by a handler.
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
