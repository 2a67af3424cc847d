package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/domain"
	"github.com/shortwire/borrowd/internal/ratelimit"
	"github.com/shortwire/borrowd/internal/telemetry"
)

// ClientDirectory resolves presented API keys to client records.
type ClientDirectory interface {
	LookupClient(ctx context.Context, apiKey string) (domain.Client, error)
}

type contextKey int

const (
	requestIDKey contextKey = iota
	clientKey
)

// RequestID returns the id stamped on the request, "" outside one.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// AuthedClient returns the client record resolved by the auth middleware.
func AuthedClient(ctx context.Context) (domain.Client, bool) {
	client, ok := ctx.Value(clientKey).(domain.Client)
	return client, ok
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		ctx := context.WithValue(r.Context(), requestIDKey, requestID)
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(metrics *telemetry.Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(wrapper, r)

			duration := time.Since(start)
			metrics.ObserveRequest(routeTemplate(r), strconv.Itoa(wrapper.statusCode), duration)
			log.Info().
				Str("comp", "http").
				Str("request_id", RequestID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", wrapper.statusCode).
				Dur("duration", duration).
				Str("remote", r.RemoteAddr).
				Msg("request served")
		})
	}
}

// routeTemplate returns the matched mux pattern so metric labels stay
// bounded regardless of path values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Error().
					Str("comp", "http").
					Str("request_id", RequestID(r.Context())).
					Interface("panic", rec).
					Msg("handler panic recovered")
				writeJSON(w, http.StatusInternalServerError, errorBody{
					Status:    "error",
					Error:     "internal error",
					ErrorCode: "INTERNAL",
					RequestID: RequestID(r.Context()),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves X-API-Key through the client directory. The
// resolved record carries the identity and budget the rate limiter uses;
// the request body's client_id separately selects the billed fee schedule.
func authMiddleware(directory ClientDirectory) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			if apiKey == "" {
				writeError(w, r, domain.E(domain.KindUnauthorized, "missing API key"))
				return
			}

			client, err := directory.LookupClient(r.Context(), apiKey)
			if err != nil {
				writeError(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), clientKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// rateLimitMiddleware admits requests against the authed client's budget
// and stamps the X-RateLimit headers on every response, rejected ones
// included.
func rateLimitMiddleware(limiter *ratelimit.Limiter, standardLimit int) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := AuthedClient(r.Context())
			if !ok {
				writeError(w, r, domain.E(domain.KindUnauthorized, "request not authenticated"))
				return
			}

			limit := client.RateLimit
			if limit <= 0 {
				limit = standardLimit
			}

			decision := limiter.Allow(r.Context(), client.ClientID, limit)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.Itoa(decision.Reset))

			if !decision.Allowed {
				writeError(w, r, domain.NewRateLimited(client.ClientID, decision.RetryAfter))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
