package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"github.com/shortwire/borrowd/internal/domain"
)

// errorBody is the envelope every failure response carries.
type errorBody struct {
	Status           string                 `json:"status"`
	Error            string                 `json:"error"`
	ErrorCode        string                 `json:"error_code"`
	Details          map[string]interface{} `json:"details,omitempty"`
	RetryAfter       int                    `json:"retry_after,omitempty"`
	ValidationErrors []domain.FieldError    `json:"validation_errors,omitempty"`
	RequestID        string                 `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Str("comp", "http").Msg("response encoding failed")
	}
}

// writeError maps a domain error onto its transport status and envelope.
// Errors without a domain kind are a bug; they surface as an opaque 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	derr, ok := domain.AsError(err)
	if !ok {
		log.Error().Err(err).
			Str("comp", "http").
			Str("request_id", RequestID(r.Context())).
			Msg("unclassified error reached the transport layer")
		writeJSON(w, http.StatusInternalServerError, errorBody{
			Status:    "error",
			Error:     "internal error",
			ErrorCode: "INTERNAL",
			RequestID: RequestID(r.Context()),
		})
		return
	}

	if derr.Kind == domain.KindRateLimitExceeded && derr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(derr.RetryAfter))
	}
	writeJSON(w, derr.Kind.HTTPStatus(), errorBody{
		Status:           "error",
		Error:            derr.Message,
		ErrorCode:        derr.Kind.Code(),
		Details:          derr.Details,
		RetryAfter:       derr.RetryAfter,
		ValidationErrors: derr.Fields,
		RequestID:        RequestID(r.Context()),
	})
}
