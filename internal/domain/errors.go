package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error taxonomy. Every failure surfaced by the core is
// one of these variants; the transport layer maps kinds to HTTP statuses.
type Kind int

const (
	KindInvalidParameter Kind = iota
	KindUnauthorized
	KindTickerNotFound
	KindClientNotFound
	KindRateLimitExceeded
	KindExternalUnavailable
	KindCalculationError
)

// Code returns the machine-readable error code for responses and logs.
func (k Kind) Code() string {
	switch k {
	case KindInvalidParameter:
		return "INVALID_PARAMETER"
	case KindUnauthorized:
		return "UNAUTHORIZED"
	case KindTickerNotFound:
		return "TICKER_NOT_FOUND"
	case KindClientNotFound:
		return "CLIENT_NOT_FOUND"
	case KindRateLimitExceeded:
		return "RATE_LIMIT_EXCEEDED"
	case KindExternalUnavailable:
		return "EXTERNAL_UNAVAILABLE"
	case KindCalculationError:
		return "CALCULATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// HTTPStatus returns the transport status for the kind.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidParameter:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindTickerNotFound, KindClientNotFound:
		return http.StatusNotFound
	case KindRateLimitExceeded:
		return http.StatusTooManyRequests
	case KindExternalUnavailable:
		return http.StatusServiceUnavailable
	case KindCalculationError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// FieldError describes one failing field of a validation pass.
type FieldError struct {
	Field    string `json:"field"`
	Location string `json:"location"`
	Message  string `json:"message"`
}

// Error is the core's error type. Fields beyond Kind and Message are
// optional payload for specific kinds: Fields for validation failures,
// RetryAfter for rate limiting, Details for anything a response should
// carry verbatim.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]interface{}
	Fields     []FieldError
	RetryAfter int // seconds; meaningful only for KindRateLimitExceeded
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind.Code(), e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind.Code(), e.Message)
}

// Unwrap exposes the wrapped cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors of the same kind, so callers can compare against
// sentinel constructors without holding the exact instance.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// E builds a plain domain error of the given kind.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef builds a domain error with a formatted message.
func Ef(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to a domain error of the given kind.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// NewValidationError carries the full list of failing fields.
func NewValidationError(fields []FieldError) *Error {
	return &Error{
		Kind:    KindInvalidParameter,
		Message: "request validation failed",
		Fields:  fields,
	}
}

// NewRateLimited reports an exhausted per-client budget.
func NewRateLimited(clientID string, retryAfter int) *Error {
	return &Error{
		Kind:       KindRateLimitExceeded,
		Message:    fmt.Sprintf("rate limit exceeded for client %s", clientID),
		RetryAfter: retryAfter,
	}
}

// AsError extracts the *Error from err's chain; ok=false when err carries
// no domain kind.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind in err's chain, with ok=false for foreign errors.
func KindOf(err error) (Kind, bool) {
	if e, ok := AsError(err); ok {
		return e.Kind, true
	}
	return 0, false
}
