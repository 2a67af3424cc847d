// Package validate normalizes and checks request inputs before any pricing
// work happens. All failing fields are reported together so a caller can
// fix a request in one round trip.
package validate

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/domain"
)

var (
	tickerPattern   = regexp.MustCompile(`^[A-Z]{1,5}$`)
	clientIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

	minPositionValue = decimal.NewFromFloat(0.01)
	maxPositionValue = decimal.NewFromInt(1_000_000_000)
)

const (
	minLoanDays = 1
	maxLoanDays = 365
)

// FeeRequest normalizes req in place (ticker trimmed and uppercased,
// client id trimmed) and validates every field. The returned error is an
// InvalidParameter domain error listing each failing field, or nil.
func FeeRequest(req *domain.FeeRequest) error {
	var fields []domain.FieldError

	req.Ticker = strings.ToUpper(strings.TrimSpace(req.Ticker))
	if !tickerPattern.MatchString(req.Ticker) {
		fields = append(fields, domain.FieldError{
			Field:    "ticker",
			Location: "body",
			Message:  "must be 1-5 uppercase letters",
		})
	}

	if req.PositionValue.LessThan(minPositionValue) || req.PositionValue.GreaterThan(maxPositionValue) {
		fields = append(fields, domain.FieldError{
			Field:    "position_value",
			Location: "body",
			Message:  "must be between 0.01 and 1000000000",
		})
	}

	if req.LoanDays < minLoanDays || req.LoanDays > maxLoanDays {
		fields = append(fields, domain.FieldError{
			Field:    "loan_days",
			Location: "body",
			Message:  "must be an integer between 1 and 365",
		})
	}

	req.ClientID = strings.TrimSpace(req.ClientID)
	if !clientIDPattern.MatchString(req.ClientID) {
		fields = append(fields, domain.FieldError{
			Field:    "client_id",
			Location: "body",
			Message:  "must be 3-50 characters of letters, digits, underscore, or hyphen",
		})
	}

	if len(fields) > 0 {
		return domain.NewValidationError(fields)
	}
	return nil
}

// Ticker normalizes and validates a ticker from a URL path.
func Ticker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if !tickerPattern.MatchString(ticker) {
		return "", domain.NewValidationError([]domain.FieldError{{
			Field:    "ticker",
			Location: "path",
			Message:  "must be 1-5 uppercase letters",
		}})
	}
	return ticker, nil
}

// ClientID validates a client identifier outside a full fee request, as
// the auth middleware does for resolved API keys.
func ClientID(raw string) (string, error) {
	clientID := strings.TrimSpace(raw)
	if !clientIDPattern.MatchString(clientID) {
		return "", domain.NewValidationError([]domain.FieldError{{
			Field:    "client_id",
			Location: "header",
			Message:  "must be 3-50 characters of letters, digits, underscore, or hyphen",
		}})
	}
	return clientID, nil
}
