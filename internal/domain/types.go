// Package domain holds the entities shared across the pricing pipeline and
// the error taxonomy the transport layer maps to HTTP responses.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// BorrowStatus is the ease-of-borrow tier reported by the rate feed.
type BorrowStatus string

const (
	BorrowStatusEasy   BorrowStatus = "EASY"
	BorrowStatusMedium BorrowStatus = "MEDIUM"
	BorrowStatusHard   BorrowStatus = "HARD"
)

// ParseBorrowStatus maps the upstream status string to a tier. Matching is
// case-insensitive and accepts both short and long feed spellings. Anything
// unrecognized is treated as HARD: when the feed is ambiguous the
// conservative tier prices the risk.
func ParseBorrowStatus(s string) BorrowStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "EASY", "EASY_TO_BORROW":
		return BorrowStatusEasy
	case "MEDIUM", "MEDIUM_TO_BORROW":
		return BorrowStatusMedium
	case "HARD", "HARD_TO_BORROW":
		return BorrowStatusHard
	default:
		return BorrowStatusHard
	}
}

// FeeType selects how a broker's transaction fee is charged.
type FeeType string

const (
	FeeTypeFlat       FeeType = "FLAT"
	FeeTypePercentage FeeType = "PERCENTAGE"
)

// ParseFeeType maps a stored fee type string; unknown values report ok=false.
func ParseFeeType(s string) (FeeType, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FLAT":
		return FeeTypeFlat, true
	case "PERCENTAGE":
		return FeeTypePercentage, true
	default:
		return "", false
	}
}

// BrokerConfig is the per-client fee schedule loaded from the broker store.
type BrokerConfig struct {
	ClientID  string          `json:"client_id" db:"client_id"`
	MarkupPct decimal.Decimal `json:"markup_pct" db:"markup_pct"`
	FeeType   FeeType         `json:"fee_type" db:"fee_type"`
	FeeAmount decimal.Decimal `json:"fee_amount" db:"fee_amount"`
	Active    bool            `json:"active" db:"active"`
}

// RateSnapshot is one observation of the upstream borrow-rate feed.
type RateSnapshot struct {
	Ticker     string          `json:"ticker"`
	BaseRate   decimal.Decimal `json:"base_rate"`
	Status     BorrowStatus    `json:"status"`
	MinRate    decimal.Decimal `json:"min_rate"` // per-ticker floor; zero when the feed omits it
	Source     string          `json:"source"`
	FetchedAt  time.Time       `json:"fetched_at"`
	IsFallback bool            `json:"is_fallback"`
}

// VolatilitySnapshot is one observation of the volatility feed. Ticker is
// empty for the market-wide index. Sanitized marks values the client had to
// repair (a negative index is floored to zero) so audit records can say so.
type VolatilitySnapshot struct {
	Ticker     string          `json:"ticker,omitempty"`
	VolIndex   decimal.Decimal `json:"vol_index"`
	Source     string          `json:"source"`
	FetchedAt  time.Time       `json:"fetched_at"`
	IsFallback bool            `json:"is_fallback"`
	Sanitized  bool            `json:"sanitized,omitempty"`
}

// CalendarEvent is a single upcoming corporate event from the event feed.
type CalendarEvent struct {
	EventID    string    `json:"event_id"`
	Ticker     string    `json:"ticker"`
	EventType  string    `json:"event_type"`
	EventDate  time.Time `json:"event_date"`
	RiskFactor int       `json:"risk_factor"`
}

// EventRisk summarizes upcoming-event risk for a ticker. RiskFactor is the
// maximum over all events in the look-ahead window, clamped to [0, 10].
type EventRisk struct {
	Ticker     string          `json:"ticker"`
	RiskFactor int             `json:"risk_factor"`
	Events     []CalendarEvent `json:"events,omitempty"`
	Source     string          `json:"source"`
	FetchedAt  time.Time       `json:"fetched_at"`
	IsFallback bool            `json:"is_fallback"`
}

// FeeBreakdown decomposes a locate fee into its three components.
type FeeBreakdown struct {
	BorrowCost      decimal.Decimal `json:"borrow_cost"`
	Markup          decimal.Decimal `json:"markup"`
	TransactionFees decimal.Decimal `json:"transaction_fees"`
}

// DataSource records where one input of a calculation came from and whether
// the fallback path produced it.
type DataSource struct {
	Source     string `json:"source"`
	IsFallback bool   `json:"is_fallback"`
}

// FeeRequest is the validated input of a calculate-fee operation.
type FeeRequest struct {
	Ticker        string          `json:"ticker"`
	PositionValue decimal.Decimal `json:"position_value"`
	LoanDays      int             `json:"loan_days"`
	ClientID      string          `json:"client_id"`
}

// CalculationResult is the complete output of one fee calculation. It is a
// pure function of the request and the snapshots it captured: identical
// inputs with identical snapshots serialize byte-identically.
type CalculationResult struct {
	TotalFee       decimal.Decimal       `json:"total_fee"`
	Breakdown      FeeBreakdown          `json:"breakdown"`
	BorrowRateUsed decimal.Decimal       `json:"borrow_rate_used"`
	DataSources    map[string]DataSource `json:"data_sources"`
	Fingerprint    string                `json:"fingerprint"`
	CalculatedAt   time.Time             `json:"calculated_at"`
}

// SnapshotSet carries the three upstream observations one request consumed.
type SnapshotSet struct {
	Rate       RateSnapshot       `json:"rate"`
	Volatility VolatilitySnapshot `json:"volatility"`
	EventRisk  EventRisk          `json:"event_risk"`
}

// RateQuote is the response shape of the get-rate operation.
type RateQuote struct {
	Ticker      string                `json:"ticker"`
	CurrentRate decimal.Decimal       `json:"current_rate"`
	Status      BorrowStatus          `json:"status"`
	LastUpdated time.Time             `json:"last_updated"`
	DataSources map[string]DataSource `json:"data_sources,omitempty"`
}

// Client is a resolved API client: identity plus its admitted request budget.
type Client struct {
	ClientID  string `json:"client_id" db:"client_id"`
	Tier      string `json:"tier" db:"tier"`
	RateLimit int    `json:"rate_limit" db:"rate_limit"`
	Active    bool   `json:"active" db:"active"`
}

// Data source map keys used across cache namespaces, audit records and
// response provenance.
const (
	SourceKeyBorrowRate   = "borrow_rate"
	SourceKeyVolatility   = "volatility"
	SourceKeyEventRisk    = "event_risk"
	SourceKeyBrokerConfig = "broker_config"
)
