package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/shortwire/borrowd/internal/domain"
)

// PricingService is the orchestrator surface the handlers call.
type PricingService interface {
	CalculateFee(ctx context.Context, req domain.FeeRequest) (*domain.CalculationResult, error)
	GetRate(ctx context.Context, ticker string) (*domain.RateQuote, error)
}

// Handlers serves the pricing endpoints.
type Handlers struct {
	pricing PricingService
}

// NewHandlers creates the endpoint handlers.
func NewHandlers(pricing PricingService) *Handlers {
	return &Handlers{pricing: pricing}
}

type feeRequestBody struct {
	Ticker        string          `json:"ticker"`
	PositionValue decimal.Decimal `json:"position_value"`
	LoanDays      int             `json:"loan_days"`
	ClientID      string          `json:"client_id"`
}

// CalculateFee prices a locate for the request body's inputs.
func (h *Handlers) CalculateFee(w http.ResponseWriter, r *http.Request) {
	var body feeRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, domain.E(domain.KindInvalidParameter, "malformed request body"))
		return
	}

	result, err := h.pricing.CalculateFee(r.Context(), domain.FeeRequest{
		Ticker:        body.Ticker,
		PositionValue: body.PositionValue,
		LoanDays:      body.LoanDays,
		ClientID:      body.ClientID,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetRate quotes the current adjusted borrow rate for the path ticker.
func (h *Handlers) GetRate(w http.ResponseWriter, r *http.Request) {
	quote, err := h.pricing.GetRate(r.Context(), mux.Vars(r)["ticker"])
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quote)
}

// NotFound answers unmatched routes with the standard envelope.
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, errorBody{
		Status:    "error",
		Error:     "endpoint not found",
		ErrorCode: "NOT_FOUND",
		RequestID: RequestID(r.Context()),
	})
}

// MethodNotAllowed answers unsupported methods on known routes.
func (h *Handlers) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{
		Status:    "error",
		Error:     "method not allowed",
		ErrorCode: "METHOD_NOT_ALLOWED",
		RequestID: RequestID(r.Context()),
	})
}
