package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwire/borrowd/internal/cache"
	"github.com/shortwire/borrowd/internal/domain"
	"github.com/shortwire/borrowd/internal/ratelimit"
	"github.com/shortwire/borrowd/internal/telemetry"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type stubPricing struct {
	result  *domain.CalculationResult
	quote   *domain.RateQuote
	err     error
	lastReq domain.FeeRequest
}

func (s *stubPricing) CalculateFee(_ context.Context, req domain.FeeRequest) (*domain.CalculationResult, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubPricing) GetRate(_ context.Context, _ string) (*domain.RateQuote, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.quote, nil
}

type stubDirectory struct {
	clients map[string]domain.Client
	err     error
}

func (s *stubDirectory) LookupClient(_ context.Context, apiKey string) (domain.Client, error) {
	if s.err != nil {
		return domain.Client{}, s.err
	}
	client, ok := s.clients[apiKey]
	if !ok {
		return domain.Client{}, domain.E(domain.KindUnauthorized, "unknown API key")
	}
	return client, nil
}

type stubBreakers struct {
	states map[string]string
}

func (s stubBreakers) States() map[string]string {
	if s.states == nil {
		return map[string]string{}
	}
	return s.states
}

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

func sampleResult() *domain.CalculationResult {
	return &domain.CalculationResult{
		TotalFee: dec("547.9863"),
		Breakdown: domain.FeeBreakdown{
			BorrowCost:      dec("498.0822"),
			Markup:          dec("24.9041"),
			TransactionFees: dec("25"),
		},
		BorrowRateUsed: dec("0.0606"),
		DataSources: map[string]domain.DataSource{
			domain.SourceKeyBorrowRate: {Source: "live"},
		},
		Fingerprint:  "AAPL:100000:30:5:FLAT:25",
		CalculatedAt: time.Date(2025, 11, 14, 10, 30, 0, 0, time.UTC),
	}
}

func newTestServer(t *testing.T, pricing PricingService) (*Server, *stubDirectory) {
	t.Helper()

	metrics := telemetry.New()
	directory := &stubDirectory{clients: map[string]domain.Client{
		"key-standard": {ClientID: "client_A", Tier: "standard", RateLimit: 60, Active: true},
		"key-tight":    {ClientID: "client_T", Tier: "standard", RateLimit: 1, Active: true},
	}}
	srv := NewServer(DefaultServerConfig(":0"), Deps{
		Handlers:      NewHandlers(pricing),
		Health:        NewHealthHandler(okPinger{}, okPinger{}, stubBreakers{}, "test"),
		Directory:     directory,
		Limiter:       ratelimit.NewLimiter(cache.NewMemory(), time.Minute, metrics),
		Metrics:       metrics,
		StandardLimit: 60,
	})
	return srv, directory
}

func doJSON(srv *Server, method, path, apiKey, body string) *httptest.ResponseRecorder {
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

const feeBody = `{"ticker":"AAPL","position_value":100000,"loan_days":30,"client_id":"client_A"}`

func TestCalculateFeeEndpoint(t *testing.T) {
	pricing := &stubPricing{result: sampleResult()}
	srv, _ := newTestServer(t, pricing)

	rec := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-standard", feeBody)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "59", rec.Header().Get("X-RateLimit-Remaining"))

	var result domain.CalculationResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.TotalFee.Equal(dec("547.9863")), "total = %s", result.TotalFee)
	assert.True(t, result.Breakdown.BorrowCost.Equal(dec("498.0822")))

	assert.Equal(t, "AAPL", pricing.lastReq.Ticker)
	assert.True(t, pricing.lastReq.PositionValue.Equal(dec("100000")))
	assert.Equal(t, 30, pricing.lastReq.LoanDays)
	assert.Equal(t, "client_A", pricing.lastReq.ClientID)
}

func TestCalculateFeeRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, &stubPricing{result: sampleResult()})

	rec := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-standard", `{"ticker":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "INVALID_PARAMETER", body.ErrorCode)
	assert.NotEmpty(t, body.RequestID)
}

func TestCalculateFeeValidationEnvelope(t *testing.T) {
	pricing := &stubPricing{err: domain.NewValidationError([]domain.FieldError{
		{Field: "loan_days", Location: "body", Message: "must be an integer between 1 and 365"},
	})}
	srv, _ := newTestServer(t, pricing)

	rec := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-standard", feeBody)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_PARAMETER", body.ErrorCode)
	require.Len(t, body.ValidationErrors, 1)
	assert.Equal(t, "loan_days", body.ValidationErrors[0].Field)
}

func TestCalculateFeeRequiresAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, &stubPricing{result: sampleResult()})

	rec := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "", feeBody)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body.ErrorCode)
}

func TestCalculateFeeUnknownAPIKey(t *testing.T) {
	srv, _ := newTestServer(t, &stubPricing{result: sampleResult()})

	rec := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-bogus", feeBody)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthDirectoryOutageIsServiceUnavailable(t *testing.T) {
	srv, directory := newTestServer(t, &stubPricing{result: sampleResult()})
	directory.err = domain.Wrap(domain.KindExternalUnavailable, "client directory unavailable", context.DeadlineExceeded)

	rec := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-standard", feeBody)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "EXTERNAL_UNAVAILABLE", body.ErrorCode)
}

func TestRateLimitRejectionCarriesRetryAfter(t *testing.T) {
	srv, _ := newTestServer(t, &stubPricing{result: sampleResult()})

	first := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-tight", feeBody)
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := doJSON(srv, http.MethodPost, "/api/v1/calculate-fee", "key-tight", feeBody)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "1", second.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	retryAfter, err := strconv.Atoi(second.Header().Get("Retry-After"))
	require.NoError(t, err)
	assert.Greater(t, retryAfter, 0)
	assert.LessOrEqual(t, retryAfter, 60)

	var body errorBody
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.ErrorCode)
	assert.Equal(t, retryAfter, body.RetryAfter)
}

func TestGetRateEndpoint(t *testing.T) {
	pricing := &stubPricing{quote: &domain.RateQuote{
		Ticker:      "AAPL",
		CurrentRate: dec("0.0606"),
		Status:      domain.BorrowStatusEasy,
		LastUpdated: time.Date(2025, 11, 14, 10, 30, 0, 0, time.UTC),
	}}
	srv, _ := newTestServer(t, pricing)

	rec := doJSON(srv, http.MethodGet, "/api/v1/rates/AAPL", "key-standard", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var quote domain.RateQuote
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &quote))
	assert.Equal(t, "AAPL", quote.Ticker)
	assert.True(t, quote.CurrentRate.Equal(dec("0.0606")))
	assert.Equal(t, domain.BorrowStatusEasy, quote.Status)
}

func TestGetRateUnknownTicker(t *testing.T) {
	pricing := &stubPricing{err: domain.Ef(domain.KindTickerNotFound, "ticker %s not found in borrow feed", "ZZZZZ")}
	srv, _ := newTestServer(t, pricing)

	rec := doJSON(srv, http.MethodGet, "/api/v1/rates/ZZZZZ", "key-standard", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "TICKER_NOT_FOUND", body.ErrorCode)
}

func TestUnknownRouteEnvelope(t *testing.T) {
	srv, _ := newTestServer(t, &stubPricing{})

	rec := doJSON(srv, http.MethodGet, "/api/v2/nope", "", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	var body errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "NOT_FOUND", body.ErrorCode)
}

func TestMetricsEndpointServes(t *testing.T) {
	srv, _ := newTestServer(t, &stubPricing{})

	rec := doJSON(srv, http.MethodGet, "/metrics", "", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "borrowd_")
}
