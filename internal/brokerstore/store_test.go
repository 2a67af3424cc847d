package brokerstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortwire/borrowd/internal/domain"
)

func newMockStore(t *testing.T) (*SQL, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return New(sqlx.NewDb(mockDB, "postgres"), time.Second), mock
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestLookupBrokerConfig(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"client_id", "markup_pct", "fee_type", "fee_amount", "active"}).
		AddRow("client_B", "10", "PERCENTAGE", "0.5", true)
	mock.ExpectQuery(regexp.QuoteMeta(brokerConfigQuery)).
		WithArgs("client_B").
		WillReturnRows(rows)

	config, err := store.LookupBrokerConfig(context.Background(), "client_B")
	require.NoError(t, err)

	assert.Equal(t, "client_B", config.ClientID)
	assert.True(t, config.MarkupPct.Equal(dec("10")), "markupPct = %s", config.MarkupPct)
	assert.Equal(t, domain.FeeTypePercentage, config.FeeType)
	assert.True(t, config.FeeAmount.Equal(dec("0.5")))
	assert.True(t, config.Active)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupBrokerConfigMissing(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(brokerConfigQuery)).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "markup_pct", "fee_type", "fee_amount", "active"}))

	_, err := store.LookupBrokerConfig(context.Background(), "ghost")
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindClientNotFound, kind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLookupBrokerConfigInactive(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"client_id", "markup_pct", "fee_type", "fee_amount", "active"}).
		AddRow("client_B", "10", "PERCENTAGE", "0.5", false)
	mock.ExpectQuery(regexp.QuoteMeta(brokerConfigQuery)).
		WithArgs("client_B").
		WillReturnRows(rows)

	_, err := store.LookupBrokerConfig(context.Background(), "client_B")
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUnauthorized, kind)
}

func TestLookupBrokerConfigStoreFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(brokerConfigQuery)).
		WithArgs("client_B").
		WillReturnError(errors.New("connection refused"))

	_, err := store.LookupBrokerConfig(context.Background(), "client_B")
	require.Error(t, err)

	// Infrastructure failures stay plain so the caller can absorb them
	// with configured defaults instead of rejecting the request.
	_, ok := domain.KindOf(err)
	assert.False(t, ok)
}

func TestLookupClient(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"client_id", "tier", "rate_limit", "active"}).
		AddRow("client_A", "premium", 300, true)
	mock.ExpectQuery(regexp.QuoteMeta(clientQuery)).
		WithArgs("key-123").
		WillReturnRows(rows)

	client, err := store.LookupClient(context.Background(), "key-123")
	require.NoError(t, err)

	assert.Equal(t, "client_A", client.ClientID)
	assert.Equal(t, "premium", client.Tier)
	assert.Equal(t, 300, client.RateLimit)
}

func TestLookupClientUnknownKey(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(clientQuery)).
		WithArgs("bogus").
		WillReturnRows(sqlmock.NewRows([]string{"client_id", "tier", "rate_limit", "active"}))

	_, err := store.LookupClient(context.Background(), "bogus")
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUnauthorized, kind)
}

func TestLookupClientRevoked(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows([]string{"client_id", "tier", "rate_limit", "active"}).
		AddRow("client_A", "standard", 60, false)
	mock.ExpectQuery(regexp.QuoteMeta(clientQuery)).
		WithArgs("key-123").
		WillReturnRows(rows)

	_, err := store.LookupClient(context.Background(), "key-123")
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUnauthorized, kind)
}

func TestLookupClientStoreFailure(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(clientQuery)).
		WithArgs("key-123").
		WillReturnError(errors.New("connection refused"))

	_, err := store.LookupClient(context.Background(), "key-123")
	require.Error(t, err)

	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindExternalUnavailable, kind)
}

func TestStaticServesDefaults(t *testing.T) {
	store := NewStatic(dec("5"), dec("25"), 60)

	config, err := store.LookupBrokerConfig(context.Background(), "anyone")
	require.NoError(t, err)
	assert.Equal(t, "anyone", config.ClientID)
	assert.True(t, config.MarkupPct.Equal(dec("5")))
	assert.Equal(t, domain.FeeTypeFlat, config.FeeType)
	assert.True(t, config.FeeAmount.Equal(dec("25")))

	client, err := store.LookupClient(context.Background(), "dev-key")
	require.NoError(t, err)
	assert.Equal(t, "dev-key", client.ClientID)
	assert.Equal(t, 60, client.RateLimit)

	_, err = store.LookupClient(context.Background(), "")
	require.Error(t, err)
	kind, ok := domain.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, domain.KindUnauthorized, kind)

	assert.NoError(t, store.Ping(context.Background()))
}
