package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSONDecodesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Accept"))
		assert.Contains(t, r.Header.Get("User-Agent"), "borrowd")
		w.Write([]byte(`{"rate":0.05,"status":"EASY"}`))
	}))
	defer server.Close()

	client := NewClient(2 * time.Second)
	var out struct {
		Rate   float64 `json:"rate"`
		Status string  `json:"status"`
	}
	err := client.GetJSON(context.Background(), server.URL, &out)
	require.NoError(t, err)
	assert.Equal(t, 0.05, out.Rate)
	assert.Equal(t, "EASY", out.Status)
}

func TestGetJSONMapsNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(2 * time.Second)
	var out map[string]any
	err := client.GetJSON(context.Background(), server.URL, &out)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetJSONReportsStatusAndBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("feed maintenance"))
	}))
	defer server.Close()

	client := NewClient(2 * time.Second)
	var out map[string]any
	err := client.GetJSON(context.Background(), server.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 503")
	assert.Contains(t, err.Error(), "feed maintenance")
}

func TestGetJSONRejectsMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer server.Close()

	client := NewClient(2 * time.Second)
	var out map[string]any
	err := client.GetJSON(context.Background(), server.URL, &out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestGetJSONHonorsCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(2 * time.Second)
	var out map[string]any
	err := client.GetJSON(ctx, server.URL, &out)
	assert.Error(t, err)
}

func TestErrorClassifiers(t *testing.T) {
	transient := errors.New("connection refused")

	assert.False(t, Retryable(ErrNotFound))
	assert.True(t, Retryable(transient))

	assert.True(t, IsSuccessfulResponse(nil))
	assert.True(t, IsSuccessfulResponse(ErrNotFound))
	assert.False(t, IsSuccessfulResponse(transient))
}
