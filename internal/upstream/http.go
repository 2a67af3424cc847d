// Package upstream holds the three market-data feed clients: base borrow
// rates, volatility, and the event calendar. Every client follows the same
// shape: consult its cache namespace, call the feed through its circuit
// breaker and retry policy, validate required response fields, and degrade
// to a deterministic fallback instead of failing the pricing request.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotFound reports an authoritative upstream 404: the resource does not
// exist. It is not retried and does not count as a feed failure.
var ErrNotFound = errors.New("not found upstream")

const maxResponseBytes = 1 << 20

// Client is the shared HTTP transport for feed calls: a pooled http.Client
// with per-host pacing and JSON decoding.
type Client struct {
	http      *http.Client
	pacer     *hostPacer
	userAgent string
}

// NewClient creates the shared feed transport with the given per-attempt
// timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        32,
				MaxIdleConnsPerHost: 8,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		pacer:     newHostPacer(50, 10),
		userAgent: "borrowd/1.0",
	}
}

// GetJSON issues a GET and decodes the JSON body into out. A 404 maps to
// ErrNotFound; any other non-200 status or transport error is returned as a
// transient error for the retry layer.
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid feed URL %q: %w", rawURL, err)
	}

	if err := c.pacer.wait(ctx, parsed.Host); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Retryable classifies feed errors for the retry policy: everything is
// transient except an authoritative not-found.
func Retryable(err error) bool {
	return !errors.Is(err, ErrNotFound)
}

// IsSuccessfulResponse classifies feed errors for the circuit breaker: an
// authoritative not-found is a served response, not a feed failure.
func IsSuccessfulResponse(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound)
}
