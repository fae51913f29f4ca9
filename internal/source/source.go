// Package source implements adapters that pull candidate items from
// upstream providers. Adapters are stateless and never retry; retry
// and backoff are the caller's concern.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"feedbot/internal/model"
)

// maxBodyBytes caps how much of an upstream response is read.
const maxBodyBytes = 5 * 1024 * 1024

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter fetches one batch of candidate items from a single upstream
// source. Key is stable across fetches and scopes the dedup ledger and
// the failure streak.
type Adapter interface {
	Key() string
	Fetch(ctx context.Context) ([]model.Item, error)
}

// get performs a single bounded GET against an untrusted upstream.
func get(ctx context.Context, client HTTPClient, url string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "FeedBot/1.0")
	req.Header.Set("Accept", "application/json, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
