// Package indexer is the HTTP client for the exchange indexer API. It
// exposes paginated fill and PnL snapshot queries for a single account and
// hides the indexer's cursor walk-back pagination from callers.
package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/perpwatch/engine/internal/domain"
)

// rateLimitKey is the shared budget key for all indexer REST requests.
const rateLimitKey = "indexer"

// ClientConfig holds connection and pagination parameters for the indexer
// client.
type ClientConfig struct {
	RestURL string
	Timeout time.Duration
	// PageLimit is the per-request page size.
	PageLimit int
	// MaxPages bounds the pagination walk for a single query.
	MaxPages int
	// RatePerSecond is the shared request budget; 0 disables rate limiting.
	RatePerSecond  int
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Client queries the exchange indexer REST API.
type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	limiter    domain.RateLimiter
}

// NewClient creates an indexer client. limiter may be nil, in which case
// requests are not rate limited.
func NewClient(cfg ClientConfig, limiter domain.RateLimiter) *Client {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 100
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
	}
}

// FetchFills returns all fills matching the query, newest first. It walks
// the indexer's createdBeforeOrAt cursor back in time until the window lower
// bound, the page budget, or MaxResults is reached.
func (c *Client) FetchFills(ctx context.Context, q FillQuery) ([]domain.Fill, error) {
	var (
		fills  []domain.Fill
		cursor = q.CreatedBeforeOrAt
	)

	maxResults := q.MaxResults
	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("address", q.Address)
		params.Set("subaccountNumber", strconv.Itoa(q.Subaccount))
		params.Set("limit", strconv.Itoa(c.cfg.PageLimit))
		if q.Ticker != "" {
			params.Set("market", q.Ticker)
			params.Set("marketType", "PERPETUAL")
		}
		if !q.CreatedOnOrAfter.IsZero() {
			params.Set("createdOnOrAfter", q.CreatedOnOrAfter.UTC().Format(time.RFC3339))
		}
		if !cursor.IsZero() {
			params.Set("createdBeforeOrAt", cursor.UTC().Format(time.RFC3339))
		}

		var resp fillsResponse
		if err := c.get(ctx, "/fills", params, &resp); err != nil {
			return nil, fmt.Errorf("indexer: fetch fills %s/%d: %w", q.Address, q.Subaccount, err)
		}

		var oldest time.Time
		for _, w := range resp.Fills {
			f := w.toDomain()
			if f == nil {
				continue
			}
			if !q.CreatedOnOrAfter.IsZero() && f.CreatedAt.Before(q.CreatedOnOrAfter) {
				continue
			}
			fills = append(fills, *f)
			if oldest.IsZero() || f.CreatedAt.Before(oldest) {
				oldest = f.CreatedAt
			}
			if maxResults > 0 && len(fills) >= maxResults {
				return fills[:maxResults], nil
			}
		}

		// A short page means the window is exhausted. So does a page whose
		// oldest record already precedes the lower bound.
		if len(resp.Fills) < c.cfg.PageLimit || oldest.IsZero() {
			break
		}
		if !q.CreatedOnOrAfter.IsZero() && !oldest.After(q.CreatedOnOrAfter) {
			break
		}
		cursor = oldest.Add(-time.Millisecond)
	}

	return fills, nil
}

// FetchPnlSnapshots returns all PnL snapshots matching the query, newest
// first, using the same cursor walk-back as FetchFills.
func (c *Client) FetchPnlSnapshots(ctx context.Context, q PnlQuery) ([]domain.PnlSnapshot, error) {
	var (
		snaps  []domain.PnlSnapshot
		cursor = q.CreatedBeforeOrAt
	)

	for page := 0; page < c.cfg.MaxPages; page++ {
		params := url.Values{}
		params.Set("address", q.Address)
		params.Set("subaccountNumber", strconv.Itoa(q.Subaccount))
		params.Set("limit", strconv.Itoa(c.cfg.PageLimit))
		if !q.CreatedOnOrAfter.IsZero() {
			params.Set("createdOnOrAfter", q.CreatedOnOrAfter.UTC().Format(time.RFC3339))
		}
		if !cursor.IsZero() {
			params.Set("createdBeforeOrAt", cursor.UTC().Format(time.RFC3339))
		}

		var resp pnlResponse
		if err := c.get(ctx, "/historical-pnl", params, &resp); err != nil {
			return nil, fmt.Errorf("indexer: fetch pnl %s/%d: %w", q.Address, q.Subaccount, err)
		}

		var oldest time.Time
		for _, w := range resp.HistoricalPnl {
			s := w.toDomain()
			if s == nil {
				continue
			}
			if !q.CreatedOnOrAfter.IsZero() && s.CreatedAt.Before(q.CreatedOnOrAfter) {
				continue
			}
			snaps = append(snaps, *s)
			if oldest.IsZero() || s.CreatedAt.Before(oldest) {
				oldest = s.CreatedAt
			}
		}

		if len(resp.HistoricalPnl) < c.cfg.PageLimit || oldest.IsZero() {
			break
		}
		if !q.CreatedOnOrAfter.IsZero() && !oldest.After(q.CreatedOnOrAfter) {
			break
		}
		cursor = oldest.Add(-time.Millisecond)
	}

	return snaps, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// get performs a GET request with rate limiting and bounded retries on
// transport errors and 5xx responses, decoding the JSON body into out.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	reqURL := c.cfg.RestURL + path + "?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.cfg.RetryBaseDelay << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		if c.limiter != nil && c.cfg.RatePerSecond > 0 {
			allowed, err := c.limiter.Allow(ctx, rateLimitKey, c.cfg.RatePerSecond, time.Second)
			if err == nil && !allowed {
				if err := c.limiter.Wait(ctx, rateLimitKey); err != nil {
					return err
				}
			}
		}

		err := c.doGet(ctx, reqURL, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retryable(err) || ctx.Err() != nil {
			return err
		}
	}
	return lastErr
}

// httpStatusError marks a non-2xx response so the retry loop can
// distinguish server-side failures from permanent client errors.
type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.status, e.body)
}

// Unwrap maps throttling and missing-resource statuses onto the domain
// sentinels so callers can match them with errors.Is.
func (e *httpStatusError) Unwrap() error {
	switch e.status {
	case http.StatusTooManyRequests:
		return domain.ErrRateLimited
	case http.StatusNotFound:
		return domain.ErrNotFound
	}
	return nil
}

func retryable(err error) bool {
	if se, ok := err.(*httpStatusError); ok {
		return se.status >= 500 || se.status == http.StatusTooManyRequests
	}
	// Transport-level failures are worth retrying.
	return true
}

func (c *Client) doGet(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &httpStatusError{status: resp.StatusCode, body: truncate(string(body), 256)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
