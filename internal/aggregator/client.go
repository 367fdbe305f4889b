// Package aggregator provides a rate-limited, authenticated client for the
// Open Banking aggregator's HTTP API.
package aggregator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/openledger/banksync/internal/common"
	"github.com/openledger/banksync/internal/ratelimit"
)

// Config holds aggregator API configuration.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// RateLimit is the aggregator's published request budget per second.
	RateLimit int64
	Timeout   time.Duration
}

// Validate ensures all required fields are present.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("aggregator base URL is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("aggregator client ID is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("aggregator client secret is required")
	}
	return nil
}

// Client implements the API interface against the real aggregator.
type Client struct {
	httpClient *http.Client
	bucket     *ratelimit.Bucket
	logger     *slog.Logger
	tokens     *tokenSource
	baseURL    string
	retryOpts  common.RetryOptions
	pageSize   int
}

// NewClient creates an aggregator client. The token bucket is shared through
// the store backing it, so all workers draw from one request budget.
func NewClient(cfg Config, bucket *ratelimit.Bucket) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	httpClient := &http.Client{Timeout: cfg.Timeout}

	return &Client{
		httpClient: httpClient,
		bucket:     bucket,
		logger:     slog.Default().With("component", "aggregator"),
		tokens:     newTokenSource(cfg, httpClient),
		baseURL:    cfg.BaseURL,
		retryOpts: common.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: 1 * time.Second,
			MaxDelay:     30 * time.Second,
			Multiplier:   2.0,
		},
		pageSize: 500,
	}, nil
}

// GetItem fetches the current status of one connection.
func (c *Client) GetItem(ctx context.Context, itemID string) (*Item, error) {
	var resp itemResponse
	if err := c.get(ctx, "/items/"+url.PathEscape(itemID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Item, nil
}

// SendMFA submits user-supplied MFA parameters for an item waiting on input.
func (c *Client) SendMFA(ctx context.Context, itemID string, parameters map[string]string) (*Item, error) {
	body, err := json.Marshal(mfaRequest{Parameters: parameters})
	if err != nil {
		return nil, fmt.Errorf("failed to encode MFA parameters: %w", err)
	}

	var resp itemResponse
	if err := c.post(ctx, "/items/"+url.PathEscape(itemID)+"/mfa", body, &resp); err != nil {
		return nil, err
	}

	c.logger.Info("submitted MFA parameters", "item_id", itemID, "status", resp.Item.Status)
	return &resp.Item, nil
}

// GetAccounts fetches all accounts under a connection.
func (c *Client) GetAccounts(ctx context.Context, itemID string) ([]Account, error) {
	query := url.Values{"itemId": {itemID}}

	var resp accountsResponse
	if err := c.get(ctx, "/accounts", query, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("fetched accounts", "item_id", itemID, "count", len(resp.Results))
	return resp.Results, nil
}

// GetTransactions fetches all transactions for an account in the date range,
// following pagination to the end.
func (c *Client) GetTransactions(ctx context.Context, accountID string, from, to time.Time) ([]Transaction, error) {
	if from.After(to) {
		return nil, fmt.Errorf("from date must not be after to date")
	}

	var all []Transaction
	page := 1

	for {
		query := url.Values{
			"accountId": {accountID},
			"from":      {from.Format("2006-01-02")},
			"to":        {to.Format("2006-01-02")},
			"page":      {strconv.Itoa(page)},
			"pageSize":  {strconv.Itoa(c.pageSize)},
		}

		var resp transactionsResponse
		if err := c.get(ctx, "/transactions", query, &resp); err != nil {
			return nil, err
		}

		all = append(all, resp.Results...)

		c.logger.Debug("fetched transaction page",
			"account_id", accountID,
			"page", page,
			"count", len(resp.Results),
			"total", resp.Total)

		if resp.TotalPages == 0 || page >= resp.TotalPages || len(resp.Results) == 0 {
			break
		}
		page++
	}

	return all, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return common.WithRetry(ctx, func() error {
		return c.doOnce(ctx, http.MethodGet, path, query, nil, out, true)
	}, c.retryOpts)
}

func (c *Client) post(ctx context.Context, path string, body []byte, out any) error {
	return common.WithRetry(ctx, func() error {
		return c.doOnce(ctx, http.MethodPost, path, nil, body, out, true)
	}, c.retryOpts)
}

// doOnce performs a single authenticated request. On a 401 it refreshes the
// token and retries the original call exactly once.
func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body []byte, out any, allowReauth bool) error {
	if err := c.bucket.Acquire(ctx); err != nil {
		// A locally exhausted budget is not worth another network attempt.
		return &common.RetryableError{Err: err, Retryable: false}
	}

	token, err := c.tokens.get(ctx)
	if err != nil {
		return &common.RetryableError{Err: err, Retryable: false}
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return &common.RetryableError{Err: err, Retryable: false}
	}
	req.Header.Set("X-API-KEY", token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return &common.RetryableError{Err: err, Retryable: false}
		}
		// Timeouts and connection failures are transient upstream trouble.
		return fmt.Errorf("%w: %v", common.ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", common.ErrUpstreamUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return &common.RetryableError{
				Err:       fmt.Errorf("failed to decode response: %w", err),
				Retryable: false,
			}
		}
		return nil

	case resp.StatusCode == http.StatusUnauthorized:
		if allowReauth {
			c.logger.Info("access token rejected, re-authenticating once")
			c.tokens.invalidate()
			return c.doOnce(ctx, method, path, query, body, out, false)
		}
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrAuthenticationFailed, apiError(payload, resp.StatusCode)),
			Retryable: false,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("aggregator rate limit hit, will retry")
		return fmt.Errorf("%w: %s", common.ErrRateLimitExceeded, apiError(payload, resp.StatusCode))

	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: %s", common.ErrUpstreamUnavailable, apiError(payload, resp.StatusCode))

	default:
		// Remaining 4xx responses are our fault; retrying won't change them.
		return &common.RetryableError{
			Err:       fmt.Errorf("%w: %s", common.ErrUpstreamRejected, apiError(payload, resp.StatusCode)),
			Retryable: false,
		}
	}
}

func apiError(payload []byte, status int) string {
	var errResp errorResponse
	if err := json.Unmarshal(payload, &errResp); err != nil {
		return strconv.Itoa(status)
	}
	return errResp.describe(status)
}

// Ensure Client implements the API interface.
var _ API = (*Client)(nil)
