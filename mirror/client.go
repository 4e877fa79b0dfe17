package mirror

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// MainnetBaseURL and TestnetBaseURL are the public mirror node endpoints.
const (
	MainnetBaseURL = "https://mainnet-public.mirrornode.hedera.com"
	TestnetBaseURL = "https://testnet.mirrornode.hedera.com"
)

// defaultTimeout bounds a single query so a payment check never blocks a
// request indefinitely.
const defaultTimeout = 8 * time.Second

// rateLimitRetries is the number of retry attempts on 429 responses.
const rateLimitRetries = 3

// rateLimitRetryBaseDelay is the base delay for exponential backoff on retries.
const rateLimitRetryBaseDelay = 1 * time.Second

// Config configures the mirror node client.
type Config struct {
	// BaseURL is the mirror node base URL (defaults to mainnet).
	BaseURL string

	// HTTPClient is the HTTP client to use (optional).
	HTTPClient *http.Client

	// Timeout for a single query (optional, defaults to 8s).
	Timeout time.Duration

	// Logger for request diagnostics (optional).
	Logger *zap.Logger
}

// Client queries a mirror node over its REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	log        *zap.Logger
}

// NewClient creates a mirror node client.
func NewClient(config *Config) *Client {
	if config == nil {
		config = &Config{}
	}

	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = MainnetBaseURL
	}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		timeout:    timeout,
		log:        log,
	}
}

// TransactionsQuery selects a page of transactions touching an account.
type TransactionsQuery struct {
	// AccountID filters to transactions involving this account.
	AccountID string

	// Limit is the page size (defaults to 25).
	Limit int

	// Order is "asc" or "desc" (defaults to "desc", newest first).
	Order string

	// Since filters to transactions at or after this consensus time.
	Since time.Time

	// TransactionType filters by type, e.g. "CRYPTOTRANSFER".
	TransactionType string
}

// Transactions fetches one page of transactions matching the query.
func (c *Client) Transactions(ctx context.Context, query TransactionsQuery) (*TransactionsResponse, error) {
	params := url.Values{}
	if query.AccountID != "" {
		params.Set("account.id", query.AccountID)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = 25
	}
	params.Set("limit", strconv.Itoa(limit))
	order := query.Order
	if order == "" {
		order = "desc"
	}
	params.Set("order", order)
	if !query.Since.IsZero() {
		params.Set("timestamp", "gte:"+FormatTimestamp(query.Since))
	}
	if query.TransactionType != "" {
		params.Set("transactiontype", query.TransactionType)
	}

	var resp TransactionsResponse
	if err := c.get(ctx, "/api/v1/transactions", params, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Account fetches the balance snapshot for an account.
func (c *Client) Account(ctx context.Context, accountID string) (*AccountResponse, error) {
	var resp AccountResponse
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// AccountTokens fetches the token associations for an account.
func (c *Client) AccountTokens(ctx context.Context, accountID string) (*AccountTokensResponse, error) {
	var resp AccountTokensResponse
	if err := c.get(ctx, "/api/v1/accounts/"+url.PathEscape(accountID)+"/tokens", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// get performs a GET with the client's time bound and decodes the JSON
// response, retrying with exponential backoff when the mirror node rate
// limits.
func (c *Client) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= rateLimitRetries; attempt++ {
		if attempt > 0 {
			delay := rateLimitRetryBaseDelay * time.Duration(1<<(attempt-1))
			c.log.Debug("mirror node rate limited, backing off",
				zap.String("path", path),
				zap.Duration("delay", delay),
				zap.Int("attempt", attempt))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("mirror node request failed: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("mirror node rate limited: %s", resp.Status)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("mirror node returned %d: %s", resp.StatusCode, string(body))
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return lastErr
}
