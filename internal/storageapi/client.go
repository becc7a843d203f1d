// Package storageapi is a client for the storage service REST API.
//
// It implements the collaborators the staging engine needs: branch table
// existence, table detail, bucket metadata, workspace load jobs and job
// polling. Every attempt is rate limited. Reads are retried with exponential
// backoff on 429 and 5xx responses; job submissions only on 429 and refused
// connections.
package storageapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/time/rate"
)

// TokenHeader carries the storage API token.
const TokenHeader = "X-StorageApi-Token"

// Config configures the client. Zero values use defaults.
type Config struct {
	BaseURL string
	Token   string

	// Timeout for individual requests (default: 30s).
	Timeout time.Duration
	// MaxRetries for retryable responses (default: 3).
	MaxRetries int
	// RateLimit requests per second (default: 10).
	RateLimit float64
	// RateBurst maximum burst size (default: 5).
	RateBurst int
	// PollInterval between job status requests (default: 1s).
	PollInterval time.Duration
	// MaxPollInterval caps the growing poll interval (default: 10s).
	MaxPollInterval time.Duration

	UserAgent string

	// Transport allows injecting a custom HTTP transport for tests.
	Transport http.RoundTripper
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = 10 * time.Second
		if c.MaxPollInterval < c.PollInterval {
			c.MaxPollInterval = c.PollInterval
		}
	}
	if c.UserAgent == "" {
		c.UserAgent = "staging-engine/1.0"
	}
	return c
}

// Client is a rate-limited, retrying storage API client. Safe for concurrent use.
type Client struct {
	cfg         Config
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter
}

// New creates a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("storage API URL is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("storage API token is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid storage API URL: %w", err)
	}
	cfg = cfg.withDefaults()

	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}, nil
}

// APIError is a non-2xx response.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("storage API %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("storage API %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports a 404 response.
func (e *APIError) IsNotFound() bool { return e.StatusCode == http.StatusNotFound }

// IsRateLimited reports a 429 response.
func (e *APIError) IsRateLimited() bool { return e.StatusCode == http.StatusTooManyRequests }

// IsServerError reports a 5xx response.
func (e *APIError) IsServerError() bool { return e.StatusCode >= 500 }

func isRetryable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimited() || apiErr.IsServerError()
	}
	return false
}

// isRetryableSubmission reports errors after which the service cannot have
// accepted a job. A 5xx may come from a proxy after the job was created, so
// resubmitting could start a second batch.
func isRetryableSubmission(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRateLimited()
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsNotFound()
}

// get issues a GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out, isRetryable)
}

// postSubmission issues a POST that creates a job and decodes the response
// into out. It is retried only when the service cannot have accepted it.
func (c *Client) postSubmission(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, data, out, isRetryableSubmission)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, out any, retryable func(error) bool) error {
	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if err := c.rateLimiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		respBody, err := c.doOnce(ctx, method, path, query, body)
		if err == nil {
			if out == nil || len(respBody) == 0 {
				return nil
			}
			if err := json.Unmarshal(respBody, out); err != nil {
				return fmt.Errorf("decode %s %s: %w", method, path, err)
			}
			return nil
		}

		lastErr = err
		if !retryable(err) {
			return err
		}

		backoff := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *Client) doOnce(ctx context.Context, method, path string, query url.Values, body []byte) ([]byte, error) {
	fullURL := c.baseURL + "/" + strings.TrimPrefix(path, "/")
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set(TokenHeader, c.cfg.Token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Code    any    `json:"code"`
	}
	if json.Unmarshal(body, &payload) == nil {
		switch {
		case payload.Error != "":
			apiErr.Message = payload.Error
		case payload.Message != "":
			apiErr.Message = payload.Message
		}
		if payload.Code != nil {
			apiErr.Code = fmt.Sprint(payload.Code)
		}
	}
	return apiErr
}

// VerifyToken returns the id of the project owning the token.
func (c *Client) VerifyToken(ctx context.Context) (string, error) {
	var resp struct {
		Owner struct {
			ID flexibleID `json:"id"`
		} `json:"owner"`
	}
	if err := c.get(ctx, "v2/storage/tokens/verify", nil, &resp); err != nil {
		return "", fmt.Errorf("verify token: %w", err)
	}
	return string(resp.Owner.ID), nil
}

// DefaultBranchID returns the id of the project's default branch.
func (c *Client) DefaultBranchID(ctx context.Context) (string, error) {
	var branches []struct {
		ID        flexibleID `json:"id"`
		IsDefault bool       `json:"isDefault"`
	}
	if err := c.get(ctx, "v2/storage/dev-branches", nil, &branches); err != nil {
		return "", fmt.Errorf("list branches: %w", err)
	}
	for _, b := range branches {
		if b.IsDefault {
			return string(b.ID), nil
		}
	}
	return "", errors.New("project has no default branch")
}

// flexibleID decodes ids the API sends either as numbers or strings.
type flexibleID string

func (f *flexibleID) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexibleID(n.String())
	return nil
}
