// Package ingest creates downstream import jobs for uploaded batches.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig controls how requests to the organization API are sent.
type ClientConfig struct {
	BaseURL string // organization URL, job paths are joined onto it
	Auth    AuthConfig

	Timeout    time.Duration // per attempt, default 30s
	MaxRetries int           // default 3
	RateLimit  float64       // requests per second, default 10
	RateBurst  int           // default 5
	UserAgent  string

	// Transport replaces the default HTTP transport.
	Transport http.RoundTripper
}

func (c *ClientConfig) withDefaults() ClientConfig {
	out := *c
	if out.Timeout == 0 {
		out.Timeout = 30 * time.Second
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = 3
	}
	if out.RateLimit == 0 {
		out.RateLimit = 10
	}
	if out.RateBurst == 0 {
		out.RateBurst = 5
	}
	if out.UserAgent == "" {
		out.UserAgent = "hull-sql/1.0"
	}
	if out.Auth == nil {
		out.Auth = NoAuth{}
	}
	return out
}

// =============================================================================
// HTTP CLIENT
// =============================================================================

// Client posts JSON with a shared rate limit and bounded retries.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a client. A nil config uses all defaults.
func NewClient(config *ClientConfig) *Client {
	if config == nil {
		config = &ClientConfig{}
	}
	cfg := config.withDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
}

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// JSON decodes the body into target.
func (r *Response) JSON(target any) error {
	return json.Unmarshal(r.Body, target)
}

// PostJSON sends body to path. 429, 5xx and transport failures are retried up
// to MaxRetries times; every attempt waits on the rate limiter.
func (c *Client) PostJSON(ctx context.Context, path string, body any) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}

		resp, err := c.send(ctx, http.MethodPost, c.url(path), payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !isRetryable(ctx, err) || attempt >= c.cfg.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(retryDelay(attempt, resp)):
		}
	}
	if c.cfg.MaxRetries > 0 && isRetryable(ctx, lastErr) {
		return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
	}
	return nil, lastErr
}

func (c *Client) url(path string) string {
	return strings.TrimSuffix(c.cfg.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

func (c *Client) send(ctx context.Context, method, url string, payload []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if err := c.cfg.Auth.Apply(req); err != nil {
		return nil, fmt.Errorf("apply auth: %w", err)
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("read body: %w", err)}
	}
	resp := &Response{StatusCode: httpResp.StatusCode, Headers: httpResp.Header, Body: data}
	if httpResp.StatusCode >= 400 {
		return resp, &HTTPError{StatusCode: httpResp.StatusCode, Message: strings.TrimSpace(string(data))}
	}
	return resp, nil
}

// retryDelay honours Retry-After in seconds, capped at one minute, and
// otherwise backs off exponentially from 100ms.
func retryDelay(attempt int, resp *Response) time.Duration {
	if resp != nil {
		if secs, err := strconv.Atoi(resp.Headers.Get("Retry-After")); err == nil && secs >= 0 {
			return min(time.Duration(secs)*time.Second, time.Minute)
		}
	}
	return time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
}

// =============================================================================
// ERRORS
// =============================================================================

// HTTPError is a response with status >= 400.
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports a 429.
func (e *HTTPError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports a 5xx.
func (e *HTTPError) IsServerError() bool {
	return e.StatusCode >= 500
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "http request: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func isRetryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.IsRateLimited() || httpErr.IsServerError()
	}
	var tErr *transportError
	return errors.As(err, &tErr)
}
