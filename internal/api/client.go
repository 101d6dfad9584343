// Package api is the HTTP client for the Media Janitor server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/javi11/mediajanitor/internal/config"
	sharedErrors "github.com/javi11/mediajanitor/internal/errors"
	"github.com/javi11/mediajanitor/internal/httpclient"
	"github.com/javi11/mediajanitor/internal/model"
	"golang.org/x/sync/singleflight"
)

const userAgent = "mediajanitor-cli"

// Client talks to the server's JSON API.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	timeout       time.Duration
	applyTimeout  time.Duration
	retryAttempts uint
	retryDelay    time.Duration
	runCacheSize  int
	runs          *lru.Cache[int64, model.Run]
	configGroup   singleflight.Group
	logger        *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// WithRetry sets how many attempts idempotent reads get and the initial backoff delay.
func WithRetry(attempts uint, delay time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryDelay = delay
	}
}

// WithRunCacheSize sizes the finished-run cache.
func WithRunCacheSize(size int) Option {
	return func(c *Client) {
		c.runCacheSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for the API rooted at baseURL (e.g. http://host:8000/api).
func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("api base url cannot be empty")
	}

	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		timeout:       httpclient.DefaultTimeout,
		applyTimeout:  httpclient.ApplyTimeout,
		retryAttempts: 3,
		retryDelay:    500 * time.Millisecond,
		runCacheSize:  64,
		logger:        slog.Default().With("component", "api-client"),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		// Deadlines come from per-request contexts
		c.httpClient = httpclient.New(httpclient.WithTimeout(0), httpclient.WithUserAgent(userAgent))
	}
	if c.retryAttempts == 0 {
		c.retryAttempts = 1
	}

	runs, err := lru.New[int64, model.Run](c.runCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create run cache: %w", err)
	}
	c.runs = runs

	return c, nil
}

// NewFromConfig builds a client from the client configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) (*Client, error) {
	base := []Option{
		WithTimeout(cfg.GetRequestTimeout()),
		WithRetry(cfg.GetRetryAttempts(), 500*time.Millisecond),
		WithRunCacheSize(cfg.GetRunCacheSize()),
	}
	return New(cfg.GetAPIBaseURL(), append(base, opts...)...)
}

// BaseURL returns the API root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// do performs a single request. Non-2xx answers become *ServerError; failures
// to get or decode an answer become *TransportError.
func (c *Client) do(ctx context.Context, op, method, path string, body, out any, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to encode request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return sharedErrors.NewTransportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return sharedErrors.NewTransportError(op, fmt.Errorf("failed to read response body: %w", err))
	}

	c.logger.DebugContext(ctx, "API request",
		"op", op,
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &sharedErrors.ServerError{
			StatusCode: resp.StatusCode,
			Detail:     parseDetail(respBody),
			Op:         op,
		}
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return sharedErrors.NewTransportError(op, fmt.Errorf("failed to parse response: %w", err))
	}

	return nil
}

// get performs an idempotent read, retrying transport failures with backoff.
// Server answers are never retried.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	err := retry.Do(
		func() error {
			err := c.do(ctx, op, http.MethodGet, path, nil, out, c.timeout)
			if _, ok := sharedErrors.AsServerError(err); ok {
				return sharedErrors.WrapNonRetryable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(c.retryAttempts),
		retry.Delay(c.retryDelay),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !sharedErrors.IsNonRetryable(err) && !errors.Is(err, context.Canceled)
		}),
		retry.OnRetry(func(n uint, err error) {
			c.logger.WarnContext(ctx, "Retrying API request",
				"op", op,
				"attempt", n+1,
				"error", err)
		}),
	)

	var nonRetryable *sharedErrors.NonRetryableError
	if errors.As(err, &nonRetryable) {
		return nonRetryable.Unwrap()
	}
	return err
}

// parseDetail extracts a human-readable reason from an error body. The server
// uses {"detail": "..."}, validation failures carry a list, and some handlers
// answer {"message": "...", "error": "..."}.
func parseDetail(body []byte) string {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return ""
	}

	var envelope struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}

	if len(envelope.Detail) > 0 {
		var s string
		if err := json.Unmarshal(envelope.Detail, &s); err == nil {
			return s
		}

		var list []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(envelope.Detail, &list); err == nil {
			msgs := make([]string, 0, len(list))
			for _, e := range list {
				if e.Msg != "" {
					msgs = append(msgs, e.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}

		return string(envelope.Detail)
	}

	if envelope.Message != "" {
		return envelope.Message
	}
	return envelope.Error
}
