// Package httpclient provides a centralized HTTP client factory with preset configurations.
package httpclient

import (
	"net/http"
	"time"
)

// Preset timeout durations for common use cases.
const (
	// DefaultTimeout is the standard timeout for API requests (30s).
	DefaultTimeout = 30 * time.Second

	// ApplyTimeout is for plan application, which the server may take a while to accept (2 minutes).
	ApplyTimeout = 2 * time.Minute
)

// Options configures an HTTP client.
type Options struct {
	Timeout   time.Duration
	Transport http.RoundTripper
	UserAgent string
}

// Option is a functional option for configuring HTTP clients.
type Option func(*Options)

// WithTimeout sets the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.Timeout = d
	}
}

// WithTransport sets a custom transport.
func WithTransport(t http.RoundTripper) Option {
	return func(o *Options) {
		o.Transport = t
	}
}

// WithUserAgent sets the User-Agent header on every request that lacks one.
func WithUserAgent(ua string) Option {
	return func(o *Options) {
		o.UserAgent = ua
	}
}

// New creates a new HTTP client with the given options.
// If no timeout is specified, DefaultTimeout (30s) is used.
func New(opts ...Option) *http.Client {
	cfg := &Options{
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client := &http.Client{
		Timeout: cfg.Timeout,
	}

	transport := cfg.Transport
	if cfg.UserAgent != "" {
		base := transport
		if base == nil {
			base = http.DefaultTransport
		}
		transport = &userAgentTransport{base: base, userAgent: cfg.UserAgent}
	}

	if transport != nil {
		client.Transport = transport
	}

	return client
}

// NewDefault creates a new HTTP client with the default timeout (30s).
func NewDefault() *http.Client {
	return New()
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}

	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.userAgent)
	return t.base.RoundTrip(clone)
}
