package config

import (
	"net/url"
	"strings"
	"time"
)

// Server and scan accessor methods with default fallbacks.

// GetRequestTimeout returns the per-request timeout with a default fallback.
func (c *Config) GetRequestTimeout() time.Duration {
	if c.Server.RequestTimeout <= 0 {
		return 30 * time.Second // Default: 30 seconds
	}
	return c.Server.RequestTimeout
}

// GetRetryAttempts returns how many times idempotent reads are attempted.
func (c *Config) GetRetryAttempts() uint {
	if c.Server.RetryAttempts <= 0 {
		return 1 // Single attempt, no retry
	}
	return uint(c.Server.RetryAttempts)
}

// GetAPIPrefix returns the API path prefix with a default fallback.
func (c *Config) GetAPIPrefix() string {
	if c.Server.APIPrefix == "" {
		return "/api"
	}
	return strings.TrimSuffix(c.Server.APIPrefix, "/")
}

// GetAPIBaseURL returns the server URL joined with the API prefix.
func (c *Config) GetAPIBaseURL() string {
	return strings.TrimSuffix(c.Server.URL, "/") + c.GetAPIPrefix()
}

// GetScanStreamURL returns the WebSocket base URL for scan progress streams.
// Scan ids are appended as the last path segment.
func (c *Config) GetScanStreamURL() string {
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return ""
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}

	wsPath := c.Server.WSPath
	if wsPath == "" {
		wsPath = "/ws/scan"
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + strings.TrimSuffix(wsPath, "/")

	return u.String()
}

// GetPollInterval returns the fallback poll interval; zero disables polling.
func (c *Config) GetPollInterval() time.Duration {
	if c.Scan.PollInterval < 0 {
		return 0
	}
	return c.Scan.PollInterval
}

// GetSettleDelay returns the delay between scan completion and plan hand-over.
func (c *Config) GetSettleDelay() time.Duration {
	if c.Scan.SettleDelay < 0 {
		return 0
	}
	return c.Scan.SettleDelay
}

// GetNotificationTTL returns how long notifications stay visible; zero keeps them.
func (c *Config) GetNotificationTTL() time.Duration {
	if c.Notifications.TTL < 0 {
		return 0
	}
	return c.Notifications.TTL
}

// GetRunCacheSize returns the finished-run cache size with a default fallback.
func (c *Config) GetRunCacheSize() int {
	if c.Cache.RunCacheSize <= 0 {
		return 64
	}
	return c.Cache.RunCacheSize
}

// IsJournalEnabled reports whether started runs are recorded locally.
func (c *Config) IsJournalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}
