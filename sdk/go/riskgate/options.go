package riskgate

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*Client)

// WithBaseURL sets the server address. Default: http://localhost:8080.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithAPIKey sets the X-API-Key header for every request.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithSession fixes the session id instead of generating one.
func WithSession(sessionID string) Option {
	return func(c *Client) { c.sessionID = sessionID }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	pollInterval time.Duration
}

// WrapWithWait makes wrapped calls block on checkpoints, polling for
// resolution at the given interval instead of returning a
// CheckpointError.
func WrapWithWait(interval time.Duration) WrapOption {
	return func(w *wrapConfig) { w.pollInterval = interval }
}
