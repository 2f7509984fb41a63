package braidclient

import (
	"net/http"
	"time"
)

type config struct {
	httpClient *http.Client
	peerID     string
	maxBackoff time.Duration
	maxRetries int
}

// Option configures a Client, the same functional-options shape as
// teacher_client/options.go's ClientOption.
type Option func(*config)

// WithHTTPClient sets a custom *http.Client. If unset, a default client
// with no overall timeout is used (per-request deadlines come from the
// caller's context, matching teacher_client's NewClient default).
func WithHTTPClient(c *http.Client) Option {
	return func(cfg *config) { cfg.httpClient = c }
}

// WithPeerID sets the stable Peer header value this client identifies
// itself with.
func WithPeerID(id string) Option {
	return func(cfg *config) { cfg.peerID = id }
}

// WithMaxBackoff overrides the default 3s retry backoff ceiling.
func WithMaxBackoff(d time.Duration) Option {
	return func(cfg *config) { cfg.maxBackoff = d }
}

// WithMaxRetries caps retry attempts; 0 (default) is unbounded.
func WithMaxRetries(n int) Option {
	return func(cfg *config) { cfg.maxRetries = n }
}
