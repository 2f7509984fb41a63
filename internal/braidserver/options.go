package braidserver

import (
	"time"

	"github.com/braidfs/braidfs/internal/merge"
	"go.uber.org/zap"
)

type config struct {
	logger                  *zap.Logger
	mergeRegistry           *merge.Registry
	defaultMergeType        string
	heartbeatInterval       time.Duration
	maxSubscriptionDuration time.Duration
}

// Option configures a Handler, the same functional-options shape used
// throughout this module (teacher_client/options.go).
type Option func(*config)

// WithLogger sets the *zap.Logger used for request/error logging. Defaults
// to zap.NewNop() so tests don't need to wire one up.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMergeRegistry overrides the default merge-type registry (useful for
// tests that register a fake merge type).
func WithMergeRegistry(r *merge.Registry) Option {
	return func(c *config) { c.mergeRegistry = r }
}

// WithDefaultMergeType sets the merge type new resources are created with
// when a PUT doesn't carry its own Merge-Type header. Defaults to
// "simpleton".
func WithDefaultMergeType(name string) Option {
	return func(c *config) { c.defaultMergeType = name }
}

// WithHeartbeatInterval sets the server-side default heartbeat interval
// used when a subscribing client doesn't request its own via the
// Heartbeats header. Zero disables server-initiated heartbeats.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *config) { c.heartbeatInterval = d }
}

// WithMaxSubscriptionDuration bounds how long a single subscription
// connection is held open before the server closes it (the client is
// expected to resubscribe). Zero means unbounded.
func WithMaxSubscriptionDuration(d time.Duration) Option {
	return func(c *config) { c.maxSubscriptionDuration = d }
}
