// Package collection implements synchronized collections: in-memory lists of
// one table's rows that are served from a shared snapshot cache, kept current
// by the change feed, and mutated optimistically with rollback when the row
// store rejects a change.
package collection

import (
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mesh-intelligence/practicesync/internal/changefeed"
	"github.com/mesh-intelligence/practicesync/internal/metrics"
	"github.com/mesh-intelligence/practicesync/internal/snapshot"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Runtime holds what every controller of one process shares: the row store,
// the change feed, the snapshot cache and the session.
type Runtime struct {
	store   types.RowStore
	session types.Session
	feed    *changefeed.Normalizer
	cache   *snapshot.Cache
	clock   clock.Clock
	logger  *zap.Logger
	metrics *metrics.Collector

	fetchTimeout      time.Duration
	reconnectDebounce time.Duration

	// fetches joins concurrent cached reads of the same key.
	fetches singleflight.Group
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithClock sets the clock used for temporary ids, cache timestamps and
// reconnect debouncing.
func WithClock(clk clock.Clock) Option {
	return func(rt *Runtime) { rt.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(rt *Runtime) { rt.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithCache shares an existing snapshot cache.
func WithCache(c *snapshot.Cache) Option {
	return func(rt *Runtime) { rt.cache = c }
}

// WithFetchTimeout bounds each read against the row store. Zero disables
// the bound and leaves it to the caller's context.
func WithFetchTimeout(d time.Duration) Option {
	return func(rt *Runtime) { rt.fetchTimeout = d }
}

// WithReconnectDebounce sets the quiet period between a channel reconnect
// and the refresh it triggers.
func WithReconnectDebounce(d time.Duration) Option {
	return func(rt *Runtime) { rt.reconnectDebounce = d }
}

// WithSyncConfig applies the sync section of a Config.
func WithSyncConfig(cfg types.SyncConfig) Option {
	return func(rt *Runtime) {
		rt.fetchTimeout = cfg.FetchTimeout
		rt.reconnectDebounce = cfg.ReconnectDebounce
	}
}

// NewRuntime returns a Runtime over store and session. channel may be nil,
// in which case controllers never receive inbound changes.
func NewRuntime(store types.RowStore, channel types.ChangeChannel, session types.Session, opts ...Option) *Runtime {
	rt := &Runtime{
		store:             store,
		session:           session,
		fetchTimeout:      types.DefaultFetchTimeout,
		reconnectDebounce: types.DefaultReconnectDebounce,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.clock == nil {
		rt.clock = clock.WallClock
	}
	if rt.logger == nil {
		rt.logger = zap.NewNop()
	}
	if rt.cache == nil {
		rt.cache = snapshot.New(rt.clock)
	}
	if channel != nil {
		rt.feed = changefeed.NewNormalizer(channel, rt.logger, rt.metrics)
	}
	return rt
}

// Cache returns the shared snapshot cache.
func (rt *Runtime) Cache() *snapshot.Cache { return rt.cache }

// Session returns the session controllers authenticate with.
func (rt *Runtime) Session() types.Session { return rt.session }

// Close releases the change feed. Controllers must be unmounted first.
func (rt *Runtime) Close() error {
	if rt.feed == nil {
		return nil
	}
	return rt.feed.Close()
}
