package changefeed

import (
	"sync"

	"github.com/juju/pubsub/v2"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/metrics"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Watcher receives the events and connection transitions of one scope.
// Nil callbacks are skipped.
type Watcher struct {
	OnEvent  func(Event)
	OnStatus func(types.ChannelStatus)
}

// Normalizer subscribes to the change channel once per table, however many
// watchers the table has, and republishes each change on a local hub. Every
// watcher gets its own ordered delivery; publishing waits until all of them
// have handled the change.
type Normalizer struct {
	channel types.ChangeChannel
	hub     *pubsub.SimpleHub
	logger  *zap.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	feeds  map[string]*tableFeed
	closed bool
}

type tableFeed struct {
	handle   types.ChannelHandle
	watchers int
}

// NewNormalizer wraps ch. logger and m may be nil.
func NewNormalizer(ch types.ChangeChannel, logger *zap.Logger, m *metrics.Collector) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("changefeed")
	return &Normalizer{
		channel: ch,
		hub: pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{
			Logger: hubLogger{logger.Sugar()},
		}),
		logger:  logger,
		metrics: m,
		feeds:   make(map[string]*tableFeed),
	}
}

func changeTopic(table string) string { return "change." + table }
func statusTopic(table string) string { return "status." + table }

// Watch starts delivering the events of scope.Table that scope matches.
// Updates that move a row out of the scope's filters arrive with
// OutOfScope set. The returned stop function is idempotent.
func (n *Normalizer) Watch(scope Scope, w Watcher) (func(), error) {
	if scope.Table == "" {
		return nil, types.ErrTableNotFound
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, types.ErrChannelClosed
	}
	if err := n.acquire(scope.Table); err != nil {
		return nil, err
	}

	unsubEvents := n.hub.Subscribe(changeTopic(scope.Table), func(_ string, data interface{}) {
		ev, ok := data.(Event)
		if !ok {
			return
		}
		switch scope.Match(ev) {
		case Skip:
			return
		case Evict:
			ev.OutOfScope = true
		}
		if w.OnEvent != nil {
			w.OnEvent(ev)
		}
	})
	unsubStatus := n.hub.Subscribe(statusTopic(scope.Table), func(_ string, data interface{}) {
		status, ok := data.(types.ChannelStatus)
		if ok && w.OnStatus != nil {
			w.OnStatus(status)
		}
	})

	var once sync.Once
	return func() {
		once.Do(func() {
			unsubEvents()
			unsubStatus()
			n.release(scope.Table)
		})
	}, nil
}

// Watchers returns the number of active watchers of table.
func (n *Normalizer) Watchers(table string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	if f, ok := n.feeds[table]; ok {
		return f.watchers
	}
	return 0
}

// Close releases every channel subscription. Later Watch calls fail.
func (n *Normalizer) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	var firstErr error
	for table, f := range n.feeds {
		if err := n.channel.Unsubscribe(f.handle); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(n.feeds, table)
	}
	return firstErr
}

// acquire must be called with n.mu held.
func (n *Normalizer) acquire(table string) error {
	if f, ok := n.feeds[table]; ok {
		f.watchers++
		return nil
	}
	handle, err := n.channel.Subscribe(table, types.ChannelHandlers{
		OnInsert: n.publish,
		OnUpdate: n.publish,
		OnDelete: n.publish,
		OnStatus: func(status types.ChannelStatus) { n.publishStatus(table, status) },
	})
	if err != nil {
		return err
	}
	n.feeds[table] = &tableFeed{handle: handle, watchers: 1}
	n.logger.Debug("subscribed to table", zap.String("table", table))
	return nil
}

func (n *Normalizer) release(table string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	f, ok := n.feeds[table]
	if !ok {
		return
	}
	f.watchers--
	if f.watchers > 0 {
		return
	}
	delete(n.feeds, table)
	if err := n.channel.Unsubscribe(f.handle); err != nil {
		n.logger.Warn("unsubscribe failed", zap.String("table", table), zap.Error(err))
	}
}

func (n *Normalizer) publish(rc types.RawChange) {
	ev, err := Normalize(rc)
	if err != nil {
		n.logger.Warn("dropping malformed change",
			zap.String("table", rc.Table), zap.String("type", rc.Type), zap.Error(err))
		n.metrics.Event(rc.Table, metrics.EventDropped)
		return
	}
	wait := n.hub.Publish(changeTopic(ev.Table), ev)
	wait()
}

func (n *Normalizer) publishStatus(table string, status types.ChannelStatus) {
	n.logger.Info("channel status", zap.String("table", table), zap.Stringer("status", status))
	wait := n.hub.Publish(statusTopic(table), status)
	wait()
}

// hubLogger routes the hub's diagnostics to zap.
type hubLogger struct {
	s *zap.SugaredLogger
}

func (l hubLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l hubLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l hubLogger) Infof(format string, args ...interface{})    { l.s.Debugf(format, args...) }
func (l hubLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
func (l hubLogger) Tracef(format string, args ...interface{})   { l.s.Debugf(format, args...) }
