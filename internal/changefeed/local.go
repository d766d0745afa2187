package changefeed

import (
	"sort"
	"sync"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// LocalChannel is an in-process types.ChangeChannel. The row store emits
// every committed mutation on it; tests use it to inject changes and
// connection drops.
type LocalChannel struct {
	mu     sync.Mutex
	next   uint64
	subs   map[string]map[uint64]types.ChannelHandlers
	closed bool

	// emitMu keeps deliveries in emit order.
	emitMu sync.Mutex
}

var _ types.ChangeChannel = (*LocalChannel)(nil)

// NewLocalChannel returns an open channel with no subscribers.
func NewLocalChannel() *LocalChannel {
	return &LocalChannel{subs: make(map[string]map[uint64]types.ChannelHandlers)}
}

// Subscribe implements types.ChangeChannel.
func (c *LocalChannel) Subscribe(table string, handlers types.ChannelHandlers) (types.ChannelHandle, error) {
	if table == "" {
		return types.ChannelHandle{}, types.ErrTableNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return types.ChannelHandle{}, types.ErrChannelClosed
	}
	c.next++
	if c.subs[table] == nil {
		c.subs[table] = make(map[uint64]types.ChannelHandlers)
	}
	c.subs[table][c.next] = handlers
	return types.ChannelHandle{Table: table, ID: c.next}, nil
}

// Unsubscribe implements types.ChangeChannel.
func (c *LocalChannel) Unsubscribe(h types.ChannelHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if subs, ok := c.subs[h.Table]; ok {
		delete(subs, h.ID)
		if len(subs) == 0 {
			delete(c.subs, h.Table)
		}
	}
	return nil
}

// Subscribers returns the number of subscriptions on table.
func (c *LocalChannel) Subscribers(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[table])
}

// Emit delivers rc to the subscribers of rc.Table in subscription order and
// returns once every handler has run.
func (c *LocalChannel) Emit(rc types.RawChange) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, h := range c.handlers(rc.Table) {
		h.Dispatch(rc)
	}
}

// SetStatus reports a connection transition to every subscriber.
func (c *LocalChannel) SetStatus(status types.ChannelStatus) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, h := range c.handlers("") {
		if h.OnStatus != nil {
			h.OnStatus(status)
		}
	}
}

// Close drops every subscription; later Subscribe calls fail.
func (c *LocalChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.subs = make(map[string]map[uint64]types.ChannelHandlers)
	return nil
}

// handlers snapshots the handlers of table, or of every table when table is
// empty, ordered by subscription.
func (c *LocalChannel) handlers(table string) []types.ChannelHandlers {
	c.mu.Lock()
	defer c.mu.Unlock()
	type entry struct {
		id uint64
		h  types.ChannelHandlers
	}
	var entries []entry
	for t, subs := range c.subs {
		if table != "" && t != table {
			continue
		}
		for id, h := range subs {
			entries = append(entries, entry{id, h})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	out := make([]types.ChannelHandlers, len(entries))
	for i, e := range entries {
		out[i] = e.h
	}
	return out
}
