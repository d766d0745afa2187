package collection

import (
	"context"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/changefeed"
	"github.com/mesh-intelligence/practicesync/internal/metrics"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// watch follows the change feed for user, replacing a subscription held for
// another user.
func (c *Controller[T]) watch(user string) {
	if c.rt.feed == nil {
		return
	}
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.stopWatch != nil && c.watchUser == user {
		return
	}
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}

	scope := changefeed.Scope{
		Table:       c.cfg.Table,
		OwnerColumn: c.cfg.OwnerColumn,
		UserID:      user,
		Filters:     c.filters,
	}
	stop, err := c.rt.feed.Watch(scope, changefeed.Watcher{
		OnEvent:  func(ev changefeed.Event) { c.handleEvent(user, ev) },
		OnStatus: c.handleStatus,
	})
	if err != nil {
		c.logger.Warn("cannot follow change feed", zap.Error(err))
		return
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		stop()
		return
	}
	c.stopWatch = stop
	c.watchUser = user
}

func (c *Controller[T]) unwatch() {
	c.watchMu.Lock()
	defer c.watchMu.Unlock()
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
		c.watchUser = ""
	}
}

func (c *Controller[T]) handleEvent(user string, ev changefeed.Event) {
	c.mu.Lock()
	if c.closed || c.userID != user {
		c.mu.Unlock()
		return
	}
	if c.loading {
		c.buffered = append(c.buffered, ev)
		c.mu.Unlock()
		c.rt.metrics.Event(c.cfg.Table, metrics.EventDeferred)
		c.logger.Debug("holding back change until read completes", zap.Stringer("op", ev.Op))
		return
	}
	id := ev.ID()
	if c.pending[id] > 0 {
		c.deferred[id] = append(c.deferred[id], ev)
		c.mu.Unlock()
		c.rt.metrics.Event(c.cfg.Table, metrics.EventDeferred)
		c.logger.Debug("holding back change for row with mutation in flight",
			zap.String("id", id), zap.Stringer("op", ev.Op))
		return
	}
	applied := c.applyEventLocked(ev)
	if applied {
		c.storeLocked()
	}
	c.mu.Unlock()

	if !applied {
		c.rt.metrics.Event(c.cfg.Table, metrics.EventDropped)
		return
	}
	c.rt.metrics.Event(c.cfg.Table, metrics.EventApplied)
	c.notify()
}

// applyEventLocked merges one inbound change into the list. Inserts replace a
// row already present with the same id, so redelivery is harmless. Updates
// for absent rows are ignored. It reports false when the change could not
// be decoded.
func (c *Controller[T]) applyEventLocked(ev changefeed.Event) bool {
	id := ev.ID()
	switch ev.Op {
	case types.OpDelete:
		c.removeLocked(id)
		return true
	case types.OpUpdate:
		if ev.OutOfScope {
			c.removeLocked(id)
			return true
		}
		i := c.indexLocked(id)
		if i < 0 {
			return true
		}
		rec, err := types.DecodeRow[T](ev.New)
		if err != nil {
			c.logger.Debug("undecodable change", zap.String("id", id), zap.Error(err))
			return false
		}
		c.items[i] = rec
		return true
	case types.OpInsert:
		rec, err := types.DecodeRow[T](ev.New)
		if err != nil {
			c.logger.Debug("undecodable change", zap.String("id", id), zap.Error(err))
			return false
		}
		c.upsertLocked(rec)
		return true
	}
	return false
}

// handleStatus schedules a refresh after the change channel reconnects,
// since changes committed while it was down are never replayed.
func (c *Controller[T]) handleStatus(status types.ChannelStatus) {
	switch status {
	case types.StatusDisconnected:
		c.logger.Info("change feed disconnected")
	case types.StatusReconnected:
		c.logger.Info("change feed reconnected, scheduling refresh")
		c.refreshes.Trigger(reconnectKey, func() {
			ctx := context.Background()
			if err := c.refresh(ctx, "reconnect"); err != nil {
				c.logger.Warn("refresh after reconnect failed", zap.Error(err))
			}
		})
	}
}
