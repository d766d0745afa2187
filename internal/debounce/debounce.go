// Package debounce delays a function until calls for the same key stop
// arriving for a quiet period.
package debounce

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Debouncer runs at most one pending function per key. A new Trigger for a
// key replaces the pending function and restarts its quiet period.
type Debouncer struct {
	clock clock.Clock
	delay time.Duration

	mu      sync.Mutex
	pending map[string]*call
	stopped bool
}

type call struct {
	timer clock.Timer
}

// New returns a Debouncer that waits delay after the last Trigger for a key.
// A nil clock uses the wall clock.
func New(clk clock.Clock, delay time.Duration) *Debouncer {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Debouncer{
		clock:   clk,
		delay:   delay,
		pending: make(map[string]*call),
	}
}

// Trigger schedules fn for key, superseding any call still pending for it.
// Triggers after Stop are ignored.
func (d *Debouncer) Trigger(key string, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	if c, ok := d.pending[key]; ok {
		c.timer.Stop()
	}
	c := &call{}
	c.timer = d.clock.AfterFunc(d.delay, func() {
		d.mu.Lock()
		current := d.pending[key] == c
		if current {
			delete(d.pending, key)
		}
		d.mu.Unlock()
		// A superseded timer that fired before Stop took effect must not run.
		if current {
			fn()
		}
	})
	d.pending[key] = c
}

// Cancel drops the pending call for key. It reports whether one was pending.
func (d *Debouncer) Cancel(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.pending[key]
	if !ok {
		return false
	}
	c.timer.Stop()
	delete(d.pending, key)
	return true
}

// Pending returns the number of keys with a scheduled call.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels every pending call. The Debouncer cannot be reused.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	for key, c := range d.pending {
		c.timer.Stop()
		delete(d.pending, key)
	}
}
