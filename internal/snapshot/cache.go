// Package snapshot implements the process-wide snapshot cache shared by
// synchronized collections: the last known-good item list per cache key.
package snapshot

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Entry is one cached list and the time it was written.
type Entry struct {
	Items     any
	WrittenAt time.Time
}

// Cache maps a cache key to the last list written for it. There is no expiry;
// entries leave only through Clear or Reset. Last writer wins.
type Cache struct {
	mu      sync.RWMutex
	clock   clock.Clock
	entries map[string]Entry
}

// New creates an empty cache. A nil clock uses the wall clock.
func New(clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.WallClock
	}
	return &Cache{
		clock:   clk,
		entries: make(map[string]Entry),
	}
}

// Key derives the cache key for a table read by userID: "{table}-{userID}",
// or table alone without a user. Secondary filters are appended so that two
// differently filtered views of one table never share an entry.
func Key(table, userID string, filters ...types.Filter) string {
	var b strings.Builder
	b.WriteString(table)
	if userID != "" {
		b.WriteByte('-')
		b.WriteString(userID)
	}
	for _, f := range filters {
		b.WriteByte('-')
		b.WriteString(f.Key())
	}
	return b.String()
}

// Get returns the entry for key.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

// Set unconditionally overwrites the entry for key.
func (c *Cache) Set(key string, items any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Items: items, WrittenAt: c.clock.Now()}
}

// Clear removes the entry for key.
func (c *Cache) Clear(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Reset removes every entry.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns the cached keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Load returns a copy of the list cached under key. It reports false when
// the key is absent or holds a list of another type.
func Load[T any](c *Cache, key string) ([]T, bool) {
	e, ok := c.Get(key)
	if !ok {
		return nil, false
	}
	items, ok := e.Items.([]T)
	if !ok {
		return nil, false
	}
	return slices.Clone(items), true
}

// Store caches a copy of items under key.
func Store[T any](c *Cache, key string, items []T) {
	cp := slices.Clone(items)
	if cp == nil {
		cp = []T{}
	}
	c.Set(key, cp)
}
