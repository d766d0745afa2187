package collection

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/practicesync/internal/auth"
	"github.com/mesh-intelligence/practicesync/internal/changefeed"
	"github.com/mesh-intelligence/practicesync/internal/snapshot"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

const notesTable = "notes"

// note is the record type used throughout these tests.
type note struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	ClientID string `json:"client_id,omitempty"`
	Title    string `json:"title"`
	Status   string `json:"status,omitempty"`
	Seq      int    `json:"seq,omitempty"`
}

func (n note) GetID() string { return n.ID }

// memStore is an in-memory types.RowStore. When emit is set every committed
// mutation is delivered on it, as the sqlite backend does.
type memStore struct {
	mu      sync.Mutex
	rows    []types.Row
	emit    *changefeed.LocalChannel
	nextSeq int
	selects int

	failSelect error
	failInsert error
	failUpdate error
	failDelete error

	// When set, Select and Update signal on started and wait for release.
	selectStarted chan struct{}
	selectRelease chan struct{}
	updateStarted chan struct{}
	updateRelease chan struct{}
}

func newMemStore(emit *changefeed.LocalChannel) *memStore {
	return &memStore{emit: emit, nextSeq: 100}
}

func (s *memStore) seed(rows ...types.Row) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rows {
		s.rows = append(s.rows, r.Clone())
	}
}

func (s *memStore) selectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selects
}

func (s *memStore) setFail(kind string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case "select":
		s.failSelect = err
	case "insert":
		s.failInsert = err
	case "update":
		s.failUpdate = err
	case "delete":
		s.failDelete = err
	}
}

func (s *memStore) Select(ctx context.Context, q types.Query) ([]types.Row, error) {
	s.mu.Lock()
	s.selects++
	started, release := s.selectStarted, s.selectRelease
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSelect != nil {
		return nil, s.failSelect
	}
	var out []types.Row
	for _, r := range s.rows {
		if matchesAll(r, q.Filters) {
			out = append(out, r.Clone())
		}
	}
	if q.Order.Column != "" {
		sort.SliceStable(out, func(i, j int) bool {
			a, b := out[i][q.Order.Column], out[j][q.Order.Column]
			if q.Order.Descending {
				return less(b, a)
			}
			return less(a, b)
		})
	}
	return out, nil
}

func (s *memStore) Insert(ctx context.Context, table string, row types.Row) (types.Row, error) {
	s.mu.Lock()
	if s.failInsert != nil {
		err := s.failInsert
		s.mu.Unlock()
		return nil, err
	}
	s.nextSeq++
	stored := row.Clone()
	stored["id"] = fmt.Sprintf("n%d", s.nextSeq)
	stored["seq"] = s.nextSeq
	s.rows = append(s.rows, stored)
	out := stored.Clone()
	s.mu.Unlock()

	s.publish(table, types.OpInsert, out, nil)
	return out, nil
}

func (s *memStore) Update(ctx context.Context, table, id string, changes map[string]any, owner types.Owner) error {
	s.mu.Lock()
	started, release := s.updateStarted, s.updateRelease
	s.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-release
	}

	s.mu.Lock()
	if s.failUpdate != nil {
		err := s.failUpdate
		s.mu.Unlock()
		return err
	}
	i := s.indexLocked(id, owner)
	if i < 0 {
		s.mu.Unlock()
		return types.ErrNotFound
	}
	for k, v := range changes {
		s.rows[i][k] = v
	}
	out := s.rows[i].Clone()
	s.mu.Unlock()

	s.publish(table, types.OpUpdate, out, types.Row{"id": id})
	return nil
}

func (s *memStore) Delete(ctx context.Context, table, id string, owner types.Owner) error {
	s.mu.Lock()
	if s.failDelete != nil {
		err := s.failDelete
		s.mu.Unlock()
		return err
	}
	i := s.indexLocked(id, owner)
	if i < 0 {
		s.mu.Unlock()
		return types.ErrNotFound
	}
	s.rows = append(s.rows[:i], s.rows[i+1:]...)
	s.mu.Unlock()

	s.publish(table, types.OpDelete, nil, types.Row{"id": id})
	return nil
}

func (s *memStore) indexLocked(id string, owner types.Owner) int {
	for i, r := range s.rows {
		if r.ID() == id && owner.Filter().Matches(r) {
			return i
		}
	}
	return -1
}

func (s *memStore) publish(table string, op types.Op, newRow, oldRow types.Row) {
	if s.emit == nil {
		return
	}
	rc, err := types.NewRawChange(table, op, newRow, oldRow, time.Now())
	if err != nil {
		panic(err)
	}
	s.emit.Emit(rc)
}

// less orders numbers numerically and anything else by its text.
func less(a, b any) bool {
	fa, aok := number(a)
	fb, bok := number(b)
	if aok && bok {
		return fa < fb
	}
	return fmt.Sprint(a) < fmt.Sprint(b)
}

func number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func matchesAll(r types.Row, filters []types.Filter) bool {
	for _, f := range filters {
		if !f.Matches(r) {
			return false
		}
	}
	return true
}

// harness wires a runtime over a memStore and a local change channel.
type harness struct {
	t       *testing.T
	clock   *testclock.Clock
	channel *changefeed.LocalChannel
	store   *memStore
	session *auth.StaticSession
	rt      *Runtime
}

const reconnectDebounce = 100 * time.Millisecond

// newHarness returns a harness whose store emits its own changes.
func newHarness(t *testing.T, opts ...Option) *harness {
	return buildHarness(t, true, opts...)
}

// newQuietHarness returns a harness whose store does not emit; the test
// drives the change channel itself.
func newQuietHarness(t *testing.T, opts ...Option) *harness {
	return buildHarness(t, false, opts...)
}

func buildHarness(t *testing.T, storeEmits bool, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		clock:   testclock.NewClock(time.UnixMilli(1000)),
		channel: changefeed.NewLocalChannel(),
		session: auth.NewStaticSession("u1"),
	}
	var emit *changefeed.LocalChannel
	if storeEmits {
		emit = h.channel
	}
	h.store = newMemStore(emit)
	opts = append([]Option{
		WithClock(h.clock),
		WithReconnectDebounce(reconnectDebounce),
	}, opts...)
	h.rt = NewRuntime(h.store, h.channel, h.session, opts...)
	t.Cleanup(func() { _ = h.rt.Close() })
	return h
}

func (h *harness) controller(cfg Config) *Controller[note] {
	h.t.Helper()
	if cfg.Table == "" {
		cfg.Table = notesTable
	}
	if cfg.Order == "" {
		cfg.Order = "seq.desc"
	}
	c, err := New[note](h.rt, cfg)
	require.NoError(h.t, err)
	h.t.Cleanup(c.Unmount)
	return c
}

func (h *harness) mounted() *Controller[note] {
	h.t.Helper()
	c := h.controller(Config{})
	require.NoError(h.t, c.Mount(context.Background()))
	return c
}

func (h *harness) emit(op types.Op, newRow, oldRow types.Row) {
	h.t.Helper()
	rc, err := types.NewRawChange(notesTable, op, newRow, oldRow, h.clock.Now())
	require.NoError(h.t, err)
	h.channel.Emit(rc)
}

func (h *harness) cached(c *Controller[note]) []note {
	h.t.Helper()
	items, ok := snapshot.Load[note](h.rt.Cache(), c.Key())
	require.True(h.t, ok, "cache entry for %s", c.Key())
	return items
}

func row(id, user, title string, seq int) types.Row {
	return types.Row{"id": id, "user_id": user, "title": title, "seq": seq}
}

func ids(items []note) []string {
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.ID
	}
	return out
}

func requireUniqueIDs(t *testing.T, items []note) {
	t.Helper()
	seen := make(map[string]bool, len(items))
	for _, n := range items {
		require.False(t, seen[n.ID], "duplicate id %s in %v", n.ID, ids(items))
		seen[n.ID] = true
	}
}
