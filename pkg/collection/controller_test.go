package collection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/practicesync/internal/snapshot"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

var ctx = context.Background()

// assertConverged checks that the cache holds exactly the controller's list.
func assertConverged(t *testing.T, h *harness, c *Controller[note]) {
	t.Helper()
	if diff := cmp.Diff(c.Items(), h.cached(c), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("cache and items diverged (-items +cache):\n%s", diff)
	}
}

// recordStates collects the item ids of every state c publishes.
func recordStates(c *Controller[note]) func() [][]string {
	var mu sync.Mutex
	var states [][]string
	c.OnChange(func(s State[note]) {
		mu.Lock()
		states = append(states, ids(s.Items))
		mu.Unlock()
	})
	return func() [][]string {
		mu.Lock()
		defer mu.Unlock()
		return append([][]string(nil), states...)
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{name: "no table", cfg: Config{}, wantErr: types.ErrTableNotFound},
		{name: "bad order", cfg: Config{Table: "notes", Order: "seq.sideways"}, wantErr: types.ErrInvalidOrder},
		{name: "bad filter", cfg: Config{Table: "notes", Filter: "client_id,like,c1"}, wantErr: types.ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New[note](h.rt, tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMountFetchesOwnRowsInOrder(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1), row("2", "u1", "b", 2), row("3", "u2", "other", 3))

	c := h.controller(Config{})
	assert.Equal(t, Idle, c.State().Phase)
	require.NoError(t, c.Mount(ctx))

	st := c.State()
	assert.Equal(t, []string{"2", "1"}, ids(st.Items))
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.Equal(t, Ready, st.Phase)
	assert.Equal(t, "notes-u1", c.Key())
	assertConverged(t, h, c)
}

func TestSecondMountServedFromCache(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1))

	a := h.mounted()
	b := h.mounted()

	assert.Equal(t, 1, h.store.selectCount())
	if diff := cmp.Diff(a.Items(), b.Items()); diff != "" {
		t.Errorf("mounts disagree (-a +b):\n%s", diff)
	}
}

func TestConcurrentMountsShareOneRead(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1), row("2", "u1", "b", 2))
	h.store.selectStarted = make(chan struct{}, 2)
	h.store.selectRelease = make(chan struct{})

	a := h.controller(Config{})
	b := h.controller(Config{})
	errc := make(chan error, 1)
	go func() { errc <- MountAll(ctx, a, b) }()

	<-h.store.selectStarted
	require.Eventually(t, func() bool { return a.Loading() && b.Loading() }, time.Second, time.Millisecond)
	assert.Equal(t, Fetching, a.State().Phase)
	// Give the second mount time to join the outstanding read.
	time.Sleep(20 * time.Millisecond)
	close(h.store.selectRelease)

	require.NoError(t, <-errc)
	assert.Equal(t, 1, h.store.selectCount())
	assert.Equal(t, []string{"2", "1"}, ids(a.Items()))
	if diff := cmp.Diff(a.Items(), b.Items()); diff != "" {
		t.Errorf("mounts disagree (-a +b):\n%s", diff)
	}
}

func TestFetchWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()
	require.Len(t, c.Items(), 1)

	h.session.Clear()
	require.NoError(t, c.Fetch(ctx, true))

	st := c.State()
	assert.Empty(t, st.Items)
	assert.False(t, st.Loading)
	assert.NoError(t, st.Err)
	assert.Equal(t, 1, h.store.selectCount())
	_, ok := h.rt.Cache().Get("notes-u1")
	assert.False(t, ok, "signing out invalidates the user's entry")
}

func TestFetchFailureKeepsItems(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()

	boom := errors.New("connection reset")
	h.store.setFail("select", boom)
	err := c.Refresh(ctx)

	require.ErrorIs(t, err, types.ErrFetchFailed)
	require.ErrorIs(t, err, boom)
	var ferr *types.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "Failed to load notes", ferr.Message)

	st := c.State()
	assert.Equal(t, []string{"1"}, ids(st.Items), "last good items retained")
	assert.False(t, st.Loading)
	assert.ErrorIs(t, st.Err, types.ErrFetchFailed)

	h.store.setFail("select", nil)
	require.NoError(t, c.Refresh(ctx))
	assert.NoError(t, c.Err(), "next successful fetch clears the error")
}

func TestFetchUsesCustomErrorMessage(t *testing.T) {
	h := newHarness(t)
	h.store.setFail("select", errors.New("down"))
	c := h.controller(Config{FetchErrorMessage: "Could not load your notes"})

	err := c.Mount(ctx)
	var ferr *types.FetchError
	require.ErrorAs(t, err, &ferr)
	assert.Equal(t, "Could not load your notes", ferr.Message)
	assert.Equal(t, Idle, c.State().Phase)
}

func TestRefreshBypassesCache(t *testing.T) {
	h := newHarness(t)
	c := h.mounted()
	h.store.seed(row("5", "u1", "late", 5))

	require.NoError(t, c.Fetch(ctx, true))
	assert.Empty(t, c.Items(), "cached fetch does not re-read")

	require.NoError(t, c.Refresh(ctx))
	assert.Equal(t, []string{"5"}, ids(c.Items()))
	assert.Equal(t, 2, h.store.selectCount())
	assertConverged(t, h, c)
}

func TestUserChangeInvalidatesCache(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "mine", 1), row("2", "u2", "theirs", 2))
	c := h.mounted()
	require.Equal(t, []string{"1"}, ids(c.Items()))

	h.session.Set("u2")
	require.NoError(t, c.Fetch(ctx, true))

	assert.Equal(t, []string{"2"}, ids(c.Items()))
	assert.Equal(t, "notes-u2", c.Key())
	_, ok := h.rt.Cache().Get("notes-u1")
	assert.False(t, ok)

	h.emit(types.OpInsert, row("3", "u1", "old user", 3), nil)
	h.emit(types.OpInsert, row("4", "u2", "new user", 4), nil)
	assert.Equal(t, []string{"4", "2"}, ids(c.Items()))
}

func TestInsertItemReplacesTempRecord(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()
	states := recordStates(c)

	created, err := c.InsertItem(ctx, note{ID: "ignored", Title: "Doc A"})
	require.NoError(t, err)

	assert.Equal(t, "u1", created.UserID)
	assert.Equal(t, "Doc A", created.Title)
	assert.NotEqual(t, "ignored", created.ID)
	assert.Contains(t, states(), []string{"temp-1000", "1"}, "optimistic row shown first")
	assert.Equal(t, []string{created.ID, "1"}, ids(c.Items()))
	assert.NoError(t, c.Err())
	assertConverged(t, h, c)
}

func TestInsertItemFailureRemovesTempRecord(t *testing.T) {
	h := newHarness(t)
	c := h.mounted()
	states := recordStates(c)

	offline := errors.New("offline")
	h.store.setFail("insert", offline)
	_, err := c.InsertItem(ctx, note{Title: "Doc A"})

	require.ErrorIs(t, err, types.ErrMutationFailed)
	require.ErrorIs(t, err, offline)
	var merr *types.MutationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, types.OpInsert, merr.Op)
	assert.Equal(t, "temp-1000", merr.ID)

	assert.Contains(t, states(), []string{"temp-1000"})
	assert.NotContains(t, ids(c.Items()), "temp-1000")
	assert.ErrorIs(t, c.Err(), types.ErrMutationFailed)
	assertConverged(t, h, c)
}

func TestTempIDAvoidsCollision(t *testing.T) {
	h := newQuietHarness(t)
	c := h.mounted()
	require.NoError(t, c.OptimisticUpdate("temp-1000", map[string]any{"title": "draft"}, types.OpInsert))

	h.store.setFail("insert", errors.New("offline"))
	_, err := c.InsertItem(ctx, note{Title: "Doc B"})

	var merr *types.MutationError
	require.ErrorAs(t, err, &merr)
	assert.Equal(t, "temp-1000-1", merr.ID)
	assert.Equal(t, []string{"temp-1000"}, ids(c.Items()))
}

func TestUpdateItemSuccessKeepsOptimisticState(t *testing.T) {
	h := newHarness(t)
	h.store.seed(types.Row{"id": "7", "user_id": "u1", "title": "t", "status": "todo", "seq": 7})
	c := h.mounted()

	require.NoError(t, c.UpdateItem(ctx, "7", map[string]any{"status": "done"}))

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "done", items[0].Status)
	assert.Equal(t, 1, h.store.selectCount(), "no read-back after success")
	assertConverged(t, h, c)
}

func TestUpdateItemFailureRestoresByRefetch(t *testing.T) {
	h := newHarness(t)
	h.store.seed(types.Row{"id": "7", "user_id": "u1", "title": "t", "status": "todo", "seq": 7})
	c := h.mounted()

	var mu sync.Mutex
	var seen []string
	c.OnChange(func(s State[note]) {
		mu.Lock()
		defer mu.Unlock()
		for _, n := range s.Items {
			seen = append(seen, n.Status)
		}
	})

	h.store.setFail("update", errors.New("permission denied"))
	err := c.UpdateItem(ctx, "7", map[string]any{"status": "done"})

	require.ErrorIs(t, err, types.ErrMutationFailed)
	mu.Lock()
	assert.Contains(t, seen, "done", "optimistic change was visible")
	mu.Unlock()

	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "todo", items[0].Status)
	assert.Equal(t, 2, h.store.selectCount(), "failure forces a re-read")
	assert.ErrorIs(t, c.Err(), types.ErrMutationFailed)
	assertConverged(t, h, c)
}

func TestUpdateItemOnAbsentRow(t *testing.T) {
	h := newHarness(t)
	c := h.mounted()

	err := c.UpdateItem(ctx, "missing", map[string]any{"status": "done"})
	require.ErrorIs(t, err, types.ErrNotFound)
	assert.Empty(t, c.Items())
	assert.ErrorIs(t, c.UpdateItem(ctx, "", nil), types.ErrInvalidID)
}

func TestDeleteItemThenInboundDelete(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("42", "u1", "gone soon", 42), row("1", "u1", "stays", 1))
	c := h.mounted()

	require.NoError(t, c.DeleteItem(ctx, "42"))
	h.emit(types.OpDelete, nil, types.Row{"id": "42"})

	assert.Equal(t, []string{"1"}, ids(c.Items()))
	assert.NoError(t, c.Err())
	assertConverged(t, h, c)
}

func TestDeleteItemFailureRestoresPosition(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1), row("2", "u1", "b", 2), row("3", "u1", "c", 3))
	c := h.mounted()
	states := recordStates(c)

	h.store.setFail("delete", errors.New("locked"))
	err := c.DeleteItem(ctx, "2")

	require.ErrorIs(t, err, types.ErrMutationFailed)
	assert.Contains(t, states(), []string{"3", "1"})
	assert.Equal(t, []string{"3", "2", "1"}, ids(c.Items()))
	assertConverged(t, h, c)
}

func TestMutationsWithoutSession(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()
	before := c.Items()
	cachedBefore := h.cached(c)

	h.session.Clear()
	_, err := c.InsertItem(ctx, note{Title: "x"})
	assert.ErrorIs(t, err, types.ErrNotAuthenticated)
	assert.EqualError(t, err, "Not authenticated")
	assert.ErrorIs(t, c.UpdateItem(ctx, "1", map[string]any{"title": "y"}), types.ErrNotAuthenticated)
	assert.ErrorIs(t, c.DeleteItem(ctx, "1"), types.ErrNotAuthenticated)

	assert.Equal(t, before, c.Items())
	assert.Equal(t, cachedBefore, h.cached(c))
}

func TestOptimisticUpdate(t *testing.T) {
	h := newQuietHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()

	require.NoError(t, c.OptimisticUpdate("missing", map[string]any{"title": "x"}, types.OpUpdate))
	assert.Equal(t, []string{"1"}, ids(c.Items()), "update of absent row is a no-op")

	require.NoError(t, c.OptimisticUpdate("1", map[string]any{"title": "renamed"}, types.OpUpdate))
	assert.Equal(t, "renamed", c.Items()[0].Title)

	require.NoError(t, c.OptimisticUpdate("2", map[string]any{"title": "new"}, types.OpInsert))
	assert.Equal(t, []string{"2", "1"}, ids(c.Items()))

	require.NoError(t, c.OptimisticUpdate("1", nil, types.OpDelete))
	assert.Equal(t, []string{"2"}, ids(c.Items()))

	assert.ErrorIs(t, c.OptimisticUpdate("2", nil, types.OpAll), types.ErrInvalidOp)
	assertConverged(t, h, c)
	assert.Equal(t, 1, h.store.selectCount(), "only the mount read the store")
}

func TestInboundInsertIsIdempotent(t *testing.T) {
	h := newQuietHarness(t)
	c := h.mounted()

	h.emit(types.OpInsert, row("9", "u1", "x", 9), nil)
	h.emit(types.OpInsert, row("9", "u1", "x", 9), nil)

	assert.Equal(t, []string{"9"}, ids(c.Items()))
	assertConverged(t, h, c)
}

func TestInboundChanges(t *testing.T) {
	h := newQuietHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()

	h.emit(types.OpInsert, row("2", "u2", "not mine", 2), nil)
	assert.Equal(t, []string{"1"}, ids(c.Items()), "other owner ignored")

	h.emit(types.OpUpdate, row("8", "u1", "absent", 8), nil)
	assert.Equal(t, []string{"1"}, ids(c.Items()), "update of absent row ignored")

	h.emit(types.OpUpdate, row("1", "u1", "renamed", 1), types.Row{"id": "1"})
	assert.Equal(t, "renamed", c.Items()[0].Title)

	h.emit(types.OpDelete, nil, types.Row{"id": "1"})
	assert.Empty(t, c.Items())
	assertConverged(t, h, c)
}

func TestInboundChangeDuringMountSurvivesRead(t *testing.T) {
	tests := []struct {
		name   string
		emit   func(h *harness)
		want   []string
		titles map[string]string
	}{
		{
			name: "insert",
			emit: func(h *harness) { h.emit(types.OpInsert, row("9", "u1", "new", 9), nil) },
			want: []string{"9", "2", "1"},
		},
		{
			name:   "update",
			emit:   func(h *harness) { h.emit(types.OpUpdate, row("1", "u1", "renamed", 1), types.Row{"id": "1"}) },
			want:   []string{"2", "1"},
			titles: map[string]string{"1": "renamed"},
		},
		{
			name: "delete",
			emit: func(h *harness) { h.emit(types.OpDelete, nil, types.Row{"id": "2", "user_id": "u1"}) },
			want: []string{"1"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newQuietHarness(t)
			h.store.seed(row("1", "u1", "a", 1), row("2", "u1", "b", 2))
			h.store.selectStarted = make(chan struct{}, 1)
			h.store.selectRelease = make(chan struct{})

			c := h.controller(Config{})
			errc := make(chan error, 1)
			go func() { errc <- c.Mount(ctx) }()

			<-h.store.selectStarted
			tt.emit(h)
			close(h.store.selectRelease)
			require.NoError(t, <-errc)

			assert.Equal(t, tt.want, ids(c.Items()))
			for _, n := range c.Items() {
				if title, ok := tt.titles[n.ID]; ok {
					assert.Equal(t, title, n.Title)
				}
			}
			assertConverged(t, h, c)
		})
	}
}

func TestInboundChangeDuringRefreshSurvivesRead(t *testing.T) {
	h := newQuietHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	c := h.mounted()

	h.store.mu.Lock()
	h.store.selectStarted = make(chan struct{}, 1)
	h.store.selectRelease = make(chan struct{})
	h.store.mu.Unlock()

	errc := make(chan error, 1)
	go func() { errc <- c.Refresh(ctx) }()

	<-h.store.selectStarted
	h.emit(types.OpInsert, row("9", "u1", "new", 9), nil)
	h.emit(types.OpInsert, row("9", "u1", "new", 9), nil)
	close(h.store.selectRelease)
	require.NoError(t, <-errc)

	assert.Equal(t, []string{"9", "1"}, ids(c.Items()))
	assertConverged(t, h, c)
}

func TestInsertItemOutsideSecondaryFilterNotListed(t *testing.T) {
	h := newHarness(t)
	c := h.controller(Config{Filter: "client_id,eq,c1"})
	require.NoError(t, c.Mount(ctx))
	states := recordStates(c)

	other, err := c.InsertItem(ctx, note{ClientID: "c2", Title: "elsewhere"})
	require.NoError(t, err)
	assert.NotEmpty(t, other.ID)
	assert.Empty(t, c.Items(), "row for another client is stored but not listed")
	for _, st := range states() {
		assert.Empty(t, st, "no optimistic row shown")
	}

	mine, err := c.InsertItem(ctx, note{ClientID: "c1", Title: "here"})
	require.NoError(t, err)
	assert.Equal(t, []string{mine.ID}, ids(c.Items()))
	assertConverged(t, h, c)
}

func TestSecondaryFilterScopesFetchAndEvents(t *testing.T) {
	h := newQuietHarness(t)
	h.store.seed(
		types.Row{"id": "1", "user_id": "u1", "client_id": "c1", "title": "a", "seq": 1},
		types.Row{"id": "2", "user_id": "u1", "client_id": "c2", "title": "b", "seq": 2},
	)
	c := h.controller(Config{Filter: "client_id,eq,c1"})
	require.NoError(t, c.Mount(ctx))

	assert.Equal(t, []string{"1"}, ids(c.Items()))
	assert.Equal(t, "notes-u1-client_id.eq.c1", c.Key())

	h.emit(types.OpInsert, types.Row{"id": "3", "user_id": "u1", "client_id": "c2", "seq": 3}, nil)
	assert.Equal(t, []string{"1"}, ids(c.Items()), "insert for another client dropped")

	h.emit(types.OpInsert, types.Row{"id": "4", "user_id": "u1", "client_id": "c1", "seq": 4}, nil)
	assert.Equal(t, []string{"4", "1"}, ids(c.Items()))

	h.emit(types.OpUpdate, types.Row{"id": "1", "user_id": "u1", "client_id": "c2", "seq": 1}, nil)
	assert.Equal(t, []string{"4"}, ids(c.Items()), "row moved to another client is removed")
	assertConverged(t, h, c)
}

func TestInboundChangeHeldBackWhileUpdatePending(t *testing.T) {
	h := newQuietHarness(t)
	h.store.seed(types.Row{"id": "7", "user_id": "u1", "title": "t", "status": "todo", "seq": 7})
	c := h.mounted()
	h.store.updateStarted = make(chan struct{})
	h.store.updateRelease = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- c.UpdateItem(ctx, "7", map[string]any{"status": "done"}) }()
	<-h.store.updateStarted

	h.emit(types.OpUpdate, types.Row{"id": "7", "user_id": "u1", "title": "remote", "status": "done", "seq": 7}, nil)
	assert.Equal(t, "t", c.Items()[0].Title, "change held back while the update is in flight")
	assert.Equal(t, "done", c.Items()[0].Status)

	close(h.store.updateRelease)
	require.NoError(t, <-errc)
	assert.Equal(t, "remote", c.Items()[0].Title, "held back change replayed")
	assertConverged(t, h, c)
}

func TestHeldBackChangeDroppedWhenUpdateFails(t *testing.T) {
	h := newQuietHarness(t)
	h.store.seed(types.Row{"id": "7", "user_id": "u1", "title": "t", "status": "todo", "seq": 7})
	c := h.mounted()
	h.store.updateStarted = make(chan struct{})
	h.store.updateRelease = make(chan struct{})
	h.store.setFail("update", errors.New("conflict"))

	errc := make(chan error, 1)
	go func() { errc <- c.UpdateItem(ctx, "7", map[string]any{"status": "done"}) }()
	<-h.store.updateStarted
	h.emit(types.OpUpdate, types.Row{"id": "7", "user_id": "u1", "title": "remote", "seq": 7}, nil)
	close(h.store.updateRelease)

	require.ErrorIs(t, <-errc, types.ErrMutationFailed)
	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "t", items[0].Title, "re-read wins over the held back change")
	assert.Equal(t, "todo", items[0].Status)
}

func TestReconnectTriggersDebouncedRefresh(t *testing.T) {
	h := newHarness(t)
	c := h.mounted()
	h.store.seed(row("5", "u1", "missed while offline", 5))

	h.channel.SetStatus(types.StatusDisconnected)
	h.channel.SetStatus(types.StatusReconnected)
	h.channel.SetStatus(types.StatusReconnected)
	require.NoError(t, h.clock.WaitAdvance(reconnectDebounce, time.Second, 1))

	require.Eventually(t, func() bool {
		return len(c.Items()) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"5"}, ids(c.Items()))
	assert.Never(t, func() bool { return h.store.selectCount() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestUnmountStopsFollowingChanges(t *testing.T) {
	h := newQuietHarness(t)
	c := h.mounted()
	assert.Equal(t, 1, h.channel.Subscribers(notesTable))

	c.Unmount()
	assert.Equal(t, 0, h.channel.Subscribers(notesTable))

	h.emit(types.OpInsert, row("1", "u1", "late", 1), nil)
	assert.Empty(t, c.Items())
	assert.ErrorIs(t, c.Fetch(ctx, true), types.ErrUnmounted)
	_, err := c.InsertItem(ctx, note{Title: "x"})
	assert.ErrorIs(t, err, types.ErrUnmounted)
	assert.ErrorIs(t, c.OptimisticUpdate("1", nil, types.OpDelete), types.ErrUnmounted)
}

func TestUnmountDuringFetchLeavesCacheAlone(t *testing.T) {
	h := newHarness(t)
	h.store.seed(row("1", "u1", "a", 1))
	h.store.selectStarted = make(chan struct{}, 1)
	h.store.selectRelease = make(chan struct{})
	c := h.controller(Config{})

	errc := make(chan error, 1)
	go func() { errc <- c.Mount(ctx) }()
	<-h.store.selectStarted
	c.Unmount()
	close(h.store.selectRelease)

	require.NoError(t, <-errc)
	assert.Empty(t, c.Items())
	_, ok := snapshot.Load[note](h.rt.Cache(), "notes-u1")
	assert.False(t, ok)
}

func TestMountAllUnmountsOnFailure(t *testing.T) {
	h := newHarness(t)
	h.store.setFail("select", errors.New("down"))
	a := h.controller(Config{})
	b := h.controller(Config{Filter: "client_id,eq,c1"})

	err := MountAll(ctx, a, b)
	require.ErrorIs(t, err, types.ErrFetchFailed)
	assert.ErrorIs(t, a.Mount(ctx), types.ErrUnmounted)
	assert.ErrorIs(t, b.Mount(ctx), types.ErrUnmounted)
}
