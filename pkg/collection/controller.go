package collection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/changefeed"
	"github.com/mesh-intelligence/practicesync/internal/debounce"
	"github.com/mesh-intelligence/practicesync/internal/snapshot"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

const reconnectKey = "reconnect"

// Controller keeps the rows of one table owned by the signed-in user.
//
// Reads go through the snapshot cache. Mutations are applied locally before
// the row store is called and are reconciled when it fails. Inbound changes
// for a row with a mutation in flight are held back and replayed once the
// mutation settles.
type Controller[T types.Record] struct {
	rt      *Runtime
	cfg     Config
	columns []string
	order   types.Order
	filters []types.Filter
	logger  *zap.Logger

	refreshes *debounce.Debouncer

	// watchMu serializes changes to the feed subscription.
	watchMu   sync.Mutex
	stopWatch func()
	watchUser string

	// notifyMu keeps listener notifications in state order.
	notifyMu sync.Mutex

	mu          sync.Mutex
	items       []T
	loading     bool
	err         error
	fetchedOnce bool
	userID      string
	fetchSeq    uint64
	closed      bool
	pending     map[string]int
	deferred    map[string][]changefeed.Event
	buffered    []changefeed.Event
	listeners   map[int]func(State[T])
	nextID      int
}

// New returns a controller for cfg. It does nothing until Mount.
func New[T types.Record](rt *Runtime, cfg Config) (*Controller[T], error) {
	if cfg.Table == "" {
		return nil, types.ErrTableNotFound
	}
	if cfg.OwnerColumn == "" {
		cfg.OwnerColumn = types.ColumnOwner
	}
	if cfg.FetchErrorMessage == "" {
		cfg.FetchErrorMessage = "Failed to load " + cfg.Table
	}
	order, err := types.ParseOrder(cfg.Order)
	if err != nil {
		return nil, err
	}
	var filters []types.Filter
	if cfg.Filter != "" {
		f, err := types.ParseFilter(cfg.Filter)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return &Controller[T]{
		rt:        rt,
		cfg:       cfg,
		columns:   types.ParseColumns(cfg.Columns),
		order:     order,
		filters:   filters,
		logger:    rt.logger.Named("collection").With(zap.String("table", cfg.Table)),
		refreshes: debounce.New(rt.clock, rt.reconnectDebounce),
		pending:   make(map[string]int),
		deferred:  make(map[string][]changefeed.Event),
		listeners: make(map[int]func(State[T])),
	}, nil
}

// Table returns the controller's table.
func (c *Controller[T]) Table() string { return c.cfg.Table }

// Key returns the cache key of the current user, or "" when signed out.
func (c *Controller[T]) Key() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userID == "" {
		return ""
	}
	return c.keyFor(c.userID)
}

func (c *Controller[T]) keyFor(userID string) string {
	return snapshot.Key(c.cfg.Table, userID, c.filters...)
}

// Mount loads the collection, from the cache when possible, and starts
// following the change feed.
func (c *Controller[T]) Mount(ctx context.Context) error {
	return c.Fetch(ctx, true)
}

// Unmount stops the change feed subscription and pending refreshes. Reads and
// mutations still in flight complete without touching state or cache.
func (c *Controller[T]) Unmount() {
	c.mu.Lock()
	c.closed = true
	c.listeners = make(map[int]func(State[T]))
	c.mu.Unlock()

	c.refreshes.Stop()
	c.unwatch()
}

// OnChange registers fn to receive every new state. The returned function
// removes it.
func (c *Controller[T]) OnChange(fn func(State[T])) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

// State returns a snapshot of the controller.
func (c *Controller[T]) State() State[T] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

// Items returns a copy of the current list.
func (c *Controller[T]) Items() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.items)
}

// Loading reports whether a read is outstanding.
func (c *Controller[T]) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loading
}

// Err returns the last fetch or mutation error, or nil.
func (c *Controller[T]) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Controller[T]) stateLocked() State[T] {
	phase := Idle
	switch {
	case c.loading:
		phase = Fetching
	case c.fetchedOnce:
		phase = Ready
	}
	return State[T]{
		Items:   slices.Clone(c.items),
		Loading: c.loading,
		Err:     c.err,
		Phase:   phase,
	}
}

func (c *Controller[T]) notify() {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	if len(c.listeners) == 0 {
		c.mu.Unlock()
		return
	}
	state := c.stateLocked()
	fns := make([]func(State[T]), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// storeLocked writes the list to the cache under the current key.
func (c *Controller[T]) storeLocked() {
	if c.closed || c.userID == "" {
		return
	}
	snapshot.Store(c.rt.cache, c.keyFor(c.userID), c.items)
}

// Fetch loads the collection for the signed-in user.
//
// Without a session the list is cleared and Fetch returns nil. With useCache
// a controller that has loaded once returns at once, and a cached list is
// served without a read; concurrent cached reads of one key share a single
// read. A failed read is recorded as a *types.FetchError and returned; the
// list keeps its last good contents.
func (c *Controller[T]) Fetch(ctx context.Context, useCache bool) error {
	user, ok := c.rt.session.CurrentUser()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrUnmounted
	}
	if !ok {
		c.signOutLocked()
		c.mu.Unlock()
		c.unwatch()
		c.notify()
		return nil
	}
	if user != c.userID {
		c.switchUserLocked(user)
	}
	key := c.keyFor(user)

	if useCache {
		if c.fetchedOnce {
			c.mu.Unlock()
			return nil
		}
		items, hit := snapshot.Load[T](c.rt.cache, key)
		c.rt.metrics.CacheLookup(c.cfg.Table, hit)
		if hit {
			c.items = items
			c.fetchedOnce = true
			c.err = nil
			c.mu.Unlock()
			c.watch(user)
			c.notify()
			return nil
		}
	}

	c.fetchSeq++
	seq := c.fetchSeq
	c.loading = true
	c.mu.Unlock()
	c.notify()

	// Subscribe before reading so that no change committed after the read
	// is missed. Changes arriving during the read are buffered and replayed
	// over its result.
	c.watch(user)

	items, err := c.load(ctx, user, key, useCache)

	c.mu.Lock()
	if c.closed || c.userID != user || c.fetchSeq != seq {
		c.mu.Unlock()
		return nil
	}
	c.loading = false
	if err != nil {
		ferr := &types.FetchError{Table: c.cfg.Table, Message: c.cfg.FetchErrorMessage, Err: err}
		c.err = ferr
		if c.replayBufferedLocked() && c.fetchedOnce {
			c.storeLocked()
		}
		c.mu.Unlock()
		c.rt.metrics.FetchFailure(c.cfg.Table)
		c.logger.Warn("fetch failed", zap.Error(err))
		c.notify()
		return ferr
	}
	c.items = items
	c.replayBufferedLocked()
	c.err = nil
	c.fetchedOnce = true
	c.storeLocked()
	c.mu.Unlock()
	c.notify()
	return nil
}

// Refresh drops the cache entry and reads the collection again.
func (c *Controller[T]) Refresh(ctx context.Context) error {
	return c.refresh(ctx, "manual")
}

func (c *Controller[T]) refresh(ctx context.Context, reason string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrUnmounted
	}
	c.fetchedOnce = false
	if c.userID != "" {
		c.rt.cache.Clear(c.keyFor(c.userID))
	}
	c.mu.Unlock()

	c.rt.metrics.Refresh(c.cfg.Table, reason)
	c.logger.Debug("refreshing", zap.String("reason", reason))
	return c.Fetch(ctx, false)
}

func (c *Controller[T]) signOutLocked() {
	if c.userID != "" {
		c.rt.cache.Clear(c.keyFor(c.userID))
	}
	c.userID = ""
	c.items = nil
	c.loading = false
	c.fetchedOnce = false
	c.fetchSeq++
	c.resetPendingLocked()
}

// switchUserLocked drops everything belonging to the previous identity.
func (c *Controller[T]) switchUserLocked(user string) {
	if c.userID != "" {
		c.rt.cache.Clear(c.keyFor(c.userID))
		c.logger.Info("user changed, cache entry invalidated")
	}
	c.userID = user
	c.items = nil
	c.err = nil
	c.fetchedOnce = false
	c.fetchSeq++
	c.resetPendingLocked()
}

func (c *Controller[T]) resetPendingLocked() {
	c.pending = make(map[string]int)
	c.deferred = make(map[string][]changefeed.Event)
	c.buffered = nil
}

// replayBufferedLocked applies the changes that arrived during a read, in
// arrival order. Changes for rows with a mutation in flight move to the
// held-back queue. It reports whether there was anything to replay.
func (c *Controller[T]) replayBufferedLocked() bool {
	events := c.buffered
	c.buffered = nil
	for _, ev := range events {
		if id := ev.ID(); c.pending[id] > 0 {
			c.deferred[id] = append(c.deferred[id], ev)
			continue
		}
		c.applyEventLocked(ev)
	}
	return len(events) > 0
}

// inScope reports whether row satisfies the secondary filters.
func (c *Controller[T]) inScope(row types.Row) bool {
	for _, f := range c.filters {
		if !f.Matches(row) {
			return false
		}
	}
	return true
}

// load reads and decodes the user's rows. Cached reads of one key are joined.
func (c *Controller[T]) load(ctx context.Context, user, key string, join bool) ([]T, error) {
	read := func() (interface{}, error) {
		c.rt.metrics.Fetch(c.cfg.Table)
		if c.rt.fetchTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.rt.fetchTimeout)
			defer cancel()
		}
		rows, err := c.rt.store.Select(ctx, c.query(user))
		if err != nil {
			return nil, err
		}
		return types.DecodeRows[T](rows)
	}
	if !join {
		v, err := read()
		if err != nil {
			return nil, err
		}
		return v.([]T), nil
	}
	v, err, _ := c.rt.fetches.Do(key+"|"+c.cfg.Columns, read)
	if err != nil {
		return nil, err
	}
	items, ok := v.([]T)
	if !ok {
		return nil, fmt.Errorf("%w: shared read returned %T", types.ErrInvalidData, v)
	}
	return slices.Clone(items), nil
}

func (c *Controller[T]) query(user string) types.Query {
	owner := types.Owner{Column: c.cfg.OwnerColumn, UserID: user}
	return types.Query{
		Table:   c.cfg.Table,
		Columns: c.columns,
		Filters: append([]types.Filter{owner.Filter()}, c.filters...),
		Order:   c.order,
	}
}

// OptimisticUpdate changes the local list and the cache without calling the
// row store. Update merges changes into the row with id and is a no-op when
// it is absent. Insert puts {id, changes...} first, replacing any row with
// the same id. Delete removes the row.
func (c *Controller[T]) OptimisticUpdate(id string, changes map[string]any, op types.Op) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrUnmounted
	}
	err := c.applyLocked(id, changes, op)
	if err == nil {
		c.storeLocked()
	}
	c.mu.Unlock()
	if err == nil {
		c.notify()
	}
	return err
}

func (c *Controller[T]) applyLocked(id string, changes map[string]any, op types.Op) error {
	switch op {
	case types.OpUpdate:
		i := c.indexLocked(id)
		if i < 0 {
			return nil
		}
		merged, err := types.MergeChanges(c.items[i], changes)
		if err != nil {
			return err
		}
		c.items[i] = merged
	case types.OpInsert:
		row := types.Row(changes).Clone()
		if row == nil {
			row = types.Row{}
		}
		row[types.ColumnID] = id
		rec, err := types.DecodeRow[T](row)
		if err != nil {
			return err
		}
		c.upsertLocked(rec)
	case types.OpDelete:
		c.removeLocked(id)
	default:
		return fmt.Errorf("%w: %v", types.ErrInvalidOp, op)
	}
	return nil
}

func (c *Controller[T]) indexLocked(id string) int {
	return slices.IndexFunc(c.items, func(rec T) bool { return rec.GetID() == id })
}

// upsertLocked replaces the row with rec's id, or puts rec first.
func (c *Controller[T]) upsertLocked(rec T) {
	if i := c.indexLocked(rec.GetID()); i >= 0 {
		c.items[i] = rec
		return
	}
	c.items = slices.Insert(c.items, 0, rec)
}

func (c *Controller[T]) removeLocked(id string) {
	c.items = slices.DeleteFunc(c.items, func(rec T) bool { return rec.GetID() == id })
}

// session returns the signed-in user, or ErrNotAuthenticated.
func (c *Controller[T]) session() (string, error) {
	user, ok := c.rt.session.CurrentUser()
	if !ok {
		return "", types.ErrNotAuthenticated
	}
	return user, nil
}

func (c *Controller[T]) owner(user string) types.Owner {
	return types.Owner{Column: c.cfg.OwnerColumn, UserID: user}
}

func (c *Controller[T]) mutationError(op types.Op, id string, err error) *types.MutationError {
	return &types.MutationError{Op: op, Table: c.cfg.Table, ID: id, Err: err}
}

// UpdateItem applies changes to the row with id, locally first. When the row
// store rejects the update the previous row is put back and the collection
// is read again.
func (c *Controller[T]) UpdateItem(ctx context.Context, id string, changes map[string]any) error {
	user, err := c.session()
	if err != nil {
		return err
	}
	if id == "" {
		return types.ErrInvalidID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrUnmounted
	}
	var prev T
	i := c.indexLocked(id)
	had := i >= 0
	if had {
		prev = c.items[i]
	}
	if err := c.applyLocked(id, changes, types.OpUpdate); err != nil {
		c.mu.Unlock()
		return err
	}
	c.pending[id]++
	c.storeLocked()
	c.mu.Unlock()
	c.notify()
	c.rt.metrics.Mutation(c.cfg.Table, types.OpUpdate.String())

	remoteErr := c.rt.store.Update(ctx, c.cfg.Table, id, changes, c.owner(user))

	c.mu.Lock()
	if remoteErr == nil {
		c.err = nil
		c.settleLocked(id, true)
		c.storeLocked()
		c.mu.Unlock()
		c.notify()
		return nil
	}

	merr := c.mutationError(types.OpUpdate, id, remoteErr)
	if had && !c.closed {
		if j := c.indexLocked(id); j >= 0 {
			c.items[j] = prev
		}
	}
	// The re-read below supersedes anything held back for this row.
	c.settleLocked(id, false)
	c.err = merr
	c.storeLocked()
	c.mu.Unlock()
	c.notify()
	c.rt.metrics.Rollback(c.cfg.Table, types.OpUpdate.String())
	c.logger.Warn("update rejected, re-reading", zap.String("id", id), zap.Error(remoteErr))

	if ferr := c.Fetch(ctx, false); ferr != nil && !errors.Is(ferr, types.ErrUnmounted) {
		c.logger.Warn("re-read after rejected update failed", zap.Error(ferr))
	}
	c.mu.Lock()
	if !c.closed && c.err == nil {
		c.err = merr
	}
	c.mu.Unlock()
	c.notify()
	return merr
}

// InsertItem adds rec, shown first under a temporary id until the row store
// returns the stored row, which then takes the temporary row's place. The
// owner column is set to the signed-in user and any id on rec is ignored.
// A row outside the secondary filters is stored but never listed.
func (c *Controller[T]) InsertItem(ctx context.Context, rec T) (T, error) {
	var zero T
	user, err := c.session()
	if err != nil {
		return zero, err
	}
	row, err := types.EncodeRow(rec)
	if err != nil {
		return zero, err
	}
	delete(row, types.ColumnID)
	row[c.cfg.OwnerColumn] = user

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return zero, types.ErrUnmounted
	}
	shown := c.inScope(row)
	tempID := c.tempIDLocked()
	if shown {
		if err := c.applyLocked(tempID, row, types.OpInsert); err != nil {
			c.mu.Unlock()
			return zero, err
		}
		c.storeLocked()
	}
	c.mu.Unlock()
	if shown {
		c.notify()
	}
	c.rt.metrics.Mutation(c.cfg.Table, types.OpInsert.String())

	saved, remoteErr := c.rt.store.Insert(ctx, c.cfg.Table, row)
	var created T
	if remoteErr == nil {
		created, remoteErr = types.DecodeRow[T](saved)
	}

	c.mu.Lock()
	if remoteErr != nil {
		merr := c.mutationError(types.OpInsert, tempID, remoteErr)
		if !c.closed {
			c.removeLocked(tempID)
			c.err = merr
			c.storeLocked()
		}
		c.mu.Unlock()
		c.notify()
		c.rt.metrics.Rollback(c.cfg.Table, types.OpInsert.String())
		c.logger.Warn("insert rejected", zap.String("temp_id", tempID), zap.Error(remoteErr))
		return zero, merr
	}
	if !c.closed {
		// The change feed may already have delivered the stored row.
		c.removeLocked(created.GetID())
		switch i := c.indexLocked(tempID); {
		case !c.inScope(saved):
			c.removeLocked(tempID)
		case i >= 0:
			c.items[i] = created
		default:
			c.items = slices.Insert(c.items, 0, created)
		}
		c.err = nil
		c.storeLocked()
	}
	c.mu.Unlock()
	c.notify()
	return created, nil
}

// tempIDLocked returns "temp-<unix millis>", suffixed when that id is taken.
func (c *Controller[T]) tempIDLocked() string {
	ms := c.rt.clock.Now().UnixMilli()
	id := fmt.Sprintf("temp-%d", ms)
	for n := 1; c.indexLocked(id) >= 0; n++ {
		id = fmt.Sprintf("temp-%d-%d", ms, n)
	}
	return id
}

// DeleteItem removes the row with id, locally first. When the row store
// rejects the delete the row is put back where it was.
func (c *Controller[T]) DeleteItem(ctx context.Context, id string) error {
	user, err := c.session()
	if err != nil {
		return err
	}
	if id == "" {
		return types.ErrInvalidID
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.ErrUnmounted
	}
	var captured T
	at := c.indexLocked(id)
	had := at >= 0
	if had {
		captured = c.items[at]
		c.removeLocked(id)
	}
	c.pending[id]++
	c.storeLocked()
	c.mu.Unlock()
	c.notify()
	c.rt.metrics.Mutation(c.cfg.Table, types.OpDelete.String())

	remoteErr := c.rt.store.Delete(ctx, c.cfg.Table, id, c.owner(user))

	c.mu.Lock()
	if remoteErr == nil {
		c.err = nil
		c.settleLocked(id, true)
		c.storeLocked()
		c.mu.Unlock()
		c.notify()
		return nil
	}

	merr := c.mutationError(types.OpDelete, id, remoteErr)
	if had && !c.closed && c.indexLocked(id) < 0 {
		c.items = slices.Insert(c.items, min(at, len(c.items)), captured)
	}
	c.settleLocked(id, true)
	if !c.closed {
		c.err = merr
	}
	c.storeLocked()
	c.mu.Unlock()
	c.notify()
	c.rt.metrics.Rollback(c.cfg.Table, types.OpDelete.String())
	c.logger.Warn("delete rejected, row restored", zap.String("id", id), zap.Error(remoteErr))
	return merr
}

// settleLocked ends one in-flight mutation of id. Once none remain, held
// back events are replayed in arrival order, or discarded when replay is
// false.
func (c *Controller[T]) settleLocked(id string, replay bool) {
	if c.pending[id] > 1 {
		c.pending[id]--
		return
	}
	delete(c.pending, id)
	events := c.deferred[id]
	delete(c.deferred, id)
	if !replay || c.closed {
		return
	}
	for _, ev := range events {
		c.applyEventLocked(ev)
	}
}
