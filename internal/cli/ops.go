package cli

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mesh-intelligence/practicesync/internal/auth"
	"github.com/mesh-intelligence/practicesync/internal/sqlite"
	"github.com/mesh-intelligence/practicesync/pkg/collection"
	"github.com/mesh-intelligence/practicesync/pkg/collections"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// collectionOps is the record-type-independent view of a controller the
// commands work with.
type collectionOps interface {
	Mount(ctx context.Context) error
	Unmount()
	Table() string
	Err() error
	rows() ([]types.Row, error)
	insert(ctx context.Context, data []byte) (types.Row, error)
	update(ctx context.Context, id string, changes map[string]any) error
	remove(ctx context.Context, id string) error
	onChange(fn func()) func()
}

type controllerOps[T types.Record] struct {
	*collection.Controller[T]
}

var _ collectionOps = controllerOps[types.Client]{}

func (o controllerOps[T]) rows() ([]types.Row, error) {
	items := o.Items()
	out := make([]types.Row, 0, len(items))
	for _, it := range items {
		row, err := types.EncodeRow(it)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func (o controllerOps[T]) insert(ctx context.Context, data []byte) (types.Row, error) {
	var rec T
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, userError(fmt.Errorf("%w: %v", types.ErrInvalidData, err))
	}
	if v, ok := any(rec).(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return nil, userError(err)
		}
	}
	created, err := o.InsertItem(ctx, rec)
	if err != nil {
		return nil, err
	}
	return types.EncodeRow(created)
}

func (o controllerOps[T]) update(ctx context.Context, id string, changes map[string]any) error {
	return o.UpdateItem(ctx, id, changes)
}

func (o controllerOps[T]) remove(ctx context.Context, id string) error {
	return o.DeleteItem(ctx, id)
}

func (o controllerOps[T]) onChange(fn func()) func() {
	return o.OnChange(func(collection.State[T]) { fn() })
}

// openCollection builds the controller for name. clientID narrows
// documents and tasks.
func openCollection(rt *collection.Runtime, name, clientID string) (collectionOps, error) {
	switch name {
	case types.TableClients:
		c, err := collections.Clients(rt)
		if err != nil {
			return nil, err
		}
		return controllerOps[types.Client]{c}, nil
	case types.TableDocuments:
		c, err := collections.Documents(rt, clientID)
		if err != nil {
			return nil, err
		}
		return controllerOps[types.Document]{c}, nil
	case types.TableTasks:
		c, err := collections.Tasks(rt, clientID)
		if err != nil {
			return nil, err
		}
		return controllerOps[types.Task]{c}, nil
	default:
		return nil, userError(fmt.Errorf("unknown collection %q (want clients, documents or tasks)", name))
	}
}

// session returns the identity commands act as: the --token flag when set,
// else --user.
func (a *app) session() (types.Session, error) {
	if a.flags.token != "" {
		v, err := a.verifier()
		if err != nil {
			return nil, userError(err)
		}
		s := auth.NewTokenSession(v, a.flags.token)
		if _, ok := s.CurrentUser(); !ok {
			return nil, userError(fmt.Errorf("%w: token rejected", types.ErrNotAuthenticated))
		}
		return s, nil
	}
	if a.flags.user != "" {
		return auth.NewStaticSession(a.flags.user), nil
	}
	return nil, userError(fmt.Errorf("%w: pass --user or --token", types.ErrNotAuthenticated))
}

// openStore attaches the SQLite row store. watch enables reloading files
// rewritten by other processes.
func (a *app) openStore(watch bool) (*sqlite.Backend, error) {
	cfg := a.config
	cfg.Realtime.WatchFiles = cfg.Realtime.WatchFiles || watch
	store := sqlite.NewBackend(sqlite.WithLogger(a.logger))
	if err := store.Attach(cfg); err != nil {
		return nil, sysError(fmt.Errorf("attach store: %w", err))
	}
	return store, nil
}

// workspace is one opened collection over an attached store.
type workspace struct {
	store *sqlite.Backend
	rt    *collection.Runtime
	ops   collectionOps
}

// openWorkspace attaches the store, builds a runtime over channel (the
// store's own channel when nil) and mounts the named collection.
func (a *app) openWorkspace(ctx context.Context, name string, watch bool, channel types.ChangeChannel) (*workspace, error) {
	session, err := a.session()
	if err != nil {
		return nil, err
	}
	store, err := a.openStore(watch)
	if err != nil {
		return nil, err
	}
	if channel == nil {
		channel = store.Channel()
	}
	rt := collection.NewRuntime(store, channel, session,
		collection.WithLogger(a.logger),
		collection.WithSyncConfig(a.config.Sync))
	ops, err := openCollection(rt, name, a.flags.clientID)
	if err != nil {
		rt.Close()
		store.Detach()
		return nil, err
	}
	if err := ops.Mount(ctx); err != nil {
		ops.Unmount()
		rt.Close()
		store.Detach()
		return nil, sysError(err)
	}
	return &workspace{store: store, rt: rt, ops: ops}, nil
}

func (w *workspace) close() {
	w.ops.Unmount()
	w.rt.Close()
	w.store.Detach()
}
