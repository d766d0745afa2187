package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/internal/debounce"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// fileWatcher reloads a table when another process rewrites its JSONL file.
// Rewrites are debounced per table; the store's own writes reload to an
// identical table and emit nothing.
type fileWatcher struct {
	backend  *Backend
	fsw      *fsnotify.Watcher
	debounce *debounce.Debouncer
	done     chan struct{}
	once     sync.Once
}

func newFileWatcher(b *Backend, dataDir string) (*fileWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dataDir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &fileWatcher{
		backend:  b,
		fsw:      fsw,
		debounce: debounce.New(b.clock, b.watchDelay),
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *fileWatcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.backend.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (w *fileWatcher) handle(ev fsnotify.Event) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	table, ok := tableForFile(ev.Name)
	if !ok {
		return
	}
	w.debounce.Trigger(table, func() {
		if err := w.backend.reloadTable(context.Background(), table); err != nil {
			w.backend.logger.Warn("reloading table", zap.String("table", table), zap.Error(err))
		}
	})
}

// stop closes the watcher and drops pending reloads. Idempotent.
func (w *fileWatcher) stop() {
	w.once.Do(func() {
		w.fsw.Close()
		<-w.done
		w.debounce.Stop()
	})
}

// tableForFile maps a JSONL path back to its standard table.
func tableForFile(path string) (string, bool) {
	name, ok := strings.CutSuffix(filepath.Base(path), ".jsonl")
	if !ok || !types.IsStandardTable(name) {
		return "", false
	}
	return name, true
}

// reloadTable replaces table with the contents of its JSONL file and emits
// one change per row that differs.
func (b *Backend) reloadTable(ctx context.Context, table string) error {
	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return nil
	}
	changes, err := b.reloadTableLocked(ctx, table)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	for _, rc := range changes {
		b.channel.Emit(rc)
	}
	if len(changes) > 0 {
		b.logger.Debug("reloaded table", zap.String("table", table), zap.Int("changes", len(changes)))
	}
	return nil
}

func (b *Backend) reloadTableLocked(ctx context.Context, table string) ([]types.RawChange, error) {
	current, err := b.allRowsLocked(ctx, table)
	if err != nil {
		return nil, err
	}
	before := make(map[string]types.Row, len(current))
	for _, row := range current {
		before[row.ID()] = row
	}

	rows, err := readJSONL(filepath.Join(b.dataDir, jsonlFile(table)))
	if err != nil {
		return nil, err
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning reload of %s: %w", table, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return nil, fmt.Errorf("clearing %s: %w", table, err)
	}
	after, err := insertRows(ctx, tx, table, rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing reload of %s: %w", table, err)
	}
	return diffRows(table, before, after, b.clock.Now().UTC())
}
