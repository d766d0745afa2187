// Package sqlite implements the row store on SQLite. JSONL files in the data
// directory are the source of truth; SQLite is rebuilt from them on Attach
// and serves queries. Every committed mutation is announced on a local
// change channel.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/practicesync/internal/changefeed"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// dbFile is the SQLite cache rebuilt on every Attach.
const dbFile = "practicesync.db"

// DefaultWatchDelay is how long the file watcher waits for a rewritten
// JSONL file to settle before reloading it.
const DefaultWatchDelay = 100 * time.Millisecond

// Backend implements types.RowStore using SQLite as the query engine and
// JSONL files as the source of truth.
type Backend struct {
	clock      clock.Clock
	logger     *zap.Logger
	channel    *changefeed.LocalChannel
	watchDelay time.Duration

	mu       sync.RWMutex
	attached bool
	config   types.Config
	dataDir  string
	db       *sql.DB
	watcher  *fileWatcher
}

var _ types.RowStore = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithClock sets the clock used for row timestamps and the file watcher.
func WithClock(clk clock.Clock) Option {
	return func(b *Backend) { b.clock = clk }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Backend) { b.logger = l }
}

// WithChannel sets the channel committed changes are emitted on.
func WithChannel(ch *changefeed.LocalChannel) Option {
	return func(b *Backend) { b.channel = ch }
}

// WithWatchDelay sets the quiet period of the file watcher.
func WithWatchDelay(d time.Duration) Option {
	return func(b *Backend) { b.watchDelay = d }
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend(opts ...Option) *Backend {
	b := &Backend{
		clock:      clock.WallClock,
		logger:     zap.NewNop(),
		watchDelay: DefaultWatchDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.channel == nil {
		b.channel = changefeed.NewLocalChannel()
	}
	return b
}

// Channel returns the change channel the backend emits on.
func (b *Backend) Channel() *changefeed.LocalChannel {
	return b.channel
}

// DataDir returns the directory of the attached store, or "" when detached.
func (b *Backend) DataDir() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dataDir
}

// Attach initializes the backend with the given configuration.
// Creates DataDir if it does not exist, rebuilds the SQLite schema and loads
// every JSONL file into it. With Realtime.WatchFiles set, JSONL files
// rewritten by other processes are reloaded and their differences emitted.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dbPath := filepath.Join(dataDir, dbFile)
	// The database is a cache of the JSONL files; start from a fresh schema.
	_ = os.Remove(dbPath)

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	// One connection keeps transactions and the single writer consistent.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schemaFor(types.StandardTableNames)); err != nil {
		db.Close()
		return fmt.Errorf("creating schema: %w", err)
	}
	if err := initJSONLFiles(dataDir, types.StandardTableNames); err != nil {
		db.Close()
		return err
	}
	if err := loadAllJSONL(db, dataDir, types.StandardTableNames); err != nil {
		db.Close()
		return fmt.Errorf("load JSONL: %w", err)
	}

	b.db = db
	b.config = config
	b.dataDir = dataDir
	b.attached = true

	if config.Realtime.WatchFiles {
		w, err := newFileWatcher(b, dataDir)
		if err != nil {
			b.closeLocked()
			return fmt.Errorf("watching %s: %w", dataDir, err)
		}
		b.watcher = w
	}

	b.logger.Debug("sqlite backend attached", zap.String("data_dir", dataDir))
	return nil
}

// Detach releases all resources held by the backend.
// Closes the SQLite connection. After Detach, all operations return
// ErrStoreDetached. Detach is idempotent.
func (b *Backend) Detach() error {
	// The watcher reloads under b.mu, so stop it before taking the lock.
	b.mu.Lock()
	w := b.watcher
	b.watcher = nil
	b.mu.Unlock()
	if w != nil {
		w.stop()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.attached {
		return nil
	}
	return b.closeLocked()
}

func (b *Backend) closeLocked() error {
	b.attached = false
	b.dataDir = ""
	if b.db == nil {
		return nil
	}
	err := b.db.Close()
	b.db = nil
	return err
}

// generateUUID generates a new UUID v7 for row IDs.
func generateUUID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to UUID v4 if v7 generation fails
		return uuid.New().String()
	}
	return id.String()
}
