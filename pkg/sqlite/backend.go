// Package sqlite provides the public API for the SQLite row store.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/practicesync/internal/sqlite"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Store is a row store that must be attached before use.
type Store interface {
	types.RowStore
	Attach(config types.Config) error
	Detach() error
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	store := sqlite.NewBackend()
//	err := store.Attach(types.Config{
//	    Backend: types.BackendSQLite,
//	    DataDir: "/var/lib/practicesync",
//	})
//	defer store.Detach()
func NewBackend() Store {
	return sqlite.NewBackend()
}
