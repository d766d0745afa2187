// Package collections configures the synchronized collections the practice
// works with: clients, documents and tasks.
package collections

import (
	"context"

	"github.com/mesh-intelligence/practicesync/pkg/collection"
	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// Column selections.
const (
	ClientColumns   = "*"
	DocumentColumns = "id, user_id, client_id, name, category, status, storage_path, size, created_at, updated_at"
	TaskColumns     = "*"
)

// DefaultOrder lists the most recently created rows first.
const DefaultOrder = types.ColumnCreatedAt + ".desc"

// ClientsConfig returns the configuration of the clients collection.
func ClientsConfig() collection.Config {
	return collection.Config{
		Table:             types.TableClients,
		Columns:           ClientColumns,
		Order:             DefaultOrder,
		FetchErrorMessage: "Failed to fetch clients",
	}
}

// DocumentsConfig returns the configuration of the documents collection,
// narrowed to one client when clientID is set.
func DocumentsConfig(clientID string) collection.Config {
	return collection.Config{
		Table:             types.TableDocuments,
		Columns:           DocumentColumns,
		Order:             DefaultOrder,
		Filter:            clientFilter(clientID),
		FetchErrorMessage: "Failed to fetch documents",
	}
}

// TasksConfig returns the configuration of the tasks collection, narrowed to
// one client when clientID is set.
func TasksConfig(clientID string) collection.Config {
	return collection.Config{
		Table:             types.TableTasks,
		Columns:           TaskColumns,
		Order:             DefaultOrder,
		Filter:            clientFilter(clientID),
		FetchErrorMessage: "Failed to fetch tasks",
	}
}

func clientFilter(clientID string) string {
	if clientID == "" {
		return ""
	}
	return types.Eq(ColumnClientID, clientID).String()
}

// ColumnClientID links documents and tasks to their client.
const ColumnClientID = "client_id"

// Clients returns the signed-in user's clients.
func Clients(rt *collection.Runtime) (*collection.Controller[types.Client], error) {
	return collection.New[types.Client](rt, ClientsConfig())
}

// Documents returns the signed-in user's documents, optionally for one client.
func Documents(rt *collection.Runtime, clientID string) (*collection.Controller[types.Document], error) {
	return collection.New[types.Document](rt, DocumentsConfig(clientID))
}

// Tasks returns the signed-in user's tasks, optionally for one client.
func Tasks(rt *collection.Runtime, clientID string) (*collection.Controller[types.Task], error) {
	return collection.New[types.Task](rt, TasksConfig(clientID))
}

// Workspace is the full set of collections one user works with.
type Workspace struct {
	Clients   *collection.Controller[types.Client]
	Documents *collection.Controller[types.Document]
	Tasks     *collection.Controller[types.Task]
}

// NewWorkspace builds the clients, documents and tasks collections. clientID
// narrows documents and tasks when set.
func NewWorkspace(rt *collection.Runtime, clientID string) (*Workspace, error) {
	clients, err := Clients(rt)
	if err != nil {
		return nil, err
	}
	documents, err := Documents(rt, clientID)
	if err != nil {
		return nil, err
	}
	tasks, err := Tasks(rt, clientID)
	if err != nil {
		return nil, err
	}
	return &Workspace{Clients: clients, Documents: documents, Tasks: tasks}, nil
}

func (w *Workspace) mounters() []collection.Mounter {
	return []collection.Mounter{w.Clients, w.Documents, w.Tasks}
}

// Mount loads every collection concurrently. On failure none stay mounted.
func (w *Workspace) Mount(ctx context.Context) error {
	return collection.MountAll(ctx, w.mounters()...)
}

// Unmount releases every collection.
func (w *Workspace) Unmount() {
	collection.UnmountAll(w.mounters()...)
}
