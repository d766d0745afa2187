package types

import "context"

// Query describes one read against a table.
type Query struct {
	Table   string
	Columns []string // nil selects every column; "id" is always returned.
	Filters []Filter // ANDed together.
	Order   Order
}

// Owner scopes a mutation to the rows owned by one user.
type Owner struct {
	Column string
	UserID string
}

// Filter returns the owner scope as an equality filter.
func (o Owner) Filter() Filter {
	return Eq(o.Column, o.UserID)
}

// RowStore is the authenticated row store that synchronized collections read
// from and write to. Callers pass an owner scope on every mutation; the store
// enforces row ownership on its own as well.
type RowStore interface {
	// Select returns the rows of q.Table matching every filter, sorted by
	// q.Order.
	Select(ctx context.Context, q Query) ([]Row, error)

	// Insert stores row in table. The store assigns the id and timestamps
	// and returns the row as persisted.
	Insert(ctx context.Context, table string, row Row) (Row, error)

	// Update applies changes to the row with the given id owned by owner.
	// Returns ErrNotFound when no such row exists.
	Update(ctx context.Context, table, id string, changes map[string]any, owner Owner) error

	// Delete removes the row with the given id owned by owner.
	// Returns ErrNotFound when no such row exists.
	Delete(ctx context.Context, table, id string, owner Owner) error
}

// Session reports the identity of the signed-in user.
type Session interface {
	// CurrentUser returns the user id and true, or "" and false when no
	// valid session exists.
	CurrentUser() (string, bool)
}
