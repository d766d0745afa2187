package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// timestampLayout has a fixed-width fraction so that timestamps sort as
// text.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// protectedColumns cannot be changed by Update.
var protectedColumns = map[string]bool{
	types.ColumnID:        true,
	types.ColumnOwner:     true,
	types.ColumnCreatedAt: true,
}

// Select implements types.RowStore.
func (b *Backend) Select(ctx context.Context, q types.Query) ([]types.Row, error) {
	if !types.IsStandardTable(q.Table) {
		return nil, types.ErrTableNotFound
	}
	where, args, err := whereClause(q.Filters)
	if err != nil {
		return nil, err
	}
	order, orderArgs, err := orderClause(q.Order)
	if err != nil {
		return nil, err
	}
	for _, col := range q.Columns {
		if !validColumn(col) {
			return nil, fmt.Errorf("%w: column %q", types.ErrInvalidFilter, col)
		}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}

	query := "SELECT data FROM " + q.Table + where + order
	rows, err := b.db.QueryContext(ctx, query, append(args, orderArgs...)...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Table, err)
	}
	defer rows.Close()

	out := []types.Row{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", q.Table, err)
		}
		var row types.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", q.Table, err)
		}
		out = append(out, project(row, q.Columns))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", q.Table, err)
	}
	return out, nil
}

// Insert implements types.RowStore. Any id on row is replaced.
func (b *Backend) Insert(ctx context.Context, table string, row types.Row) (types.Row, error) {
	if !types.IsStandardTable(table) {
		return nil, types.ErrTableNotFound
	}
	if row == nil {
		return nil, types.ErrInvalidData
	}
	owner, _ := row.String(types.ColumnOwner)
	if owner == "" {
		return nil, types.ErrMissingOwner
	}

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return nil, types.ErrStoreDetached
	}
	now := b.clock.Now().UTC()
	stamp := now.Format(timestampLayout)
	stored := row.Clone()
	stored[types.ColumnID] = generateUUID()
	stored[types.ColumnCreatedAt] = stamp
	stored[types.ColumnUpdatedAt] = stamp

	stored, err := b.writeLocked(ctx, table, stored, func(data string) (sql.Result, error) {
		return b.db.ExecContext(ctx,
			"INSERT INTO "+table+" (id, user_id, data) VALUES (?, ?, ?)",
			stored.ID(), owner, data)
	})
	b.mu.Unlock()
	if err != nil {
		return nil, err
	}

	b.emit(table, types.OpInsert, stored, nil, now)
	return stored.Clone(), nil
}

// Update implements types.RowStore. Changes to id, user_id and created_at
// are ignored; updated_at is always refreshed.
func (b *Backend) Update(ctx context.Context, table, id string, changes map[string]any, owner types.Owner) error {
	if err := checkTarget(table, id, &owner); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return types.ErrStoreDetached
	}
	old, err := b.ownedRowLocked(ctx, table, id, owner)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	now := b.clock.Now().UTC()
	next := old.Clone()
	for k, v := range changes {
		if !protectedColumns[k] {
			next[k] = v
		}
	}
	next[types.ColumnUpdatedAt] = now.Format(timestampLayout)

	next, err = b.writeLocked(ctx, table, next, func(data string) (sql.Result, error) {
		return b.db.ExecContext(ctx, "UPDATE "+table+" SET data = ? WHERE id = ?", data, id)
	})
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.emit(table, types.OpUpdate, next, old, now)
	return nil
}

// Delete implements types.RowStore.
func (b *Backend) Delete(ctx context.Context, table, id string, owner types.Owner) error {
	if err := checkTarget(table, id, &owner); err != nil {
		return err
	}

	b.mu.Lock()
	if !b.attached {
		b.mu.Unlock()
		return types.ErrStoreDetached
	}
	old, err := b.ownedRowLocked(ctx, table, id, owner)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	now := b.clock.Now().UTC()
	_, err = b.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", id)
	if err == nil {
		err = b.persistTableLocked(ctx, table)
	}
	b.mu.Unlock()
	if err != nil {
		return fmt.Errorf("deleting %s from %s: %w", id, table, err)
	}

	b.emit(table, types.OpDelete, nil, keyOf(old), now)
	return nil
}

// checkTarget validates the arguments shared by Update and Delete. An empty
// owner column defaults to user_id.
func checkTarget(table, id string, owner *types.Owner) error {
	if !types.IsStandardTable(table) {
		return types.ErrTableNotFound
	}
	if id == "" {
		return types.ErrInvalidID
	}
	if owner.UserID == "" {
		return types.ErrMissingOwner
	}
	if owner.Column == "" {
		owner.Column = types.ColumnOwner
	}
	return nil
}

// ownedRowLocked loads row id of table, returning ErrNotFound when it does
// not exist or belongs to someone other than owner.
func (b *Backend) ownedRowLocked(ctx context.Context, table, id string, owner types.Owner) (types.Row, error) {
	var data string
	err := b.db.QueryRowContext(ctx, "SELECT data FROM "+table+" WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading %s from %s: %w", id, table, err)
	}
	var row types.Row
	if err := json.Unmarshal([]byte(data), &row); err != nil {
		return nil, fmt.Errorf("decoding %s row %s: %w", table, id, err)
	}
	if !owner.Filter().Matches(row) {
		return nil, types.ErrNotFound
	}
	return row, nil
}

// writeLocked encodes row, runs exec with the encoding, and persists the
// table. It returns row as it decodes from storage.
func (b *Backend) writeLocked(ctx context.Context, table string, row types.Row, exec func(data string) (sql.Result, error)) (types.Row, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrInvalidData, err)
	}
	if _, err := exec(string(data)); err != nil {
		return nil, fmt.Errorf("writing %s to %s: %w", row.ID(), table, err)
	}
	if err := b.persistTableLocked(ctx, table); err != nil {
		return nil, err
	}
	var stored types.Row
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("decoding %s row: %w", table, err)
	}
	return stored, nil
}

// persistTableLocked rewrites the JSONL file of table from SQLite.
func (b *Backend) persistTableLocked(ctx context.Context, table string) error {
	rows, err := b.allRowsLocked(ctx, table)
	if err != nil {
		return err
	}
	if err := writeJSONL(filepath.Join(b.dataDir, jsonlFile(table)), rows); err != nil {
		return fmt.Errorf("persisting %s: %w", table, err)
	}
	return nil
}

// allRowsLocked returns every row of table in insertion order.
func (b *Backend) allRowsLocked(ctx context.Context, table string) ([]types.Row, error) {
	rows, err := b.db.QueryContext(ctx, "SELECT data FROM "+table+" ORDER BY rowid")
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", table, err)
	}
	defer rows.Close()
	var out []types.Row
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var row types.Row
		if err := json.Unmarshal([]byte(data), &row); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", table, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// emit announces a committed change. It runs without b.mu held so that
// handlers may read the store.
func (b *Backend) emit(table string, op types.Op, newRow, oldRow types.Row, at time.Time) {
	rc, err := types.NewRawChange(table, op, newRow, oldRow, at)
	if err != nil {
		b.logger.Warn("encoding change", zap.String("table", table), zap.Error(err))
		return
	}
	b.channel.Emit(rc)
}

// whereClause renders filters as SQL. The owner column is a real column;
// every other column is read from the JSON document and compared as text,
// the way types.Filter compares values.
func whereClause(filters []types.Filter) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}
	var (
		parts []string
		args  []any
	)
	for _, f := range filters {
		if err := f.Validate(); err != nil {
			return "", nil, err
		}
		if !validColumn(f.Column) {
			return "", nil, fmt.Errorf("%w: column %q", types.ErrInvalidFilter, f.Column)
		}
		if f.Column == types.ColumnOwner {
			op := "="
			if f.Operator == types.FilterNeq {
				op = "!="
			}
			parts = append(parts, "user_id "+op+" ?")
			args = append(args, f.Value)
			continue
		}
		path := "$." + f.Column
		if f.Operator == types.FilterNeq {
			parts = append(parts, "(json_extract(data, ?) IS NULL OR CAST(json_extract(data, ?) AS TEXT) != ?)")
			args = append(args, path, path, f.Value)
			continue
		}
		parts = append(parts, "CAST(json_extract(data, ?) AS TEXT) = ?")
		args = append(args, path, f.Value)
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

// orderClause renders o as SQL. Ties keep insertion order.
func orderClause(o types.Order) (string, []any, error) {
	if o.Column == "" {
		return " ORDER BY rowid", nil, nil
	}
	if !validColumn(o.Column) {
		return "", nil, fmt.Errorf("%w: column %q", types.ErrInvalidOrder, o.Column)
	}
	dir := "ASC"
	if o.Descending {
		dir = "DESC"
	}
	return " ORDER BY json_extract(data, ?) " + dir + ", rowid", []any{"$." + o.Column}, nil
}

// validColumn accepts lowercase identifiers only, which keeps JSON paths
// free of quoting.
func validColumn(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_') {
			return false
		}
	}
	return true
}

// project keeps only columns, plus id. Nil columns keep the whole row.
func project(row types.Row, columns []string) types.Row {
	if columns == nil {
		return row
	}
	out := types.Row{types.ColumnID: row[types.ColumnID]}
	for _, col := range columns {
		if v, ok := row[col]; ok {
			out[col] = v
		}
	}
	return out
}
