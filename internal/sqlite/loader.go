package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// loadAllJSONL reads the JSONL file of every table into SQLite. Loading is
// transactional: all tables load or the database stays empty. Malformed
// lines and rows without an id or owner are skipped.
func loadAllJSONL(db *sql.DB, dataDir string, tables []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("beginning load transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range tables {
		rows, err := readJSONL(filepath.Join(dataDir, jsonlFile(table)))
		if err != nil {
			return fmt.Errorf("reading %s: %w", jsonlFile(table), err)
		}
		if _, err := insertRows(context.Background(), tx, table, rows); err != nil {
			return fmt.Errorf("loading %s: %w", table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing load transaction: %w", err)
	}
	return nil
}

// insertRows inserts rows into table and returns the accepted rows keyed by
// id. A later line for the same id replaces an earlier one.
func insertRows(ctx context.Context, tx *sql.Tx, table string, rows []types.Row) (map[string]types.Row, error) {
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (id, user_id, data) VALUES (?, ?, ?)", table))
	if err != nil {
		return nil, fmt.Errorf("preparing insert for %s: %w", table, err)
	}
	defer stmt.Close()

	accepted := make(map[string]types.Row, len(rows))
	for _, row := range rows {
		id := row.ID()
		owner, _ := row.String(types.ColumnOwner)
		if id == "" || owner == "" {
			continue
		}
		data, err := json.Marshal(row)
		if err != nil {
			continue
		}
		if _, err := stmt.ExecContext(ctx, id, owner, string(data)); err != nil {
			return nil, fmt.Errorf("inserting %s into %s: %w", id, table, err)
		}
		accepted[id] = row
	}
	return accepted, nil
}

// diffRows returns the changes that turn before into after, ordered by id.
// Rows whose JSON encodings are equal produce no change.
func diffRows(table string, before, after map[string]types.Row, at time.Time) ([]types.RawChange, error) {
	ids := make([]string, 0, len(before)+len(after))
	for id := range before {
		ids = append(ids, id)
	}
	for id := range after {
		if _, ok := before[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	var changes []types.RawChange
	for _, id := range ids {
		oldRow, had := before[id]
		newRow, has := after[id]
		var (
			rc  types.RawChange
			err error
		)
		switch {
		case had && has:
			if sameRow(oldRow, newRow) {
				continue
			}
			rc, err = types.NewRawChange(table, types.OpUpdate, newRow, oldRow, at)
		case has:
			rc, err = types.NewRawChange(table, types.OpInsert, newRow, nil, at)
		default:
			rc, err = types.NewRawChange(table, types.OpDelete, nil, keyOf(oldRow), at)
		}
		if err != nil {
			return nil, err
		}
		changes = append(changes, rc)
	}
	return changes, nil
}

// sameRow compares rows by their canonical JSON encoding.
func sameRow(a, b types.Row) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ab, bb)
}

// keyOf returns the columns a delete notification carries.
func keyOf(row types.Row) types.Row {
	out := types.Row{types.ColumnID: row.ID()}
	if owner, ok := row.String(types.ColumnOwner); ok {
		out[types.ColumnOwner] = owner
	}
	return out
}
