package types

import (
	"encoding/json"
	"fmt"
)

// Record is a single row of a synchronized collection. Implementations must
// encode their identity under the JSON key "id"; every other field is opaque
// to the collection core.
type Record interface {
	GetID() string
}

// Row is the wire shape of a record as the row store and the change channel
// exchange it: JSON column name to value.
type Row map[string]any

// ID returns the "id" column, or "" when it is absent or not a string.
func (r Row) ID() string {
	s, _ := r.String(ColumnID)
	return s
}

// String returns the column value when it is a string.
func (r Row) String(column string) (string, bool) {
	v, ok := r[column]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// EncodeRow converts any JSON-encodable value into a Row.
func EncodeRow(v any) (Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}
	var row Row
	if err := json.Unmarshal(b, &row); err != nil {
		return nil, fmt.Errorf("decoding row map: %w", err)
	}
	if row == nil {
		return nil, ErrInvalidData
	}
	return row, nil
}

// DecodeRow converts a Row into T through its JSON encoding.
func DecodeRow[T any](row Row) (T, error) {
	var out T
	b, err := json.Marshal(row)
	if err != nil {
		return out, fmt.Errorf("encoding row: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return out, fmt.Errorf("decoding row into %T: %w", out, err)
	}
	return out, nil
}

// DecodeRows decodes each row into T, preserving order.
func DecodeRows[T any](rows []Row) ([]T, error) {
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		rec, err := DecodeRow[T](row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// MergeChanges returns rec with changes overlaid on its JSON columns. Columns
// not present in changes keep their current value. rec itself is not modified.
func MergeChanges[T any](rec T, changes map[string]any) (T, error) {
	row, err := EncodeRow(rec)
	if err != nil {
		return rec, err
	}
	for k, v := range changes {
		row[k] = v
	}
	return DecodeRow[T](row)
}
