package types

import (
	"fmt"
	"strings"
)

// Filter operators.
const (
	FilterEq  = "eq"
	FilterNeq = "neq"
)

// Filter is a single column comparison. Values are compared in their string
// form so that a filter parsed from text matches numeric columns too.
type Filter struct {
	Column   string
	Operator string
	Value    string
}

// Eq returns an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Operator: FilterEq, Value: value}
}

// ParseFilter parses "column,operator,value". The value may itself contain
// commas.
func ParseFilter(s string) (Filter, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 {
		return Filter{}, fmt.Errorf("%w: %q (expected column,operator,value)", ErrInvalidFilter, s)
	}
	f := Filter{
		Column:   strings.TrimSpace(parts[0]),
		Operator: strings.ToLower(strings.TrimSpace(parts[1])),
		Value:    strings.TrimSpace(parts[2]),
	}
	if err := f.Validate(); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// Validate checks the column is set and the operator is supported.
func (f Filter) Validate() error {
	if f.Column == "" {
		return fmt.Errorf("%w: empty column", ErrInvalidFilter)
	}
	switch f.Operator {
	case FilterEq, FilterNeq:
		return nil
	default:
		return fmt.Errorf("%w: unsupported operator %q", ErrInvalidFilter, f.Operator)
	}
}

// String renders the filter in its "column,operator,value" form.
func (f Filter) String() string {
	return f.Column + "," + f.Operator + "," + f.Value
}

// Key renders the filter for use inside a cache key.
func (f Filter) Key() string {
	return f.Column + "." + f.Operator + "." + f.Value
}

// Matches reports whether row satisfies the filter. A missing column never
// equals anything.
func (f Filter) Matches(row Row) bool {
	v, ok := row[f.Column]
	equal := ok && v != nil && formatValue(v) == f.Value
	switch f.Operator {
	case FilterNeq:
		return !equal
	default:
		return equal
	}
}

// formatValue renders a decoded JSON value the way a filter literal is
// written: integral floats lose their fraction.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprintf("%g", x)
	default:
		return fmt.Sprint(x)
	}
}

// Order is a default sort: one column, ascending or descending.
type Order struct {
	Column     string
	Descending bool
}

// ParseOrder parses "column" or "column.asc" / "column.desc".
func ParseOrder(s string) (Order, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Order{}, nil
	}
	col, dir, found := strings.Cut(s, ".")
	o := Order{Column: col}
	if found {
		switch strings.ToLower(dir) {
		case "asc":
		case "desc":
			o.Descending = true
		default:
			return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrder, s)
		}
	}
	if o.Column == "" {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidOrder, s)
	}
	return o, nil
}

func (o Order) String() string {
	if o.Column == "" {
		return ""
	}
	if o.Descending {
		return o.Column + ".desc"
	}
	return o.Column + ".asc"
}

// ParseColumns splits a column selection string such as "id, name, status".
// "*" or an empty string selects every column and yields nil.
func ParseColumns(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return nil
	}
	var cols []string
	for _, c := range strings.Split(s, ",") {
		if c = strings.TrimSpace(c); c != "" {
			cols = append(cols, c)
		}
	}
	return cols
}
