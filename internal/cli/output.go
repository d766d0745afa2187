package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

// tableColumns are the columns the text output shows per collection.
var tableColumns = map[string][]string{
	types.TableClients:   {"id", "name", "status", "email"},
	types.TableDocuments: {"id", "name", "category", "status", "client_id"},
	types.TableTasks:     {"id", "title", "status", "priority", "client_id"},
}

// printJSON writes v as indented JSON.
func printJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// printRows prints rows of table in a human-readable table format.
func printRows(w io.Writer, table string, rows []types.Row) {
	if len(rows) == 0 {
		fmt.Fprintf(w, "No %s found.\n", table)
		return
	}
	cols := tableColumns[table]

	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.ToUpper(strings.Join(cols, "\t")))
	for _, r := range rows {
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = cell(r[c])
		}
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	tw.Flush()

	for _, line := range strings.Split(strings.TrimRight(sb.String(), "\n"), "\n") {
		fmt.Fprintln(w, strings.TrimRight(line, " "))
	}
	fmt.Fprintf(w, "Total: %d\n", len(rows))
}

// cell renders a column value, truncating long text.
func cell(v any) string {
	var s string
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		s = x
	case float64:
		s = fmt.Sprintf("%g", x)
	default:
		s = fmt.Sprint(x)
	}
	if s == "" {
		return "-"
	}
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return s
}
