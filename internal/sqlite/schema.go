package sqlite

import "fmt"

// Every row table has the same shape: the id and owner are real columns so
// that lookups and ownership checks use an index, and the rest of the row is
// kept as a JSON document.
const rowTableDDL = `CREATE TABLE %[1]s (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    data TEXT NOT NULL
);
CREATE INDEX idx_%[1]s_user ON %[1]s(user_id);`

// schemaFor returns the DDL creating every table in tables. Table names come
// from types.StandardTableNames and are never user input.
func schemaFor(tables []string) string {
	var ddl string
	for _, t := range tables {
		ddl += fmt.Sprintf(rowTableDDL, t) + "\n"
	}
	return ddl
}

// jsonlFile returns the JSONL file name backing table.
func jsonlFile(table string) string {
	return table + ".jsonl"
}
