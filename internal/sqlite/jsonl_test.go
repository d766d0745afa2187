package sqlite

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mesh-intelligence/practicesync/pkg/types"
)

func TestReadJSONL_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clients.jsonl")
	content := strings.Join([]string{
		`{"id":"a","user_id":"u1"}`,
		``,
		`{not json`,
		`["an","array"]`,
		`null`,
		`{"id":"b","user_id":"u1"}`,
	}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rows, err := readJSONL(path)
	if err != nil {
		t.Fatalf("readJSONL failed: %v", err)
	}
	if len(rows) != 2 || rows[0].ID() != "a" || rows[1].ID() != "b" {
		t.Errorf("expected rows a and b, got %v", rows)
	}
}

func TestReadJSONL_MissingFile(t *testing.T) {
	if _, err := readJSONL(filepath.Join(t.TempDir(), "missing.jsonl")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestWriteJSONL_RoundTripsAndLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.jsonl")
	rows := []types.Row{
		{"id": "a", "user_id": "u1", "title": "one"},
		{"id": "b", "user_id": "u1", "title": "two"},
	}

	if err := writeJSONL(path, rows); err != nil {
		t.Fatalf("writeJSONL failed: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"id":"a","title":"one","user_id":"u1"}` + "\n" + `{"id":"b","title":"two","user_id":"u1"}` + "\n"
	if string(b) != want {
		t.Errorf("file content:\n%s\nwant:\n%s", b, want)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only tasks.jsonl, found %d entries", len(entries))
	}
}

func TestWriteJSONL_EmptyTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	if err := writeJSONL(path, []types.Row{{"id": "a"}}); err != nil {
		t.Fatal(err)
	}
	if err := writeJSONL(path, nil); err != nil {
		t.Fatalf("writeJSONL failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("expected an empty file, got %d bytes", info.Size())
	}
}

func TestInitJSONLFiles_KeepsExistingContent(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, jsonlFile(types.TableClients))
	if err := os.WriteFile(existing, []byte(`{"id":"a","user_id":"u1"}`+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := initJSONLFiles(dir, types.StandardTableNames); err != nil {
		t.Fatalf("initJSONLFiles failed: %v", err)
	}

	rows, err := readJSONL(existing)
	if err != nil || len(rows) != 1 {
		t.Errorf("existing file was modified: rows=%v err=%v", rows, err)
	}
	for _, table := range types.StandardTableNames {
		if _, err := os.Stat(filepath.Join(dir, jsonlFile(table))); err != nil {
			t.Errorf("%s not created: %v", jsonlFile(table), err)
		}
	}
}

func TestMutationsPersistToJSONL(t *testing.T) {
	b, dir := attach(t)
	stored := mustInsert(t, b, types.TableClients, types.Row{"user_id": "u1", "name": "Acme"})

	rows, err := readJSONL(filepath.Join(dir, jsonlFile(types.TableClients)))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID() != stored.ID() {
		t.Fatalf("expected the inserted client on disk, got %v", rows)
	}
}
