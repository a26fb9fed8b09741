package dataset

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestDiscoverTablesBasic(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "winequality-white.csv"), "")
	mustWrite(t, filepath.Join(dir, "red", "winequality-red.CSV"), "")
	mustWrite(t, filepath.Join(dir, "winequality.names"), "")
	mustWrite(t, filepath.Join(dir, ".cache", "stale.csv"), "")

	tables, err := DiscoverTables(dir)
	if err != nil {
		t.Fatalf("DiscoverTables error: %v", err)
	}
	want := []string{
		filepath.Join(dir, "red", "winequality-red.CSV"),
		filepath.Join(dir, "winequality-white.csv"),
	}
	if len(tables) != len(want) {
		t.Fatalf("expected %d tables, got %d (%v)", len(want), len(tables), tables)
	}
	for i, path := range want {
		if tables[i] != path {
			t.Fatalf("tables[%d]=%s want %s", i, tables[i], path)
		}
	}
}

func TestLoadDirectoryConcatenates(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.csv"), "x;quality\n1;5\n2;6\n")
	mustWrite(t, filepath.Join(dir, "b.csv"), "x;quality\n3;7\n")

	table, err := Load(context.Background(), dir, LoadOptions{Target: "quality"})
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if len(table.Rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(table.Rows))
	}
	if table.Rows[2][0] != 3 {
		t.Fatalf("rows out of order: %v", table.Rows)
	}
}

func TestLoadDirectoryRejectsMismatchedHeaders(t *testing.T) {
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "a.csv"), "x;quality\n1;5\n")
	mustWrite(t, filepath.Join(dir, "b.csv"), "y;quality\n3;7\n")

	_, err := Load(context.Background(), dir, LoadOptions{})
	if err == nil {
		t.Fatal("expected header mismatch error")
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	_, err := Load(context.Background(), t.TempDir(), LoadOptions{})
	if err == nil {
		t.Fatal("expected error for directory without tables")
	}
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}
