package dataset

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DiscoverTables returns the paths of the CSV files beneath root, sorted so
// that concatenation order is stable across runs.
func DiscoverTables(root string) ([]string, error) {
	entries := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if isTableName(d.Name()) {
			entries = append(entries, path)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrSource, "discover tables under %s: %v", root, err)
	}
	sort.Strings(entries)
	return entries, nil
}

// Concat stacks the rows of tables that share an identical header.
func Concat(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, errors.Wrap(ErrShape, "no tables to concatenate")
	}
	out := &Table{Columns: tables[0].Columns}
	for i, t := range tables {
		if !sameColumns(out.Columns, t.Columns) {
			return nil, errors.Wrapf(ErrShape, "table %d header %v differs from %v", i, t.Columns, out.Columns)
		}
		out.Rows = append(out.Rows, t.Rows...)
	}
	return out, nil
}

func isTableName(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".csv") && !strings.HasPrefix(name, ".")
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
