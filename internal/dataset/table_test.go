package dataset

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const semicolonWine = `"fixed acidity";"volatile acidity";"alcohol";"quality"
7.4;0.7;9.4;5
7.8;0.88;9.8;5
11.2;0.28;9.8;6
`

func TestParseSemicolonQuotedHeader(t *testing.T) {
	table, err := Parse(strings.NewReader(semicolonWine), LoadOptions{Target: "quality"})
	require.NoError(t, err)

	want := &Table{
		Columns: []string{"fixed acidity", "volatile acidity", "alcohol", "quality"},
		Rows: [][]float64{
			{7.4, 0.7, 9.4, 5},
			{7.8, 0.88, 9.8, 5},
			{11.2, 0.28, 9.8, 6},
		},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Fatalf("table mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCommaDelimited(t *testing.T) {
	table, err := Parse(strings.NewReader("a,b,quality\n1,2,3\n4,5,6\n"), LoadOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "quality"}, table.Columns)
	assert.Len(t, table.Rows, 2)
}

func TestParseShapeErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  LoadOptions
		msg   string
	}{
		{"empty", "", LoadOptions{}, "empty input"},
		{"header only", "a;quality\n", LoadOptions{}, "no data rows"},
		{"missing target", "a;b\n1;2\n", LoadOptions{Target: "quality"}, `target column "quality"`},
		{"ragged row", "a;quality\n1;2\n3\n", LoadOptions{}, "wrong number of fields"},
		{"non numeric", "a;quality\n1;2\nx;3\n", LoadOptions{}, `line 3 column "a"`},
		{"nan cell", "a;quality\n1;2\nNaN;5\n", LoadOptions{}, `line 3 column "a": "NaN" is not a finite value`},
		{"infinite target", "a;quality\n1;+Inf\n", LoadOptions{}, `line 2 column "quality"`},
		{"too few features", "a;quality\n1;2\n", LoadOptions{Target: "quality", MinFeatures: 11}, "at least 11"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), tt.opts)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrShape), "want ErrShape, got %v", err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestTableXY(t *testing.T) {
	table := &Table{
		Columns: []string{"a", "quality", "b"},
		Rows:    [][]float64{{1, 5, 2}, {3, 6, 4}},
	}
	x, y, features, err := table.XY("quality")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{1, 2}, {3, 4}}, x)
	assert.Equal(t, []float64{5, 6}, y)
	assert.Equal(t, []string{"a", "b"}, features)

	_, _, _, err = table.XY("missing")
	assert.True(t, errors.Is(err, ErrShape))
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wine.csv")
	require.NoError(t, os.WriteFile(path, []byte(semicolonWine), 0o644))

	table, err := Load(context.Background(), path, LoadOptions{Target: "quality"})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)
}

func TestLoadMissingFileIsSourceError(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.csv"), LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSource))
}

func TestLoadFromURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/winequality-red.csv" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(semicolonWine))
	}))
	defer srv.Close()

	table, err := Load(context.Background(), srv.URL+"/winequality-red.csv", LoadOptions{Target: "quality"})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)

	_, err = Load(context.Background(), srv.URL+"/missing.csv", LoadOptions{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSource))
	assert.Contains(t, err.Error(), "404")
}
