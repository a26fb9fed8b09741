package dataset

import (
	"context"
	"encoding/csv"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"cellar-forge/internal/ctxlog"
)

var (
	// ErrShape reports a table that does not have the expected columns or cell types.
	ErrShape = errors.New("dataset: malformed table")
	// ErrSource reports a failure to read the dataset source.
	ErrSource = errors.New("dataset: source unavailable")
)

// Table is an in-memory numeric CSV table.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// LoadOptions controls how a source is parsed.
type LoadOptions struct {
	// Delimiter is sniffed from the header when zero.
	Delimiter rune
	// Target must be present among the columns when set.
	Target string
	// MinFeatures is the minimum number of non-target columns; zero disables the check.
	MinFeatures int
	// Client is used for http(s) sources; http.DefaultClient when nil.
	Client *http.Client
}

// Load reads a table from source. A source is a local CSV file, a directory
// whose CSV files share one header, a .tar or .tar.gz archive of such files,
// or an http(s) URL to a file or archive.
func Load(ctx context.Context, source string, opts LoadOptions) (*Table, error) {
	logger := ctxlog.FromContext(ctx)
	table, err := load(ctx, source, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", source)
	}
	logger.Info("dataset loaded", "source", source, "rows", len(table.Rows), "columns", len(table.Columns))
	return table, nil
}

func load(ctx context.Context, source string, opts LoadOptions) (*Table, error) {
	if info, err := os.Stat(source); err == nil && info.IsDir() {
		return loadDir(ctx, source, opts)
	}
	rc, err := open(ctx, source, opts.Client)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if isTar, gzipped := archiveKind(source); isTar {
		return ReadArchive(ctx, rc, gzipped, opts)
	}
	return Parse(rc, opts)
}

func loadDir(ctx context.Context, dir string, opts LoadOptions) (*Table, error) {
	paths, err := DiscoverTables(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, errors.Wrapf(ErrSource, "no csv files under %s", dir)
	}
	tables := make([]*Table, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := os.Open(path)
		if err != nil {
			return nil, errors.Wrapf(ErrSource, "open %s: %v", path, err)
		}
		table, err := Parse(f, opts)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", filepath.Base(path))
		}
		ctxlog.FromContext(ctx).Debug("table discovered", "path", path, "rows", len(table.Rows))
		tables = append(tables, table)
	}
	return Concat(tables...)
}

func open(ctx context.Context, source string, client *http.Client) (io.ReadCloser, error) {
	if source == "" {
		return nil, errors.Wrap(ErrSource, "empty source")
	}
	if !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		f, err := os.Open(source)
		if err != nil {
			return nil, errors.Wrapf(ErrSource, "open %s: %v", source, err)
		}
		return f, nil
	}

	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return nil, errors.Wrapf(ErrSource, "build request for %s: %v", source, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(ErrSource, "fetch %s: %v", source, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, errors.Wrapf(ErrSource, "fetch %s: status %s", source, resp.Status)
	}
	return resp.Body, nil
}

// Parse reads a delimited table with a header row. Every cell must be numeric.
func Parse(r io.Reader, opts LoadOptions) (*Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(ErrSource, "read: %v", err)
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")
	if strings.TrimSpace(text) == "" {
		return nil, errors.Wrap(ErrShape, "empty input")
	}

	delim := opts.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(text)
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.Comma = delim
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, errors.Wrapf(ErrShape, "header: %v", err)
	}
	columns := make([]string, len(header))
	for i, name := range header {
		columns[i] = strings.Trim(strings.TrimSpace(name), `"'`)
	}
	reader.FieldsPerRecord = len(columns)

	if opts.Target != "" && indexOf(columns, opts.Target) < 0 {
		return nil, errors.Wrapf(ErrShape, "target column %q not found in %v", opts.Target, columns)
	}
	features := len(columns)
	if opts.Target != "" {
		features--
	}
	if opts.MinFeatures > 0 && features < opts.MinFeatures {
		return nil, errors.Wrapf(ErrShape, "expected at least %d feature columns, got %d", opts.MinFeatures, features)
	}

	table := &Table{Columns: columns}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrShape, "%v", err)
		}
		line, _ := reader.FieldPos(0)
		row := make([]float64, len(record))
		for i, cell := range record {
			v, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, errors.Wrapf(ErrShape, "line %d column %q: %q is not numeric", line, columns[i], cell)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Wrapf(ErrShape, "line %d column %q: %q is not a finite value", line, columns[i], cell)
			}
			row[i] = v
		}
		table.Rows = append(table.Rows, row)
	}
	if len(table.Rows) == 0 {
		return nil, errors.Wrap(ErrShape, "no data rows")
	}
	return table, nil
}

// XY splits the table into a feature matrix and target vector. Feature order
// follows the file, skipping the target column.
func (t *Table) XY(target string) (x [][]float64, y []float64, features []string, err error) {
	ti := indexOf(t.Columns, target)
	if ti < 0 {
		return nil, nil, nil, errors.Wrapf(ErrShape, "target column %q not found", target)
	}
	features = make([]string, 0, len(t.Columns)-1)
	for i, c := range t.Columns {
		if i != ti {
			features = append(features, c)
		}
	}
	if len(features) == 0 {
		return nil, nil, nil, errors.Wrap(ErrShape, "table has no feature columns")
	}

	x = make([][]float64, len(t.Rows))
	y = make([]float64, len(t.Rows))
	for r, row := range t.Rows {
		feat := make([]float64, 0, len(features))
		feat = append(feat, row[:ti]...)
		feat = append(feat, row[ti+1:]...)
		x[r] = feat
		y[r] = row[ti]
	}
	return x, y, features, nil
}

func sniffDelimiter(text string) rune {
	header, _, _ := strings.Cut(text, "\n")
	if strings.Count(header, ";") > strings.Count(header, ",") {
		return ';'
	}
	return ','
}

func indexOf(columns []string, name string) int {
	for i, c := range columns {
		if c == name {
			return i
		}
	}
	return -1
}
