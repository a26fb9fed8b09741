package dataset

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadArchiveConcatenatesCSVMembers(t *testing.T) {
	buf := buildArchive(t, []tarEntry{
		{"wine_quality/", ""},
		{"wine_quality/winequality-red.csv", "x;quality\n1;5\n2;6\n"},
		{"wine_quality/winequality.names", "free text"},
		{"wine_quality/winequality-white.csv", "x;quality\n3;7\n"},
	})

	table, err := ReadArchive(context.Background(), buf, false, LoadOptions{Target: "quality"})
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "quality"}, table.Columns)
	assert.Equal(t, [][]float64{{1, 5}, {2, 6}, {3, 7}}, table.Rows)
}

func TestReadArchiveErrors(t *testing.T) {
	_, err := ReadArchive(context.Background(), buildArchive(t, []tarEntry{{"notes.txt", "hi"}}), false, LoadOptions{})
	assert.True(t, errors.Is(err, ErrShape))

	_, err = ReadArchive(context.Background(), buildArchive(t, []tarEntry{{"bad.csv", "x;quality\nx;1\n"}}), false, LoadOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "member bad.csv")

	_, err = ReadArchive(context.Background(), bytes.NewBufferString("not gzip"), true, LoadOptions{})
	assert.True(t, errors.Is(err, ErrSource))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReadArchive(ctx, buildArchive(t, []tarEntry{{"a.csv", "x\n1\n"}}), false, LoadOptions{})
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestLoadGzipArchiveFromFile(t *testing.T) {
	raw := buildArchive(t, []tarEntry{{"winequality-red.csv", semicolonWine}})
	var gz bytes.Buffer
	zw := gzip.NewWriter(&gz)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	path := filepath.Join(t.TempDir(), "wine_quality.tar.gz")
	require.NoError(t, os.WriteFile(path, gz.Bytes(), 0o644))

	table, err := Load(context.Background(), path, LoadOptions{Target: "quality"})
	require.NoError(t, err)
	assert.Len(t, table.Rows, 3)
}

func TestArchiveKind(t *testing.T) {
	cases := []struct {
		source       string
		isTar, gzTar bool
	}{
		{"data/wine.csv", false, false},
		{"data/wine.tar", true, false},
		{"data/WINE.TGZ", true, true},
		{"https://example.com/wine.tar.gz?download=1", true, true},
	}
	for _, tc := range cases {
		isTar, gz := archiveKind(tc.source)
		assert.Equal(t, tc.isTar, isTar, tc.source)
		assert.Equal(t, tc.gzTar, gz, tc.source)
	}
}

type tarEntry struct {
	name, body string
}

func buildArchive(t *testing.T, entries []tarEntry) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(e.body))}
		if e.name[len(e.name)-1] == '/' {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Size > 0 {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf
}
