package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

// ReadArchive parses every CSV member of a tar stream and concatenates them
// in archive order. Other members, such as the dataset's .names notes, are
// skipped.
func ReadArchive(ctx context.Context, r io.Reader, gzipped bool, opts LoadOptions) (*Table, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if gzipped {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, errors.Wrapf(ErrSource, "gzip: %v", err)
		}
		defer zr.Close()
		src = zr
	}

	tr := tar.NewReader(src)
	var tables []*Table
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(ErrSource, "read tar: %v", err)
		}
		if hdr.FileInfo().IsDir() || !isTableName(filepath.Base(hdr.Name)) {
			continue
		}
		table, err := Parse(tr, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "member %s", hdr.Name)
		}
		tables = append(tables, table)
	}
	if len(tables) == 0 {
		return nil, errors.Wrap(ErrShape, "archive has no csv members")
	}
	return Concat(tables...)
}

// archiveKind reports whether source names a tar archive and whether it is
// gzip-compressed. Query strings on URLs are ignored.
func archiveKind(source string) (isTar, gzipped bool) {
	name, _, _ := strings.Cut(strings.ToLower(source), "?")
	switch {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return true, true
	case strings.HasSuffix(name, ".tar"):
		return true, false
	}
	return false, false
}
