package table

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/chipcollections"
	"github.com/carbocation/pfx"
	"github.com/dsnet/compress/bzip2"
	"gopkg.in/guregu/null.v3"
)

// WriteCSV writes a header of x, y and the value columns, then one line per
// row. Null cells are written empty.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := append([]string{KeyColumnX, KeyColumnY}, t.columns...)
	if err := cw.Write(header); err != nil {
		return err
	}

	line := make([]string, len(header))
	for _, r := range t.rows {
		line[0] = strconv.Itoa(r.Key.X)
		line[1] = strconv.Itoa(r.Key.Y)
		for j, v := range r.Values {
			line[j+2] = v.ValueOrZero()
		}
		if err := cw.Write(line); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// ReadCSV is the inverse of WriteCSV. Empty cells become null.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		return nil, pfx.Err(err)
	}
	if len(header) < 2 || header[0] != KeyColumnX || header[1] != KeyColumnY {
		return nil, fmt.Errorf("table: expected header to begin with %s,%s, got %v", KeyColumnX, KeyColumnY, header)
	}

	out, err := New(header[2:]...)
	if err != nil {
		return nil, err
	}

	for lineNo := 2; ; lineNo++ {
		line, err := cr.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		x, err := strconv.Atoi(line[0])
		if err != nil {
			return nil, fmt.Errorf("table: line %d: %w", lineNo, err)
		}
		y, err := strconv.Atoi(line[1])
		if err != nil {
			return nil, fmt.Errorf("table: line %d: %w", lineNo, err)
		}

		values := make([]null.String, 0, len(line)-2)
		for _, cell := range line[2:] {
			values = append(values, null.NewString(cell, cell != ""))
		}
		if err := out.Append(Key{X: x, Y: y}, values...); err != nil {
			return nil, fmt.Errorf("table: line %d: %w", lineNo, err)
		}
	}

	return out, nil
}

// WriteFile writes t as CSV to path, bzip2 compressed when path ends in .bz2.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return pfx.Err(err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)

	var w io.Writer = bw
	var bz *bzip2.Writer
	if strings.HasSuffix(path, ".bz2") {
		bz, err = bzip2.NewWriter(bw, &bzip2.WriterConfig{Level: bzip2.BestCompression})
		if err != nil {
			return pfx.Err(err)
		}
		w = bz
	}

	if err := t.WriteCSV(w); err != nil {
		return pfx.Err(err)
	}

	if bz != nil {
		if err := bz.Close(); err != nil {
			return pfx.Err(err)
		}
	}

	if err := bw.Flush(); err != nil {
		return pfx.Err(err)
	}

	return f.Close()
}

// ReadFile reads a table written by WriteFile. Compression is detected from
// the content, not the name. client is only needed for gs:// paths.
func ReadFile(path string, client *storage.Client) (*Table, error) {
	f, _, err := chipcollections.MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}

	rc, err := chipcollections.MaybeDecompressReadCloser(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	defer rc.Close()

	return ReadCSV(rc)
}
