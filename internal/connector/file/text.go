package file

import (
	"bufio"
	"compress/gzip"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

// openReader opens path, transparently decompressing ".gz" files.
func openReader(path string) (io.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	if !strings.EqualFold(filepath.Ext(path), ".gz") {
		return bufio.NewReader(f), f.Close, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return gz, func() error {
		return errors.Join(gz.Close(), f.Close())
	}, nil
}

// --- CSV ---

type csvCursor struct {
	r       *csv.Reader
	closeFn func() error
	cols    []string
	current endpoint.Record
	err     error
}

func openCSV(path string) (*csvCursor, error) {
	r, closeFn, err := openReader(path)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	if strings.HasSuffix(strings.ToLower(strings.TrimSuffix(path, ".gz")), ".tsv") {
		cr.Comma = '\t'
	}

	header, err := cr.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		closeFn()
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	cr.FieldsPerRecord = len(header)
	return &csvCursor{r: cr, closeFn: closeFn, cols: header}, nil
}

func (c *csvCursor) Next() bool {
	if c.err != nil || c.r == nil {
		return false
	}
	row, err := c.r.Read()
	if err != nil {
		if !errors.Is(err, io.EOF) {
			c.err = err
		}
		return false
	}
	record := make(endpoint.Record, len(c.cols))
	for i, col := range c.cols {
		if row[i] == "" {
			record[col] = nil
			continue
		}
		record[col] = row[i]
	}
	c.current = record
	return true
}

func (c *csvCursor) Value() endpoint.Record { return c.current }
func (c *csvCursor) Err() error             { return c.err }
func (c *csvCursor) Columns() []string      { return c.cols }

func (c *csvCursor) Close() error {
	if c.closeFn == nil {
		return nil
	}
	fn := c.closeFn
	c.closeFn, c.r = nil, nil
	return fn()
}

// --- NDJSON ---

type ndjsonCursor struct {
	dec     *json.Decoder
	closeFn func() error
	cols    []string
	first   endpoint.Record
	current endpoint.Record
	err     error
}

// openNDJSON decodes the first object up front; its keys, sorted, become the
// column list.
func openNDJSON(path string) (*ndjsonCursor, error) {
	r, closeFn, err := openReader(path)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(r)
	dec.UseNumber()

	c := &ndjsonCursor{dec: dec, closeFn: closeFn}
	var first map[string]any
	switch err := dec.Decode(&first); {
	case errors.Is(err, io.EOF):
	case err != nil:
		closeFn()
		return nil, fmt.Errorf("decode first record: %w", err)
	default:
		c.first = first
		for k := range first {
			c.cols = append(c.cols, k)
		}
		sort.Strings(c.cols)
	}
	return c, nil
}

func (c *ndjsonCursor) Next() bool {
	if c.err != nil || c.dec == nil {
		return false
	}
	if c.first != nil {
		c.current, c.first = c.first, nil
		return true
	}
	var rec map[string]any
	if err := c.dec.Decode(&rec); err != nil {
		if !errors.Is(err, io.EOF) {
			c.err = err
		}
		return false
	}
	c.current = rec
	return true
}

func (c *ndjsonCursor) Value() endpoint.Record { return c.current }
func (c *ndjsonCursor) Err() error             { return c.err }
func (c *ndjsonCursor) Columns() []string      { return c.cols }

func (c *ndjsonCursor) Close() error {
	if c.closeFn == nil {
		return nil
	}
	fn := c.closeFn
	c.closeFn, c.dec = nil, nil
	return fn()
}
