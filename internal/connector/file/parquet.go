package file

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

const (
	parquetReadBatch   = 512
	parquetParallelism = 4
)

// parquetCursor reads a Parquet file without a compile-time schema. Rows are
// decoded into the reader's generated struct type and re-keyed by their
// external column names.
type parquetCursor struct {
	file    source.ParquetFile
	pr      *reader.ParquetReader
	cols    []string
	remain  int64
	buf     []endpoint.Record
	current endpoint.Record
	err     error
}

func openParquet(path string) (*parquetCursor, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, err
	}
	pr, err := reader.NewParquetReader(fr, nil, parquetParallelism)
	if err != nil {
		fr.Close()
		return nil, fmt.Errorf("open parquet reader: %w", err)
	}
	return &parquetCursor{
		file:   fr,
		pr:     pr,
		cols:   topLevelColumns(pr.Footer.Schema),
		remain: pr.GetNumRows(),
	}, nil
}

func (c *parquetCursor) Next() bool {
	if c.err != nil || c.pr == nil {
		return false
	}
	if len(c.buf) == 0 {
		if c.remain <= 0 {
			return false
		}
		n := int64(parquetReadBatch)
		if c.remain < n {
			n = c.remain
		}
		if err := c.fill(int(n)); err != nil {
			c.err = err
			return false
		}
		c.remain -= n
		if len(c.buf) == 0 {
			return false
		}
	}
	c.current, c.buf = c.buf[0], c.buf[1:]
	return true
}

func (c *parquetCursor) fill(n int) error {
	rows, err := c.pr.ReadByNumber(n)
	if err != nil {
		return fmt.Errorf("read parquet rows: %w", err)
	}
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("encode parquet rows: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var records []map[string]any
	if err := dec.Decode(&records); err != nil {
		return fmt.Errorf("decode parquet rows: %w", err)
	}
	c.buf = c.buf[:0]
	for _, r := range records {
		c.buf = append(c.buf, r)
	}
	return nil
}

func (c *parquetCursor) Value() endpoint.Record { return c.current }
func (c *parquetCursor) Err() error             { return c.err }
func (c *parquetCursor) Columns() []string      { return c.cols }

func (c *parquetCursor) Close() error {
	if c.pr == nil {
		return nil
	}
	c.pr.ReadStop()
	err := c.file.Close()
	c.pr, c.file, c.buf = nil, nil, nil
	return err
}

// topLevelColumns returns the names of the root's direct children, in
// schema order. The schema list is a depth-first flattening of the tree.
func topLevelColumns(schema []*parquet.SchemaElement) []string {
	if len(schema) == 0 {
		return nil
	}
	var cols []string
	idx := 1
	for idx < len(schema) {
		cols = append(cols, schema[idx].GetName())
		next, err := skipSubtree(schema, idx)
		if err != nil {
			break
		}
		idx = next
	}
	return cols
}

func skipSubtree(schema []*parquet.SchemaElement, idx int) (int, error) {
	if idx >= len(schema) {
		return idx, errors.New("schema index out of range")
	}
	children := int(schema[idx].GetNumChildren())
	idx++
	for i := 0; i < children; i++ {
		var err error
		if idx, err = skipSubtree(schema, idx); err != nil {
			return idx, err
		}
	}
	return idx, nil
}
