// Package file implements a flat-file source adapter.
//
// The configured database is a directory; the query names one file inside it
// (placeholders substituted), for example "exports/users-:import_start_date.csv".
// Supported formats are CSV with a header row, newline-delimited JSON and
// Parquet. CSV and NDJSON files may be gzip-compressed (".gz" suffix).
package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/sanitize"
)

var (
	_ endpoint.Source = (*Source)(nil)
	_ endpoint.Conn   = (*Conn)(nil)
)

// Format identifies a flat-file encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatNDJSON  Format = "ndjson"
	FormatParquet Format = "parquet"
)

// Source is the flat-file adapter.
type Source struct{}

// New creates a flat-file adapter.
func New() *Source { return &Source{} }

func init() {
	endpoint.Register("file", func() (endpoint.Source, error) {
		return New(), nil
	})
}

func (s *Source) ID() string { return "file" }

func (s *Source) RequiredFields() []string { return []string{"database"} }

func (s *Source) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          "file",
		Family:      "FILE",
		Title:       "Flat files",
		Vendor:      "Generic",
		Description: "CSV, NDJSON and Parquet files read from a local directory",
		Fields: []*endpoint.FieldDescriptor{
			{Key: "database", Label: "Directory", ValueType: "string", Required: true},
			{Key: "format", Label: "Format (csv, ndjson, parquet)", ValueType: "string"},
		},
	}
}

func (s *Source) Validate(columns []string, kind endpoint.ImportKind) []string {
	return endpoint.ValidateColumns(columns, kind)
}

// PlainQuery reports that queries are file names, so "--" and "/*" in them
// are not comments.
func (s *Source) PlainQuery() bool { return true }

// WrapQuery substitutes placeholders into the file name. Values are inserted
// bare, and timestamps as dates.
func (s *Source) WrapQuery(raw string, replacements endpoint.Replacements) (string, error) {
	q, err := sanitize.Substitute(raw, replacements, formatPathValue)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(q), ";")), nil
}

// Open checks that the directory exists.
func (s *Source) Open(ctx context.Context, settings endpoint.Settings) (endpoint.Conn, error) {
	if err := settings.CheckRequired(s.RequiredFields()); err != nil {
		return nil, err
	}
	info, err := os.Stat(settings.Database)
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindConnection, endpoint.CodeConnectFailed, err, "cannot open file directory")
	}
	if !info.IsDir() {
		return nil, endpoint.Errorf(endpoint.KindConnection, endpoint.CodeConnectFailed, "%s is not a directory", settings.Database)
	}

	format := Format(strings.ToLower(settings.Options["format"]))
	return &Conn{root: settings.Database, format: format}, nil
}

func formatPathValue(v any) string {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Format("2006-01-02")
	case *time.Time:
		if x != nil {
			return x.UTC().Format("2006-01-02")
		}
		return ""
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}

// =============================================================================
// CONNECTION
// =============================================================================

// Conn reads files below one directory.
type Conn struct {
	root   string
	format Format

	mu     sync.Mutex
	open   []endpoint.Cursor
	closed bool
}

// Run reads the file up to opts.Limit rows.
func (c *Conn) Run(ctx context.Context, query string, opts endpoint.RunOptions) (*endpoint.Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cur, err := c.Stream(ctx, query)
	if err != nil {
		return nil, err
	}
	defer cur.Close()

	result := &endpoint.Result{Columns: cur.Columns()}
	for (opts.Limit <= 0 || len(result.Rows) < opts.Limit) && cur.Next() {
		result.Rows = append(result.Rows, cur.Value())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Stream opens the named file and returns a cursor over its rows.
func (c *Conn) Stream(ctx context.Context, query string) (endpoint.Cursor, error) {
	path, err := c.resolve(query)
	if err != nil {
		return nil, err
	}

	var cur endpoint.Cursor
	switch c.detect(path) {
	case FormatCSV:
		cur, err = openCSV(path)
	case FormatNDJSON:
		cur, err = openNDJSON(path)
	case FormatParquet:
		cur, err = openParquet(path)
	default:
		return nil, endpoint.Errorf(endpoint.KindQuery, endpoint.CodeQueryFailed, "cannot determine file format of %q", query)
	}
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindQuery, endpoint.CodeQueryFailed, err, "cannot read "+query)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		cur.Close()
		return nil, endpoint.Errorf(endpoint.KindConnection, endpoint.CodeConnectFailed, "connection closed")
	}
	c.open = append(c.open, cur)
	return &ctxCursor{ctx: ctx, Cursor: cur}, nil
}

// Close closes every cursor opened on this connection. Safe to call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	var errs []error
	for _, cur := range c.open {
		errs = append(errs, cur.Close())
	}
	c.open = nil
	return errors.Join(errs...)
}

// resolve maps the query onto a path that stays inside the root directory.
func (c *Conn) resolve(query string) (string, error) {
	name := strings.TrimSpace(query)
	if name == "" {
		return "", endpoint.Errorf(endpoint.KindQuery, endpoint.CodeQueryFailed, "file name is empty")
	}
	path := filepath.Join(c.root, filepath.FromSlash(name))
	rel, err := filepath.Rel(c.root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", endpoint.Errorf(endpoint.KindQuery, endpoint.CodeQueryFailed, "file %q is outside the configured directory", name)
	}
	return path, nil
}

func (c *Conn) detect(path string) Format {
	if c.format != "" {
		return c.format
	}
	name := strings.ToLower(strings.TrimSuffix(path, ".gz"))
	switch filepath.Ext(name) {
	case ".csv", ".tsv":
		return FormatCSV
	case ".ndjson", ".jsonl", ".json":
		return FormatNDJSON
	case ".parquet":
		return FormatParquet
	}
	return ""
}

// ctxCursor stops iteration once ctx is done.
type ctxCursor struct {
	endpoint.Cursor
	ctx context.Context
	err error
}

func (c *ctxCursor) Next() bool {
	if err := c.ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.err = endpoint.Wrap(endpoint.KindTimeout, endpoint.CodeQueryTimeout, err, "file read timed out")
		} else {
			c.err = endpoint.Wrap(endpoint.KindQuery, endpoint.CodeQueryFailed, err, "file read cancelled")
		}
		return false
	}
	return c.Cursor.Next()
}

func (c *ctxCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	if err := c.Cursor.Err(); err != nil {
		return endpoint.Wrap(endpoint.KindQuery, endpoint.CodeQueryFailed, err, "file read failed")
	}
	return nil
}
