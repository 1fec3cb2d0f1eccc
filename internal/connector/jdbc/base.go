// Package jdbc implements database/sql source adapters with vendor-specific extensions.
//
// Architecture:
//
//	Base      - Generic database/sql adapter (envelope, row cap, streaming)
//	Redshift  - Amazon Redshift over lib/pq
//	MySQL     - MySQL/MariaDB over go-sql-driver/mysql
//	MSSQL     - SQL Server over go-mssqldb, TOP n limiting
//	SQLite    - SQLite files over modernc.org/sqlite
//
// Each vendor adapter embeds Base and supplies its Dialect.
// All adapters implement endpoint.Source; open connections implement endpoint.Conn.
package jdbc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/sanitize"
)

var (
	_ endpoint.Source = (*Base)(nil)
	_ endpoint.Conn   = (*Conn)(nil)
)

const pingTimeout = 5 * time.Second

// Dialect captures what differs between database/sql vendors.
type Dialect struct {
	Kind        string
	Driver      string
	Title       string
	Vendor      string
	DefaultPort int
	Required    []string

	// DSN builds the driver connection string.
	DSN func(s endpoint.Settings) string
	// Limit caps an enveloped query to n rows.
	Limit func(query string, n int) string
	// Format renders replacement values as literals.
	Format sanitize.Formatter
}

// Base implements the generic database/sql adapter.
type Base struct {
	Dialect *Dialect
}

// NewBase creates an adapter for dialect.
func NewBase(dialect *Dialect) *Base {
	return &Base{Dialect: dialect}
}

// ID returns the adapter kind.
func (b *Base) ID() string {
	return b.Dialect.Kind
}

// RequiredFields implements endpoint.Source.
func (b *Base) RequiredFields() []string {
	if len(b.Dialect.Required) > 0 {
		return b.Dialect.Required
	}
	return endpoint.DefaultRequiredFields
}

// GetDescriptor implements endpoint.Source.
func (b *Base) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          b.Dialect.Kind,
		Family:      "JDBC",
		Title:       b.Dialect.Title,
		Vendor:      b.Dialect.Vendor,
		Description: b.Dialect.Title + " via database/sql",
		DefaultPort: b.Dialect.DefaultPort,
		Driver:      b.Dialect.Driver,
		Fields:      endpoint.RelationalFields(),
	}
}

// Validate implements endpoint.Source.
func (b *Base) Validate(columns []string, kind endpoint.ImportKind) []string {
	return endpoint.ValidateColumns(columns, kind)
}

// WrapQuery substitutes placeholders and wraps the query in the __qry__ envelope.
func (b *Base) WrapQuery(raw string, replacements endpoint.Replacements) (string, error) {
	q, err := sanitize.Substitute(raw, replacements, b.Dialect.Format)
	if err != nil {
		return "", err
	}
	return Envelope(q), nil
}

// Open connects and pings the database. A failed ping closes the handle.
func (b *Base) Open(ctx context.Context, settings endpoint.Settings) (endpoint.Conn, error) {
	if err := settings.CheckRequired(b.RequiredFields()); err != nil {
		return nil, err
	}

	db, err := sql.Open(b.Dialect.Driver, b.Dialect.DSN(settings))
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindConfiguration, endpoint.CodeConnectFailed, err, "failed to open database")
	}

	// One run owns the connection; a second slot keeps cancel requests flowing.
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, endpoint.Wrap(endpoint.KindConnection, endpoint.CodeConnectFailed, err,
			fmt.Sprintf("cannot connect to %s at %s", b.Dialect.Kind, settings.Host))
	}

	return NewConn(db, b.Dialect), nil
}

// Envelope trims a trailing semicolon and wraps query as a derived table.
// The closing parenthesis goes on its own line when the query ends in a line
// comment.
func Envelope(query string) string {
	q := strings.TrimSpace(query)
	for strings.HasSuffix(q, ";") {
		q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	}
	if endsInLineComment(q) {
		q += "\n"
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS __qry__", q)
}

func endsInLineComment(q string) bool {
	last := strings.LastIndex(q, "\n")
	return strings.Contains(q[last+1:], "--")
}

// =============================================================================
// CONNECTION
// =============================================================================

// Conn is an open database/sql connection owned by one run.
type Conn struct {
	DB      *sql.DB
	dialect *Dialect

	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps an open handle.
func NewConn(db *sql.DB, dialect *Dialect) *Conn {
	return &Conn{DB: db, dialect: dialect}
}

// Run executes query to completion. The row cap is applied in SQL and again
// while reading, so a dialect that ignores the limit still returns at most
// opts.Limit rows.
func (c *Conn) Run(ctx context.Context, query string, opts endpoint.RunOptions) (*endpoint.Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Limit > 0 && c.dialect.Limit != nil {
		query = c.dialect.Limit(query, opts.Limit)
	}

	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyQueryError(ctx, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classifyQueryError(ctx, err)
	}

	result := &endpoint.Result{Columns: cols}
	for rows.Next() {
		if opts.Limit > 0 && len(result.Rows) >= opts.Limit {
			break
		}
		record, err := scanRecord(rows, cols)
		if err != nil {
			return nil, classifyQueryError(ctx, err)
		}
		result.Rows = append(result.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyQueryError(ctx, err)
	}
	return result, nil
}

// Stream executes query and returns a cursor over its rows.
func (c *Conn) Stream(ctx context.Context, query string) (endpoint.Cursor, error) {
	rows, err := c.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyQueryError(ctx, err)
	}

	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, classifyQueryError(ctx, err)
	}

	return &rowCursor{ctx: ctx, rows: rows, cols: cols}, nil
}

// Close releases the database handle. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		if c.DB != nil {
			c.closeErr = c.DB.Close()
		}
	})
	return c.closeErr
}

// rowCursor wraps sql.Rows as endpoint.Cursor.
type rowCursor struct {
	ctx     context.Context
	rows    *sql.Rows
	cols    []string
	current endpoint.Record
	err     error
}

func (it *rowCursor) Next() bool {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = classifyQueryError(it.ctx, err)
		}
		return false
	}

	record, err := scanRecord(it.rows, it.cols)
	if err != nil {
		it.err = classifyQueryError(it.ctx, err)
		return false
	}
	it.current = record
	return true
}

func (it *rowCursor) Value() endpoint.Record { return it.current }
func (it *rowCursor) Err() error             { return it.err }
func (it *rowCursor) Columns() []string      { return it.cols }
func (it *rowCursor) Close() error           { return it.rows.Close() }

func scanRecord(rows *sql.Rows, cols []string) (endpoint.Record, error) {
	values := make([]any, len(cols))
	valuePtrs := make([]any, len(cols))
	for i := range values {
		valuePtrs[i] = &values[i]
	}

	if err := rows.Scan(valuePtrs...); err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	record := make(endpoint.Record, len(cols))
	for i, col := range cols {
		if b, ok := values[i].([]byte); ok {
			record[col] = string(b)
			continue
		}
		record[col] = values[i]
	}
	return record, nil
}

// classifyQueryError maps a deadline on ctx to TimeoutError and anything else
// to QueryError. Drivers report cancellation with their own errors, so the
// context is the reliable signal.
func classifyQueryError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return endpoint.Wrap(endpoint.KindTimeout, endpoint.CodeQueryTimeout, err, "query timed out")
	}
	return endpoint.Wrap(endpoint.KindQuery, endpoint.CodeQueryFailed, err, "query failed")
}
