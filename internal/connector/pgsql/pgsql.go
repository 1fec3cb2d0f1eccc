// Package pgsql implements the PostgreSQL source adapter on pgx.
//
// Unlike the database/sql adapters, a query timeout here is enforced by a
// server-side cancel request sent on a separate connection, so a runaway
// query stops on the server rather than only on the client socket.
package pgsql

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"

	"github.com/hull-ships/hull-sql-sub000/internal/connector/jdbc"
	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/sanitize"
)

var (
	_ endpoint.Source = (*Postgres)(nil)
	_ endpoint.Conn   = (*Conn)(nil)
)

const (
	connectTimeout = 10 * time.Second
	// deadlineDelay bounds how long a cancelled query may keep the socket
	// busy before pgx forces a client-side deadline.
	deadlineDelay = 2 * time.Second
)

// pgConnLike is the subset of *pgx.Conn used by Conn.
type pgConnLike interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Postgres is the PostgreSQL adapter.
type Postgres struct{}

// New creates a PostgreSQL adapter.
func New() *Postgres { return &Postgres{} }

func init() {
	endpoint.Register("postgres", func() (endpoint.Source, error) {
		return New(), nil
	})
}

// ID returns the adapter kind.
func (p *Postgres) ID() string { return "postgres" }

// RequiredFields implements endpoint.Source.
func (p *Postgres) RequiredFields() []string { return endpoint.DefaultRequiredFields }

// GetDescriptor implements endpoint.Source.
func (p *Postgres) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{
		ID:          "postgres",
		Family:      "JDBC",
		Title:       "PostgreSQL",
		Vendor:      "PostgreSQL",
		Description: "PostgreSQL via pgx with server-side query cancellation",
		DefaultPort: 5432,
		Driver:      "pgx",
		Fields:      endpoint.RelationalFields(),
	}
}

// Validate implements endpoint.Source.
func (p *Postgres) Validate(columns []string, kind endpoint.ImportKind) []string {
	return endpoint.ValidateColumns(columns, kind)
}

// WrapQuery implements endpoint.Source.
func (p *Postgres) WrapQuery(raw string, replacements endpoint.Replacements) (string, error) {
	q, err := sanitize.Substitute(raw, replacements, sanitize.FormatLiteral)
	if err != nil {
		return "", err
	}
	return jdbc.Envelope(q), nil
}

// Open implements endpoint.Source.
func (p *Postgres) Open(ctx context.Context, settings endpoint.Settings) (endpoint.Conn, error) {
	if err := settings.CheckRequired(p.RequiredFields()); err != nil {
		return nil, err
	}

	cfg, err := ParseConfig(settings)
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindConfiguration, endpoint.CodeConnectFailed, err, "invalid postgres settings")
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(connectCtx, cfg)
	if err != nil {
		return nil, endpoint.Wrap(endpoint.KindConnection, endpoint.CodeConnectFailed, err,
			fmt.Sprintf("cannot connect to postgres at %s", settings.Host))
	}
	if err := conn.Ping(connectCtx); err != nil {
		conn.Close(context.Background())
		return nil, endpoint.Wrap(endpoint.KindConnection, endpoint.CodeConnectFailed, err,
			fmt.Sprintf("cannot connect to postgres at %s", settings.Host))
	}
	return newConn(conn), nil
}

// ParseConfig builds a pgx config whose context cancellation sends a
// PostgreSQL cancel request.
func ParseConfig(settings endpoint.Settings) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(DSN(settings))
	if err != nil {
		return nil, err
	}
	cfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:          pgConn,
			DeadlineDelay: deadlineDelay,
		}
	}
	return cfg, nil
}

// DSN builds a postgres:// URL from settings; options become query parameters.
func DSN(s endpoint.Settings) string {
	q := url.Values{}
	for _, k := range s.SortedOptions() {
		q.Set(k, s.Options[k])
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:     "/" + s.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// =============================================================================
// CONNECTION
// =============================================================================

// Conn is an open pgx connection owned by one run.
type Conn struct {
	conn pgConnLike

	closeOnce sync.Once
	closeErr  error
}

func newConn(conn pgConnLike) *Conn {
	return &Conn{conn: conn}
}

// Run implements endpoint.Conn.
func (c *Conn) Run(ctx context.Context, query string, opts endpoint.RunOptions) (*endpoint.Result, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.Limit > 0 {
		query = query + " LIMIT " + strconv.Itoa(opts.Limit)
	}

	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	defer rows.Close()

	result := &endpoint.Result{Columns: columnNames(rows)}
	for rows.Next() {
		if opts.Limit > 0 && len(result.Rows) >= opts.Limit {
			break
		}
		record, err := readRecord(rows, result.Columns)
		if err != nil {
			return nil, classifyError(ctx, err)
		}
		result.Rows = append(result.Rows, record)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyError(ctx, err)
	}
	return result, nil
}

// Stream implements endpoint.Conn.
func (c *Conn) Stream(ctx context.Context, query string) (endpoint.Cursor, error) {
	rows, err := c.conn.Query(ctx, query)
	if err != nil {
		return nil, classifyError(ctx, err)
	}
	return &cursor{ctx: ctx, rows: rows, cols: columnNames(rows)}, nil
}

// Close implements endpoint.Conn.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		c.closeErr = c.conn.Close(ctx)
	})
	return c.closeErr
}

type cursor struct {
	ctx     context.Context
	rows    pgx.Rows
	cols    []string
	current endpoint.Record
	err     error
}

func (it *cursor) Next() bool {
	if !it.rows.Next() {
		if err := it.rows.Err(); err != nil {
			it.err = classifyError(it.ctx, err)
		}
		return false
	}
	record, err := readRecord(it.rows, it.cols)
	if err != nil {
		it.err = classifyError(it.ctx, err)
		return false
	}
	it.current = record
	return true
}

func (it *cursor) Value() endpoint.Record { return it.current }
func (it *cursor) Err() error             { return it.err }
func (it *cursor) Columns() []string      { return it.cols }

func (it *cursor) Close() error {
	it.rows.Close()
	return nil
}

func columnNames(rows pgx.Rows) []string {
	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, f := range fields {
		cols[i] = f.Name
	}
	return cols
}

func readRecord(rows pgx.Rows, cols []string) (endpoint.Record, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	record := make(endpoint.Record, len(cols))
	for i, col := range cols {
		if i < len(values) {
			record[col] = normalizeValue(values[i])
		}
	}
	return record, nil
}

// normalizeValue converts pgx decodings that do not serialize naturally.
func normalizeValue(v any) any {
	switch x := v.(type) {
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	}
	return v
}

func classifyError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return endpoint.Wrap(endpoint.KindTimeout, endpoint.CodeQueryTimeout, err, "query timed out")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return endpoint.Wrap(endpoint.KindQuery, endpoint.CodeQueryFailed, err,
			fmt.Sprintf("query failed (SQLSTATE %s)", pgErr.Code))
	}
	return endpoint.Wrap(endpoint.KindQuery, endpoint.CodeQueryFailed, err, "query failed")
}
