// Package endpoint defines the contracts every hull-sql adapter implements.
//
// Architecture:
//
//	Source - opens connections to one data-source kind and prepares queries
//	Conn   - an open source connection (Run for previews, Stream for syncs)
//	Sink   - persists one batch of serialized records as a named blob
//
// Adapters are registered by kind in a Registry; callers select an adapter once
// at configuration time and only talk to these interfaces afterwards.
package endpoint

import (
	"context"
	"io"
)

// Source is the contract for one data-source kind (postgres, mysql, file, ...).
type Source interface {
	// ID returns the adapter kind (e.g., "postgres", "mssql").
	ID() string

	// RequiredFields lists the settings that must be non-empty before Open.
	RequiredFields() []string

	// Open connects to the source. It never returns a half-open connection.
	Open(ctx context.Context, settings Settings) (Conn, error)

	// WrapQuery substitutes named parameters and applies the adapter's envelope.
	WrapQuery(raw string, replacements Replacements) (string, error)

	// Validate checks the result columns against the import kind requirements.
	Validate(columns []string, kind ImportKind) []string

	// GetDescriptor returns metadata about this adapter kind.
	GetDescriptor() *Descriptor
}

// PlainQuery is implemented by sources whose query is not SQL, such as a file
// name. Their queries are passed to WrapQuery without comment handling.
type PlainQuery interface {
	PlainQuery() bool
}

// Conn is an open connection exclusively owned by one run.
type Conn interface {
	// Run executes the query to completion, honouring the row cap and timeout.
	Run(ctx context.Context, query string, opts RunOptions) (*Result, error)

	// Stream executes the query and returns a lazy single-pass cursor.
	// Backend failures during production are reported by Cursor.Err.
	Stream(ctx context.Context, query string) (Cursor, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// Sink persists batches of newline-delimited records.
type Sink interface {
	// ID returns the sink kind.
	ID() string

	// Upload opens a write stream for one batch. The returned Upload must be
	// closed by the caller, then awaited for its result.
	Upload(ctx context.Context, destinationID string, partNumber int) (*Upload, error)
}

// Upload is one in-flight batch upload.
type Upload struct {
	// Writer accepts the serialized batch. Closing it seals the upload.
	Writer io.WriteCloser

	done   chan struct{}
	result *UploadResult
	err    error
}

// NewUpload pairs a writer with a completion handle. Sink implementations call
// Complete exactly once when the object is durably stored or has failed.
func NewUpload(w io.WriteCloser) *Upload {
	return &Upload{Writer: w, done: make(chan struct{})}
}

// Complete resolves the upload.
func (u *Upload) Complete(result *UploadResult, err error) {
	u.result = result
	u.err = err
	close(u.done)
}

// Wait blocks until the upload resolves or ctx is done.
func (u *Upload) Wait(ctx context.Context) (*UploadResult, error) {
	select {
	case <-u.done:
		return u.result, u.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
