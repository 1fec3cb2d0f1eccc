package endpoint

import "time"

// Record represents a single source row as column/value pairs.
type Record = map[string]any

// Iterator provides streaming access to records.
type Iterator[T any] interface {
	// Next advances to the next record. Returns false when done or on error.
	Next() bool

	// Value returns the current record. Only valid after Next() returns true.
	Value() T

	// Err returns any error encountered during iteration.
	Err() error

	// Close releases resources. Must be called when done.
	Close() error
}

// Cursor is an Iterator over query rows that also knows the result columns.
type Cursor interface {
	Iterator[Record]

	// Columns returns the result column names in select order.
	Columns() []string
}

// --- Import kinds ---

// ImportKind selects identity and data field naming for normalized records.
type ImportKind string

const (
	ImportUsers    ImportKind = "users"
	ImportAccounts ImportKind = "accounts"
	ImportEvents   ImportKind = "events"
)

// ParseImportKind maps a configured import type onto an ImportKind.
// An empty value defaults to users.
func ParseImportKind(s string) (ImportKind, error) {
	switch ImportKind(s) {
	case "", ImportUsers:
		return ImportUsers, nil
	case ImportAccounts:
		return ImportAccounts, nil
	case ImportEvents:
		return ImportEvents, nil
	}
	return "", Errorf(KindConfiguration, CodeUnsupportedImport, "unsupported import type %q", s)
}

// --- Query types ---

// Replacements holds named values substituted for :name placeholders.
type Replacements map[string]any

// Well-known replacement names.
const (
	ReplaceLastUpdatedAt   = "last_updated_at"
	ReplaceImportStartDate = "import_start_date"
	ReplaceLastSyncAt      = "last_sync_at"
)

// RunOptions bounds a run-to-completion query.
type RunOptions struct {
	// Limit caps the number of returned rows. Zero means no cap.
	Limit int
	// Timeout cancels the query when exceeded. Zero means no timeout.
	Timeout time.Duration
}

// Result is a fully materialized query result.
type Result struct {
	Columns []string
	Rows    []Record
}

// --- Sink types ---

// UploadResult describes a durably stored batch.
type UploadResult struct {
	// Locator is a retrievable URL for the stored object.
	Locator    string
	PartNumber int
	Size       int64
}
