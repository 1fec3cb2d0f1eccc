package endpoint

import (
	"errors"
	"fmt"
)

// Kind classifies failures so callers can decide whether a run may continue.
type Kind string

const (
	KindConfiguration Kind = "ConfigurationError"
	KindConnection    Kind = "ConnectionError"
	KindQuery         Kind = "QueryError"
	KindTimeout       Kind = "TimeoutError"
	KindValidation    Kind = "ValidationError"
	KindSink          Kind = "SinkError"
)

const (
	CodeUnknownAdapter    = "E_UNKNOWN_ADAPTER"
	CodeMissingSettings   = "E_MISSING_SETTINGS"
	CodeUnsupportedImport = "E_UNSUPPORTED_IMPORT"
	CodeConnectFailed     = "E_CONNECT_FAILED"
	CodeTunnelFailed      = "E_TUNNEL_FAILED"
	CodeInvalidComment    = "E_INVALID_COMMENT_BLOCK"
	CodeUnresolvedParam   = "E_UNRESOLVED_PLACEHOLDER"
	CodeQueryFailed       = "E_QUERY_FAILED"
	CodeQueryTimeout      = "E_QUERY_TIMEOUT"
	CodeInvalidColumns    = "E_INVALID_COLUMNS"
	CodeSinkWriteFailed   = "E_SINK_WRITE_FAILED"
)

// Error carries a failure kind, a stable code and a human-readable summary.
type Error struct {
	Kind    Kind
	Code    string
	Summary string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Summary != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Summary, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Summary != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Summary)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// CodeValue returns the string error code.
func (e *Error) CodeValue() string { return e.Code }

// Errorf builds an Error without an underlying cause.
func Errorf(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Summary: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind, code and summary to err. A nil err yields nil.
func Wrap(kind Kind, code string, err error, summary string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Summary: summary, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
