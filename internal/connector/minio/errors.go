package minio

import "fmt"

// Object store failure codes.
const (
	CodeEndpointUnreachable = "E_ENDPOINT_UNREACHABLE"
	CodeAuthInvalid         = "E_AUTH_INVALID"
	CodeBucketNotFound      = "E_BUCKET_NOT_FOUND"
	CodePermissionDenied    = "E_PERMISSION_DENIED"
	CodeTimeout             = "E_TIMEOUT"
	CodeSinkWriteFailed     = "E_SINK_WRITE_FAILED"
	CodePresignFailed       = "E_PRESIGN_FAILED"
)

// Error is a coded object store failure. Op names the store call that failed.
type Error struct {
	Op   string
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := "object store"
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", msg, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", msg, e.Code, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func storeError(op, code string, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}
