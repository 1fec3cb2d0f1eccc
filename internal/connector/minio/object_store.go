package minio

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// ObjectStore abstracts the object-store operations the sink needs.
type ObjectStore interface {
	Ping(ctx context.Context) error
	EnsureBucket(ctx context.Context, bucket string) error
	// PutStream stores r under key without knowing its length up front and
	// returns the number of bytes stored.
	PutStream(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error)
	// Locate returns a URL from which the object can be fetched until expiry.
	Locate(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}

// LocalStore persists objects on disk, for development and tests.
type LocalStore struct {
	root string
}

// NewLocalStore creates a new local object store rooted at dir.
func NewLocalStore(root string) *LocalStore {
	if root == "" {
		root = filepath.Join(os.TempDir(), "hull-sql-objects")
	}
	_ = os.MkdirAll(root, 0o755)
	return &LocalStore{root: root}
}

func (s *LocalStore) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.MkdirAll(s.root, 0o755)
}

func (s *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if bucket == "" {
		return storeError("ensure bucket", CodeBucketNotFound, os.ErrNotExist)
	}
	return os.MkdirAll(s.bucketPath(bucket), 0o755)
}

func (s *LocalStore) PutStream(ctx context.Context, bucket, key string, r io.Reader, contentType string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := s.EnsureBucket(ctx, bucket); err != nil {
		return 0, err
	}

	fullPath := s.objectPath(bucket, key)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return 0, storeError("put", CodePermissionDenied, err)
	}
	// Write to a temp file and rename so readers never see partial objects.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return 0, storeError("put", CodeSinkWriteFailed, err)
	}
	n, copyErr := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		os.Remove(tmp.Name())
		return n, storeError("put", CodeSinkWriteFailed, copyErr)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return n, storeError("put", CodeSinkWriteFailed, err)
	}
	return n, nil
}

// Locate returns a file:// URL; local objects do not expire.
func (s *LocalStore) Locate(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	fullPath := s.objectPath(bucket, key)
	if _, err := os.Stat(fullPath); err != nil {
		return "", storeError("locate", CodePresignFailed, fmt.Errorf("object %s: %w", key, err))
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(fullPath)}
	return u.String(), nil
}

func (s *LocalStore) bucketPath(bucket string) string {
	return filepath.Join(s.root, sanitizePath(bucket))
}

func (s *LocalStore) objectPath(bucket, key string) string {
	return filepath.Join(s.bucketPath(bucket), filepath.FromSlash(key))
}
