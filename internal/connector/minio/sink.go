// Package minio implements the batch sink on an S3-compatible object store,
// with a local-disk store for development.
package minio

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
)

var _ endpoint.Sink = (*Sink)(nil)

// Sink streams batches into an ObjectStore.
type Sink struct {
	config *Config
	store  ObjectStore
}

// New creates a sink from cfg. Local stores are used for file:// endpoints
// and when a root path is set; anything else goes through minio-go.
func New(cfg Config) (*Sink, error) {
	cfg.normalizeDefaults()
	if cfg.IsLocal() {
		return NewWithStore(cfg, NewLocalStore(cfg.objectRoot())), nil
	}
	store, err := NewS3Client(&cfg)
	if err != nil {
		return nil, err
	}
	return NewWithStore(cfg, store), nil
}

// NewWithStore creates a sink over an explicit store.
func NewWithStore(cfg Config, store ObjectStore) *Sink {
	cfg.normalizeDefaults()
	return &Sink{config: &cfg, store: store}
}

// ID returns the sink kind.
func (s *Sink) ID() string {
	if s.config.IsLocal() {
		return "object.local"
	}
	return "object.minio"
}

// Provision checks reachability and creates the bucket if needed.
func (s *Sink) Provision(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	return s.store.EnsureBucket(ctx, s.config.Bucket)
}

// Upload opens a streamed write for one batch. The object is stored while
// the caller writes; closing the writer finishes it and Wait yields the
// presigned locator. Size counts the bytes written by the caller, before
// compression.
func (s *Sink) Upload(ctx context.Context, destinationID string, partNumber int) (*endpoint.Upload, error) {
	if destinationID == "" {
		return nil, endpoint.Errorf(endpoint.KindSink, endpoint.CodeSinkWriteFailed, "destination id is required")
	}

	key := s.config.objectKey(destinationID, partNumber)
	pr, pw := io.Pipe()

	w := &batchWriter{pipe: pw}
	contentType := "application/x-ndjson"
	if s.config.Compress {
		w.gz = gzip.NewWriter(pw)
		contentType = "application/gzip"
	}
	upload := endpoint.NewUpload(w)

	go func() {
		_, err := s.store.PutStream(ctx, s.config.Bucket, key, pr, contentType)
		if err != nil {
			// Unblock a writer still feeding the pipe.
			pr.CloseWithError(err)
			upload.Complete(nil, endpoint.Wrap(endpoint.KindSink, endpoint.CodeSinkWriteFailed, err,
				fmt.Sprintf("upload of part %d failed", partNumber)))
			return
		}
		locator, err := s.store.Locate(ctx, s.config.Bucket, key, s.config.URLExpiry)
		if err != nil {
			upload.Complete(nil, endpoint.Wrap(endpoint.KindSink, endpoint.CodeSinkWriteFailed, err,
				fmt.Sprintf("cannot locate part %d", partNumber)))
			return
		}
		upload.Complete(&endpoint.UploadResult{
			Locator:    locator,
			PartNumber: partNumber,
			Size:       w.written.Load(),
		}, nil)
	}()

	return upload, nil
}

// batchWriter counts payload bytes and optionally gzips them into the pipe.
type batchWriter struct {
	pipe    *io.PipeWriter
	gz      *gzip.Writer
	written atomic.Int64
	closed  bool
}

func (w *batchWriter) Write(p []byte) (int, error) {
	var (
		n   int
		err error
	)
	if w.gz != nil {
		n, err = w.gz.Write(p)
	} else {
		n, err = w.pipe.Write(p)
	}
	w.written.Add(int64(n))
	return n, err
}

func (w *batchWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	var gzErr error
	if w.gz != nil {
		gzErr = w.gz.Close()
	}
	return errors.Join(gzErr, w.pipe.Close())
}

// CloseWithError abandons the upload; the store sees err instead of EOF.
func (w *batchWriter) CloseWithError(err error) error {
	w.closed = true
	return w.pipe.CloseWithError(err)
}
