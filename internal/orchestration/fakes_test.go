package orchestration

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/ingest"
	"github.com/hull-ships/hull-sql-sub000/internal/statestore"
)

// =============================================================================
// MOCK TYPES
// =============================================================================

// fakeSource serves a fixed cursor and records what it was asked to do.
type fakeSource struct {
	columns []string
	rows    []endpoint.Record
	failAt  error // reported by the cursor after rows are exhausted
	openErr error
	result  *endpoint.Result

	opens   int32
	conn    *fakeConn
	wrapped []endpoint.Replacements
}

func (s *fakeSource) ID() string               { return "fake" }
func (s *fakeSource) RequiredFields() []string { return nil }
func (s *fakeSource) GetDescriptor() *endpoint.Descriptor {
	return &endpoint.Descriptor{ID: "fake"}
}

func (s *fakeSource) Open(ctx context.Context, settings endpoint.Settings) (endpoint.Conn, error) {
	atomic.AddInt32(&s.opens, 1)
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.conn = &fakeConn{source: s}
	return s.conn, nil
}

func (s *fakeSource) WrapQuery(raw string, repl endpoint.Replacements) (string, error) {
	s.wrapped = append(s.wrapped, repl)
	return "SELECT * FROM (" + raw + ") AS __qry__", nil
}

func (s *fakeSource) Validate(columns []string, kind endpoint.ImportKind) []string {
	return endpoint.ValidateColumns(columns, kind)
}

type fakeConn struct {
	source  *fakeSource
	closes  int32
	queries []string
	runOpts endpoint.RunOptions
}

func (c *fakeConn) Run(ctx context.Context, query string, opts endpoint.RunOptions) (*endpoint.Result, error) {
	c.queries = append(c.queries, query)
	c.runOpts = opts
	if c.source.result != nil {
		return c.source.result, nil
	}
	rows := c.source.rows
	if opts.Limit > 0 && len(rows) > opts.Limit {
		rows = rows[:opts.Limit]
	}
	return &endpoint.Result{Columns: c.source.columns, Rows: rows}, nil
}

func (c *fakeConn) Stream(ctx context.Context, query string) (endpoint.Cursor, error) {
	c.queries = append(c.queries, query)
	return endpoint.NewSliceCursor(c.source.columns, c.source.rows, c.source.failAt), nil
}

func (c *fakeConn) Close() error {
	atomic.AddInt32(&c.closes, 1)
	return nil
}

// memWriter buffers one batch and completes the upload on Close.
type memWriter struct {
	buf    bytes.Buffer
	onDone func(data []byte)
}

func (w *memWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *memWriter) Close() error {
	go w.onDone(w.buf.Bytes())
	return nil
}

// fakeSink stores batches in memory.
type fakeSink struct {
	mu       sync.Mutex
	objects  map[int]string
	failPart int
	zeroSize bool
	delay    func(part int) time.Duration
}

func newFakeSink() *fakeSink { return &fakeSink{objects: map[int]string{}} }

func (s *fakeSink) ID() string { return "mem" }

func (s *fakeSink) Upload(ctx context.Context, destinationID string, part int) (*endpoint.Upload, error) {
	w := &memWriter{}
	up := endpoint.NewUpload(w)
	w.onDone = func(data []byte) {
		if s.delay != nil {
			time.Sleep(s.delay(part))
		}
		if part == s.failPart {
			up.Complete(nil, endpoint.Wrap(endpoint.KindSink, endpoint.CodeSinkWriteFailed, errors.New("bucket gone"), "store"))
			return
		}
		s.mu.Lock()
		s.objects[part] = string(data)
		s.mu.Unlock()
		size := int64(len(data))
		if s.zeroSize {
			size = 0
		}
		up.Complete(&endpoint.UploadResult{
			Locator:    fmt.Sprintf("mem://%s/part-%d", destinationID, part),
			PartNumber: part,
			Size:       size,
		}, nil)
	}
	return up, nil
}

func (s *fakeSink) parts() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var parts []int
	for p := range s.objects {
		parts = append(parts, p)
	}
	sort.Ints(parts)
	return parts
}

func (s *fakeSink) lines(part int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Count(s.objects[part], "\n")
}

// fakeJobs records created import jobs.
type fakeJobs struct {
	mu   sync.Mutex
	jobs []ingest.ImportJob
	err  error
}

func (j *fakeJobs) CreateImportJob(ctx context.Context, job ingest.ImportJob) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return "", j.err
	}
	j.jobs = append(j.jobs, job)
	return fmt.Sprintf("job-%d", job.PartNumber), nil
}

func (j *fakeJobs) created() []ingest.ImportJob {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]ingest.ImportJob(nil), j.jobs...)
}

// memStore is an in-memory statestore.Store.
type memStore struct {
	mu     sync.Mutex
	states map[string]statestore.State
}

func newMemStore() *memStore { return &memStore{states: map[string]statestore.State{}} }

func (m *memStore) Load(ctx context.Context, id string) (statestore.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id], nil
}

func (m *memStore) Save(ctx context.Context, id string, st statestore.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = st
	return nil
}

func (m *memStore) Close() error { return nil }
