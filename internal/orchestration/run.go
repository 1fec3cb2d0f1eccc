package orchestration

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/ingest"
	"github.com/hull-ships/hull-sql-sub000/internal/transform"
)

// RunResult summarizes a finished or abandoned run.
type RunResult struct {
	Mode          Mode
	ImportID      string
	StartedAt     time.Time
	Records       int64
	Batches       int
	Jobs          int
	LastJobID     string
	LastUpdatedAt time.Time
	FailedBatches []int
}

// batch is a sealed group of NDJSON-encoded records.
type batch struct {
	part  int
	count int
	buf   bytes.Buffer
}

// run is the state of one sync or import. The stream side is driven by a
// single goroutine; counters touched by upload workers are guarded by mu.
type run struct {
	agent     *Agent
	mode      Mode
	importID  string
	startedAt time.Time
	extend    LockExtender
	logger    *zap.Logger

	transformer *transform.Transformer
	parts       int
	sealed      int

	// failed is set once the stream breaks; queued batches are then dropped
	// and finished uploads are not announced.
	failed atomic.Bool

	mu        sync.Mutex
	jobs      int
	lastJobID string
	failures  map[int]error
}

func newRun(a *Agent, mode Mode, extend LockExtender) *run {
	id := a.newImportID()
	return &run{
		agent:       a,
		mode:        mode,
		importID:    id,
		startedAt:   a.now(),
		extend:      extend,
		logger:      a.logger.With(zap.String("import_id", id), zap.String("mode", string(mode))),
		transformer: transform.New(a.opts.ImportType),
		failures:    map[int]error{},
	}
}

func (r *run) execute(ctx context.Context, repl endpoint.Replacements) error {
	a := r.agent

	prepared, err := a.prepare(a.opts.Query, repl)
	if err != nil {
		return err
	}

	conn, release, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer release()

	cursor, err := conn.Stream(ctx, prepared)
	if err != nil {
		r.logger.Error(EventQueryError, zap.Error(err))
		return err
	}
	var closeCursor sync.Once
	defer closeCursor.Do(func() { cursor.Close() })

	if errs := a.source.Validate(cursor.Columns(), a.opts.ImportType); len(errs) > 0 {
		r.logger.Warn(EventInvalidResult, zap.Strings("errors", errs))
		return endpoint.ValidationFailure(errs)
	}

	queue := make(chan *batch, a.opts.QueueSize)
	var workers errgroup.Group
	for i := 0; i < a.opts.UploadConcurrency; i++ {
		workers.Go(func() error {
			for b := range queue {
				r.process(ctx, b)
			}
			return nil
		})
	}

	streamErr := r.stream(ctx, cursor, queue)
	if streamErr != nil {
		r.failed.Store(true)
		closeCursor.Do(func() { cursor.Close() })
		release()
	}
	close(queue)
	workers.Wait()

	if streamErr != nil {
		r.logger.Error(EventStreamError, zap.Int64("records", r.transformer.Count()), zap.Error(streamErr))
		return streamErr
	}
	if a.opts.SinkFailurePolicy == PolicyFailRun {
		return r.joinedFailures()
	}
	return nil
}

// stream transforms every row into the active batch and seals full batches
// onto queue in part-number order.
func (r *run) stream(ctx context.Context, cursor endpoint.Cursor, queue chan<- *batch) error {
	a := r.agent
	current := r.nextBatch()
	enc := json.NewEncoder(&current.buf)

	for cursor.Next() {
		rec := r.transformer.Transform(cursor.Value())
		a.metrics.recordProcessed()

		if err := enc.Encode(rec); err != nil {
			r.logger.Warn(EventRecordSkipped, zap.String("identity", rec.Identity()), zap.Error(err))
		} else {
			current.count++
		}

		processed := r.transformer.Count()
		if processed%int64(a.opts.ProgressInterval) == 0 {
			r.progress(ctx, processed)
		}

		if current.count >= a.opts.BatchSize {
			r.seal(current, queue)
			current = r.nextBatch()
			enc = json.NewEncoder(&current.buf)
		}
	}
	if err := cursor.Err(); err != nil {
		return err
	}
	if current.count > 0 {
		r.seal(current, queue)
	}
	return nil
}

// destination scopes every object of the run under its import id, so a later
// run never rewrites objects that earlier import jobs still point to.
func (r *run) destination() string {
	return r.agent.opts.ConnectorID + "/" + r.importID
}

func (r *run) nextBatch() *batch {
	r.parts++
	return &batch{part: r.parts}
}

func (r *run) seal(b *batch, queue chan<- *batch) {
	r.sealed++
	r.agent.metrics.batch("sealed")
	r.logger.Debug(EventBatchSealed, zap.Int("part_number", b.part), zap.Int("records", b.count))
	queue <- b
}

func (r *run) progress(ctx context.Context, processed int64) {
	r.logger.Info(EventJobProgress, zap.Int64("records", processed))
	if r.extend != nil {
		r.extend(ctx, processed)
	}
}

// process uploads one batch and announces it. Failures are recorded per batch.
func (r *run) process(ctx context.Context, b *batch) {
	a := r.agent
	logger := r.logger.With(zap.Int("part_number", b.part))

	if r.failed.Load() {
		a.metrics.batch("dropped")
		logger.Warn(EventBatchDropped, zap.Int("records", b.count))
		return
	}

	started := time.Now()
	res, err := r.upload(ctx, b)
	if err != nil {
		a.metrics.batch("failed")
		logger.Error(EventBatchUploadError, zap.Error(err))
		r.recordFailure(b.part, err)
		return
	}
	a.metrics.uploadSeconds(time.Since(started).Seconds())
	a.metrics.batch("uploaded")
	logger = logger.With(zap.Int64("size", res.Size))
	logger.Info(EventBatchUploaded, zap.String("url", res.Locator))

	if res.Size == 0 {
		a.metrics.batch("empty")
		logger.Info(EventBatchEmpty)
		return
	}
	if r.failed.Load() {
		logger.Warn(EventBatchDropped, zap.String("reason", "run failed before notify"))
		return
	}

	job := ingest.NewImportJob(
		res.Locator,
		fmt.Sprintf("Import from hull-sql %s", a.opts.ConnectorName),
		r.importID,
		string(a.opts.ImportType),
		res.PartNumber,
		res.Size,
		a.opts.Overwrite,
		a.now(),
	)
	jobID, err := a.jobs.CreateImportJob(ctx, job)
	if err != nil {
		logger.Error(EventBatchNotifyError, zap.Error(err))
		r.recordFailure(b.part, err)
		return
	}
	a.metrics.jobCreated()
	logger.Info(EventBatchNotified, zap.String("job_id", jobID))

	r.mu.Lock()
	r.jobs++
	r.lastJobID = jobID
	r.mu.Unlock()
}

func (r *run) upload(ctx context.Context, b *batch) (*endpoint.UploadResult, error) {
	up, err := r.agent.sink.Upload(ctx, r.destination(), b.part)
	if err != nil {
		return nil, err
	}
	if _, err := up.Writer.Write(b.buf.Bytes()); err != nil {
		if ce, ok := up.Writer.(interface{ CloseWithError(error) error }); ok {
			ce.CloseWithError(err)
		} else {
			up.Writer.Close()
		}
		if _, waitErr := up.Wait(ctx); waitErr != nil {
			return nil, waitErr
		}
		return nil, endpoint.Wrap(endpoint.KindSink, endpoint.CodeSinkWriteFailed, err, "write batch")
	}
	if err := up.Writer.Close(); err != nil {
		if _, waitErr := up.Wait(ctx); waitErr != nil {
			return nil, waitErr
		}
		return nil, endpoint.Wrap(endpoint.KindSink, endpoint.CodeSinkWriteFailed, err, "close batch")
	}
	return up.Wait(ctx)
}

func (r *run) recordFailure(part int, err error) {
	r.mu.Lock()
	r.failures[part] = err
	r.mu.Unlock()
}

func (r *run) joinedFailures() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.failures))
	for part := 1; part <= r.parts; part++ {
		if err, ok := r.failures[part]; ok {
			errs = append(errs, fmt.Errorf("part %d: %w", part, err))
		}
	}
	return errors.Join(errs...)
}

func (r *run) result() *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	res := &RunResult{
		Mode:      r.mode,
		ImportID:  r.importID,
		StartedAt: r.startedAt,
		Records:   r.transformer.Count(),
		Batches:   r.sealed,
		Jobs:      r.jobs,
		LastJobID: r.lastJobID,
	}
	for part := 1; part <= r.parts; part++ {
		if _, ok := r.failures[part]; ok {
			res.FailedBatches = append(res.FailedBatches, part)
		}
	}
	if maxTS, ok := r.transformer.MaxUpdatedAt(); ok {
		res.LastUpdatedAt = maxTS.UTC()
	} else {
		res.LastUpdatedAt = r.startedAt
	}
	return res
}
