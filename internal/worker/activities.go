package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/orchestration"
)

// Runner is the part of orchestration.Agent the activities drive.
type Runner interface {
	StartSync(ctx context.Context, opts orchestration.SyncOptions) (*orchestration.RunResult, error)
	StartImport(ctx context.Context, opts orchestration.SyncOptions) (*orchestration.RunResult, error)
	RunQuery(ctx context.Context, query string, opts orchestration.PreviewOptions) (*orchestration.PreviewResult, error)
}

// Activities holds the hull-sql Temporal activities.
type Activities struct {
	runner Runner

	heartbeat      func(ctx context.Context, details ...interface{})
	heartbeatEvery time.Duration // zero derives it from the activity heartbeat timeout
}

// NewActivities creates activities backed by runner.
func NewActivities(runner Runner) *Activities {
	return &Activities{runner: runner, heartbeat: activity.RecordHeartbeat}
}

// =============================================================================
// ACTIVITY: Sync
// =============================================================================

// Sync runs one sync or import. Progress checkpoints are reported as
// heartbeats, which keep the run claimed by this worker.
func (a *Activities) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("starting run", "mode", req.Mode, "lastUpdatedAt", req.LastUpdatedAt)

	var processed atomic.Int64
	opts := orchestration.SyncOptions{
		ImportDays: req.ImportDays,
		Extend: func(ctx context.Context, n int64) {
			processed.Store(n)
			a.heartbeat(ctx, n)
		},
	}
	if req.LastUpdatedAt != "" {
		ts, err := time.Parse(time.RFC3339, req.LastUpdatedAt)
		if err != nil {
			return nil, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("invalid lastUpdatedAt %q", req.LastUpdatedAt), string(endpoint.KindConfiguration), err)
		}
		opts.LastUpdatedAt = ts
	}

	// Checkpoints only fire while rows stream; the ticker covers the query
	// start, short runs and the final uploads.
	stop := a.keepAlive(ctx, a.heartbeatInterval(activity.GetInfo(ctx).HeartbeatTimeout, req), &processed)
	defer stop()

	var (
		res *orchestration.RunResult
		err error
	)
	switch req.Mode {
	case "", string(orchestration.ModeSync):
		res, err = a.runner.StartSync(ctx, opts)
	case string(orchestration.ModeImport):
		res, err = a.runner.StartImport(ctx, opts)
	default:
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("unknown mode %q", req.Mode), string(endpoint.KindConfiguration), nil)
	}
	if err != nil {
		logger.Error("run failed", "error", err)
		return nil, classify(err)
	}

	logger.Info("run complete", "records", res.Records, "batches", res.Batches, "jobs", res.Jobs)
	return NewSyncResult(res), nil
}

// heartbeatInterval is a quarter of the activity's heartbeat timeout,
// falling back to the requested one.
func (a *Activities) heartbeatInterval(timeout time.Duration, req SyncRequest) time.Duration {
	if a.heartbeatEvery > 0 {
		return a.heartbeatEvery
	}
	if timeout <= 0 {
		timeout = req.HeartbeatTimeout
	}
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return timeout / 4
}

// keepAlive heartbeats the last checkpoint every interval until the returned
// func is called. No heartbeat is sent after it returns.
func (a *Activities) keepAlive(ctx context.Context, every time.Duration, processed *atomic.Int64) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.heartbeat(ctx, processed.Load())
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

// =============================================================================
// ACTIVITY: Preview
// =============================================================================

// Preview runs a capped preview query. Query failures are reported in the
// result rather than as activity errors.
func (a *Activities) Preview(ctx context.Context, req PreviewRequest) (*orchestration.PreviewResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("previewing query", "limit", req.Limit)

	res, err := a.runner.RunQuery(ctx, req.Query, orchestration.PreviewOptions{
		Limit:   req.Limit,
		Timeout: time.Duration(req.TimeoutMS) * time.Millisecond,
	})
	if err != nil {
		logger.Warn("preview failed", "error", err)
	}
	return res, nil
}

// classify marks errors that a retry cannot fix as non-retryable.
func classify(err error) error {
	kind := endpoint.KindOf(err)
	switch kind {
	case endpoint.KindConfiguration, endpoint.KindQuery, endpoint.KindValidation:
		return temporal.NewNonRetryableApplicationError(err.Error(), string(kind), err)
	case "":
		return err
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), string(kind), err)
}
