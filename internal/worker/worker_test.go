package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/hull-ships/hull-sql-sub000/internal/endpoint"
	"github.com/hull-ships/hull-sql-sub000/internal/orchestration"
)

// =============================================================================
// MOCK TYPES
// =============================================================================

type fakeRunner struct {
	err      error
	calls    int32
	lastMode orchestration.Mode
	lastOpts orchestration.SyncOptions
	preview  *orchestration.PreviewResult
	block    time.Duration
}

func (f *fakeRunner) run(ctx context.Context, mode orchestration.Mode, opts orchestration.SyncOptions) (*orchestration.RunResult, error) {
	atomic.AddInt32(&f.calls, 1)
	f.lastMode = mode
	f.lastOpts = opts
	time.Sleep(f.block)
	if opts.Extend != nil {
		opts.Extend(ctx, 1000)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &orchestration.RunResult{
		Mode:          mode,
		ImportID:      "imp-1",
		Records:       3,
		Batches:       2,
		Jobs:          2,
		LastJobID:     "job-2",
		LastUpdatedAt: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (f *fakeRunner) StartSync(ctx context.Context, opts orchestration.SyncOptions) (*orchestration.RunResult, error) {
	return f.run(ctx, orchestration.ModeSync, opts)
}

func (f *fakeRunner) StartImport(ctx context.Context, opts orchestration.SyncOptions) (*orchestration.RunResult, error) {
	return f.run(ctx, orchestration.ModeImport, opts)
}

func (f *fakeRunner) RunQuery(ctx context.Context, query string, opts orchestration.PreviewOptions) (*orchestration.PreviewResult, error) {
	if f.err != nil {
		return &orchestration.PreviewResult{Status: "error", Message: f.err.Error()}, f.err
	}
	return f.preview, nil
}

// =============================================================================
// ACTIVITY TESTS
// =============================================================================

func TestSyncActivity(t *testing.T) {
	t.Run("runs an import with parsed options", func(t *testing.T) {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestActivityEnvironment()
		runner := &fakeRunner{}
		acts := NewActivities(runner)
		env.RegisterActivity(acts)

		val, err := env.ExecuteActivity(acts.Sync, SyncRequest{Mode: "import", ImportDays: 3, LastUpdatedAt: "2024-01-01T00:00:00Z"})
		if err != nil {
			t.Fatalf("activity: %v", err)
		}
		var res SyncResult
		if err := val.Get(&res); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if res.ImportID != "imp-1" || res.Jobs != 2 || res.LastUpdatedAt != "2024-02-01T00:00:00Z" {
			t.Errorf("unexpected result %+v", res)
		}
		if runner.lastMode != orchestration.ModeImport || runner.lastOpts.ImportDays != 3 {
			t.Errorf("unexpected call mode=%s opts=%+v", runner.lastMode, runner.lastOpts)
		}
		if !runner.lastOpts.LastUpdatedAt.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
			t.Errorf("lastUpdatedAt not parsed: %s", runner.lastOpts.LastUpdatedAt)
		}
	})

	t.Run("rejects a bad timestamp without retry", func(t *testing.T) {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestActivityEnvironment()
		acts := NewActivities(&fakeRunner{})
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.Sync, SyncRequest{LastUpdatedAt: "yesterday"})
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) || !appErr.NonRetryable() {
			t.Fatalf("expected non-retryable error, got %v", err)
		}
	})

	t.Run("validation errors are not retried", func(t *testing.T) {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestActivityEnvironment()
		acts := NewActivities(&fakeRunner{err: endpoint.Errorf(endpoint.KindValidation, endpoint.CodeInvalidColumns, "missing email")})
		env.RegisterActivity(acts)

		_, err := env.ExecuteActivity(acts.Sync, SyncRequest{})
		var appErr *temporal.ApplicationError
		if !errors.As(err, &appErr) || !appErr.NonRetryable() || appErr.Type() != string(endpoint.KindValidation) {
			t.Fatalf("expected non-retryable ValidationError, got %v", err)
		}
	})
}

func TestSyncActivityHeartbeatsWhileBlocked(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	acts := NewActivities(&fakeRunner{block: 250 * time.Millisecond})
	acts.heartbeatEvery = 20 * time.Millisecond

	var beats atomic.Int32
	acts.heartbeat = func(ctx context.Context, details ...interface{}) {
		beats.Add(1)
	}
	env.RegisterActivity(acts)

	if _, err := env.ExecuteActivity(acts.Sync, SyncRequest{}); err != nil {
		t.Fatalf("activity: %v", err)
	}
	// The runner sends one checkpoint itself; the rest come from the ticker.
	n := beats.Load()
	if n < 4 {
		t.Errorf("expected periodic heartbeats while the run was blocked, got %d", n)
	}
	time.Sleep(60 * time.Millisecond)
	if after := beats.Load(); after != n {
		t.Errorf("heartbeats continued after the activity returned: %d -> %d", n, after)
	}
}

func TestHeartbeatInterval(t *testing.T) {
	acts := NewActivities(&fakeRunner{})
	if got := acts.heartbeatInterval(40*time.Second, SyncRequest{HeartbeatTimeout: time.Hour}); got != 10*time.Second {
		t.Errorf("expected a quarter of the activity timeout, got %s", got)
	}
	if got := acts.heartbeatInterval(0, SyncRequest{HeartbeatTimeout: 8 * time.Second}); got != 2*time.Second {
		t.Errorf("expected a quarter of the requested timeout, got %s", got)
	}
	if got := acts.heartbeatInterval(0, SyncRequest{}); got != DefaultHeartbeatTimeout/4 {
		t.Errorf("expected default interval, got %s", got)
	}
	acts.heartbeatEvery = time.Second
	if got := acts.heartbeatInterval(40*time.Second, SyncRequest{}); got != time.Second {
		t.Errorf("expected explicit interval, got %s", got)
	}
}

func TestPreviewActivity(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	acts := NewActivities(&fakeRunner{err: errors.New("syntax error at or near FORM")})
	env.RegisterActivity(acts)

	val, err := env.ExecuteActivity(acts.Preview, PreviewRequest{Query: "SELECT * FORM t"})
	if err != nil {
		t.Fatalf("preview errors belong in the result: %v", err)
	}
	var res orchestration.PreviewResult
	if err := val.Get(&res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Status != "error" || res.Message == "" {
		t.Errorf("unexpected preview %+v", res)
	}
}

// =============================================================================
// WORKFLOW TESTS
// =============================================================================

func TestSyncWorkflow(t *testing.T) {
	t.Run("completes with the activity result", func(t *testing.T) {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestWorkflowEnvironment()
		runner := &fakeRunner{}
		env.RegisterActivity(NewActivities(runner))

		env.ExecuteWorkflow(SyncWorkflow, SyncRequest{})
		if !env.IsWorkflowCompleted() {
			t.Fatal("workflow did not complete")
		}
		if err := env.GetWorkflowError(); err != nil {
			t.Fatalf("workflow: %v", err)
		}
		var res SyncResult
		if err := env.GetWorkflowResult(&res); err != nil {
			t.Fatalf("result: %v", err)
		}
		if res.Batches != 2 || runner.lastMode != orchestration.ModeSync {
			t.Errorf("unexpected result %+v", res)
		}
	})

	t.Run("retries connection errors", func(t *testing.T) {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestWorkflowEnvironment()
		runner := &fakeRunner{err: endpoint.Errorf(endpoint.KindConnection, endpoint.CodeConnectFailed, "refused")}
		env.RegisterActivity(NewActivities(runner))

		env.ExecuteWorkflow(SyncWorkflow, SyncRequest{})
		if env.GetWorkflowError() == nil {
			t.Fatal("expected workflow failure")
		}
		if n := atomic.LoadInt32(&runner.calls); n != 3 {
			t.Errorf("expected 3 attempts, got %d", n)
		}
	})

	t.Run("does not retry configuration errors", func(t *testing.T) {
		var suite testsuite.WorkflowTestSuite
		env := suite.NewTestWorkflowEnvironment()
		runner := &fakeRunner{err: endpoint.Errorf(endpoint.KindConfiguration, endpoint.CodeMissingSettings, "missing host")}
		env.RegisterActivity(NewActivities(runner))

		env.ExecuteWorkflow(SyncWorkflow, SyncRequest{})
		if env.GetWorkflowError() == nil {
			t.Fatal("expected workflow failure")
		}
		if n := atomic.LoadInt32(&runner.calls); n != 1 {
			t.Errorf("expected a single attempt, got %d", n)
		}
	})
}
