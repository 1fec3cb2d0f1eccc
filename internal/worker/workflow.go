package worker

import (
	"context"
	"time"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	sdkworker "go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

const (
	DefaultTaskQueue        = "hull-sql"
	DefaultHeartbeatTimeout = 2 * time.Minute
	syncStartToClose        = 12 * time.Hour
)

// SyncWorkflow runs the Sync activity. The heartbeat timeout doubles as the
// job lock: a worker that stops reporting progress loses the run.
func SyncWorkflow(ctx workflow.Context, req SyncRequest) (*SyncResult, error) {
	heartbeat := req.HeartbeatTimeout
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatTimeout
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: syncStartToClose,
		HeartbeatTimeout:    heartbeat,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 2,
			MaximumAttempts:    3,
		},
	})

	logger := workflow.GetLogger(ctx)
	logger.Info("sync workflow started", "mode", req.Mode)

	var a *Activities
	var res SyncResult
	if err := workflow.ExecuteActivity(ctx, a.Sync, req).Get(ctx, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// New builds a worker on taskQueue with the workflow and activities registered.
func New(c client.Client, taskQueue string, acts *Activities) sdkworker.Worker {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	w := sdkworker.New(c, taskQueue, sdkworker.Options{})
	w.RegisterWorkflow(SyncWorkflow)
	w.RegisterActivity(acts)
	return w
}

// EnsureSchedule creates a schedule starting SyncWorkflow every interval.
// An existing schedule with the same id is left untouched.
func EnsureSchedule(ctx context.Context, c client.Client, id, taskQueue string, every time.Duration, req SyncRequest) error {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	schedules := c.ScheduleClient()
	if _, err := schedules.GetHandle(ctx, id).Describe(ctx); err == nil {
		return nil
	}
	_, err := schedules.Create(ctx, client.ScheduleOptions{
		ID: id,
		Spec: client.ScheduleSpec{
			Intervals: []client.ScheduleIntervalSpec{{Every: every}},
		},
		Action: &client.ScheduleWorkflowAction{
			ID:        id + "-run",
			Workflow:  SyncWorkflow,
			Args:      []any{req},
			TaskQueue: taskQueue,
		},
	})
	return err
}
