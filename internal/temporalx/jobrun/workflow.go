package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/workflow"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
)

const (
	defaultActivityTimeout = 2 * time.Hour
	defaultPollInterval    = 2 * time.Second
	maxWait                = 15 * time.Minute
	continueTickLimit      = 500
	continueHistoryLimit   = 10000
)

// Workflow drives one job_run to a terminal status by ticking the activity.
// The job_run row is the source of truth; the workflow only schedules.
func Workflow(ctx workflow.Context, in Input) error {
	jobID := strings.TrimSpace(in.JobID)
	if jobID == "" {
		jobID = workflow.GetInfo(ctx).WorkflowExecution.ID
	}
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}
	timeout := in.ActivityTimeout
	if timeout <= 0 {
		timeout = defaultActivityTimeout
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		HeartbeatTimeout:    30 * time.Second,
		// retries are decided by the job's attempt budget, not by Temporal
		RetryPolicy: nil,
	})

	for tick := 1; ; tick++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case types.StatusSucceeded, types.StatusCanceled:
			return nil
		case types.StatusFailed:
			if !out.Retry {
				return fmt.Errorf("job failed (stage=%s): %s", out.Stage, out.Message)
			}
		}

		if d := nextWait(ctx, out.WaitUntil); d > 0 {
			if err := workflow.Sleep(ctx, d); err != nil {
				return err
			}
		}
		if shouldContinueAsNew(ctx, tick) {
			return workflow.NewContinueAsNewError(ctx, Workflow, Input{JobID: jobID, ActivityTimeout: timeout})
		}
	}
}

func nextWait(ctx workflow.Context, waitUntil *time.Time) time.Duration {
	if waitUntil == nil || waitUntil.IsZero() {
		return defaultPollInterval
	}
	d := waitUntil.Sub(workflow.Now(ctx))
	switch {
	case d <= 0:
		return defaultPollInterval
	case d > maxWait:
		return maxWait
	default:
		return d
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks int) bool {
	if ticks >= continueTickLimit {
		return true
	}
	return workflow.GetInfo(ctx).GetCurrentHistoryLength() >= continueHistoryLimit
}
