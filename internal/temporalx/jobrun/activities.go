package jobrun

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	jobrt "github.com/vitruvius-bim/vitruvius-backend/internal/jobs/runtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type Activities struct {
	Log         *logger.Logger
	DB          *gorm.DB
	Jobs        repos.JobRunRepo
	Registry    *jobrt.Registry
	Notify      jobrt.Notifier
	Metrics     *observability.Metrics
	MaxAttempts int
	RetryDelay  time.Duration
}

// Tick runs the job's handler once if the job is runnable and reports the
// resulting state. Terminal jobs are reported without side effects.
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}

	job, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}

	switch job.Status {
	case types.StatusSucceeded, types.StatusCanceled:
		return a.report(res, job), nil
	case types.StatusFailed:
		if wait, ok := a.retryAt(job); !ok || time.Now().Before(wait) {
			return a.report(res, job), nil
		}
	}

	start := time.Now()
	stopHB := a.startHeartbeat(ctx, id)
	defer stopHB()

	ok, err := a.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id, []string{types.StatusSucceeded, types.StatusCanceled}, map[string]interface{}{
		"status":       types.StatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    start,
		"heartbeat_at": start,
	})
	if err != nil {
		return res, err
	}
	if !ok {
		// canceled or finished concurrently
		if job, err = a.loadJob(ctx, id); err != nil {
			return res, err
		}
		return a.report(res, job), nil
	}
	job.Status = types.StatusRunning
	job.Attempts++
	job.LockedAt = &start
	job.HeartbeatAt = &start

	returnedNil := a.run(ctx, job)

	updated, err := a.loadJob(ctx, id)
	if err != nil {
		return res, err
	}
	// a handler that returns nil without finishing the job would leave it running forever
	if returnedNil && updated.Status == types.StatusRunning {
		a.Log.Warn("Job handler returned nil without terminal status; marking succeeded", "job_id", id, "job_type", updated.JobType)
		var result any
		if s := strings.TrimSpace(string(updated.Result)); s != "" && s != "null" {
			result = json.RawMessage(updated.Result)
		}
		jobrt.NewContext(ctx, a.DB, updated, a.Jobs, a.Notify).Succeed("done", result)
	}

	a.Metrics.IncJobRun(updated.JobType, updated.Status)
	a.Metrics.ObserveActivity(ActivityTick, updated.Status, time.Since(start))
	return a.report(res, updated), nil
}

// run dispatches to the registered handler and reports whether it returned nil.
func (a *Activities) run(ctx context.Context, job *types.JobRun) (returnedNil bool) {
	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify)
	h, ok := a.Registry.Get(job.JobType)
	if !ok {
		jc.Fail("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			a.Log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
			jc.Fail("panic", fmt.Errorf("panic: %v", r))
			returnedNil = false
		}
	}()
	if err := h.Run(jc); err != nil {
		jc.Fail("run", err)
		return false
	}
	return true
}

// retryAt reports when a failed job may run again, and whether it may at all.
func (a *Activities) retryAt(job *types.JobRun) (time.Time, bool) {
	if a.MaxAttempts > 0 && job.Attempts >= a.MaxAttempts {
		return time.Time{}, false
	}
	if job.LastErrorAt == nil {
		return time.Time{}, true
	}
	return job.LastErrorAt.Add(a.RetryDelay), true
}

func (a *Activities) report(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Message = job.Message
	if job.Status == types.StatusFailed {
		res.Message = job.Error
		if at, ok := a.retryAt(job); ok {
			res.Retry = true
			if !at.IsZero() {
				res.WaitUntil = &at
			}
		}
	}
	return res
}

func (a *Activities) loadJob(ctx context.Context, id uuid.UUID) (*types.JobRun, error) {
	job, err := a.Jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("jobrun: job %s not found", id)
	}
	return job, nil
}

func (a *Activities) startHeartbeat(ctx context.Context, id uuid.UUID) func() {
	done := make(chan struct{})
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				activity.RecordHeartbeat(ctx)
			case <-dbHB.C:
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, id)
			}
		}
	}()
	return func() { close(done) }
}
