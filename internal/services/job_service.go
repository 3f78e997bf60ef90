package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/ifcprocess"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/intermodel"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/temporalx/jobrun"
)

// JobService records IFC processing jobs and, when Temporal is configured,
// starts their workflows. Without Temporal the database worker picks the
// queued rows up.
type JobService struct {
	log             *logger.Logger
	repo            repos.JobRunRepo
	temporal        temporalsdkclient.Client
	taskQueue       string
	activityTimeout time.Duration
}

// NewJobService builds the service. tc may be nil.
func NewJobService(baseLog *logger.Logger, repo repos.JobRunRepo, tc temporalsdkclient.Client, taskQueue string, activityTimeout time.Duration) *JobService {
	return &JobService{
		log:             baseLog.With("service", "JobService"),
		repo:            repo,
		temporal:        tc,
		taskQueue:       taskQueue,
		activityTimeout: activityTimeout,
	}
}

// EnqueueModel creates (or reuses) the job for req and dispatches it.
func (s *JobService) EnqueueModel(ctx context.Context, req pipeline.Request) (*types.JobRun, bool, error) {
	job, created, err := ifcprocess.Enqueue(ctx, s.repo, req)
	if err != nil {
		return nil, false, err
	}
	return s.dispatchQueued(ctx, job, created)
}

// EnqueueProjectClash queues federated clash detection across the project's
// processed models.
func (s *JobService) EnqueueProjectClash(ctx context.Context, projectID uuid.UUID) (*types.JobRun, bool, error) {
	job, created, err := intermodel.Enqueue(ctx, s.repo, projectID)
	if err != nil {
		return nil, false, err
	}
	return s.dispatchQueued(ctx, job, created)
}

func (s *JobService) dispatchQueued(ctx context.Context, job *types.JobRun, created bool) (*types.JobRun, bool, error) {
	if s.temporal == nil {
		s.log.Info("job queued for database worker", "job_id", job.ID, "created", created)
		return job, created, nil
	}
	if err := s.Dispatch(ctx, job); err != nil {
		return job, created, err
	}
	return job, created, nil
}

// Dispatch starts the job's workflow. A job whose workflow is already
// running is left alone. When the start fails the job is marked failed so
// it does not sit queued with nothing to run it.
func (s *JobService) Dispatch(ctx context.Context, job *types.JobRun) error {
	if s.temporal == nil {
		return fmt.Errorf("temporal not configured")
	}
	_, err := jobrun.Start(ctx, s.temporal, s.taskQueue, jobrun.Input{JobID: job.ID.String(), ActivityTimeout: s.activityTimeout})
	if err == nil {
		s.log.Info("job workflow started", "job_id", job.ID, "task_queue", s.taskQueue)
		return nil
	}
	var started *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &started) {
		return nil
	}

	now := time.Now()
	_ = s.repo.UpdateFields(dbctx.New(context.WithoutCancel(ctx)), job.ID, map[string]interface{}{
		"status":        types.StatusFailed,
		"stage":         "dispatch",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
	})
	return fmt.Errorf("start temporal workflow: %w", err)
}

// Status loads the given jobs. Unknown ids are left out of the result.
func (s *JobService) Status(ctx context.Context, ids ...uuid.UUID) ([]*types.JobRun, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return s.repo.GetByIDs(dbctx.New(ctx), ids)
}
