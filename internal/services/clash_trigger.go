package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime/bus"
)

const triggerTimeout = 10 * time.Second

// ProjectClashEnqueuer is satisfied by *JobService.
type ProjectClashEnqueuer interface {
	EnqueueProjectClash(ctx context.Context, projectID uuid.UUID) (*types.JobRun, bool, error)
}

// ClashTrigger listens for processed models and queues federated clash
// detection for their project. Enqueue deduplicates per project, so every
// worker may run one.
type ClashTrigger struct {
	log  *logger.Logger
	bus  bus.Bus
	jobs ProjectClashEnqueuer
}

func NewClashTrigger(baseLog *logger.Logger, b bus.Bus, jobs ProjectClashEnqueuer) *ClashTrigger {
	return &ClashTrigger{log: baseLog.With("service", "ClashTrigger"), bus: b, jobs: jobs}
}

// Start subscribes until ctx is done.
func (t *ClashTrigger) Start(ctx context.Context) error {
	return t.bus.Subscribe(ctx, func(ev realtime.Event) { t.handle(ctx, ev) })
}

func (t *ClashTrigger) handle(ctx context.Context, ev realtime.Event) {
	if ev.Type != realtime.EventModelProcessed || ev.ProjectID == uuid.Nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), triggerTimeout)
	defer cancel()
	job, created, err := t.jobs.EnqueueProjectClash(ctx, ev.ProjectID)
	if err != nil {
		t.log.Warn("could not queue inter-model clash detection", "project_id", ev.ProjectID, "error", err)
		return
	}
	t.log.Info("inter-model clash detection queued",
		"project_id", ev.ProjectID, "ifc_model_id", ev.ModelID, "job_id", job.ID, "created", created)
}
