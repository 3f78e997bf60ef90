package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime/bus"
)

// JobNotifier announces job_run lifecycle changes on the bus.
type JobNotifier struct {
	log *logger.Logger
	bus bus.Bus
}

func NewJobNotifier(baseLog *logger.Logger, b bus.Bus) *JobNotifier {
	if b == nil {
		b = bus.Nop{}
	}
	return &JobNotifier{log: baseLog.With("service", "JobNotifier"), bus: b}
}

func (n *JobNotifier) JobProgress(job *types.JobRun, stage string, pct int, msg string) {
	n.emit(realtime.EventJobProgress, job, map[string]any{
		"stage":    stage,
		"progress": pct,
		"message":  msg,
	})
}

func (n *JobNotifier) JobFailed(job *types.JobRun, stage string, msg string) {
	n.emit(realtime.EventJobFailed, job, map[string]any{
		"stage": stage,
		"error": msg,
	})
}

func (n *JobNotifier) JobDone(job *types.JobRun) {
	n.emit(realtime.EventJobDone, job, map[string]any{"result": job.Result})
}

func (n *JobNotifier) emit(typ realtime.EventType, job *types.JobRun, data map[string]any) {
	if job == nil {
		return
	}
	data["job_id"] = job.ID
	data["job_type"] = job.JobType
	data["attempts"] = job.Attempts

	ev, err := realtime.NewEvent(typ, uuid.Nil, uuid.Nil, data)
	if err != nil {
		n.log.Warn("could not encode job event", "job_id", job.ID, "error", err)
		return
	}
	if job.EntityType == "ifc_model" && job.EntityID != nil {
		ev.ModelID = *job.EntityID
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()
	if err := n.bus.Publish(ctx, ev); err != nil {
		n.log.Warn("could not publish job event", "job_id", job.ID, "type", typ, "error", err)
	}
}
