// Package ifcprocess is the job handler that runs the IFC pipeline for one
// uploaded model.
package ifcprocess

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/runtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const (
	JobType    = "ifc_process"
	EntityType = "ifc_model"
)

type Processor interface {
	Process(ctx context.Context, req pipeline.Request) pipeline.Result
}

// Fetcher turns a file reference into a local path. The returned cleanup
// must be called once the file is no longer needed.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) (path string, cleanup func(), err error)
}

type Handler struct {
	log   *logger.Logger
	proc  Processor
	fetch Fetcher
}

// NewHandler builds the handler. fetch may be nil when every file path is
// local.
func NewHandler(baseLog *logger.Logger, proc Processor, fetch Fetcher) *Handler {
	return &Handler{log: baseLog.With("component", "IFCProcessHandler"), proc: proc, fetch: fetch}
}

func (h *Handler) Type() string { return JobType }

func (h *Handler) Run(jc *runtime.Context) error {
	var req pipeline.Request
	if err := jc.DecodePayload(&req); err != nil {
		jc.Fail("validate", fmt.Errorf("decode payload: %w", err))
		return nil
	}
	if err := req.Validate(); err != nil {
		jc.Fail("validate", err)
		return nil
	}
	log := h.log.With("job_id", jc.Job.ID, "ifc_model_id", req.ModelID)

	if h.fetch != nil {
		jc.Progress("fetch", 5, "fetching model file")
		local, cleanup, err := h.fetch.Fetch(jc.Ctx, req.FilePath)
		if err != nil {
			jc.Fail("fetch", err)
			return nil
		}
		defer cleanup()
		req.FilePath = local
	}

	jc.Progress("process", 10, "processing IFC model")
	res := h.proc.Process(jc.Ctx, req)
	if !res.OK() {
		log.Warn("ifc processing job failed", "error_code", res.ErrorCode)
		_ = jc.Update(map[string]any{"result": resultJSON(res)})
		jc.Fail(string(res.ErrorCode), fmt.Errorf("%s", res.Error))
		return nil
	}
	jc.Succeed("completed", res)
	return nil
}

func resultJSON(res pipeline.Result) datatypes.JSON {
	b, _ := json.Marshal(res)
	return datatypes.JSON(b)
}

// NewJob builds a queued job_run for req.
func NewJob(req pipeline.Request) (*types.JobRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	modelID := req.ModelID
	return &types.JobRun{
		JobType:    JobType,
		EntityType: EntityType,
		EntityID:   &modelID,
		Status:     types.StatusQueued,
		Stage:      "queued",
		Payload:    datatypes.JSON(payload),
	}, nil
}

// Enqueue creates a job for req unless one is already queued or running for
// the same model, in which case that job is returned and created is false.
func Enqueue(ctx context.Context, repo repos.JobRunRepo, req pipeline.Request) (job *types.JobRun, created bool, err error) {
	dbc := dbctx.New(ctx)
	busy, err := repo.HasRunnableForEntity(dbc, EntityType, req.ModelID, JobType)
	if err != nil {
		return nil, false, err
	}
	if busy {
		existing, err := repo.GetLatestByEntity(dbc, EntityType, req.ModelID, JobType)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	j, err := NewJob(req)
	if err != nil {
		return nil, false, err
	}
	out, err := repo.Create(dbc, []*types.JobRun{j})
	if err != nil {
		return nil, false, err
	}
	return out[0], true, nil
}
