// Package intermodel is the job handler that runs federated clash detection
// across every processed model of a project.
package intermodel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/clash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/ifcprocess"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/runtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const (
	JobType    = "inter_model_clash"
	EntityType = "project"

	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

type Payload struct {
	ProjectID uuid.UUID `json:"project_id"`
}

type Detector interface {
	DetectFederated(ctx context.Context, a, b clash.Source) ([]bim.ConflictCandidate, error)
}

// ConflictWriter is satisfied by *pipeline.GormStore.
type ConflictWriter interface {
	InsertConflict(ctx context.Context, run pipeline.Run, c bim.ConflictCandidate, elementIDs []uuid.UUID) (uuid.UUID, bool, error)
}

type Deps struct {
	Models    repos.IFCModelRepo
	Elements  repos.ElementRepo
	Conflicts ConflictWriter
	Extractor pipeline.Extractor
	Detector  Detector
	// Optional.
	Cache  pipeline.Cache
	Hasher pipeline.Hasher
	Fetch  ifcprocess.Fetcher
}

// Result is stored on the job_run when the handler succeeds.
type Result struct {
	Status          string `json:"status"`
	ProjectID       string `json:"project_id"`
	ModelsProcessed int    `json:"models_processed"`
	PairsChecked    int    `json:"pairs_checked"`
	TotalClashes    int    `json:"total_clashes"`
	NewConflicts    int    `json:"new_conflicts"`
}

type Handler struct {
	log  *logger.Logger
	deps Deps
}

func NewHandler(baseLog *logger.Logger, deps Deps) (*Handler, error) {
	if deps.Models == nil || deps.Elements == nil || deps.Conflicts == nil || deps.Extractor == nil || deps.Detector == nil {
		return nil, fmt.Errorf("intermodel: models, elements, conflicts, extractor and detector are required")
	}
	return &Handler{log: baseLog.With("component", "InterModelClashHandler"), deps: deps}, nil
}

func (h *Handler) Type() string { return JobType }

// loaded is one model ready for comparison.
type loaded struct {
	row   *domain.IFCModel
	hash  string
	model *bim.ExtractedModel
}

func (h *Handler) Run(jc *runtime.Context) error {
	var p Payload
	if err := jc.DecodePayload(&p); err != nil {
		jc.Fail("validate", fmt.Errorf("decode payload: %w", err))
		return nil
	}
	if p.ProjectID == uuid.Nil {
		jc.Fail("validate", apperr.Newf(apperr.InvalidArgument, "intermodel.Run", "project_id is required"))
		return nil
	}
	log := h.log.With("job_id", jc.Job.ID, "project_id", p.ProjectID)
	res := Result{Status: StatusSkipped, ProjectID: p.ProjectID.String()}

	rows, err := h.deps.Models.ListByProject(dbctx.New(jc.Ctx), p.ProjectID, domain.ModelProcessed)
	if err != nil {
		jc.Fail("load", err)
		return nil
	}
	if len(rows) < 2 {
		log.Info("fewer than two processed models; nothing to compare", "models", len(rows))
		jc.Succeed(StatusSkipped, res)
		return nil
	}

	jc.Progress("load", 5, fmt.Sprintf("loading %d models", len(rows)))
	models := make([]loaded, 0, len(rows))
	for _, row := range rows {
		m, cleanup, err := h.load(jc.Ctx, row)
		if cleanup != nil {
			defer cleanup()
		}
		if err != nil {
			if ctxErr := jc.Ctx.Err(); ctxErr != nil {
				jc.Fail("load", apperr.FromContext("intermodel.load", ctxErr))
				return nil
			}
			log.Warn("model skipped", "ifc_model_id", row.ID, "file_path", row.FilePath, "error", err)
			continue
		}
		models = append(models, m)
	}
	res.ModelsProcessed = len(models)
	if len(models) < 2 {
		jc.Succeed(StatusSkipped, res)
		return nil
	}

	pairs := len(models) * (len(models) - 1) / 2
	done := 0
	for i := 0; i < len(models); i++ {
		for j := i + 1; j < len(models); j++ {
			a, b := models[i], models[j]
			if b.hash < a.hash {
				a, b = b, a
			}
			found, created, err := h.comparePair(jc.Ctx, a, b)
			if err != nil {
				jc.Fail("detect", err)
				return nil
			}
			res.TotalClashes += found
			res.NewConflicts += created
			done++
			jc.Progress("detect", 10+done*85/pairs, fmt.Sprintf("compared %d of %d model pairs", done, pairs))
		}
	}
	res.PairsChecked = done
	res.Status = StatusCompleted
	log.Info("inter-model clash detection finished",
		"models", res.ModelsProcessed, "pairs", res.PairsChecked,
		"clashes", res.TotalClashes, "new", res.NewConflicts)
	jc.Succeed(StatusCompleted, res)
	return nil
}

// load materialises one model, preferring the cached extraction keyed by its
// content hash.
func (h *Handler) load(ctx context.Context, row *domain.IFCModel) (loaded, func(), error) {
	out := loaded{row: row, hash: row.ContentHash}
	path := row.FilePath
	var cleanup func()
	if h.deps.Fetch != nil {
		local, done, err := h.deps.Fetch.Fetch(ctx, row.FilePath)
		if err != nil {
			return out, nil, err
		}
		path, cleanup = local, done
	} else if _, err := os.Stat(path); err != nil {
		return out, nil, err
	}

	if out.hash == "" && h.deps.Hasher != nil {
		hash, err := h.deps.Hasher(path)
		if err != nil {
			return out, cleanup, err
		}
		out.hash = hash
	}
	cacheable := out.hash != ""
	if !cacheable {
		// pair keys still need a stable, distinct id
		out.hash = row.ID.String()
	}

	if h.deps.Cache != nil && cacheable {
		var m bim.ExtractedModel
		if err := h.deps.Cache.GetJSON(ctx, out.hash, cache.KindModel, &m); err == nil {
			out.model = &m
			return out, cleanup, nil
		}
	}
	m, err := h.deps.Extractor.Extract(ctx, path)
	if err == nil && m == nil {
		err = apperr.Newf(apperr.ParseFailure, "intermodel.load", "extractor returned no model")
	}
	if err != nil {
		return out, cleanup, err
	}
	out.model = m
	return out, cleanup, nil
}

// comparePair detects and persists clashes between a and b. It returns the
// number of clashes found and how many conflicts were new.
func (h *Handler) comparePair(ctx context.Context, a, b loaded) (int, int, error) {
	key := a.hash + "_" + b.hash
	var conflicts []bim.ConflictCandidate
	hit := false
	if h.deps.Cache != nil {
		err := h.deps.Cache.GetJSON(ctx, key, cache.KindInterModel, &conflicts)
		hit = err == nil
		if err != nil && !errors.Is(err, cache.ErrMiss) {
			h.log.Warn("cache read skipped", "kind", cache.KindInterModel, "error", err)
		}
	}
	if !hit {
		var err error
		conflicts, err = h.deps.Detector.DetectFederated(ctx,
			clash.Source{Name: a.row.Filename, Model: a.model},
			clash.Source{Name: b.row.Filename, Model: b.model},
		)
		if err != nil {
			return 0, 0, err
		}
		if h.deps.Cache != nil {
			if err := h.deps.Cache.PutJSON(ctx, key, cache.KindInterModel, conflicts); err != nil {
				h.log.Warn("cache write skipped", "kind", cache.KindInterModel, "error", err)
			}
		}
	}

	run := pipeline.Run{ProjectID: a.row.ProjectID, ModelID: a.row.ID, ContentHash: a.hash}
	created := 0
	seen := make(map[string]struct{}, len(conflicts))
	for _, c := range conflicts {
		sig := c.Signature()
		if _, dup := seen[sig]; dup {
			continue
		}
		seen[sig] = struct{}{}
		ids, err := h.elementIDs(ctx, a.row.ID, b.row.ID, c.ElementRefs)
		if err != nil {
			return 0, 0, apperr.New(apperr.PersistenceFailure, "intermodel.elements", err)
		}
		_, isNew, err := h.deps.Conflicts.InsertConflict(ctx, run, c, ids)
		if err != nil {
			return 0, 0, apperr.New(apperr.PersistenceFailure, "intermodel.persist", err)
		}
		if isNew {
			created++
		}
	}
	return len(conflicts), created, nil
}

func (h *Handler) elementIDs(ctx context.Context, modelA, modelB uuid.UUID, refs [2]string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, 2)
	for i, modelID := range []uuid.UUID{modelA, modelB} {
		ids, err := h.deps.Elements.IDsByGlobalID(dbctx.New(ctx), modelID, []string{refs[i]})
		if err != nil {
			return nil, err
		}
		if id, ok := ids[refs[i]]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// NewJob builds a queued job_run for projectID.
func NewJob(projectID uuid.UUID) (*types.JobRun, error) {
	if projectID == uuid.Nil {
		return nil, apperr.Newf(apperr.InvalidArgument, "intermodel.NewJob", "project_id is required")
	}
	payload, err := json.Marshal(Payload{ProjectID: projectID})
	if err != nil {
		return nil, err
	}
	return &types.JobRun{
		JobType:    JobType,
		EntityType: EntityType,
		EntityID:   &projectID,
		Status:     types.StatusQueued,
		Stage:      "queued",
		Payload:    datatypes.JSON(payload),
	}, nil
}

// Enqueue creates a job for projectID unless one is already queued or
// running for the project, in which case that job is returned and created
// is false.
func Enqueue(ctx context.Context, repo repos.JobRunRepo, projectID uuid.UUID) (job *types.JobRun, created bool, err error) {
	dbc := dbctx.New(ctx)
	busy, err := repo.HasRunnableForEntity(dbc, EntityType, projectID, JobType)
	if err != nil {
		return nil, false, err
	}
	if busy {
		existing, err := repo.GetLatestByEntity(dbc, EntityType, projectID, JobType)
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}
	j, err := NewJob(projectID)
	if err != nil {
		return nil, false, err
	}
	out, err := repo.Create(dbc, []*types.JobRun{j})
	if err != nil {
		return nil, false, err
	}
	return out[0], true, nil
}
