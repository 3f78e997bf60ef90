// Package pipeline runs one IFC model through extraction, clash detection,
// solution generation and persistence.
//
// Every step is looked up in the result cache by file content hash before it
// is recomputed, and every write is idempotent, so a run can be repeated at
// any time. Failures never escape Process: they become a failed Result and a
// failed model status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type Extractor interface {
	Extract(ctx context.Context, path string) (*bim.ExtractedModel, error)
}

type Detector interface {
	Detect(ctx context.Context, model *bim.ExtractedModel) ([]bim.ConflictCandidate, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, conflicts []bim.ConflictCandidate) (bim.Analysis, error)
}

// Cache is the subset of *cache.ResultCache the pipeline needs. GetJSON
// returns cache.ErrMiss or a cache_unavailable error on anything but a hit.
type Cache interface {
	GetJSON(ctx context.Context, contentHash string, kind cache.ArtifactKind, dst any) error
	PutJSON(ctx context.Context, contentHash string, kind cache.ArtifactKind, v any) error
}

type statsCache interface {
	Stats(ctx context.Context) (cache.Stats, error)
}

// Hasher returns the content hash of the file at path.
type Hasher func(path string) (string, error)

// Run identifies the model being processed; persisted rows carry it as
// provenance.
type Run struct {
	ProjectID   uuid.UUID
	ModelID     uuid.UUID
	ContentHash string
}

// Store is the durable side of the pipeline. Every insert is idempotent.
type Store interface {
	UpdateModelStatus(ctx context.Context, modelID uuid.UUID, status domain.ModelStatus, errMsg string) error
	SetContentHash(ctx context.Context, modelID uuid.UUID, hash string) error
	UpsertElements(ctx context.Context, run Run, elements []bim.ExtractedElement) (map[string]uuid.UUID, error)
	// InsertConflict returns the id of the stored conflict for c's pair
	// signature and whether this call created it.
	InsertConflict(ctx context.Context, run Run, c bim.ConflictCandidate, elementIDs []uuid.UUID) (uuid.UUID, bool, error)
	InsertSolution(ctx context.Context, run Run, conflictID uuid.UUID, rank int, s bim.SolutionCandidate) (bool, error)
	RetireStaleConflicts(ctx context.Context, run Run, keep []string) (int64, error)
}

// Notifier receives fire-and-forget outcome events. Implementations log
// their own errors.
type Notifier interface {
	Processed(ctx context.Context, req Request, res Result)
	Failed(ctx context.Context, req Request, res Result)
}

type Deps struct {
	Extractor Extractor
	Detector  Detector
	Analyzer  Analyzer
	Store     Store
	// Optional.
	Cache    Cache
	Hasher   Hasher
	Notifier Notifier
	Metrics  *observability.Metrics
}

type Options struct {
	RetireStaleConflicts bool
}

type Orchestrator struct {
	log     *logger.Logger
	deps    Deps
	opts    Options
	tracer  trace.Tracer
	metrics *observability.Metrics
}

func New(baseLog *logger.Logger, deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Extractor == nil || deps.Detector == nil || deps.Analyzer == nil || deps.Store == nil {
		return nil, fmt.Errorf("pipeline: extractor, detector, analyzer and store are required")
	}
	return &Orchestrator{
		log:     baseLog.With("component", "PipelineOrchestrator"),
		deps:    deps,
		opts:    opts,
		tracer:  observability.Tracer(),
		metrics: deps.Metrics,
	}, nil
}

type Request struct {
	ProjectID uuid.UUID `json:"project_id"`
	ModelID   uuid.UUID `json:"ifc_model_id"`
	FilePath  string    `json:"file_path"`
}

func (r Request) Validate() error {
	switch {
	case r.ProjectID == uuid.Nil:
		return apperr.Newf(apperr.InvalidArgument, "pipeline.Request", "project_id is required")
	case r.ModelID == uuid.Nil:
		return apperr.Newf(apperr.InvalidArgument, "pipeline.Request", "ifc_model_id is required")
	case r.FilePath == "":
		return apperr.Newf(apperr.InvalidArgument, "pipeline.Request", "file_path is required")
	}
	return nil
}

// run carries per-call state through the steps.
type run struct {
	Run
	req      Request
	log      *logger.Logger
	res      *Result
	cacheOK  bool
	model    *bim.ExtractedModel
	elements map[string]uuid.UUID
	conflict []bim.ConflictCandidate
	// pair signature -> persisted conflict id
	conflictIDs map[string]uuid.UUID
	analysis    bim.Analysis
}

// Process runs the whole pipeline for req. It always returns a Result.
func (o *Orchestrator) Process(ctx context.Context, req Request) (res Result) {
	start := time.Now()
	res = Result{Status: StatusCompleted, ProjectID: req.ProjectID.String(), ModelID: req.ModelID.String()}
	log := o.log.With("project_id", req.ProjectID, "ifc_model_id", req.ModelID, "file_path", req.FilePath)

	ctx, span := o.tracer.Start(ctx, "pipeline.Process", trace.WithAttributes(
		attribute.String("project_id", res.ProjectID),
		attribute.String("ifc_model_id", res.ModelID),
	))
	defer span.End()

	defer func() {
		if p := recover(); p != nil {
			log.Error("pipeline panic", "panic", p, "stack", string(debug.Stack()))
			res = o.fail(ctx, req, res, log, apperr.Newf(apperr.Internal, "pipeline.Process", "panic: %v", p))
		}
		if res.Status == StatusFailed {
			span.SetStatus(codes.Error, res.Error)
		}
		span.SetAttributes(
			attribute.Int("conflicts_detected", res.ConflictsDetected),
			attribute.Int("solutions_generated", res.SolutionsGenerated),
			attribute.Bool("cache_used", res.CacheUsed),
		)
		o.metrics.ObservePipeline(string(res.Status), time.Since(start))
	}()

	if err := req.Validate(); err != nil {
		return o.fail(ctx, req, res, log, err)
	}

	r := &run{
		Run: Run{ProjectID: req.ProjectID, ModelID: req.ModelID},
		req: req,
		log: log,
		res: &res,
	}
	if err := o.execute(ctx, r); err != nil {
		return o.fail(ctx, req, res, log, err)
	}

	log.Info("IFC processing completed",
		"conflicts", res.ConflictsDetected,
		"solutions", res.SolutionsGenerated,
		"cache_hits", res.CacheHits,
		"duration", time.Since(start),
	)
	o.logCacheStats(ctx, r)
	if o.deps.Notifier != nil {
		o.deps.Notifier.Processed(ctx, req, res)
	}
	return res
}

func (o *Orchestrator) execute(ctx context.Context, r *run) error {
	if err := o.deps.Store.UpdateModelStatus(ctx, r.ModelID, domain.ModelProcessing, ""); err != nil {
		return persistenceErr("mark processing", err)
	}

	o.hash(ctx, r)

	steps := []struct {
		name string
		fn   func(context.Context, *run) error
	}{
		{"extract", o.stepModel},
		{"persist_elements", o.stepElements},
		{"detect", o.stepConflicts},
		{"persist_conflicts", o.stepPersistConflicts},
		{"analyze", o.stepAnalysis},
		{"persist_solutions", o.stepPersistSolutions},
		{"metadata", o.stepMetadata},
	}
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return apperr.FromContext("pipeline."+s.name, err)
		}
		if err := s.fn(ctx, r); err != nil {
			return err
		}
	}

	if err := o.deps.Store.UpdateModelStatus(ctx, r.ModelID, domain.ModelProcessed, ""); err != nil {
		return persistenceErr("mark processed", err)
	}
	r.res.ConflictsDetected = len(r.conflict)
	r.res.SolutionsGenerated = r.analysis.SolutionCount()
	r.res.CacheUsed = r.ContentHash != "" && r.cacheOK
	return nil
}

// hash is best effort: without a hash the run proceeds uncached.
func (o *Orchestrator) hash(ctx context.Context, r *run) {
	if o.deps.Hasher == nil || o.deps.Cache == nil {
		return
	}
	sum, err := o.deps.Hasher(r.req.FilePath)
	if err != nil {
		r.log.Warn("could not hash file, proceeding without cache", "error", err)
		return
	}
	r.ContentHash = sum
	r.cacheOK = true
	r.res.FileHash = sum
	r.log = r.log.With("file_hash", sum)
	if err := o.deps.Store.SetContentHash(ctx, r.ModelID, sum); err != nil {
		r.log.Warn("could not record content hash", "error", err)
	}
}

// cached loads kind into dst. It reports a hit; misses and cache outages
// both fall through to recomputation.
func (o *Orchestrator) cached(ctx context.Context, r *run, kind cache.ArtifactKind, dst any) bool {
	if r.ContentHash == "" {
		return false
	}
	err := o.deps.Cache.GetJSON(ctx, r.ContentHash, kind, dst)
	switch {
	case err == nil:
		r.res.CacheHits = append(r.res.CacheHits, kind)
		r.log.Debug("cache hit", "kind", kind)
		return true
	case errors.Is(err, cache.ErrMiss):
		return false
	default:
		r.cacheOK = false
		return false
	}
}

func (o *Orchestrator) store(ctx context.Context, r *run, kind cache.ArtifactKind, v any) {
	if r.ContentHash == "" {
		return
	}
	if err := o.deps.Cache.PutJSON(ctx, r.ContentHash, kind, v); err != nil {
		if apperr.Is(err, apperr.CacheUnavailable) {
			r.cacheOK = false
		}
		r.log.Warn("cache write skipped", "kind", kind, "error", err)
	}
}

func (o *Orchestrator) stage(ctx context.Context, name string, fromCache bool, start time.Time) {
	o.metrics.ObserveStage(name, fromCache, time.Since(start))
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attribute.Bool("from_cache", fromCache)))
}

func (o *Orchestrator) stepModel(ctx context.Context, r *run) error {
	start := time.Now()
	var model bim.ExtractedModel
	if o.cached(ctx, r, cache.KindModel, &model) {
		r.model = &model
		o.stage(ctx, "extract", true, start)
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "pipeline.extract")
	defer span.End()
	m, err := o.deps.Extractor.Extract(ctx, r.req.FilePath)
	if err == nil && m == nil {
		err = apperr.Newf(apperr.ParseFailure, "pipeline.extract", "extractor returned no model")
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	r.model = m
	o.stage(ctx, "extract", false, start)
	o.store(ctx, r, cache.KindModel, m)
	return nil
}

func (o *Orchestrator) stepElements(ctx context.Context, r *run) error {
	ids, err := o.deps.Store.UpsertElements(ctx, r.Run, r.model.Elements)
	if err != nil {
		return persistenceErr("persist elements", err)
	}
	r.elements = ids
	return nil
}

func (o *Orchestrator) stepConflicts(ctx context.Context, r *run) error {
	start := time.Now()
	var conflicts []bim.ConflictCandidate
	if o.cached(ctx, r, cache.KindConflicts, &conflicts) {
		r.conflict = conflicts
		o.stage(ctx, "detect", true, start)
		return nil
	}
	conflicts, err := o.deps.Detector.Detect(ctx, r.model)
	if err != nil {
		return err
	}
	if conflicts == nil {
		conflicts = []bim.ConflictCandidate{}
	}
	r.conflict = conflicts
	o.stage(ctx, "detect", false, start)
	o.store(ctx, r, cache.KindConflicts, conflicts)
	return nil
}

func (o *Orchestrator) stepPersistConflicts(ctx context.Context, r *run) error {
	ids := make(map[string]uuid.UUID, len(r.conflict))
	keep := make([]string, 0, len(r.conflict))
	created := 0
	for _, c := range r.conflict {
		sig := c.Signature()
		if _, seen := ids[sig]; seen {
			continue
		}
		var elementIDs []uuid.UUID
		for _, gid := range c.ElementRefs {
			if id, ok := r.elements[gid]; ok {
				elementIDs = append(elementIDs, id)
			}
		}
		id, isNew, err := o.deps.Store.InsertConflict(ctx, r.Run, c, elementIDs)
		if err != nil {
			return persistenceErr("persist conflict", err)
		}
		ids[sig] = id
		keep = append(keep, sig)
		if isNew {
			created++
			o.metrics.AddConflicts(string(c.Severity), 1)
		}
	}
	r.log.Info("conflicts persisted", "detected", len(r.conflict), "new", created)

	if o.opts.RetireStaleConflicts {
		if _, err := o.deps.Store.RetireStaleConflicts(ctx, r.Run, keep); err != nil {
			return persistenceErr("retire stale conflicts", err)
		}
	}
	r.conflictIDs = ids
	return nil
}

func (o *Orchestrator) stepAnalysis(ctx context.Context, r *run) error {
	start := time.Now()
	var analysis bim.Analysis
	if o.cached(ctx, r, cache.KindAnalysis, &analysis) {
		r.analysis = analysis
		o.stage(ctx, "analyze", true, start)
		return nil
	}
	analysis, err := o.deps.Analyzer.Analyze(ctx, r.conflict)
	if err != nil {
		return err
	}
	r.analysis = analysis
	o.stage(ctx, "analyze", false, start)
	o.store(ctx, r, cache.KindAnalysis, analysis)
	return nil
}

func (o *Orchestrator) stepPersistSolutions(ctx context.Context, r *run) error {
	created := 0
	for _, result := range r.analysis.Results {
		conflictID, ok := r.conflictIDs[result.Conflict.Signature()]
		if !ok {
			r.log.Warn("analysis result has no persisted conflict", "signature", result.Conflict.Signature())
			continue
		}
		for i, s := range result.Solutions {
			isNew, err := o.deps.Store.InsertSolution(ctx, r.Run, conflictID, i+1, s)
			if err != nil {
				return persistenceErr("persist solution", err)
			}
			if isNew {
				created++
			}
		}
	}
	o.metrics.AddSolutions(created)
	r.log.Info("solutions persisted", "generated", r.analysis.SolutionCount(), "new", created)
	return nil
}

func (o *Orchestrator) stepMetadata(ctx context.Context, r *run) error {
	var existing bim.Metadata
	if o.cached(ctx, r, cache.KindMetadata, &existing) {
		return nil
	}
	o.store(ctx, r, cache.KindMetadata, bim.Metadata{
		ProjectID:      r.ProjectID.String(),
		FilePath:       r.req.FilePath,
		SchemaVersion:  r.model.SchemaVersion,
		TotalElements:  r.model.ElementCount,
		ConflictsCount: len(r.conflict),
		SolutionsCount: r.analysis.SolutionCount(),
	})
	return nil
}

func (o *Orchestrator) logCacheStats(ctx context.Context, r *run) {
	if r.ContentHash == "" {
		return
	}
	sc, ok := o.deps.Cache.(statsCache)
	if !ok {
		return
	}
	stats, err := sc.Stats(ctx)
	if err != nil {
		return
	}
	r.log.Info("cache stats",
		"memory_used", stats.MemoryUsed,
		"total_keys", stats.TotalKeys,
		"namespace_keys", stats.NamespaceKeys,
		"ttl", stats.TTL,
	)
}

// fail records err on the model and turns it into a failed Result.
func (o *Orchestrator) fail(ctx context.Context, req Request, res Result, log *logger.Logger, err error) Result {
	code := apperr.CodeOf(err)
	res.Status = StatusFailed
	res.ErrorCode = code
	res.Error = err.Error()
	res.ConflictsDetected = 0
	res.SolutionsGenerated = 0
	res.CacheUsed = false

	log.Error("IFC processing failed", "error_code", code, "error", err)

	if req.ModelID != uuid.Nil {
		// The run may have been cancelled; the status write must still land.
		wctx := context.WithoutCancel(ctx)
		if serr := o.deps.Store.UpdateModelStatus(wctx, req.ModelID, ModelStatusFor(code), res.Error); serr != nil {
			log.Error("could not record failed status", "error", serr)
		}
	}
	if o.deps.Notifier != nil {
		o.deps.Notifier.Failed(context.WithoutCancel(ctx), req, res)
	}
	return res
}

func persistenceErr(what string, err error) error {
	if apperr.CodeOf(err) == apperr.PersistenceFailure {
		return err
	}
	return apperr.New(apperr.PersistenceFailure, "pipeline."+what, err)
}
