package app

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/clash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/contenthash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	"github.com/vitruvius-bim/vitruvius-backend/internal/ifc"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/ifcprocess"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/intermodel"
	jobrt "github.com/vitruvius-bim/vitruvius-backend/internal/jobs/runtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/observability"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/rules"
	"github.com/vitruvius-bim/vitruvius-backend/internal/sandbox"
	"github.com/vitruvius-bim/vitruvius-backend/internal/services"
)

type Services struct {
	Extractor     pipeline.Extractor
	Detector      *clash.Detector
	Engine        *rules.Engine
	Pipeline      *pipeline.Orchestrator
	ModelNotifier *services.ModelNotifier
	JobNotifier   *services.JobNotifier
	Jobs          *services.JobService
	Estimates     *services.EstimateService
	Registry      *jobrt.Registry
	// ClashTrigger is nil unless inter-model detection is enabled and a
	// Redis bus is configured.
	ClashTrigger *services.ClashTrigger
}

func wireServices(log *logger.Logger, cfg config.Config, db *gorm.DB, set *repos.Set, clients Clients, metrics *observability.Metrics) (Services, error) {
	extractor, err := NewExtractor(log, cfg.Sandbox, metrics)
	if err != nil {
		return Services{}, err
	}
	detector := clash.NewDetector(log, clash.Options{
		Mode:        clash.Mode(cfg.Pipeline.ClashMode),
		ClearanceMM: cfg.Pipeline.ClearanceMM,
	})
	engine := rules.NewEngine(log, rules.Options{
		BaseProjectCost:     cfg.Pipeline.BaseProjectCost,
		BaseProjectTimeDays: cfg.Pipeline.BaseProjectTimeDays,
	})

	var graph services.GraphSyncer
	if clients.Neo4j != nil {
		graph = services.NewGraphSync(log, set, clients.Neo4j)
	}
	modelNotifier := services.NewModelNotifier(log, set, clients.Bus, graph)

	deps := pipeline.Deps{
		Extractor: extractor,
		Detector:  detector,
		Analyzer:  engine,
		Store:     pipeline.NewGormStore(db, set),
		Hasher:    contenthash.File,
		Notifier:  modelNotifier,
		Metrics:   metrics,
	}
	// a nil *ResultCache must not reach the interface
	if clients.Cache != nil {
		deps.Cache = clients.Cache
	}
	orch, err := pipeline.New(log, deps, pipeline.Options{RetireStaleConflicts: cfg.Pipeline.RetireStaleConflicts})
	if err != nil {
		return Services{}, err
	}

	var fetch ifcprocess.Fetcher
	if clients.Objects != nil {
		fetch = clients.Objects
	}
	federated, err := intermodel.NewHandler(log, intermodel.Deps{
		Models:    set.Models,
		Elements:  set.Elements,
		Conflicts: pipeline.NewGormStore(db, set),
		Extractor: extractor,
		Detector:  detector,
		Cache:     deps.Cache,
		Hasher:    contenthash.File,
		Fetch:     fetch,
	})
	if err != nil {
		return Services{}, err
	}
	registry := jobrt.NewRegistry()
	if err := registry.Register(ifcprocess.NewHandler(log, orch, fetch)); err != nil {
		return Services{}, fmt.Errorf("register job handlers: %w", err)
	}
	if err := registry.Register(federated); err != nil {
		return Services{}, fmt.Errorf("register job handlers: %w", err)
	}

	jobs := services.NewJobService(log, set.JobRuns, clients.Temporal, cfg.Temporal.TaskQueue, cfg.Temporal.ActivityTimeout)
	var trigger *services.ClashTrigger
	if cfg.Pipeline.InterModelClash && clients.Redis != nil {
		trigger = services.NewClashTrigger(log, clients.Bus, jobs)
	}

	return Services{
		Extractor:     extractor,
		Detector:      detector,
		Engine:        engine,
		Pipeline:      orch,
		ModelNotifier: modelNotifier,
		JobNotifier:   services.NewJobNotifier(log, clients.Bus),
		Jobs:          jobs,
		Estimates:     services.NewEstimateService(set),
		Registry:      registry,
		ClashTrigger:  trigger,
	}, nil
}

// NewExtractor returns the sandboxed executor when isolation is enabled and
// the in-process extractor otherwise.
func NewExtractor(log *logger.Logger, cfg config.Sandbox, metrics *observability.Metrics) (pipeline.Extractor, error) {
	if !cfg.Enabled {
		log.Warn("sandbox disabled; IFC files are parsed in-process")
		return ifc.NewExtractor(log, ifc.WithMaxElements(cfg.MaxElements)), nil
	}
	opts := []sandbox.Option{sandbox.WithMetrics(metrics)}
	if cfg.TempDir != "" {
		opts = append(opts, sandbox.WithTempDir(cfg.TempDir))
	}
	exec, err := sandbox.NewExecutor(log, sandbox.LimitsFromConfig(cfg), opts...)
	if err != nil {
		return nil, fmt.Errorf("init sandbox: %w", err)
	}
	return exec, nil
}
