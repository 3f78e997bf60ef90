package services

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/realtime/bus"
)

const notifyTimeout = 10 * time.Second

// GraphSyncer projects a processed model into the graph store.
type GraphSyncer interface {
	SyncModel(ctx context.Context, req pipeline.Request) error
}

// ModelNotifier runs the downstream triggers of a settled pipeline run: an
// activity_log row, a bus event and, on success, an integration sync request
// and the graph projection. Every trigger is best effort; failures are
// logged and never change the run's result.
type ModelNotifier struct {
	log      *logger.Logger
	projects repos.ProjectRepo
	activity repos.ActivityLogRepo
	bus      bus.Bus
	graph    GraphSyncer
}

// NewModelNotifier builds the notifier. b and graph may be nil.
func NewModelNotifier(baseLog *logger.Logger, set *repos.Set, b bus.Bus, graph GraphSyncer) *ModelNotifier {
	if b == nil {
		b = bus.Nop{}
	}
	return &ModelNotifier{
		log:      baseLog.With("service", "ModelNotifier"),
		projects: set.Projects,
		activity: set.Activity,
		bus:      b,
		graph:    graph,
	}
}

func (n *ModelNotifier) Processed(ctx context.Context, req pipeline.Request, res pipeline.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	log := n.log.With("project_id", req.ProjectID, "ifc_model_id", req.ModelID)

	n.recordActivity(ctx, log, req, types.ActivityModelProcessed, res)
	n.publish(ctx, log, req, realtime.EventModelProcessed, res)

	p, err := n.projects.GetByID(dbctx.New(ctx), req.ProjectID)
	if err != nil {
		log.Warn("could not load project for integration sync", "error", err)
	} else if p != nil && p.HasIntegrations() {
		n.publish(ctx, log, req, realtime.EventIntegrationSync, map[string]any{
			"planning_tool":       p.PlanningTool,
			"budget_tool":         p.BudgetTool,
			"conflicts_detected":  res.ConflictsDetected,
			"solutions_generated": res.SolutionsGenerated,
		})
	}

	if n.graph != nil {
		if err := n.graph.SyncModel(ctx, req); err != nil {
			log.Warn("conflict graph sync failed", "error", err)
		}
	}
}

func (n *ModelNotifier) Failed(ctx context.Context, req pipeline.Request, res pipeline.Result) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	log := n.log.With("project_id", req.ProjectID, "ifc_model_id", req.ModelID)

	n.recordActivity(ctx, log, req, types.ActivityModelFailed, res)
	n.publish(ctx, log, req, realtime.EventModelFailed, res)
}

func (n *ModelNotifier) recordActivity(ctx context.Context, log *logger.Logger, req pipeline.Request, action string, res pipeline.Result) {
	details, err := json.Marshal(res)
	if err != nil {
		log.Warn("could not encode activity details", "error", err)
		return
	}
	modelID := req.ModelID
	row := &types.ActivityLog{
		ProjectID:  req.ProjectID,
		Action:     action,
		EntityType: "ifc_model",
		EntityID:   &modelID,
		Details:    datatypes.JSON(details),
		CreatedAt:  time.Now(),
	}
	if err := n.activity.Create(dbctx.New(ctx), row); err != nil {
		log.Warn("could not record activity", "action", action, "error", err)
	}
}

func (n *ModelNotifier) publish(ctx context.Context, log *logger.Logger, req pipeline.Request, typ realtime.EventType, data any) {
	ev, err := realtime.NewEvent(typ, req.ProjectID, req.ModelID, data)
	if err != nil {
		log.Warn("could not encode event", "type", typ, "error", err)
		return
	}
	if err := n.bus.Publish(ctx, ev); err != nil {
		log.Warn("could not publish event", "type", typ, "error", err)
	}
}
