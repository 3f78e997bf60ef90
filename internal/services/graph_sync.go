package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/graph"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/platform/neo4jdb"
)

// GraphSync loads a model's elements and the project's open conflicts from
// the database and upserts them into Neo4j.
type GraphSync struct {
	log    *logger.Logger
	repos  *repos.Set
	client *neo4jdb.Client
}

func NewGraphSync(baseLog *logger.Logger, set *repos.Set, client *neo4jdb.Client) *GraphSync {
	return &GraphSync{log: baseLog.With("service", "GraphSync"), repos: set, client: client}
}

func (s *GraphSync) SyncModel(ctx context.Context, req pipeline.Request) error {
	if s.client == nil {
		return nil
	}
	g, err := s.load(ctx, req.ProjectID, req.ModelID)
	if err != nil {
		return err
	}
	return graph.UpsertConflictGraph(ctx, s.client, s.log, g)
}

func (s *GraphSync) load(ctx context.Context, projectID, modelID uuid.UUID) (graph.ConflictGraph, error) {
	dbc := dbctx.New(ctx)
	p, err := s.repos.Projects.GetByID(dbc, projectID)
	if err != nil {
		return graph.ConflictGraph{}, err
	}
	m, err := s.repos.Models.GetByID(dbc, modelID)
	if err != nil {
		return graph.ConflictGraph{}, err
	}
	if p == nil || m == nil {
		return graph.ConflictGraph{}, fmt.Errorf("graph sync: project %s or model %s not found", projectID, modelID)
	}
	elements, err := s.repos.Elements.ListByModel(dbc, modelID)
	if err != nil {
		return graph.ConflictGraph{}, err
	}
	all, err := s.repos.Conflicts.ListByProject(dbc, projectID)
	if err != nil {
		return graph.ConflictGraph{}, err
	}
	// superseded conflicts are projected too so their status changes reach the graph
	var conflicts []*types.Conflict
	ids := make([]uuid.UUID, 0, len(all))
	for _, c := range all {
		if c.IFCModelID == modelID {
			conflicts = append(conflicts, c)
			ids = append(ids, c.ID)
		}
	}
	links, err := s.repos.Conflicts.ListElementLinks(dbc, ids)
	if err != nil {
		return graph.ConflictGraph{}, err
	}
	return graph.ConflictGraph{Project: p, Model: m, Elements: elements, Conflicts: conflicts, Links: links}, nil
}
