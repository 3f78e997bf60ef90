// Package graph projects persisted clash results into Neo4j for traversal
// queries (which elements are involved in the most conflicts, which models
// share problem areas). Postgres stays the source of truth.
package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
	"github.com/vitruvius-bim/vitruvius-backend/internal/platform/neo4jdb"
)

// ConflictGraph is one model's slice of the project graph.
type ConflictGraph struct {
	Project   *types.Project
	Model     *types.IFCModel
	Elements  []*types.Element
	Conflicts []*types.Conflict
	Links     []*types.ConflictElement
}

type graphRecords struct {
	project   map[string]any
	model     map[string]any
	elements  []map[string]any
	conflicts []map[string]any
}

func (g ConflictGraph) records(now string) (graphRecords, error) {
	if g.Project == nil || g.Project.ID == uuid.Nil || g.Model == nil || g.Model.ID == uuid.Nil {
		return graphRecords{}, fmt.Errorf("neo4j conflict graph sync: missing project or model")
	}
	out := graphRecords{
		project: map[string]any{
			"id":        g.Project.ID.String(),
			"name":      g.Project.Name,
			"synced_at": now,
		},
		model: map[string]any{
			"id":           g.Model.ID.String(),
			"project_id":   g.Project.ID.String(),
			"file_path":    g.Model.FilePath,
			"content_hash": g.Model.ContentHash,
			"status":       string(g.Model.Status),
			"synced_at":    now,
		},
		elements:  make([]map[string]any, 0, len(g.Elements)),
		conflicts: make([]map[string]any, 0, len(g.Conflicts)),
	}
	for _, e := range g.Elements {
		if e == nil || e.ID == uuid.Nil {
			continue
		}
		out.elements = append(out.elements, map[string]any{
			"id":           e.ID.String(),
			"model_id":     e.IFCModelID.String(),
			"global_id":    e.GlobalID,
			"element_type": e.ElementType,
			"ifc_type":     e.IFCType,
			"name":         e.Name,
			"synced_at":    now,
		})
	}

	involved := map[uuid.UUID][]string{}
	for _, l := range g.Links {
		if l == nil {
			continue
		}
		involved[l.ConflictID] = append(involved[l.ConflictID], l.ElementID.String())
	}
	for _, c := range g.Conflicts {
		if c == nil || c.ID == uuid.Nil {
			continue
		}
		ids := involved[c.ID]
		if ids == nil {
			ids = []string{}
		}
		out.conflicts = append(out.conflicts, map[string]any{
			"id":             c.ID.String(),
			"project_id":     c.ProjectID.String(),
			"pair_signature": c.PairSignature,
			"conflict_type":  c.ConflictType,
			"severity":       c.Severity,
			"status":         c.Status,
			"element_ids":    ids,
			"synced_at":      now,
		})
	}
	return out, nil
}

func UpsertConflictGraph(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, g ConflictGraph) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	recs, err := g.records(time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return err
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// best-effort; restricted users may not manage schema
	for _, stmt := range []string{
		`CREATE CONSTRAINT element_id_unique IF NOT EXISTS FOR (e:Element) REQUIRE e.id IS UNIQUE`,
		`CREATE CONSTRAINT conflict_id_unique IF NOT EXISTS FOR (c:Conflict) REQUIRE c.id IS UNIQUE`,
	} {
		res, err := session.Run(ctx, stmt, nil)
		if err != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
			continue
		}
		_, _ = res.Consume(ctx)
	}

	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			cypher string
			params map[string]any
		}{
			{`
MERGE (p:Project {id: $project.id})
SET p.name = $project.name, p.synced_at = $project.synced_at
MERGE (m:IFCModel {id: $model.id})
SET m.file_path = $model.file_path, m.content_hash = $model.content_hash,
    m.status = $model.status, m.synced_at = $model.synced_at
MERGE (p)-[:HAS_MODEL]->(m)`, map[string]any{"project": recs.project, "model": recs.model}},
			{`
UNWIND $elements AS e
MERGE (x:Element {id: e.id})
SET x.global_id = e.global_id, x.element_type = e.element_type,
    x.ifc_type = e.ifc_type, x.name = e.name, x.synced_at = e.synced_at
WITH x, e
MATCH (m:IFCModel {id: e.model_id})
MERGE (m)-[:CONTAINS]->(x)`, map[string]any{"elements": recs.elements}},
			{`
UNWIND $conflicts AS c
MERGE (k:Conflict {id: c.id})
SET k.pair_signature = c.pair_signature, k.conflict_type = c.conflict_type,
    k.severity = c.severity, k.status = c.status, k.synced_at = c.synced_at
WITH k, c
MATCH (p:Project {id: c.project_id})
MERGE (p)-[:HAS_CONFLICT]->(k)
WITH k, c
UNWIND c.element_ids AS eid
MATCH (x:Element {id: eid})
MERGE (k)-[:INVOLVES]->(x)`, map[string]any{"conflicts": recs.conflicts}},
		}
		for _, s := range steps {
			res, err := tx.Run(ctx, s.cypher, s.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("neo4j conflict graph sync: %w", err)
	}
	log.Debug("conflict graph synced", "ifc_model_id", g.Model.ID, "elements", len(recs.elements), "conflicts", len(recs.conflicts))
	return nil
}
