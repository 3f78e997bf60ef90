package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
)

// GormStore persists pipeline output through the repository set.
type GormStore struct {
	db    *gorm.DB
	repos *repos.Set
}

func NewGormStore(db *gorm.DB, set *repos.Set) *GormStore {
	return &GormStore{db: db, repos: set}
}

func (s *GormStore) UpdateModelStatus(ctx context.Context, modelID uuid.UUID, status domain.ModelStatus, errMsg string) error {
	return s.repos.Models.UpdateStatus(dbctx.New(ctx), modelID, status, errMsg)
}

func (s *GormStore) SetContentHash(ctx context.Context, modelID uuid.UUID, hash string) error {
	return s.repos.Models.SetContentHash(dbctx.New(ctx), modelID, hash)
}

func (s *GormStore) UpsertElements(ctx context.Context, run Run, elements []bim.ExtractedElement) (map[string]uuid.UUID, error) {
	rows := make([]*domain.Element, 0, len(elements))
	for _, e := range elements {
		row, err := elementRow(e)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	var out map[string]uuid.UUID
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids, err := s.repos.Elements.UpsertBatch(dbctx.Context{Ctx: ctx, Tx: tx}, run.ModelID, rows)
		out = ids
		return err
	})
	return out, err
}

// InsertConflict stores the conflict and its element links in one
// transaction.
func (s *GormStore) InsertConflict(ctx context.Context, run Run, c bim.ConflictCandidate, elementIDs []uuid.UUID) (uuid.UUID, bool, error) {
	var (
		id    uuid.UUID
		isNew bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		dbc := dbctx.Context{Ctx: ctx, Tx: tx}
		row, created, err := s.repos.Conflicts.Insert(dbc, &domain.Conflict{
			ProjectID:     run.ProjectID,
			PairSignature: c.Signature(),
			IFCModelID:    run.ModelID,
			ContentHash:   run.ContentHash,
			ConflictType:  string(c.Kind),
			Severity:      string(c.Severity),
			Description:   c.Description,
		})
		if err != nil {
			return err
		}
		id, isNew = row.ID, created
		return s.repos.Conflicts.LinkElements(dbc, row.ID, elementIDs)
	})
	return id, isNew, err
}

func (s *GormStore) InsertSolution(ctx context.Context, run Run, conflictID uuid.UUID, rank int, sol bim.SolutionCandidate) (bool, error) {
	return s.repos.Solutions.Insert(dbctx.New(ctx), &domain.Solution{
		ConflictID:      conflictID,
		SolutionType:    string(sol.Type),
		IFCModelID:      run.ModelID,
		ContentHash:     run.ContentHash,
		Description:     sol.Description,
		EstimatedCost:   sol.CostMinorUnits(),
		EstimatedTime:   sol.TimeDays(),
		ConfidenceScore: sol.ConfidenceScore,
		Rank:            rank,
	})
}

func (s *GormStore) RetireStaleConflicts(ctx context.Context, run Run, keep []string) (int64, error) {
	return s.repos.Conflicts.RetireStale(dbctx.New(ctx), run.ProjectID, run.ModelID, keep)
}

func elementRow(e bim.ExtractedElement) (*domain.Element, error) {
	row := &domain.Element{
		GlobalID:    e.GlobalID,
		ElementType: string(e.Type),
		IFCType:     e.IFCType,
		Name:        e.Name,
		Description: e.Description,
		HasGeometry: e.HasGeometry,
	}
	if len(e.Properties) > 0 {
		b, err := json.Marshal(e.Properties)
		if err != nil {
			return nil, fmt.Errorf("element %s properties: %w", e.GlobalID, err)
		}
		row.Properties = datatypes.JSON(b)
	}
	if e.Geometry != nil {
		b, err := json.Marshal(e.Geometry)
		if err != nil {
			return nil, fmt.Errorf("element %s geometry: %w", e.GlobalID, err)
		}
		row.Geometry = datatypes.JSON(b)
	}
	return row, nil
}
