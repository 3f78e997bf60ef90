package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/rules"
)

const defaultSuggestionLimit = 5

// EstimateService answers cost questions from a project's own rates and
// looks up solutions that worked for similar conflicts.
type EstimateService struct {
	costs     repos.ProjectCostRepo
	conflicts repos.ConflictRepo
	solutions repos.SolutionRepo
}

func NewEstimateService(set *repos.Set) *EstimateService {
	return &EstimateService{costs: set.ProjectCosts, conflicts: set.Conflicts, solutions: set.Solutions}
}

// Cost prices one solution type with the project's parameter overrides.
func (s *EstimateService) Cost(ctx context.Context, projectID uuid.UUID, solutionType bim.SolutionType, confidence float64) (float64, error) {
	params, err := s.costs.ParamsForProject(dbctx.New(ctx), projectID)
	if err != nil {
		return 0, fmt.Errorf("load cost parameters: %w", err)
	}
	return rules.CostWithProjectParams(solutionType, confidence, params), nil
}

func (s *EstimateService) SetParam(ctx context.Context, projectID uuid.UUID, name string, value float64, unit string) error {
	if value <= 0 {
		return fmt.Errorf("cost parameter %s must be positive", name)
	}
	return s.costs.Upsert(dbctx.New(ctx), projectID, name, value, unit)
}

// Suggest lists solutions proposed for conflicts of the same type in the
// project, most confident first.
func (s *EstimateService) Suggest(ctx context.Context, projectID, conflictID uuid.UUID, limit int) ([]*types.Solution, error) {
	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	return s.solutions.SuggestForConflict(dbctx.New(ctx), projectID, conflictID, limit)
}

// Solutions lists the ranked solutions stored for one conflict.
func (s *EstimateService) Solutions(ctx context.Context, conflictID uuid.UUID) ([]*types.Solution, error) {
	return s.solutions.ListByConflict(dbctx.New(ctx), conflictID)
}

// SolutionsForPair finds the conflict between two elements, in either
// order, and lists its solutions. A pair with no recorded conflict returns
// nil and no error.
func (s *EstimateService) SolutionsForPair(ctx context.Context, projectID uuid.UUID, globalIDA, globalIDB string) (*types.Conflict, []*types.Solution, error) {
	c, err := s.conflicts.FindByElementPair(dbctx.New(ctx), projectID, globalIDA, globalIDB)
	if err != nil || c == nil {
		return nil, nil, err
	}
	sols, err := s.Solutions(ctx, c.ID)
	if err != nil {
		return nil, nil, err
	}
	return c, sols, nil
}
