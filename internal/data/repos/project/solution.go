package project

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type SolutionRepo interface {
	// Insert stores row unless its conflict already has a solution of the same
	// type. It reports whether a row was created.
	Insert(dbc dbctx.Context, row *types.Solution) (bool, error)
	ListByConflict(dbc dbctx.Context, conflictID uuid.UUID) ([]*types.Solution, error)
	// SuggestForConflict lists solutions proposed for other conflicts of the
	// same type in the project, most confident first.
	SuggestForConflict(dbc dbctx.Context, projectID, conflictID uuid.UUID, limit int) ([]*types.Solution, error)
}

type solutionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSolutionRepo(db *gorm.DB, baseLog *logger.Logger) SolutionRepo {
	return &solutionRepo{db: db, log: baseLog.With("repo", "SolutionRepo")}
}

func (r *solutionRepo) Insert(dbc dbctx.Context, row *types.Solution) (bool, error) {
	res := dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conflict_id"}, {Name: "solution_type"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *solutionRepo) ListByConflict(dbc dbctx.Context, conflictID uuid.UUID) ([]*types.Solution, error) {
	var out []*types.Solution
	if conflictID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("conflict_id = ?", conflictID).
		Order("rank ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *solutionRepo) SuggestForConflict(dbc dbctx.Context, projectID, conflictID uuid.UUID, limit int) ([]*types.Solution, error) {
	var out []*types.Solution
	if projectID == uuid.Nil || conflictID == uuid.Nil {
		return out, nil
	}
	if limit <= 0 {
		limit = 10
	}
	conn := dbc.Conn(r.db)
	sameType := conn.Session(&gorm.Session{NewDB: true}).
		Model(&types.Conflict{}).
		Select("conflict_type").
		Where("id = ?", conflictID)
	err := conn.
		Select("solution.*").
		Joins("JOIN conflict ON conflict.id = solution.conflict_id").
		Where("conflict.project_id = ? AND conflict.id <> ? AND conflict.conflict_type = (?)", projectID, conflictID, sameType).
		Order("solution.confidence_score DESC").
		Order("solution.rank ASC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}
