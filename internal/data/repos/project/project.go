package project

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type ProjectRepo interface {
	Create(dbc dbctx.Context, row *types.Project) (*types.Project, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Project, error)
}

type projectRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectRepo(db *gorm.DB, baseLog *logger.Logger) ProjectRepo {
	return &projectRepo{db: db, log: baseLog.With("repo", "ProjectRepo")}
}

func (r *projectRepo) Create(dbc dbctx.Context, row *types.Project) (*types.Project, error) {
	if err := dbc.Conn(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *projectRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Project, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.Project
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

type ProjectCostRepo interface {
	Upsert(dbc dbctx.Context, projectID uuid.UUID, name string, value float64, unit string) error
	ParamsForProject(dbc dbctx.Context, projectID uuid.UUID) (map[string]float64, error)
}

type projectCostRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProjectCostRepo(db *gorm.DB, baseLog *logger.Logger) ProjectCostRepo {
	return &projectCostRepo{db: db, log: baseLog.With("repo", "ProjectCostRepo")}
}

func (r *projectCostRepo) Upsert(dbc dbctx.Context, projectID uuid.UUID, name string, value float64, unit string) error {
	row := &types.ProjectCost{ProjectID: projectID, ParameterName: name, Value: value, Unit: unit}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "parameter_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "unit", "updated_at"}),
		}).
		Create(row).Error
}

// ParamsForProject returns the project's overrides keyed by parameter name.
// Parameters without a row are absent.
func (r *projectCostRepo) ParamsForProject(dbc dbctx.Context, projectID uuid.UUID) (map[string]float64, error) {
	out := map[string]float64{}
	if projectID == uuid.Nil {
		return out, nil
	}
	var rows []*types.ProjectCost
	if err := dbc.Conn(r.db).Where("project_id = ?", projectID).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		out[row.ParameterName] = row.Value
	}
	return out, nil
}
