package project

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type ActivityLogRepo interface {
	Create(dbc dbctx.Context, row *types.ActivityLog) error
	ListByProject(dbc dbctx.Context, projectID uuid.UUID, limit int) ([]*types.ActivityLog, error)
}

type activityLogRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewActivityLogRepo(db *gorm.DB, baseLog *logger.Logger) ActivityLogRepo {
	return &activityLogRepo{db: db, log: baseLog.With("repo", "ActivityLogRepo")}
}

func (r *activityLogRepo) Create(dbc dbctx.Context, row *types.ActivityLog) error {
	return dbc.Conn(r.db).Create(row).Error
}

func (r *activityLogRepo) ListByProject(dbc dbctx.Context, projectID uuid.UUID, limit int) ([]*types.ActivityLog, error) {
	var out []*types.ActivityLog
	if projectID == uuid.Nil {
		return out, nil
	}
	q := dbc.Conn(r.db).Where("project_id = ?", projectID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
