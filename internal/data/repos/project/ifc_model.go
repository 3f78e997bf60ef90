package project

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type IFCModelRepo interface {
	Create(dbc dbctx.Context, row *types.IFCModel) (*types.IFCModel, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IFCModel, error)
	// ListByProject returns the project's models oldest first, optionally
	// filtered by status.
	ListByProject(dbc dbctx.Context, projectID uuid.UUID, statuses ...types.ModelStatus) ([]*types.IFCModel, error)
	// UpdateStatus records a state transition. Entering processed stamps
	// processed_at; entering processing clears any previous error.
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status types.ModelStatus, errMsg string) error
	SetContentHash(dbc dbctx.Context, id uuid.UUID, hash string) error
}

type ifcModelRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewIFCModelRepo(db *gorm.DB, baseLog *logger.Logger) IFCModelRepo {
	return &ifcModelRepo{db: db, log: baseLog.With("repo", "IFCModelRepo")}
}

func (r *ifcModelRepo) Create(dbc dbctx.Context, row *types.IFCModel) (*types.IFCModel, error) {
	if err := dbc.Conn(r.db).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *ifcModelRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.IFCModel, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var out types.IFCModel
	if err := dbc.Conn(r.db).Where("id = ?", id).Limit(1).Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *ifcModelRepo) ListByProject(dbc dbctx.Context, projectID uuid.UUID, statuses ...types.ModelStatus) ([]*types.IFCModel, error) {
	var out []*types.IFCModel
	if projectID == uuid.Nil {
		return out, nil
	}
	q := dbc.Conn(r.db).Where("project_id = ?", projectID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at ASC").Order("id ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ifcModelRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status types.ModelStatus, errMsg string) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	updates := map[string]interface{}{
		"status":        status,
		"error_message": errMsg,
		"updated_at":    now,
	}
	if status == types.ModelProcessed {
		updates["processed_at"] = now
	}
	res := dbc.Conn(r.db).Model(&types.IFCModel{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *ifcModelRepo) SetContentHash(dbc dbctx.Context, id uuid.UUID, hash string) error {
	if id == uuid.Nil || hash == "" {
		return nil
	}
	return dbc.Conn(r.db).Model(&types.IFCModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"content_hash": hash, "updated_at": time.Now()}).Error
}
