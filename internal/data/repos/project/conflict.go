package project

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

type ConflictRepo interface {
	// Insert stores row unless the project already has a conflict with the
	// same pair signature. It returns the stored row either way and whether
	// it was newly created. A superseded match is reopened.
	Insert(dbc dbctx.Context, row *types.Conflict) (*types.Conflict, bool, error)
	FindByElementPair(dbc dbctx.Context, projectID uuid.UUID, globalIDA, globalIDB string) (*types.Conflict, error)
	LinkElements(dbc dbctx.Context, conflictID uuid.UUID, elementIDs []uuid.UUID) error
	ListElementLinks(dbc dbctx.Context, conflictIDs []uuid.UUID) ([]*types.ConflictElement, error)
	ListByProject(dbc dbctx.Context, projectID uuid.UUID, statuses ...string) ([]*types.Conflict, error)
	// RetireStale marks open conflicts first produced by modelID whose
	// signature is not in keep as superseded.
	RetireStale(dbc dbctx.Context, projectID, modelID uuid.UUID, keep []string) (int64, error)
}

type conflictRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewConflictRepo(db *gorm.DB, baseLog *logger.Logger) ConflictRepo {
	return &conflictRepo{db: db, log: baseLog.With("repo", "ConflictRepo")}
}

func (r *conflictRepo) Insert(dbc dbctx.Context, row *types.Conflict) (*types.Conflict, bool, error) {
	conn := dbc.Conn(r.db)
	res := conn.
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "project_id"}, {Name: "pair_signature"}},
			DoNothing: true,
		}).
		Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return row, true, nil
	}

	existing, err := r.bySignature(conn, row.ProjectID, row.PairSignature)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		// Lost a race with a concurrent delete; nothing sensible to return.
		return nil, false, gorm.ErrRecordNotFound
	}
	if existing.Status == types.ConflictSuperseded {
		now := time.Now()
		if err := conn.Model(&types.Conflict{}).
			Where("id = ? AND status = ?", existing.ID, types.ConflictSuperseded).
			Updates(map[string]interface{}{"status": types.ConflictDetected, "updated_at": now}).Error; err != nil {
			return nil, false, err
		}
		existing.Status = types.ConflictDetected
		existing.UpdatedAt = now
		r.log.Debug("superseded conflict reopened", "conflict_id", existing.ID)
	}
	return existing, false, nil
}

func (r *conflictRepo) FindByElementPair(dbc dbctx.Context, projectID uuid.UUID, globalIDA, globalIDB string) (*types.Conflict, error) {
	if projectID == uuid.Nil {
		return nil, nil
	}
	return r.bySignature(dbc.Conn(r.db), projectID, bim.PairSignature(globalIDA, globalIDB))
}

func (r *conflictRepo) bySignature(conn *gorm.DB, projectID uuid.UUID, signature string) (*types.Conflict, error) {
	var out types.Conflict
	if err := conn.
		Where("project_id = ? AND pair_signature = ?", projectID, signature).
		Limit(1).
		Find(&out).Error; err != nil {
		return nil, err
	}
	if out.ID == uuid.Nil {
		return nil, nil
	}
	return &out, nil
}

func (r *conflictRepo) LinkElements(dbc dbctx.Context, conflictID uuid.UUID, elementIDs []uuid.UUID) error {
	if conflictID == uuid.Nil || len(elementIDs) == 0 {
		return nil
	}
	now := time.Now()
	links := make([]*types.ConflictElement, 0, len(elementIDs))
	for _, id := range elementIDs {
		if id == uuid.Nil {
			continue
		}
		links = append(links, &types.ConflictElement{ConflictID: conflictID, ElementID: id, CreatedAt: now})
	}
	if len(links) == 0 {
		return nil
	}
	return dbc.Conn(r.db).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&links).Error
}

func (r *conflictRepo) ListElementLinks(dbc dbctx.Context, conflictIDs []uuid.UUID) ([]*types.ConflictElement, error) {
	var out []*types.ConflictElement
	if len(conflictIDs) == 0 {
		return out, nil
	}
	if err := dbc.Conn(r.db).Where("conflict_id IN ?", conflictIDs).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conflictRepo) ListByProject(dbc dbctx.Context, projectID uuid.UUID, statuses ...string) ([]*types.Conflict, error) {
	var out []*types.Conflict
	if projectID == uuid.Nil {
		return out, nil
	}
	q := dbc.Conn(r.db).Where("project_id = ?", projectID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *conflictRepo) RetireStale(dbc dbctx.Context, projectID, modelID uuid.UUID, keep []string) (int64, error) {
	if projectID == uuid.Nil || modelID == uuid.Nil {
		return 0, nil
	}
	q := dbc.Conn(r.db).Model(&types.Conflict{}).
		Where("project_id = ? AND ifc_model_id = ? AND status = ?", projectID, modelID, types.ConflictDetected).
		// inter-model conflicts are owned by the federated run, not by one model's run
		Where("conflict_type <> ?", string(bim.ConflictInterModelCollision))
	if len(keep) > 0 {
		q = q.Where("pair_signature NOT IN ?", keep)
	}
	res := q.Updates(map[string]interface{}{"status": types.ConflictSuperseded, "updated_at": time.Now()})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		r.log.Info("stale conflicts superseded", "project_id", projectID, "ifc_model_id", modelID, "count", res.RowsAffected)
	}
	return res.RowsAffected, nil
}
