package project

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/logger"
)

const elementBatchSize = 500

type ElementRepo interface {
	// UpsertBatch inserts or refreshes elements keyed by (ifc_model_id,
	// global_id) and returns the stored id of every global id in rows.
	UpsertBatch(dbc dbctx.Context, modelID uuid.UUID, rows []*types.Element) (map[string]uuid.UUID, error)
	ListByModel(dbc dbctx.Context, modelID uuid.UUID) ([]*types.Element, error)
	IDsByGlobalID(dbc dbctx.Context, modelID uuid.UUID, globalIDs []string) (map[string]uuid.UUID, error)
}

type elementRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewElementRepo(db *gorm.DB, baseLog *logger.Logger) ElementRepo {
	return &elementRepo{db: db, log: baseLog.With("repo", "ElementRepo")}
}

func (r *elementRepo) UpsertBatch(dbc dbctx.Context, modelID uuid.UUID, rows []*types.Element) (map[string]uuid.UUID, error) {
	if len(rows) == 0 {
		return map[string]uuid.UUID{}, nil
	}
	// one statement must not touch the same (model, global_id) twice
	gids := make([]string, 0, len(rows))
	unique := make([]*types.Element, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, row := range rows {
		if _, dup := seen[row.GlobalID]; dup {
			r.log.Warn("Duplicate GlobalId in batch, row skipped", "ifc_model_id", modelID, "global_id", row.GlobalID)
			continue
		}
		seen[row.GlobalID] = struct{}{}
		row.IFCModelID = modelID
		gids = append(gids, row.GlobalID)
		unique = append(unique, row)
	}
	rows = unique
	err := dbc.Conn(r.db).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "ifc_model_id"}, {Name: "global_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"element_type", "ifc_type", "name", "description",
				"has_geometry", "properties", "geometry", "updated_at",
			}),
		}).
		CreateInBatches(rows, elementBatchSize).Error
	if err != nil {
		return nil, err
	}
	// Rows that hit the conflict keep their original id, so read ids back.
	return r.IDsByGlobalID(dbc, modelID, gids)
}

func (r *elementRepo) ListByModel(dbc dbctx.Context, modelID uuid.UUID) ([]*types.Element, error) {
	var out []*types.Element
	if modelID == uuid.Nil {
		return out, nil
	}
	if err := dbc.Conn(r.db).
		Where("ifc_model_id = ?", modelID).
		Order("global_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *elementRepo) IDsByGlobalID(dbc dbctx.Context, modelID uuid.UUID, globalIDs []string) (map[string]uuid.UUID, error) {
	out := make(map[string]uuid.UUID, len(globalIDs))
	if modelID == uuid.Nil || len(globalIDs) == 0 {
		return out, nil
	}
	type idRow struct {
		ID       uuid.UUID
		GlobalID string
	}
	for start := 0; start < len(globalIDs); start += elementBatchSize {
		end := min(start+elementBatchSize, len(globalIDs))
		var rows []idRow
		if err := dbc.Conn(r.db).
			Model(&types.Element{}).
			Select("id", "global_id").
			Where("ifc_model_id = ? AND global_id IN ?", modelID, globalIDs[start:end]).
			Scan(&rows).Error; err != nil {
			return nil, err
		}
		for _, row := range rows {
			out[row.GlobalID] = row.ID
		}
	}
	return out, nil
}
