package project

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos/testutil"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
)

func conflictRow(projectID, modelID uuid.UUID, a, b string) *types.Conflict {
	return &types.Conflict{
		ProjectID:     projectID,
		IFCModelID:    modelID,
		PairSignature: bim.PairSignature(a, b),
		ConflictType:  string(bim.ConflictCollision),
		Severity:      string(bim.SeverityHigh),
		Description:   "IfcBeam conflicts with IfcColumn",
	}
}

func TestIFCModelRepoStatus(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewIFCModelRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/tower.ifc")

	require.NoError(t, repo.UpdateStatus(dbc, m.ID, types.ModelProcessing, ""))
	require.NoError(t, repo.SetContentHash(dbc, m.ID, "00ff00ff00ff00ff"))
	got, err := repo.GetByID(dbc, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModelProcessing, got.Status)
	assert.Equal(t, "00ff00ff00ff00ff", got.ContentHash)
	assert.Nil(t, got.ProcessedAt)

	require.NoError(t, repo.UpdateStatus(dbc, m.ID, types.ModelFailed, "parse_failure: bad header"))
	got, err = repo.GetByID(dbc, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModelFailed, got.Status)
	assert.Equal(t, "parse_failure: bad header", got.ErrorMessage)

	require.NoError(t, repo.UpdateStatus(dbc, m.ID, types.ModelProcessed, ""))
	got, err = repo.GetByID(dbc, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ModelProcessed, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.NotNil(t, got.ProcessedAt)

	assert.Error(t, repo.UpdateStatus(dbc, uuid.New(), types.ModelProcessed, ""))
	missing, err := repo.GetByID(dbc, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestElementRepoUpsert(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewElementRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/tower.ifc")

	first, err := repo.UpsertBatch(dbc, m.ID, []*types.Element{
		{GlobalID: "beam-1", ElementType: "beam", Name: "B-1", Properties: datatypes.JSON(`{}`)},
		{GlobalID: "col-1", ElementType: "column", Name: "C-1", Properties: datatypes.JSON(`{}`)},
	})
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := repo.UpsertBatch(dbc, m.ID, []*types.Element{
		{GlobalID: "beam-1", ElementType: "beam", Name: "B-1 renamed", Properties: datatypes.JSON(`{}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, first["beam-1"], second["beam-1"], "upsert must keep the stored id")

	rows, err := repo.ListByModel(dbc, m.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "B-1 renamed", rows[0].Name)
}

func TestElementRepoUpsertSkipsDuplicateGlobalIDs(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewElementRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/tower.ifc")

	ids, err := repo.UpsertBatch(dbc, m.ID, []*types.Element{
		{GlobalID: "dup-1", ElementType: "wall", Name: "W-1", Properties: datatypes.JSON(`{}`)},
		{GlobalID: "dup-1", ElementType: "column", Name: "C-1", Properties: datatypes.JSON(`{}`)},
	})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	rows, err := repo.ListByModel(dbc, m.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "wall", rows[0].ElementType)
}

func TestConflictRepoDeduplicates(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewConflictRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/tower.ifc")

	first, created, err := repo.Insert(dbc, conflictRow(p.ID, m.ID, "beam-1", "col-1"))
	require.NoError(t, err)
	assert.True(t, created)

	// Same pair in the other order.
	again, created, err := repo.Insert(dbc, conflictRow(p.ID, m.ID, "col-1", "beam-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	rows, err := repo.ListByProject(dbc, p.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	found, err := repo.FindByElementPair(dbc, p.ID, "col-1", "beam-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, first.ID, found.ID)

	other := testutil.SeedProject(t, ctx, tx, "other")
	_, created, err = repo.Insert(dbc, conflictRow(other.ID, m.ID, "beam-1", "col-1"))
	require.NoError(t, err)
	assert.True(t, created, "dedup is scoped to the project")

	beam := testutil.SeedElement(t, ctx, tx, m.ID, "beam-1", "beam")
	col := testutil.SeedElement(t, ctx, tx, m.ID, "col-1", "column")
	require.NoError(t, repo.LinkElements(dbc, first.ID, []uuid.UUID{beam.ID, col.ID}))
	require.NoError(t, repo.LinkElements(dbc, first.ID, []uuid.UUID{beam.ID, col.ID}))
	var links int64
	require.NoError(t, tx.Model(&types.ConflictElement{}).Where("conflict_id = ?", first.ID).Count(&links).Error)
	assert.EqualValues(t, 2, links)

	listed, err := repo.ListElementLinks(dbc, []uuid.UUID{first.ID})
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestConflictRepoRetireAndReopen(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewConflictRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/tower.ifc")

	kept, _, err := repo.Insert(dbc, conflictRow(p.ID, m.ID, "beam-1", "col-1"))
	require.NoError(t, err)
	stale, _, err := repo.Insert(dbc, conflictRow(p.ID, m.ID, "wall-1", "slab-1"))
	require.NoError(t, err)

	n, err := repo.RetireStale(dbc, p.ID, m.ID, []string{kept.PairSignature})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	open, err := repo.ListByProject(dbc, p.ID, types.ConflictDetected)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, kept.ID, open[0].ID)

	reopened, created, err := repo.Insert(dbc, conflictRow(p.ID, m.ID, "slab-1", "wall-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, stale.ID, reopened.ID)
	assert.Equal(t, types.ConflictDetected, reopened.Status)

	open, err = repo.ListByProject(dbc, p.ID, types.ConflictDetected)
	require.NoError(t, err)
	assert.Len(t, open, 2)
}

func TestSolutionRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	conflicts := NewConflictRepo(db, testutil.Logger(t))
	repo := NewSolutionRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/tower.ifc")
	c1, _, err := conflicts.Insert(dbc, conflictRow(p.ID, m.ID, "beam-1", "col-1"))
	require.NoError(t, err)
	c2, _, err := conflicts.Insert(dbc, conflictRow(p.ID, m.ID, "beam-2", "col-2"))
	require.NoError(t, err)

	sol := func(conflictID uuid.UUID, typ bim.SolutionType, conf, rank int) *types.Solution {
		return &types.Solution{
			ConflictID:      conflictID,
			IFCModelID:      m.ID,
			SolutionType:    string(typ),
			EstimatedCost:   2106000,
			EstimatedTime:   8,
			ConfidenceScore: conf,
			Rank:            rank,
		}
	}

	created, err := repo.Insert(dbc, sol(c1.ID, bim.SolutionBeamRelocation, 88, 1))
	require.NoError(t, err)
	assert.True(t, created)
	created, err = repo.Insert(dbc, sol(c1.ID, bim.SolutionBeamRelocation, 88, 1))
	require.NoError(t, err)
	assert.False(t, created, "one solution per (conflict, type)")

	_, err = repo.Insert(dbc, sol(c1.ID, bim.SolutionColumnAdjustment, 78, 2))
	require.NoError(t, err)
	_, err = repo.Insert(dbc, sol(c2.ID, bim.SolutionStructuralRedesign, 73, 3))
	require.NoError(t, err)

	list, err := repo.ListByConflict(dbc, c1.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, string(bim.SolutionBeamRelocation), list[0].SolutionType)

	suggested, err := repo.SuggestForConflict(dbc, p.ID, c2.ID, 5)
	require.NoError(t, err)
	require.Len(t, suggested, 2)
	assert.Equal(t, 88, suggested[0].ConfidenceScore)
	for _, s := range suggested {
		assert.Equal(t, c1.ID, s.ConflictID)
	}
}

func TestProjectCostParams(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewProjectCostRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	require.NoError(t, repo.Upsert(dbc, p.ID, "LABOR_HOUR", 55, "EUR/h"))
	require.NoError(t, repo.Upsert(dbc, p.ID, "LABOR_HOUR", 60, "EUR/h"))
	require.NoError(t, repo.Upsert(dbc, p.ID, "STEEL_KG", 3.1, "EUR/kg"))

	params, err := repo.ParamsForProject(dbc, p.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"LABOR_HOUR": 60, "STEEL_KG": 3.1}, params)
}

func TestActivityLogRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewActivityLogRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "tower")
	require.NoError(t, repo.Create(dbc, &types.ActivityLog{
		ProjectID:  p.ID,
		Action:     types.ActivityModelProcessed,
		EntityType: "ifc_model",
		Details:    datatypes.JSON(`{"conflicts_detected":1}`),
	}))
	rows, err := repo.ListByProject(dbc, p.ID, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.ActivityModelProcessed, rows[0].Action)
}

func TestIFCModelRepoListByProject(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewIFCModelRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "campus")
	arch := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/arch.ifc")
	mep := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/mep.ifc")
	other := testutil.SeedProject(t, ctx, tx, "elsewhere")
	testutil.SeedModel(t, ctx, tx, other.ID, "/tmp/other.ifc")
	require.NoError(t, repo.UpdateStatus(dbc, mep.ID, types.ModelProcessed, ""))

	all, err := repo.ListByProject(dbc, p.ID)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.ElementsMatch(t, []uuid.UUID{arch.ID, mep.ID}, []uuid.UUID{all[0].ID, all[1].ID})

	processed, err := repo.ListByProject(dbc, p.ID, types.ModelProcessed)
	require.NoError(t, err)
	require.Len(t, processed, 1)
	assert.Equal(t, mep.ID, processed[0].ID)
}

func TestConflictRepoRetireKeepsInterModel(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewConflictRepo(db, testutil.Logger(t))

	p := testutil.SeedProject(t, ctx, tx, "campus")
	m := testutil.SeedModel(t, ctx, tx, p.ID, "/tmp/arch.ifc")

	federated := conflictRow(p.ID, m.ID, "beam-1", "pipe-1")
	federated.ConflictType = string(bim.ConflictInterModelCollision)
	_, _, err := repo.Insert(dbc, federated)
	require.NoError(t, err)
	_, _, err = repo.Insert(dbc, conflictRow(p.ID, m.ID, "wall-1", "slab-1"))
	require.NoError(t, err)

	n, err := repo.RetireStale(dbc, p.ID, m.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	open, err := repo.ListByProject(dbc, p.ID, types.ConflictDetected)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, string(bim.ConflictInterModelCollision), open[0].ConflictType)
}
