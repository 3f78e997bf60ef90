package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/vitruvius-bim/vitruvius-backend/internal/cache"
	"github.com/vitruvius-bim/vitruvius-backend/internal/clash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/contenthash"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos/testutil"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain"
	"github.com/vitruvius-bim/vitruvius-backend/internal/domain/bim"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/rules"
)

type fakeExtractor struct {
	mu    sync.Mutex
	calls int
	model *bim.ExtractedModel
	err   error
	// runs inside Extract before it returns
	during func()
}

func (f *fakeExtractor) Extract(ctx context.Context, path string) (*bim.ExtractedModel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.model, nil
}

// solutionFailingStore lets everything through except solution inserts.
type solutionFailingStore struct {
	Store
}

func (s solutionFailingStore) InsertSolution(context.Context, Run, uuid.UUID, int, bim.SolutionCandidate) (bool, error) {
	return false, errors.New("connection reset by peer")
}

type recordingNotifier struct {
	mu        sync.Mutex
	processed []Result
	failed    []Result
}

func (n *recordingNotifier) Processed(_ context.Context, _ Request, res Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.processed = append(n.processed, res)
}

func (n *recordingNotifier) Failed(_ context.Context, _ Request, res Result) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, res)
}

func threeElementModel() *bim.ExtractedModel {
	el := func(gid string, t bim.ElementType) bim.ExtractedElement {
		return bim.ExtractedElement{GlobalID: gid, Type: t, IFCType: t.IFCName(), HasGeometry: true}
	}
	return &bim.ExtractedModel{
		SchemaVersion:    "IFC4",
		ElementCount:     3,
		LengthUnitMeters: 1,
		Elements: []bim.ExtractedElement{
			el("beam-1", bim.ElementBeam),
			el("column-1", bim.ElementColumn),
			el("wall-1", bim.ElementWall),
		},
	}
}

type harness struct {
	db        *gorm.DB
	mr        *miniredis.Miniredis
	extractor *fakeExtractor
	notifier  *recordingNotifier
	orch      *Orchestrator
	req       Request
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	ctx := context.Background()
	log := testutil.Logger(t)
	db := testutil.DB(t)

	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	rc, err := cache.New(cache.NewRedisBackend(rdb), log)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "tower.ifc")
	require.NoError(t, os.WriteFile(path, []byte("ISO-10303-21;\nEND-ISO-10303-21;\n"), 0o644))

	p := testutil.SeedProject(t, ctx, db, "Tower")
	m := testutil.SeedModel(t, ctx, db, p.ID, path)

	h := &harness{
		db:        db,
		mr:        mr,
		extractor: &fakeExtractor{model: threeElementModel()},
		notifier:  &recordingNotifier{},
		req:       Request{ProjectID: p.ID, ModelID: m.ID, FilePath: path},
	}
	h.orch, err = New(log, Deps{
		Extractor: h.extractor,
		Detector:  clash.NewDetector(log, clash.Options{}),
		Analyzer:  rules.NewEngine(log, rules.Options{}),
		Store:     NewGormStore(db, repos.NewSet(db, log)),
		Cache:     rc,
		Hasher:    contenthash.File,
		Notifier:  h.notifier,
	}, opts)
	require.NoError(t, err)
	return h
}

func (h *harness) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.db.Model(model).Count(&n).Error)
	return n
}

func (h *harness) model(t *testing.T) *domain.IFCModel {
	t.Helper()
	var m domain.IFCModel
	require.NoError(t, h.db.First(&m, "id = ?", h.req.ModelID).Error)
	return &m
}

func TestProcessThreeElementModel(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.orch.Process(context.Background(), h.req)

	require.Equal(t, StatusCompleted, res.Status, res.Error)
	assert.Equal(t, 3, res.ConflictsDetected)
	assert.Equal(t, 7, res.SolutionsGenerated)
	assert.True(t, res.CacheUsed)
	assert.Len(t, res.FileHash, 16)
	assert.Empty(t, res.CacheHits)

	assert.EqualValues(t, 3, h.count(t, &domain.Element{}))
	assert.EqualValues(t, 3, h.count(t, &domain.Conflict{}))
	assert.EqualValues(t, 6, h.count(t, &domain.ConflictElement{}))
	assert.EqualValues(t, 7, h.count(t, &domain.Solution{}))

	m := h.model(t)
	assert.Equal(t, domain.ModelProcessed, m.Status)
	assert.NotNil(t, m.ProcessedAt)
	assert.Equal(t, res.FileHash, m.ContentHash)

	var sols []domain.Solution
	require.NoError(t, h.db.Where("rank = ?", 1).Find(&sols).Error)
	require.Len(t, sols, 3)
	for _, s := range sols {
		assert.GreaterOrEqual(t, s.EstimatedCost, int64(0))
		assert.GreaterOrEqual(t, s.EstimatedTime, 0)
	}

	require.Len(t, h.notifier.processed, 1)
	assert.Empty(t, h.notifier.failed)
}

func TestProcessIsIdempotentAndServedFromCache(t *testing.T) {
	h := newHarness(t, Options{})
	ctx := context.Background()

	first := h.orch.Process(ctx, h.req)
	require.Equal(t, StatusCompleted, first.Status, first.Error)
	second := h.orch.Process(ctx, h.req)
	require.Equal(t, StatusCompleted, second.Status, second.Error)

	assert.Equal(t, 1, h.extractor.calls)
	assert.Equal(t, first.ConflictsDetected, second.ConflictsDetected)
	assert.Equal(t, first.SolutionsGenerated, second.SolutionsGenerated)
	assert.Equal(t, first.FileHash, second.FileHash)
	assert.ElementsMatch(t, cache.Kinds, second.CacheHits)

	assert.EqualValues(t, 3, h.count(t, &domain.Element{}))
	assert.EqualValues(t, 3, h.count(t, &domain.Conflict{}))
	assert.EqualValues(t, 7, h.count(t, &domain.Solution{}))
}

func TestProcessFailsOpenWithoutCache(t *testing.T) {
	h := newHarness(t, Options{})
	h.mr.Close()

	res := h.orch.Process(context.Background(), h.req)
	require.Equal(t, StatusCompleted, res.Status, res.Error)
	assert.False(t, res.CacheUsed)
	assert.Equal(t, 3, res.ConflictsDetected)
	assert.Equal(t, domain.ModelProcessed, h.model(t).Status)
}

func TestProcessRetiresStaleConflicts(t *testing.T) {
	h := newHarness(t, Options{RetireStaleConflicts: true})
	ctx := context.Background()
	require.True(t, h.orch.Process(ctx, h.req).OK())

	// a new revision of the file drops the wall
	require.NoError(t, os.WriteFile(h.req.FilePath, []byte("ISO-10303-21;\n/* rev 2 */\nEND-ISO-10303-21;\n"), 0o644))
	h.extractor.model = threeElementModel()
	h.extractor.model.Elements = h.extractor.model.Elements[:2]

	res := h.orch.Process(ctx, h.req)
	require.True(t, res.OK(), res.Error)
	assert.Equal(t, 1, res.ConflictsDetected)

	var open, superseded int64
	require.NoError(t, h.db.Model(&domain.Conflict{}).Where("status = ?", domain.ConflictDetected).Count(&open).Error)
	require.NoError(t, h.db.Model(&domain.Conflict{}).Where("status = ?", domain.ConflictSuperseded).Count(&superseded).Error)
	assert.EqualValues(t, 1, open)
	assert.EqualValues(t, 2, superseded)
}

func TestProcessFailureStatus(t *testing.T) {
	cases := []struct {
		err    error
		status domain.ModelStatus
	}{
		{apperr.Newf(apperr.ProcessingTimeout, "sandbox", "killed after 300s"), domain.ModelTranslationTimeout},
		{apperr.Newf(apperr.MemoryLimitExceeded, "sandbox", "address space exhausted"), domain.ModelTranslationFailed},
		{apperr.Newf(apperr.ParseFailure, "ifc", "bad header"), domain.ModelFailed},
	}
	for _, tc := range cases {
		t.Run(string(apperr.CodeOf(tc.err)), func(t *testing.T) {
			h := newHarness(t, Options{})
			h.extractor.err = tc.err

			res := h.orch.Process(context.Background(), h.req)
			assert.Equal(t, StatusFailed, res.Status)
			assert.Equal(t, apperr.CodeOf(tc.err), res.ErrorCode)
			assert.Zero(t, res.ConflictsDetected)
			assert.False(t, res.CacheUsed)

			m := h.model(t)
			assert.Equal(t, tc.status, m.Status)
			assert.Contains(t, m.ErrorMessage, tc.err.Error())
			assert.Len(t, h.notifier.failed, 1)
		})
	}
}

func TestProcessUnknownModel(t *testing.T) {
	h := newHarness(t, Options{})
	req := h.req
	req.ModelID = uuid.New()

	res := h.orch.Process(context.Background(), req)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.PersistenceFailure, res.ErrorCode)
	assert.Zero(t, h.extractor.calls)
}

func TestProcessRejectsInvalidRequest(t *testing.T) {
	h := newHarness(t, Options{})
	res := h.orch.Process(context.Background(), Request{ProjectID: h.req.ProjectID})
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.InvalidArgument, res.ErrorCode)
}

func TestProcessRecoversPanics(t *testing.T) {
	h := newHarness(t, Options{})
	h.extractor.during = func() { panic("extractor bug") }

	res := h.orch.Process(context.Background(), h.req)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.Internal, res.ErrorCode)
	assert.Contains(t, res.Error, "extractor bug")
	assert.Equal(t, domain.ModelFailed, h.model(t).Status)
}

func TestProcessNilModelIsParseFailure(t *testing.T) {
	h := newHarness(t, Options{})
	h.extractor.model = nil

	res := h.orch.Process(context.Background(), h.req)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.ParseFailure, res.ErrorCode)
	assert.Equal(t, domain.ModelFailed, h.model(t).Status)
	assert.Zero(t, h.count(t, &domain.Element{}))
}

func TestProcessCancelledIsNotTimeout(t *testing.T) {
	h := newHarness(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.extractor.during = cancel

	res := h.orch.Process(ctx, h.req)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.Internal, res.ErrorCode)
	assert.Equal(t, domain.ModelFailed, h.model(t).Status)
}

func TestProcessKeepsConflictsWhenSolutionsFail(t *testing.T) {
	h := newHarness(t, Options{})
	h.orch.deps.Store = solutionFailingStore{Store: h.orch.deps.Store}

	res := h.orch.Process(context.Background(), h.req)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, apperr.PersistenceFailure, res.ErrorCode)

	// rows written before the failing step stay
	assert.EqualValues(t, 3, h.count(t, &domain.Element{}))
	assert.EqualValues(t, 3, h.count(t, &domain.Conflict{}))
	assert.EqualValues(t, 6, h.count(t, &domain.ConflictElement{}))
	assert.Zero(t, h.count(t, &domain.Solution{}))
	assert.Equal(t, domain.ModelFailed, h.model(t).Status)
	require.Len(t, h.notifier.failed, 1)
}

func TestModelStatusFor(t *testing.T) {
	assert.Equal(t, domain.ModelTranslationTimeout, ModelStatusFor(apperr.ProcessingTimeout))
	assert.Equal(t, domain.ModelTranslationFailed, ModelStatusFor(apperr.TooManyElements))
	assert.Equal(t, domain.ModelTranslationFailed, ModelStatusFor(apperr.FileTooLarge))
	assert.Equal(t, domain.ModelTranslationFailed, ModelStatusFor(apperr.SandboxFailure))
	assert.Equal(t, domain.ModelFailed, ModelStatusFor(apperr.PersistenceFailure))
	assert.Equal(t, domain.ModelFailed, ModelStatusFor(apperr.Internal))
}
