package ifcprocess

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitruvius-bim/vitruvius-backend/internal/config"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos"
	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos/testutil"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/runtime"
	"github.com/vitruvius-bim/vitruvius-backend/internal/jobs/worker"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pipeline"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/apperr"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
)

type stubProcessor struct {
	calls []pipeline.Request
	res   pipeline.Result
}

func (p *stubProcessor) Process(_ context.Context, req pipeline.Request) pipeline.Result {
	p.calls = append(p.calls, req)
	out := p.res
	out.ProjectID = req.ProjectID.String()
	out.ModelID = req.ModelID.String()
	return out
}

type stubFetcher struct {
	cleaned bool
	err     error
}

func (f *stubFetcher) Fetch(_ context.Context, ref string) (string, func(), error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return "/tmp/local.ifc", func() { f.cleaned = true }, nil
}

type recordingNotifier struct {
	done   int
	failed []string
}

func (n *recordingNotifier) JobProgress(*types.JobRun, string, int, string) {}
func (n *recordingNotifier) JobFailed(_ *types.JobRun, stage, _ string) {
	n.failed = append(n.failed, stage)
}
func (n *recordingNotifier) JobDone(*types.JobRun) { n.done++ }

func setup(t *testing.T, proc Processor, fetch Fetcher) (*worker.Worker, repos.JobRunRepo, *recordingNotifier) {
	t.Helper()
	log := testutil.Logger(t)
	db := testutil.DB(t)
	repo := repos.NewJobRunRepo(db, log)
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(NewHandler(log, proc, fetch)))
	n := &recordingNotifier{}
	w := worker.NewWorker(db, log, repo, reg, n, config.Worker{Concurrency: 1, PollInterval: 10 * time.Millisecond, MaxAttempts: 3}, nil)
	return w, repo, n
}

func request() pipeline.Request {
	return pipeline.Request{ProjectID: uuid.New(), ModelID: uuid.New(), FilePath: "gs://models/tower.ifc"}
}

func TestEnqueueDeduplicatesRunnable(t *testing.T) {
	_, repo, _ := setup(t, &stubProcessor{}, nil)
	ctx := context.Background()
	req := request()

	first, created, err := Enqueue(ctx, repo, req)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.StatusQueued, first.Status)

	second, created, err := Enqueue(ctx, repo, req)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	_, _, err = Enqueue(ctx, repo, pipeline.Request{ProjectID: uuid.New()})
	assert.Equal(t, apperr.InvalidArgument, apperr.CodeOf(err))
}

func TestHandlerSucceeds(t *testing.T) {
	proc := &stubProcessor{res: pipeline.Result{Status: pipeline.StatusCompleted, ConflictsDetected: 1, SolutionsGenerated: 3}}
	fetch := &stubFetcher{}
	w, repo, n := setup(t, proc, fetch)
	ctx := context.Background()

	job, _, err := Enqueue(ctx, repo, request())
	require.NoError(t, err)
	require.True(t, w.RunOnce(ctx, 1))
	assert.False(t, w.RunOnce(ctx, 1))

	require.Len(t, proc.calls, 1)
	assert.Equal(t, "/tmp/local.ifc", proc.calls[0].FilePath)
	assert.True(t, fetch.cleaned)

	got, err := repo.GetByID(dbctx.New(ctx), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusSucceeded, got.Status)
	assert.Equal(t, 100, got.Progress)
	assert.Contains(t, string(got.Result), `"conflicts_detected":1`)
	assert.Equal(t, 1, n.done)
}

func TestHandlerRecordsPipelineFailure(t *testing.T) {
	proc := &stubProcessor{res: pipeline.Result{Status: pipeline.StatusFailed, ErrorCode: apperr.ParseFailure, Error: "bad header"}}
	w, repo, n := setup(t, proc, nil)
	ctx := context.Background()

	job, _, err := Enqueue(ctx, repo, request())
	require.NoError(t, err)
	require.True(t, w.RunOnce(ctx, 1))

	got, err := repo.GetByID(dbctx.New(ctx), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, string(apperr.ParseFailure), got.Stage)
	assert.Equal(t, "bad header", got.Error)
	assert.Contains(t, string(got.Result), `"error_code":"parse_failure"`)
	assert.Equal(t, []string{"parse_failure"}, n.failed)
}

func TestHandlerFetchFailure(t *testing.T) {
	proc := &stubProcessor{}
	w, repo, _ := setup(t, proc, &stubFetcher{err: errors.New("bucket not found")})
	ctx := context.Background()

	job, _, err := Enqueue(ctx, repo, request())
	require.NoError(t, err)
	require.True(t, w.RunOnce(ctx, 1))

	got, err := repo.GetByID(dbctx.New(ctx), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "fetch", got.Stage)
	assert.Empty(t, proc.calls)
}

func TestHandlerRejectsBadPayload(t *testing.T) {
	w, repo, _ := setup(t, &stubProcessor{}, nil)
	ctx := context.Background()

	job := &types.JobRun{JobType: JobType, Status: types.StatusQueued, Stage: "queued", Payload: []byte(`{"file_path":"x.ifc"}`)}
	_, err := repo.Create(dbctx.New(ctx), []*types.JobRun{job})
	require.NoError(t, err)
	require.True(t, w.RunOnce(ctx, 1))

	got, err := repo.GetByID(dbctx.New(ctx), job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusFailed, got.Status)
	assert.Equal(t, "validate", got.Stage)
}
