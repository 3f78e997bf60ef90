package runtime

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
)

type stageRecorder struct {
	stages []string
}

func (r *stageRecorder) JobProgress(_ *types.JobRun, stage string, _ int, _ string) {
	r.stages = append(r.stages, stage)
}
func (r *stageRecorder) JobFailed(_ *types.JobRun, stage string, _ string) {
	r.stages = append(r.stages, "failed:"+stage)
}
func (r *stageRecorder) JobDone(*types.JobRun) { r.stages = append(r.stages, "done") }

func TestDecodePayload(t *testing.T) {
	projectID := uuid.New()
	jc := NewContext(context.Background(), nil, &types.JobRun{Payload: []byte(`{"project_id":"` + projectID.String() + `"}`)}, nil, nil)

	var p struct {
		ProjectID uuid.UUID `json:"project_id"`
	}
	require.NoError(t, jc.DecodePayload(&p))
	assert.Equal(t, projectID, p.ProjectID)

	empty := NewContext(context.Background(), nil, &types.JobRun{}, nil, nil)
	assert.Error(t, empty.DecodePayload(&p))
	assert.Error(t, NewContext(context.Background(), nil, &types.JobRun{Payload: []byte(`{`)}, nil, nil).DecodePayload(&p))
}

func TestLifecycleWithoutRepo(t *testing.T) {
	rec := &stageRecorder{}
	job := &types.JobRun{}
	jc := NewContext(context.Background(), nil, job, nil, rec)

	jc.Progress("detect", 40, "comparing")
	assert.Equal(t, "detect", job.Stage)
	assert.Equal(t, 40, job.Progress)

	jc.Succeed("completed", map[string]int{"pairs": 1})
	assert.Equal(t, types.StatusSucceeded, job.Status)
	assert.Equal(t, []string{"detect", "done"}, rec.stages)
}
