package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/vitruvius-bim/vitruvius-backend/internal/data/repos/testutil"
	types "github.com/vitruvius-bim/vitruvius-backend/internal/domain/jobs"
	"github.com/vitruvius-bim/vitruvius-backend/internal/pkg/dbctx"
)

const testJobType = "ifc_process_test"

func newJob(jobType, status string, created time.Time) *types.JobRun {
	return &types.JobRun{
		ID:         uuid.New(),
		JobType:    jobType,
		EntityType: "ifc_model",
		EntityID:   ptrUUID(uuid.New()),
		Status:     status,
		Stage:      status,
		Payload:    datatypes.JSON([]byte("{}")),
		Result:     datatypes.JSON([]byte("{}")),
		CreatedAt:  created,
		UpdatedAt:  created,
	}
}

func TestJobRunRepo(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRunRepo(db, testutil.Logger(t))

	now := time.Now()

	queued := newJob(testJobType, types.StatusQueued, now.Add(-3*time.Hour))
	failed := newJob(testJobType, types.StatusFailed, now.Add(-2*time.Hour))
	failed.LastErrorAt = ptrTime(now.Add(-2 * time.Hour))
	staleRunning := newJob(testJobType, types.StatusRunning, now.Add(-1*time.Hour))
	staleRunning.HeartbeatAt = ptrTime(now.Add(-10 * time.Hour))
	exhausted := newJob(testJobType, types.StatusFailed, now.Add(-4*time.Hour))
	exhausted.Attempts = 3
	otherType := newJob("other_job", types.StatusQueued, now.Add(-5*time.Hour))

	created, err := repo.Create(dbc, []*types.JobRun{queued, failed, staleRunning, exhausted, otherType})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("Create: expected 5, got %d", len(created))
	}

	if rows, err := repo.GetByIDs(dbc, []uuid.UUID{queued.ID, failed.ID, staleRunning.ID}); err != nil || len(rows) != 3 {
		t.Fatalf("GetByIDs: err=%v len=%d", err, len(rows))
	}

	// ClaimNextRunnable should walk the runnable set in created_at ASC order.
	for i, want := range []*types.JobRun{queued, failed, staleRunning} {
		claim, err := repo.ClaimNextRunnable(dbc, []string{testJobType}, 3, 1*time.Hour, 1*time.Hour)
		if err != nil {
			t.Fatalf("ClaimNextRunnable #%d: %v", i+1, err)
		}
		if claim == nil || claim.ID != want.ID {
			t.Fatalf("ClaimNextRunnable #%d: expected %v got %v", i+1, want.ID, claim)
		}
		if claim.Status != types.StatusRunning || claim.Attempts != want.Attempts+1 {
			t.Fatalf("ClaimNextRunnable #%d: status=%s attempts=%d", i+1, claim.Status, claim.Attempts)
		}
	}

	claim, err := repo.ClaimNextRunnable(dbc, []string{testJobType}, 3, 1*time.Hour, 1*time.Hour)
	if err != nil {
		t.Fatalf("ClaimNextRunnable (drained): %v", err)
	}
	if claim != nil {
		t.Fatalf("ClaimNextRunnable (drained): expected nil, got %v", claim)
	}

	stored, err := repo.GetByID(dbc, queued.ID)
	if err != nil || stored == nil {
		t.Fatalf("GetByID: err=%v row=%v", err, stored)
	}
	if stored.Status != types.StatusRunning || stored.Attempts != 1 || stored.LockedAt == nil {
		t.Fatalf("claimed row not persisted: %+v", stored)
	}

	// UpdateFields
	if err := repo.UpdateFields(dbc, queued.ID, map[string]interface{}{"status": types.StatusSucceeded, "stage": "done"}); err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}

	// A terminal job must not be overwritten.
	ok, err := repo.UpdateFieldsUnlessStatus(dbc, queued.ID, []string{types.StatusSucceeded}, map[string]interface{}{"status": types.StatusFailed})
	if err != nil {
		t.Fatalf("UpdateFieldsUnlessStatus: %v", err)
	}
	if ok {
		t.Fatalf("UpdateFieldsUnlessStatus: expected no update on a succeeded job")
	}
	ok, err = repo.UpdateFieldsUnlessStatus(dbc, failed.ID, []string{types.StatusSucceeded, types.StatusCanceled}, map[string]interface{}{"progress": 50})
	if err != nil || !ok {
		t.Fatalf("UpdateFieldsUnlessStatus (running): ok=%v err=%v", ok, err)
	}

	// Heartbeat
	if err := repo.Heartbeat(dbc, failed.ID); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// GetLatestByEntity
	entityID := uuid.New()
	older := newJob("build", types.StatusSucceeded, now.Add(-5*time.Hour))
	older.EntityID = &entityID
	newer := newJob("build", types.StatusQueued, now.Add(-4*time.Hour))
	newer.EntityID = &entityID
	if _, err := repo.Create(dbc, []*types.JobRun{older, newer}); err != nil {
		t.Fatalf("seed latest: %v", err)
	}
	latest, err := repo.GetLatestByEntity(dbc, "ifc_model", entityID, "build")
	if err != nil {
		t.Fatalf("GetLatestByEntity: %v", err)
	}
	if latest == nil || latest.ID != newer.ID {
		t.Fatalf("GetLatestByEntity: expected %v got %v", newer.ID, latest)
	}

	has, err := repo.HasRunnableForEntity(dbc, "ifc_model", entityID, "build")
	if err != nil {
		t.Fatalf("HasRunnableForEntity: %v", err)
	}
	if !has {
		t.Fatalf("HasRunnableForEntity: expected true")
	}
	has, err = repo.HasRunnableForEntity(dbc, "ifc_model", entityID, "other")
	if err != nil || has {
		t.Fatalf("HasRunnableForEntity (other): has=%v err=%v", has, err)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func ptrUUID(u uuid.UUID) *uuid.UUID { return &u }
