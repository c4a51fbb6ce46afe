package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/courseforge/courseforge-backend/internal/data/repos/testutil"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
)

func seedJob(ownerID uuid.UUID, status string, createdAt time.Time) *domain.GenerationJob {
	return &domain.GenerationJob{
		ID:             uuid.New(),
		OwnerUserID:    ownerID,
		ConversationID: uuid.New(),
		JobType:        domain.JobTypeCourseGenerate,
		Status:         status,
		Payload:        datatypes.JSON([]byte(`{"full_context":"ctx"}`)),
		Result:         datatypes.JSON([]byte(`{}`)),
		CreatedAt:      createdAt,
		UpdatedAt:      createdAt,
	}
}

func TestJobRepoLifecycle(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	owner := uuid.New()

	older := seedJob(owner, domain.JobStatusQueued, now.Add(-2*time.Hour))
	newer := seedJob(owner, domain.JobStatusQueued, now.Add(-1*time.Hour))
	if _, err := repo.Create(dbc, []*domain.GenerationJob{newer, older}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.GetByIDForOwner(dbc, older.ID, owner)
	if err != nil || got == nil || got.ID != older.ID {
		t.Fatalf("GetByIDForOwner: err=%v got=%v", err, got)
	}
	if got, err := repo.GetByIDForOwner(dbc, older.ID, uuid.New()); err != nil || got != nil {
		t.Fatalf("GetByIDForOwner (wrong owner): expected nil, err=%v got=%v", err, got)
	}

	// Oldest queued job wins the claim.
	claim1, err := repo.ClaimNext(dbc, "worker-a")
	if err != nil {
		t.Fatalf("ClaimNext #1: %v", err)
	}
	if claim1 == nil || claim1.ID != older.ID {
		t.Fatalf("ClaimNext #1: expected %v got %v", older.ID, claim1)
	}
	if claim1.Status != domain.JobStatusProcessing || claim1.ProcessingBy == nil || *claim1.ProcessingBy != "worker-a" {
		t.Fatalf("ClaimNext #1: lock fields not set: %+v", claim1)
	}
	if claim1.Attempts != 1 {
		t.Fatalf("ClaimNext #1: expected attempts=1 got %d", claim1.Attempts)
	}

	claim2, err := repo.ClaimNext(dbc, "worker-b")
	if err != nil {
		t.Fatalf("ClaimNext #2: %v", err)
	}
	if claim2 == nil || claim2.ID != newer.ID {
		t.Fatalf("ClaimNext #2: expected %v got %v", newer.ID, claim2)
	}

	claim3, err := repo.ClaimNext(dbc, "worker-c")
	if err != nil {
		t.Fatalf("ClaimNext #3: %v", err)
	}
	if claim3 != nil {
		t.Fatalf("ClaimNext #3: expected nil, got %v", claim3)
	}

	// Heartbeat only works for the lock holder.
	ok, err := repo.Heartbeat(dbc, claim1.ID, "worker-a")
	if err != nil || !ok {
		t.Fatalf("Heartbeat (owner): ok=%v err=%v", ok, err)
	}
	ok, err = repo.Heartbeat(dbc, claim1.ID, "worker-z")
	if err != nil || ok {
		t.Fatalf("Heartbeat (stranger): expected no-op, ok=%v err=%v", ok, err)
	}

	// Complete clears the lock and is terminal.
	ok, err = repo.Complete(dbc, claim1.ID, "worker-a", "done", datatypes.JSON([]byte(`{"title":"t"}`)))
	if err != nil || !ok {
		t.Fatalf("Complete: ok=%v err=%v", ok, err)
	}
	done, err := repo.GetByID(dbc, claim1.ID)
	if err != nil || done == nil {
		t.Fatalf("GetByID after complete: %v", err)
	}
	if done.Status != domain.JobStatusCompleted || done.ProcessingBy != nil || done.CompletedAt == nil {
		t.Fatalf("Complete: unexpected row %+v", done)
	}
	// Heartbeat after terminal transition matches nothing.
	ok, err = repo.Heartbeat(dbc, claim1.ID, "worker-a")
	if err != nil || ok {
		t.Fatalf("Heartbeat after complete: expected no-op, ok=%v err=%v", ok, err)
	}

	// Fail clears the lock and records the error.
	ok, err = repo.Fail(dbc, claim2.ID, "worker-b", "overview", "generation exhausted retries")
	if err != nil || !ok {
		t.Fatalf("Fail: ok=%v err=%v", ok, err)
	}
	failed, err := repo.GetByID(dbc, claim2.ID)
	if err != nil || failed == nil {
		t.Fatalf("GetByID after fail: %v", err)
	}
	if failed.Status != domain.JobStatusFailed || failed.Error == "" || failed.ProcessingBy != nil {
		t.Fatalf("Fail: unexpected row %+v", failed)
	}
}

func TestJobRepoRequeueStale(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)

	dbc := dbctx.Context{Ctx: context.Background(), Tx: tx}
	repo := NewJobRepo(db, testutil.Logger(t))

	now := time.Now().UTC()
	owner := uuid.New()

	job := seedJob(owner, domain.JobStatusQueued, now.Add(-time.Hour))
	if _, err := repo.Create(dbc, []*domain.GenerationJob{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	claimed, err := repo.ClaimNext(dbc, "worker-dead")
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: err=%v claimed=%v", err, claimed)
	}

	// Fresh heartbeat: not stale yet.
	n, err := repo.RequeueStale(dbc, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale (fresh): %v", err)
	}
	if n != 0 {
		t.Fatalf("RequeueStale (fresh): expected 0 requeued, got %d", n)
	}

	// Push the heartbeat into the past, as if the worker died mid-job.
	if err := tx.Model(&domain.GenerationJob{}).
		Where("id = ?", claimed.ID).
		Update("heartbeat_at", now.Add(-time.Hour)).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	n, err = repo.RequeueStale(dbc, now.Add(-time.Minute))
	if err != nil {
		t.Fatalf("RequeueStale (stale): %v", err)
	}
	if n != 1 {
		t.Fatalf("RequeueStale (stale): expected 1 requeued, got %d", n)
	}

	row, err := repo.GetByID(dbc, claimed.ID)
	if err != nil || row == nil {
		t.Fatalf("GetByID after requeue: %v", err)
	}
	if row.Status != domain.JobStatusQueued || row.ProcessingBy != nil || row.HeartbeatAt != nil || row.StartedAt != nil {
		t.Fatalf("RequeueStale: lock fields not cleared: %+v", row)
	}

	// A heartbeat from the dead worker's old incarnation must be a no-op now.
	ok, err := repo.Heartbeat(dbc, claimed.ID, "worker-dead")
	if err != nil || ok {
		t.Fatalf("Heartbeat after requeue: expected no-op, ok=%v err=%v", ok, err)
	}

	// And the job is claimable again.
	reclaimed, err := repo.ClaimNext(dbc, "worker-next")
	if err != nil || reclaimed == nil || reclaimed.ID != claimed.ID {
		t.Fatalf("ClaimNext after requeue: err=%v got=%v", err, reclaimed)
	}
	if reclaimed.Attempts != 2 {
		t.Fatalf("ClaimNext after requeue: expected attempts=2 got %d", reclaimed.Attempts)
	}
}

// Concurrent claims need separate sessions, so this test runs against the
// shared DB rather than a rolled-back transaction and cleans up after itself.
func TestJobRepoClaimNextAtMostOnce(t *testing.T) {
	db := testutil.DB(t)
	repo := NewJobRepo(db, testutil.Logger(t))
	ctx := context.Background()

	if err := db.Exec(`DELETE FROM course_generation_job`).Error; err != nil {
		t.Fatalf("clear jobs: %v", err)
	}

	job := seedJob(uuid.New(), domain.JobStatusQueued, time.Now().UTC())
	if _, err := repo.Create(dbctx.Context{Ctx: ctx}, []*domain.GenerationJob{job}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Exec(`DELETE FROM course_generation_job WHERE id = ?`, job.ID).Error
	})

	const claimers = 8
	var wg sync.WaitGroup
	results := make([]*domain.GenerationJob, claimers)
	errs := make([]error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = repo.ClaimNext(dbctx.Context{Ctx: ctx}, uuid.New().String())
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < claimers; i++ {
		if errs[i] != nil {
			t.Fatalf("ClaimNext #%d: %v", i, errs[i])
		}
		if results[i] != nil {
			winners++
			if results[i].ID != job.ID {
				t.Fatalf("ClaimNext #%d: claimed unexpected job %v", i, results[i].ID)
			}
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winning claim, got %d", winners)
	}
}
