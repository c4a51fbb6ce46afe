package worker

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/courseforge/courseforge-backend/internal/app"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/jobs/runtime"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
)

// memJobRepo is an in-memory queue with the same claim/guard semantics as the
// Postgres store, good enough to exercise the worker loops.
type memJobRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.GenerationJob
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{rows: make(map[uuid.UUID]*domain.GenerationJob)}
}

func (r *memJobRepo) Create(_ dbctx.Context, jobs []*domain.GenerationJob) ([]*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range jobs {
		r.rows[j.ID] = j
	}
	return jobs, nil
}

func (r *memJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *memJobRepo) GetByIDForOwner(_ dbctx.Context, id uuid.UUID, _ uuid.UUID) (*domain.GenerationJob, error) {
	return r.GetByID(dbctx.Context{}, id)
}

func (r *memJobRepo) ClaimNext(_ dbctx.Context, workerID string) (*domain.GenerationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	queued := make([]*domain.GenerationJob, 0)
	for _, j := range r.rows {
		if j.Status == domain.JobStatusQueued {
			queued = append(queued, j)
		}
	}
	if len(queued) == 0 {
		return nil, nil
	}
	sort.Slice(queued, func(i, k int) bool { return queued[i].CreatedAt.Before(queued[k].CreatedAt) })

	j := queued[0]
	now := time.Now()
	j.Status = domain.JobStatusProcessing
	j.ProcessingBy = &workerID
	j.Attempts++
	j.StartedAt = &now
	j.HeartbeatAt = &now
	return j, nil
}

func (r *memJobRepo) owned(j *domain.GenerationJob, workerID string) bool {
	return j != nil && j.Status == domain.JobStatusProcessing &&
		j.ProcessingBy != nil && *j.ProcessingBy == workerID
}

func (r *memJobRepo) Heartbeat(_ dbctx.Context, id uuid.UUID, workerID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.rows[id]
	if !r.owned(j, workerID) {
		return false, nil
	}
	now := time.Now()
	j.HeartbeatAt = &now
	return true, nil
}

func (r *memJobRepo) UpdateFieldsIfOwned(_ dbctx.Context, id uuid.UUID, workerID string, updates map[string]interface{}) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.rows[id]
	if !r.owned(j, workerID) {
		return false, nil
	}
	if v, ok := updates["stage"].(string); ok {
		j.Stage = v
	}
	return true, nil
}

func (r *memJobRepo) Complete(_ dbctx.Context, id uuid.UUID, workerID string, summary string, result datatypes.JSON) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.rows[id]
	if !r.owned(j, workerID) {
		return false, nil
	}
	now := time.Now()
	j.Status = domain.JobStatusCompleted
	j.ResultSummary = summary
	j.Result = result
	j.ProcessingBy = nil
	j.CompletedAt = &now
	return true, nil
}

func (r *memJobRepo) Fail(_ dbctx.Context, id uuid.UUID, workerID string, stage string, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.rows[id]
	if !r.owned(j, workerID) {
		return false, nil
	}
	j.Status = domain.JobStatusFailed
	j.Stage = stage
	j.Error = errMsg
	j.ProcessingBy = nil
	return true, nil
}

func (r *memJobRepo) RequeueStale(_ dbctx.Context, staleBefore time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, j := range r.rows {
		if j.Status == domain.JobStatusProcessing &&
			(j.HeartbeatAt == nil || j.HeartbeatAt.Before(staleBefore)) {
			j.Status = domain.JobStatusQueued
			j.ProcessingBy = nil
			j.StartedAt = nil
			j.HeartbeatAt = nil
			n++
		}
	}
	return n, nil
}

func (r *memJobRepo) status(id uuid.UUID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id].Status
}

type funcHandler struct {
	typ string
	fn  func(jc *runtime.Context) error
}

func (h *funcHandler) Type() string                  { return h.typ }
func (h *funcHandler) Run(jc *runtime.Context) error { return h.fn(jc) }

func fastConfig() app.Config {
	return app.Config{
		WorkerConcurrency:  2,
		IdlePollDelay:      5 * time.Millisecond,
		ErrorBackoffDelay:  5 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
		StaleJobTimeout:    20 * time.Millisecond,
		RequeueSweepPeriod: 10 * time.Millisecond,
		MaxRepairAttempts:  1,
	}
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func seedQueued(t *testing.T, repo *memJobRepo, jobType string) *domain.GenerationJob {
	t.Helper()
	raw, err := json.Marshal(domain.JobPayload{FullContext: "ctx"})
	require.NoError(t, err)
	job := &domain.GenerationJob{
		ID:          uuid.New(),
		OwnerUserID: uuid.New(),
		JobType:     jobType,
		Status:      domain.JobStatusQueued,
		Payload:     datatypes.JSON(raw),
		CreatedAt:   time.Now(),
	}
	_, err = repo.Create(dbctx.Context{}, []*domain.GenerationJob{job})
	require.NoError(t, err)
	return job
}

func waitForStatus(t *testing.T, repo *memJobRepo, id uuid.UUID, want string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if repo.status(id) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %q (now %q)", id, want, repo.status(id))
}

func startWorker(t *testing.T, repo *memJobRepo, registry *runtime.Registry) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWorker(fastConfig(), testLogger(t), repo, registry, nil)
	done := make(chan struct{})
	go func() {
		_ = w.Start(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("worker pool did not shut down")
		}
	})
	return cancel
}

func TestWorkerProcessesQueuedJob(t *testing.T) {
	repo := newMemJobRepo()
	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register(&funcHandler{
		typ: domain.JobTypeCourseGenerate,
		fn: func(jc *runtime.Context) error {
			jc.Succeed("done", map[string]any{"ok": true})
			return nil
		},
	}))

	job := seedQueued(t, repo, domain.JobTypeCourseGenerate)
	startWorker(t, repo, registry)

	waitForStatus(t, repo, job.ID, domain.JobStatusCompleted)
	final, _ := repo.GetByID(dbctx.Context{}, job.ID)
	assert.Equal(t, 1, final.Attempts)
	assert.Nil(t, final.ProcessingBy)
	assert.NotNil(t, final.CompletedAt)
}

func TestWorkerFailsJobWithUnknownType(t *testing.T) {
	repo := newMemJobRepo()
	registry := runtime.NewRegistry()

	job := seedQueued(t, repo, "unknown_type")
	startWorker(t, repo, registry)

	waitForStatus(t, repo, job.ID, domain.JobStatusFailed)
	final, _ := repo.GetByID(dbctx.Context{}, job.ID)
	assert.Equal(t, "dispatch", final.Stage)
	assert.Contains(t, final.Error, "no handler registered")
}

func TestWorkerRecoversHandlerPanic(t *testing.T) {
	repo := newMemJobRepo()
	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register(&funcHandler{
		typ: domain.JobTypeCourseGenerate,
		fn:  func(jc *runtime.Context) error { panic("boom") },
	}))

	job := seedQueued(t, repo, domain.JobTypeCourseGenerate)
	startWorker(t, repo, registry)

	waitForStatus(t, repo, job.ID, domain.JobStatusFailed)
	final, _ := repo.GetByID(dbctx.Context{}, job.ID)
	assert.Equal(t, "panic", final.Stage)
	assert.Contains(t, final.Error, "boom")
}

// A processing job whose worker stopped heartbeating gets swept back to the
// queue and finished by a live worker.
func TestWorkerSweepsAndReprocessesStaleJob(t *testing.T) {
	repo := newMemJobRepo()
	registry := runtime.NewRegistry()
	require.NoError(t, registry.Register(&funcHandler{
		typ: domain.JobTypeCourseGenerate,
		fn: func(jc *runtime.Context) error {
			jc.Succeed("done", nil)
			return nil
		},
	}))

	job := seedQueued(t, repo, domain.JobTypeCourseGenerate)

	// Fake a crashed worker: locked long ago, heartbeat long dead.
	deadWorker := "worker-dead"
	past := time.Now().Add(-time.Hour)
	job.Status = domain.JobStatusProcessing
	job.ProcessingBy = &deadWorker
	job.StartedAt = &past
	job.HeartbeatAt = &past
	job.Attempts = 1

	startWorker(t, repo, registry)

	waitForStatus(t, repo, job.ID, domain.JobStatusCompleted)
	final, _ := repo.GetByID(dbctx.Context{}, job.ID)
	assert.Equal(t, 2, final.Attempts)
	assert.Nil(t, final.ProcessingBy)
}
