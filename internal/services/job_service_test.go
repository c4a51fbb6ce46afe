package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
)

type stubJobRepo struct {
	created []*domain.GenerationJob
	byOwner map[uuid.UUID]*domain.GenerationJob
}

func (r *stubJobRepo) Create(_ dbctx.Context, jobs []*domain.GenerationJob) ([]*domain.GenerationJob, error) {
	r.created = append(r.created, jobs...)
	return jobs, nil
}

func (r *stubJobRepo) GetByID(_ dbctx.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	return r.byOwner[id], nil
}

func (r *stubJobRepo) GetByIDForOwner(_ dbctx.Context, id uuid.UUID, ownerID uuid.UUID) (*domain.GenerationJob, error) {
	j := r.byOwner[id]
	if j == nil || j.OwnerUserID != ownerID {
		return nil, nil
	}
	return j, nil
}

func (r *stubJobRepo) ClaimNext(_ dbctx.Context, _ string) (*domain.GenerationJob, error) {
	return nil, nil
}

func (r *stubJobRepo) Heartbeat(_ dbctx.Context, _ uuid.UUID, _ string) (bool, error) {
	return false, nil
}

func (r *stubJobRepo) UpdateFieldsIfOwned(_ dbctx.Context, _ uuid.UUID, _ string, _ map[string]interface{}) (bool, error) {
	return false, nil
}

func (r *stubJobRepo) Complete(_ dbctx.Context, _ uuid.UUID, _ string, _ string, _ datatypes.JSON) (bool, error) {
	return false, nil
}

func (r *stubJobRepo) Fail(_ dbctx.Context, _ uuid.UUID, _ string, _ string, _ string) (bool, error) {
	return false, nil
}

func (r *stubJobRepo) RequeueStale(_ dbctx.Context, _ time.Time) (int64, error) { return 0, nil }

type stubSnapshotRepo struct {
	snap *domain.CourseSnapshot
}

func (r *stubSnapshotRepo) Upsert(_ dbctx.Context, _ uuid.UUID, _ datatypes.JSON, _ datatypes.JSON) error {
	return nil
}

func (r *stubSnapshotRepo) GetByJobID(_ dbctx.Context, _ uuid.UUID) (*domain.CourseSnapshot, error) {
	return r.snap, nil
}

func (r *stubSnapshotRepo) DeleteByJobID(_ dbctx.Context, _ uuid.UUID) error { return nil }

type countingNotifier struct {
	created int
}

func (n *countingNotifier) JobCreated(_ uuid.UUID, _ *domain.GenerationJob) { n.created++ }
func (n *countingNotifier) JobProgress(_ uuid.UUID, _ *domain.GenerationJob, _ string, _ *domain.ProgressSummary, _ string) {
}
func (n *countingNotifier) JobFailed(_ uuid.UUID, _ *domain.GenerationJob, _ string, _ string) {}
func (n *countingNotifier) JobDone(_ uuid.UUID, _ *domain.GenerationJob)                       {}

func serviceLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("test")
	require.NoError(t, err)
	return log
}

func TestEnqueueValidatesAndCreatesQueuedJob(t *testing.T) {
	repo := &stubJobRepo{byOwner: map[uuid.UUID]*domain.GenerationJob{}}
	notify := &countingNotifier{}
	svc := NewJobService(serviceLogger(t), repo, &stubSnapshotRepo{}, notify)
	owner := uuid.New()

	job, err := svc.Enqueue(context.Background(), owner, uuid.Nil, domain.JobPayload{FullContext: "ctx"})
	require.NoError(t, err)
	require.Len(t, repo.created, 1)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, domain.JobTypeCourseGenerate, job.JobType)
	assert.Equal(t, owner, job.OwnerUserID)
	assert.Equal(t, 1, notify.created)

	var payload domain.JobPayload
	require.NoError(t, json.Unmarshal(job.Payload, &payload))
	assert.Equal(t, "ctx", payload.FullContext)
}

func TestEnqueueRejectsInvalidPayload(t *testing.T) {
	repo := &stubJobRepo{byOwner: map[uuid.UUID]*domain.GenerationJob{}}
	svc := NewJobService(serviceLogger(t), repo, &stubSnapshotRepo{}, nil)

	_, err := svc.Enqueue(context.Background(), uuid.New(), uuid.Nil, domain.JobPayload{})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
	assert.Empty(t, repo.created)

	_, err = svc.Enqueue(context.Background(), uuid.New(), uuid.Nil, domain.JobPayload{
		FullContext:    "ctx",
		PlanNormalized: &domain.Plan{},
	})
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestGetForOwnerMergesSnapshotProgress(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()
	job := &domain.GenerationJob{
		ID:          jobID,
		OwnerUserID: owner,
		JobType:     domain.JobTypeCourseGenerate,
		Status:      domain.JobStatusProcessing,
		Stage:       "lesson:m1-basics-1-syntax",
		Attempts:    1,
	}
	snap := &domain.CourseSnapshot{
		JobID:    jobID,
		Document: datatypes.JSON([]byte(`{"title":"Partial"}`)),
		Progress: datatypes.JSON([]byte(`{"total_submodules":3,"ready_submodules":1,"modules":[]}`)),
	}

	svc := NewJobService(serviceLogger(t),
		&stubJobRepo{byOwner: map[uuid.UUID]*domain.GenerationJob{jobID: job}},
		&stubSnapshotRepo{snap: snap},
		nil,
	)

	view, err := svc.GetForOwner(context.Background(), jobID, owner)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, view.Status)
	assert.Equal(t, "lesson:m1-basics-1-syntax", view.Stage)
	require.NotNil(t, view.Progress)
	assert.Equal(t, 1, view.Progress.ReadySubmodules)
	assert.Equal(t, 3, view.Progress.TotalSubmodules)
	assert.JSONEq(t, `{"title":"Partial"}`, string(view.Document))
	assert.Empty(t, view.Result)
}

func TestGetForOwnerHidesOtherUsersJobs(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()
	job := &domain.GenerationJob{ID: jobID, OwnerUserID: owner, Status: domain.JobStatusQueued}

	svc := NewJobService(serviceLogger(t),
		&stubJobRepo{byOwner: map[uuid.UUID]*domain.GenerationJob{jobID: job}},
		&stubSnapshotRepo{},
		nil,
	)

	_, err := svc.GetForOwner(context.Background(), jobID, uuid.New())
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetForOwnerExposesResultWhenCompleted(t *testing.T) {
	owner := uuid.New()
	jobID := uuid.New()
	now := time.Now()
	job := &domain.GenerationJob{
		ID:            jobID,
		OwnerUserID:   owner,
		Status:        domain.JobStatusCompleted,
		Result:        datatypes.JSON([]byte(`{"title":"Done"}`)),
		ResultSummary: "summary",
		CompletedAt:   &now,
	}

	svc := NewJobService(serviceLogger(t),
		&stubJobRepo{byOwner: map[uuid.UUID]*domain.GenerationJob{jobID: job}},
		&stubSnapshotRepo{},
		nil,
	)

	view, err := svc.GetForOwner(context.Background(), jobID, owner)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Done"}`, string(view.Result))
	assert.Equal(t, "summary", view.ResultSummary)
	assert.Empty(t, view.Document)
}
