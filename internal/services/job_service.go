package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/courseforge/courseforge-backend/internal/data/repos/jobs"
	"github.com/courseforge/courseforge-backend/internal/data/repos/snapshots"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
)

var ErrJobNotFound = errors.New("job not found")

// JobView is the owner-facing read model: job state plus the latest snapshot's
// progress, never internal lock bookkeeping.
type JobView struct {
	ID            uuid.UUID               `json:"id"`
	JobType       string                  `json:"job_type"`
	Status        string                  `json:"status"`
	Stage         string                  `json:"stage,omitempty"`
	Attempts      int                     `json:"attempts"`
	Progress      *domain.ProgressSummary `json:"progress,omitempty"`
	Document      json.RawMessage         `json:"document,omitempty"`
	Result        json.RawMessage         `json:"result,omitempty"`
	ResultSummary string                  `json:"result_summary,omitempty"`
	Error         string                  `json:"error,omitempty"`
	CreatedAt     time.Time               `json:"created_at"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty"`
}

type JobService interface {
	Enqueue(ctx context.Context, ownerUserID uuid.UUID, conversationID uuid.UUID, payload domain.JobPayload) (*domain.GenerationJob, error)
	GetForOwner(ctx context.Context, jobID uuid.UUID, ownerUserID uuid.UUID) (*JobView, error)
}

type jobService struct {
	log       *logger.Logger
	jobs      jobs.JobRepo
	snapshots snapshots.SnapshotRepo
	notify    JobNotifier
}

func NewJobService(baseLog *logger.Logger, jobRepo jobs.JobRepo, snapshotRepo snapshots.SnapshotRepo, notify JobNotifier) JobService {
	return &jobService{
		log:       baseLog.With("service", "JobService"),
		jobs:      jobRepo,
		snapshots: snapshotRepo,
		notify:    notify,
	}
}

// Enqueue validates the payload shape up front so malformed requests are
// rejected at the API boundary instead of failing later on a worker.
func (s *jobService) Enqueue(ctx context.Context, ownerUserID uuid.UUID, conversationID uuid.UUID, payload domain.JobPayload) (*domain.GenerationJob, error) {
	if ownerUserID == uuid.Nil {
		return nil, fmt.Errorf("owner user id required")
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	job := &domain.GenerationJob{
		ID:             uuid.New(),
		OwnerUserID:    ownerUserID,
		ConversationID: conversationID,
		JobType:        domain.JobTypeCourseGenerate,
		Status:         domain.JobStatusQueued,
		Payload:        datatypes.JSON(raw),
		Result:         datatypes.JSON([]byte(`{}`)),
	}
	if _, err := s.jobs.Create(dbctx.Context{Ctx: ctx}, []*domain.GenerationJob{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Info("Job enqueued", "job_id", job.ID, "owner_user_id", ownerUserID)

	if s.notify != nil {
		s.notify.JobCreated(ownerUserID, job)
	}
	return job, nil
}

func (s *jobService) GetForOwner(ctx context.Context, jobID uuid.UUID, ownerUserID uuid.UUID) (*JobView, error) {
	job, err := s.jobs.GetByIDForOwner(dbctx.Context{Ctx: ctx}, jobID, ownerUserID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrJobNotFound
	}

	view := &JobView{
		ID:            job.ID,
		JobType:       job.JobType,
		Status:        job.Status,
		Stage:         job.Stage,
		Attempts:      job.Attempts,
		ResultSummary: job.ResultSummary,
		Error:         job.Error,
		CreatedAt:     job.CreatedAt,
		CompletedAt:   job.CompletedAt,
	}
	if job.Status == domain.JobStatusCompleted && len(job.Result) > 0 {
		view.Result = json.RawMessage(job.Result)
	}

	snap, err := s.snapshots.GetByJobID(dbctx.Context{Ctx: ctx}, jobID)
	if err != nil {
		s.log.Warn("Snapshot lookup failed", "job_id", jobID, "error", err)
		return view, nil
	}
	if snap != nil {
		if len(snap.Progress) > 0 {
			var ps domain.ProgressSummary
			if uErr := json.Unmarshal(snap.Progress, &ps); uErr == nil {
				view.Progress = &ps
			}
		}
		// Expose the partial document while the job is still running.
		if job.Status == domain.JobStatusProcessing && len(snap.Document) > 0 {
			view.Document = json.RawMessage(snap.Document)
		}
	}
	return view, nil
}
