package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
)

// JobRepo is the job store plus claim protocol. ClaimNext is the sole path
// from queued to processing; every worker-side mutation is conditioned on
// processing_by so writes from a requeued worker's old incarnation are no-ops.
type JobRepo interface {
	Create(dbc dbctx.Context, jobs []*domain.GenerationJob) ([]*domain.GenerationJob, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.GenerationJob, error)
	GetByIDForOwner(dbc dbctx.Context, id uuid.UUID, ownerUserID uuid.UUID) (*domain.GenerationJob, error)
	ClaimNext(dbc dbctx.Context, workerID string) (*domain.GenerationJob, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID, workerID string) (bool, error)
	UpdateFieldsIfOwned(dbc dbctx.Context, id uuid.UUID, workerID string, updates map[string]interface{}) (bool, error)
	Complete(dbc dbctx.Context, id uuid.UUID, workerID string, summary string, result datatypes.JSON) (bool, error)
	Fail(dbc dbctx.Context, id uuid.UUID, workerID string, stage string, errMsg string) (bool, error)
	RequeueStale(dbc dbctx.Context, staleBefore time.Time) (int64, error)
}

type jobRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRepo(db *gorm.DB, baseLog *logger.Logger) JobRepo {
	return &jobRepo{
		db:  db,
		log: baseLog.With("repo", "JobRepo"),
	}
}

func (r *jobRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *jobRepo) Create(dbc dbctx.Context, jobs []*domain.GenerationJob) ([]*domain.GenerationJob, error) {
	if len(jobs) == 0 {
		return []*domain.GenerationJob{}, nil
	}
	if err := r.conn(dbc).WithContext(dbc.Ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*domain.GenerationJob, error) {
	if id == uuid.Nil {
		return nil, nil
	}
	var job domain.GenerationJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

func (r *jobRepo) GetByIDForOwner(dbc dbctx.Context, id uuid.UUID, ownerUserID uuid.UUID) (*domain.GenerationJob, error) {
	if id == uuid.Nil || ownerUserID == uuid.Nil {
		return nil, nil
	}
	var job domain.GenerationJob
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("id = ? AND owner_user_id = ?", id, ownerUserID).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNext atomically claims the oldest queued job. The row is selected FOR
// UPDATE SKIP LOCKED inside one transaction, so concurrent claimers never
// block on, or double-claim, the same row. Correctness lives here, not in any
// in-process mutex.
func (r *jobRepo) ClaimNext(dbc dbctx.Context, workerID string) (*domain.GenerationJob, error) {
	now := time.Now()
	var claimed *domain.GenerationJob
	err := r.conn(dbc).WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var job domain.GenerationJob
		qErr := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", domain.JobStatusQueued).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&domain.GenerationJob{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":        domain.JobStatusProcessing,
				"processing_by": workerID,
				"attempts":      gorm.Expr("attempts + 1"),
				"started_at":    now,
				"heartbeat_at":  now,
				"updated_at":    now,
			}).Error
		if uErr != nil {
			return uErr
		}
		job.Status = domain.JobStatusProcessing
		job.ProcessingBy = &workerID
		job.Attempts++
		job.StartedAt = &now
		job.HeartbeatAt = &now
		job.UpdatedAt = now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Heartbeat refreshes liveness for the worker that holds the lock. A lagging
// heartbeat from a worker that lost the job matches zero rows.
func (r *jobRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID, workerID string) (bool, error) {
	if id == uuid.Nil || workerID == "" {
		return false, nil
	}
	now := time.Now()
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND processing_by = ? AND status = ?", id, workerID, domain.JobStatusProcessing).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) UpdateFieldsIfOwned(dbc dbctx.Context, id uuid.UUID, workerID string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil || workerID == "" {
		return false, nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GenerationJob{}).
		Where("id = ? AND processing_by = ? AND status = ?", id, workerID, domain.JobStatusProcessing).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRepo) Complete(dbc dbctx.Context, id uuid.UUID, workerID string, summary string, result datatypes.JSON) (bool, error) {
	now := time.Now()
	return r.UpdateFieldsIfOwned(dbc, id, workerID, map[string]interface{}{
		"status":         domain.JobStatusCompleted,
		"result_summary": summary,
		"result":         result,
		"error":          "",
		"processing_by":  nil,
		"completed_at":   now,
		"updated_at":     now,
	})
}

func (r *jobRepo) Fail(dbc dbctx.Context, id uuid.UUID, workerID string, stage string, errMsg string) (bool, error) {
	now := time.Now()
	return r.UpdateFieldsIfOwned(dbc, id, workerID, map[string]interface{}{
		"status":        domain.JobStatusFailed,
		"stage":         stage,
		"error":         errMsg,
		"last_error_at": now,
		"processing_by": nil,
		"updated_at":    now,
	})
}

// RequeueStale resets every processing job whose heartbeat is missing or
// older than the cutoff back to queued. This is the liveness recovery for
// crashed workers; a merely slow worker's next guarded write will match zero
// rows once its job is gone.
func (r *jobRepo) RequeueStale(dbc dbctx.Context, staleBefore time.Time) (int64, error) {
	res := r.conn(dbc).WithContext(dbc.Ctx).
		Model(&domain.GenerationJob{}).
		Where("status = ? AND (heartbeat_at IS NULL OR heartbeat_at < ?)", domain.JobStatusProcessing, staleBefore).
		Updates(map[string]interface{}{
			"status":        domain.JobStatusQueued,
			"processing_by": nil,
			"started_at":    nil,
			"heartbeat_at":  nil,
			"updated_at":    time.Now(),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
