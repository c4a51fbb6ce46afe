package snapshots

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
)

// SnapshotRepo stores the latest (possibly partial) generation result per
// job. One row per job, overwritten in place; never historized.
type SnapshotRepo interface {
	Upsert(dbc dbctx.Context, jobID uuid.UUID, document datatypes.JSON, progress datatypes.JSON) error
	GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*domain.CourseSnapshot, error)
	DeleteByJobID(dbc dbctx.Context, jobID uuid.UUID) error
}

type snapshotRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewSnapshotRepo(db *gorm.DB, baseLog *logger.Logger) SnapshotRepo {
	return &snapshotRepo{
		db:  db,
		log: baseLog.With("repo", "SnapshotRepo"),
	}
}

func (r *snapshotRepo) conn(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *snapshotRepo) Upsert(dbc dbctx.Context, jobID uuid.UUID, document datatypes.JSON, progress datatypes.JSON) error {
	if jobID == uuid.Nil {
		return nil
	}
	now := time.Now()
	row := &domain.CourseSnapshot{
		ID:        uuid.New(),
		JobID:     jobID,
		Document:  document,
		Progress:  progress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "job_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"document", "progress", "updated_at"}),
		}).
		Create(row).Error
}

func (r *snapshotRepo) GetByJobID(dbc dbctx.Context, jobID uuid.UUID) (*domain.CourseSnapshot, error) {
	if jobID == uuid.Nil {
		return nil, nil
	}
	var snap domain.CourseSnapshot
	err := r.conn(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Limit(1).
		Find(&snap).Error
	if err != nil {
		return nil, err
	}
	if snap.ID == uuid.Nil {
		return nil, nil
	}
	return &snap, nil
}

func (r *snapshotRepo) DeleteByJobID(dbc dbctx.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return nil
	}
	return r.conn(dbc).WithContext(dbc.Ctx).
		Where("job_id = ?", jobID).
		Delete(&domain.CourseSnapshot{}).Error
}
