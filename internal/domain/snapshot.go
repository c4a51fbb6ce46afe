package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// CourseSnapshot holds the latest partial or final generation result for a
// job, keyed 1:1 by job id and overwritten in place on every pipeline step.
type CourseSnapshot struct {
	ID        uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	JobID     uuid.UUID      `gorm:"type:uuid;not null;uniqueIndex" json:"job_id"`
	Document  datatypes.JSON `gorm:"column:document;type:jsonb" json:"document"`
	Progress  datatypes.JSON `gorm:"column:progress;type:jsonb" json:"progress"`
	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
}

func (CourseSnapshot) TableName() string { return "course_snapshot" }
