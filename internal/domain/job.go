package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

const JobTypeCourseGenerate = "course_generate"

// GenerationJob is one unit of asynchronous course-generation work. The row is
// the only shared mutable state between workers; every worker-side write is
// guarded by processing_by so a zombie worker cannot touch a reassigned job.
type GenerationJob struct {
	ID             uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	OwnerUserID    uuid.UUID `gorm:"type:uuid;not null;index" json:"owner_user_id"`
	ConversationID uuid.UUID `gorm:"type:uuid;index" json:"conversation_id"`
	JobType        string    `gorm:"column:job_type;not null;index" json:"job_type"`
	Status         string    `gorm:"column:status;not null;index" json:"status"`
	Stage          string    `gorm:"column:stage;not null;default:''" json:"stage"`
	Attempts       int       `gorm:"column:attempts;not null;default:0" json:"attempts"`

	ProcessingBy *string    `gorm:"column:processing_by;index" json:"processing_by,omitempty"`
	StartedAt    *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	HeartbeatAt  *time.Time `gorm:"column:heartbeat_at;index" json:"heartbeat_at,omitempty"`
	LastErrorAt  *time.Time `gorm:"column:last_error_at" json:"last_error_at,omitempty"`

	Payload       datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	ResultSummary string         `gorm:"column:result_summary" json:"result_summary,omitempty"`
	Result        datatypes.JSON `gorm:"column:result;type:jsonb" json:"result"`
	Error         string         `gorm:"column:error" json:"error,omitempty"`

	CreatedAt   time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"not null;default:now()" json:"updated_at"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`
}

func (GenerationJob) TableName() string { return "course_generation_job" }

// Terminal reports whether the job can never transition again.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
