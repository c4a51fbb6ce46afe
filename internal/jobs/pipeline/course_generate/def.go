package course_generate

import (
	"github.com/courseforge/courseforge-backend/internal/app"
	"github.com/courseforge/courseforge-backend/internal/course"
	"github.com/courseforge/courseforge-backend/internal/data/repos/snapshots"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/genai"
	"github.com/courseforge/courseforge-backend/internal/pkg/logger"
)

// Pipeline generates a complete course document for one claimed job, writing
// a durable snapshot of partial results after every step.
type Pipeline struct {
	cfg        app.Config
	log        *logger.Logger
	snapshots  snapshots.SnapshotRepo
	gen        genai.Generator
	activities course.ActivityBuilder
}

func New(
	cfg app.Config,
	baseLog *logger.Logger,
	snapshotRepo snapshots.SnapshotRepo,
	gen genai.Generator,
	activities course.ActivityBuilder,
) *Pipeline {
	if activities == nil {
		activities = course.NewDefaultActivityBuilder()
	}
	return &Pipeline{
		cfg:        cfg,
		log:        baseLog.With("job", domain.JobTypeCourseGenerate),
		snapshots:  snapshotRepo,
		gen:        gen,
		activities: activities,
	}
}

func (p *Pipeline) Type() string { return domain.JobTypeCourseGenerate }
