package course_generate

import (
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/datatypes"

	"github.com/courseforge/courseforge-backend/internal/course"
	"github.com/courseforge/courseforge-backend/internal/domain"
	"github.com/courseforge/courseforge-backend/internal/genai"
	jobrt "github.com/courseforge/courseforge-backend/internal/jobs/runtime"
	"github.com/courseforge/courseforge-backend/internal/pkg/dbctx"
)

const systemPrompt = "You are an expert instructional designer producing course content. Follow the user's context faithfully and answer in the requested structure."

// Run drives one claimed job to a terminal state. Payload errors fail fast;
// structural errors consume the whole-job repair budget; a lost lock aborts
// silently because the sweeper already returned the job to the queue.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}

	payload, err := jc.Payload()
	if err != nil {
		jc.Fail("validate", err)
		return nil
	}

	budget := p.cfg.MaxRepairAttempts

	if payload.PlanNormalized == nil {
		p.runFallback(jc, payload, &budget)
		return nil
	}
	p.runPlanned(jc, payload, &budget)
	return nil
}

func (p *Pipeline) runPlanned(jc *jobrt.Context, payload *domain.JobPayload, budget *int) {
	plan := payload.PlanNormalized
	doc := course.NewSkeleton(plan, plan.Title)

	// Overview first: course title and summary.
	out, err := p.generate(jc, budget, "course_overview", overviewPrompt(payload), overviewSchema())
	if err != nil {
		jc.Fail("overview", err)
		return
	}
	var overview struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
	}
	if err := decodeInto(out, &overview); err != nil {
		jc.Fail("overview", err)
		return
	}
	if overview.Title != "" {
		doc.Title = overview.Title
	}
	doc.Summary = overview.Summary
	if !p.checkpoint(jc, "overview", doc) {
		return
	}

	// Lessons in plan order. Each prompt carries a running summary of what is
	// already written so later lessons can build on earlier ones.
	var completed []string
	for mi, pm := range plan.Modules {
		moduleID := course.ModuleID(pm, mi)
		for si, sub := range pm.Submodules {
			lessonID := course.LessonID(moduleID, sub, si)
			stage := "lesson:" + lessonID

			out, err := p.generate(jc, budget, "course_lesson", lessonPrompt(payload, pm, sub, completed), lessonSchema())
			if err != nil {
				jc.Fail(stage, err)
				return
			}
			lesson, err := decodeLesson(out)
			if err != nil {
				jc.Fail(stage, err)
				return
			}

			activity := lesson.toActivity()
			if activity == nil {
				activity = p.activities.Build(sub.Title, lesson.Content)
			}
			if !course.SetLessonReady(doc, moduleID, lessonID, lesson.Content, lesson.Refs, activity) {
				jc.Fail(stage, fmt.Errorf("lesson %s not present in document", lessonID))
				return
			}
			completed = append(completed, fmt.Sprintf("%s / %s", pm.Title, sub.Title))

			if !p.checkpoint(jc, stage, doc) {
				return
			}
		}
	}

	// Conclusion is a nice-to-have: a failure here never fails the job.
	out, err = p.generate(jc, budget, "course_conclusion", conclusionPrompt(payload, completed), conclusionSchema())
	if err != nil {
		p.log.Warn("Conclusion generation failed; finalizing without one", "job_id", jc.Job.ID, "error", err)
	} else {
		var concl struct {
			Conclusion string `json:"conclusion"`
		}
		if dErr := decodeInto(out, &concl); dErr == nil {
			doc.Conclusion = concl.Conclusion
		}
	}
	if !p.checkpoint(jc, "conclusion", doc) {
		return
	}

	ps := doc.Progress()
	summary := fmt.Sprintf("Generated %q: %d modules, %d lessons", doc.Title, len(doc.Modules), ps.ReadySubmodules)
	jc.Succeed(summary, doc)
}

// generate wraps the structured client with the whole-job repair budget.
// Every structural exhaustion consumes one repair attempt and retries the
// step; transport/auth errors propagate unchanged.
func (p *Pipeline) generate(jc *jobrt.Context, budget *int, schemaName string, user string, schema map[string]any) (map[string]any, error) {
	for {
		out, err := p.gen.GenerateStructured(jc.Ctx, systemPrompt, user, schemaName, schema)
		if err == nil {
			return out, nil
		}
		var sErr *genai.StructureError
		if !errors.As(err, &sErr) {
			return nil, err
		}
		*budget--
		if *budget < 0 {
			return nil, fmt.Errorf("repair budget exhausted: %w", err)
		}
		p.log.Warn("Structural failure; retrying step",
			"job_id", jc.Job.ID, "schema", schemaName, "repairs_left", *budget)
	}
}

// checkpoint persists the document snapshot and publishes progress. A false
// return means this worker no longer owns the job and must stop.
func (p *Pipeline) checkpoint(jc *jobrt.Context, stage string, doc *domain.CourseDoc) bool {
	ps := doc.Progress()

	docJSON, err := json.Marshal(doc)
	if err != nil {
		jc.Fail(stage, fmt.Errorf("marshal document: %w", err))
		return false
	}
	psJSON, err := json.Marshal(ps)
	if err != nil {
		jc.Fail(stage, fmt.Errorf("marshal progress: %w", err))
		return false
	}

	if err := p.snapshots.Upsert(dbctx.Context{Ctx: jc.Ctx}, jc.Job.ID, datatypes.JSON(docJSON), datatypes.JSON(psJSON)); err != nil {
		// The next checkpoint rewrites the whole document, so a missed
		// snapshot loses nothing durable.
		p.log.Warn("Snapshot upsert failed", "job_id", jc.Job.ID, "stage", stage, "error", err)
	}

	return jc.Progress(stage, &ps)
}

func decodeInto(m map[string]any, out any) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}
