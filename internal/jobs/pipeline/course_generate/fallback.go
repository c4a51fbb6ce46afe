package course_generate

import (
	"fmt"

	"github.com/courseforge/courseforge-backend/internal/course"
	"github.com/courseforge/courseforge-backend/internal/domain"
	jobrt "github.com/courseforge/courseforge-backend/internal/jobs/runtime"
)

type fallbackCourse struct {
	Title   string `json:"title"`
	Summary string `json:"summary,omitempty"`
	Modules []struct {
		Title   string `json:"title"`
		Lessons []struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		} `json:"lessons"`
	} `json:"modules"`
	Conclusion string `json:"conclusion,omitempty"`
}

// runFallback handles payloads without a normalized plan: one whole-document
// generation call, no incremental snapshots.
func (p *Pipeline) runFallback(jc *jobrt.Context, payload *domain.JobPayload, budget *int) {
	user := "Produce a complete course, with modules and full lesson content, from this context:\n\n" + payload.FullContext

	out, err := p.generate(jc, budget, "course_document", user, courseSchema())
	if err != nil {
		jc.Fail("generate", err)
		return
	}
	var fc fallbackCourse
	if err := decodeInto(out, &fc); err != nil {
		jc.Fail("generate", err)
		return
	}
	if len(fc.Modules) == 0 {
		jc.Fail("generate", fmt.Errorf("generated course has no modules"))
		return
	}

	doc := &domain.CourseDoc{
		Title:      fc.Title,
		Summary:    fc.Summary,
		Conclusion: fc.Conclusion,
	}
	for mi, m := range fc.Modules {
		moduleID := course.ModuleID(domain.PlanModule{Title: m.Title}, mi)
		mod := domain.CourseModule{ID: moduleID, Title: m.Title}
		for li, l := range m.Lessons {
			lesson := domain.Lesson{
				ID:      course.LessonID(moduleID, domain.PlanSubmodule{Title: l.Title}, li),
				Title:   l.Title,
				Status:  domain.LessonStatusReady,
				Content: l.Content,
			}
			lesson.Activity = p.activities.Build(l.Title, l.Content)
			mod.Lessons = append(mod.Lessons, lesson)
		}
		doc.Modules = append(doc.Modules, mod)
	}

	if !p.checkpoint(jc, "generate", doc) {
		return
	}

	ps := doc.Progress()
	summary := fmt.Sprintf("Generated %q: %d modules, %d lessons", doc.Title, len(doc.Modules), ps.ReadySubmodules)
	jc.Succeed(summary, doc)
}
