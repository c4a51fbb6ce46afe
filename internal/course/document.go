package course

import (
	"github.com/courseforge/courseforge-backend/internal/domain"
)

// NewSkeleton expands a plan into a full CourseDoc whose lessons all carry
// placeholder content and status "generating". Snapshots built from it always
// expose the complete module/lesson shape, however little has been generated.
func NewSkeleton(plan *domain.Plan, title string) *domain.CourseDoc {
	doc := &domain.CourseDoc{
		Title:   title,
		Modules: make([]domain.CourseModule, 0, len(plan.Modules)),
	}
	if doc.Title == "" {
		doc.Title = plan.Title
	}
	for mi, pm := range plan.Modules {
		moduleID := ModuleID(pm, mi)
		mod := domain.CourseModule{
			ID:      moduleID,
			Title:   pm.Title,
			Lessons: make([]domain.Lesson, 0, len(pm.Submodules)),
		}
		for si, sub := range pm.Submodules {
			mod.Lessons = append(mod.Lessons, domain.Lesson{
				ID:       LessonID(moduleID, sub, si),
				Title:    sub.Title,
				Duration: sub.Duration,
				Status:   domain.LessonStatusGenerating,
				Content:  domain.LessonPlaceholder,
			})
		}
		doc.Modules = append(doc.Modules, mod)
	}
	return doc
}

// SetLessonReady writes the generated lesson body in place and flips its
// status. Returns false when the ids match nothing in the document.
func SetLessonReady(doc *domain.CourseDoc, moduleID, lessonID, content string, refs []string, activity *domain.Activity) bool {
	for mi := range doc.Modules {
		if doc.Modules[mi].ID != moduleID {
			continue
		}
		for li := range doc.Modules[mi].Lessons {
			l := &doc.Modules[mi].Lessons[li]
			if l.ID != lessonID {
				continue
			}
			l.Content = content
			l.Refs = refs
			l.Activity = activity
			l.Status = domain.LessonStatusReady
			return true
		}
	}
	return false
}
