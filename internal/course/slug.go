package course

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/courseforge/courseforge-backend/internal/domain"
)

// Slug lowercases s and collapses every run of non-alphanumeric characters
// into a single hyphen. The same input always yields the same slug, so ids
// derived from a plan survive regeneration.
func Slug(s string) string {
	var b strings.Builder
	prevHyphen := true
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			prevHyphen = false
			continue
		}
		if !prevHyphen {
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}

// ModuleID prefers the plan-provided id; otherwise derives a stable slug from
// the module's position and title.
func ModuleID(m domain.PlanModule, index int) string {
	if id := strings.TrimSpace(m.ID); id != "" {
		return Slug(id)
	}
	return Slug(fmt.Sprintf("m%d-%s", index+1, m.Title))
}

// LessonID prefers the plan-provided id; otherwise derives a stable slug from
// the owning module id, the lesson's position and its title.
func LessonID(moduleID string, sub domain.PlanSubmodule, index int) string {
	if id := strings.TrimSpace(sub.ID); id != "" {
		return Slug(id)
	}
	return Slug(fmt.Sprintf("%s-%d-%s", moduleID, index+1, sub.Title))
}
