package course_generate

import (
	"fmt"
	"strings"

	"github.com/courseforge/courseforge-backend/internal/domain"
)

type lessonOutput struct {
	Content  string          `json:"content"`
	Refs     []string        `json:"refs,omitempty"`
	Activity *activityOutput `json:"activity,omitempty"`
}

type activityOutput struct {
	Kind string         `json:"kind"`
	Data map[string]any `json:"data,omitempty"`
}

func decodeLesson(m map[string]any) (*lessonOutput, error) {
	var l lessonOutput
	if err := decodeInto(m, &l); err != nil {
		return nil, err
	}
	if strings.TrimSpace(l.Content) == "" {
		return nil, fmt.Errorf("lesson output has empty content")
	}
	return &l, nil
}

func (l *lessonOutput) toActivity() *domain.Activity {
	if l.Activity == nil || strings.TrimSpace(l.Activity.Kind) == "" {
		return nil
	}
	return &domain.Activity{
		Kind:   l.Activity.Kind,
		Data:   l.Activity.Data,
		Source: domain.ActivitySourceModel,
	}
}

func overviewPrompt(payload *domain.JobPayload) string {
	var b strings.Builder
	b.WriteString("Write the title and a short summary for a course based on this context:\n\n")
	b.WriteString(payload.FullContext)
	if plan := payload.PlanNormalized; plan != nil {
		b.WriteString("\n\nThe course follows this outline:\n")
		writeOutline(&b, plan)
	}
	return b.String()
}

func lessonPrompt(payload *domain.JobPayload, mod domain.PlanModule, sub domain.PlanSubmodule, completed []string) string {
	var b strings.Builder
	b.WriteString("Course context:\n\n")
	b.WriteString(payload.FullContext)
	b.WriteString("\n\nWrite the full lesson content for:\n")
	fmt.Fprintf(&b, "Module: %s\nLesson: %s\n", mod.Title, sub.Title)
	if sub.Description != "" {
		fmt.Fprintf(&b, "Lesson description: %s\n", sub.Description)
	}
	if sub.Duration != "" {
		fmt.Fprintf(&b, "Target duration: %s\n", sub.Duration)
	}
	if len(completed) > 0 {
		b.WriteString("\nLessons already written, in order; build on them without repeating:\n")
		for _, c := range completed {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}
	b.WriteString("\nInclude references where relevant and, if it fits the material, one interactive activity.")
	return b.String()
}

func conclusionPrompt(payload *domain.JobPayload, completed []string) string {
	var b strings.Builder
	b.WriteString("Write a short closing section for a course with these lessons:\n")
	for _, c := range completed {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	b.WriteString("\nCourse context:\n\n")
	b.WriteString(payload.FullContext)
	return b.String()
}

func writeOutline(b *strings.Builder, plan *domain.Plan) {
	for _, m := range plan.Modules {
		fmt.Fprintf(b, "- %s\n", m.Title)
		for _, s := range m.Submodules {
			fmt.Fprintf(b, "  - %s\n", s.Title)
		}
	}
}
