package course

import (
	"fmt"

	"github.com/courseforge/courseforge-backend/internal/domain"
)

// ActivityBuilder supplies an interactive block for lessons the model emitted
// without one. Implementations must be deterministic for a given lesson.
type ActivityBuilder interface {
	Build(lessonTitle string, lessonContent string) *domain.Activity
}

type defaultActivityBuilder struct{}

// NewDefaultActivityBuilder returns the generic reflection-prompt builder used
// when no richer builder is wired.
func NewDefaultActivityBuilder() ActivityBuilder {
	return defaultActivityBuilder{}
}

func (defaultActivityBuilder) Build(lessonTitle string, _ string) *domain.Activity {
	return &domain.Activity{
		Kind: "reflection",
		Data: map[string]any{
			"prompt": fmt.Sprintf("Summarize the key ideas of %q in your own words, then note one question you still have.", lessonTitle),
		},
		Source: domain.ActivitySourceSynthesized,
	}
}
