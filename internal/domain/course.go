package domain

const (
	LessonStatusReady      = "ready"
	LessonStatusGenerating = "generating"
)

const (
	ActivitySourceModel       = "model"
	ActivitySourceSynthesized = "synthesized"
)

// LessonPlaceholder fills unfinished lessons in partial snapshots so the
// document shape stays complete while generation is in flight.
const LessonPlaceholder = "This lesson is still being generated."

// CourseDoc is the structured output document a pipeline builds: an ordered
// list of modules, each with ordered lessons. Module and lesson ids are
// deterministic slugs derived from the plan.
type CourseDoc struct {
	Title      string         `json:"title"`
	Summary    string         `json:"summary,omitempty"`
	Modules    []CourseModule `json:"modules"`
	Conclusion string         `json:"conclusion,omitempty"`
}

type CourseModule struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Lessons []Lesson `json:"lessons"`
}

type Lesson struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Duration string    `json:"duration,omitempty"`
	Status   string    `json:"status"`
	Content  string    `json:"content"`
	Refs     []string  `json:"refs,omitempty"`
	Activity *Activity `json:"activity,omitempty"`
}

// Activity is the interactive block attached to every ready lesson. Source
// records whether the model emitted it or a builder synthesized it.
type Activity struct {
	Kind   string         `json:"kind"`
	Data   map[string]any `json:"data,omitempty"`
	Source string         `json:"source"`
}

// ProgressSummary is the per-snapshot readiness report pushed to listeners.
type ProgressSummary struct {
	TotalSubmodules int              `json:"total_submodules"`
	ReadySubmodules int              `json:"ready_submodules"`
	Modules         []ModuleProgress `json:"modules"`
}

type ModuleProgress struct {
	ModuleID string `json:"module_id"`
	Total    int    `json:"total"`
	Ready    int    `json:"ready"`
}

// Progress recomputes the readiness summary from the document itself, so the
// snapshot can never disagree with the modules it accompanies.
func (d *CourseDoc) Progress() ProgressSummary {
	ps := ProgressSummary{Modules: make([]ModuleProgress, 0, len(d.Modules))}
	for _, m := range d.Modules {
		mp := ModuleProgress{ModuleID: m.ID, Total: len(m.Lessons)}
		for _, l := range m.Lessons {
			if l.Status == LessonStatusReady {
				mp.Ready++
			}
		}
		ps.TotalSubmodules += mp.Total
		ps.ReadySubmodules += mp.Ready
		ps.Modules = append(ps.Modules, mp)
	}
	return ps
}
