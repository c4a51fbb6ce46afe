package domain

// Plan is the pre-normalized course outline an enqueuer may attach to a job
// payload. Module and submodule ids are stable identifiers; when absent the
// pipeline derives deterministic slugs so regenerated documents keep the same
// cross-references.
type Plan struct {
	Title   string       `json:"title,omitempty"`
	Modules []PlanModule `json:"modules"`
}

type PlanModule struct {
	ID         string          `json:"id,omitempty"`
	Title      string          `json:"title"`
	Submodules []PlanSubmodule `json:"submodules"`
}

type PlanSubmodule struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Duration    string `json:"duration,omitempty"`
	Description string `json:"description,omitempty"`
}

// TotalSubmodules counts the leaf items the pipeline will generate.
func (p *Plan) TotalSubmodules() int {
	if p == nil {
		return 0
	}
	n := 0
	for _, m := range p.Modules {
		n += len(m.Submodules)
	}
	return n
}
