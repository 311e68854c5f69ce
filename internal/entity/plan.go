package entity

import "fmt"

// WorkItem is one file-level change. Content starts as placeholder text from
// the planner and may be replaced by generated content.
type WorkItem struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	Description string `json:"description"`
	// Generated is set once Content holds generator output, so a resumed
	// job does not pay for the same item twice.
	Generated bool `json:"generated,omitempty"`
}

// WorkPlan is the ordered set of changes derived from a job's spec. Items are
// applied in sequence.
type WorkPlan struct {
	Title   string     `json:"title"`
	Branch  string     `json:"branch"`
	Items   []WorkItem `json:"items"`
	Summary string     `json:"summary"`
}

func (p *WorkPlan) Validate() error {
	seen := make(map[string]struct{}, len(p.Items))
	for _, it := range p.Items {
		if it.Path == "" {
			return fmt.Errorf("work item without path")
		}
		if _, ok := seen[it.Path]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicatePath, it.Path)
		}
		seen[it.Path] = struct{}{}
	}
	return nil
}
