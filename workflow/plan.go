package workflow

import (
	"fmt"
	"slices"
	"strings"
)

// SearchTask is one query the executor will run.
type SearchTask struct {
	// ID is unique within a run (e.g. "g0007" for generated, "u0001" for user-added).
	ID string `json:"id"`

	// Query is the text sent to the search backend.
	Query string `json:"query"`

	// Strategy selects backend parameters.
	Strategy Strategy `json:"strategy"`

	// Rationale explains why the task was proposed.
	Rationale string `json:"rationale,omitempty"`
}

// Validate checks that the task can be placed in a plan.
func (t SearchTask) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return ErrEmptyTaskID
	}
	if strings.TrimSpace(t.Query) == "" {
		return fmt.Errorf("%w (task %s)", ErrEmptyTaskQuery, t.ID)
	}
	return nil
}

// SearchPlan is an ordered set of tasks with unique IDs.
// A plan is never mutated; every edit returns a new plan.
type SearchPlan struct {
	tasks []SearchTask
}

// NewSearchPlan builds a plan, rejecting duplicate or empty IDs.
func NewSearchPlan(tasks []SearchTask) (*SearchPlan, error) {
	seen := make(map[string]struct{}, len(tasks))
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[t.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTaskID, t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return &SearchPlan{tasks: slices.Clone(tasks)}, nil
}

// EmptyPlan returns a plan with no tasks.
func EmptyPlan() *SearchPlan {
	return &SearchPlan{}
}

// Tasks returns a copy of the plan's tasks in order.
func (p *SearchPlan) Tasks() []SearchTask {
	if p == nil {
		return nil
	}
	return slices.Clone(p.tasks)
}

// Len returns the number of tasks.
func (p *SearchPlan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.tasks)
}

// IDs returns the task IDs in order.
func (p *SearchPlan) IDs() []string {
	if p == nil {
		return nil
	}
	ids := make([]string, len(p.tasks))
	for i, t := range p.tasks {
		ids[i] = t.ID
	}
	return ids
}

// Get returns the task with the given ID.
func (p *SearchPlan) Get(id string) (SearchTask, bool) {
	if p == nil {
		return SearchTask{}, false
	}
	for _, t := range p.tasks {
		if t.ID == id {
			return t, true
		}
	}
	return SearchTask{}, false
}

// Contains reports whether the plan has a task with the given ID.
func (p *SearchPlan) Contains(id string) bool {
	_, ok := p.Get(id)
	return ok
}

// Without returns a plan minus the given IDs. Unknown IDs are ignored.
func (p *SearchPlan) Without(ids ...string) *SearchPlan {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	kept := make([]SearchTask, 0, p.Len())
	for _, t := range p.Tasks() {
		if _, ok := drop[t.ID]; !ok {
			kept = append(kept, t)
		}
	}
	return &SearchPlan{tasks: kept}
}

// With returns a plan with the given tasks appended.
func (p *SearchPlan) With(tasks ...SearchTask) (*SearchPlan, error) {
	return NewSearchPlan(append(p.Tasks(), tasks...))
}

// Select returns the tasks whose IDs appear in ids, in plan order.
// IDs not in the plan are ignored.
func (p *SearchPlan) Select(ids []string) *SearchPlan {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	kept := make([]SearchTask, 0, len(want))
	for _, t := range p.Tasks() {
		if _, ok := want[t.ID]; ok {
			kept = append(kept, t)
		}
	}
	return &SearchPlan{tasks: kept}
}
