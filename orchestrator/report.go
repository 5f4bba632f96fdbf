package orchestrator

import (
	"strings"

	"github.com/c360studio/desai/search"
	"github.com/c360studio/desai/workflow"
)

// Status is the terminal status of a run.
type Status string

const (
	// StatusFull means the store reached the requested minimum.
	StatusFull Status = "full"

	// StatusPartial means the round limit was reached below the minimum.
	StatusPartial Status = "partial"
)

// BuildReport summarizes one round. ItemsFound counts the rows of each task
// that the store accepted in that round, so duplicates of earlier rows do
// not count. Tasks appear in plan order.
func BuildReport(round int, outcomes []search.TaskOutcome, accepted []workflow.NormalizedRow, total int, feedback []string) *workflow.PerformanceReport {
	perTask := make(map[string]int, len(outcomes))
	for _, row := range accepted {
		perTask[row.SourceQueryID()]++
	}

	report := &workflow.PerformanceReport{
		Round:        round,
		TotalItems:   total,
		Searches:     make([]workflow.SearchOutcome, 0, len(outcomes)),
		UserFeedback: strings.Join(feedback, "\n"),
	}
	for _, o := range outcomes {
		found := perTask[o.Task.ID]
		note := o.Note
		if note == "" && found == 0 && o.Returned > 0 {
			note = "only duplicates"
		}
		report.Searches = append(report.Searches, workflow.SearchOutcome{
			ID:         o.Task.ID,
			Query:      o.Task.Query,
			Strategy:   o.Task.Strategy,
			ItemsFound: found,
			Note:       note,
		})
	}
	return report
}
