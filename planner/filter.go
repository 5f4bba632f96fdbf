package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/model"
	"github.com/c360studio/desai/prompts"
	"github.com/c360studio/desai/workflow"
)

const filterSystemPrompt = "You select the most promising searches."

// FilterConfig sizes the filter target.
type FilterConfig struct {
	// FilteredCount is the requested plan size. Zero derives it from the
	// request's minimum item count.
	FilteredCount int

	// GroupSize rounds the target up to a multiple of itself.
	GroupSize int
}

// FilterResult is the outcome of one filter pass.
type FilterResult struct {
	Plan   *workflow.SearchPlan
	Target int

	// Selected holds the ids the model asked for, before intersection.
	Selected []string

	// Fallback is set when the full candidate list was kept because the
	// selection was empty or the call failed.
	Fallback bool
	Reason   string
}

// Filter narrows candidates to a plan with one model call. The count it asks
// for is advisory: the result is never truncated or padded.
type Filter struct {
	llm     llm.Completer
	prompts prompts.Getter
	cfg     FilterConfig
	logger  *slog.Logger
}

// NewFilter creates a filter.
func NewFilter(client llm.Completer, repo prompts.Getter, cfg FilterConfig, opts ...Option) *Filter {
	s := applyOptions(opts)
	return &Filter{
		llm:     client,
		prompts: repo,
		cfg:     cfg,
		logger:  s.logger,
	}
}

// Target returns the number of searches to ask the model for.
func (f *Filter) Target(minItems int) int {
	target := f.cfg.FilteredCount
	if target <= 0 {
		target = max(1, minItems/4)
	}
	if g := f.cfg.GroupSize; g > 1 {
		target = (target + g - 1) / g * g
	}
	return target
}

type filterCandidate struct {
	ID        string `json:"id"`
	Query     string `json:"query"`
	Strategy  string `json:"strategy"`
	Rationale string `json:"rationale"`
}

type filterPrompt struct {
	FilteredCount int
	Feedback      string
	Tasks         string
}

// Filter selects a plan from candidates. Unknown ids in the model's answer
// are ignored; an empty intersection or a failed call keeps every
// candidate. Errors are limited to invalid candidates, prompt rendering and
// context cancellation.
func (f *Filter) Filter(ctx context.Context, candidates []workflow.SearchTask, minItems int, feedback []string) (FilterResult, error) {
	all, err := workflow.NewSearchPlan(candidates)
	if err != nil {
		return FilterResult{}, fmt.Errorf("candidate list: %w", err)
	}

	target := f.Target(minItems)
	if all.Len() == 0 {
		return FilterResult{Plan: all, Target: target}, nil
	}

	serialized := make([]filterCandidate, 0, len(candidates))
	for _, t := range candidates {
		serialized = append(serialized, filterCandidate{
			ID:        t.ID,
			Query:     t.Query,
			Strategy:  t.Strategy.String(),
			Rationale: t.Rationale,
		})
	}
	tasksJSON, err := json.MarshalIndent(serialized, "", "  ")
	if err != nil {
		return FilterResult{}, fmt.Errorf("encode candidates: %w", err)
	}

	fb := strings.Join(feedback, "\n")
	if fb == "" {
		fb = "None"
	}
	prompt, err := f.prompts.Render(prompts.FilterSearches, filterPrompt{
		FilteredCount: target,
		Feedback:      fb,
		Tasks:         string(tasksJSON),
	})
	if err != nil {
		return FilterResult{}, fmt.Errorf("render %s: %w", prompts.FilterSearches, err)
	}

	resp, err := f.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilitySearchFilter.String(),
		Messages: []llm.Message{
			{Role: "system", Content: filterSystemPrompt},
			{Role: "user", Content: prompt},
		},
		JSON: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return FilterResult{}, ctx.Err()
		}
		f.logger.Warn("Filter call failed, keeping all candidates", "error", err)
		return FilterResult{Plan: all, Target: target, Fallback: true, Reason: err.Error()}, nil
	}

	selected := ParseFilterIDs(resp.Content)
	plan := all.Select(selected)
	if plan.Len() == 0 {
		f.logger.Warn("Filter selected no known searches, keeping all candidates",
			"selected", len(selected),
			"candidates", all.Len())
		return FilterResult{
			Plan:     all,
			Target:   target,
			Selected: selected,
			Fallback: true,
			Reason:   "no selected id matched a candidate",
		}, nil
	}

	f.logger.Info("Filter kept searches",
		"kept", plan.Len(),
		"candidates", all.Len(),
		"target", target)
	return FilterResult{Plan: plan, Target: target, Selected: selected}, nil
}
