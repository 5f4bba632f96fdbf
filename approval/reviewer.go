package approval

import (
	"context"

	"github.com/c360studio/desai/workflow"
)

// Reviewer inspects a plan and returns the commands to apply to it.
type Reviewer interface {
	Review(ctx context.Context, plan *workflow.SearchPlan) ([]Command, error)
}

// ReviewerFunc adapts a function to Reviewer.
type ReviewerFunc func(ctx context.Context, plan *workflow.SearchPlan) ([]Command, error)

// Review calls f.
func (f ReviewerFunc) Review(ctx context.Context, plan *workflow.SearchPlan) ([]Command, error) {
	return f(ctx, plan)
}

// AutoApprove approves every plan unchanged.
type AutoApprove struct{}

// Review returns a single approve command.
func (AutoApprove) Review(context.Context, *workflow.SearchPlan) ([]Command, error) {
	return []Command{Approve()}, nil
}
