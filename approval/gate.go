package approval

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/desai/workflow"
)

// UserAddedRationale is the rationale of searches added during review.
const UserAddedRationale = "User added search"

// Outcome is the result of applying a review to a plan.
type Outcome struct {
	// Plan is the edited plan. On refilter or regenerate it holds the edits
	// made before that command, which the caller is free to discard.
	Plan *workflow.SearchPlan

	// Feedback holds new generation feedback, in order.
	Feedback []string

	// FilterFeedback holds new filter feedback from refilter commands.
	FilterFeedback []string

	Refilter   bool
	Regenerate bool

	// Approved is set when the plan should run: an explicit approve, or a
	// review that ended without refilter or regenerate.
	Approved bool

	Added   []workflow.SearchTask
	Dropped []string

	// Ignored counts commands after the first terminal one.
	Ignored int
}

// Gate applies review commands. It holds no plan state; the only thing it
// owns is the sequence user-added search ids are drawn from.
type Gate struct {
	ids    *workflow.IDSequence
	logger *slog.Logger
}

// GateOption configures a Gate.
type GateOption func(*Gate)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a gate minting ids for added searches from ids.
func NewGate(ids *workflow.IDSequence, opts ...GateOption) *Gate {
	g := &Gate{
		ids:    ids,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Apply runs cmds against plan in order and stops at the first terminal
// command. The input plan is not modified.
func (g *Gate) Apply(plan *workflow.SearchPlan, cmds []Command) (Outcome, error) {
	current := plan
	if current == nil {
		current = workflow.EmptyPlan()
	}
	out := Outcome{}

	for i, cmd := range cmds {
		switch cmd.Kind {
		case KindApprove:
			out.Approved = true

		case KindDrop:
			for _, id := range cmd.IDs {
				if current.Contains(id) {
					out.Dropped = append(out.Dropped, id)
				} else {
					g.logger.Debug("Drop of unknown search ignored", "id", id)
				}
			}
			current = current.Without(cmd.IDs...)

		case KindAdd:
			query := strings.TrimSpace(cmd.Text)
			if query == "" {
				return Outcome{}, fmt.Errorf("%w: add needs a query", ErrMissingArgument)
			}
			task := workflow.SearchTask{
				ID:        g.ids.NextUnused(current.Contains),
				Query:     query,
				Strategy:  workflow.StrategyWeb,
				Rationale: UserAddedRationale,
			}
			next, err := current.With(task)
			if err != nil {
				return Outcome{}, fmt.Errorf("add search: %w", err)
			}
			current = next
			out.Added = append(out.Added, task)

		case KindFeedback:
			if text := strings.TrimSpace(cmd.Text); text != "" {
				out.Feedback = append(out.Feedback, text)
			}

		case KindRefilter:
			out.Refilter = true
			if text := strings.TrimSpace(cmd.Text); text != "" {
				out.FilterFeedback = append(out.FilterFeedback, text)
			}

		case KindRegenerate:
			out.Regenerate = true

		default:
			return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Kind)
		}

		if cmd.Terminal() {
			out.Ignored = len(cmds) - i - 1
			break
		}
	}

	if !out.Refilter && !out.Regenerate {
		out.Approved = true
	}
	out.Plan = current

	g.logger.Info("Review applied",
		"tasks", current.Len(),
		"dropped", len(out.Dropped),
		"added", len(out.Added),
		"refilter", out.Refilter,
		"regenerate", out.Regenerate)
	return out, nil
}
