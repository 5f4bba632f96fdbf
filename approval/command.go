// Package approval applies reviewer edits to a search plan before it runs.
//
// A review produces an ordered list of [Command] values. [Gate.Apply] turns
// the current plan plus those commands into an [Outcome]: the edited plan,
// feedback for later generation calls, and whether the plan should be
// re-filtered or regenerated instead of executed.
//
// # Commands
//
//	a | approve              run the plan as it stands
//	d | drop  <id>[,<id>...] remove tasks; unknown ids are ignored
//	n | add   <query>        add a web search with a fresh id
//	f | feedback <text>      guidance for the next generation call
//	g | refilter [text]      rebuild the plan from the last candidates
//	r | regenerate           discard the candidates and generate again
package approval

import (
	"errors"
	"fmt"
	"strings"
)

// Errors returned when parsing or applying commands.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
)

// CommandKind identifies a review command.
type CommandKind string

const (
	KindApprove    CommandKind = "approve"
	KindDrop       CommandKind = "drop"
	KindAdd        CommandKind = "add"
	KindFeedback   CommandKind = "feedback"
	KindRefilter   CommandKind = "refilter"
	KindRegenerate CommandKind = "regenerate"
)

// Command is one reviewer action.
type Command struct {
	Kind CommandKind

	// IDs lists the tasks to drop.
	IDs []string

	// Text is the query to add or the feedback to record.
	Text string
}

// Approve accepts the plan.
func Approve() Command { return Command{Kind: KindApprove} }

// Drop removes the given task ids.
func Drop(ids ...string) Command { return Command{Kind: KindDrop, IDs: ids} }

// Add appends a web search for query.
func Add(query string) Command { return Command{Kind: KindAdd, Text: query} }

// Feedback records guidance for the next generation call.
func Feedback(text string) Command { return Command{Kind: KindFeedback, Text: text} }

// Refilter rebuilds the plan from the last candidate list.
func Refilter(text string) Command { return Command{Kind: KindRefilter, Text: text} }

// Regenerate discards the candidate list.
func Regenerate() Command { return Command{Kind: KindRegenerate} }

// Terminal reports whether the command ends a review.
func (c Command) Terminal() bool {
	switch c.Kind {
	case KindApprove, KindRefilter, KindRegenerate:
		return true
	}
	return false
}

func (c Command) String() string {
	switch c.Kind {
	case KindDrop:
		return fmt.Sprintf("drop %s", strings.Join(c.IDs, ","))
	case KindAdd, KindFeedback, KindRefilter:
		if c.Text == "" {
			return string(c.Kind)
		}
		return fmt.Sprintf("%s %s", c.Kind, c.Text)
	default:
		return string(c.Kind)
	}
}

// ParseCommand reads one command line such as "d g0001,g0004" or
// "n organic farms near Leeds".
func ParseCommand(line string) (Command, error) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch strings.ToLower(verb) {
	case "a", "approve":
		return Approve(), nil

	case "d", "drop":
		ids := splitIDs(rest)
		if len(ids) == 0 {
			return Command{}, fmt.Errorf("%w: drop needs at least one id", ErrMissingArgument)
		}
		return Drop(ids...), nil

	case "n", "new", "add":
		if rest == "" {
			return Command{}, fmt.Errorf("%w: add needs a query", ErrMissingArgument)
		}
		return Add(rest), nil

	case "f", "feedback":
		if rest == "" {
			return Command{}, fmt.Errorf("%w: feedback needs text", ErrMissingArgument)
		}
		return Feedback(rest), nil

	case "g", "refilter":
		return Refilter(rest), nil

	case "r", "regenerate":
		return Regenerate(), nil

	case "":
		return Command{}, fmt.Errorf("%w: empty input", ErrUnknownCommand)

	default:
		return Command{}, fmt.Errorf("%w: %q", ErrUnknownCommand, verb)
	}
}

func splitIDs(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t'
	})
	ids := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			ids = append(ids, f)
		}
	}
	return ids
}
