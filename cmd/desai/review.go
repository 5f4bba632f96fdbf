package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/AlecAivazis/survey/v2/terminal"
	"github.com/mattn/go-isatty"

	"github.com/c360studio/desai/approval"
	"github.com/c360studio/desai/workflow"
)

var errInterrupted = errors.New("interrupted")

// prompter asks the user for one line of input.
type prompter interface {
	Ask(message, help string) (string, error)
}

// surveyPrompter reads answers from the terminal.
type surveyPrompter struct{}

func (surveyPrompter) Ask(message, help string) (string, error) {
	var answer string
	err := survey.AskOne(&survey.Input{Message: message, Help: help}, &answer,
		survey.WithIcons(func(icons *survey.IconSet) {
			icons.Question.Text = "?"
			icons.Question.Format = "cyan+b"
			icons.Help.Format = "blue"
		}))
	if errors.Is(err, terminal.InterruptErr) {
		return "", errInterrupted
	}
	return strings.TrimSpace(answer), err
}

func isInteractive() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

const (
	descriptionHelp = "A concise description of the items to find, e.g. " +
		"'Boston-area robotics companies focused on warehouse automation'."
	minItemsHelp = "The minimum number of unique items in the final export (at most 100). " +
		"Searching retries until this many are collected or the round limit is reached."
	columnsHelp = "Comma-separated column names, e.g. 'name,website,description,email'. " +
		"Leave blank to let the model pick a schema."
	dedupeHelp = "Rows with the same value in this field are kept once. " +
		"website, link, url and email must be one of the columns when columns are given."
	reviewHelp = `a, approve          run the plan
d, drop ID[,ID]     remove searches
n, add QUERY        add a web search
f, feedback TEXT    guidance for the next generation round
g, refilter [TEXT]  rebuild the plan from the candidates with filter feedback
r, regenerate       generate new candidates with the feedback so far
p, print            show the plan again`
)

// collectRequest asks for the request interactively.
func collectRequest(ask prompter, out io.Writer) (workflow.UserRequest, error) {
	var description string
	for description == "" {
		answer, err := ask.Ask("Describe what you are looking for:", descriptionHelp)
		if err != nil {
			return workflow.UserRequest{}, err
		}
		description = answer
	}

	var minItems int
	for minItems < 1 {
		answer, err := ask.Ask("Minimum number of items:", minItemsHelp)
		if err != nil {
			return workflow.UserRequest{}, err
		}
		n, err := strconv.Atoi(answer)
		if err != nil || n < 1 {
			fmt.Fprintln(out, "Please enter a positive integer.")
			continue
		}
		if n > workflow.MaxItems {
			fmt.Fprintf(out, "Minimum number capped at %d.\n", workflow.MaxItems)
		}
		minItems = n
	}

	answer, err := ask.Ask("Columns (optional, comma-separated):", columnsHelp)
	if err != nil {
		return workflow.UserRequest{}, err
	}
	columns := splitColumns(answer)

	for {
		dedupe, err := ask.Ask(fmt.Sprintf("Dedupe field (%s, blank for name):", strings.Join(workflow.DedupeFields, "/")), dedupeHelp)
		if err != nil {
			return workflow.UserRequest{}, err
		}
		req, err := workflow.NewUserRequest(description, minItems, columns, dedupe)
		if err == nil {
			return req, nil
		}
		fmt.Fprintln(out, err)
	}
}

// consoleReviewer shows the plan and reads review commands until a
// terminal one.
type consoleReviewer struct {
	ask prompter
	out io.Writer
}

var _ approval.Reviewer = (*consoleReviewer)(nil)

func newConsoleReviewer(ask prompter, out io.Writer) *consoleReviewer {
	return &consoleReviewer{ask: ask, out: out}
}

// Review returns the commands entered for plan. Drops are previewed on the
// displayed plan; the gate applies them for real.
func (r *consoleReviewer) Review(ctx context.Context, plan *workflow.SearchPlan) ([]approval.Command, error) {
	var cmds []approval.Command
	shown := plan
	r.printPlan(shown)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := r.ask.Ask("Review [a]pprove [d]rop [n]ew [f]eedback [g] refilter [r]egenerate [p]rint:", reviewHelp)
		if err != nil {
			return nil, err
		}

		switch strings.ToLower(line) {
		case "p", "print":
			r.printPlan(shown)
			continue
		case "h", "help", "?":
			fmt.Fprintln(r.out, reviewHelp)
			continue
		}

		cmd, err := approval.ParseCommand(line)
		if err != nil {
			fmt.Fprintln(r.out, err)
			continue
		}
		cmds = append(cmds, cmd)

		switch cmd.Kind {
		case approval.KindDrop:
			shown = shown.Without(cmd.IDs...)
			r.printPlan(shown)
		case approval.KindAdd:
			fmt.Fprintf(r.out, "Added search: %s\n", cmd.Text)
		case approval.KindFeedback:
			fmt.Fprintln(r.out, "Feedback recorded.")
		}
		if cmd.Terminal() {
			return cmds, nil
		}
	}
}

func (r *consoleReviewer) printPlan(plan *workflow.SearchPlan) {
	fmt.Fprintf(r.out, "\nCurrent search plan (%d searches):\n", plan.Len())
	for _, t := range plan.Tasks() {
		rationale := ""
		if t.Rationale != "" {
			rationale = " (" + t.Rationale + ")"
		}
		fmt.Fprintf(r.out, "  [%s] %s: %s%s\n", t.ID, t.Strategy, t.Query, rationale)
	}
	fmt.Fprintln(r.out)
}
