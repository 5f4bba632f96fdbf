package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/model"
	"github.com/c360studio/desai/prompts"
	"github.com/c360studio/desai/workerpool"
	"github.com/c360studio/desai/workflow"
)

const (
	generateSystemPrompt = "You generate diverse web searches."
	retrySystemPrompt    = "You refine web searches based on performance data."
)

// Option configures the planner components.
type Option func(*settings)

type settings struct {
	logger *slog.Logger
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.logger = logger
	}
}

func applyOptions(opts []Option) settings {
	s := settings{logger: slog.Default()}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// GenerateInput describes one generation pass.
type GenerateInput struct {
	Description string
	Batches     int
	PerBatch    int

	// Report is the previous round's performance. A non-nil report selects
	// the retry prompt.
	Report *workflow.PerformanceReport

	// Schema is shown to the retry prompt.
	Schema workflow.Schema

	// Feedback is the accumulated user feedback, oldest first.
	Feedback []string
}

// GenerateResult holds the merged candidates of every batch.
type GenerateResult struct {
	Tasks []workflow.SearchTask

	// Retried counts batches whose first response held no tasks.
	Retried int

	// Fallbacks counts batches recovered line by line.
	Fallbacks int
}

// generationPrompt is the data handed to the generation templates.
type generationPrompt struct {
	Description       string
	BatchNumber       int
	TotalBatches      int
	PerBatch          int
	Feedback          string
	PerformanceReport string
	Schema            string
}

// Generator produces candidate searches by running batch calls concurrently
// through the shared pool. IDs come from the run's sequence in the order
// batches complete.
type Generator struct {
	llm     llm.Completer
	prompts prompts.Getter
	pool    *workerpool.Pool
	ids     *workflow.IDSequence
	logger  *slog.Logger

	// mu makes ID assignment and merging one step so the merged list
	// is ordered by ID.
	mu sync.Mutex
}

// NewGenerator creates a generator drawing IDs from ids.
func NewGenerator(client llm.Completer, repo prompts.Getter, pool *workerpool.Pool, ids *workflow.IDSequence, opts ...Option) *Generator {
	s := applyOptions(opts)
	return &Generator{
		llm:     client,
		prompts: repo,
		pool:    pool,
		ids:     ids,
		logger:  s.logger,
	}
}

// Generate runs in.Batches generation calls and merges their tasks. Model
// failures never fail the call: a batch without tasks is retried once, and
// a reply that is not JSON is split into lines. If every batch comes back
// empty the description itself becomes the only candidate. Errors are
// limited to prompt rendering and context cancellation.
func (g *Generator) Generate(ctx context.Context, in GenerateInput) (GenerateResult, error) {
	batches := max(1, in.Batches)
	perBatch := max(1, in.PerBatch)

	name := prompts.GenerateSearches
	system := generateSystemPrompt
	if in.Report != nil {
		name = prompts.RetrySearches
		system = retrySystemPrompt
	}

	// Render every batch prompt up front so a broken template fails fast.
	rendered := make([]string, batches)
	for i := range batches {
		data := generationPrompt{
			Description:  in.Description,
			BatchNumber:  i + 1,
			TotalBatches: batches,
			PerBatch:     perBatch,
			Feedback:     strings.Join(in.Feedback, "\n"),
			Schema:       strings.Join(in.Schema, ","),
		}
		if in.Report != nil {
			data.PerformanceReport = in.Report.JSON()
		}
		text, err := g.prompts.Render(name, data)
		if err != nil {
			return GenerateResult{}, fmt.Errorf("render %s: %w", name, err)
		}
		rendered[i] = text
	}

	var result GenerateResult
	err := g.pool.Each(ctx, batches, func(ctx context.Context, i int) error {
		parse, retried := g.runBatch(ctx, system, rendered[i], i)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		g.mu.Lock()
		defer g.mu.Unlock()

		if retried {
			result.Retried++
		}
		if parse.Kind == ParseFallback {
			result.Fallbacks++
		}
		for _, t := range parse.Tasks {
			t.ID = g.ids.Next()
			result.Tasks = append(result.Tasks, t)
		}

		g.logger.Info("Generated search batch",
			"batch", i+1,
			"of", batches,
			"tasks", len(parse.Tasks),
			"parse", parse.Kind.String())
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}

	if len(result.Tasks) == 0 {
		g.logger.Warn("No candidates generated, searching for the description itself")
		result.Tasks = append(result.Tasks, workflow.SearchTask{
			ID:        g.ids.Next(),
			Query:     in.Description,
			Strategy:  workflow.StrategyWeb,
			Rationale: "Fallback to the research description",
		})
	}

	g.logger.Info("Candidate searches ready", "total", len(result.Tasks))
	return result, nil
}

// runBatch asks for one batch, retrying once when the answer holds no
// tasks. Only an answer that is not JSON at all is split into lines;
// well-formed JSON without tasks yields an empty batch.
func (g *Generator) runBatch(ctx context.Context, system, prompt string, index int) (TaskParse, bool) {
	parse, content := g.attempt(ctx, system, prompt)
	if parse.Kind == ParseParsed {
		return parse, false
	}
	if ctx.Err() != nil {
		return Failed(ctx.Err().Error()), false
	}

	g.logger.Warn("Search batch had no tasks, retrying",
		"batch", index+1,
		"parse", parse.Kind.String(),
		"reason", parse.Reason)

	retry, retryContent := g.attempt(ctx, system, prompt)
	switch {
	case retry.Kind == ParseParsed || retry.Kind == ParseEmpty:
		return retry, true
	case retryContent != "":
		content = retryContent
	case parse.Kind == ParseEmpty:
		return parse, true
	}
	if content == "" {
		return retry, true
	}

	parse = FallbackTasks(content)
	g.logger.Warn("Search batch fell back to line parsing",
		"batch", index+1,
		"tasks", len(parse.Tasks))
	return parse, true
}

// attempt makes one generation call. The returned content is empty when the
// call itself failed.
func (g *Generator) attempt(ctx context.Context, system, prompt string) (TaskParse, string) {
	content, err := g.complete(ctx, system, prompt)
	if err != nil {
		return Failed(err.Error()), ""
	}
	return ParseTasks(content), content
}

func (g *Generator) complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := g.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilitySearchGen.String(),
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
		JSON: true,
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}
