package planner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/model"
	"github.com/c360studio/desai/prompts"
	"github.com/c360studio/desai/workflow"
)

const schemaSystemPrompt = "You design CSV schemas."

// exampleQueries is how many candidate queries are shown to the schema prompt.
const exampleQueries = 5

// SchemaSource records where a resolved schema came from.
type SchemaSource string

const (
	SchemaFromRequest SchemaSource = "request"
	SchemaFromModel   SchemaSource = "model"
	SchemaFromDefault SchemaSource = "default"
)

// SchemaResult is the active schema of a run.
type SchemaResult struct {
	Schema workflow.Schema
	Source SchemaSource
}

// SchemaResolver picks the columns rows are normalized into.
type SchemaResolver struct {
	llm      llm.Completer
	prompts  prompts.Getter
	defaults workflow.Schema
	logger   *slog.Logger
}

// NewSchemaResolver creates a resolver falling back to defaultColumns.
func NewSchemaResolver(client llm.Completer, repo prompts.Getter, defaultColumns []string, opts ...Option) *SchemaResolver {
	s := applyOptions(opts)
	return &SchemaResolver{
		llm:      client,
		prompts:  repo,
		defaults: workflow.NewSchema(defaultColumns),
		logger:   s.logger,
	}
}

type schemaPrompt struct {
	Description    string
	ExampleQueries string
}

// Resolve returns the request's columns when given. Otherwise the model
// designs a schema from the description and a few candidate queries, and
// the configured defaults are used if that yields nothing. An identifier
// dedupe field is always part of the result.
func (r *SchemaResolver) Resolve(ctx context.Context, req workflow.UserRequest, candidates []workflow.SearchTask) (SchemaResult, error) {
	if cols := req.Columns(); len(cols) > 0 {
		return r.finish(SchemaResult{Schema: cols, Source: SchemaFromRequest}, req), nil
	}

	var examples []string
	for _, t := range candidates[:min(exampleQueries, len(candidates))] {
		examples = append(examples, t.Query)
	}

	prompt, err := r.prompts.Render(prompts.BuildSchema, schemaPrompt{
		Description:    req.Description(),
		ExampleQueries: strings.Join(examples, "\n"),
	})
	if err != nil {
		return SchemaResult{}, fmt.Errorf("render %s: %w", prompts.BuildSchema, err)
	}

	resp, err := r.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilitySchemaGen.String(),
		Messages: []llm.Message{
			{Role: "system", Content: schemaSystemPrompt},
			{Role: "user", Content: prompt},
		},
		JSON: true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return SchemaResult{}, ctx.Err()
		}
		r.logger.Warn("Schema call failed, using default columns", "error", err)
		return r.finish(SchemaResult{Schema: r.defaults, Source: SchemaFromDefault}, req), nil
	}

	schema := workflow.NewSchema(ParseColumns(resp.Content))
	if len(schema) == 0 {
		r.logger.Warn("Schema response had no columns, using default columns")
		return r.finish(SchemaResult{Schema: r.defaults, Source: SchemaFromDefault}, req), nil
	}
	return r.finish(SchemaResult{Schema: schema, Source: SchemaFromModel}, req), nil
}

func (r *SchemaResolver) finish(res SchemaResult, req workflow.UserRequest) SchemaResult {
	res.Schema = append(workflow.Schema(nil), res.Schema...)
	if f := req.DedupeField(); workflow.IsIdentifierField(f) && !res.Schema.Has(f) {
		res.Schema = append(res.Schema, f)
	}
	r.logger.Info("Resolved schema", "columns", strings.Join(res.Schema, ","), "source", string(res.Source))
	return res
}
