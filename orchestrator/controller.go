package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/desai/approval"
	"github.com/c360studio/desai/planner"
	"github.com/c360studio/desai/search"
	"github.com/c360studio/desai/storage"
	"github.com/c360studio/desai/workflow"
)

// Generator proposes candidate searches.
type Generator interface {
	Generate(ctx context.Context, in planner.GenerateInput) (planner.GenerateResult, error)
}

// PlanFilter narrows candidates to a plan.
type PlanFilter interface {
	Filter(ctx context.Context, candidates []workflow.SearchTask, minItems int, feedback []string) (planner.FilterResult, error)
}

// SchemaResolver decides the output columns of a run.
type SchemaResolver interface {
	Resolve(ctx context.Context, req workflow.UserRequest, candidates []workflow.SearchTask) (planner.SchemaResult, error)
}

// Executor runs an approved plan.
type Executor interface {
	Execute(ctx context.Context, plan *workflow.SearchPlan, schema workflow.Schema) (search.Execution, error)
}

// Limits bound generation and the number of rounds.
type Limits struct {
	InitialBatches int
	PerBatch       int
	RetryBatches   int
	MaxRetryRounds int
}

// RetryPerBatch is the batch size asked for on retry rounds: half the
// initial size, at least 5, never more than the initial size.
func (l Limits) RetryPerBatch() int {
	return min(l.PerBatch, max(5, l.PerBatch/2))
}

// Deps are the collaborators a Controller drives.
type Deps struct {
	Generator Generator
	Filter    PlanFilter
	Schema    SchemaResolver
	Gate      *approval.Gate
	Reviewer  approval.Reviewer
	Executor  Executor
}

// Option configures a Controller.
type Option func(*Controller)

// WithMetrics records run metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithPublisher publishes progress events.
func WithPublisher(p Publisher) Option {
	return func(c *Controller) {
		if p != nil {
			c.events = p
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// Controller runs the retry loop.
type Controller struct {
	deps    Deps
	limits  Limits
	metrics *Metrics
	events  Publisher
	logger  *slog.Logger
}

// NewController creates a controller.
func NewController(deps Deps, limits Limits, opts ...Option) (*Controller, error) {
	switch {
	case deps.Generator == nil, deps.Filter == nil, deps.Schema == nil, deps.Executor == nil:
		return nil, fmt.Errorf("controller: generator, filter, schema and executor are required")
	case deps.Gate == nil:
		return nil, fmt.Errorf("controller: gate is required")
	case limits.MaxRetryRounds < 1:
		return nil, fmt.Errorf("controller: max retry rounds must be at least 1")
	}
	if deps.Reviewer == nil {
		deps.Reviewer = approval.AutoApprove{}
	}
	limits.InitialBatches = max(1, limits.InitialBatches)
	limits.RetryBatches = max(1, limits.RetryBatches)
	limits.PerBatch = max(1, limits.PerBatch)

	c := &Controller{
		deps:    deps,
		limits:  limits,
		metrics: NewMetrics(nil),
		events:  NoopPublisher{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Result is the outcome of a run.
type Result struct {
	RunID        string
	Request      workflow.UserRequest
	Status       Status
	Rounds       int
	Schema       workflow.Schema
	SchemaSource planner.SchemaSource

	// Rows are the unique rows collected, in insertion order.
	Rows []workflow.NormalizedRow

	// LastReport summarizes the final round.
	LastReport *workflow.PerformanceReport

	StartedAt   time.Time
	CompletedAt time.Time
}

// Count returns the number of unique rows.
func (r *Result) Count() int {
	return len(r.Rows)
}

// ZeroResultIDs lists the searches of the final round that added nothing.
func (r *Result) ZeroResultIDs() []string {
	return r.LastReport.ZeroResultIDs()
}

// run holds the state of one Run call.
type run struct {
	*Controller
	id     string
	req    workflow.UserRequest
	store  *storage.DedupeStore
	logger *slog.Logger

	candidates     []workflow.SearchTask
	plan           *workflow.SearchPlan
	schema         workflow.Schema
	schemaSource   planner.SchemaSource
	feedback       []string
	filterFeedback []string
	regenerate     bool

	round    int
	report   *workflow.PerformanceReport
	outcomes []search.TaskOutcome
	accepted []workflow.NormalizedRow
}

// Run collects rows for req until the minimum is met or the round limit is
// reached. Model, filter and backend failures degrade a round but never end
// the run; errors are limited to cancellation, review input failures and
// broken prompts.
func (c *Controller) Run(ctx context.Context, req workflow.UserRequest) (*Result, error) {
	id := uuid.NewString()
	r := &run{
		Controller: c,
		id:         id,
		req:        req,
		logger:     c.logger.With("run_id", id),
	}
	r.store = storage.NewDedupeStore(req.DedupeField(), storage.WithLogger(r.logger))

	started := time.Now().UTC()
	r.logger.Info("Run started",
		"description", req.Description(),
		"min_items", req.MinItems(),
		"dedupe_field", req.DedupeField(),
		"max_rounds", c.limits.MaxRetryRounds)
	emit(ctx, c.events, r.logger, Event{RunID: id, Type: EventRunStarted, Data: map[string]any{
		"description": req.Description(),
		"min_items":   req.MinItems(),
	}})

	state := StatePlanning
	for state != StateDone {
		sig, err := r.step(ctx, state)
		if err != nil {
			return nil, err
		}
		sig.MinItems = req.MinItems()
		sig.MaxRounds = c.limits.MaxRetryRounds

		next := Next(state, sig)
		r.logger.Debug("State transition", "from", state.String(), "to", next.String(), "round", r.round)
		emit(ctx, c.events, r.logger, Event{RunID: id, Type: EventStateChanged, State: next.String(), Round: r.round, Count: r.store.Count()})
		state = next
	}

	res := &Result{
		RunID:        id,
		Request:      req,
		Status:       StatusPartial,
		Rounds:       r.round,
		Schema:       r.schema,
		SchemaSource: r.schemaSource,
		Rows:         r.store.Rows(),
		LastReport:   r.report,
		StartedAt:    started,
		CompletedAt:  time.Now().UTC(),
	}
	if res.Count() >= req.MinItems() {
		res.Status = StatusFull
	}

	r.logger.Info("Run finished", "status", string(res.Status), "rows", res.Count(), "rounds", res.Rounds)
	emit(ctx, c.events, r.logger, Event{RunID: id, Type: EventRunCompleted, Round: res.Rounds, Count: res.Count(), Data: map[string]any{
		"status": string(res.Status),
	}})
	return res, nil
}

func (r *run) step(ctx context.Context, state State) (Signals, error) {
	switch state {
	case StatePlanning:
		return r.planning(ctx)
	case StateFiltering:
		return r.filtering(ctx)
	case StateApproving:
		return r.approving(ctx)
	case StateExecuting:
		return r.executing(ctx)
	case StateChecking:
		return r.checking(ctx)
	default:
		return Signals{}, fmt.Errorf("unexpected state %s", state)
	}
}

func (r *run) planning(ctx context.Context) (Signals, error) {
	in := planner.GenerateInput{
		Description: r.req.Description(),
		Batches:     r.limits.InitialBatches,
		PerBatch:    r.limits.PerBatch,
		Feedback:    slices.Clone(r.feedback),
	}
	if r.report != nil && !r.regenerate {
		in.Batches = r.limits.RetryBatches
		in.PerBatch = r.limits.RetryPerBatch()
		in.Report = r.report
		in.Schema = r.schema
	}
	r.regenerate = false

	r.logger.Info("Generating searches", "round", r.round+1, "batches", in.Batches, "per_batch", in.PerBatch, "retry", in.Report != nil)
	gen, err := r.deps.Generator.Generate(ctx, in)
	if err != nil {
		return Signals{}, fmt.Errorf("generate searches: %w", err)
	}
	r.metrics.ParseFallbacks.Add(float64(gen.Fallbacks))

	r.candidates = gen.Tasks
	r.outcomes = nil
	r.accepted = nil

	if r.schema == nil {
		sr, err := r.deps.Schema.Resolve(ctx, r.req, r.candidates)
		if err != nil {
			return Signals{}, fmt.Errorf("resolve schema: %w", err)
		}
		r.schema = sr.Schema
		r.schemaSource = sr.Source
	}

	if len(r.candidates) == 0 {
		r.logger.Warn("No candidate searches this round")
	}
	return Signals{Candidates: len(r.candidates)}, nil
}

func (r *run) filtering(ctx context.Context) (Signals, error) {
	fr, err := r.deps.Filter.Filter(ctx, r.candidates, r.req.MinItems(), r.filterFeedback)
	if err != nil {
		return Signals{}, fmt.Errorf("filter searches: %w", err)
	}
	if fr.Fallback {
		r.metrics.FilterFallbacks.Inc()
	}
	r.plan = fr.Plan
	r.logger.Info("Plan selected", "candidates", len(r.candidates), "target", fr.Target, "selected", r.plan.Len(), "fallback", fr.Fallback)
	return Signals{}, nil
}

func (r *run) approving(ctx context.Context) (Signals, error) {
	cmds, err := r.deps.Reviewer.Review(ctx, r.plan)
	if err != nil {
		return Signals{}, fmt.Errorf("review plan: %w", err)
	}

	out, err := r.deps.Gate.Apply(r.plan, cmds)
	if err != nil {
		r.logger.Warn("Review could not be applied, running the plan unchanged", "error", err)
		out = approval.Outcome{Plan: r.plan, Approved: true}
	}

	r.feedback = append(r.feedback, out.Feedback...)
	r.filterFeedback = append(r.filterFeedback, out.FilterFeedback...)

	switch {
	case out.Regenerate:
		r.metrics.Reviews.WithLabelValues("regenerate").Inc()
		r.regenerate = true
		r.logger.Info("Regenerating candidates with feedback", "feedback", len(r.feedback))
	case out.Refilter:
		r.metrics.Reviews.WithLabelValues("refilter").Inc()
		r.logger.Info("Re-filtering candidates", "filter_feedback", len(r.filterFeedback))
	default:
		r.metrics.Reviews.WithLabelValues("approve").Inc()
		r.plan = out.Plan
	}
	return Signals{Refilter: out.Refilter, Regenerate: out.Regenerate}, nil
}

func (r *run) executing(ctx context.Context) (Signals, error) {
	r.logger.Info("Executing plan", "tasks", r.plan.Len())
	exec, err := r.deps.Executor.Execute(ctx, r.plan, r.schema)
	if err != nil {
		return Signals{}, fmt.Errorf("execute plan: %w", err)
	}

	accepted := r.store.InsertAll(exec.Rows)
	r.outcomes = exec.Outcomes
	r.accepted = accepted

	perTask := make(map[string]int, len(exec.Outcomes))
	for _, row := range accepted {
		perTask[row.SourceQueryID()]++
	}
	for _, o := range exec.Outcomes {
		r.metrics.Tasks.WithLabelValues(o.Resolved.String(), taskOutcomeLabel(o.Failed(), perTask[o.Task.ID])).Inc()
	}
	r.metrics.RowsAccepted.Add(float64(len(accepted)))
	r.metrics.RowsDuplicate.Add(float64(len(exec.Rows) - len(accepted)))
	r.metrics.StoreSize.Set(float64(r.store.Count()))

	r.logger.Info("Round rows stored",
		"returned", len(exec.Rows),
		"accepted", len(accepted),
		"total", r.store.Count())
	return Signals{}, nil
}

func (r *run) checking(ctx context.Context) (Signals, error) {
	r.round++
	count := r.store.Count()
	r.report = BuildReport(r.round, r.outcomes, r.accepted, count, r.feedback)
	r.metrics.Rounds.Inc()

	r.logger.Info("Round complete",
		"round", r.round,
		"collected", count,
		"target", r.req.MinItems(),
		"zero_result", len(r.report.ZeroResultIDs()))
	emit(ctx, r.events, r.logger, Event{RunID: r.id, Type: EventRoundCompleted, Round: r.round, Count: count, Data: r.report})

	return Signals{Count: count, Round: r.round}, nil
}
