package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/desai/workerpool"
	"github.com/c360studio/desai/workflow"
)

// DefaultTimeout bounds a single backend call.
const DefaultTimeout = 90 * time.Second

// TaskOutcome records how one task of a plan went.
type TaskOutcome struct {
	Task workflow.SearchTask

	// Resolved is the strategy whose parameters were used.
	Resolved workflow.Strategy

	// Returned is the number of items the backend returned.
	Returned int

	// Err is the backend failure, if any. A failed task has no rows.
	Err error

	// Note is a short human-readable explanation for the performance report.
	Note string

	Duration time.Duration
}

// Failed reports whether the backend call failed.
func (o TaskOutcome) Failed() bool {
	return o.Err != nil
}

// Execution is the result of running a plan.
type Execution struct {
	// Rows holds every normalized row, in completion order.
	Rows []workflow.NormalizedRow

	// Outcomes holds one entry per task, in plan order.
	Outcomes []TaskOutcome
}

// RowsFor returns the rows produced by a task.
func (e Execution) RowsFor(id string) []workflow.NormalizedRow {
	var rows []workflow.NormalizedRow
	for _, r := range e.Rows {
		if r.SourceQueryID() == id {
			rows = append(rows, r)
		}
	}
	return rows
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeout sets the per-call backend timeout.
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithEnricher fills missing titles and snippets from result pages.
func WithEnricher(en *Enricher) ExecutorOption {
	return func(e *Executor) {
		e.enricher = en
	}
}

// WithLogger sets the executor's logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// Executor runs every task of a plan concurrently through the shared pool.
type Executor struct {
	backend    Backend
	strategies StrategyMap
	pool       *workerpool.Pool
	timeout    time.Duration
	enricher   *Enricher
	logger     *slog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(backend Backend, strategies StrategyMap, pool *workerpool.Pool, opts ...ExecutorOption) *Executor {
	if strategies == nil {
		strategies = NewStrategyMap(nil)
	}
	if pool == nil {
		pool = workerpool.New(0)
	}
	e := &Executor{
		backend:    backend,
		strategies: strategies,
		pool:       pool,
		timeout:    DefaultTimeout,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs plan against the backend and normalizes every item into
// schema. A failing or timed-out task yields zero rows and a note; it never
// affects sibling tasks. The only error returned is cancellation of ctx.
func (e *Executor) Execute(ctx context.Context, plan *workflow.SearchPlan, schema workflow.Schema) (Execution, error) {
	tasks := plan.Tasks()
	outcomes := make([]TaskOutcome, len(tasks))

	var (
		mu   sync.Mutex
		rows []workflow.NormalizedRow
	)

	err := e.pool.Each(ctx, len(tasks), func(ctx context.Context, i int) error {
		task := tasks[i]
		outcome, taskRows := e.run(ctx, task, schema)
		outcomes[i] = outcome

		mu.Lock()
		rows = append(rows, taskRows...)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return Execution{}, err
	}
	if err := ctx.Err(); err != nil {
		return Execution{}, err
	}

	return Execution{Rows: rows, Outcomes: outcomes}, nil
}

func (e *Executor) run(ctx context.Context, task workflow.SearchTask, schema workflow.Schema) (TaskOutcome, []workflow.NormalizedRow) {
	resolved, params := e.strategies.Resolve(task.Strategy)
	if resolved != task.Strategy {
		e.logger.Debug("Unknown strategy, using web parameters", "task_id", task.ID, "strategy", task.Strategy)
	}

	start := time.Now()
	items, err := e.search(ctx, Query{
		Text:     task.Query,
		Strategy: resolved,
		Params:   params,
		Schema:   schema,
	})

	outcome := TaskOutcome{
		Task:     task,
		Resolved: resolved,
		Duration: time.Since(start),
	}

	if err != nil {
		outcome.Err = err
		outcome.Note = failureNote(err)
		e.logger.Warn("Search failed, recording zero results",
			"task_id", task.ID, "query", task.Query, "error", err)
		return outcome, nil
	}

	outcome.Returned = len(items)
	if len(items) == 0 {
		outcome.Note = "no results"
	}

	rows := make([]workflow.NormalizedRow, 0, len(items))
	for _, item := range items {
		if e.enricher != nil {
			item = e.enricher.Enrich(ctx, item)
		}
		rows = append(rows, Normalize(schema, item, task))
	}

	e.logger.Debug("Search completed", "task_id", task.ID, "items", len(items), "duration", outcome.Duration)
	return outcome, rows
}

type searchResult struct {
	items []Item
	err   error
}

// search calls the backend under the per-call timeout. A backend that
// ignores its context is abandoned once the timeout fires.
func (e *Executor) search(ctx context.Context, q Query) ([]Item, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan searchResult, 1)
	go func() {
		items, err := e.backend.Search(callCtx, q)
		done <- searchResult{items: items, err: err}
	}()

	select {
	case res := <-done:
		return res.items, res.err
	case <-callCtx.Done():
		return nil, &SearchError{Query: q.Text, Strategy: q.Strategy, Err: callCtx.Err()}
	}
}

func failureNote(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timed out"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	var se *SearchError
	if errors.As(err, &se) && se.Err != nil {
		err = se.Err
	}
	return fmt.Sprintf("search failed: %v", err)
}
