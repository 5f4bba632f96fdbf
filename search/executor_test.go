package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/c360studio/desai/workerpool"
	"github.com/c360studio/desai/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// funcBackend adapts a function to Backend.
type funcBackend func(ctx context.Context, q Query) ([]Item, error)

func (f funcBackend) Search(ctx context.Context, q Query) ([]Item, error) {
	return f(ctx, q)
}

func mustPlan(t *testing.T, tasks ...workflow.SearchTask) *workflow.SearchPlan {
	t.Helper()
	plan, err := workflow.NewSearchPlan(tasks)
	require.NoError(t, err)
	return plan
}

func webTask(id, query string) workflow.SearchTask {
	return workflow.SearchTask{ID: id, Query: query, Strategy: workflow.StrategyWeb}
}

func TestExecutor_RunsEveryTask(t *testing.T) {
	exec := NewExecutor(MockBackend{PerQuery: 2}, nil, workerpool.New(3))
	plan := mustPlan(t, webTask("g0001", "alpha"), webTask("g0002", "beta"), webTask("g0003", "gamma"))
	schema := workflow.Schema{"title", "url"}

	res, err := exec.Execute(context.Background(), plan, schema)
	require.NoError(t, err)

	assert.Len(t, res.Rows, 6)
	require.Len(t, res.Outcomes, 3)
	for i, id := range plan.IDs() {
		assert.Equal(t, id, res.Outcomes[i].Task.ID, "outcomes follow plan order")
		assert.Equal(t, 2, res.Outcomes[i].Returned)
		assert.False(t, res.Outcomes[i].Failed())
		assert.Len(t, res.RowsFor(id), 2)
	}
	for _, row := range res.Rows {
		assert.Equal(t, schema.OutputColumns(), row.Columns())
		assert.NotEmpty(t, row.Get("title"))
	}
}

func TestExecutor_BackendFailureIsZeroResult(t *testing.T) {
	backend := funcBackend(func(_ context.Context, q Query) ([]Item, error) {
		if q.Text == "broken" {
			return nil, errors.New("rate limited")
		}
		return []Item{{"title": q.Text, "url": "https://example.com/" + q.Text}}, nil
	})
	exec := NewExecutor(backend, nil, workerpool.New(2))
	plan := mustPlan(t,
		webTask("g0004", "fine"),
		webTask("g0005", "broken"),
		webTask("g0006", "also-fine"),
	)

	res, err := exec.Execute(context.Background(), plan, workflow.Schema{"title", "url"})
	require.NoError(t, err)

	assert.Len(t, res.Rows, 2)
	assert.Empty(t, res.RowsFor("g0005"))
	for _, row := range res.Rows {
		assert.NotEqual(t, "g0005", row.SourceQueryID())
	}

	failed := res.Outcomes[1]
	assert.Equal(t, "g0005", failed.Task.ID)
	assert.True(t, failed.Failed())
	assert.Equal(t, 0, failed.Returned)
	assert.Equal(t, "search failed: rate limited", failed.Note)
}

func TestExecutor_UnknownStrategyUsesWebParams(t *testing.T) {
	var (
		mu   sync.Mutex
		seen = map[string]Query{}
	)
	backend := funcBackend(func(_ context.Context, q Query) ([]Item, error) {
		mu.Lock()
		seen[q.Text] = q
		mu.Unlock()
		return []Item{{"title": q.Text}}, nil
	})
	strategies := NewStrategyMap(map[string]map[string]string{
		"web":  {"engine": "general"},
		"news": {"engine": "news", "recency": "week"},
	})
	exec := NewExecutor(backend, strategies, workerpool.New(2))
	plan := mustPlan(t,
		workflow.SearchTask{ID: "g0001", Query: "n", Strategy: workflow.StrategyNews},
		workflow.SearchTask{ID: "g0002", Query: "x", Strategy: workflow.Strategy("forums")},
	)

	res, err := exec.Execute(context.Background(), plan, workflow.Schema{"title"})
	require.NoError(t, err)

	assert.Equal(t, StrategyParams{"engine": "news", "recency": "week"}, seen["n"].Params)
	assert.Equal(t, workflow.StrategyWeb, seen["x"].Strategy)
	assert.Equal(t, StrategyParams{"engine": "general"}, seen["x"].Params)

	assert.Equal(t, workflow.StrategyWeb, res.Outcomes[1].Resolved)
	rows := res.RowsFor("g0002")
	require.Len(t, rows, 1)
	assert.Equal(t, workflow.Strategy("forums"), rows[0].SourceStrategy(), "rows keep the task's strategy")
}

func TestExecutor_TimeoutIsZeroResult(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	backend := funcBackend(func(_ context.Context, q Query) ([]Item, error) {
		if q.Text == "hang" {
			// Ignores its context entirely.
			<-release
			return nil, nil
		}
		return []Item{{"title": q.Text}}, nil
	})
	exec := NewExecutor(backend, nil, workerpool.New(2), WithTimeout(50*time.Millisecond))
	plan := mustPlan(t, webTask("g0001", "hang"), webTask("g0002", "quick"))

	start := time.Now()
	res, err := exec.Execute(context.Background(), plan, workflow.Schema{"title"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	assert.True(t, res.Outcomes[0].Failed())
	assert.Equal(t, "timed out", res.Outcomes[0].Note)
	assert.ErrorIs(t, res.Outcomes[0].Err, context.DeadlineExceeded)
	assert.Len(t, res.RowsFor("g0002"), 1)
}

func TestExecutor_RespectsPoolBound(t *testing.T) {
	var current, peak atomic.Int32
	backend := funcBackend(func(_ context.Context, q Query) ([]Item, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		current.Add(-1)
		return []Item{{"title": q.Text}}, nil
	})

	tasks := make([]workflow.SearchTask, 12)
	for i := range tasks {
		tasks[i] = webTask(fmt.Sprintf("g%04d", i+1), fmt.Sprintf("q%d", i))
	}
	exec := NewExecutor(backend, nil, workerpool.New(3))

	res, err := exec.Execute(context.Background(), mustPlan(t, tasks...), workflow.Schema{"title"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 12)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestExecutor_EmptyPlan(t *testing.T) {
	exec := NewExecutor(MockBackend{}, nil, nil)

	res, err := exec.Execute(context.Background(), workflow.EmptyPlan(), workflow.Schema{"title"})
	require.NoError(t, err)
	assert.Empty(t, res.Rows)
	assert.Empty(t, res.Outcomes)
}

func TestExecutor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	exec := NewExecutor(MockBackend{}, nil, workerpool.New(1))
	_, err := exec.Execute(ctx, mustPlan(t, webTask("g0001", "a")), workflow.Schema{"title"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStrategyMap(t *testing.T) {
	m := NewStrategyMap(map[string]map[string]string{"News": {"recency": "day"}})

	assert.Equal(t, []workflow.Strategy{workflow.StrategyNews, workflow.StrategyWeb}, m.Names())

	s, params := m.Resolve(workflow.StrategyNews)
	assert.Equal(t, workflow.StrategyNews, s)
	params["recency"] = "mutated"
	_, again := m.Resolve(workflow.StrategyNews)
	assert.Equal(t, "day", again["recency"], "resolve returns a copy")

	s, params = m.Resolve(workflow.StrategyAgg)
	assert.Equal(t, workflow.StrategyWeb, s)
	assert.Empty(t, params)
}

func TestMockBackend_Deterministic(t *testing.T) {
	q := Query{Text: "coffee roasters", Strategy: workflow.StrategyWeb, Schema: workflow.Schema{"name", "website", "email"}}

	first, err := MockBackend{}.Search(context.Background(), q)
	require.NoError(t, err)
	second, err := MockBackend{}.Search(context.Background(), q)
	require.NoError(t, err)

	require.Len(t, first, 3)
	assert.Equal(t, first, second)
	assert.Equal(t, "https://example.com/search/coffee-roasters/1", first[0]["url"])
	assert.Equal(t, "coffee roasters email 1", first[0]["email"])
	_, hasName := first[0]["name"]
	assert.False(t, hasName, "aliased columns come from normalization")

	row := Normalize(q.Schema, first[0], webTask("g0001", q.Text))
	assert.Equal(t, "coffee roasters result 1", row.Get("name"))
	assert.Equal(t, "https://example.com/search/coffee-roasters/1", row.Get("website"))
}
