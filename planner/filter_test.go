package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/c360studio/desai/llm/testutil"
	"github.com/c360studio/desai/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(ids ...string) []workflow.SearchTask {
	tasks := make([]workflow.SearchTask, len(ids))
	for i, id := range ids {
		tasks[i] = workflow.SearchTask{ID: id, Query: "query " + id, Strategy: workflow.StrategyWeb}
	}
	return tasks
}

func TestFilter_Target(t *testing.T) {
	tests := []struct {
		name     string
		cfg      FilterConfig
		minItems int
		want     int
	}{
		{name: "explicit rounded up", cfg: FilterConfig{FilteredCount: 7, GroupSize: 5}, minItems: 50, want: 10},
		{name: "explicit multiple", cfg: FilterConfig{FilteredCount: 10, GroupSize: 5}, minItems: 50, want: 10},
		{name: "auto quarter", cfg: FilterConfig{GroupSize: 5}, minItems: 40, want: 10},
		{name: "auto at least one", cfg: FilterConfig{GroupSize: 1}, minItems: 2, want: 1},
		{name: "auto small rounds to group", cfg: FilterConfig{GroupSize: 5}, minItems: 3, want: 5},
		{name: "no grouping", cfg: FilterConfig{FilteredCount: 3}, minItems: 100, want: 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(&testutil.MockLLMClient{}, newRepo(t), tt.cfg)
			assert.Equal(t, tt.want, f.Target(tt.minItems))
		})
	}
}

func TestFilter_DropsUnknownIDs(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []string{`{"ids": ["g0002", "g0099"]}`}}
	f := NewFilter(mock, newRepo(t), FilterConfig{GroupSize: 5})

	res, err := f.Filter(context.Background(), candidates("g0001", "g0002", "g0003"), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"g0002"}, res.Plan.IDs())
	assert.False(t, res.Fallback)
	assert.Equal(t, []string{"g0002", "g0099"}, res.Selected)

	req := mock.Requests()[0]
	assert.Equal(t, "search_filter", req.Capability)
	prompt := testutil.LastUserMessage(req)
	assert.Contains(t, prompt, `"id": "g0003"`)
	assert.Contains(t, prompt, "None")
}

func TestFilter_DisjointSelectionKeepsAll(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []string{`{"ids": ["x1", "x2"]}`}}
	f := NewFilter(mock, newRepo(t), FilterConfig{GroupSize: 5})

	in := candidates("g0001", "g0002", "g0003")
	res, err := f.Filter(context.Background(), in, 10, nil)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Equal(t, in, res.Plan.Tasks())
}

func TestFilter_CallFailureKeepsAll(t *testing.T) {
	mock := &testutil.MockLLMClient{Err: errors.New("rate limited")}
	f := NewFilter(mock, newRepo(t), FilterConfig{})

	in := candidates("g0001", "g0002")
	res, err := f.Filter(context.Background(), in, 10, nil)
	require.NoError(t, err)
	assert.True(t, res.Fallback)
	assert.Contains(t, res.Reason, "rate limited")
	assert.Equal(t, in, res.Plan.Tasks())
}

func TestFilter_NeverTruncates(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []string{`{"keep": ["g0003", "g0001", "g0002", "g0001"]}`}}
	f := NewFilter(mock, newRepo(t), FilterConfig{FilteredCount: 1})

	res, err := f.Filter(context.Background(), candidates("g0001", "g0002", "g0003"), 10, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Target)
	assert.Equal(t, []string{"g0001", "g0002", "g0003"}, res.Plan.IDs(), "candidate order, no duplicates")
}

func TestFilter_EmptyCandidates(t *testing.T) {
	mock := &testutil.MockLLMClient{}
	f := NewFilter(mock, newRepo(t), FilterConfig{})

	res, err := f.Filter(context.Background(), nil, 10, nil)
	require.NoError(t, err)
	assert.Zero(t, res.Plan.Len())
	assert.Zero(t, mock.CallCount())
}

func TestFilter_FeedbackReachesPrompt(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []string{`{"ids": ["g0001"]}`}}
	f := NewFilter(mock, newRepo(t), FilterConfig{})

	_, err := f.Filter(context.Background(), candidates("g0001"), 10, []string{"fewer news searches", "skip forums"})
	require.NoError(t, err)

	prompt := testutil.LastUserMessage(mock.Requests()[0])
	assert.Contains(t, prompt, "fewer news searches\nskip forums")
}

func TestFilter_DuplicateCandidates(t *testing.T) {
	f := NewFilter(&testutil.MockLLMClient{}, newRepo(t), FilterConfig{})
	_, err := f.Filter(context.Background(), candidates("g0001", "g0001"), 10, nil)
	assert.ErrorIs(t, err, workflow.ErrDuplicateTaskID)
}
