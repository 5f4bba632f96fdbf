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

var defaultColumns = []string{"title", "url", "snippet", "source"}

func mustRequest(t *testing.T, columns []string, dedupe string) workflow.UserRequest {
	t.Helper()
	req, err := workflow.NewUserRequest("coworking spaces in Lisbon", 20, columns, dedupe)
	require.NoError(t, err)
	return req
}

func TestSchemaResolver_RequestColumnsWin(t *testing.T) {
	mock := &testutil.MockLLMClient{}
	r := NewSchemaResolver(mock, newRepo(t), defaultColumns)

	res, err := r.Resolve(context.Background(), mustRequest(t, []string{"Name", "website"}, "website"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.Schema{"name", "website"}, res.Schema)
	assert.Equal(t, SchemaFromRequest, res.Source)
	assert.Zero(t, mock.CallCount())
}

func TestSchemaResolver_ModelColumns(t *testing.T) {
	mock := &testutil.MockLLMClient{
		ByCapability: map[string][]string{"schema_gen": {`{"columns": ["name", "website", "source_query_id", "price"]}`}},
	}
	r := NewSchemaResolver(mock, newRepo(t), defaultColumns)

	res, err := r.Resolve(context.Background(), mustRequest(t, nil, "name"), candidates("g0001", "g0002"))
	require.NoError(t, err)
	assert.Equal(t, workflow.Schema{"name", "website", "price"}, res.Schema)
	assert.Equal(t, SchemaFromModel, res.Source)

	prompt := testutil.LastUserMessage(mock.Requests()[0])
	assert.Contains(t, prompt, "coworking spaces in Lisbon")
	assert.Contains(t, prompt, "query g0001\nquery g0002")
}

func TestSchemaResolver_DefaultsOnFailure(t *testing.T) {
	tests := []struct {
		name string
		mock *testutil.MockLLMClient
	}{
		{name: "call error", mock: &testutil.MockLLMClient{Err: errors.New("boom")}},
		{name: "no columns", mock: &testutil.MockLLMClient{Responses: []string{`{"answer": "unsure"}`}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewSchemaResolver(tt.mock, newRepo(t), defaultColumns)
			res, err := r.Resolve(context.Background(), mustRequest(t, nil, "name"), nil)
			require.NoError(t, err)
			assert.Equal(t, workflow.Schema{"title", "url", "snippet", "source"}, res.Schema)
			assert.Equal(t, SchemaFromDefault, res.Source)
		})
	}
}

func TestSchemaResolver_AppendsIdentifierDedupeField(t *testing.T) {
	mock := &testutil.MockLLMClient{Responses: []string{`{"columns": ["name", "city"]}`}}
	r := NewSchemaResolver(mock, newRepo(t), defaultColumns)

	res, err := r.Resolve(context.Background(), mustRequest(t, nil, "email"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.Schema{"name", "city", "email"}, res.Schema)
}

func TestSchemaResolver_DefaultsNotMutated(t *testing.T) {
	r := NewSchemaResolver(&testutil.MockLLMClient{Err: errors.New("down")}, newRepo(t), defaultColumns)

	res, err := r.Resolve(context.Background(), mustRequest(t, nil, "website"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.Schema{"title", "url", "snippet", "source", "website"}, res.Schema)

	res, err = r.Resolve(context.Background(), mustRequest(t, nil, "name"), nil)
	require.NoError(t, err)
	assert.Equal(t, workflow.Schema{"title", "url", "snippet", "source"}, res.Schema)
}
