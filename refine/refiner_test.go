package refine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/llm/testutil"
	"github.com/c360studio/desai/prompts"
	"github.com/c360studio/desai/workerpool"
	"github.com/c360studio/desai/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRefiner(t *testing.T, client llm.Completer, opts ...Option) *Refiner {
	t.Helper()
	repo, err := prompts.NewRepository("")
	require.NoError(t, err)
	return NewRefiner(client, repo, workerpool.New(3), opts...)
}

func mustRequest(t *testing.T, columns []string, dedupe string) workflow.UserRequest {
	t.Helper()
	req, err := workflow.NewUserRequest("specialty coffee roasters in Oslo", 5, columns, dedupe)
	require.NoError(t, err)
	return req
}

func makeRows(schema workflow.Schema, values ...map[string]string) []workflow.NormalizedRow {
	rows := make([]workflow.NormalizedRow, len(values))
	for i, v := range values {
		task := workflow.SearchTask{ID: fmt.Sprintf("g%04d", i+1), Query: "q", Strategy: workflow.StrategyWeb}
		rows[i] = workflow.NewNormalizedRow(schema, v, task)
	}
	return rows
}

func TestRefine_UsesModelOutput(t *testing.T) {
	schema := workflow.Schema{"name", "website", "description"}
	rows := makeRows(schema,
		map[string]string{"name": "Tim Wendelboe", "website": "https://timwendelboe.no", "description": "Roastery and bar"},
		map[string]string{"name": "Tim Wendelboe AS", "website": "https://www.timwendelboe.no"},
		map[string]string{"name": "Fuglen", "website": "https://fuglen.no"},
	)
	mock := &testutil.MockLLMClient{
		ByCapability: map[string][]string{
			"postprocess": {`{"results": [
				{"name": "Tim Wendelboe", "website": "https://timwendelboe.no"},
				{"name": "Fuglen", "url": "https://fuglen.no", "description": "Coffee and cocktails"}
			]}`},
		},
	}
	refiner := newRefiner(t, mock)

	res, err := refiner.Refine(context.Background(), rows, mustRequest(t, nil, "name"), schema)
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "website", "description"}, res.Columns)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, 0, res.Fallbacks)
	require.Len(t, res.Records, 2)

	assert.Equal(t, Record{
		"name":        "Tim Wendelboe",
		"website":     "https://timwendelboe.no",
		"description": "Roastery and bar",
	}, res.Records[0], "empty fields are filled from the collected row")
	assert.Equal(t, "https://fuglen.no", res.Records[1]["website"], "aliases fill columns")

	req := mock.Requests()[0]
	assert.True(t, req.JSON)
	prompt := testutil.LastUserMessage(req)
	assert.Contains(t, prompt, "specialty coffee roasters in Oslo")
	assert.Contains(t, prompt, "Schema fields: name, website, description")
	assert.Contains(t, prompt, `"source_query_id": "g0002"`)
}

func TestRefine_ChunksInParallelAndKeepsOrder(t *testing.T) {
	schema := workflow.Schema{"name"}
	var values []map[string]string
	for i := range 45 {
		values = append(values, map[string]string{"name": fmt.Sprintf("Entry %02d", i)})
	}
	rows := makeRows(schema, values...)

	mock := &testutil.MockLLMClient{
		Handler: func(req llm.Request) (string, error) {
			prompt := testutil.LastUserMessage(req)
			// Echo back the first name of the chunk.
			i := strings.Index(prompt, `"name": "`)
			name := prompt[i+9 : i+17]
			return fmt.Sprintf(`{"results": [{"name": %q}]}`, name), nil
		},
	}
	refiner := newRefiner(t, mock)

	res, err := refiner.Refine(context.Background(), rows, mustRequest(t, nil, "name"), schema)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Chunks)
	assert.Equal(t, 3, mock.CallsFor("postprocess"))
	require.Len(t, res.Records, 3)
	assert.Equal(t, "Entry 00", res.Records[0]["name"])
	assert.Equal(t, "Entry 20", res.Records[1]["name"])
	assert.Equal(t, "Entry 40", res.Records[2]["name"])
}

func TestRefine_FallbackOnModelFailure(t *testing.T) {
	schema := workflow.Schema{"name", "website"}
	rows := makeRows(schema,
		map[string]string{"name": "Acme", "website": "https://acme.example"},
		map[string]string{"name": "ACME!", "website": "https://other.example"},
		map[string]string{"name": "Beta", "website": "https://beta.example"},
	)

	for name, mock := range map[string]*testutil.MockLLMClient{
		"error":     {Err: errors.New("model unavailable")},
		"not json":  {Responses: []string{"I cannot help with that."}},
		"empty set": {Responses: []string{`{"results": []}`}},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := newRefiner(t, mock, WithChunkSize(2)).Refine(context.Background(), rows, mustRequest(t, nil, "name"), schema)
			require.NoError(t, err)

			assert.Equal(t, 2, res.Chunks)
			assert.Equal(t, 2, res.Fallbacks)
			require.Len(t, res.Records, 2)
			assert.Equal(t, "Acme", res.Records[0]["name"])
			assert.Equal(t, "Beta", res.Records[1]["name"])
		})
	}
}

func TestRefine_NoRows(t *testing.T) {
	mock := &testutil.MockLLMClient{}
	res, err := newRefiner(t, mock).Refine(context.Background(), nil, mustRequest(t, nil, "name"), workflow.Schema{"name"})
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, mock.CallCount())
}

func TestRefine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	schema := workflow.Schema{"name"}
	_, err := newRefiner(t, &testutil.MockLLMClient{}).Refine(ctx, makeRows(schema, map[string]string{"name": "A"}), mustRequest(t, nil, "name"), schema)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseRecords(t *testing.T) {
	recs, err := ParseRecords(`{"companies": [{"Name": " A ", "employees": 12, "tags": ["x"]}, "skip"]}`)
	require.NoError(t, err)
	assert.Equal(t, []Record{{"name": "A", "employees": "12"}}, recs)

	recs, err = ParseRecords(`[{"name": "B"}]`)
	require.NoError(t, err)
	assert.Equal(t, []Record{{"name": "B"}}, recs)

	_, err = ParseRecords(`{"note": "nothing"}`)
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		rec   Record
		field string
		want  string
	}{
		{"name squashed", Record{"name": "Tim Wendelboe, AS"}, "name", "timwendelboeas"},
		{"title when no name", Record{"title": "Fuglen"}, "name", "fuglen"},
		{"website by domain", Record{"website": "https://www.Fuglen.no/oslo"}, "website", "fuglen.no"},
		{"url falls back to website", Record{"website": "https://a.example"}, "url", "a.example"},
		{"email wins for address fields", Record{"website": "https://a.example", "email": " Hi@A.example "}, "link", "hi@a.example"},
		{"email", Record{"email": "X@Y.Z"}, "email", "x@y.z"},
		{"description", Record{"description": "Roastery & Bar"}, "description", "roasterybar"},
		{"empty", Record{}, "name", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.rec, tt.field))
		})
	}
}

func TestDedupe_KeepsKeylessRecords(t *testing.T) {
	out := Dedupe([]Record{
		{"name": "A"},
		{"name": "a"},
		{"website": "x"},
		{"website": "y"},
	}, "name")
	assert.Len(t, out, 3)
}

func TestHeuristic(t *testing.T) {
	schema := workflow.Schema{"name", "website"}
	rows := makeRows(schema,
		map[string]string{"name": "Acme", "website": "https://acme.example"},
		map[string]string{"name": "Other", "website": "https://www.acme.example/about"},
		map[string]string{"name": "Beta", "website": "https://beta.example"},
	)

	res := Heuristic(rows, "website", schema)
	assert.Equal(t, []string{"name", "website"}, res.Columns)
	require.Len(t, res.Records, 2)
	assert.Equal(t, Record{"name": "Acme", "website": "https://acme.example"}, res.Records[0])
	assert.Equal(t, "Beta", res.Records[1]["name"])
}
