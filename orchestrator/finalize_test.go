package orchestrator

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/desai/export"
	"github.com/c360studio/desai/refine"
	"github.com/c360studio/desai/storage"
	"github.com/c360studio/desai/workflow"
)

func finishedRun(t *testing.T, status Status, sites ...string) *Result {
	t.Helper()
	task := workflow.SearchTask{ID: "g0001", Query: "bakeries", Strategy: workflow.StrategyWeb}
	var rows []workflow.NormalizedRow
	for _, s := range sites {
		rows = append(rows, workflow.NewNormalizedRow(testSchema, map[string]string{
			"name":    s,
			"website": "https://" + s,
		}, task))
	}
	return &Result{
		RunID:   "run-1",
		Request: request(t, 3),
		Status:  status,
		Rounds:  2,
		Schema:  testSchema,
		Rows:    rows,
		LastReport: &workflow.PerformanceReport{
			Round:      2,
			TotalItems: len(rows),
			Searches: []workflow.SearchOutcome{
				{ID: "g0001", ItemsFound: len(rows)},
				{ID: "g0002"},
				{ID: "u0001"},
			},
		},
		StartedAt:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		CompletedAt: time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC),
	}
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return recs
}

func exporters(t *testing.T) (debug, reports *export.FileExporter, dir string) {
	t.Helper()
	dir = t.TempDir()
	debug, err := export.NewFileExporter(filepath.Join(dir, "debug"), export.FormatCSV)
	require.NoError(t, err)
	reports, err = export.NewFileExporter(filepath.Join(dir, "reports"), export.FormatCSV)
	require.NoError(t, err)
	return debug, reports, dir
}

type stubRefiner struct {
	res refine.Result
	err error
}

func (s stubRefiner) Refine(context.Context, []workflow.NormalizedRow, workflow.UserRequest, workflow.Schema) (refine.Result, error) {
	return s.res, s.err
}

type memRecorder struct {
	saved []*storage.RunRecord
	err   error
}

func (m *memRecorder) SaveRun(_ context.Context, r *storage.RunRecord) error {
	m.saved = append(m.saved, r)
	return m.err
}

func TestFinalize_WritesDebugAndReport(t *testing.T) {
	debug, reports, dir := exporters(t)
	rec := &memRecorder{}
	refiner := stubRefiner{res: refine.Result{
		Columns: []string{"name", "website"},
		Records: []refine.Record{{"name": "Baker A", "website": "https://a.example"}},
	}}
	f := NewFinalizer(debug, reports, WithRefiner(refiner), WithRunRecorder(rec))

	res := finishedRun(t, StatusPartial, "a.example", "b.example")
	sum, err := f.Finalize(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "debug"), filepath.Dir(sum.DebugPath))
	assert.Equal(t, filepath.Join(dir, "reports"), filepath.Dir(sum.ReportPath))
	debugRows := readCSV(t, sum.DebugPath)
	assert.Equal(t, []string{"name", "website", "source_query_id", "source_strategy"}, debugRows[0])
	require.Len(t, debugRows, 3)
	assert.Equal(t, []string{"a.example", "https://a.example", "g0001", "web"}, debugRows[1])

	reportRows := readCSV(t, sum.ReportPath)
	assert.Equal(t, [][]string{{"name", "website"}, {"Baker A", "https://a.example"}}, reportRows)
	assert.Equal(t, 1, sum.Refined)

	assert.Equal(t,
		"Final status: partial (requested 3, collected 2, rounds used 2, zero-result searches [g0002, u0001])",
		sum.StatusLine)

	require.Len(t, rec.saved, 1)
	saved := rec.saved[0]
	assert.Equal(t, "run-1", saved.ID)
	assert.Equal(t, "partial", saved.Status)
	assert.Equal(t, 2, saved.Collected)
	assert.Equal(t, []string{"g0002", "u0001"}, saved.ZeroResultIDs)
	assert.Equal(t, sum.ReportPath, saved.ReportExport)
}

func TestFinalize_HeuristicWithoutRefiner(t *testing.T) {
	debug, reports, _ := exporters(t)
	f := NewFinalizer(debug, reports)

	sum, err := f.Finalize(context.Background(), finishedRun(t, StatusFull, "a.example", "b.example", "c.example"))
	require.NoError(t, err)

	reportRows := readCSV(t, sum.ReportPath)
	assert.Equal(t, []string{"name", "website"}, reportRows[0])
	assert.Len(t, reportRows, 4)
	assert.Equal(t, 3, sum.Refined)
}

func TestFinalize_EmptyRefinementFallsBack(t *testing.T) {
	debug, reports, _ := exporters(t)
	f := NewFinalizer(debug, reports, WithRefiner(stubRefiner{}))

	sum, err := f.Finalize(context.Background(), finishedRun(t, StatusFull, "a.example"))
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Refined)
}

func TestFinalize_NoRowsStillExports(t *testing.T) {
	debug, reports, _ := exporters(t)
	f := NewFinalizer(debug, reports)

	res := finishedRun(t, StatusPartial)
	sum, err := f.Finalize(context.Background(), res)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"name", "website", "source_query_id", "source_strategy"}}, readCSV(t, sum.DebugPath))
	assert.Equal(t, [][]string{{"name", "website"}}, readCSV(t, sum.ReportPath))
	assert.Contains(t, sum.StatusLine, "collected 0")
}

func TestFinalize_RefinerErrorIsReturned(t *testing.T) {
	debug, reports, _ := exporters(t)
	f := NewFinalizer(debug, reports, WithRefiner(stubRefiner{err: context.Canceled}))

	_, err := f.Finalize(context.Background(), finishedRun(t, StatusFull, "a.example"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFinalize_RecorderFailureIsNotFatal(t *testing.T) {
	debug, reports, _ := exporters(t)
	rec := &memRecorder{err: errors.New("bucket unavailable")}
	f := NewFinalizer(debug, reports, WithRunRecorder(rec))

	_, err := f.Finalize(context.Background(), finishedRun(t, StatusFull, "a.example"))
	require.NoError(t, err)
	assert.Len(t, rec.saved, 1)
}

func TestStatusLine_NoZeroResults(t *testing.T) {
	res := finishedRun(t, StatusFull, "a.example", "b.example", "c.example")
	res.LastReport = nil
	assert.Equal(t,
		"Final status: full (requested 3, collected 3, rounds used 2, zero-result searches [])",
		StatusLine(res))
}
