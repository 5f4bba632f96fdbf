package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/c360studio/desai/export"
	"github.com/c360studio/desai/refine"
	"github.com/c360studio/desai/storage"
	"github.com/c360studio/desai/workflow"
)

// Refiner cleans the collected rows into the final report.
type Refiner interface {
	Refine(ctx context.Context, rows []workflow.NormalizedRow, req workflow.UserRequest, schema workflow.Schema) (refine.Result, error)
}

// RunRecorder persists run summaries.
type RunRecorder interface {
	SaveRun(ctx context.Context, r *storage.RunRecord) error
}

// FinalizerOption configures a Finalizer.
type FinalizerOption func(*Finalizer)

// WithRefiner cleans the report with the model. Without one the report is
// de-duplicated heuristically.
func WithRefiner(r Refiner) FinalizerOption {
	return func(f *Finalizer) {
		f.refiner = r
	}
}

// WithRunRecorder stores a summary of every finalized run.
func WithRunRecorder(rec RunRecorder) FinalizerOption {
	return func(f *Finalizer) {
		f.runs = rec
	}
}

// WithFinalizerLogger sets the finalizer's logger.
func WithFinalizerLogger(l *slog.Logger) FinalizerOption {
	return func(f *Finalizer) {
		if l != nil {
			f.logger = l
		}
	}
}

// Finalizer exports a finished run.
type Finalizer struct {
	debug   export.Exporter
	reports export.Exporter
	refiner Refiner
	runs    RunRecorder
	logger  *slog.Logger
}

// NewFinalizer creates a finalizer writing raw rows to debug and the refined
// report to reports.
func NewFinalizer(debug, reports export.Exporter, opts ...FinalizerOption) *Finalizer {
	f := &Finalizer{
		debug:   debug,
		reports: reports,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Summary describes what Finalize wrote.
type Summary struct {
	DebugPath  string
	ReportPath string
	Refined    int
	StatusLine string
}

// Finalize writes every collected row with its metadata to the debug
// exporter, the refined report to the report exporter, and returns the
// final status line. Both exports happen for full and partial runs alike.
func (f *Finalizer) Finalize(ctx context.Context, res *Result) (Summary, error) {
	var sum Summary

	debugPath, err := f.debug.Export("debug "+res.Request.Description(), export.FromRows(res.Rows, res.Schema.OutputColumns()))
	if err != nil {
		return sum, fmt.Errorf("export debug rows: %w", err)
	}
	sum.DebugPath = debugPath

	refined := refine.Result{}
	if f.refiner != nil {
		refined, err = f.refiner.Refine(ctx, res.Rows, res.Request, res.Schema)
		if err != nil {
			return sum, fmt.Errorf("refine results: %w", err)
		}
	}
	if len(refined.Records) == 0 && len(res.Rows) > 0 {
		if f.refiner != nil {
			f.logger.Warn("Refiner returned no records, using raw rows")
		}
		refined = refine.Heuristic(res.Rows, res.Request.DedupeField(), res.Schema)
	}
	columns := refined.Columns
	if len(columns) == 0 {
		columns = workflow.NewSchema(res.Schema)
	}

	reportPath, err := f.reports.Export("report "+res.Request.Description(), export.FromMaps(refined.Maps(), columns))
	if err != nil {
		return sum, fmt.Errorf("export report: %w", err)
	}
	sum.ReportPath = reportPath
	sum.Refined = len(refined.Records)
	sum.StatusLine = StatusLine(res)

	f.logger.Info("Run exported",
		"run_id", res.RunID,
		"raw_rows", res.Count(),
		"refined_rows", sum.Refined,
		"debug", debugPath,
		"report", reportPath)

	if f.runs != nil {
		rec := &storage.RunRecord{
			ID:            res.RunID,
			Description:   res.Request.Description(),
			MinItems:      res.Request.MinItems(),
			Collected:     res.Count(),
			Rounds:        res.Rounds,
			Status:        string(res.Status),
			ZeroResultIDs: res.ZeroResultIDs(),
			DebugExport:   debugPath,
			ReportExport:  reportPath,
			StartedAt:     res.StartedAt,
			CompletedAt:   res.CompletedAt,
		}
		if err := f.runs.SaveRun(ctx, rec); err != nil {
			f.logger.Warn("Failed to store run summary", "run_id", res.RunID, "error", err)
		}
	}
	return sum, nil
}

// StatusLine renders the final status of a run.
func StatusLine(res *Result) string {
	zero := res.ZeroResultIDs()
	return fmt.Sprintf("Final status: %s (requested %d, collected %d, rounds used %d, zero-result searches [%s])",
		res.Status, res.Request.MinItems(), res.Count(), res.Rounds, strings.Join(zero, ", "))
}
