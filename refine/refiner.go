// Package refine produces the final cleaned report from the rows a run
// collected. Rows are sent to the postprocess model in chunks; any chunk the
// model cannot handle falls back to a heuristic de-duplication, so the report
// never comes out empty when rows exist.
package refine

import (
	"context"
	"encoding/json"
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

// DefaultChunkSize is the number of records sent per model call.
const DefaultChunkSize = 20

const systemPrompt = "You are a meticulous data curator. You produce clean, " +
	"deduplicated record lists in JSON and never repeat entries."

// Record is one refined output record keyed by column.
type Record map[string]string

// Result is a refined report.
type Result struct {
	// Columns is the report header: the schema without metadata columns.
	Columns []string
	Records []Record

	// Chunks is the number of model calls made; Fallbacks counts those that
	// were replaced by heuristic de-duplication.
	Chunks    int
	Fallbacks int
}

// Maps returns the records as plain maps.
func (r Result) Maps() []map[string]string {
	out := make([]map[string]string, len(r.Records))
	for i, rec := range r.Records {
		out[i] = rec
	}
	return out
}

// Option configures a Refiner.
type Option func(*Refiner)

// WithChunkSize sets the number of records per model call.
func WithChunkSize(n int) Option {
	return func(r *Refiner) {
		if n > 0 {
			r.chunkSize = n
		}
	}
}

// WithLogger sets the refiner's logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Refiner) {
		if l != nil {
			r.logger = l
		}
	}
}

// Refiner cleans collected rows with the postprocess model.
type Refiner struct {
	llm       llm.Completer
	prompts   prompts.Getter
	pool      *workerpool.Pool
	chunkSize int
	logger    *slog.Logger
}

// NewRefiner creates a refiner sharing pool with the rest of the run.
func NewRefiner(client llm.Completer, repo prompts.Getter, pool *workerpool.Pool, opts ...Option) *Refiner {
	if pool == nil {
		pool = workerpool.New(0)
	}
	r := &Refiner{
		llm:       client,
		prompts:   repo,
		pool:      pool,
		chunkSize: DefaultChunkSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type refineData struct {
	Description      string
	RequestedColumns string
	SchemaFields     string
	DedupeField      string
	CandidateJSON    string
}

// Refine returns a cleaned, de-duplicated report of rows. Model and prompt
// failures are absorbed per chunk; only cancellation of ctx is returned.
func (r *Refiner) Refine(ctx context.Context, rows []workflow.NormalizedRow, req workflow.UserRequest, schema workflow.Schema) (Result, error) {
	columns := workflow.NewSchema(schema)
	res := Result{Columns: columns}
	if len(rows) == 0 {
		return res, nil
	}

	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = rowRecord(row, columns)
	}
	chunks := chunk(records, r.chunkSize)
	res.Chunks = len(chunks)

	requested := req.Columns()
	if len(requested) == 0 {
		requested = columns
	}
	dedupeField := req.DedupeField()

	r.logger.Info("Refining results", "records", len(records), "chunks", len(chunks))

	var (
		mu        sync.Mutex
		outputs   = make([][]Record, len(chunks))
		fallbacks int
	)
	err := r.pool.Each(ctx, len(chunks), func(ctx context.Context, i int) error {
		out, err := r.refineChunk(ctx, chunks[i], refineData{
			Description:      req.Description(),
			RequestedColumns: strings.Join(requested, ", "),
			SchemaFields:     strings.Join(columns, ", "),
			DedupeField:      dedupeField,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("Refinement chunk failed, using heuristic fallback", "chunk", i, "error", err)
		}
		if len(out) == 0 {
			out = Dedupe(chunks[i], dedupeField)
			mu.Lock()
			fallbacks++
			mu.Unlock()
		}
		outputs[i] = out
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	res.Fallbacks = fallbacks

	var combined []Record
	for _, out := range outputs {
		combined = append(combined, out...)
	}

	res.Records = fill(Dedupe(combined, dedupeField), columns, sourceIndex(records))
	if len(res.Records) == 0 {
		res.Records = Heuristic(rows, dedupeField, columns).Records
	}

	r.logger.Info("Refined results", "records", len(res.Records), "fallback_chunks", res.Fallbacks)
	return res, nil
}

// Heuristic builds a report from rows without the model, de-duplicating on
// dedupeField.
func Heuristic(rows []workflow.NormalizedRow, dedupeField string, schema workflow.Schema) Result {
	columns := workflow.NewSchema(schema)
	records := make([]Record, len(rows))
	for i, row := range rows {
		records[i] = rowRecord(row, columns)
	}
	return Result{
		Columns: columns,
		Records: fill(Dedupe(records, dedupeField), columns, nil),
	}
}

func (r *Refiner) refineChunk(ctx context.Context, records []Record, data refineData) ([]Record, error) {
	candidates, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal candidates: %w", err)
	}
	data.CandidateJSON = string(candidates)

	prompt, err := r.prompts.Render(prompts.RefineResults, data)
	if err != nil {
		return nil, err
	}

	resp, err := r.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilityPostprocess.String(),
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
		JSON: true,
	})
	if err != nil {
		return nil, err
	}

	out, err := ParseRecords(resp.Content)
	if err != nil {
		return nil, err
	}
	return Dedupe(out, data.DedupeField), nil
}

// ParseRecords reads {"results": [...]}, {"items": [...]}, {"companies":
// [...]} or a bare array of objects.
func ParseRecords(content string) ([]Record, error) {
	v, err := llm.DecodeJSON(content)
	if err != nil {
		return nil, fmt.Errorf("parse refined records: %w", err)
	}

	var list []any
	switch p := v.(type) {
	case []any:
		list = p
	case map[string]any:
		for _, key := range []string{"results", "items", "companies", "records"} {
			if l, ok := p[key].([]any); ok {
				list = l
				break
			}
		}
	}
	if list == nil {
		return nil, fmt.Errorf("parse refined records: no record list")
	}

	out := make([]Record, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		rec := make(Record, len(obj))
		for k, raw := range obj {
			switch x := raw.(type) {
			case string:
				rec[strings.ToLower(k)] = strings.TrimSpace(x)
			case float64, bool:
				rec[strings.ToLower(k)] = fmt.Sprint(x)
			}
		}
		if len(rec) > 0 {
			out = append(out, rec)
		}
	}
	return out, nil
}

func rowRecord(row workflow.NormalizedRow, columns []string) Record {
	rec := make(Record, len(columns)+2)
	for _, c := range columns {
		rec[c] = row.Get(c)
	}
	rec[workflow.FieldSourceQueryID] = row.SourceQueryID()
	rec[workflow.FieldSourceStrategy] = row.SourceStrategy().String()
	return rec
}

func chunk(records []Record, size int) [][]Record {
	var out [][]Record
	for start := 0; start < len(records); start += size {
		out = append(out, records[start:min(start+size, len(records))])
	}
	return out
}

// sourceIndex maps a record's name key to the collected record, first wins.
func sourceIndex(records []Record) map[string]Record {
	idx := make(map[string]Record, len(records))
	for _, rec := range records {
		key := nameKey(rec)
		if key == "" {
			continue
		}
		if _, ok := idx[key]; !ok {
			idx[key] = rec
		}
	}
	return idx
}

// fill lays records out on columns, taking empty values from the collected
// record with the same name. Records with no value in any column are dropped.
func fill(records []Record, columns []string, index map[string]Record) []Record {
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		src := index[nameKey(rec)]
		filled := make(Record, len(columns))
		empty := true
		for _, c := range columns {
			v := rec[c]
			if v == "" {
				v = lookupAlias(rec, c)
			}
			if v == "" && src != nil {
				v = src[c]
			}
			filled[c] = v
			if v != "" {
				empty = false
			}
		}
		if !empty {
			out = append(out, filled)
		}
	}
	return out
}

var columnAliases = map[string][]string{
	"name":    {"title", "company"},
	"title":   {"name"},
	"website": {"url", "link"},
	"url":     {"website", "link"},
	"link":    {"url", "website"},
}

func lookupAlias(rec Record, column string) string {
	for _, alt := range columnAliases[column] {
		if v := rec[alt]; v != "" {
			return v
		}
	}
	return ""
}
