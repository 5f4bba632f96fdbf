package workflow

import (
	"maps"
	"slices"
	"strings"
)

// Metadata columns appended to every normalized row.
const (
	FieldSourceQueryID  = "source_query_id"
	FieldSourceStrategy = "source_strategy"
)

// MetadataFields lists the metadata columns in output order.
var MetadataFields = []string{FieldSourceQueryID, FieldSourceStrategy}

// Schema is the ordered list of user-facing columns.
type Schema []string

// NewSchema trims, lowercases and de-duplicates column names, dropping
// empty names and reserved metadata names.
func NewSchema(columns []string) Schema {
	out := make(Schema, 0, len(columns))
	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || slices.Contains(MetadataFields, c) {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// Has reports whether the schema includes the column.
func (s Schema) Has(column string) bool {
	return slices.Contains(s, column)
}

// OutputColumns returns the schema followed by the metadata columns.
func (s Schema) OutputColumns() []string {
	out := make([]string, 0, len(s)+len(MetadataFields))
	out = append(out, s...)
	return append(out, MetadataFields...)
}

// NormalizedRow is one result row. Its field set is exactly the schema
// columns plus the metadata columns.
type NormalizedRow struct {
	columns []string
	values  map[string]string
}

// NewNormalizedRow builds a row from schema values. Keys outside the schema
// are discarded, missing columns become empty strings.
func NewNormalizedRow(schema Schema, values map[string]string, task SearchTask) NormalizedRow {
	cols := schema.OutputColumns()
	row := NormalizedRow{
		columns: cols,
		values:  make(map[string]string, len(cols)),
	}
	for _, c := range schema {
		row.values[c] = strings.TrimSpace(values[c])
	}
	row.values[FieldSourceQueryID] = task.ID
	row.values[FieldSourceStrategy] = task.Strategy.String()
	return row
}

// Get returns the value of a column, or "" when the column is absent.
func (r NormalizedRow) Get(column string) string {
	return r.values[column]
}

// Columns returns the row's columns in output order.
func (r NormalizedRow) Columns() []string {
	return slices.Clone(r.columns)
}

// Values returns a copy of the row's values keyed by column.
func (r NormalizedRow) Values() map[string]string {
	return maps.Clone(r.values)
}

// Record returns the row's values in the given column order.
func (r NormalizedRow) Record(columns []string) []string {
	rec := make([]string, len(columns))
	for i, c := range columns {
		rec[i] = r.values[c]
	}
	return rec
}

// SourceQueryID returns the ID of the task that produced the row.
func (r NormalizedRow) SourceQueryID() string {
	return r.values[FieldSourceQueryID]
}

// SourceStrategy returns the strategy of the task that produced the row.
func (r NormalizedRow) SourceStrategy() Strategy {
	return Strategy(r.values[FieldSourceStrategy])
}
