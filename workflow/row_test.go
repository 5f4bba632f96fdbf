package workflow

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewNormalizedRow_FieldSetIsSchemaPlusMetadata(t *testing.T) {
	schema := NewSchema([]string{"name", "url"})
	row := NewNormalizedRow(schema, map[string]string{
		"name":  " Acme ",
		"extra": "dropped",
	}, SearchTask{ID: "g0003", Query: "q", Strategy: StrategyNews})

	assert.Equal(t, []string{"name", "url", FieldSourceQueryID, FieldSourceStrategy}, row.Columns())
	assert.Len(t, row.Values(), 4)
	assert.Equal(t, "Acme", row.Get("name"))
	assert.Equal(t, "", row.Get("url"))
	assert.Equal(t, "", row.Get("extra"))
	assert.Equal(t, "g0003", row.SourceQueryID())
	assert.Equal(t, StrategyNews, row.SourceStrategy())
}

func TestNormalizedRow_Record(t *testing.T) {
	schema := NewSchema([]string{"title", "url"})
	row := NewNormalizedRow(schema, map[string]string{"title": "T", "url": "https://a.example"}, SearchTask{ID: "g0001", Strategy: StrategyWeb})

	rec := row.Record(schema.OutputColumns())
	assert.Equal(t, "T,https://a.example,g0001,web", strings.Join(rec, ","))
}

func TestPerformanceReport_ZeroResultIDs(t *testing.T) {
	r := &PerformanceReport{
		TotalItems: 3,
		Searches: []SearchOutcome{
			{ID: "g0001", ItemsFound: 3},
			{ID: "g0002", ItemsFound: 0, Note: "timeout"},
		},
	}
	assert.Equal(t, []string{"g0002"}, r.ZeroResultIDs())
	assert.Contains(t, r.JSON(), `"items_found": 3`)

	var nilReport *PerformanceReport
	assert.Equal(t, "{}", nilReport.JSON())
}
