package search

import (
	"context"
	"fmt"

	"github.com/c360studio/desai/weburl"
)

// MockBackend returns deterministic items derived from the query text, for
// dry runs without network access.
type MockBackend struct {
	// PerQuery is the number of items per search. Zero means 3.
	PerQuery int
}

var _ Backend = MockBackend{}

// Search builds PerQuery items whose fields depend only on the query.
func (m MockBackend) Search(ctx context.Context, q Query) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, &SearchError{Query: q.Text, Strategy: q.Strategy, Err: err}
	}

	n := m.PerQuery
	if n <= 0 {
		n = 3
	}

	slug := weburl.Slug(q.Text)
	items := make([]Item, 0, n)
	for i := 1; i <= n; i++ {
		item := Item{
			"title":   fmt.Sprintf("%s result %d", q.Text, i),
			"url":     fmt.Sprintf("https://example.com/search/%s/%d", slug, i),
			"snippet": fmt.Sprintf("Mock %s result %d for %s", q.Strategy, i, q.Text),
			"source":  "mock",
		}
		for _, col := range q.Schema {
			if _, ok := item[col]; ok || len(aliases[col]) > 0 {
				continue
			}
			item[col] = fmt.Sprintf("%s %s %d", q.Text, col, i)
		}
		items = append(items, item)
	}
	return items, nil
}
