package search

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultEnrichTimeout = 20 * time.Second
	snippetLimit         = 300
)

// PageFetcher fetches raw page content.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Enricher fills empty title and snippet fields of an item from its page.
type Enricher struct {
	fetcher   PageFetcher
	converter *Converter
	logger    *slog.Logger
}

// NewEnricher creates an enricher using fetcher. A nil fetcher uses a
// Fetcher that rejects private addresses.
func NewEnricher(fetcher PageFetcher, logger *slog.Logger) *Enricher {
	if fetcher == nil {
		fetcher = NewFetcher(defaultEnrichTimeout, 0, false)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{
		fetcher:   fetcher,
		converter: NewConverter(),
		logger:    logger,
	}
}

// Enrich returns item with title and snippet filled from the page at its
// address. Items that already have both, have no address, or whose page
// cannot be fetched are returned unchanged.
func (e *Enricher) Enrich(ctx context.Context, item Item) Item {
	title := firstNonEmpty(item["title"], item["name"])
	snippet := firstNonEmpty(item["snippet"], item["description"], item["summary"])
	if title != "" && snippet != "" {
		return item
	}

	addr := itemAddress(item)
	if addr == "" {
		return item
	}

	body, err := e.fetcher.Fetch(ctx, addr)
	if err != nil {
		e.logger.Debug("Page enrichment skipped", "url", addr, "error", err)
		return item
	}

	page, err := e.converter.Convert(body)
	if err != nil {
		e.logger.Debug("Page conversion failed", "url", addr, "error", err)
		return item
	}

	out := make(Item, len(item)+2)
	for k, v := range item {
		out[k] = v
	}
	if title == "" && page.Title != "" {
		out["title"] = page.Title
	}
	if snippet == "" {
		if s := page.Summary(snippetLimit); s != "" {
			out["snippet"] = s
		}
	}
	return out
}
