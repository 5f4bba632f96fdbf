// Package storage holds collected rows for a run and persists run summaries.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360studio/desai/workflow"
)

// DedupeStore accumulates unique rows across all rounds of a run.
// Insert is an atomic check-then-insert; rows keep insertion order.
type DedupeStore struct {
	mu          sync.Mutex
	dedupeField string
	seen        map[string]struct{}
	rows        []workflow.NormalizedRow
	logger      *slog.Logger
}

// DedupeOption configures a DedupeStore.
type DedupeOption func(*DedupeStore)

// WithLogger sets the logger used for per-row dedupe decisions.
func WithLogger(logger *slog.Logger) DedupeOption {
	return func(s *DedupeStore) {
		s.logger = logger
	}
}

// NewDedupeStore creates an empty store keyed on dedupeField.
func NewDedupeStore(dedupeField string, opts ...DedupeOption) *DedupeStore {
	s := &DedupeStore{
		dedupeField: strings.ToLower(strings.TrimSpace(dedupeField)),
		seen:        make(map[string]struct{}),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insert adds the row unless a row with the same key is already present.
// It reports whether the row was accepted.
func (s *DedupeStore) Insert(row workflow.NormalizedRow) bool {
	key := DedupeKey(row, s.dedupeField)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.seen[key]; dup {
		s.logger.Debug("Duplicate row skipped", "key", key, "task_id", row.SourceQueryID())
		return false
	}
	s.seen[key] = struct{}{}
	s.rows = append(s.rows, row)
	return true
}

// InsertAll inserts rows in order and returns the accepted ones.
func (s *DedupeStore) InsertAll(rows []workflow.NormalizedRow) []workflow.NormalizedRow {
	accepted := make([]workflow.NormalizedRow, 0, len(rows))
	for _, row := range rows {
		if s.Insert(row) {
			accepted = append(accepted, row)
		}
	}
	return accepted
}

// Count returns the number of unique rows.
func (s *DedupeStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// Rows returns a snapshot of the stored rows in insertion order.
func (s *DedupeStore) Rows() []workflow.NormalizedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]workflow.NormalizedRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// DedupeField returns the configured dedupe column.
func (s *DedupeStore) DedupeField() string {
	return s.dedupeField
}

// DedupeKey derives the identity of a row.
//
// Identifier columns (url, link, website, email) use their own value when
// non-empty. Otherwise a titled row keys on title/name plus source, or
// title/name plus description. Any other row is keyed by a digest of every
// schema value, so untitled rows sharing a source stay distinct.
func DedupeKey(row workflow.NormalizedRow, dedupeField string) string {
	if workflow.IsIdentifierField(dedupeField) {
		if v := normalizeKeyPart(row.Get(dedupeField)); v != "" {
			return dedupeField + ":" + v
		}
	}

	title := normalizeKeyPart(row.Get("title"))
	if title == "" {
		title = normalizeKeyPart(row.Get("name"))
	}
	if title != "" {
		if source := normalizeKeyPart(row.Get("source")); source != "" {
			return "title:" + title + "|source:" + source
		}
		if desc := normalizeKeyPart(row.Get("description")); desc != "" {
			return "title:" + title + "|description:" + desc
		}
	}

	h := sha256.New()
	for _, c := range row.Columns() {
		if c == workflow.FieldSourceQueryID || c == workflow.FieldSourceStrategy {
			continue
		}
		h.Write([]byte(c))
		h.Write([]byte{0})
		h.Write([]byte(normalizeKeyPart(row.Get(c))))
		h.Write([]byte{0})
	}
	return "row:" + hex.EncodeToString(h.Sum(nil)[:16])
}

func normalizeKeyPart(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
