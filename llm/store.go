package llm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// CallRecord represents a single LLM API call.
type CallRecord struct {
	RequestID     string     `json:"request_id"`
	Capability    string     `json:"capability"`
	Model         string     `json:"model"`
	Provider      string     `json:"provider"`
	Messages      []Message  `json:"messages"`
	Response      string     `json:"response"`
	Usage         TokenUsage `json:"usage"`
	FinishReason  string     `json:"finish_reason,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   time.Time  `json:"completed_at"`
	DurationMs    int64      `json:"duration_ms"`
	Error         string     `json:"error,omitempty"`
	Retries       int        `json:"retries"`
	FallbacksUsed []string   `json:"fallbacks_used,omitempty"`
}

// CallStore writes one JSON file per LLM call into a directory so raw
// model output can be inspected after a run.
type CallStore struct {
	dir string
}

// NewCallStore creates the directory if needed.
func NewCallStore(dir string) (*CallStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("call store directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create call store directory: %w", err)
	}
	return &CallStore{dir: dir}, nil
}

// Dir returns the directory records are written to.
func (s *CallStore) Dir() string {
	return s.dir
}

// Store writes the record as <timestamp>_<capability>_<request id>.json.
func (s *CallStore) Store(record *CallRecord) error {
	if record.RequestID == "" {
		return fmt.Errorf("request id is required")
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal call record: %w", err)
	}

	name := fmt.Sprintf("%s_%s_%s.json",
		record.StartedAt.UTC().Format("20060102T150405.000"),
		sanitizeName(record.Capability),
		sanitizeName(record.RequestID))
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0644); err != nil {
		return fmt.Errorf("write call record: %w", err)
	}
	return nil
}

// List loads every record in the directory, oldest first.
func (s *CallStore) List() ([]*CallRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read call store directory: %w", err)
	}

	var records []*CallRecord
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read call record %s: %w", e.Name(), err)
		}
		var r CallRecord
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("parse call record %s: %w", e.Name(), err)
		}
		records = append(records, &r)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].StartedAt.Before(records[j].StartedAt)
	})
	return records, nil
}

func sanitizeName(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, s)
}
