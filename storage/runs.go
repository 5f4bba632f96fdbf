package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// BucketRuns is the KV bucket holding run summaries.
const BucketRuns = "DESAI_RUNS"

var (
	// ErrNotFound is returned by GetRun for an unknown ID.
	ErrNotFound = errors.New("run not found")

	// ErrInvalidRunID is returned for IDs that are not valid KV keys.
	ErrInvalidRunID = errors.New("invalid run id")
)

// runIDPattern restricts run IDs to characters valid in KV keys.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// RunRecord summarizes a finished run.
type RunRecord struct {
	ID            string    `json:"id"`
	Description   string    `json:"description"`
	MinItems      int       `json:"min_items"`
	Collected     int       `json:"collected"`
	Rounds        int       `json:"rounds"`
	Status        string    `json:"status"`
	ZeroResultIDs []string  `json:"zero_result_ids,omitempty"`
	DebugExport   string    `json:"debug_export,omitempty"`
	ReportExport  string    `json:"report_export,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Validate checks that the record can be stored.
func (r *RunRecord) Validate() error {
	if !runIDPattern.MatchString(r.ID) {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, r.ID)
	}
	return nil
}

// RunStore persists run summaries in a NATS KV bucket.
type RunStore struct {
	kv jetstream.KeyValue
}

// NewRunStore opens (or creates) the runs bucket.
func NewRunStore(ctx context.Context, js jetstream.JetStream) (*RunStore, error) {
	kv, err := js.KeyValue(ctx, BucketRuns)
	if err != nil {
		kv, err = js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      BucketRuns,
			Description: "desai run summaries",
			History:     1,
		})
		if err != nil {
			return nil, fmt.Errorf("create runs bucket: %w", err)
		}
	}
	return &RunStore{kv: kv}, nil
}

// SaveRun writes the record, replacing any previous value for the ID.
func (s *RunStore) SaveRun(ctx context.Context, r *RunRecord) error {
	if err := r.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	if _, err := s.kv.Put(ctx, r.ID, data); err != nil {
		return fmt.Errorf("store run: %w", err)
	}
	return nil
}

// GetRun loads a record by ID.
func (s *RunStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	if !runIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, id)
	}
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}

	var r RunRecord
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &r, nil
}
