package workflow

import (
	"encoding/json"
	"fmt"
	"sync"
)

// SearchOutcome summarizes how one task performed in a round.
type SearchOutcome struct {
	ID         string   `json:"id"`
	Query      string   `json:"query"`
	Strategy   Strategy `json:"strategy"`
	ItemsFound int      `json:"items_found"`
	Note       string   `json:"note,omitempty"`
}

// PerformanceReport is the feedback handed to the generator on a retry round.
type PerformanceReport struct {
	Round        int             `json:"round"`
	TotalItems   int             `json:"total_items"`
	Searches     []SearchOutcome `json:"searches"`
	UserFeedback string          `json:"user_feedback,omitempty"`
}

// ZeroResultIDs returns the IDs of searches that contributed nothing.
func (r *PerformanceReport) ZeroResultIDs() []string {
	if r == nil {
		return nil
	}
	var ids []string
	for _, s := range r.Searches {
		if s.ItemsFound == 0 {
			ids = append(ids, s.ID)
		}
	}
	return ids
}

// JSON renders the report for inclusion in a prompt.
func (r *PerformanceReport) JSON() string {
	if r == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// IDSequence mints IDs of the form <prefix><4-digit counter>. Safe for
// concurrent use.
type IDSequence struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewIDSequence creates a sequence starting at <prefix>0001.
func NewIDSequence(prefix string) *IDSequence {
	return &IDSequence{prefix: prefix, next: 1}
}

// Next returns the next ID.
func (s *IDSequence) Next() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := fmt.Sprintf("%s%04d", s.prefix, s.next)
	s.next++
	return id
}

// NextUnused returns the next ID that is not taken according to used.
func (s *IDSequence) NextUnused(used func(string) bool) string {
	for {
		id := s.Next()
		if used == nil || !used(id) {
			return id
		}
	}
}
