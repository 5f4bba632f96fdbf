// Package workflow defines the domain types shared by every stage of a
// dataset search run: the user's request, search tasks and plans, the
// output schema, normalized result rows and per-round performance reports.
package workflow

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// MaxItems caps the number of rows a single request may ask for.
const MaxItems = 100

// Sentinel errors for request and plan construction.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrDuplicateTaskID  = errors.New("duplicate task id")
	ErrEmptyTaskID      = errors.New("task id is required")
	ErrEmptyTaskQuery   = errors.New("task query is required")
	ErrUnknownDedupeKey = errors.New("unknown dedupe field")
)

// Strategy names the search strategy a task runs with.
type Strategy string

const (
	// StrategyWeb is the general web search strategy and the default.
	StrategyWeb Strategy = "web"
	// StrategyNews biases results toward recent news coverage.
	StrategyNews Strategy = "news"
	// StrategyAgg biases results toward directories and aggregator listings.
	StrategyAgg Strategy = "agg"
)

// IsKnown reports whether the strategy is one of the fixed set.
func (s Strategy) IsKnown() bool {
	switch s {
	case StrategyWeb, StrategyNews, StrategyAgg:
		return true
	}
	return false
}

// String returns the strategy name.
func (s Strategy) String() string {
	return string(s)
}

// ParseStrategy normalizes a strategy name. Empty input yields StrategyWeb.
// Unknown names are preserved so the executor can record what was asked for.
func ParseStrategy(s string) Strategy {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return StrategyWeb
	}
	return Strategy(s)
}

// Dedupe field names accepted on a request.
const (
	DedupeName        = "name"
	DedupeWebsite     = "website"
	DedupeLink        = "link"
	DedupeURL         = "url"
	DedupeEmail       = "email"
	DedupeDescription = "description"
)

// DedupeFields lists the accepted dedupe field names in display order.
var DedupeFields = []string{DedupeName, DedupeWebsite, DedupeLink, DedupeURL, DedupeEmail, DedupeDescription}

// IdentifierFields are dedupe fields whose value identifies a row on its own.
var IdentifierFields = []string{DedupeURL, DedupeLink, DedupeWebsite, DedupeEmail}

// IsIdentifierField reports whether field identifies a row on its own.
func IsIdentifierField(field string) bool {
	return slices.Contains(IdentifierFields, field)
}

// UserRequest is the immutable description of what the user wants collected.
type UserRequest struct {
	description string
	minItems    int
	columns     []string
	dedupeField string
}

// NewUserRequest validates and builds a UserRequest.
// minItems above MaxItems is capped. An empty dedupeField selects DedupeName.
func NewUserRequest(description string, minItems int, columns []string, dedupeField string) (UserRequest, error) {
	description = strings.TrimSpace(description)
	if description == "" {
		return UserRequest{}, fmt.Errorf("%w: description is required", ErrInvalidRequest)
	}
	if minItems < 1 {
		return UserRequest{}, fmt.Errorf("%w: min items must be at least 1, got %d", ErrInvalidRequest, minItems)
	}
	if minItems > MaxItems {
		minItems = MaxItems
	}

	dedupeField = strings.ToLower(strings.TrimSpace(dedupeField))
	if dedupeField == "" {
		dedupeField = DedupeName
	}
	if !slices.Contains(DedupeFields, dedupeField) {
		return UserRequest{}, fmt.Errorf("%w %q (want one of %s)", ErrUnknownDedupeKey, dedupeField, strings.Join(DedupeFields, ", "))
	}

	cols := NewSchema(columns)
	if len(cols) > 0 && IsIdentifierField(dedupeField) && !slices.Contains(cols, dedupeField) {
		return UserRequest{}, fmt.Errorf("%w: dedupe field %q is not one of the requested columns", ErrInvalidRequest, dedupeField)
	}

	return UserRequest{
		description: description,
		minItems:    minItems,
		columns:     cols,
		dedupeField: dedupeField,
	}, nil
}

// Description returns the natural-language description of the dataset.
func (r UserRequest) Description() string { return r.description }

// MinItems returns the number of unique rows the run aims for.
func (r UserRequest) MinItems() int { return r.minItems }

// Columns returns a copy of the requested columns. Empty means "infer".
func (r UserRequest) Columns() Schema { return slices.Clone(r.columns) }

// DedupeField returns the column used to identify duplicate rows.
func (r UserRequest) DedupeField() string { return r.dedupeField }
