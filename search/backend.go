// Package search runs approved search plans against a backend and
// normalizes every hit into the active schema.
package search

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/c360studio/desai/workflow"
)

// Item is one raw search hit. Keys are whatever the backend returned; the
// normalizer maps them onto schema columns.
type Item map[string]string

// Query is a single backend call.
type Query struct {
	Text string

	// Strategy is the resolved strategy whose parameters are in Params.
	Strategy workflow.Strategy
	Params   StrategyParams

	// Schema lists the columns the caller wants filled.
	Schema workflow.Schema
}

// Backend performs searches. Implementations must be safe for concurrent use.
type Backend interface {
	Search(ctx context.Context, q Query) ([]Item, error)
}

// SearchError wraps a backend failure with the query that caused it.
type SearchError struct {
	Query    string
	Strategy workflow.Strategy
	Err      error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search %q (%s): %v", e.Query, e.Strategy, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// StrategyParams are backend parameters for one strategy.
type StrategyParams map[string]string

// StrategyMap holds the parameters of every configured strategy.
type StrategyMap map[workflow.Strategy]StrategyParams

// NewStrategyMap builds a map from configuration. A web entry always exists.
func NewStrategyMap(cfg map[string]map[string]string) StrategyMap {
	m := make(StrategyMap, len(cfg)+1)
	for name, params := range cfg {
		m[workflow.ParseStrategy(name)] = maps.Clone(StrategyParams(params))
	}
	if _, ok := m[workflow.StrategyWeb]; !ok {
		m[workflow.StrategyWeb] = StrategyParams{}
	}
	return m
}

// Resolve returns the strategy to use for s and a copy of its parameters.
// Unknown strategies resolve to web.
func (m StrategyMap) Resolve(s workflow.Strategy) (workflow.Strategy, StrategyParams) {
	if params, ok := m[s]; ok {
		return s, maps.Clone(params)
	}
	return workflow.StrategyWeb, maps.Clone(m[workflow.StrategyWeb])
}

// Names lists the configured strategies, sorted.
func (m StrategyMap) Names() []workflow.Strategy {
	return slices.Sorted(maps.Keys(m))
}
