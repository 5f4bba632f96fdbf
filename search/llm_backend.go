package search

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/model"
)

const webSystemPrompt = "You are a researcher with web search access. " +
	"Return JSON with an `items` array. Each item should include " +
	"the schema fields plus `title`, `url`, `snippet`, and `source`."

// ErrNoItems is returned when a web response holds no item list.
var ErrNoItems = errors.New("response contained no items")

// LLMBackend searches through a web-capable model.
type LLMBackend struct {
	llm    llm.Completer
	logger *slog.Logger
}

var _ Backend = (*LLMBackend)(nil)

// NewLLMBackend creates a backend calling the web step.
func NewLLMBackend(client llm.Completer, logger *slog.Logger) *LLMBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMBackend{llm: client, logger: logger}
}

type webPayload struct {
	Query      string         `json:"query"`
	Strategy   string         `json:"strategy"`
	Schema     []string       `json:"schema"`
	Parameters StrategyParams `json:"parameters"`
}

// Search sends the query to the web step and parses {"items": [...]}.
func (b *LLMBackend) Search(ctx context.Context, q Query) ([]Item, error) {
	payload, err := json.Marshal(webPayload{
		Query:      q.Text,
		Strategy:   q.Strategy.String(),
		Schema:     q.Schema,
		Parameters: q.Params,
	})
	if err != nil {
		return nil, &SearchError{Query: q.Text, Strategy: q.Strategy, Err: err}
	}

	resp, err := b.llm.Complete(ctx, llm.Request{
		Capability: model.CapabilityWeb.String(),
		Messages: []llm.Message{
			{Role: "system", Content: webSystemPrompt},
			{Role: "user", Content: "Execute the query and return results as JSON. Payload:\n" + string(payload)},
		},
		JSON: true,
	})
	if err != nil {
		return nil, &SearchError{Query: q.Text, Strategy: q.Strategy, Err: err}
	}

	items, err := ParseItems(resp.Content)
	if err != nil {
		return nil, &SearchError{Query: q.Text, Strategy: q.Strategy, Err: err}
	}

	b.logger.Debug("Web search returned items", "query", q.Text, "items", len(items))
	return items, nil
}

// ParseItems reads {"items": [...]}, {"results": [...]} or a bare array of
// objects. Scalar values are converted to strings; nested values are
// dropped.
func ParseItems(content string) ([]Item, error) {
	v, err := llm.DecodeJSON(content)
	if err != nil {
		return nil, fmt.Errorf("parse web response: %w", err)
	}

	var list []any
	switch p := v.(type) {
	case []any:
		list = p
	case map[string]any:
		for _, key := range []string{"items", "results"} {
			if l, ok := p[key].([]any); ok {
				list = l
				break
			}
		}
		if list == nil {
			return nil, ErrNoItems
		}
	default:
		return nil, ErrNoItems
	}

	items := make([]Item, 0, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		item := make(Item, len(obj))
		for k, raw := range obj {
			if s, ok := scalarString(raw); ok {
				item[strings.ToLower(k)] = s
			}
		}
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items, nil
}

func scalarString(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return "", false
	}
}
