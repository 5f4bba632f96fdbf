// Package planner turns a research description into search plans: batch
// generation of candidate searches, LLM-guided filtering and schema
// resolution.
package planner

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/c360studio/desai/llm"
	"github.com/c360studio/desai/workflow"
)

// ParseKind tags how a model response was interpreted.
type ParseKind int

const (
	// ParseFailed means nothing usable was recovered.
	ParseFailed ParseKind = iota
	// ParseParsed means the response held the expected JSON shape.
	ParseParsed
	// ParseFallback means tasks were recovered line by line from free text.
	ParseFallback
	// ParseEmpty means the response was valid JSON without usable tasks.
	// It is never split into lines.
	ParseEmpty
)

func (k ParseKind) String() string {
	switch k {
	case ParseParsed:
		return "parsed"
	case ParseFallback:
		return "fallback"
	case ParseEmpty:
		return "empty"
	default:
		return "failed"
	}
}

// TaskParse is the result of interpreting a generation response. Tasks carry
// no IDs; those are assigned by the generator.
type TaskParse struct {
	Kind   ParseKind
	Tasks  []workflow.SearchTask
	Reason string
}

// Parsed builds a ParseParsed result.
func Parsed(tasks []workflow.SearchTask) TaskParse {
	return TaskParse{Kind: ParseParsed, Tasks: tasks}
}

// Fallback builds a ParseFallback result.
func Fallback(tasks []workflow.SearchTask) TaskParse {
	return TaskParse{Kind: ParseFallback, Tasks: tasks}
}

// Empty builds a ParseEmpty result.
func Empty(reason string) TaskParse {
	return TaskParse{Kind: ParseEmpty, Reason: reason}
}

// Failed builds a ParseFailed result.
func Failed(reason string) TaskParse {
	return TaskParse{Kind: ParseFailed, Reason: reason}
}

// ParseTasks reads {"searches": [...]}, {"tasks": [...]} or a bare array of
// task objects. Entries without a query are skipped. Only content that does
// not decode is failed; decoded JSON without tasks is empty.
func ParseTasks(content string) TaskParse {
	v, err := llm.DecodeJSON(content)
	if err != nil {
		return Failed(err.Error())
	}

	var items []any
	switch p := v.(type) {
	case []any:
		items = p
	case map[string]any:
		for _, key := range []string{"searches", "tasks"} {
			if list, ok := p[key].([]any); ok {
				items = list
				break
			}
		}
		if items == nil {
			return Empty("no searches or tasks list in response")
		}
	default:
		return Empty("unexpected JSON shape")
	}

	tasks := make([]workflow.SearchTask, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		query := strings.TrimSpace(stringField(obj, "query"))
		if query == "" {
			continue
		}
		tasks = append(tasks, workflow.SearchTask{
			Query:     query,
			Strategy:  workflow.ParseStrategy(stringField(obj, "strategy")),
			Rationale: strings.TrimSpace(stringField(obj, "rationale")),
		})
	}

	if len(tasks) == 0 {
		return Empty("response contained no usable tasks")
	}
	return Parsed(tasks)
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•]+|\d+[.)])\s*`)

// FallbackTasks treats every meaningful line of content as a web search.
// Code fences and lines without letters or digits are skipped.
func FallbackTasks(content string) TaskParse {
	var tasks []workflow.SearchTask
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		line = strings.Trim(line, `"',`)
		if !hasAlnum(line) {
			continue
		}
		tasks = append(tasks, workflow.SearchTask{Query: line, Strategy: workflow.StrategyWeb})
	}
	return Fallback(tasks)
}

var idToken = regexp.MustCompile(`[A-Za-z0-9_-]+`)

// ParseFilterIDs reads {"ids": [...]}, {"keep": [...]} or a bare array of
// ids. Anything else is scanned for id-like tokens; callers intersect the
// result with known ids so stray words are harmless.
func ParseFilterIDs(content string) []string {
	if v, err := llm.DecodeJSON(content); err == nil {
		var items []any
		switch p := v.(type) {
		case []any:
			items = p
		case map[string]any:
			for _, key := range []string{"ids", "keep"} {
				if list, ok := p[key].([]any); ok {
					items = list
					break
				}
			}
		}
		if items != nil {
			return stringList(items)
		}
	}
	return idToken.FindAllString(content, -1)
}

// ParseColumns reads {"columns": [...]}, {"fields": [...]}, a bare array or a
// comma separated list.
func ParseColumns(content string) []string {
	if v, err := llm.DecodeJSON(content); err == nil {
		switch p := v.(type) {
		case []any:
			return stringList(p)
		case map[string]any:
			for _, key := range []string{"columns", "fields"} {
				if list, ok := p[key].([]any); ok {
					return stringList(list)
				}
			}
			return nil
		}
	}

	var cols []string
	for _, part := range strings.Split(content, ",") {
		if part = strings.TrimSpace(part); part != "" {
			cols = append(cols, part)
		}
	}
	return cols
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func stringList(items []any) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
