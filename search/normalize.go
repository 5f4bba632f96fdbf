package search

import (
	"regexp"
	"strings"

	"github.com/c360studio/desai/weburl"
	"github.com/c360studio/desai/workflow"
)

// aliases lists, for a column, the item keys that may stand in for it.
var aliases = map[string][]string{
	"title":       {"name"},
	"name":        {"title", "company"},
	"url":         {"link", "website"},
	"link":        {"url", "website"},
	"website":     {"url", "link"},
	"description": {"snippet", "summary"},
	"snippet":     {"description", "summary"},
}

var (
	markdownLinkRe = regexp.MustCompile(`\[([^\]]*)\]\(([^)]*)\)`)
	whitespaceRe   = regexp.MustCompile(`\s+`)
)

// Normalize maps a raw item onto schema. Each column takes the item's value
// for that key or the first non-empty alias. An empty source column is
// filled with the domain of the item's address. Keys outside the schema are
// dropped.
func Normalize(schema workflow.Schema, item Item, task workflow.SearchTask) workflow.NormalizedRow {
	clean := make(map[string]string, len(item))
	for k, v := range item {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if v = cleanText(v); v != "" {
			clean[k] = v
		}
	}

	values := make(map[string]string, len(schema))
	for _, col := range schema {
		v := clean[col]
		if v == "" {
			for _, alt := range aliases[col] {
				if v = clean[alt]; v != "" {
					break
				}
			}
		}
		values[col] = v
	}

	if schema.Has("source") && values["source"] == "" {
		values["source"] = weburl.Domain(firstNonEmpty(clean["url"], clean["link"], clean["website"]))
	}

	return workflow.NewNormalizedRow(schema, values, task)
}

// cleanText strips markdown links down to their text and collapses
// whitespace.
func cleanText(s string) string {
	s = markdownLinkRe.ReplaceAllString(s, "$1")
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// itemAddress returns the first address-like value of an item.
func itemAddress(item Item) string {
	return strings.TrimSpace(firstNonEmpty(item["url"], item["link"], item["website"]))
}
