package refine

import (
	"regexp"
	"strings"

	"github.com/c360studio/desai/weburl"
	"github.com/c360studio/desai/workflow"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// Dedupe keeps the first record for every key. Records without a key are
// always kept.
func Dedupe(records []Record, dedupeField string) []Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]Record, 0, len(records))
	for _, rec := range records {
		key := Key(rec, dedupeField)
		if key != "" {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
		}
		out = append(out, rec)
	}
	return out
}

// Key derives the heuristic identity of a record. Address fields compare by
// domain with an email taking precedence, email compares lowercased, and
// name and description compare on their letters and digits only.
func Key(rec Record, dedupeField string) string {
	switch dedupeField {
	case workflow.DedupeWebsite, workflow.DedupeLink, workflow.DedupeURL:
		if email := strings.ToLower(strings.TrimSpace(rec["email"])); email != "" {
			return email
		}
		return weburl.Domain(firstNonEmpty(rec[dedupeField], rec["website"], rec["url"], rec["link"]))
	case workflow.DedupeEmail:
		return strings.ToLower(strings.TrimSpace(rec["email"]))
	case workflow.DedupeDescription:
		return squash(rec["description"])
	default:
		return nameKey(rec)
	}
}

func nameKey(rec Record) string {
	return squash(firstNonEmpty(rec["name"], rec["title"], rec["company"]))
}

func squash(s string) string {
	return nonAlnumRe.ReplaceAllString(strings.ToLower(s), "")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
