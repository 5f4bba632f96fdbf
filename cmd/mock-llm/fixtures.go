package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/c360studio/desai/config"
)

// fixtures maps a step (or model) name to the responses returned in order.
// The last response repeats once the sequence is exhausted.
type fixtures map[string][]string

// numberedFixture matches "<name>.<n>.json".
var numberedFixture = regexp.MustCompile(`^(.+)\.(\d+)\.json$`)

// builtinFixtures answers every pipeline step so a run completes without a
// fixtures directory.
func builtinFixtures() fixtures {
	return fixtures{
		config.StepSearchGen: {`{"searches": [
			{"query": "independent bakeries city centre", "strategy": "web", "rationale": "broad sweep"},
			{"query": "new bakery openings", "strategy": "news", "rationale": "recent coverage"},
			{"query": "bakery directory listings", "strategy": "agg", "rationale": "aggregators"}
		]}`},
		config.StepSearchFilter: {`{"ids": []}`},
		config.StepSchemaGen:    {`{"columns": ["name", "website", "description"]}`},
		config.StepWeb: {`{"items": [
			{"name": "Northside Bakery", "website": "https://northside.example.com", "description": "Sourdough and rye"},
			{"name": "Harbour Loaf", "website": "https://harbourloaf.example.org", "description": "Family bakery since 1962"},
			{"name": "Crumb & Co", "website": "https://crumb.example.net", "description": "Pastries and coffee"}
		]}`},
		config.StepPostprocess: {`{"results": []}`},
	}
}

// loadFixtures reads every *.json file under dir. "<name>.json" is the base
// response; "<name>.<n>.json" files are served first in numeric order.
func loadFixtures(dir string) (fixtures, error) {
	fsys := os.DirFS(dir)
	paths, err := doublestar.Glob(fsys, "**/*.json", doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("glob fixtures: %w", err)
	}

	type numbered struct {
		n    int
		body string
	}
	seqs := make(map[string][]numbered)
	bases := make(map[string]string)

	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, fmt.Errorf("read fixture %s: %w", p, err)
		}
		if !json.Valid(data) {
			return nil, fmt.Errorf("fixture %s is not valid JSON", p)
		}

		file := path.Base(p)
		if m := numberedFixture.FindStringSubmatch(file); m != nil {
			n, _ := strconv.Atoi(m[2])
			seqs[m[1]] = append(seqs[m[1]], numbered{n: n, body: string(data)})
			continue
		}
		bases[file[:len(file)-len(".json")]] = string(data)
	}

	out := make(fixtures, len(bases)+len(seqs))
	for name, list := range seqs {
		sort.Slice(list, func(i, j int) bool { return list[i].n < list[j].n })
		for _, f := range list {
			out[name] = append(out[name], f.body)
		}
	}
	for name, body := range bases {
		out[name] = append(out[name], body)
	}
	return out, nil
}

// merge returns f with every entry of other added or replaced.
func (f fixtures) merge(other fixtures) fixtures {
	out := make(fixtures, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (f fixtures) names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
