// Package prompts loads named prompt templates from a directory on disk,
// falling back to the templates compiled into the binary.
//
// A template named "generate_searches" lives in <dir>/generate_searches.txt.
// Templates use text/template syntax and are rendered with Render.
package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/bmatcuk/doublestar/v4"
)

// Template names used by the pipeline.
const (
	GenerateSearches = "generate_searches"
	RetrySearches    = "retry_searches"
	FilterSearches   = "filter_searches"
	BuildSchema      = "build_schema"
	RefineResults    = "refine_results"
)

const templateExt = ".txt"

//go:embed defaults/*.txt
var defaultTemplates embed.FS

// NotFoundError is returned when no template with the given name exists.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("prompt not found: %s", e.Name)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Getter is the read side of a prompt repository.
type Getter interface {
	Get(name string) (string, error)
	Render(name string, data any) (string, error)
}

type entry struct {
	text string
	tmpl *template.Template
}

// Repository resolves prompt names to template text. Files in the
// repository directory shadow the built-in defaults. Loaded templates are
// cached until invalidated, either explicitly or by Watch.
type Repository struct {
	dir      string
	defaults fs.FS
	logger   *slog.Logger

	mu    sync.RWMutex
	cache map[string]*entry
}

var _ Getter = (*Repository)(nil)

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Repository) {
		r.logger = logger
	}
}

// WithoutDefaults disables the built-in templates so only files in the
// directory resolve.
func WithoutDefaults() Option {
	return func(r *Repository) {
		r.defaults = nil
	}
}

// NewRepository creates a repository rooted at dir. An empty dir, or one
// that does not exist yet, serves the built-in templates only. A path that
// exists but is not a directory is an error.
func NewRepository(dir string, opts ...Option) (*Repository, error) {
	sub, err := fs.Sub(defaultTemplates, "defaults")
	if err != nil {
		return nil, fmt.Errorf("open built-in prompts: %w", err)
	}

	r := &Repository{
		dir:      dir,
		defaults: sub,
		logger:   slog.Default(),
		cache:    make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}

	if dir != "" {
		info, err := os.Stat(dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			r.logger.Debug("Prompts directory missing, using built-in templates", "dir", dir)
		case err != nil:
			return nil, fmt.Errorf("stat prompts directory: %w", err)
		case !info.IsDir():
			return nil, fmt.Errorf("prompts path %s is not a directory", dir)
		}
	}

	return r, nil
}

// Dir returns the directory templates are read from.
func (r *Repository) Dir() string {
	return r.dir
}

// Get returns the raw template text for name.
func (r *Repository) Get(name string) (string, error) {
	e, err := r.load(name)
	if err != nil {
		return "", err
	}
	return e.text, nil
}

// Render executes the named template with data. Referencing a key that the
// data does not provide is an error.
func (r *Repository) Render(name string, data any) (string, error) {
	e, err := r.load(name)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}

// Names lists every resolvable template name, sorted.
func (r *Repository) Names() ([]string, error) {
	seen := make(map[string]struct{})

	if r.defaults != nil {
		matches, err := doublestar.Glob(r.defaults, "**/*"+templateExt)
		if err != nil {
			return nil, fmt.Errorf("list built-in prompts: %w", err)
		}
		for _, m := range matches {
			seen[strings.TrimSuffix(m, templateExt)] = struct{}{}
		}
	}

	if r.dir != "" {
		if _, err := os.Stat(r.dir); err == nil {
			matches, err := doublestar.Glob(os.DirFS(r.dir), "**/*"+templateExt)
			if err != nil {
				return nil, fmt.Errorf("list prompts in %s: %w", r.dir, err)
			}
			for _, m := range matches {
				seen[strings.TrimSuffix(m, templateExt)] = struct{}{}
			}
		}
	}

	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Invalidate drops cached templates. With no names the whole cache is cleared.
func (r *Repository) Invalidate(names ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(names) == 0 {
		r.cache = make(map[string]*entry)
		return
	}
	for _, n := range names {
		delete(r.cache, n)
	}
}

func (r *Repository) load(name string) (*entry, error) {
	if name == "" || !fs.ValidPath(name) {
		return nil, &NotFoundError{Name: name}
	}

	r.mu.RLock()
	e, ok := r.cache[name]
	r.mu.RUnlock()
	if ok {
		return e, nil
	}

	text, err := r.read(name)
	if err != nil {
		return nil, err
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}

	e = &entry{text: text, tmpl: tmpl}
	r.mu.Lock()
	r.cache[name] = e
	r.mu.Unlock()

	return e, nil
}

func (r *Repository) read(name string) (string, error) {
	file := name + templateExt

	if r.dir != "" {
		data, err := os.ReadFile(filepath.Join(r.dir, filepath.FromSlash(file)))
		if err == nil {
			return string(data), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt %s: %w", name, err)
		}
	}

	if r.defaults != nil {
		data, err := fs.ReadFile(r.defaults, path.Clean(file))
		if err == nil {
			return string(data), nil
		}
	}

	return "", &NotFoundError{Name: name}
}
