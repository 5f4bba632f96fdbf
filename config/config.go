// Package config provides configuration loading and management for desai.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Pipeline steps that resolve to a model.
const (
	StepSearchGen    = "search_gen"
	StepSearchFilter = "search_filter"
	StepSchemaGen    = "schema_gen"
	StepWeb          = "web"
	StepPostprocess  = "postprocess"
)

// Steps lists every pipeline step that needs a model.
var Steps = []string{StepSearchGen, StepSearchFilter, StepSchemaGen, StepWeb, StepPostprocess}

// DefaultModel is the model every step uses unless overridden.
const DefaultModel = "gpt-5-mini-2025-08-07"

// Config represents the complete desai configuration
type Config struct {
	Models  map[string]string `yaml:"models"`
	LLM     LLMConfig         `yaml:"llm"`
	Limits  LimitsConfig      `yaml:"limits"`
	Search  SearchConfig      `yaml:"search"`
	Paths   PathsConfig       `yaml:"paths"`
	Events  EventsConfig      `yaml:"events"`
	Metrics MetricsConfig     `yaml:"metrics"`
}

// LLMConfig configures the LLM endpoint shared by all steps
type LLMConfig struct {
	// Provider is the registered provider name (openai, ollama, anthropic)
	Provider string `yaml:"provider"`
	// BaseURL overrides the provider's default API base
	BaseURL string `yaml:"base_url"`
	// Timeout bounds a single HTTP call to the provider
	Timeout time.Duration `yaml:"timeout"`
	// MaxAttempts is the number of tries per endpoint for transient errors
	MaxAttempts int `yaml:"max_attempts"`
}

// LimitsConfig sizes generation, filtering and the retry loop
type LimitsConfig struct {
	InitialBatches  int `yaml:"initial_batches"`
	PerBatch        int `yaml:"per_batch"`
	RetryBatches    int `yaml:"retry_batches"`
	FilteredCount   int `yaml:"filtered_count"` // 0 derives the target from min items
	FilterGroupSize int `yaml:"filter_group_size"`
	MaxRetryRounds  int `yaml:"max_retry_rounds"`
	WorkerPoolSize  int `yaml:"worker_pool_size"`
}

// SearchConfig configures the search backend and execution
type SearchConfig struct {
	UseMock        bool                         `yaml:"use_mock"`
	Timeout        time.Duration                `yaml:"timeout"`
	Strategies     map[string]map[string]string `yaml:"strategies"`
	EnrichPages    bool                         `yaml:"enrich_pages"`
	DefaultColumns []string                     `yaml:"default_columns"`
}

// PathsConfig locates prompts and output directories
type PathsConfig struct {
	PromptsDir      string `yaml:"prompts_dir"`
	ExportDir       string `yaml:"export_dir"`
	DebugExportDir  string `yaml:"debug_export_dir"`
	ReportsDir      string `yaml:"reports_dir"`
	RawResponsesDir string `yaml:"raw_responses_dir"`
}

// EventsConfig configures progress event publishing
type EventsConfig struct {
	// NATSURL enables publishing when non-empty
	NATSURL string `yaml:"nats_url"`
	// Subject is the subject prefix for run events
	Subject string `yaml:"subject"`
	// StoreRuns persists run summaries in a KV bucket (requires JetStream)
	StoreRuns bool `yaml:"store_runs"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	// Addr serves /metrics when non-empty (e.g. ":9090")
	Addr string `yaml:"addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	models := make(map[string]string, len(Steps))
	for _, s := range Steps {
		models[s] = DefaultModel
	}

	return &Config{
		Models: models,
		LLM: LLMConfig{
			Provider:    "openai",
			Timeout:     3 * time.Minute,
			MaxAttempts: 3,
		},
		Limits: LimitsConfig{
			InitialBatches:  2,
			PerBatch:        25,
			RetryBatches:    1,
			FilteredCount:   0,
			FilterGroupSize: 5,
			MaxRetryRounds:  3,
			WorkerPoolSize:  6,
		},
		Search: SearchConfig{
			Timeout: 90 * time.Second,
			Strategies: map[string]map[string]string{
				"web":  {"max_results": "15"},
				"news": {"max_results": "15", "recency": "12mo"},
				"agg":  {"max_results": "15", "site_bias": "directory"},
			},
			DefaultColumns: []string{"title", "url", "snippet", "source"},
		},
		Paths: PathsConfig{
			PromptsDir:      "prompts",
			ExportDir:       "exports",
			DebugExportDir:  "exports/debug",
			ReportsDir:      "reports",
			RawResponsesDir: "exports/raw",
		},
		Events: EventsConfig{
			Subject: "desai.run",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	for _, s := range Steps {
		if c.Models[s] == "" {
			return fmt.Errorf("models.%s is required", s)
		}
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("llm.provider is required")
	}
	if c.LLM.MaxAttempts < 1 {
		return fmt.Errorf("llm.max_attempts must be at least 1")
	}
	l := c.Limits
	switch {
	case l.InitialBatches < 1:
		return fmt.Errorf("limits.initial_batches must be at least 1")
	case l.PerBatch < 1:
		return fmt.Errorf("limits.per_batch must be at least 1")
	case l.RetryBatches < 1:
		return fmt.Errorf("limits.retry_batches must be at least 1")
	case l.FilteredCount < 0:
		return fmt.Errorf("limits.filtered_count must not be negative")
	case l.FilterGroupSize < 1:
		return fmt.Errorf("limits.filter_group_size must be at least 1")
	case l.MaxRetryRounds < 1:
		return fmt.Errorf("limits.max_retry_rounds must be at least 1")
	case l.WorkerPoolSize < 1:
		return fmt.Errorf("limits.worker_pool_size must be at least 1")
	}
	if c.Search.Timeout <= 0 {
		return fmt.Errorf("search.timeout must be positive")
	}
	if _, ok := c.Search.Strategies["web"]; !ok {
		return fmt.Errorf("search.strategies must define web")
	}
	if len(c.Search.DefaultColumns) == 0 {
		return fmt.Errorf("search.default_columns is required")
	}
	if c.Paths.ExportDir == "" || c.Paths.DebugExportDir == "" || c.Paths.ReportsDir == "" {
		return fmt.Errorf("paths.export_dir, paths.debug_export_dir and paths.reports_dir are required")
	}
	return nil
}

// Ensure creates the output directories.
func (p PathsConfig) Ensure() error {
	for _, dir := range []string{p.ExportDir, p.DebugExportDir, p.ReportsDir, p.RawResponsesDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	for step, m := range other.Models {
		if m != "" {
			if c.Models == nil {
				c.Models = make(map[string]string)
			}
			c.Models[step] = m
		}
	}

	// LLM
	if other.LLM.Provider != "" {
		c.LLM.Provider = other.LLM.Provider
	}
	if other.LLM.BaseURL != "" {
		c.LLM.BaseURL = other.LLM.BaseURL
	}
	if other.LLM.Timeout != 0 {
		c.LLM.Timeout = other.LLM.Timeout
	}
	if other.LLM.MaxAttempts != 0 {
		c.LLM.MaxAttempts = other.LLM.MaxAttempts
	}

	// Limits
	mergeInt(&c.Limits.InitialBatches, other.Limits.InitialBatches)
	mergeInt(&c.Limits.PerBatch, other.Limits.PerBatch)
	mergeInt(&c.Limits.RetryBatches, other.Limits.RetryBatches)
	mergeInt(&c.Limits.FilteredCount, other.Limits.FilteredCount)
	mergeInt(&c.Limits.FilterGroupSize, other.Limits.FilterGroupSize)
	mergeInt(&c.Limits.MaxRetryRounds, other.Limits.MaxRetryRounds)
	mergeInt(&c.Limits.WorkerPoolSize, other.Limits.WorkerPoolSize)

	// Search
	if other.Search.UseMock {
		c.Search.UseMock = true
	}
	if other.Search.Timeout != 0 {
		c.Search.Timeout = other.Search.Timeout
	}
	for name, params := range other.Search.Strategies {
		if c.Search.Strategies == nil {
			c.Search.Strategies = make(map[string]map[string]string)
		}
		c.Search.Strategies[name] = params
	}
	if other.Search.EnrichPages {
		c.Search.EnrichPages = true
	}
	if len(other.Search.DefaultColumns) > 0 {
		c.Search.DefaultColumns = other.Search.DefaultColumns
	}

	// Paths
	mergeString(&c.Paths.PromptsDir, other.Paths.PromptsDir)
	mergeString(&c.Paths.ExportDir, other.Paths.ExportDir)
	mergeString(&c.Paths.DebugExportDir, other.Paths.DebugExportDir)
	mergeString(&c.Paths.ReportsDir, other.Paths.ReportsDir)
	mergeString(&c.Paths.RawResponsesDir, other.Paths.RawResponsesDir)

	// Events
	mergeString(&c.Events.NATSURL, other.Events.NATSURL)
	mergeString(&c.Events.Subject, other.Events.Subject)
	if other.Events.StoreRuns {
		c.Events.StoreRuns = true
	}

	mergeString(&c.Metrics.Addr, other.Metrics.Addr)
}

func mergeInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
