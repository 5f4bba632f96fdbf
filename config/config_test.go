package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Models[StepSearchGen] != DefaultModel {
		t.Errorf("expected default model %s, got %s", DefaultModel, cfg.Models[StepSearchGen])
	}
	if cfg.Limits.InitialBatches != 2 || cfg.Limits.PerBatch != 25 {
		t.Errorf("unexpected batch defaults: %+v", cfg.Limits)
	}
	if cfg.Limits.MaxRetryRounds != 3 {
		t.Errorf("expected 3 retry rounds, got %d", cfg.Limits.MaxRetryRounds)
	}
	if cfg.Search.Strategies["news"]["recency"] != "12mo" {
		t.Errorf("expected news recency 12mo, got %q", cfg.Search.Strategies["news"]["recency"])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "missing step model", modify: func(c *Config) { delete(c.Models, StepWeb) }, wantErr: true},
		{name: "zero batches", modify: func(c *Config) { c.Limits.InitialBatches = 0 }, wantErr: true},
		{name: "zero retry rounds", modify: func(c *Config) { c.Limits.MaxRetryRounds = 0 }, wantErr: true},
		{name: "zero pool", modify: func(c *Config) { c.Limits.WorkerPoolSize = 0 }, wantErr: true},
		{name: "negative filtered count", modify: func(c *Config) { c.Limits.FilteredCount = -1 }, wantErr: true},
		{name: "no web strategy", modify: func(c *Config) { delete(c.Search.Strategies, "web") }, wantErr: true},
		{name: "no timeout", modify: func(c *Config) { c.Search.Timeout = 0 }, wantErr: true},
		{name: "no default columns", modify: func(c *Config) { c.Search.DefaultColumns = nil }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFileAndMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "desai.yaml")
	content := `
models:
  web: gpt-test
limits:
  per_batch: 10
  max_retry_rounds: 2
search:
  timeout: 30s
  strategies:
    maps:
      max_results: "5"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	file, err := LoadFromFile(path)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Merge(file)

	assert.Equal(t, "gpt-test", cfg.Models[StepWeb])
	assert.Equal(t, DefaultModel, cfg.Models[StepSearchGen])
	assert.Equal(t, 10, cfg.Limits.PerBatch)
	assert.Equal(t, 2, cfg.Limits.InitialBatches)
	assert.Equal(t, 2, cfg.Limits.MaxRetryRounds)
	assert.Equal(t, 30*time.Second, cfg.Search.Timeout)
	assert.Contains(t, cfg.Search.Strategies, "maps")
	assert.Contains(t, cfg.Search.Strategies, "web")
}

func TestSaveToFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, DefaultConfig().SaveToFile(path))

	loaded, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Limits, loaded.Limits)
}

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
}

func TestLoader_EnvOverrides(t *testing.T) {
	isolate(t)

	env := map[string]string{
		"INITIAL_BATCHES":        "4",
		"SEARCHES_PER_BATCH":     "12",
		"SEARCH_EXECUTE_WORKERS": "9",
		"USE_MOCK_SEARCH":        "true",
		"MODEL_SEARCH_FILTER":    "small-model",
		"DEFAULT_COLUMNS":        "name, website ,,email",
		"RAW_RESPONSE_DIR":       "/tmp/raw",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg, err := NewLoader(nil, WithLookupEnv(lookup)).Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Limits.InitialBatches)
	assert.Equal(t, 12, cfg.Limits.PerBatch)
	assert.Equal(t, 9, cfg.Limits.WorkerPoolSize)
	assert.True(t, cfg.Search.UseMock)
	assert.Equal(t, "small-model", cfg.Models[StepSearchFilter])
	assert.Equal(t, []string{"name", "website", "email"}, cfg.Search.DefaultColumns)
	assert.Equal(t, "/tmp/raw", cfg.Paths.RawResponsesDir)
}

func TestLoader_WorkerPoolPrecedence(t *testing.T) {
	isolate(t)

	env := map[string]string{
		"WORKER_POOL_SIZE":        "3",
		"SEARCH_EXECUTE_WORKERS":  "9",
		"SEARCH_GENERATE_WORKERS": "7",
	}
	cfg, err := NewLoader(nil, WithLookupEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})).Load()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Limits.WorkerPoolSize)
}

func TestLoader_InvalidEnvIsFatal(t *testing.T) {
	isolate(t)

	_, err := NewLoader(nil, WithLookupEnv(func(k string) (string, bool) {
		if k == "MAX_RETRY_ROUNDS" {
			return "three", true
		}
		return "", false
	})).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_RETRY_ROUNDS")
}

func TestLoader_ProjectAndExplicitFiles(t *testing.T) {
	isolate(t)
	cwd, err := os.Getwd()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(cwd, ProjectConfigFile), []byte("limits:\n  per_batch: 8\n  initial_batches: 3\n"), 0644))
	explicit := filepath.Join(t.TempDir(), "override.yaml")
	require.NoError(t, os.WriteFile(explicit, []byte("limits:\n  per_batch: 6\n"), 0644))

	noEnv := func(string) (string, bool) { return "", false }
	cfg, err := NewLoader(nil, WithConfigFile(explicit), WithLookupEnv(noEnv)).Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Limits.PerBatch)
	assert.Equal(t, 3, cfg.Limits.InitialBatches)
}

func TestLoader_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := NewLoader(nil, WithConfigFile("/nonexistent/desai.yaml"), WithLookupEnv(func(string) (string, bool) { return "", false })).Load()
	assert.Error(t, err)
}

func TestPathsEnsure(t *testing.T) {
	root := t.TempDir()
	p := PathsConfig{
		ExportDir:       filepath.Join(root, "exports"),
		DebugExportDir:  filepath.Join(root, "exports", "debug"),
		ReportsDir:      filepath.Join(root, "reports"),
		RawResponsesDir: filepath.Join(root, "raw"),
	}
	require.NoError(t, p.Ensure())
	for _, d := range []string{p.ExportDir, p.DebugExportDir, p.ReportsDir, p.RawResponsesDir} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
