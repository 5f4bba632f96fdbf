package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// ProjectConfigFile is the name of the project-level config file
	ProjectConfigFile = "desai.yaml"
	// UserConfigDir is the directory for user-level config
	UserConfigDir = ".config/desai"
	// UserConfigFile is the name of the user-level config file
	UserConfigFile = "config.yaml"
)

// Loader handles configuration loading with layered precedence
type Loader struct {
	logger   *slog.Logger
	explicit string
	lookup   func(string) (string, bool)
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile adds an explicit config file applied after user and project files.
func WithConfigFile(path string) LoaderOption {
	return func(l *Loader) {
		l.explicit = path
	}
}

// WithLookupEnv replaces os.LookupEnv, mainly for tests.
func WithLookupEnv(lookup func(string) (string, bool)) LoaderOption {
	return func(l *Loader) {
		l.lookup = lookup
	}
}

// NewLoader creates a new configuration loader
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, lookup: os.LookupEnv}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load loads configuration with layered precedence:
// 1. Default config
// 2. User config (~/.config/desai/config.yaml)
// 3. Project config (desai.yaml in current or parent directories)
// 4. Explicit config file
// 5. Environment variables
func (l *Loader) Load() (*Config, error) {
	config := DefaultConfig()

	userConfigPath := l.userConfigPath()
	if userConfigPath != "" {
		if userConfig, err := LoadFromFile(userConfigPath); err == nil {
			l.logger.Debug("Loaded user config", slog.String("path", userConfigPath))
			config.Merge(userConfig)
		} else if !errors.Is(err, fs.ErrNotExist) {
			l.logger.Warn("Failed to load user config", slog.String("path", userConfigPath), slog.String("error", err.Error()))
		}
	}

	if projectConfigPath := l.findProjectConfig(); projectConfigPath != "" {
		if projectConfig, err := LoadFromFile(projectConfigPath); err == nil {
			l.logger.Debug("Loaded project config", slog.String("path", projectConfigPath))
			config.Merge(projectConfig)
		} else {
			l.logger.Warn("Failed to load project config", slog.String("path", projectConfigPath), slog.String("error", err.Error()))
		}
	} else {
		l.logger.Debug("No project config found")
	}

	if l.explicit != "" {
		explicitConfig, err := LoadFromFile(l.explicit)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("Loaded config file", slog.String("path", l.explicit))
		config.Merge(explicitConfig)
	}

	if err := l.applyEnv(config); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnv overlays environment variables onto the config.
func (l *Loader) applyEnv(c *Config) error {
	ints := []struct {
		keys []string
		dst  *int
	}{
		{[]string{"INITIAL_BATCHES"}, &c.Limits.InitialBatches},
		{[]string{"SEARCHES_PER_BATCH"}, &c.Limits.PerBatch},
		{[]string{"RETRY_BATCHES"}, &c.Limits.RetryBatches},
		{[]string{"FILTERED_COUNT"}, &c.Limits.FilteredCount},
		{[]string{"FILTER_GROUP_SIZE"}, &c.Limits.FilterGroupSize},
		{[]string{"MAX_RETRY_ROUNDS"}, &c.Limits.MaxRetryRounds},
		{[]string{"WORKER_POOL_SIZE", "SEARCH_EXECUTE_WORKERS", "SEARCH_GENERATE_WORKERS"}, &c.Limits.WorkerPoolSize},
	}
	for _, e := range ints {
		key, raw, ok := l.first(e.keys...)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, raw, err)
		}
		*e.dst = n
	}

	if key, raw, ok := l.first("USE_MOCK_SEARCH"); ok {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", key, raw, err)
		}
		c.Search.UseMock = b
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"PROMPTS_DIR", &c.Paths.PromptsDir},
		{"EXPORT_DIR", &c.Paths.ExportDir},
		{"DEBUG_EXPORT_DIR", &c.Paths.DebugExportDir},
		{"REPORTS_DIR", &c.Paths.ReportsDir},
		{"RAW_RESPONSE_DIR", &c.Paths.RawResponsesDir},
		{"NATS_URL", &c.Events.NATSURL},
		{"LLM_PROVIDER", &c.LLM.Provider},
		{"LLM_BASE_URL", &c.LLM.BaseURL},
	}
	for _, e := range strs {
		if _, raw, ok := l.first(e.key); ok {
			*e.dst = raw
		}
	}

	for _, step := range Steps {
		if _, raw, ok := l.first("MODEL_" + strings.ToUpper(step)); ok {
			c.Models[step] = raw
		}
	}

	if _, raw, ok := l.first("DEFAULT_COLUMNS"); ok {
		var cols []string
		for _, col := range strings.Split(raw, ",") {
			if col = strings.TrimSpace(col); col != "" {
				cols = append(cols, col)
			}
		}
		if len(cols) > 0 {
			c.Search.DefaultColumns = cols
		}
	}

	return nil
}

// first returns the first non-empty variable among keys.
func (l *Loader) first(keys ...string) (string, string, bool) {
	for _, k := range keys {
		if v, ok := l.lookup(k); ok && strings.TrimSpace(v) != "" {
			return k, strings.TrimSpace(v), true
		}
	}
	return "", "", false
}

// EnsureUserConfig creates the user config file with defaults if it doesn't exist
func (l *Loader) EnsureUserConfig() error {
	userConfigPath := l.userConfigPath()
	if userConfigPath == "" {
		return fmt.Errorf("cannot determine home directory")
	}

	if _, err := os.Stat(userConfigPath); err == nil {
		return nil
	}

	if err := DefaultConfig().SaveToFile(userConfigPath); err != nil {
		return err
	}

	l.logger.Info("Created default user config", slog.String("path", userConfigPath))
	return nil
}

// userConfigPath returns the path to the user config file
func (l *Loader) userConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, UserConfigDir, UserConfigFile)
}

// findProjectConfig searches for desai.yaml in current and parent directories
func (l *Loader) findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	dir := cwd
	for {
		configPath := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
