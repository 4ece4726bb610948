// Package config defines the TaskRun runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration.
type Config struct {
	Store    StoreConfig    `json:"store" yaml:"store"`
	Runtime  RuntimeConfig  `json:"runtime" yaml:"runtime"`
	Retry    RetryConfig    `json:"retry" yaml:"retry"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	LogJSON  bool           `json:"log_json" yaml:"log_json"`
}

// StoreConfig selects and configures the checkpoint backend.
type StoreConfig struct {
	// Backend is one of "memory", "sqlite", "mysql".
	Backend string `json:"backend" yaml:"backend"`

	// Path is the SQLite database file (sqlite backend only).
	Path string `json:"path,omitempty" yaml:"path"`

	// DSN is the MySQL data source name (mysql backend only). Prefer
	// setting this via environment over committing credentials.
	DSN string `json:"dsn,omitempty" yaml:"dsn"`
}

// RuntimeConfig controls drive-loop behavior.
type RuntimeConfig struct {
	// TaskTimeout bounds each task's wall-clock execution. Zero disables.
	TaskTimeout time.Duration `json:"task_timeout" yaml:"task_timeout"`

	// CheckpointInterval is the extra checkpoint cadence while Executing.
	CheckpointInterval time.Duration `json:"checkpoint_interval" yaml:"checkpoint_interval"`

	// DeferPollInterval is the wait between dependency re-checks.
	DeferPollInterval time.Duration `json:"defer_poll_interval" yaml:"defer_poll_interval"`
}

// RetryConfig controls backoff for retryable failures.
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" yaml:"max_delay"`
}

// ProviderConfig selects the completion provider.
type ProviderConfig struct {
	// Name is one of "mock", "anthropic", "openai", "google".
	Name string `json:"name" yaml:"name"`

	// Model is the default model identifier.
	Model string `json:"model,omitempty" yaml:"model"`

	// APIKeyEnv names the environment variable holding the API key.
	APIKeyEnv string `json:"api_key_env,omitempty" yaml:"api_key_env"`

	// MaxTokens caps response length. Zero means the adapter default.
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens"`
}

// Default returns a config with sensible defaults: in-memory store, four
// retries from one second, five-minute task budget.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "memory",
		},
		Runtime: RuntimeConfig{
			TaskTimeout:        5 * time.Minute,
			CheckpointInterval: time.Minute,
			DeferPollInterval:  100 * time.Millisecond,
		},
		Retry: RetryConfig{
			MaxRetries: 4,
			BaseDelay:  time.Second,
			MaxDelay:   8 * time.Second,
		},
		Provider: ProviderConfig{
			Name: "mock",
		},
	}
}

// Load reads a YAML config file and returns the parsed configuration merged
// over defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("sqlite backend requires store.path")
		}
	case "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("mysql backend requires store.dsn")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	if c.Retry.MaxDelay > 0 && c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay must be >= retry.base_delay")
	}

	switch c.Provider.Name {
	case "mock", "anthropic", "openai", "google":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	return nil
}
