// Package config loads helmsman configuration from YAML with environment
// overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all helmsman configuration.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Context  ContextConfig  `yaml:"context"`
	Session  SessionConfig  `yaml:"session"`
	Verdict  VerdictConfig  `yaml:"verdict"`
	Store    StoreConfig    `yaml:"store"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig configures the generation provider.
type ProviderConfig struct {
	// Kind selects the adapter: gemini, openai, mock.
	Kind string `yaml:"kind"`

	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`

	// ModelPath points at a local GGUF file. When set, the tier resolver
	// reads the parameter count from its metadata instead of assuming one.
	ModelPath string `yaml:"model_path"`

	// ParamCount overrides the estimated parameter count (0 = estimate).
	ParamCount int64 `yaml:"param_count"`

	Timeout time.Duration `yaml:"timeout"`
}

// ContextConfig configures the history compactor.
type ContextConfig struct {
	// WindowTokens is the model context window the compactor budgets against.
	WindowTokens int `yaml:"window_tokens"`

	// RecentTurnExempt is the most-recent-turn window never rewritten at
	// phase 2. Phase 3 shrinks the exemption on its own.
	RecentTurnExempt int `yaml:"recent_turn_exempt"`

	// OutputBufferKeep is how many trailing characters of the running output
	// buffer survive a phase 3 trim.
	OutputBufferKeep int `yaml:"output_buffer_keep"`
}

// SessionConfig configures the session loop.
type SessionConfig struct {
	TaskType      string        `yaml:"task_type"`
	MaxIterations int           `yaml:"max_iterations"`
	Pacing        time.Duration `yaml:"pacing"`

	// ExecTimeout bounds a single instruction execution.
	ExecTimeout time.Duration `yaml:"exec_timeout"`
}

// VerdictConfig configures the failure classifier.
type VerdictConfig struct {
	// PolicyPath is an optional YAML policy table overriding the built-in
	// pattern sets and thresholds. Watched for changes when set.
	PolicyPath string `yaml:"policy_path"`
}

// StoreConfig configures the decision journal.
type StoreConfig struct {
	// Path is the SQLite database file. Empty disables the journal.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			Kind:    "mock",
			Timeout: 2 * time.Minute,
		},
		Context: ContextConfig{
			WindowTokens:     32768,
			RecentTurnExempt: 6,
			OutputBufferKeep: 15000,
		},
		Session: SessionConfig{
			TaskType:      "general",
			MaxIterations: 25,
			Pacing:        250 * time.Millisecond,
			ExecTimeout:   2 * time.Minute,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads a YAML config file, applying defaults for absent fields
// and environment overrides afterwards. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides pulls secrets from the environment so they never need to
// live in the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HELMSMAN_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("HELMSMAN_PROVIDER"); v != "" {
		cfg.Provider.Kind = v
	}
	if v := os.Getenv("HELMSMAN_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("HELMSMAN_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case "gemini", "openai", "mock":
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider.Kind)
	}
	if c.Context.WindowTokens <= 0 {
		return fmt.Errorf("context.window_tokens must be positive, got %d", c.Context.WindowTokens)
	}
	if c.Session.MaxIterations <= 0 {
		return fmt.Errorf("session.max_iterations must be positive, got %d", c.Session.MaxIterations)
	}
	return nil
}
