// Package config loads engine and provider configuration from
// .prosaic.yaml, falling back to defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the structure of .prosaic.yaml.
type Config struct {
	// Provider selects the analysis backend: "anthropic" or "openai".
	Provider string `yaml:"provider"`

	// AnalyzeModel / VerifyModel override the backend's model defaults.
	AnalyzeModel string `yaml:"analyze_model"`
	VerifyModel  string `yaml:"verify_model"`

	// IdleDelay is how long a field must stay quiet before a stability
	// pass runs. Duration string like "1s", "500ms".
	IdleDelay string `yaml:"idle_delay"`

	// EventsDB is the path of the SQLite event log. Empty disables
	// event recording.
	EventsDB string `yaml:"events_db"`

	// Retry tuning for provider calls.
	Retry RetryConfig `yaml:"retry"`
}

// RetryConfig mirrors the provider reliability knobs in file form.
type RetryConfig struct {
	MaxRetries         int     `yaml:"max_retries"`
	TimeoutSeconds     int     `yaml:"timeout_seconds"`
	MaxConcurrentCalls int     `yaml:"max_concurrent_calls"`
	RequestsPerSecond  float64 `yaml:"requests_per_second"`
}

// DefaultPath is where Load looks when no path is given.
const DefaultPath = ".prosaic.yaml"

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Provider:  "anthropic",
		IdleDelay: "1s",
	}
}

// Load reads the config file at path (DefaultPath if empty). A missing
// file is not an error: defaults are returned.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks field values that would otherwise fail deep inside
// the engine.
func (c *Config) Validate() error {
	switch c.Provider {
	case "anthropic", "openai":
	case "":
		c.Provider = "anthropic"
	default:
		return fmt.Errorf("unknown provider %q (want anthropic or openai)", c.Provider)
	}
	if c.IdleDelay != "" {
		if _, err := time.ParseDuration(c.IdleDelay); err != nil {
			return fmt.Errorf("idle_delay: %w", err)
		}
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0")
	}
	return nil
}

// IdleDelayDuration returns the parsed idle delay, or 0 when unset so
// the stability manager applies its own default.
func (c *Config) IdleDelayDuration() time.Duration {
	if c.IdleDelay == "" {
		return 0
	}
	d, err := time.ParseDuration(c.IdleDelay)
	if err != nil {
		return 0
	}
	return d
}
