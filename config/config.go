// Package config provides configuration loading for the inkflow server.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Model   ModelConfig   `yaml:"model"`
	Engine  EngineConfig  `yaml:"engine"`
	Resume  ResumeConfig  `yaml:"resume"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`
	// BacklogLimit caps concurrent event streams. Zero rejects every
	// stream; use it to drain a server before shutdown.
	BacklogLimit int `yaml:"backlog_limit"`
	// RetryAfter is the backoff hint attached to busy responses.
	RetryAfter time.Duration `yaml:"retry_after"`
	// Heartbeat is the SSE comment-frame interval.
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// ModelConfig selects and tunes the model provider.
type ModelConfig struct {
	// Provider is one of "anthropic", "openai" or "mock".
	Provider string `yaml:"provider"`
	// Name is the provider-specific model identifier.
	Name string `yaml:"name"`
	// Temperature controls randomness (0.0-1.0).
	Temperature float64 `yaml:"temperature"`
	// MaxTokens bounds completion length where the provider supports it.
	MaxTokens int `yaml:"max_tokens"`
}

// EngineConfig tunes run behavior.
type EngineConfig struct {
	// MaxSteps bounds executed steps per run; zero means unlimited.
	MaxSteps int `yaml:"max_steps"`
	// FailOnDeny makes a denied HITL request fail the run on resume.
	FailOnDeny bool `yaml:"fail_on_deny"`
	// PolicyFile points at a JSON policy document loaded at startup.
	PolicyFile string `yaml:"policy_file"`
}

// ResumeConfig selects the snapshot store.
type ResumeConfig struct {
	// Store is "memory" or "sqlite".
	Store string `yaml:"store"`
	// Path is the SQLite database path; ignored for the memory store.
	Path string `yaml:"path"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "json" or "text".
	Format string `yaml:"format"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			BacklogLimit: 64,
			RetryAfter:   5 * time.Second,
			Heartbeat:    15 * time.Second,
		},
		Model: ModelConfig{
			Provider:    "anthropic",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Engine: EngineConfig{
			MaxSteps: 50,
		},
		Resume: ResumeConfig{
			Store: "memory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is required")
	}
	if c.Server.BacklogLimit < 0 {
		return fmt.Errorf("config: server.backlog_limit must not be negative")
	}
	switch c.Model.Provider {
	case "anthropic", "openai", "mock":
	default:
		return fmt.Errorf("config: unknown model.provider %q", c.Model.Provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("config: model.temperature must be between 0 and 1")
	}
	switch c.Resume.Store {
	case "memory":
	case "sqlite":
		if c.Resume.Path == "" {
			return fmt.Errorf("config: resume.path is required for the sqlite store")
		}
	default:
		return fmt.Errorf("config: unknown resume.store %q", c.Resume.Store)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown logging.level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown logging.format %q", c.Logging.Format)
	}
	return nil
}

// Load reads a YAML file layered over the defaults. An empty path returns
// the defaults untouched.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
