// Package config loads and validates the adapter service configuration.
//
// DESIGN: Configuration comes from a YAML file with ${VAR:-default}
// environment expansion, so credentials never have to live in the file
// itself. Validation is explicit and runs once at load time; the llm
// credential check is deliberately NOT here - the adapter enforces it
// at construction so library users get the same guarantee without
// going through Load().
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the adapter service.
type Config struct {
	Server  ServerConfig  `yaml:"server"`  // HTTP server settings
	LLM     LLMConfig     `yaml:"llm"`     // Upstream provider settings
	Retry   RetryConfig   `yaml:"retry"`   // Retry policy for upstream calls
	Metrics MetricsConfig `yaml:"metrics"` // Latency store settings
	Logging LoggerConfig  `yaml:"logging"` // Structured logging settings
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`          // Port to listen on
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // Max time to read request
	WriteTimeout time.Duration `yaml:"write_timeout"` // Max time to write response
}

// LLMConfig describes the upstream chat-completion provider.
// The adapter snapshots this at construction; mutating the caller's
// copy afterwards has no effect on an existing adapter.
type LLMConfig struct {
	Model           string        `yaml:"model"`             // Model identifier sent upstream
	APIKey          Secret        `yaml:"api_key"`           // Bearer credential (required by the adapter)
	BaseURL         string        `yaml:"base_url"`          // Provider base URL; adapter applies its default when empty
	Temperature     float64       `yaml:"temperature"`       // Sampling temperature
	MaxOutputTokens int           `yaml:"max_output_tokens"` // max_tokens sent upstream
	TopP            *float64      `yaml:"top_p"`             // Nucleus sampling; omitted from the wire when nil
	Timeout         time.Duration `yaml:"timeout"`           // Per-call deadline; adapter applies its default when zero
}

// Clone returns a deep copy of the LLM settings. TopP is the only
// pointer field, so this is what keeps the adapter's snapshot
// independent of the caller's struct.
func (c LLMConfig) Clone() LLMConfig {
	out := c
	if c.TopP != nil {
		v := *c.TopP
		out.TopP = &v
	}
	return out
}

// RetryConfig tunes the retry policy wrapped around upstream calls.
// Zero values fall back to the retry package defaults.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"` // Total attempts including the first (0 = default)
	BaseDelay   time.Duration `yaml:"base_delay"`   // Initial backoff delay
	MaxDelay    time.Duration `yaml:"max_delay"`    // Backoff ceiling
}

// MetricsConfig selects the latency store backend.
type MetricsConfig struct {
	Store string `yaml:"store"` // "memory" or "sqlite"
	Path  string `yaml:"path"`  // SQLite file path (required for "sqlite")
}

// LoggerConfig contains logging configuration.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
	Output string `yaml:"output"` // stdout, stderr, or file path
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnv expands ${VAR} and ${VAR:-default} references against the
// process environment.
func expandEnv(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, expanding
// environment references before unmarshalling.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == 0 {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ReadTimeout == 0 {
		return fmt.Errorf("server.read_timeout is required")
	}
	if c.Server.WriteTimeout == 0 {
		return fmt.Errorf("server.write_timeout is required")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("invalid llm.temperature: %g (must be 0-2)", c.LLM.Temperature)
	}
	if c.LLM.MaxOutputTokens < 0 {
		return fmt.Errorf("invalid llm.max_output_tokens: %d", c.LLM.MaxOutputTokens)
	}

	if c.Retry.MaxAttempts < 0 {
		return fmt.Errorf("invalid retry.max_attempts: %d", c.Retry.MaxAttempts)
	}

	switch c.Metrics.Store {
	case "", "memory":
	case "sqlite":
		if c.Metrics.Path == "" {
			return fmt.Errorf("metrics.path is required when metrics.store is 'sqlite'")
		}
	default:
		return fmt.Errorf("invalid metrics.store: %q (must be 'memory' or 'sqlite')", c.Metrics.Store)
	}

	return nil
}
