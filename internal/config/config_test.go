package config

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const validYAML = `
server:
  port: 8080
  read_timeout: 30s
  write_timeout: 120s
llm:
  model: test-model
  api_key: ${TEST_LLM_API_KEY:-fallback-key}
  temperature: 0.5
  max_output_tokens: 1024
  timeout: 60s
retry:
  max_attempts: 3
  base_delay: 1s
metrics:
  store: memory
logging:
  level: info
`

func TestLoadFromBytes_Valid(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, 0.5, cfg.LLM.Temperature)
	assert.Equal(t, 1024, cfg.LLM.MaxOutputTokens)
	assert.Equal(t, 60*time.Second, cfg.LLM.Timeout)
	assert.Nil(t, cfg.LLM.TopP)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
}

func TestLoadFromBytes_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_LLM_API_KEY", "sk-from-env")

	cfg, err := LoadFromBytes([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.LLM.APIKey.Reveal())
}

func TestLoadFromBytes_EnvDefault(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "fallback-key", cfg.LLM.APIKey.Reveal())
}

func TestValidate_Failures(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadFromBytes([]byte(validYAML))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"missing read timeout", func(c *Config) { c.Server.ReadTimeout = 0 }, "read_timeout"},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, "llm.model"},
		{"temperature range", func(c *Config) { c.LLM.Temperature = 3.5 }, "temperature"},
		{"negative max tokens", func(c *Config) { c.LLM.MaxOutputTokens = -1 }, "max_output_tokens"},
		{"sqlite without path", func(c *Config) { c.Metrics.Store = "sqlite" }, "metrics.path"},
		{"unknown store", func(c *Config) { c.Metrics.Store = "redis" }, "metrics.store"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLLMConfig_CloneIsDeep(t *testing.T) {
	topP := 0.9
	orig := LLMConfig{Model: "m", APIKey: NewSecret("k"), TopP: &topP}

	clone := orig.Clone()
	*orig.TopP = 0.1

	assert.Equal(t, 0.9, *clone.TopP)
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := NewSecret("sk-super-secret")

	assert.NotContains(t, s.String(), "sk-super-secret")
	assert.NotContains(t, fmt.Sprintf("%v %s %#v", s, s, s), "sk-super-secret")

	j, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(j), "sk-super-secret")

	y, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(y), "sk-super-secret")

	// The explicit extraction path is the only one that works.
	assert.Equal(t, "sk-super-secret", s.Reveal())
	assert.False(t, s.IsZero())
	assert.True(t, NewSecret("").IsZero())
}
