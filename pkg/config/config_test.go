package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaultsFillsEverySection(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{APIKey: "k"}}
	cfg.SetDefaults()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://api.openai.com/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.DefaultModel)
	assert.Equal(t, ".queryagent/connections.json", cfg.Store.Path)
	assert.Equal(t, 3, cfg.Orchestrator.Budget)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "queryagent", cfg.Observability.ServiceName)
	assert.Equal(t, "otlp", cfg.Observability.ExporterType)
	assert.Equal(t, 1.0, cfg.Observability.SamplingRate)
	assert.Equal(t, 9090, cfg.Observability.MetricsPort)
}

func TestSetDefaultsDoesNotOverrideExplicitValues(t *testing.T) {
	cfg := &Config{Server: ServerConfig{Host: "127.0.0.1", Port: 9999}}
	cfg.SetDefaults()
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9999, cfg.Server.Port)
}

func TestServerAddress(t *testing.T) {
	c := ServerConfig{Host: "0.0.0.0", Port: 8080}
	assert.Equal(t, "0.0.0.0:8080", c.Address())
}

func TestValidateRequiresLLMAPIKey(t *testing.T) {
	cfg := &Config{}
	cfg.SetDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.api_key")
}

func TestValidateRejectsInvalidLogLevel(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{APIKey: "k"}, Logger: LoggerConfig{Level: "verbose"}}
	cfg.SetDefaults()
	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsNegativeBudget(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{APIKey: "k"}, Orchestrator: OrchestratorConfig{Budget: -1}}
	cfg.SetDefaults()
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator.budget")
}

func TestValidatePassesWithDefaultsAndAPIKey(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{APIKey: "k"}}
	cfg.SetDefaults()
	require.NoError(t, cfg.Validate())
}
