// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// LLMConfig configures the OpenAI-compatible chat-completions backend the
// orchestrator plans and answers through.
type LLMConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
}

// SetDefaults applies default values to LLMConfig.
func (c *LLMConfig) SetDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.DefaultModel == "" {
		c.DefaultModel = "gpt-4o-mini"
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	return nil
}

// KOSISConfig configures the built-in KOSIS Open API handler's default key,
// used when a connection's own ConnectionConfig.APIKey is left empty.
type KOSISConfig struct {
	DefaultAPIKey string `yaml:"default_api_key,omitempty"`
}

// ServerConfig configures the HTTP transport (pkg/transport).
type ServerConfig struct {
	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`
}

// SetDefaults applies default values to ServerConfig.
func (c *ServerConfig) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8080
	}
}

// Address returns the host:port listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StoreConfig configures where the connection manager persists connection
// configs between restarts (spec §6's persisted-connections JSON store).
type StoreConfig struct {
	Path string `yaml:"path,omitempty"`
}

// SetDefaults applies default values to StoreConfig.
func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = ".queryagent/connections.json"
	}
}

// OrchestratorConfig tunes C5's plan-execute-reflect loop.
type OrchestratorConfig struct {
	// Budget is the maximum number of plan attempts (including reflection
	// retries) before the orchestrator gives up. Default: 3.
	Budget int `yaml:"budget,omitempty"`
}

// SetDefaults applies default values to OrchestratorConfig.
func (c *OrchestratorConfig) SetDefaults() {
	if c.Budget == 0 {
		c.Budget = 3
	}
}

// ObservabilityConfig configures the otel tracer/metrics pipeline
// (observability.Config).
type ObservabilityConfig struct {
	TracingEnabled bool    `yaml:"tracing_enabled,omitempty"`
	ExporterType   string  `yaml:"exporter_type,omitempty"`
	EndpointURL    string  `yaml:"endpoint_url,omitempty"`
	SamplingRate   float64 `yaml:"sampling_rate,omitempty"`
	ServiceName    string  `yaml:"service_name,omitempty"`
	MetricsEnabled bool    `yaml:"metrics_enabled,omitempty"`
	MetricsPort    int     `yaml:"metrics_port,omitempty"`
}

// SetDefaults applies default values to ObservabilityConfig.
func (c *ObservabilityConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "queryagent"
	}
	if c.ExporterType == "" {
		c.ExporterType = "otlp"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
}

// Config is the root of the file-loaded configuration tree.
type Config struct {
	Server       ServerConfig        `yaml:"server,omitempty"`
	LLM          LLMConfig           `yaml:"llm"`
	KOSIS        KOSISConfig         `yaml:"kosis,omitempty"`
	Store        StoreConfig         `yaml:"store,omitempty"`
	Orchestrator OrchestratorConfig  `yaml:"orchestrator,omitempty"`
	Logger       LoggerConfig        `yaml:"logger,omitempty"`
	Observability ObservabilityConfig `yaml:"observability,omitempty"`
}

// SetDefaults applies defaults to every section.
func (c *Config) SetDefaults() {
	c.Server.SetDefaults()
	c.LLM.SetDefaults()
	c.Store.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Logger.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the whole config tree after defaults have been applied.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Logger.Validate(); err != nil {
		return err
	}
	if c.Orchestrator.Budget < 1 {
		return fmt.Errorf("orchestrator.budget must be at least 1")
	}
	return nil
}
