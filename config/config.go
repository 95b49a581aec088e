// Package config loads and validates the static process configuration:
// server address, engine timeouts, agent definitions and client tool
// declarations. Registries are populated from this configuration at startup
// and never mutated afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration with YAML string parsing ("30s", "1m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root configuration document.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Engine       EngineConfig       `yaml:"engine"`
	Auth         AuthConfig         `yaml:"auth"`
	DefaultAgent string             `yaml:"default_agent"`
	Agents       []AgentConfig      `yaml:"agents"`
	ClientTools  []ClientToolConfig `yaml:"client_tools"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// EngineConfig configures turn execution.
type EngineConfig struct {
	ClientToolTimeout Duration `yaml:"client_tool_timeout"`
	ServerToolTimeout Duration `yaml:"server_tool_timeout"`
	MaxSteps          int      `yaml:"max_steps"`
}

// AuthConfig configures the bearer-token authenticator. Empty Tokens disables
// authentication (every request is anonymous).
type AuthConfig struct {
	// Tokens maps bearer token -> user identity.
	Tokens map[string]string `yaml:"tokens"`
}

// AgentConfig declares one agent.
type AgentConfig struct {
	ID           string      `yaml:"id"`
	Description  string      `yaml:"description"`
	Instructions string      `yaml:"instructions"`
	Model        ModelConfig `yaml:"model"`
	Tools        []string    `yaml:"tools"`
	Handoffs     []string    `yaml:"handoffs"`
}

// ModelConfig selects the reasoning provider backing an agent.
type ModelConfig struct {
	Provider    string  `yaml:"provider"` // "openai" or "anthropic"
	Name        string  `yaml:"name"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int64   `yaml:"max_tokens"`
}

// ClientToolConfig declares a process-wide client-delegated tool.
type ClientToolConfig struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Parameters  map[string]any `yaml:"parameters"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     Duration(30 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Engine: EngineConfig{
			ClientToolTimeout: Duration(30 * time.Second),
			ServerToolTimeout: Duration(10 * time.Second),
			MaxSteps:          8,
		},
	}
}

// Load reads, parses and validates the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses and validates a YAML document, applying defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate cross-checks the configuration. Violations are fatal at startup.
func (c Config) Validate() error {
	if len(c.Agents) == 0 {
		return fmt.Errorf("config: no agents defined")
	}
	ids := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config: agent missing id")
		}
		if ids[a.ID] {
			return fmt.Errorf("config: agent %s defined twice", a.ID)
		}
		ids[a.ID] = true
	}
	for _, a := range c.Agents {
		for _, target := range a.Handoffs {
			if !ids[target] {
				return fmt.Errorf("config: agent %s hands off to undefined agent %s", a.ID, target)
			}
		}
	}
	if c.DefaultAgent == "" {
		return fmt.Errorf("config: default_agent not set")
	}
	if !ids[c.DefaultAgent] {
		return fmt.Errorf("config: default_agent %s is not a defined agent", c.DefaultAgent)
	}
	if c.Engine.MaxSteps <= 0 {
		return fmt.Errorf("config: engine.max_steps must be positive")
	}
	seen := map[string]bool{}
	for _, t := range c.ClientTools {
		if t.Name == "" {
			return fmt.Errorf("config: client tool missing name")
		}
		if seen[t.Name] {
			return fmt.Errorf("config: client tool %s defined twice", t.Name)
		}
		seen[t.Name] = true
	}
	return nil
}
