// Package config holds claimpilot configuration, loaded from a YAML file
// with environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all claimpilot configuration.
type Config struct {
	// Storage paths
	Storage StorageConfig `yaml:"storage"`

	// LLM provider settings
	LLM LLMConfig `yaml:"llm"`

	// Agent loop settings
	Agent AgentConfig `yaml:"agent"`
}

// StorageConfig configures the SQLite databases.
type StorageConfig struct {
	BusinessDB   string `yaml:"business_db"`
	CheckpointDB string `yaml:"checkpoint_db"`
}

// LLMConfig configures the planner's completion provider.
type LLMConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// AgentConfig configures the orchestration loop.
type AgentConfig struct {
	// MaxSteps caps planner tool-loop iterations per turn.
	MaxSteps int `yaml:"max_steps"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			BusinessDB:   ".claimpilot/claims.db",
			CheckpointDB: ".claimpilot/checkpoints.db",
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: "120s",
		},
		Agent: AgentConfig{
			MaxSteps: 10,
		},
	}
}

// Load reads the config file at path, layering it over the defaults. A
// missing file is not an error: defaults apply. CLAIMPILOT_API_KEY
// overrides the configured key so secrets stay out of the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if key := os.Getenv("CLAIMPILOT_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	return cfg, nil
}

// LLMTimeout parses the configured timeout, falling back to two minutes.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}
