// Package config loads the agentloom configuration from a YAML file plus
// environment overrides. Secrets never live in the YAML file: the API key
// and database DSN are resolved from the environment (a .env file is
// loaded first if present).
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Planner  PlannerConfig  `yaml:"planner"`
	Build    BuildConfig    `yaml:"build"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	// Addr is the listen address (default: ":8387").
	Addr string `yaml:"addr"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	// Driver is "sqlite3" (default) or "pgx".
	Driver string `yaml:"driver"`

	// DSN is the database path or Postgres connection string. Overridden
	// by AGENTLOOM_DB_DSN.
	DSN string `yaml:"dsn"`
}

// PlannerConfig configures the plan provider.
type PlannerConfig struct {
	// Model is the Anthropic model id (default: claude-3-5-sonnet).
	Model string `yaml:"model"`

	// MaxTokens caps each planner reply (default: 4096).
	MaxTokens int `yaml:"max_tokens"`

	// APIKey is resolved from ANTHROPIC_API_KEY; never from YAML.
	APIKey string `yaml:"-"`
}

// BuildConfig tunes the build orchestrator.
type BuildConfig struct {
	// PacingMs is the fixed duration of the safeguards stage in
	// milliseconds (default: 1500).
	PacingMs int `yaml:"pacing_ms"`

	// DefaultModel is stamped onto new agent records.
	DefaultModel string `yaml:"default_model"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	// Level is "debug" or "info" (default: info).
	Level string `yaml:"level"`

	// Format is "json" (default) or "text".
	Format string `yaml:"format"`
}

// Load reads the config file at path (missing file is fine, defaults
// apply) and applies environment overrides.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is not an error.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	if v := os.Getenv("AGENTLOOM_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("AGENTLOOM_DB_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("AGENTLOOM_DB_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	cfg.Planner.APIKey = os.Getenv("ANTHROPIC_API_KEY")

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8387"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite3"
	}
	if c.Database.Driver == "sqlite3" && c.Database.DSN == "" {
		c.Database.DSN = "./data/agentloom.db"
	}
	if c.Planner.Model == "" {
		c.Planner.Model = "claude-3-5-sonnet-20241022"
	}
	if c.Planner.MaxTokens <= 0 {
		c.Planner.MaxTokens = 4096
	}
	if c.Build.PacingMs <= 0 {
		c.Build.PacingMs = 1500
	}
	if c.Build.DefaultModel == "" {
		c.Build.DefaultModel = c.Planner.Model
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
}
