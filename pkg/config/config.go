// Package config loads and validates the memory engine configuration from
// environment variables (with optional .env files) or a JSON file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Provider names accepted by the embedder and LLM sections.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderHash   = "hash"
)

// Store backend names.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config is the full engine configuration.
type Config struct {
	Embedder EmbedderConfig `json:"embedder"`
	LLM      LLMConfig      `json:"llm"`
	Store    StoreConfig    `json:"store"`
	Decay    DecayConfig    `json:"decay"`
}

// EmbedderConfig selects the primary embedding backend. A local hash
// fallback is always wired behind the primary.
type EmbedderConfig struct {
	// Provider is the primary backend: "openai", "ollama" or "hash".
	Provider string `json:"provider"`

	// Model overrides the backend's default model.
	Model string `json:"model,omitempty"`

	// Dimensions overrides the backend's default vector width.
	Dimensions int `json:"dimensions,omitempty"`

	// APIKey authenticates hosted backends.
	APIKey string `json:"api_key,omitempty"`

	// BaseURL overrides the backend endpoint.
	BaseURL string `json:"base_url,omitempty"`

	// FallbackDimensions is the local fallback's vector width. Zero uses
	// the fallback's default.
	FallbackDimensions int `json:"fallback_dimensions,omitempty"`
}

// LLMConfig selects the decision judge's model. An empty provider disables
// the judge; the engine then relies on the rule-based detector alone.
type LLMConfig struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
	BaseURL  string `json:"base_url,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "sqlite" or "postgres".
	Backend string `json:"backend"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `json:"sqlite_path,omitempty"`

	Postgres PostgresConfig `json:"postgres,omitempty"`
}

// PostgresConfig holds connection settings for the postgres backend.
type PostgresConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
	DBName   string `json:"dbname,omitempty"`
	SSLMode  string `json:"sslmode,omitempty"`
}

// DecayConfig tunes the background decay scheduler.
type DecayConfig struct {
	// Interval is the sweep cadence. The scheduler clamps it to its
	// supported range.
	Interval time.Duration `json:"interval,omitempty"`

	// RunOnStart triggers a sweep as soon as the scheduler starts.
	RunOnStart bool `json:"run_on_start,omitempty"`
}

// Default returns a configuration that works with no external services:
// local hash embeddings, no judge, sqlite in the working directory.
func Default() *Config {
	return &Config{
		Embedder: EmbedderConfig{Provider: ProviderHash},
		Store: StoreConfig{
			Backend:    BackendSQLite,
			SQLitePath: "ember_memories.db",
		},
	}
}

// LoadFromEnv builds a configuration from EMBER_* environment variables,
// first loading any given .env files (missing files are ignored, matching
// local-development expectations).
func LoadFromEnv(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			if err := godotenv.Load(file); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", file, err)
			}
		}
	}

	cfg := Default()

	if v := os.Getenv("EMBER_EMBEDDER_PROVIDER"); v != "" {
		cfg.Embedder.Provider = v
	}
	cfg.Embedder.Model = getenvDefault("EMBER_EMBEDDER_MODEL", cfg.Embedder.Model)
	cfg.Embedder.BaseURL = getenvDefault("EMBER_EMBEDDER_BASE_URL", cfg.Embedder.BaseURL)
	cfg.Embedder.APIKey = getenvDefault("EMBER_EMBEDDER_API_KEY", os.Getenv("OPENAI_API_KEY"))
	if v := os.Getenv("EMBER_EMBEDDER_DIMENSIONS"); v != "" {
		dims, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse EMBER_EMBEDDER_DIMENSIONS: %w", err)
		}
		cfg.Embedder.Dimensions = dims
	}

	cfg.LLM.Provider = os.Getenv("EMBER_LLM_PROVIDER")
	cfg.LLM.Model = os.Getenv("EMBER_LLM_MODEL")
	cfg.LLM.BaseURL = os.Getenv("EMBER_LLM_BASE_URL")
	cfg.LLM.APIKey = getenvDefault("EMBER_LLM_API_KEY", os.Getenv("OPENAI_API_KEY"))

	if v := os.Getenv("EMBER_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	cfg.Store.SQLitePath = getenvDefault("EMBER_SQLITE_PATH", cfg.Store.SQLitePath)
	cfg.Store.Postgres.Host = os.Getenv("EMBER_PG_HOST")
	cfg.Store.Postgres.User = os.Getenv("EMBER_PG_USER")
	cfg.Store.Postgres.Password = os.Getenv("EMBER_PG_PASSWORD")
	cfg.Store.Postgres.DBName = os.Getenv("EMBER_PG_DBNAME")
	cfg.Store.Postgres.SSLMode = os.Getenv("EMBER_PG_SSLMODE")
	if v := os.Getenv("EMBER_PG_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse EMBER_PG_PORT: %w", err)
		}
		cfg.Store.Postgres.Port = port
	}

	if v := os.Getenv("EMBER_DECAY_INTERVAL"); v != "" {
		interval, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("parse EMBER_DECAY_INTERVAL: %w", err)
		}
		cfg.Decay.Interval = interval
	}
	if v := os.Getenv("EMBER_DECAY_RUN_ON_START"); v != "" {
		runOnStart, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("parse EMBER_DECAY_RUN_ON_START: %w", err)
		}
		cfg.Decay.RunOnStart = runOnStart
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile reads a JSON configuration file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements that the type system cannot.
func (c *Config) Validate() error {
	switch c.Embedder.Provider {
	case ProviderOpenAI:
		if c.Embedder.APIKey == "" {
			return fmt.Errorf("embedder provider %q requires an API key", c.Embedder.Provider)
		}
	case ProviderOllama, ProviderHash:
	default:
		return fmt.Errorf("unknown embedder provider %q", c.Embedder.Provider)
	}

	switch c.LLM.Provider {
	case "", ProviderOllama:
	case ProviderOpenAI:
		if c.LLM.APIKey == "" {
			return fmt.Errorf("llm provider %q requires an API key", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unknown llm provider %q", c.LLM.Provider)
	}

	switch c.Store.Backend {
	case BackendSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("sqlite backend requires a database path")
		}
	case BackendPostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.DBName == "" {
			return fmt.Errorf("postgres backend requires host and dbname")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}

	return nil
}

func getenvDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
