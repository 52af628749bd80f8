package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emberchat/ember/pkg/config"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := config.Default()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.ProviderHash, cfg.Embedder.Provider)
	assert.Equal(t, config.BackendSQLite, cfg.Store.Backend)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EMBER_EMBEDDER_PROVIDER", "openai")
	t.Setenv("EMBER_EMBEDDER_API_KEY", "sk-test")
	t.Setenv("EMBER_EMBEDDER_DIMENSIONS", "1536")
	t.Setenv("EMBER_LLM_PROVIDER", "ollama")
	t.Setenv("EMBER_LLM_MODEL", "llama3.1")
	t.Setenv("EMBER_SQLITE_PATH", "/tmp/ember.db")
	t.Setenv("EMBER_DECAY_INTERVAL", "6h")
	t.Setenv("EMBER_DECAY_RUN_ON_START", "true")

	cfg, err := config.LoadFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.Embedder.Provider)
	assert.Equal(t, "sk-test", cfg.Embedder.APIKey)
	assert.Equal(t, 1536, cfg.Embedder.Dimensions)
	assert.Equal(t, "ollama", cfg.LLM.Provider)
	assert.Equal(t, "llama3.1", cfg.LLM.Model)
	assert.Equal(t, "/tmp/ember.db", cfg.Store.SQLitePath)
	assert.Equal(t, 6*time.Hour, cfg.Decay.Interval)
	assert.True(t, cfg.Decay.RunOnStart)
}

func TestLoadFromEnvFile(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("EMBER_EMBEDDER_PROVIDER=ollama\nEMBER_EMBEDDER_MODEL=nomic-embed-text\n"), 0o644))

	// godotenv mutates the process environment.
	t.Cleanup(func() {
		_ = os.Unsetenv("EMBER_EMBEDDER_PROVIDER")
		_ = os.Unsetenv("EMBER_EMBEDDER_MODEL")
	})

	cfg, err := config.LoadFromEnv(envFile)
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Embedder.Provider)
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.Model)
}

func TestLoadFromEnvMissingFileIgnored(t *testing.T) {
	cfg, err := config.LoadFromEnv(filepath.Join(t.TempDir(), "does-not-exist.env"))

	require.NoError(t, err)
	assert.Equal(t, config.ProviderHash, cfg.Embedder.Provider)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	payload := `{
		"embedder": {"provider": "hash", "dimensions": 256},
		"store": {"backend": "postgres", "postgres": {"host": "localhost", "dbname": "ember"}}
	}`
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Embedder.Dimensions)
	assert.Equal(t, config.BackendPostgres, cfg.Store.Backend)
	assert.Equal(t, "localhost", cfg.Store.Postgres.Host)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"unknown embedder provider", func(c *config.Config) { c.Embedder.Provider = "word2vec" }},
		{"openai embedder without key", func(c *config.Config) { c.Embedder.Provider = config.ProviderOpenAI }},
		{"unknown llm provider", func(c *config.Config) { c.LLM.Provider = "bard" }},
		{"openai llm without key", func(c *config.Config) { c.LLM.Provider = config.ProviderOpenAI }},
		{"unknown backend", func(c *config.Config) { c.Store.Backend = "mysql" }},
		{"sqlite without path", func(c *config.Config) { c.Store.SQLitePath = "" }},
		{"postgres without host", func(c *config.Config) {
			c.Store.Backend = config.BackendPostgres
			c.Store.Postgres.DBName = "ember"
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
