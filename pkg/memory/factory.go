package memory

import (
	"fmt"

	"github.com/emberchat/ember/pkg/config"
	"github.com/emberchat/ember/pkg/embedding"
	"github.com/emberchat/ember/pkg/embedding/hash"
	embollama "github.com/emberchat/ember/pkg/embedding/ollama"
	embopenai "github.com/emberchat/ember/pkg/embedding/openai"
	"github.com/emberchat/ember/pkg/llm"
	llmollama "github.com/emberchat/ember/pkg/llm/ollama"
	llmopenai "github.com/emberchat/ember/pkg/llm/openai"
	"github.com/emberchat/ember/pkg/store"
	"github.com/emberchat/ember/pkg/store/postgres"
	"github.com/emberchat/ember/pkg/store/sqlite"
)

// NewEngineFromConfig builds a fully wired engine: store backend, embedding
// adapter with a local hash fallback, and the LLM judge when one is
// configured. The engine owns the store and closes it on Close.
func NewEngineFromConfig(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, opErr("init", err)
	}

	s, err := buildStore(cfg)
	if err != nil {
		return nil, err
	}

	adapter, err := buildEmbedder(cfg)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	judgeLLM, err := buildLLM(cfg)
	if err != nil {
		_ = s.Close()
		_ = adapter.Close()
		return nil, err
	}

	opts := []Option{}
	if judgeLLM != nil {
		opts = append(opts, WithJudge(judgeLLM))
	}

	engine, err := NewEngine(s, adapter, opts...)
	if err != nil {
		_ = s.Close()
		_ = adapter.Close()
		return nil, err
	}
	engine.ownedStore = s
	return engine, nil
}

func buildStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case config.BackendSQLite:
		client, err := sqlite.NewClient(&sqlite.Config{DBPath: cfg.Store.SQLitePath})
		if err != nil {
			return nil, opErr("init store", err)
		}
		return client, nil
	case config.BackendPostgres:
		client, err := postgres.NewClient(&postgres.Config{
			Host:     cfg.Store.Postgres.Host,
			Port:     cfg.Store.Postgres.Port,
			User:     cfg.Store.Postgres.User,
			Password: cfg.Store.Postgres.Password,
			DBName:   cfg.Store.Postgres.DBName,
			SSLMode:  cfg.Store.Postgres.SSLMode,
		})
		if err != nil {
			return nil, opErr("init store", err)
		}
		return client, nil
	default:
		return nil, opErr("init store", fmt.Errorf("unknown backend %q", cfg.Store.Backend))
	}
}

func buildEmbedder(cfg *config.Config) (*embedding.Adapter, error) {
	var primary embedding.Provider

	switch cfg.Embedder.Provider {
	case config.ProviderOpenAI:
		client, err := embopenai.NewClient(&embopenai.Config{
			APIKey:     cfg.Embedder.APIKey,
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			return nil, opErr("init embedder", err)
		}
		primary = client
	case config.ProviderOllama:
		client, err := embollama.NewClient(&embollama.Config{
			Model:      cfg.Embedder.Model,
			BaseURL:    cfg.Embedder.BaseURL,
			Dimensions: cfg.Embedder.Dimensions,
		})
		if err != nil {
			return nil, opErr("init embedder", err)
		}
		primary = client
	case config.ProviderHash:
		// Hash as primary needs no fallback.
		return embedding.NewAdapter(hash.NewClient(cfg.Embedder.Dimensions), nil), nil
	default:
		return nil, opErr("init embedder", fmt.Errorf("unknown provider %q", cfg.Embedder.Provider))
	}

	return embedding.NewAdapter(primary, hash.NewClient(cfg.Embedder.FallbackDimensions)), nil
}

// buildLLM returns nil when no judge is configured; the engine then relies
// on the rule-based detector alone.
func buildLLM(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "":
		return nil, nil
	case config.ProviderOpenAI:
		client, err := llmopenai.NewClient(&llmopenai.Config{
			APIKey:  cfg.LLM.APIKey,
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, opErr("init llm", err)
		}
		return client, nil
	case config.ProviderOllama:
		client, err := llmollama.NewClient(&llmollama.Config{
			Model:   cfg.LLM.Model,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, opErr("init llm", err)
		}
		return client, nil
	default:
		return nil, opErr("init llm", fmt.Errorf("unknown provider %q", cfg.LLM.Provider))
	}
}
