package llm

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/catalog-dedup/internal/config"
)

// NewClient builds the provider clients named in cfg. The embedder is nil for
// providers without an embedding API.
func NewClient(ctx context.Context, cfg config.LLMConfig) (LLMClient, EmbedderClient, error) {
	provider := strings.ToLower(cfg.Provider)

	switch provider {
	case "openai":
		c := NewOpenAIClient(cfg.APIKey, cfg.Model, cfg.EmbeddingModel, cfg.BaseURL)
		return c, c, nil

	case "gemini":
		c, err := NewGeminiClient(ctx, cfg.APIKey, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "vertex":
		c, err := NewVertexClient(ctx, cfg.Project, cfg.Location, cfg.Model, cfg.EmbeddingModel)
		if err != nil {
			return nil, nil, err
		}
		return c, c, nil

	case "claude":
		c := NewClaudeClient(cfg.APIKey, cfg.Model, cfg.BaseURL)
		return c, nil, nil

	case "ollama":
		// Ollama speaks the OpenAI API under /v1
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		if !strings.HasSuffix(baseURL, "/v1") {
			baseURL = fmt.Sprintf("%s/v1", strings.TrimRight(baseURL, "/"))
		}
		zap.L().Info("initializing ollama via OpenAI-compatible API", zap.String("base_url", baseURL))

		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "ollama" // ignored by Ollama, required by the client
		}

		c := NewOpenAIClient(apiKey, cfg.Model, cfg.EmbeddingModel, baseURL)
		return c, c, nil

	default:
		return nil, nil, fmt.Errorf("unsupported llm provider: %s", provider)
	}
}

// NewGuardedClient builds the configured provider and wraps it with the
// configured retry policy and rate limit. When the generation provider has no
// embedding API, llm.embedding_provider selects a second provider for vectors.
func NewGuardedClient(ctx context.Context, cfg *config.Config) (*GuardedClient, error) {
	gen, emb, err := NewClient(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}

	if ep := cfg.LLM.EmbeddingProvider; ep != "" && !strings.EqualFold(ep, cfg.LLM.Provider) {
		embCfg := cfg.LLM
		embCfg.Provider = ep
		if cfg.LLM.EmbeddingAPIKey != "" {
			embCfg.APIKey = cfg.LLM.EmbeddingAPIKey
		}
		_, emb, err = NewClient(ctx, embCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
		}
	}
	if emb == nil {
		return nil, fmt.Errorf("llm provider %q has no embedding API; set llm.embedding_provider", cfg.LLM.Provider)
	}

	return &GuardedClient{
		LLM:      gen,
		Embedder: emb,
		Retry: RetryPolicy{
			MaxRetries:     cfg.Retry.MaxRetries,
			InitialBackoff: cfg.Retry.InitialBackoff.Duration,
			MaxBackoff:     cfg.Retry.MaxBackoff.Duration,
			Multiplier:     cfg.Retry.Multiplier,
		},
		Limiter: NewLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
	}, nil
}
