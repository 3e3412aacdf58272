package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	// EmbeddingProvider overrides Provider for vectors, e.g. claude + openai.
	EmbeddingProvider string `toml:"embedding_provider"`
	EmbeddingAPIKey   string `toml:"embedding_api_key"`
	// Project and Location select the Vertex AI backend for the "vertex" provider.
	Project  string `toml:"project"`
	Location string `toml:"location"`
}

type StoreConfig struct {
	Backend    string `toml:"backend"`
	ProjectID  string `toml:"project_id"`
	SQLitePath string `toml:"sqlite_path"`

	MemgraphURI      string `toml:"memgraph_uri"`
	MemgraphUser     string `toml:"memgraph_user"`
	MemgraphPassword string `toml:"memgraph_password"`
}

// DedupConfig collects every threshold and size the matching stages use.
type DedupConfig struct {
	IDField           string   `toml:"id_field"`
	KeyFields         []string `toml:"key_fields"`
	DescriptionFields []string `toml:"description_fields"`

	PrimaryThreshold float64 `toml:"primary_threshold"`
	CandidateMargin  float64 `toml:"candidate_margin"`
	VectorWeight     float64 `toml:"vector_weight"`
	LexicalWeight    float64 `toml:"lexical_weight"`
	ChunkSize        int     `toml:"chunk_size"`
	EmbedBatchSize   int     `toml:"embed_batch_size"`

	PrecisionThreshold float64 `toml:"precision_threshold"`
	DemotionThreshold  float64 `toml:"demotion_threshold"`

	AmbiguousLabel  string  `toml:"ambiguous_label"`
	AmbiguousLow    float64 `toml:"ambiguous_low"`
	AmbiguousHigh   float64 `toml:"ambiguous_high"`
	ReviewThreshold float64 `toml:"review_threshold"`
}

type ConcurrencyConfig struct {
	Embedding    int `toml:"embedding"`
	Adjudication int `toml:"adjudication"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
}

// Duration decodes TOML strings such as "1s" or "250ms".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type RetryConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	Multiplier     float64  `toml:"multiplier"`
}

type ServerConfig struct {
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
}

// PromptConfig overrides the built-in adjudication prompts. Each template gets
// the rendered item list as its single %s verb.
type PromptConfig struct {
	Rerank    string `toml:"rerank"`
	Ambiguity string `toml:"ambiguity"`
}

type Config struct {
	LLM         LLMConfig         `toml:"llm"`
	Store       StoreConfig       `toml:"store"`
	Dedup       DedupConfig       `toml:"dedup"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Retry       RetryConfig       `toml:"retry"`
	Server      ServerConfig      `toml:"server"`
	Prompts     PromptConfig      `toml:"prompts"`
}

// DefaultDedup returns the matching thresholds the pipeline was tuned with.
func DefaultDedup() DedupConfig {
	return DedupConfig{
		IDField:            "id",
		KeyFields:          []string{"item_code", "barcode"},
		DescriptionFields:  []string{"DESCR", "DESCR60"},
		PrimaryThreshold:   0.90,
		CandidateMargin:    0.15,
		VectorWeight:       0.7,
		LexicalWeight:      0.3,
		ChunkSize:          5000,
		EmbedBatchSize:     250,
		PrecisionThreshold: 0.95,
		DemotionThreshold:  0.8,
		AmbiguousLabel:     "fuzzy_embedding",
		AmbiguousLow:       0.7,
		AmbiguousHigh:      0.9,
		ReviewThreshold:    0.8,
	}
}

func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:       "gemini",
			Model:          "gemini-2.0-flash-001",
			EmbeddingModel: "text-embedding-004",
			Location:       "us-central1",
		},
		Store: StoreConfig{
			Backend:    "sqlite",
			SQLitePath: "catalog.db",
		},
		Dedup: DefaultDedup(),
		Concurrency: ConcurrencyConfig{
			Embedding:    4,
			Adjudication: 4,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 5,
			Burst:             5,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: Duration{time.Second},
			MaxBackoff:     Duration{30 * time.Second},
			Multiplier:     2.0,
		},
		Server: ServerConfig{
			Port:           "8000",
			AllowedOrigins: []string{"http://localhost:3000"},
		},
	}
}

// Load reads a TOML file on top of Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// ApplyEnv overrides config values from the environment.
func (c *Config) ApplyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("LLM_PROVIDER", &c.LLM.Provider)
	setString("LLM_MODEL", &c.LLM.Model)
	setString("LLM_EMBEDDING_MODEL", &c.LLM.EmbeddingModel)
	setString("LLM_API_KEY", &c.LLM.APIKey)
	setString("LLM_BASE_URL", &c.LLM.BaseURL)
	setString("LLM_EMBEDDING_PROVIDER", &c.LLM.EmbeddingProvider)
	setString("LLM_EMBEDDING_API_KEY", &c.LLM.EmbeddingAPIKey)
	setString("GOOGLE_CLOUD_PROJECT", &c.LLM.Project)
	setString("GOOGLE_CLOUD_LOCATION", &c.LLM.Location)

	setString("STORE_BACKEND", &c.Store.Backend)
	setString("GOOGLE_CLOUD_PROJECT", &c.Store.ProjectID)
	setString("SQLITE_PATH", &c.Store.SQLitePath)
	setString("MEMGRAPH_URI", &c.Store.MemgraphURI)
	setString("MEMGRAPH_USER", &c.Store.MemgraphUser)
	setString("MEMGRAPH_PASSWORD", &c.Store.MemgraphPassword)

	setString("PORT", &c.Server.Port)

	if v := os.Getenv("DEDUP_PRIMARY_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid value for DEDUP_PRIMARY_THRESHOLD: %w", err)
		}
		c.Dedup.PrimaryThreshold = f
	}
	if v := os.Getenv("DEDUP_CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid value for DEDUP_CHUNK_SIZE: %w", err)
		}
		c.Dedup.ChunkSize = n
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c *Config) Validate() error {
	if err := c.Dedup.Validate(); err != nil {
		return err
	}
	if c.Concurrency.Embedding < 1 || c.Concurrency.Adjudication < 1 {
		return fmt.Errorf("concurrency limits must be at least 1")
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("rate_limit.requests_per_second cannot be negative (got %.2f)", c.RateLimit.RequestsPerSecond)
	}
	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative (got %d)", c.Retry.MaxRetries)
	}
	switch strings.ToLower(c.Store.Backend) {
	case "bigquery", "sqlite", "memgraph":
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Backend)
	}
	return nil
}

func (d DedupConfig) Validate() error {
	if len(d.KeyFields) == 0 {
		return fmt.Errorf("dedup.key_fields cannot be empty")
	}
	if len(d.DescriptionFields) == 0 {
		return fmt.Errorf("dedup.description_fields cannot be empty")
	}
	unit := map[string]float64{
		"primary_threshold":   d.PrimaryThreshold,
		"candidate_margin":    d.CandidateMargin,
		"vector_weight":       d.VectorWeight,
		"lexical_weight":      d.LexicalWeight,
		"precision_threshold": d.PrecisionThreshold,
		"demotion_threshold":  d.DemotionThreshold,
		"ambiguous_low":       d.AmbiguousLow,
		"ambiguous_high":      d.AmbiguousHigh,
		"review_threshold":    d.ReviewThreshold,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			return fmt.Errorf("dedup.%s must be between 0.0 and 1.0 (got %.2f)", name, v)
		}
	}
	if d.AmbiguousLow >= d.AmbiguousHigh {
		return fmt.Errorf("dedup.ambiguous_low (%.2f) must be below ambiguous_high (%.2f)", d.AmbiguousLow, d.AmbiguousHigh)
	}
	if d.ChunkSize <= 0 {
		return fmt.Errorf("dedup.chunk_size must be positive (got %d)", d.ChunkSize)
	}
	if d.EmbedBatchSize <= 0 {
		return fmt.Errorf("dedup.embed_batch_size must be positive (got %d)", d.EmbedBatchSize)
	}
	if d.AmbiguousLabel == "" {
		return fmt.Errorf("dedup.ambiguous_label cannot be empty")
	}
	return nil
}
