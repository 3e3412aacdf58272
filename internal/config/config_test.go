package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.90, cfg.Dedup.PrimaryThreshold)
	assert.Equal(t, 0.15, cfg.Dedup.CandidateMargin)
	assert.Equal(t, 5000, cfg.Dedup.ChunkSize)
	assert.Equal(t, 250, cfg.Dedup.EmbedBatchSize)
	assert.Equal(t, []string{"item_code", "barcode"}, cfg.Dedup.KeyFields)
	assert.Equal(t, "fuzzy_embedding", cfg.Dedup.AmbiguousLabel)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[llm]
provider = "openai"
model = "gpt-4o-mini"

[dedup]
key_fields = ["sku"]
chunk_size = 1000

[retry]
initial_backoff = "250ms"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, []string{"sku"}, cfg.Dedup.KeyFields)
	assert.Equal(t, 1000, cfg.Dedup.ChunkSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff.Duration)
	// untouched keys keep their defaults
	assert.Equal(t, 0.95, cfg.Dedup.PrecisionThreshold)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff.Duration)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)

	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "claude")
	t.Setenv("STORE_BACKEND", "memgraph")
	t.Setenv("DEDUP_PRIMARY_THRESHOLD", "0.85")
	t.Setenv("DEDUP_CHUNK_SIZE", "200")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())
	assert.Equal(t, "claude", cfg.LLM.Provider)
	assert.Equal(t, "memgraph", cfg.Store.Backend)
	assert.Equal(t, 0.85, cfg.Dedup.PrimaryThreshold)
	assert.Equal(t, 200, cfg.Dedup.ChunkSize)

	t.Setenv("DEDUP_CHUNK_SIZE", "lots")
	assert.Error(t, cfg.ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Dedup.PrimaryThreshold = 1.2 }},
		{"negative margin", func(c *Config) { c.Dedup.CandidateMargin = -0.1 }},
		{"empty keys", func(c *Config) { c.Dedup.KeyFields = nil }},
		{"empty descriptions", func(c *Config) { c.Dedup.DescriptionFields = nil }},
		{"inverted band", func(c *Config) { c.Dedup.AmbiguousLow = 0.95 }},
		{"zero chunk", func(c *Config) { c.Dedup.ChunkSize = 0 }},
		{"zero batch", func(c *Config) { c.Dedup.EmbedBatchSize = 0 }},
		{"empty label", func(c *Config) { c.Dedup.AmbiguousLabel = "" }},
		{"zero concurrency", func(c *Config) { c.Concurrency.Adjudication = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
