package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateUserConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()

	assert.Equal(t, "default", cfg.Search.DefaultCollection)
	assert.Equal(t, DefaultMaxLimit, cfg.Search.MaxLimit)
	assert.Zero(t, cfg.Search.DefaultThreshold)
	assert.Equal(t, DefaultTimeoutMSSearch, cfg.Search.TimeoutMS)
	assert.Equal(t, "bleve", cfg.Search.BM25Backend)
	assert.Equal(t, DefaultChunkTokens, cfg.Chunking.TargetTokens)
	assert.InDelta(t, DefaultOverlapRatio, cfg.Chunking.OverlapRatio, 0.001)
	assert.Equal(t, DefaultBatchSize, cfg.Embeddings.BatchSize)
	assert.Equal(t, DefaultTimeoutMSEmbed, cfg.Embeddings.TimeoutMS)
	require.NoError(t, cfg.Validate())
}

func TestDefaultProfilesValidate(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())

	p, ok := cfg.ProfileByName("hybrid_default_v1")
	require.True(t, ok)
	assert.Equal(t, "rrf", p.Fusion)
	assert.InDelta(t, 1.0, p.RankVector+p.RankContent+p.RankTitle+p.RankRecency+p.RankMetadata, 0.001)

	_, ok = cfg.ProfileByName("bm25")
	assert.True(t, ok)
	_, ok = cfg.ProfileByName("vector")
	assert.True(t, ok)
	_, ok = cfg.ProfileByName("missing")
	assert.False(t, ok)
}

func TestLoadProjectFileOverridesDefaults(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	yaml := `
search:
  default_collection: notes
  max_limit: 25
  bm25_backend: sqlite
embeddings:
  dimensions: 768
  batch_size: 16
chunking:
  target_tokens: 600
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hybridsearch.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "notes", cfg.Search.DefaultCollection)
	assert.Equal(t, 25, cfg.Search.MaxLimit)
	assert.Equal(t, "sqlite", cfg.Search.BM25Backend)
	assert.Equal(t, 768, cfg.Embeddings.Dimensions)
	assert.Equal(t, 16, cfg.Embeddings.BatchSize)
	assert.Equal(t, 600, cfg.Chunking.TargetTokens)
	// Unset fields keep defaults.
	assert.Equal(t, DefaultTimeoutMSSearch, cfg.Search.TimeoutMS)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	isolateUserConfig(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxLimit, cfg.Search.MaxLimit)
}

func TestLoadUserConfigLayersUnderProject(t *testing.T) {
	userBase := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", userBase)
	userDir := filepath.Join(userBase, "hybridsearch")
	require.NoError(t, os.MkdirAll(userDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(userDir, "config.yaml"),
		[]byte("search:\n  max_limit: 50\n  default_collection: personal\n"), 0o644))

	projDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(projDir, ".hybridsearch.yaml"),
		[]byte("search:\n  default_collection: project\n"), 0o644))

	cfg, err := Load(projDir)
	require.NoError(t, err)

	// Project overrides user; user overrides defaults.
	assert.Equal(t, "project", cfg.Search.DefaultCollection)
	assert.Equal(t, 50, cfg.Search.MaxLimit)
}

func TestEnvOverridesAreHighestPriority(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hybridsearch.yaml"),
		[]byte("search:\n  max_limit: 25\n"), 0o644))

	t.Setenv("HYBRIDSEARCH_MAX_LIMIT", "10")
	t.Setenv("HYBRIDSEARCH_DEFAULT_THRESHOLD", "0.4")
	t.Setenv("HYBRIDSEARCH_EMBEDDER", "ollama")
	t.Setenv("HYBRIDSEARCH_WORKER_POOL_SIZE", "3")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Search.MaxLimit)
	assert.InDelta(t, 0.4, cfg.Search.DefaultThreshold, 0.001)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 3, cfg.Indexing.WorkerPoolSize)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hybridsearch.yaml"),
		[]byte("search: [not a map"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero max_limit", func(c *Config) { c.Search.MaxLimit = 0 }},
		{"threshold above one", func(c *Config) { c.Search.DefaultThreshold = 1.5 }},
		{"unknown backend", func(c *Config) { c.Search.BM25Backend = "tantivy" }},
		{"zero target tokens", func(c *Config) { c.Chunking.TargetTokens = 0 }},
		{"overlap too large", func(c *Config) { c.Chunking.OverlapRatio = 0.9 }},
		{"zero dimensions", func(c *Config) { c.Embeddings.Dimensions = 0 }},
		{"unknown fusion", func(c *Config) { c.Profiles[0].Fusion = "mystery" }},
		{"rank weights off", func(c *Config) { c.Profiles[0].RankVector = 0.9 }},
		{"duplicate profile", func(c *Config) { c.Profiles = append(c.Profiles, c.Profiles[0]) }},
		{"unnamed profile", func(c *Config) { c.Profiles[0].Name = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProfilesReplaceWholesale(t *testing.T) {
	isolateUserConfig(t)
	dir := t.TempDir()
	yaml := `
ranking_profiles:
  - name: custom
    fusion: weighted_sum
    vector_weight: 0.7
    lexical_weight: 0.3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hybridsearch.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	require.Len(t, cfg.Profiles, 1)
	assert.Equal(t, "custom", cfg.Profiles[0].Name)
	_, ok := cfg.ProfileByName("hybrid_default_v1")
	assert.False(t, ok)
}

func TestWatchDebounceDuration(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 2*time.Second, cfg.WatchDebounceDuration())

	cfg.Indexing.WatchDebounce = "500ms"
	assert.Equal(t, 500*time.Millisecond, cfg.WatchDebounceDuration())

	cfg.Indexing.WatchDebounce = "garbage"
	assert.Equal(t, 2*time.Second, cfg.WatchDebounceDuration())
}
