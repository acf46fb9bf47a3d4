// Package config loads the hybrid search core's configuration: defaults,
// then the user config file, then the project config file, then environment
// variables, each layer overriding the one before it.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration surface the core consumes. The
// embedding process provides it; nothing here is read lazily at runtime.
type Config struct {
	Version    int                    `yaml:"version" json:"version"`
	Paths      PathsConfig            `yaml:"paths" json:"paths"`
	Search     SearchConfig           `yaml:"search" json:"search"`
	Chunking   ChunkingConfig         `yaml:"chunking" json:"chunking"`
	Embeddings EmbeddingsConfig       `yaml:"embeddings" json:"embeddings"`
	Indexing   IndexingConfig         `yaml:"indexing" json:"indexing"`
	Profiles   []RankingProfileConfig `yaml:"ranking_profiles" json:"ranking_profiles"`
	LogLevel   string                 `yaml:"log_level" json:"log_level"`
}

// PathsConfig configures which paths indexing includes and excludes.
type PathsConfig struct {
	Include []string `yaml:"include" json:"include"`
	Exclude []string `yaml:"exclude" json:"exclude"`
}

// SearchConfig configures query-path behavior.
//
// Values are layered: user config (~/.config/hybridsearch/config.yaml)
// provides personal defaults, the project config (.hybridsearch.yaml)
// per-tree tuning, and HYBRIDSEARCH_* env vars take highest priority.
type SearchConfig struct {
	// DefaultCollection is searched when a query names no collection.
	DefaultCollection string `yaml:"default_collection" json:"default_collection"`

	// MaxLimit is the hard cap applied to a query's limit.
	MaxLimit int `yaml:"max_limit" json:"max_limit"`

	// DefaultThreshold is the advisory similarity threshold for the
	// vector side (0.0 = no threshold).
	DefaultThreshold float64 `yaml:"default_threshold" json:"default_threshold"`

	// TimeoutMS is the search pipeline's global deadline.
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms"`

	// EnableQueryExpansion toggles the query enhancement step.
	EnableQueryExpansion bool `yaml:"enable_query_expansion" json:"enable_query_expansion"`

	// ExpansionInBM25 is loaded and defaulted but not read by the search
	// pipeline: with expansion enabled, expansion terms always join the
	// lexical query, and the vector side always embeds the raw query.
	ExpansionInBM25 bool `yaml:"expansion_in_bm25" json:"expansion_in_bm25"`

	// BM25Backend names a lexical engine, "bleve" (default) or "sqlite"
	// (FTS5, concurrent multi-process access), and is validated against
	// those two. It is not passed to the collection manager, which opens
	// every collection with the bleve backend.
	BM25Backend string `yaml:"bm25_backend" json:"bm25_backend"`
}

// ChunkingConfig configures structural chunking.
type ChunkingConfig struct {
	// TargetTokens is the upper bound for a chunk's estimated size.
	TargetTokens int `yaml:"target_tokens" json:"target_tokens"`

	// OverlapRatio is the fraction of TargetTokens repeated between
	// adjacent pieces when a code symbol is split at line boundaries.
	// Markdown and plain-text splits carry no overlap.
	OverlapRatio float64 `yaml:"overlap_ratio" json:"overlap_ratio"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider selects the embedder: "ollama" or "static".
	Provider string `yaml:"provider" json:"provider"`

	// Model is the provider's model identifier.
	Model string `yaml:"model" json:"model"`

	// Dimensions is the embedding dimension collections are created with.
	Dimensions int `yaml:"dimensions" json:"dimensions"`

	// BatchSize is the embedding batch size during indexing.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// TimeoutMS bounds a single embedding call.
	TimeoutMS int `yaml:"timeout_ms" json:"timeout_ms"`

	// OllamaHost is the Ollama API endpoint.
	OllamaHost string `yaml:"ollama_host" json:"ollama_host"`

	// CacheSize is the embed-result LRU size (entries).
	CacheSize int `yaml:"cache_size" json:"cache_size"`
}

// IndexingConfig configures the indexing worker pool.
type IndexingConfig struct {
	// WorkerPoolSize is the processing pool size (0 = min(NumCPU, 8)).
	WorkerPoolSize int `yaml:"worker_pool_size" json:"worker_pool_size"`

	// MaxFileSize caps file size in bytes during enumeration.
	MaxFileSize int64 `yaml:"max_file_size" json:"max_file_size"`

	// WatchDebounce batches filesystem events before a watch-triggered
	// reindex ("2s", "500ms").
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

// RankingProfileConfig is one named bundle of fusion strategy, fusion
// weights, multi-factor weights, and enabled steps.
type RankingProfileConfig struct {
	Name   string `yaml:"name" json:"name"`
	Fusion string `yaml:"fusion" json:"fusion"` // rrf, weighted_sum, z_score, max

	// Fusion weights (weighted_sum, z_score, max).
	VectorWeight  float64 `yaml:"vector_weight" json:"vector_weight"`
	LexicalWeight float64 `yaml:"lexical_weight" json:"lexical_weight"`

	// Multi-factor ranking weights; must sum to 1.0 when set.
	RankVector   float64 `yaml:"rank_vector" json:"rank_vector"`
	RankContent  float64 `yaml:"rank_content" json:"rank_content"`
	RankTitle    float64 `yaml:"rank_title" json:"rank_title"`
	RankRecency  float64 `yaml:"rank_recency" json:"rank_recency"`
	RankMetadata float64 `yaml:"rank_metadata" json:"rank_metadata"`

	// EnabledSteps lists active pipeline steps; empty means all.
	EnabledSteps []string `yaml:"enabled_steps" json:"enabled_steps"`

	// MultiQuery enables multi-query fan-out fusion for this profile.
	MultiQuery bool `yaml:"multi_query" json:"multi_query"`
}

// Defaults.
const (
	DefaultMaxLimit        = 100
	DefaultTimeoutMSSearch = 2000
	DefaultTimeoutMSEmbed  = 30000
	DefaultChunkTokens     = 800
	DefaultOverlapRatio    = 0.15
	DefaultBatchSize       = 64
	DefaultDimensions      = 256
	DefaultCacheSize       = 10000
)

// NewConfig returns the default configuration.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			DefaultCollection:    "default",
			MaxLimit:             DefaultMaxLimit,
			DefaultThreshold:     0.0,
			TimeoutMS:            DefaultTimeoutMSSearch,
			EnableQueryExpansion: true,
			ExpansionInBM25:      true,
			BM25Backend:          "bleve",
		},
		Chunking: ChunkingConfig{
			TargetTokens: DefaultChunkTokens,
			OverlapRatio: DefaultOverlapRatio,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "static",
			Dimensions: DefaultDimensions,
			BatchSize:  DefaultBatchSize,
			TimeoutMS:  DefaultTimeoutMSEmbed,
			OllamaHost: "http://localhost:11434",
			CacheSize:  DefaultCacheSize,
		},
		Indexing: IndexingConfig{
			WatchDebounce: "2s",
		},
		Profiles: DefaultProfiles(),
		LogLevel: "info",
	}
}

// DefaultProfiles returns the built-in ranking profiles.
func DefaultProfiles() []RankingProfileConfig {
	return []RankingProfileConfig{
		{
			Name:   "hybrid_default_v1",
			Fusion: "rrf",
			VectorWeight: 0.6, LexicalWeight: 0.4,
			RankVector: 0.40, RankContent: 0.25, RankTitle: 0.20, RankRecency: 0.10, RankMetadata: 0.05,
		},
		{
			Name:   "bm25",
			Fusion: "max",
			VectorWeight: 0.0, LexicalWeight: 1.0,
			RankVector: 0.0, RankContent: 0.55, RankTitle: 0.25, RankRecency: 0.15, RankMetadata: 0.05,
			EnabledSteps: []string{"hybrid_retrieval", "result_ranking", "analytics"},
		},
		{
			Name:   "vector",
			Fusion: "max",
			VectorWeight: 1.0, LexicalWeight: 0.0,
			RankVector: 0.70, RankContent: 0.10, RankTitle: 0.10, RankRecency: 0.05, RankMetadata: 0.05,
		},
	}
}

// GetUserConfigDir returns the per-user config directory.
func GetUserConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "hybridsearch")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "hybridsearch")
}

// GetUserConfigPath returns the per-user config file path.
func GetUserConfigPath() string {
	dir := GetUserConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.yaml")
}

// UserConfigExists reports whether the per-user config file exists.
func UserConfigExists() bool {
	path := GetUserConfigPath()
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

func loadUserConfig() (*Config, error) {
	if !UserConfigExists() {
		return nil, nil
	}
	data, err := os.ReadFile(GetUserConfigPath())
	if err != nil {
		return nil, err
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse user config: %w", err)
	}
	return &parsed, nil
}

// Load builds the effective configuration for a project directory:
// defaults, then user config, then project config, then env overrides,
// then validation.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if userCfg, err := loadUserConfig(); err != nil {
		return nil, fmt.Errorf("failed to load user config: %w", err)
	} else if userCfg != nil {
		cfg.mergeWith(userCfg)
	}

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile loads .hybridsearch.yaml (or .yml) from dir, if present.
func (c *Config) loadFromFile(dir string) error {
	for _, name := range []string{".hybridsearch.yaml", ".hybridsearch.yml"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return c.loadYAML(path)
		}
	}
	return nil
}

// loadYAML loads and merges configuration from a YAML file.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	var parsed Config
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Search.DefaultCollection != "" {
		c.Search.DefaultCollection = other.Search.DefaultCollection
	}
	if other.Search.MaxLimit > 0 {
		c.Search.MaxLimit = other.Search.MaxLimit
	}
	if other.Search.DefaultThreshold > 0 {
		c.Search.DefaultThreshold = other.Search.DefaultThreshold
	}
	if other.Search.TimeoutMS > 0 {
		c.Search.TimeoutMS = other.Search.TimeoutMS
	}
	if other.Search.BM25Backend != "" {
		c.Search.BM25Backend = other.Search.BM25Backend
	}

	if other.Chunking.TargetTokens > 0 {
		c.Chunking.TargetTokens = other.Chunking.TargetTokens
	}
	if other.Chunking.OverlapRatio > 0 {
		c.Chunking.OverlapRatio = other.Chunking.OverlapRatio
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions > 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize > 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.TimeoutMS > 0 {
		c.Embeddings.TimeoutMS = other.Embeddings.TimeoutMS
	}
	if other.Embeddings.OllamaHost != "" {
		c.Embeddings.OllamaHost = other.Embeddings.OllamaHost
	}
	if other.Embeddings.CacheSize > 0 {
		c.Embeddings.CacheSize = other.Embeddings.CacheSize
	}

	if other.Indexing.WorkerPoolSize > 0 {
		c.Indexing.WorkerPoolSize = other.Indexing.WorkerPoolSize
	}
	if other.Indexing.MaxFileSize > 0 {
		c.Indexing.MaxFileSize = other.Indexing.MaxFileSize
	}
	if other.Indexing.WatchDebounce != "" {
		c.Indexing.WatchDebounce = other.Indexing.WatchDebounce
	}

	// Ranking profiles replace wholesale: a partial profile list would
	// otherwise silently mix weights from different sources.
	if len(other.Profiles) > 0 {
		c.Profiles = other.Profiles
	}

	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}

// applyEnvOverrides applies HYBRIDSEARCH_* environment variables, the
// highest-priority configuration layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HYBRIDSEARCH_DEFAULT_COLLECTION"); v != "" {
		c.Search.DefaultCollection = v
	}
	if v := os.Getenv("HYBRIDSEARCH_MAX_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.MaxLimit = n
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_DEFAULT_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			c.Search.DefaultThreshold = f
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_TIMEOUT_MS_SEARCH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Search.TimeoutMS = n
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_BM25_BACKEND"); v != "" {
		c.Search.BM25Backend = v
	}
	if v := os.Getenv("HYBRIDSEARCH_EMBEDDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("HYBRIDSEARCH_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.Dimensions = n
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.BatchSize = n
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_TIMEOUT_MS_EMBED"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Embeddings.TimeoutMS = n
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_OLLAMA_HOST"); v != "" {
		c.Embeddings.OllamaHost = v
	}
	if v := os.Getenv("HYBRIDSEARCH_WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("HYBRIDSEARCH_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

// Validate checks the final configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Search.MaxLimit <= 0 {
		return fmt.Errorf("search.max_limit must be positive, got %d", c.Search.MaxLimit)
	}
	if c.Search.DefaultThreshold < 0 || c.Search.DefaultThreshold > 1 {
		return fmt.Errorf("search.default_threshold must be in [0, 1], got %g", c.Search.DefaultThreshold)
	}
	switch c.Search.BM25Backend {
	case "bleve", "sqlite":
	default:
		return fmt.Errorf("search.bm25_backend must be \"bleve\" or \"sqlite\", got %q", c.Search.BM25Backend)
	}
	if c.Chunking.TargetTokens <= 0 {
		return fmt.Errorf("chunking.target_tokens must be positive, got %d", c.Chunking.TargetTokens)
	}
	if c.Chunking.OverlapRatio < 0 || c.Chunking.OverlapRatio > 0.5 {
		return fmt.Errorf("chunking.overlap_ratio must be in [0, 0.5], got %g", c.Chunking.OverlapRatio)
	}
	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize <= 0 {
		return fmt.Errorf("embeddings.batch_size must be positive, got %d", c.Embeddings.BatchSize)
	}

	seen := make(map[string]struct{}, len(c.Profiles))
	for _, p := range c.Profiles {
		if p.Name == "" {
			return fmt.Errorf("ranking profile with empty name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate ranking profile %q", p.Name)
		}
		seen[p.Name] = struct{}{}
		switch p.Fusion {
		case "rrf", "weighted_sum", "z_score", "max":
		default:
			return fmt.Errorf("profile %q: unknown fusion strategy %q", p.Name, p.Fusion)
		}
		rankSum := p.RankVector + p.RankContent + p.RankTitle + p.RankRecency + p.RankMetadata
		if rankSum > 0 && math.Abs(rankSum-1.0) > 0.001 {
			return fmt.Errorf("profile %q: ranking weights sum to %g, want 1.0", p.Name, rankSum)
		}
	}
	return nil
}

// ProfileByName returns the named ranking profile, if configured.
func (c *Config) ProfileByName(name string) (RankingProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.Name == name {
			return p, true
		}
	}
	return RankingProfileConfig{}, false
}

// WatchDebounceDuration parses Indexing.WatchDebounce, falling back to 2s.
func (c *Config) WatchDebounceDuration() (d time.Duration) {
	d, err := time.ParseDuration(c.Indexing.WatchDebounce)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}
