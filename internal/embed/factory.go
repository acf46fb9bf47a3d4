package embed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderOllama uses Ollama's HTTP API for embeddings (remote service)
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses deterministic hash-based embeddings (no external
	// service; the baseline every environment can run)
	ProviderStatic ProviderType = "static"
)

// NewEmbedder creates an embedder based on provider type.
// The HYBRIDSEARCH_EMBEDDER environment variable overrides the provider:
//   - "ollama": Use OllamaEmbedder (remote HTTP service)
//   - "static": Use StaticEmbedder768 (deterministic, in-process)
//
// Query embedding caching is enabled by default (saves 50-200ms per
// repeated query). Set HYBRIDSEARCH_EMBED_CACHE=false to disable.
func NewEmbedder(ctx context.Context, provider ProviderType, model string) (Embedder, error) {
	if env := os.Getenv("HYBRIDSEARCH_EMBEDDER"); env != "" {
		provider = ParseProvider(env)
	}

	var embedder Embedder
	var err error
	switch provider {
	case ProviderOllama:
		embedder, err = newOllama(ctx, model)
	case ProviderStatic:
		embedder = NewStaticEmbedder768()
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", provider)
	}
	if err != nil {
		return nil, err
	}

	if !isCacheDisabled() {
		embedder = NewCachedEmbedderWithDefaults(embedder)
	}
	return embedder, nil
}

// isCacheDisabled checks if embedding cache is disabled via environment.
func isCacheDisabled() bool {
	v := strings.ToLower(os.Getenv("HYBRIDSEARCH_EMBED_CACHE"))
	return v == "false" || v == "0" || v == "off" || v == "disabled"
}

// newOllama creates the Ollama embedder. There is no silent fallback: if
// the service is unreachable the caller decides whether static is an
// acceptable substitute.
func newOllama(ctx context.Context, model string) (Embedder, error) {
	cfg := DefaultOllamaConfig()
	if model != "" && isOllamaModelName(model) {
		cfg.Model = model
	}
	if host := os.Getenv("HYBRIDSEARCH_OLLAMA_HOST"); host != "" {
		cfg.Host = host
	}
	if modelOverride := os.Getenv("HYBRIDSEARCH_OLLAMA_MODEL"); modelOverride != "" {
		cfg.Model = modelOverride
	}
	if timeoutStr := os.Getenv("HYBRIDSEARCH_OLLAMA_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			cfg.Timeout = timeout
		}
	}

	embedder, err := NewOllamaEmbedder(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("ollama unavailable: %w (start it with `ollama serve`, or select the static provider)", err)
	}
	return embedder, nil
}

// ParseProvider converts a string to ProviderType
func ParseProvider(s string) ProviderType {
	switch strings.ToLower(s) {
	case "ollama", "llama":
		return ProviderOllama
	case "static":
		return ProviderStatic
	default:
		return ProviderStatic
	}
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// isOllamaModelName checks if a model name looks like an Ollama model.
// Ollama models carry a ":" tag (e.g. "qwen3-embedding:8b"); GGUF file
// names and versioned HF names do not.
func isOllamaModelName(model string) bool {
	return strings.Contains(model, ":")
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderOllama),
		string(ProviderStatic),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}

// EmbedderInfo contains information about an embedder
type EmbedderInfo struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Available  bool
}

// GetInfo returns information about an embedder
func GetInfo(ctx context.Context, embedder Embedder) EmbedderInfo {
	info := EmbedderInfo{
		Model:      embedder.ModelName(),
		Dimensions: embedder.Dimensions(),
		Available:  embedder.Available(ctx),
	}

	inner := embedder
	if cached, ok := embedder.(*CachedEmbedder); ok {
		inner = cached.Inner()
	}

	switch inner.(type) {
	case *OllamaEmbedder:
		info.Provider = ProviderOllama
	default:
		info.Provider = ProviderStatic
	}
	return info
}

// MustNewEmbedder creates an embedder and panics on failure.
// Use only in tests or initialization code where failure is fatal.
func MustNewEmbedder(ctx context.Context, provider ProviderType, model string) Embedder {
	embedder, err := NewEmbedder(ctx, provider, model)
	if err != nil {
		panic(fmt.Sprintf("failed to create embedder: %v", err))
	}
	return embedder
}
