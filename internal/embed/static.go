package embed

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"unicode"

	coreerrors "github.com/aman-cerp/hybridsearch/internal/errors"
)

// The static embedders hash token and character-n-gram features into a
// fixed-size vector: no network, no model download, bitwise deterministic
// for a given input. Semantic quality is well below a learned model, but
// overlap-heavy queries still land near their documents, and determinism
// is exactly what the reproducibility and caching contracts want.
//
// Feature weights: word-level tokens carry most of the signal, character
// trigrams smooth over morphology ("indexing" vs "indexed").
const (
	tokenWeight = 0.7
	ngramWeight = 0.3
	ngramSize   = 3
)

// programmingStopWords drops keyword noise from code chunks before
// hashing; prose stop words are left alone, the n-grams need them.
var programmingStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"void": true, "true": true, "false": true, "nil": true,
	"null": true, "this": true, "self": true, "new": true,
}

// staticCore is the shared implementation behind both static embedders;
// they differ only in dimension and model name.
type staticCore struct {
	mu     sync.RWMutex
	closed bool
	dims   int
	model  string
}

// Embed generates the embedding for a single text.
func (c *staticCore) Embed(_ context.Context, text string) ([]float32, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	c.mu.RUnlock()

	// Empty input is a caller bug, not a zero vector.
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, coreerrors.New(coreerrors.ErrCodeInvalidInput, "cannot embed empty text", nil)
	}

	return normalizeVector(c.generate(trimmed)), nil
}

// EmbedBatch embeds each text in input order. One bad input fails the
// batch; callers filter empties before batching.
func (c *staticCore) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return nil, fmt.Errorf("embedder is closed")
	}
	c.mu.RUnlock()

	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := c.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// generate hashes the text's features into an un-normalized vector.
func (c *staticCore) generate(text string) []float32 {
	vector := make([]float32, c.dims)

	for _, token := range filterStopWords(tokenize(text)) {
		vector[hashToIndex(token, c.dims)] += tokenWeight
	}

	normalized := normalizeForNgrams(text)
	for _, ngram := range extractNgrams(normalized, ngramSize) {
		vector[hashToIndex(ngram, c.dims)] += ngramWeight
	}

	return vector
}

// Dimensions returns the embedding dimension.
func (c *staticCore) Dimensions() int { return c.dims }

// ModelName returns the model identifier.
func (c *staticCore) ModelName() string { return c.model }

// Available reports readiness; a static embedder is ready until closed.
func (c *staticCore) Available(_ context.Context) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.closed
}

// Close releases resources.
func (c *staticCore) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SetBatchIndex is a no-op: static embedding has no thermal management.
func (c *staticCore) SetBatchIndex(_ int) {}

// SetFinalBatch is a no-op: static embedding has no thermal management.
func (c *staticCore) SetFinalBatch(_ bool) {}

// StaticEmbedder is the 256-dimensional static embedder.
type StaticEmbedder struct {
	staticCore
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a new 256-dimensional static embedder.
func NewStaticEmbedder() *StaticEmbedder {
	return &StaticEmbedder{staticCore{dims: StaticDimensions, model: "static"}}
}

// tokenize splits text into lowercase tokens, breaking identifiers on
// camelCase and snake_case boundaries so code and prose hash alike.
func tokenize(text string) []string {
	var tokens []string
	var word strings.Builder

	flush := func() {
		if word.Len() == 0 {
			return
		}
		for _, part := range splitCodeToken(word.String()) {
			if lower := strings.ToLower(part); lower != "" {
				tokens = append(tokens, lower)
			}
		}
		word.Reset()
	}

	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			word.WriteRune(r)
			continue
		}
		if r == '_' {
			word.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return tokens
}

// splitCodeToken splits snake_case first, then camelCase in each part.
func splitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return splitCamelCase(token)
	}
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, splitCamelCase(part)...)
		}
	}
	return result
}

// splitCamelCase splits camelCase/PascalCase, keeping acronym runs whole.
func splitCamelCase(s string) []string {
	// Empty slice, not nil, for consistent API behavior.
	if s == "" {
		return []string{}
	}

	runes := []rune(s)
	var result []string
	start := 0
	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		prevIsLower := unicode.IsLower(runes[i-1])
		nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if (prevIsLower || nextIsLower) && i > start {
			result = append(result, string(runes[start:i]))
			start = i
		}
	}
	return append(result, string(runes[start:]))
}

// filterStopWords removes programming keywords before hashing.
func filterStopWords(tokens []string) []string {
	var filtered []string
	for _, t := range tokens {
		if !programmingStopWords[t] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

// normalizeForNgrams strips everything but letters and digits, lowercased,
// so n-grams cross word boundaries consistently.
func normalizeForNgrams(text string) string {
	var result strings.Builder
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// extractNgrams returns every n-character sliding window.
func extractNgrams(text string, n int) []string {
	// Empty slice, not nil, for consistent API behavior.
	if len(text) < n {
		return []string{}
	}
	ngrams := make([]string, 0, len(text)-n+1)
	for i := 0; i <= len(text)-n; i++ {
		ngrams = append(ngrams, text[i:i+n])
	}
	return ngrams
}

// hashToIndex maps a feature string to a vector index with FNV-64.
func hashToIndex(s string, size int) int {
	h := fnv.New64()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(size))
}
