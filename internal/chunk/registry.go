package chunk

import (
	"strings"
	"sync"
)

// Registry dispatches a file to the Chunker registered for its content
// type. Dispatch is by extension lookup, O(1).
//
// The registry is read-mostly: built once at startup, then shared across
// concurrent indexing workers. For takes a shared read lock; Register takes
// the write lock and updates the extension map in place. There is no
// lock-free snapshot, so lookups wait while a registration holds the lock.
type Registry struct {
	mu        sync.RWMutex
	byExt     map[string]Chunker
	fallback  Chunker
}

// NewRegistry creates an empty handler registry with the given fallback
// chunker (used when no extension matches).
func NewRegistry(fallback Chunker) *Registry {
	return &Registry{
		byExt:    make(map[string]Chunker),
		fallback: fallback,
	}
}

// Register associates a Chunker with its SupportedExtensions. Extensions
// are lowercased and normalized to include the leading dot.
func (r *Registry) Register(c Chunker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ext := range c.SupportedExtensions() {
		r.byExt[normalizeExt(ext)] = c
	}
}

// For returns the Chunker registered for a file extension, or the fallback
// if none matches.
func (r *Registry) For(ext string) Chunker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byExt[normalizeExt(ext)]; ok {
		return c
	}
	return r.fallback
}

func normalizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

// NewDefaultRegistry wires every built-in content handler: Markdown
// (heading-aware), source code (tree-sitter, comment/docstring extraction),
// JSON/YAML/TOML (value extraction), HTML (tag stripping), and plain text
// as the fallback.
func NewDefaultRegistry() (*Registry, error) {
	return NewSizedRegistry(0, 0)
}

// NewSizedRegistry is NewDefaultRegistry with explicit chunk sizing:
// targetTokens bounds a chunk's estimated size and overlapRatio sets the
// overlap (as a fraction of targetTokens) repeated between adjacent pieces
// when a code symbol is split at line boundaries. Markdown and plain-text
// splits carry no overlap. Zero values keep the package defaults.
func NewSizedRegistry(targetTokens int, overlapRatio float64) (*Registry, error) {
	overlap := 0
	if targetTokens > 0 && overlapRatio > 0 {
		overlap = int(float64(targetTokens) * overlapRatio)
	}

	codeChunker := NewCodeChunkerWithOptions(CodeChunkerOptions{
		MaxChunkTokens: targetTokens,
		OverlapTokens:  overlap,
	})

	reg := NewRegistry(NewTextChunker())
	reg.Register(NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{
		MaxChunkTokens: targetTokens,
		OverlapTokens:  overlap,
	}))
	reg.Register(codeChunker)
	reg.Register(NewStructuredChunker())
	reg.Register(NewHTMLChunker())
	return reg, nil
}
