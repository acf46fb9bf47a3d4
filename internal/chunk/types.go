// Package chunk splits document content into retrievable text units.
//
// A Chunker never mutates the Chunk after returning it; chunk_id is
// deterministic in doc_id, chunk_index, and the chunk's normalized text, so
// re-chunking unchanged content reproduces identical ids (see the indexing
// pipeline's idempotence invariant).
package chunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Size defaults for structural chunking (600-900 tokens per chunk,
// ~15% overlap).
const (
	DefaultMaxChunkTokens = 900
	DefaultMinChunkTokens = 600
	DefaultOverlapTokens  = 135 // ~15% of 900
	TokensPerChar         = 4   // rough approximation: 4 chars ≈ 1 token
)

// ContentType identifies which handler produced a chunk.
type ContentType string

const (
	ContentTypeCode       ContentType = "code"
	ContentTypeMarkdown   ContentType = "markdown"
	ContentTypeText       ContentType = "text"
	ContentTypeJSON       ContentType = "json"
	ContentTypeYAML       ContentType = "yaml"
	ContentTypeTOML       ContentType = "toml"
	ContentTypeHTML       ContentType = "html"
)

// TokenRange marks a chunk's approximate position within its document, in
// estimated-token units (not byte offsets).
type TokenRange struct {
	Start int
	End   int
}

// Chunk is a retrievable, never-mutated unit of document content.
type Chunk struct {
	ID          string // deterministic: hash(doc_id, chunk_index, normalized text prefix)
	DocID       string
	ChunkIndex  int
	FilePath    string
	Content     string // text to embed/index
	RawContent  string // content before context enrichment (code: symbol only)
	Context     string // surrounding context (code: package/imports)
	ContentType ContentType
	Language    string
	StartLine   int // 1-indexed
	EndLine     int // inclusive
	TokenRange  TokenRange
	HeadingPath string // markdown section path, e.g. "Intro > Setup"
	Symbols     []*Symbol
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// FileInput is the input handed to a Chunker for one document.
type FileInput struct {
	DocID    string
	Path     string
	Content  []byte
	Language string
}

// Chunker splits one file's content into chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// SymbolType is the kind of a code symbol.
type SymbolType string

const (
	SymbolTypeFunction  SymbolType = "function"
	SymbolTypeClass     SymbolType = "class"
	SymbolTypeInterface SymbolType = "interface"
	SymbolTypeType      SymbolType = "type"
	SymbolTypeVariable  SymbolType = "variable"
	SymbolTypeConstant  SymbolType = "constant"
	SymbolTypeMethod    SymbolType = "method"
)

// Symbol is a code construct extracted while chunking source files.
type Symbol struct {
	Name       string
	Type       SymbolType
	StartLine  int
	EndLine    int
	Signature  string
	DocComment string
}

// Tree is a parsed AST, as returned by Parser.Parse.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is one AST node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a row/column position in source.
type Point struct {
	Row    uint32
	Column uint32
}

// LanguageConfig describes how a tree-sitter grammar maps to Symbol kinds.
type LanguageConfig struct {
	Name           string
	Extensions     []string
	FunctionTypes  []string
	ClassTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
	NameField      string
}

// generateChunkID computes the deterministic id required by the data model:
// hash(doc_id || chunk_index || normalized_text_prefix). A content prefix
// (rather than the whole body) keeps the hash cheap for large chunks; the
// id changes when the normalized prefix changes, while an edit beyond the
// prefix keeps the same id.
func generateChunkID(docID string, chunkIndex int, content string) string {
	normalized := normalizeForID(content)
	prefix := normalized
	if len(prefix) > 256 {
		prefix = prefix[:256]
	}
	h := sha256.New()
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write([]byte{byte(chunkIndex), byte(chunkIndex >> 8), byte(chunkIndex >> 16)})
	h.Write([]byte{0})
	h.Write([]byte(prefix))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// normalizeForID collapses whitespace so cosmetic reformatting (trailing
// spaces, CRLF vs LF) does not change a chunk's id.
func normalizeForID(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// estimateTokens gives a cheap token-count estimate for chunk sizing
// decisions; it need not be exact, only monotonic with text length.
func estimateTokens(s string) int {
	n := len(s) / TokensPerChar
	if n == 0 && len(s) > 0 {
		n = 1
	}
	return n
}
