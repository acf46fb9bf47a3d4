package chunk

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// StructuredChunker chunks JSON, YAML, and TOML documents by top-level key,
// so a search hit points at one configuration value rather than an entire
// file.
type StructuredChunker struct {
	maxChunkTokens int
}

// NewStructuredChunker creates a structured-data chunker with default sizing.
func NewStructuredChunker() *StructuredChunker {
	return &StructuredChunker{maxChunkTokens: DefaultMaxChunkTokens}
}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *StructuredChunker) SupportedExtensions() []string {
	return []string{".json", ".yaml", ".yml", ".toml"}
}

// Chunk splits a structured document into one chunk per top-level key. A
// document with a syntax error is rejected with an error. A well-formed
// document that is not a non-empty top-level object (an array, a scalar)
// is returned whole as a single chunk.
func (c *StructuredChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	ct := contentTypeForExt(filepath.Ext(file.Path))
	fields, order, err := decodeTopLevel(ct, file.Content)
	if err != nil {
		_, notObject := err.(*json.UnmarshalTypeError)
		if ct == ContentTypeYAML {
			notObject = yaml.Unmarshal(file.Content, new(yaml.Node)) == nil
		}
		if !notObject {
			return nil, fmt.Errorf("decoding %s: %w", file.Path, err)
		}
	}
	if err != nil || len(fields) == 0 {
		return reindex([]*Chunk{c.wholeFileChunk(file, content, ct)}), nil
	}

	now := time.Now()
	var chunks []*Chunk
	line := 1
	for _, key := range order {
		text := renderField(ct, key, fields[key])
		chunks = append(chunks, &Chunk{
			DocID:       file.DocID,
			FilePath:    file.Path,
			Content:     text,
			RawContent:  text,
			ContentType: ct,
			Language:    string(ct),
			StartLine:   line,
			EndLine:     line + strings.Count(text, "\n"),
			TokenRange:  TokenRange{Start: 0, End: estimateTokens(text)},
			HeadingPath: key,
			Metadata:    map[string]string{"key": key},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		line += strings.Count(text, "\n") + 1
	}

	return reindex(chunks), nil
}

func (c *StructuredChunker) wholeFileChunk(file *FileInput, content string, ct ContentType) *Chunk {
	now := time.Now()
	return &Chunk{
		DocID:       file.DocID,
		FilePath:    file.Path,
		Content:     content,
		RawContent:  content,
		ContentType: ct,
		Language:    string(ct),
		StartLine:   1,
		EndLine:     strings.Count(content, "\n") + 1,
		TokenRange:  TokenRange{Start: 0, End: estimateTokens(content)},
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func contentTypeForExt(ext string) ContentType {
	switch strings.ToLower(ext) {
	case ".json":
		return ContentTypeJSON
	case ".yaml", ".yml":
		return ContentTypeYAML
	case ".toml":
		return ContentTypeTOML
	default:
		return ContentTypeText
	}
}

// decodeTopLevel decodes a document into its top-level key order and
// values. Map key order from encoding/json and yaml.v3 is not preserved by
// map[string]any, so YAML is decoded via yaml.Node to retain source order;
// JSON and TOML fall back to sorted key order, which is still deterministic.
func decodeTopLevel(ct ContentType, raw []byte) (map[string]any, []string, error) {
	switch ct {
	case ContentTypeJSON:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, nil, err
		}
		return m, sortedKeys(m), nil
	case ContentTypeYAML:
		var doc yaml.Node
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, nil, err
		}
		return decodeYAMLNode(&doc)
	case ContentTypeTOML:
		var m map[string]any
		if err := toml.Unmarshal(raw, &m); err != nil {
			return nil, nil, err
		}
		return m, sortedKeys(m), nil
	default:
		return nil, nil, fmt.Errorf("unsupported structured content type %q", ct)
	}
}

func decodeYAMLNode(doc *yaml.Node) (map[string]any, []string, error) {
	if len(doc.Content) == 0 {
		return nil, nil, fmt.Errorf("empty yaml document")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, nil, fmt.Errorf("yaml document is not a mapping")
	}

	fields := make(map[string]any)
	var order []string
	for i := 0; i+1 < len(root.Content); i += 2 {
		key := root.Content[i].Value
		var val any
		if err := root.Content[i+1].Decode(&val); err != nil {
			continue
		}
		fields[key] = val
		order = append(order, key)
	}
	return fields, order, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j-1] > keys[j]; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
	return keys
}

func renderField(ct ContentType, key string, value any) string {
	switch ct {
	case ContentTypeJSON:
		body, err := json.MarshalIndent(map[string]any{key: value}, "", "  ")
		if err != nil {
			return fmt.Sprintf("%s: %v", key, value)
		}
		return string(body)
	case ContentTypeTOML:
		body, err := toml.Marshal(map[string]any{key: value})
		if err != nil {
			return fmt.Sprintf("%s = %v", key, value)
		}
		return string(body)
	default:
		body, err := yaml.Marshal(map[string]any{key: value})
		if err != nil {
			return fmt.Sprintf("%s: %v", key, value)
		}
		return string(body)
	}
}
