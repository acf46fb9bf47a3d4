package chunk

import (
	"context"
	"strings"
	"time"
)

// TextChunker is the fallback handler for plain text and any extension with
// no dedicated chunker: it splits on blank lines and regroups paragraphs up
// to MaxChunkTokens, mirroring the markdown chunker's paragraph fallback
// without any heading awareness.
type TextChunker struct {
	maxChunkTokens int
}

// NewTextChunker creates a plain-text chunker with default sizing.
func NewTextChunker() *TextChunker {
	return &TextChunker{maxChunkTokens: DefaultMaxChunkTokens}
}

// SupportedExtensions returns nil: TextChunker is only ever used as a
// registry fallback, never extension-matched.
func (c *TextChunker) SupportedExtensions() []string {
	return nil
}

// Chunk splits plain text into paragraph-grouped chunks.
func (c *TextChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	paragraphs := splitByParagraphs(content)
	if len(paragraphs) == 0 {
		paragraphs = []string{strings.TrimSpace(content)}
	}

	now := time.Now()
	var chunks []*Chunk
	var buf strings.Builder
	line := 1
	startLine := 1

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		text := strings.TrimSpace(buf.String())
		chunks = append(chunks, &Chunk{
			DocID:       file.DocID,
			FilePath:    file.Path,
			Content:     text,
			RawContent:  text,
			ContentType: ContentTypeText,
			Language:    "text",
			StartLine:   startLine,
			EndLine:     line,
			TokenRange:  TokenRange{Start: 0, End: estimateTokens(text)},
			Metadata:    map[string]string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		})
		buf.Reset()
		startLine = line
	}

	for _, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1
		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.maxChunkTokens {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		line += paraLines + 1
	}
	flush()

	return reindex(chunks), nil
}
