package chunk

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MarkdownChunkerOptions configures the markdown chunker.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// MarkdownChunker implements heading-aware Markdown chunking: it splits at
// section boundaries first, then falls back to paragraph splitting for
// sections that exceed MaxChunkTokens.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	headerPattern       = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern  = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
	codeBlockPattern    = regexp.MustCompile("(?s)```[^`]*```")
	tablePattern        = regexp.MustCompile(`(?m)^\|.+\|$(\n^\|[-:|]+\|$)?(\n^\|.+\|$)*`)
)

// NewMarkdownChunker creates a markdown chunker with default sizing.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a markdown chunker with custom sizing.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits a markdown document into heading-scoped chunks.
func (c *MarkdownChunker) Chunk(_ context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	now := time.Now()
	remaining := content
	var chunks []*Chunk

	if fm := frontmatterPattern.FindString(remaining); fm != "" {
		chunks = append(chunks, c.chunk(file, "", 0, fm, 1, strings.Count(fm, "\n"), now, "frontmatter"))
		remaining = remaining[len(fm):]
	}

	sections := parseSections(remaining)
	baseLineOffset := strings.Count(content[:len(content)-len(remaining)], "\n") + 1

	if len(sections) == 0 {
		chunks = append(chunks, c.chunkByParagraphs(file, remaining, "", baseLineOffset, len(chunks), now)...)
		return reindex(chunks), nil
	}

	for _, sec := range sections {
		chunks = append(chunks, c.sectionChunks(file, sec, baseLineOffset, len(chunks), now)...)
	}
	return reindex(chunks), nil
}

type section struct {
	headerLevel int
	headerTitle string
	headerPath  string
	content     string
	startLine   int
}

func parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var current *section
	var body strings.Builder

	for lineNum, line := range lines {
		if m := headerPattern.FindStringSubmatch(line); m != nil {
			if current != nil {
				current.content = body.String()
				sections = append(sections, current)
				body.Reset()
			}
			level := len(m[1])
			title := strings.TrimSpace(m[2])
			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}
			var parts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					parts = append(parts, headerStack[i])
				}
			}
			current = &section{
				headerLevel: level,
				headerTitle: title,
				headerPath:  strings.Join(parts, " > "),
				startLine:   lineNum,
			}
			body.WriteString(line)
			body.WriteString("\n")
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if current != nil {
		current.content = body.String()
		sections = append(sections, current)
	}
	return sections
}

func (c *MarkdownChunker) sectionChunks(file *FileInput, sec *section, baseLineOffset, startIndex int, now time.Time) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")
	trimmed := strings.TrimSpace(content)
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= 1 && headerPattern.MatchString(trimmed) {
		return nil
	}

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		startLine := baseLineOffset + sec.startLine
		return []*Chunk{c.chunk(file, sec.headerPath, sec.headerLevel, content, startLine, startLine+strings.Count(content, "\n"), now, "")}
	}

	return c.splitLargeSection(file, sec, content, baseLineOffset+sec.startLine, startIndex, now)
}

func (c *MarkdownChunker) splitLargeSection(file *FileInput, sec *section, content string, startLine, startIndex int, now time.Time) []*Chunk {
	paragraphs := splitByParagraphs(content)

	var chunks []*Chunk
	var buf strings.Builder
	curStart := startLine
	lineCount := 0

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		text := strings.TrimRight(buf.String(), "\n ")
		chunks = append(chunks, c.chunk(file, sec.headerPath, sec.headerLevel, text, curStart, curStart+lineCount, now, ""))
		buf.Reset()
		curStart = startLine + lineCount
		lineCount = 0
	}

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1
		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			flush()
			if i > 0 {
				buf.WriteString("<!-- Section: ")
				buf.WriteString(sec.headerPath)
				buf.WriteString(" -->\n\n")
			}
		}
		buf.WriteString(para)
		buf.WriteString("\n\n")
		lineCount += paraLines + 1
	}
	flush()
	return chunks
}

func (c *MarkdownChunker) chunkByParagraphs(file *FileInput, content, headingPath string, startLine, startIndex int, now time.Time) []*Chunk {
	paragraphs := strings.Split(content, "\n\n")
	var chunks []*Chunk
	var buf strings.Builder
	curStart := startLine
	lineCount := 0

	flush := func() {
		if buf.Len() == 0 {
			return
		}
		text := strings.TrimSpace(buf.String())
		chunks = append(chunks, c.chunk(file, headingPath, 0, text, curStart, curStart+lineCount, now, ""))
		buf.Reset()
		curStart = startLine + lineCount
		lineCount = 0
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		paraLines := strings.Count(para, "\n") + 1
		if buf.Len() > 0 && estimateTokens(buf.String())+estimateTokens(para) > c.options.MaxChunkTokens {
			flush()
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(para)
		lineCount += paraLines + 1
	}
	flush()
	return chunks
}

func (c *MarkdownChunker) chunk(file *FileInput, headingPath string, headerLevel int, content string, startLine, endLine int, now time.Time, kind string) *Chunk {
	meta := map[string]string{"header_path": headingPath, "header_level": strconv.Itoa(headerLevel)}
	if kind != "" {
		meta["type"] = kind
	}
	return &Chunk{
		DocID:       file.DocID,
		FilePath:    file.Path,
		Content:     content,
		RawContent:  content,
		ContentType: ContentTypeMarkdown,
		Language:    "markdown",
		StartLine:   startLine,
		EndLine:     endLine,
		HeadingPath: headingPath,
		TokenRange:  TokenRange{Start: 0, End: estimateTokens(content)},
		Metadata:    meta,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// splitByParagraphs splits on blank lines while keeping fenced code blocks
// and tables intact as atomic units.
func splitByParagraphs(content string) []string {
	parts := strings.Split(content, "\n\n")
	var paragraphs []string
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			paragraphs = append(paragraphs, t)
		}
	}
	return mergeAtomicBlocks(paragraphs)
}

func mergeAtomicBlocks(paragraphs []string) []string {
	var result []string
	var inFence bool
	var buf strings.Builder

	for _, para := range paragraphs {
		if inFence {
			buf.WriteString("\n\n")
			buf.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, buf.String())
				buf.Reset()
				inFence = false
			}
			continue
		}
		if strings.Count(para, "```")%2 == 1 {
			inFence = true
			buf.WriteString(para)
			continue
		}
		result = append(result, para)
	}
	if inFence {
		result = append(result, buf.String())
	}
	return result
}

// reindex assigns ChunkIndex in emission order and computes each chunk's
// deterministic id now that the full sequence (and therefore each chunk's
// position) is known.
func reindex(chunks []*Chunk) []*Chunk {
	for i, c := range chunks {
		c.ChunkIndex = i
		c.ID = generateChunkID(c.DocID, i, c.Content)
	}
	return chunks
}

var _ = codeBlockPattern
var _ = tablePattern
