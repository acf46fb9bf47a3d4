package chunk

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CodeChunkerOptions configures the code chunker behavior.
type CodeChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// CodeChunker implements AST-aware code chunking using tree-sitter: each
// chunk wraps one symbol (function, method, class, type) together with the
// enclosing file's package/import context, so a symbol stays understandable
// when retrieved on its own. Symbols nested inside another symbol (methods
// in a class body, for instance) get chunks of their own as well.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a code chunker with default sizing.
func NewCodeChunker() (*CodeChunker, error) {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{}), nil
}

// NewCodeChunkerWithOptions creates a code chunker with custom sizing.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases parser resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns the file extensions this chunker handles.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a source file into one chunk per symbol, nested symbols
// included.
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	if _, supported := c.registry.GetByName(file.Language); !supported {
		return reindex(c.chunkByLines(file)), nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return reindex(c.chunkByLines(file)), nil
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	symbolNodes := c.findSymbolNodes(tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	var chunks []*Chunk
	now := time.Now()
	for _, node := range symbolNodes {
		chunks = append(chunks, c.createChunksFromNode(node, tree, file, fileContext, now)...)
	}

	return reindex(chunks), nil
}

type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	symbolTypes := make(map[string]SymbolType)
	for _, t := range config.FunctionTypes {
		symbolTypes[t] = SymbolTypeFunction
	}
	for _, t := range config.MethodTypes {
		symbolTypes[t] = SymbolTypeMethod
	}
	for _, t := range config.ClassTypes {
		symbolTypes[t] = SymbolTypeClass
	}
	for _, t := range config.InterfaceTypes {
		symbolTypes[t] = SymbolTypeInterface
	}
	for _, t := range config.TypeDefTypes {
		symbolTypes[t] = SymbolTypeType
	}
	for _, t := range config.ConstantTypes {
		symbolTypes[t] = SymbolTypeConstant
	}
	for _, t := range config.VariableTypes {
		symbolTypes[t] = SymbolTypeVariable
	}

	var symbolNodes []*symbolNodeInfo
	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return true
			}
		}

		if symType, isSymbol := symbolTypes[n.Type]; isSymbol {
			if sym := c.extractSymbol(n, tree, symType, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			}
		}
		return true
	})

	return symbolNodes
}

func (c *CodeChunker) extractSymbol(n *Node, tree *Tree, symType SymbolType, language string) *Symbol {
	config, _ := c.registry.GetByName(language)
	name := c.extractor.extractName(n, tree.Source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       symType,
		StartLine:  int(n.StartPoint.Row) + 1,
		EndLine:    int(n.EndPoint.Row) + 1,
		DocComment: c.extractDocComment(n, tree.Source, language),
	}
}

func (c *CodeChunker) extractDocComment(n *Node, source []byte, language string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}

	var commentLines []string
	pos := lineStart - 1

	for pos > 0 {
		prevLineEnd := pos
		pos--
		for pos > 0 && source[pos] != '\n' {
			pos--
		}
		prevLineStart := pos
		if pos > 0 {
			prevLineStart++
		}

		prevLine := strings.TrimSpace(string(source[prevLineStart:prevLineEnd]))

		switch language {
		case "go", "typescript", "tsx", "javascript", "jsx":
			if strings.HasPrefix(prevLine, "//") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "//")}, commentLines...)
				continue
			}
		case "python":
			if strings.HasPrefix(prevLine, "#") {
				commentLines = append([]string{strings.TrimPrefix(prevLine, "#")}, commentLines...)
				continue
			}
		}

		if prevLine != "" {
			break
		}
	}

	if len(commentLines) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(commentLines, "\n"))
}

func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	rawContent := string(tree.Source[node.StartByte:node.EndByte])

	rawContentWithDoc := rawContent
	if info.symbol.DocComment != "" {
		rawContentWithDoc = c.getRawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	if estimateTokens(rawContentWithDoc) <= c.options.MaxChunkTokens {
		return []*Chunk{c.createChunk(file, rawContentWithDoc, fileContext, info.symbol, now)}
	}

	return c.splitLargeSymbol(info, tree, file, fileContext, now)
}

func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

func (c *CodeChunker) splitLargeSymbol(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string, now time.Time) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])
	return c.splitByLines(content, info.symbol, file, fileContext, now, int(node.StartPoint.Row)+1)
}

func (c *CodeChunker) splitByLines(content string, symbol *Symbol, file *FileInput, fileContext string, now time.Time, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}

	maxLinesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i
		chunkEndLine := startLine + end - 1

		subSymbol := &Symbol{
			Name:      fmt.Sprintf("%s_part%d", symbol.Name, len(chunks)+1),
			Type:      symbol.Type,
			StartLine: chunkStartLine,
			EndLine:   chunkEndLine,
		}

		symbols := []*Symbol{subSymbol}
		if len(chunks) == 0 {
			symbols = append(symbols, &Symbol{
				Name:      symbol.Name,
				Type:      symbol.Type,
				StartLine: symbol.StartLine,
				EndLine:   symbol.EndLine,
			})
		}

		chunks = append(chunks, &Chunk{
			DocID:       file.DocID,
			FilePath:    file.Path,
			Content:     combineContextAndContent(fileContext, chunkContent),
			RawContent:  chunkContent,
			Context:     fileContext,
			ContentType: ContentTypeCode,
			Language:    file.Language,
			StartLine:   chunkStartLine,
			EndLine:     chunkEndLine,
			TokenRange:  TokenRange{Start: 0, End: estimateTokens(chunkContent)},
			Symbols:     symbols,
			Metadata:    map[string]string{"symbol": symbol.Name},
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

func (c *CodeChunker) createChunk(file *FileInput, rawContent, fileContext string, symbol *Symbol, now time.Time) *Chunk {
	return &Chunk{
		DocID:       file.DocID,
		FilePath:    file.Path,
		Content:     combineContextAndContent(fileContext, rawContent),
		RawContent:  rawContent,
		Context:     fileContext,
		ContentType: ContentTypeCode,
		Language:    file.Language,
		StartLine:   symbol.StartLine,
		EndLine:     symbol.EndLine,
		TokenRange:  TokenRange{Start: 0, End: estimateTokens(rawContent)},
		Symbols:     []*Symbol{symbol},
		Metadata:    map[string]string{"symbol": symbol.Name},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string

	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}

	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source)
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

// chunkByLines is the fallback for unsupported or unparseable languages.
func (c *CodeChunker) chunkByLines(file *FileInput) []*Chunk {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := 128
	overlapLines := 16

	var chunks []*Chunk
	now := time.Now()

	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunks = append(chunks, &Chunk{
			DocID:       file.DocID,
			FilePath:    file.Path,
			Content:     chunkContent,
			RawContent:  chunkContent,
			ContentType: ContentTypeText,
			Language:    file.Language,
			StartLine:   i + 1,
			EndLine:     end,
			TokenRange:  TokenRange{Start: 0, End: estimateTokens(chunkContent)},
			Metadata:    map[string]string{},
			CreatedAt:   now,
			UpdatedAt:   now,
		})

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

// combineContextAndContent prepends file-level context (package/imports) to
// a symbol's raw content, so the embedded text carries enough signal to
// disambiguate identically-named symbols across files.
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a language-appropriate file marker so
// embeddings retain a sense of location even once chunked out of context.
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	var marker string
	switch language {
	case "python":
		marker = fmt.Sprintf("# File: %s", filePath)
	default:
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
