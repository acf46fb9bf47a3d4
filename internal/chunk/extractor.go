package chunk

import (
	"strings"
)

// SymbolExtractor turns parsed ASTs into Symbol values: which nodes
// define symbols, what they are called, and the one-line signature worth
// carrying into a chunk.
type SymbolExtractor struct {
	registry *LanguageRegistry
	// kindCache maps language -> node type -> symbol kind, built lazily
	// from the language configs so classification is one map lookup.
	kindCache map[string]map[string]SymbolType
}

// NewSymbolExtractor creates an extractor over the default registry.
func NewSymbolExtractor() *SymbolExtractor {
	return NewSymbolExtractorWithRegistry(DefaultRegistry())
}

// NewSymbolExtractorWithRegistry creates an extractor over a custom registry.
func NewSymbolExtractorWithRegistry(registry *LanguageRegistry) *SymbolExtractor {
	return &SymbolExtractor{
		registry:  registry,
		kindCache: make(map[string]map[string]SymbolType),
	}
}

// kindTable returns the node-type -> symbol-kind table for a language.
func (e *SymbolExtractor) kindTable(language string, config *LanguageConfig) map[string]SymbolType {
	if table, ok := e.kindCache[language]; ok {
		return table
	}

	table := make(map[string]SymbolType)
	add := func(types []string, kind SymbolType) {
		for _, t := range types {
			table[t] = kind
		}
	}
	add(config.FunctionTypes, SymbolTypeFunction)
	add(config.MethodTypes, SymbolTypeMethod)
	add(config.ClassTypes, SymbolTypeClass)
	add(config.InterfaceTypes, SymbolTypeInterface)
	add(config.TypeDefTypes, SymbolTypeType)
	add(config.ConstantTypes, SymbolTypeConstant)
	add(config.VariableTypes, SymbolTypeVariable)

	e.kindCache[language] = table
	return table
}

// Extract collects every symbol the tree defines.
func (e *SymbolExtractor) Extract(tree *Tree, source []byte) []*Symbol {
	// Empty slice, not nil, for consistent API behavior.
	if tree == nil || tree.Root == nil {
		return []*Symbol{}
	}
	config, ok := e.registry.GetByName(tree.Language)
	if !ok {
		return []*Symbol{}
	}

	var symbols []*Symbol
	tree.Root.Walk(func(n *Node) bool {
		if symbol := e.extractSymbolFromNode(n, source, config, tree.Language); symbol != nil {
			symbols = append(symbols, symbol)
		}
		return true
	})
	return symbols
}

// extractSymbolFromNode builds a Symbol when the node's type is one the
// language config declares, or a JS/TS function-valued variable.
func (e *SymbolExtractor) extractSymbolFromNode(n *Node, source []byte, config *LanguageConfig, language string) *Symbol {
	kind, isSymbol := e.kindTable(language, config)[n.Type]
	if !isSymbol {
		// Arrow functions and function expressions hide behind variable
		// declarations; they deserve function symbols of their own.
		return e.extractSpecialSymbol(n, source, language)
	}

	name := e.extractName(n, source, config, language)
	if name == "" {
		return nil
	}

	return &Symbol{
		Name:       name,
		Type:       kind,
		StartLine:  int(n.StartPoint.Row) + 1, // rows are 0-indexed
		EndLine:    int(n.EndPoint.Row) + 1,
		Signature:  e.extractSignature(n, source, kind, language),
		DocComment: e.extractDocComment(n, source, language),
	}
}

// namePaths describes where each language's grammars put a symbol's name:
// a sequence of node types to descend through, ending at the name node.
// The first path that resolves wins.
var namePaths = map[string][][]string{
	"go": {
		{"identifier"},                     // function_declaration
		{"field_identifier"},               // method_declaration
		{"type_spec", "type_identifier"},   // type_declaration
		{"const_spec", "identifier"},       // const_declaration (first name of a block)
		{"var_spec", "identifier"},         // var_declaration
	},
	"typescript": {
		{"variable_declarator", "identifier"}, // const/let/var
		{"identifier"},
		{"type_identifier"},
	},
	"javascript": {
		{"variable_declarator", "identifier"},
		{"identifier"},
	},
	"python": {
		{"identifier"},
	},
}

// extractName resolves the symbol's name via the language's name paths.
func (e *SymbolExtractor) extractName(n *Node, source []byte, _ *LanguageConfig, language string) string {
	paths, ok := namePaths[baseLanguage(language)]
	if !ok {
		paths = [][]string{{"identifier"}}
	}

	for _, path := range paths {
		if name := resolvePath(n, path, source); name != "" {
			return name
		}
	}
	return ""
}

// baseLanguage collapses dialects onto the grammar they share.
func baseLanguage(language string) string {
	switch language {
	case "tsx":
		return "typescript"
	case "jsx":
		return "javascript"
	default:
		return language
	}
}

// resolvePath descends from n through the given child types and returns
// the final node's content.
func resolvePath(n *Node, path []string, source []byte) string {
	current := n
	for _, nodeType := range path {
		current = current.FindChildByType(nodeType)
		if current == nil {
			return ""
		}
	}
	return current.GetContent(source)
}

// extractSpecialSymbol recognizes JS/TS variables bound to arrow
// functions or function expressions and reports them as functions.
func (e *SymbolExtractor) extractSpecialSymbol(n *Node, source []byte, language string) *Symbol {
	switch baseLanguage(language) {
	case "typescript", "javascript":
	default:
		return nil
	}
	if n.Type != "lexical_declaration" && n.Type != "variable_declaration" {
		return nil
	}

	for _, declarator := range n.FindChildrenByType("variable_declarator") {
		name := resolvePath(declarator, []string{"identifier"}, source)
		if name == "" {
			continue
		}
		if declarator.FindChildByType("arrow_function") == nil &&
			declarator.FindChildByType("function") == nil &&
			declarator.FindChildByType("function_expression") == nil {
			continue
		}

		return &Symbol{
			Name:      name,
			Type:      SymbolTypeFunction,
			StartLine: int(n.StartPoint.Row) + 1,
			EndLine:   int(n.EndPoint.Row) + 1,
			Signature: e.extractFunctionSignature(n.GetContent(source), "javascript"),
		}
	}
	return nil
}

// extractDocComment returns the line comment immediately above the
// symbol, when the language puts documentation there. Python docstrings
// live inside the definition and are left to the body content.
func (e *SymbolExtractor) extractDocComment(n *Node, source []byte, language string) string {
	if language == "python" || n.StartPoint.Row == 0 {
		return ""
	}

	// Walk back to the start of the symbol's line, then to the start of
	// the line above it.
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}
	if lineStart <= 1 {
		return ""
	}
	prevEnd := lineStart - 1
	prevStart := prevEnd - 1
	for prevStart > 0 && source[prevStart-1] != '\n' {
		prevStart--
	}

	prevLine := strings.TrimSpace(string(source[prevStart:prevEnd]))
	if strings.HasPrefix(prevLine, "//") {
		return strings.TrimPrefix(prevLine, "//")
	}
	return ""
}

// extractSignature returns the declaration's head line — enough for a
// reader (or embedding) to see the interface without the body.
func (e *SymbolExtractor) extractSignature(n *Node, source []byte, kind SymbolType, language string) string {
	content := n.GetContent(source)
	if content == "" {
		return ""
	}

	switch kind {
	case SymbolTypeFunction, SymbolTypeMethod:
		return e.extractFunctionSignature(content, language)
	case SymbolTypeClass, SymbolTypeInterface, SymbolTypeType:
		return e.extractTypeSignature(content, language)
	}
	return ""
}

// headLine returns the first line, trimmed, cut before an opening brace
// when one is present. Python keeps its colon-terminated line whole.
func headLine(content, language string) string {
	firstLine, _, _ := strings.Cut(content, "\n")
	firstLine = strings.TrimSpace(firstLine)
	if language == "python" {
		return firstLine
	}
	if idx := strings.Index(firstLine, "{"); idx != -1 {
		return strings.TrimSpace(firstLine[:idx])
	}
	return firstLine
}

// extractFunctionSignature extracts a function or method's head line.
func (e *SymbolExtractor) extractFunctionSignature(content, language string) string {
	return headLine(content, language)
}

// extractTypeSignature extracts a type, class, or interface head line.
func (e *SymbolExtractor) extractTypeSignature(content, language string) string {
	return headLine(content, language)
}
