package chunk

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Parser wraps a tree-sitter parser for the source-code content handler.
// Parsed trees are converted into the package's own Node type so the
// extractor and chunker never touch tree-sitter's C-backed handles.
type Parser struct {
	parser   *sitter.Parser
	registry *LanguageRegistry
}

// NewParser creates a parser over the default language registry.
func NewParser() *Parser {
	return NewParserWithRegistry(DefaultRegistry())
}

// NewParserWithRegistry creates a parser over a custom language registry.
func NewParserWithRegistry(registry *LanguageRegistry) *Parser {
	return &Parser{
		parser:   sitter.NewParser(),
		registry: registry,
	}
}

// Parse parses source for the named language and returns the converted
// AST. Unknown languages are an error; callers route those files to the
// plain-text fallback instead.
func (p *Parser) Parse(ctx context.Context, source []byte, language string) (*Tree, error) {
	tsLang, ok := p.registry.GetTreeSitterLanguage(language)
	if !ok {
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
	p.parser.SetLanguage(tsLang)

	tsTree, err := p.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("failed to parse source: %w", err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("failed to parse source: nil tree")
	}

	return &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}, nil
}

// Close releases parser resources.
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

// convertNode deep-copies a tree-sitter node into the package's Node
// type: types, byte ranges, row/column points, and the error flag.
func convertNode(tsNode *sitter.Node) *Node {
	if tsNode == nil {
		return nil
	}

	node := &Node{
		Type:      tsNode.Type(),
		StartByte: tsNode.StartByte(),
		EndByte:   tsNode.EndByte(),
		StartPoint: Point{
			Row:    tsNode.StartPoint().Row,
			Column: tsNode.StartPoint().Column,
		},
		EndPoint: Point{
			Row:    tsNode.EndPoint().Row,
			Column: tsNode.EndPoint().Column,
		},
		HasError: tsNode.HasError(),
		Children: make([]*Node, 0, int(tsNode.ChildCount())),
	}

	for i := 0; i < int(tsNode.ChildCount()); i++ {
		if child := tsNode.Child(i); child != nil {
			node.Children = append(node.Children, convertNode(child))
		}
	}
	return node
}

// GetContent returns the source slice a node spans, or "" for a range
// that falls outside the source.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType returns the first direct child of the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType returns all direct children of the given type.
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// FindAllByType recursively collects every node of the given type,
// including n itself.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	n.Walk(func(node *Node) bool {
		if node.Type == nodeType {
			result = append(result, node)
		}
		return true
	})
	return result
}

// Walk traverses depth-first; fn returning false prunes that subtree.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
