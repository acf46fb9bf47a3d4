package chunk

import (
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// grammar pairs one language's symbol configuration with its tree-sitter
// grammar. The table below is the single place a new language is added.
type grammar struct {
	config *LanguageConfig
	lang   *sitter.Language
}

// builtinGrammars returns the supported languages. Grammar node-type
// names come from each tree-sitter grammar's node-types.json; the
// extractor maps them onto SymbolType values.
func builtinGrammars() []grammar {
	goConfig := &LanguageConfig{
		Name:          "go",
		Extensions:    []string{".go"},
		FunctionTypes: []string{"function_declaration"},
		MethodTypes:   []string{"method_declaration"},
		// Go has no classes; interfaces arrive as type declarations.
		TypeDefTypes:  []string{"type_declaration"},
		ConstantTypes: []string{"const_declaration"},
		VariableTypes: []string{"var_declaration"},
		NameField:     "name",
	}

	tsConfig := &LanguageConfig{
		Name:           "typescript",
		Extensions:     []string{".ts"},
		FunctionTypes:  []string{"function_declaration"},
		MethodTypes:    []string{"method_definition"},
		ClassTypes:     []string{"class_declaration"},
		InterfaceTypes: []string{"interface_declaration"},
		TypeDefTypes:   []string{"type_alias_declaration"},
		ConstantTypes:  []string{"lexical_declaration"}, // const and let
		VariableTypes:  []string{"variable_declaration"},
		NameField:      "name",
	}
	tsxConfig := derive(tsConfig, "tsx", ".tsx")

	jsConfig := &LanguageConfig{
		Name:          "javascript",
		Extensions:    []string{".js", ".mjs"},
		FunctionTypes: []string{"function_declaration", "function"},
		MethodTypes:   []string{"method_definition"},
		ClassTypes:    []string{"class_declaration"},
		ConstantTypes: []string{"lexical_declaration"},
		VariableTypes: []string{"variable_declaration"},
		NameField:     "name",
	}
	jsxConfig := derive(jsConfig, "jsx", ".jsx")

	pyConfig := &LanguageConfig{
		Name:          "python",
		Extensions:    []string{".py"},
		FunctionTypes: []string{"function_definition"},
		// Python methods are function_definitions nested in a class.
		ClassTypes:    []string{"class_definition"},
		VariableTypes: []string{"assignment"}, // module-level assignments
		NameField:     "name",
	}

	return []grammar{
		{goConfig, golang.GetLanguage()},
		{tsConfig, typescript.GetLanguage()},
		{tsxConfig, tsx.GetLanguage()},
		{jsConfig, javascript.GetLanguage()},
		{jsxConfig, javascript.GetLanguage()}, // JSX parses with the JS grammar
		{pyConfig, python.GetLanguage()},
	}
}

// derive copies a config under a new name and extension, for dialects
// (tsx, jsx) that share their parent's node types.
func derive(parent *LanguageConfig, name, ext string) *LanguageConfig {
	c := *parent
	c.Name = name
	c.Extensions = []string{ext}
	return &c
}

// LanguageRegistry maps languages and file extensions to their tree-sitter
// grammars and symbol-kind configurations. It backs the source-code content
// handler; prose and structured formats never reach it.
type LanguageRegistry struct {
	mu          sync.RWMutex
	configs     map[string]*LanguageConfig
	extToLang   map[string]string
	tsLanguages map[string]*sitter.Language
}

// NewLanguageRegistry creates a registry holding the built-in grammars.
func NewLanguageRegistry() *LanguageRegistry {
	r := &LanguageRegistry{
		configs:     make(map[string]*LanguageConfig),
		extToLang:   make(map[string]string),
		tsLanguages: make(map[string]*sitter.Language),
	}
	for _, g := range builtinGrammars() {
		r.register(g)
	}
	return r
}

func (r *LanguageRegistry) register(g grammar) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.configs[g.config.Name] = g.config
	r.tsLanguages[g.config.Name] = g.lang
	for _, ext := range g.config.Extensions {
		r.extToLang[ext] = g.config.Name
	}
}

// GetByExtension returns the language configuration for a file extension.
func (r *LanguageRegistry) GetByExtension(ext string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	langName, ok := r.extToLang[ext]
	if !ok {
		return nil, false
	}
	config, ok := r.configs[langName]
	return config, ok
}

// GetByName returns the language configuration by name.
func (r *LanguageRegistry) GetByName(name string) (*LanguageConfig, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	config, ok := r.configs[name]
	return config, ok
}

// GetTreeSitterLanguage returns the tree-sitter grammar for a language.
func (r *LanguageRegistry) GetTreeSitterLanguage(name string) (*sitter.Language, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lang, ok := r.tsLanguages[name]
	return lang, ok
}

// SupportedExtensions returns all registered file extensions.
func (r *LanguageRegistry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	exts := make([]string, 0, len(r.extToLang))
	for ext := range r.extToLang {
		exts = append(exts, ext)
	}
	return exts
}

// defaultRegistry is the process-wide language registry: read-mostly,
// built once at package init.
var defaultRegistry = NewLanguageRegistry()

// DefaultRegistry returns the process-wide language registry.
func DefaultRegistry() *LanguageRegistry {
	return defaultRegistry
}
