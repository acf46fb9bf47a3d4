package search

// Synonym dictionary for query expansion.
//
// The corpus this core indexes is mixed prose, configuration, and source
// files, so the dictionary leans on general documentation vocabulary: the
// words people type into a search box ("setup", "remove", "docs") mapped to
// the words technical writing actually uses ("installation", "delete",
// "reference"). A compact code section at the end covers the source-code
// content handler, whose chunks spell concepts as identifiers and keywords
// rather than prose.

// DomainSynonyms maps query vocabulary to document vocabulary equivalents.
// Expansion terms are appended to the lexical query text; the vector side
// embeds the raw query without them.
//
// Design principles:
//  1. Map searcher vocabulary → author vocabulary, not vice versa.
//  2. Prefer terms that actually appear in prose and headings.
//  3. Keep per-term lists short; the expander caps how many it takes.
var DomainSynonyms = map[string][]string{
	// Documentation genres: what a section calls itself.
	"guide":     {"tutorial", "walkthrough", "introduction", "howto"},
	"tutorial":  {"guide", "walkthrough", "getting-started", "example"},
	"howto":     {"guide", "tutorial", "instructions"},
	"reference": {"documentation", "manual", "api", "docs"},
	"docs":      {"documentation", "reference", "manual", "guide"},
	"manual":    {"documentation", "reference", "handbook"},
	"example":   {"sample", "snippet", "demo", "usage"},
	"overview":  {"introduction", "summary", "architecture"},
	"faq":       {"questions", "troubleshooting", "answers"},
	"changelog": {"release", "notes", "version", "history"},
	"readme":    {"overview", "introduction", "documentation"},

	// Setup and lifecycle: how install-ish intent is worded.
	"install":      {"installation", "setup", "download"},
	"setup":        {"installation", "install", "configure", "initialize"},
	"upgrade":      {"update", "migration", "version"},
	"migration":    {"upgrade", "migrate", "conversion"},
	"uninstall":    {"remove", "removal", "cleanup"},
	"deploy":       {"deployment", "release", "rollout", "ship"},
	"deployment":   {"deploy", "release", "rollout"},
	"requirements": {"prerequisites", "dependencies", "needed"},

	// Configuration vocabulary.
	"config":        {"configuration", "settings", "options"},
	"configuration": {"config", "settings", "options", "setup"},
	"settings":      {"configuration", "options", "preferences"},
	"options":       {"settings", "configuration", "flags", "parameters"},
	"environment":   {"env", "variables", "configuration"},
	"default":       {"defaults", "preset", "initial"},
	"enable":        {"activate", "turn", "toggle", "on"},
	"disable":       {"deactivate", "turn", "toggle", "off"},

	// Troubleshooting vocabulary.
	"error":           {"failure", "problem", "issue", "exception"},
	"problem":         {"issue", "error", "failure", "troubleshooting"},
	"issue":           {"problem", "error", "bug"},
	"fix":             {"resolve", "solution", "workaround", "repair"},
	"solution":        {"fix", "resolution", "workaround", "answer"},
	"troubleshooting": {"debugging", "diagnosis", "problems", "errors"},
	"debug":           {"debugging", "troubleshoot", "diagnose", "trace"},
	"crash":           {"failure", "panic", "abort", "error"},
	"slow":            {"performance", "latency", "speed"},
	"timeout":         {"deadline", "expired", "hang"},
	"warning":         {"warn", "caution", "notice"},

	// Document and content structure.
	"document": {"doc", "file", "page", "article"},
	"doc":      {"document", "documentation", "file"},
	"file":     {"document", "path", "attachment"},
	"page":     {"document", "article", "section"},
	"section":  {"chapter", "heading", "part"},
	"chapter":  {"section", "part"},
	"heading":  {"title", "section", "header"},
	"title":    {"heading", "name"},
	"table":    {"matrix", "grid", "columns"},
	"figure":   {"diagram", "image", "illustration", "chart"},
	"image":    {"picture", "figure", "screenshot", "diagram"},
	"diagram":  {"figure", "chart", "illustration"},
	"list":     {"enumeration", "items", "bullet"},
	"appendix": {"annex", "supplement"},
	"glossary": {"terms", "definitions", "vocabulary"},
	"summary":  {"overview", "abstract", "recap"},

	// Actions a reader searches for.
	"create":   {"add", "new", "make"},
	"add":      {"create", "insert", "append", "new"},
	"remove":   {"delete", "removal", "drop"},
	"delete":   {"remove", "deletion", "erase", "drop"},
	"rename":   {"move", "change", "name"},
	"change":   {"modify", "edit", "update"},
	"update":   {"change", "modify", "refresh", "edit"},
	"edit":     {"modify", "change", "update"},
	"import":   {"load", "ingest", "read"},
	"export":   {"save", "extract", "output", "download"},
	"download": {"fetch", "export", "retrieve"},
	"upload":   {"import", "submit", "send"},
	"search":   {"find", "query", "lookup", "retrieve"},
	"find":     {"search", "locate", "lookup"},
	"compare":  {"difference", "versus", "comparison"},
	"validate": {"verify", "check", "validation"},
	"verify":   {"validate", "check", "confirm"},

	// Access and identity, a staple of technical corpora.
	"login":          {"signin", "authentication", "credentials"},
	"authentication": {"auth", "login", "credentials", "identity"},
	"auth":           {"authentication", "authorization", "login"},
	"permission":     {"access", "authorization", "role", "rights"},
	"password":       {"credential", "secret", "passphrase"},
	"token":          {"key", "credential", "secret"},
	"account":        {"user", "profile", "identity"},

	// Data and formats the structured handlers ingest.
	"json":     {"format", "schema", "structured"},
	"yaml":     {"format", "configuration", "structured"},
	"schema":   {"structure", "format", "definition", "model"},
	"format":   {"structure", "syntax", "layout"},
	"metadata": {"properties", "attributes", "tags"},
	"version":  {"release", "revision", "edition"},
	"license":  {"licensing", "copyright", "terms"},
	"backup":   {"snapshot", "archive", "restore"},
	"archive":  {"backup", "history", "compressed"},
}

// CodeSynonyms covers the source-code content handler: code chunks spell
// concepts as keywords and identifiers, so prose queries against them need
// a cross-language bridge. Kept deliberately smaller than DomainSynonyms —
// it only fires when code vocabulary shows up in the query.
var CodeSynonyms = map[string][]string{
	"function":  {"func", "method", "def"},
	"method":    {"func", "function", "def"},
	"class":     {"type", "struct", "interface"},
	"type":      {"struct", "class", "interface"},
	"interface": {"contract", "protocol", "type"},
	"variable":  {"var", "field", "value"},
	"constant":  {"const", "value"},
	"parameter": {"param", "argument", "arg", "input"},
	"argument":  {"arg", "param", "parameter"},
	"returns":   {"return", "output", "result"},
	"import":    {"include", "require", "dependency"},
	"package":   {"module", "library", "namespace"},
	"module":    {"package", "library"},
	"library":   {"package", "module", "dependency"},
	"test":      {"testing", "spec", "assert"},
	"comment":   {"docstring", "documentation", "annotation"},
}

// GetSynonyms returns the expansion terms for a term, consulting the
// document dictionary first and the code dictionary second. Lookup is
// case-insensitive; the result is nil when neither dictionary knows the
// term.
func GetSynonyms(term string) []string {
	lower := toLower(term)
	if synonyms, ok := DomainSynonyms[lower]; ok {
		return synonyms
	}
	if synonyms, ok := CodeSynonyms[lower]; ok {
		return synonyms
	}
	return nil
}

// toLower is a simple ASCII lowercase helper to avoid importing strings.
func toLower(s string) string {
	b := make([]byte, len(s))
	for i := range s {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		b[i] = c
	}
	return string(b)
}
