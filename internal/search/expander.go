package search

import (
	"strings"
	"unicode"
)

// QueryExpander expands search queries with rule-based synonym mappings,
// closing the vocabulary gap between how people phrase a query and how
// documents spell the same concept.
//
// Example:
//
//	Input:  "install guide"
//	Output: "install guide installation setup download tutorial walkthrough introduction"
//
// The default dictionaries are domain-classified: general documentation
// vocabulary first, source-code vocabulary second (see synonyms.go).
type QueryExpander struct {
	custom        map[string][]string
	maxExpansions int  // max synonyms taken per term
	includeCasing bool // also emit Title/UPPER variants for identifiers
}

// QueryExpanderOption configures the query expander.
type QueryExpanderOption func(*QueryExpander)

// WithMaxExpansions sets the maximum synonyms taken per term.
func WithMaxExpansions(n int) QueryExpanderOption {
	return func(e *QueryExpander) {
		e.maxExpansions = n
	}
}

// WithCasingVariants enables casing-variant expansion. Off by default:
// both lexical backends lowercase at tokenization time, so variants only
// help case-sensitive stores.
func WithCasingVariants(enabled bool) QueryExpanderOption {
	return func(e *QueryExpander) {
		e.includeCasing = enabled
	}
}

// WithCustomSynonyms layers extra synonym mappings over the built-in
// dictionaries. Custom entries win on conflict.
func WithCustomSynonyms(synonyms map[string][]string) QueryExpanderOption {
	return func(e *QueryExpander) {
		for k, v := range synonyms {
			e.custom[strings.ToLower(k)] = v
		}
	}
}

// NewQueryExpander creates a query expander over the built-in document and
// code dictionaries.
func NewQueryExpander(opts ...QueryExpanderOption) *QueryExpander {
	e := &QueryExpander{
		custom:        make(map[string][]string),
		maxExpansions: 3,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Expand returns the query with expansion terms appended, suitable for the
// lexical side (expansions join as OR-terms) and for enriching the text the
// vector side embeds. Original terms always come first; duplicates are
// dropped case-insensitively, except casing variants, which are only
// dropped when exactly equal.
func (e *QueryExpander) Expand(query string) string {
	terms := tokenize(query)
	if len(terms) == 0 {
		return query
	}

	seen := make(map[string]bool, len(terms)*2)
	expanded := make([]string, 0, len(terms)*2)
	emit := func(term string) bool {
		key := strings.ToLower(term)
		if seen[key] {
			return false
		}
		seen[key] = true
		expanded = append(expanded, term)
		return true
	}

	for _, term := range terms {
		emit(term)
	}

	for _, term := range terms {
		taken := 0
		for _, syn := range e.lookup(strings.ToLower(term)) {
			if taken >= e.maxExpansions {
				break
			}
			if emit(syn) {
				taken++
			}
		}
	}

	if e.includeCasing {
		// Variants differ from their term only in case, so they are
		// deduplicated exactly rather than case-insensitively.
		exact := make(map[string]bool, len(expanded))
		for _, t := range expanded {
			exact[t] = true
		}
		for _, term := range terms {
			for _, v := range casingVariants(term) {
				if !exact[v] {
					exact[v] = true
					expanded = append(expanded, v)
				}
			}
		}
	}

	return strings.Join(expanded, " ")
}

// ExpandToTerms returns the expanded query as a term slice, the form the
// enhancement step and multi-query search consume.
func (e *QueryExpander) ExpandToTerms(query string) []string {
	return tokenize(e.Expand(query))
}

// lookup resolves a lowercased term: custom mappings first, then the
// built-in dictionaries.
func (e *QueryExpander) lookup(term string) []string {
	if syns, ok := e.custom[term]; ok {
		return syns
	}
	return GetSynonyms(term)
}

// tokenize splits a query into terms on whitespace and punctuation, then
// splits camelCase and snake_case within each token so identifier-shaped
// queries still meet prose vocabulary.
func tokenize(query string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, splitCamelSnake(current.String())...)
			current.Reset()
		}
	}

	for _, r := range query {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()

	return tokens
}

// splitCamelSnake splits a token on camelCase and snake_case boundaries:
// "searchPipeline" → ["search", "Pipeline"], "doc_registry" → ["doc",
// "registry"]. Plain words pass through untouched.
func splitCamelSnake(token string) []string {
	if strings.Contains(token, "_") {
		var parts []string
		for _, p := range strings.Split(token, "_") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		return parts
	}

	var parts []string
	var current strings.Builder
	for i, r := range token {
		if i > 0 && unicode.IsUpper(r) && current.Len() > 0 {
			parts = append(parts, current.String())
			current.Reset()
		}
		current.WriteRune(r)
	}
	if current.Len() > 0 {
		parts = append(parts, current.String())
	}
	return parts
}

// casingVariants emits the Title form, plus the UPPER form for short terms
// that read as abbreviations. Only used when WithCasingVariants is on.
func casingVariants(term string) []string {
	if term == "" {
		return nil
	}

	lower := strings.ToLower(term)
	var variants []string
	if term != lower {
		variants = append(variants, lower)
	}
	if title := strings.ToUpper(lower[:1]) + lower[1:]; title != term {
		variants = append(variants, title)
	}
	if upper := strings.ToUpper(term); upper != term && len(term) <= 4 {
		variants = append(variants, upper)
	}
	return variants
}
