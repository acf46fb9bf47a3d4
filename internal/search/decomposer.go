package search

import (
	"fmt"
	"regexp"
	"strings"
)

// SubQuery is one reformulation of a generic query.
type SubQuery struct {
	// Query is the sub-query text to search.
	Query string

	// Weight is the relative importance of this sub-query in fusion
	// (the original phrasing keeps 1.0).
	Weight float64

	// Hint optionally suggests result filtering: "code", "docs", or ""
	// (any content type).
	Hint string
}

// QueryDecomposer turns one generic query into several specific
// reformulations whose result sets are fused with a consensus boost.
//
// The motivating failure is vocabulary spread across document genres: a
// query like "indexing guide" may be answered by a page titled "Getting
// started with indexing", a section headed "Indexing reference", or a
// tutorial that never uses the word "guide" at all. Each reformulation
// speaks one genre's vocabulary; consensus across them beats any single
// phrasing.
type QueryDecomposer interface {
	// ShouldDecompose reports whether the query benefits from fan-out.
	// Specific queries (identifiers, paths, quoted phrases) never do.
	ShouldDecompose(query string) bool

	// Decompose returns the sub-queries, original phrasing first.
	Decompose(query string) []SubQuery
}

// intentRule recognizes one generic documentation intent and knows how to
// rephrase its topic for each genre that might answer it.
type intentRule struct {
	name    string
	pattern *regexp.Regexp // capture group 1 is the topic
	expand  func(topic string) []SubQuery
}

// PatternDecomposer is the rule-based QueryDecomposer: a fixed set of
// documentation intents (guides, how-it-works, troubleshooting,
// configuration), each with genre-targeted reformulations.
type PatternDecomposer struct {
	rules []intentRule
}

// NewPatternDecomposer creates the rule-based decomposer.
func NewPatternDecomposer() *PatternDecomposer {
	return &PatternDecomposer{rules: []intentRule{
		{
			// "<topic> guide", "<topic> tutorial", "<topic> docs"
			name:    "genre_ask",
			pattern: regexp.MustCompile(`(?i)^(.{2,40}?)\s+(guide|tutorial|docs|documentation|manual)$`),
			expand: func(topic string) []SubQuery {
				return []SubQuery{
					{Query: fmt.Sprintf("getting started with %s", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s tutorial", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s reference", topic), Weight: 0.7, Hint: "docs"},
				}
			},
		},
		{
			// "how does <topic> work", "how do <topic>s work"
			name:    "how_it_works",
			pattern: regexp.MustCompile(`(?i)^how\s+(?:does|do)\s+(.{2,40}?)\s+work\??$`),
			expand: func(topic string) []SubQuery {
				return []SubQuery{
					{Query: fmt.Sprintf("%s overview", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s architecture", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s internals", topic), Weight: 0.7},
				}
			},
		},
		{
			// "how to <action>"
			name:    "how_to",
			pattern: regexp.MustCompile(`(?i)^how\s+to\s+(.{2,40})$`),
			expand: func(topic string) []SubQuery {
				return []SubQuery{
					{Query: fmt.Sprintf("%s step by step", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s example", topic), Weight: 0.8},
					{Query: fmt.Sprintf("%s instructions", topic), Weight: 0.7, Hint: "docs"},
				}
			},
		},
		{
			// "<topic> error", "<topic> problem", "<topic> not working"
			name:    "troubleshooting",
			pattern: regexp.MustCompile(`(?i)^(.{2,40}?)\s+(error|errors|problem|problems|issue|issues|not working|fails|failing)$`),
			expand: func(topic string) []SubQuery {
				return []SubQuery{
					{Query: fmt.Sprintf("troubleshooting %s", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s failure", topic), Weight: 0.8},
					{Query: fmt.Sprintf("fix %s", topic), Weight: 0.7},
				}
			},
		},
		{
			// "configure <topic>", "<topic> configuration"
			name:    "configuration",
			pattern: regexp.MustCompile(`(?i)^(?:configure|configuring)\s+(.{2,40})$|^(.{2,40}?)\s+(?:configuration|settings)$`),
			expand: func(topic string) []SubQuery {
				return []SubQuery{
					{Query: fmt.Sprintf("%s settings", topic), Weight: 0.8, Hint: "docs"},
					{Query: fmt.Sprintf("%s options", topic), Weight: 0.8},
					{Query: fmt.Sprintf("configuring %s", topic), Weight: 0.7, Hint: "docs"},
				}
			},
		},
	}}
}

// ShouldDecompose reports whether the query matches a generic intent. A
// query the classifier reads as lexical (identifier, path, quoted phrase)
// is already specific and never fans out.
func (d *PatternDecomposer) ShouldDecompose(query string) bool {
	query = strings.TrimSpace(query)
	if query == "" || classifyShape(query) == QueryTypeLexical {
		return false
	}
	_, _, ok := d.match(query)
	return ok
}

// Decompose returns the original phrasing plus its genre reformulations.
// A query with no matching intent passes through as itself alone.
func (d *PatternDecomposer) Decompose(query string) []SubQuery {
	query = strings.TrimSpace(query)
	out := []SubQuery{{Query: query, Weight: 1.0}}

	rule, topic, ok := d.match(query)
	if !ok {
		return out
	}

	seen := map[string]struct{}{strings.ToLower(query): {}}
	for _, sq := range rule.expand(topic) {
		key := strings.ToLower(sq.Query)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if sq.Hint == "" && looksLikeIdentifier(topic) {
			sq.Hint = "code"
		}
		out = append(out, sq)
	}
	return out
}

// match finds the first intent rule the query satisfies and extracts its
// topic.
func (d *PatternDecomposer) match(query string) (intentRule, string, bool) {
	for _, rule := range d.rules {
		groups := rule.pattern.FindStringSubmatch(query)
		if groups == nil {
			continue
		}
		for _, topic := range groups[1:] {
			topic = strings.TrimSpace(topic)
			if topic != "" {
				return rule, topic, true
			}
		}
	}
	return intentRule{}, "", false
}

// looksLikeIdentifier reports whether a topic reads as a code symbol, in
// which case its reformulations should favor source chunks.
func looksLikeIdentifier(topic string) bool {
	if strings.ContainsAny(topic, " \t") {
		return false
	}
	return strings.Contains(topic, "_") ||
		strings.ToLower(topic) != topic
}
