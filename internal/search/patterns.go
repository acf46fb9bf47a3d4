package search

import (
	"context"
	"regexp"
	"strings"
)

// lexicalRule marks a query shape that wants exact matching over semantic
// similarity. The rules fire on the whole query, most specific first.
type lexicalRule struct {
	name    string
	pattern *regexp.Regexp
	// wholeQueryOnly restricts the rule to single-token queries, so an
	// identifier inside a sentence does not drag the sentence lexical.
	wholeQueryOnly bool
}

var lexicalRules = []lexicalRule{
	// "exact phrase" or 'exact phrase'
	{name: "quoted", pattern: regexp.MustCompile(`^["'].*["']$`)},
	// Error codes: ERR_*, E0001, HTTP500-style, SomethingException
	{name: "error_code", pattern: regexp.MustCompile(`(?i)^(ERR_\w+|E\d{4,5}|[A-Z]{2,}\d{3,}|\w+Exception)$`)},
	// File paths with a known document or source extension
	{name: "file_path", pattern: regexp.MustCompile(`(?i)^[\w\-\./\\]+\.(md|markdown|mdx|txt|rst|json|yaml|yml|toml|html|htm|go|ts|tsx|js|jsx|py|css|sh)$`)},
	// Identifier casings only count when they are the entire query.
	{name: "camel_case", pattern: regexp.MustCompile(`^[a-z]+([A-Z][a-z0-9]*)+$`), wholeQueryOnly: true},
	{name: "pascal_case", pattern: regexp.MustCompile(`^([A-Z][a-z0-9]*){2,}$`), wholeQueryOnly: true},
	{name: "snake_case", pattern: regexp.MustCompile(`^[a-z]+(_[a-z0-9]+)+$`), wholeQueryOnly: true},
	{name: "screaming_snake", pattern: regexp.MustCompile(`^[A-Z]+(_[A-Z0-9]+)+$`), wholeQueryOnly: true},
}

// questionLeadPattern marks natural-language prose: questions and
// imperative documentation asks ("explain ...", "show ...").
var questionLeadPattern = regexp.MustCompile(`(?i)^(how|what|where|why|when|which|can|does|is|are|should|explain|describe|show|find|list)\s`)

// semanticWordThreshold is the word count at which unclassified prose
// defaults to semantic rather than mixed retrieval.
const semanticWordThreshold = 3

// PatternClassifier classifies queries by shape alone: error codes,
// quoted phrases, file paths, and identifier casings read as lexical;
// question-formed prose reads as semantic. It needs no external model and
// always answers, which is why the pipeline's short-circuit step trusts it.
type PatternClassifier struct{}

// NewPatternClassifier creates a new pattern-based classifier.
func NewPatternClassifier() *PatternClassifier {
	return &PatternClassifier{}
}

// Classify determines the query type and its retrieval weights. It never
// returns an error; an unclassifiable query is Mixed by definition.
func (p *PatternClassifier) Classify(_ context.Context, query string) (QueryType, Weights, error) {
	qt := classifyShape(strings.TrimSpace(query))
	return qt, WeightsForQueryType(qt), nil
}

func classifyShape(query string) QueryType {
	if query == "" {
		return QueryTypeMixed
	}

	singleToken := !strings.ContainsAny(query, " \t")
	for _, rule := range lexicalRules {
		if rule.wholeQueryOnly && !singleToken {
			continue
		}
		if rule.pattern.MatchString(query) {
			return QueryTypeLexical
		}
	}

	if questionLeadPattern.MatchString(query) {
		return QueryTypeSemantic
	}
	if len(strings.Fields(query)) >= semanticWordThreshold {
		return QueryTypeSemantic
	}
	return QueryTypeMixed
}

// Ensure PatternClassifier implements Classifier.
var _ Classifier = (*PatternClassifier)(nil)
