package store

import (
	"strings"
	"unicode"
)

// minTokenLength drops one-character fragments, which carry no lexical
// signal but bloat posting lists.
const minTokenLength = 2

// TokenizeCode splits mixed prose-and-identifier text into lowercase
// tokens. Both lexical backends call it with the same rules at index and
// query time, which is what keeps their scoring symmetric: identifiers
// split on camelCase, PascalCase, and snake_case boundaries so
// "ChunkRegistry" and "chunk registry" meet in the same postings.
func TokenizeCode(text string) []string {
	var tokens []string
	var word strings.Builder

	flushWord := func() {
		if word.Len() == 0 {
			return
		}
		for _, part := range SplitCodeToken(word.String()) {
			lower := strings.ToLower(part)
			if len(lower) >= minTokenLength {
				tokens = append(tokens, lower)
			}
		}
		word.Reset()
	}

	for _, r := range text {
		if isTokenRune(r) {
			word.WriteRune(r)
			continue
		}
		flushWord()
	}
	flushWord()

	return tokens
}

func isTokenRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}

// SplitCodeToken splits an identifier on snake_case boundaries first, then
// camelCase within each underscore-separated part.
func SplitCodeToken(token string) []string {
	if !strings.Contains(token, "_") {
		return SplitCamelCase(token)
	}

	var result []string
	for _, part := range strings.Split(token, "_") {
		if part != "" {
			result = append(result, SplitCamelCase(part)...)
		}
	}
	return result
}

// SplitCamelCase splits camelCase and PascalCase identifiers, keeping
// acronym runs intact:
//   - "getUserById"      -> ["get", "User", "By", "Id"]
//   - "HTTPHandler"      -> ["HTTP", "Handler"]
//   - "parseHTTPRequest" -> ["parse", "HTTP", "Request"]
func SplitCamelCase(s string) []string {
	// Empty slice, not nil, for consistent API behavior.
	if s == "" {
		return []string{}
	}

	runes := []rune(s)
	var result []string
	start := 0

	for i := 1; i < len(runes); i++ {
		if !unicode.IsUpper(runes[i]) {
			continue
		}
		// A boundary sits before an uppercase rune when the previous rune
		// is lowercase (camelCase seam), or when the next rune is
		// lowercase (end of an acronym run, as in "HTTPHandler").
		prevIsLower := unicode.IsLower(runes[i-1])
		nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		if (prevIsLower || nextIsLower) && i > start {
			result = append(result, string(runes[start:i]))
			start = i
		}
	}
	result = append(result, string(runes[start:]))

	return result
}

// FilterStopWords removes stop words from a token list. Matching is
// case-insensitive; surviving tokens keep their original form.
func FilterStopWords(tokens []string, stopWords map[string]struct{}) []string {
	result := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStop := stopWords[strings.ToLower(token)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}

// BuildStopWordMap converts a stop-word list into a lowercase lookup set.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, word := range stopWords {
		m[strings.ToLower(word)] = struct{}{}
	}
	return m
}
