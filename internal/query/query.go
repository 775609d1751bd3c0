// Package query turns raw query text into a processed Query record:
// intent classification, conditional synonym expansion, and key-term
// extraction. Everything here is pure and deterministic; the only failure
// is an empty input.
package query

import (
	"strings"
	"unicode"

	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
)

// Type is the classified intent of a query.
type Type string

const (
	TypeProcedural      Type = "procedural"
	TypeDefinitional    Type = "definitional"
	TypeTroubleshooting Type = "troubleshooting"
	TypeLocational      Type = "locational"
	TypeGeneral         Type = "general"
)

// Query is the processed form of one search request.
type Query struct {
	Raw      string
	Type     Type
	Expanded string
	KeyTerms []string
}

// Process validates and analyses raw query text. It returns ErrEmptyQuery
// for empty or whitespace-only input.
func Process(raw string) (Query, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Query{}, pkgerrors.ErrEmptyQuery
	}
	q := Query{
		Raw:      trimmed,
		Type:     Classify(trimmed),
		KeyTerms: KeyTerms(trimmed),
	}
	q.Expanded = Expand(trimmed)
	return q, nil
}

// KeyTerms tokenizes the query, lower-cases it, drops stop-words and
// punctuation, preserves the original order, and removes only adjacent
// duplicates.
func KeyTerms(text string) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if isStopWord(w) {
			continue
		}
		if len(terms) > 0 && terms[len(terms)-1] == w {
			continue
		}
		terms = append(terms, w)
	}
	return terms
}

// Query-side stop-words: a smaller set than the index stemmer uses, so
// that short operational words ("up", "down") survive as key terms.
var queryStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "in": {}, "is": {},
	"it": {}, "of": {}, "on": {}, "or": {}, "that": {}, "the": {},
	"to": {}, "was": {}, "were": {}, "with": {}, "this": {},
	"do": {}, "does": {}, "how": {}, "what": {}, "when": {},
	"where": {}, "which": {}, "who": {}, "i": {}, "my": {}, "can": {},
}

func isStopWord(w string) bool {
	_, ok := queryStopWords[w]
	return ok
}
