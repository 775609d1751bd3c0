// Package token normalises text into index terms for lexical scoring. It
// lower-cases input, splits on non-alphanumeric boundaries, removes
// stop-words, and applies a suffix-based stemmer so that query terms and
// corpus terms land in the same form.
package token

import (
	"strings"
	"unicode"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "does": {}, "not": {}, "no": {}, "so": {}, "can": {},
	"how": {}, "i": {}, "my": {}, "you": {}, "your": {}, "we": {},
}

// IsStopWord reports whether the lower-cased word is in the stop-word set.
func IsStopWord(word string) bool {
	_, ok := stopWords[word]
	return ok
}

// Split breaks text into lower-cased words on non-alphanumeric boundaries.
// Stop-words and stemming are not applied.
func Split(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Terms returns the normalised index terms of text: split, stop-words
// removed, single-character words dropped, stemmed.
func Terms(text string) []string {
	words := Split(text)
	terms := make([]string, 0, len(words))
	for _, word := range words {
		if len(word) < 2 {
			continue
		}
		if IsStopWord(word) {
			continue
		}
		if t := stem(word); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// Normalize maps a single word to its index term, or "" if the word is a
// stop-word or too short to index.
func Normalize(word string) string {
	word = strings.ToLower(strings.TrimFunc(word, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}))
	if len(word) < 2 || IsStopWord(word) {
		return ""
	}
	return stem(word)
}

// Frequencies returns term -> occurrence count for text, plus the total
// number of indexed terms. The total feeds BM25 length normalisation.
func Frequencies(text string) (map[string]int, int) {
	terms := Terms(text)
	freqs := make(map[string]int, len(terms))
	for _, t := range terms {
		freqs[t]++
	}
	return freqs, len(terms)
}

type suffixRule struct {
	suffix      string
	replacement string
	minLen      int
}

var suffixRules = []suffixRule{
	{"ational", "ate", 2},
	{"tional", "tion", 2},
	{"encies", "ence", 2},
	{"ances", "ance", 2},
	{"ments", "ment", 2},
	{"izing", "ize", 2},
	{"ating", "ate", 2},
	{"iness", "y", 2},
	{"ously", "ous", 2},
	{"ively", "ive", 2},
	{"tion", "t", 3},
	{"sion", "s", 3},
	{"ying", "y", 2},
	{"ling", "l", 3},
	{"ies", "y", 2},
	{"ing", "", 3},
	{"ers", "er", 2},
	{"est", "", 3},
	{"ful", "", 3},
	{"ous", "", 3},
	{"ble", "", 3},
	{"ed", "", 3},
	{"er", "", 3},
	{"ly", "", 3},
	{"es", "", 3},
	{"ss", "ss", 2},
	{"s", "", 3},
}

// stem applies the first matching suffix rule, keeping the original word
// when stripping would leave it too short.
func stem(word string) string {
	for _, rule := range suffixRules {
		if strings.HasSuffix(word, rule.suffix) {
			stemmed := word[:len(word)-len(rule.suffix)] + rule.replacement
			if len(stemmed) >= rule.minLen {
				return stemmed
			}
		}
	}
	return word
}
