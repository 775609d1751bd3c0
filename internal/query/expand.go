package query

import (
	"regexp"
	"strings"
)

// synonyms is the domain synonym table for IT-operations queries. Only
// terms present here are ever expanded; unknown terms pass through
// untouched.
var synonyms = map[string][]string{
	"install":   {"setup", "configure"},
	"setup":     {"install", "configure"},
	"configure": {"setup", "settings"},
	"error":     {"failure", "fault"},
	"fix":       {"repair", "resolve"},
	"delete":    {"remove", "purge"},
	"backup":    {"snapshot", "archive"},
	"restore":   {"recover", "rollback"},
	"monitor":   {"observe", "watch"},
	"restart":   {"reboot", "relaunch"},
	"upgrade":   {"update", "migrate"},
	"server":    {"host", "machine"},
	"login":     {"signin", "authenticate"},
	"password":  {"credential", "passphrase"},
	"network":   {"connectivity", "lan"},
	"disk":      {"storage", "volume"},
	"slow":      {"latency", "sluggish"},
	"log":       {"logs", "audit"},
}

// technicalPatterns match queries that name error codes, product codes, or
// versions. Such queries are already precise and are never expanded.
var technicalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b[A-Za-z]+-\d+\b`),      // JIRA-1234, ORA-00600
	regexp.MustCompile(`\b0x[0-9A-Fa-f]+\b`),     // hex fault codes
	regexp.MustCompile(`\b[A-Z]{2,}\d{2,}\b`),    // HTTP500, ERR404
	regexp.MustCompile(`\b\d+\.\d+(\.\d+)?\b`),   // version numbers
	regexp.MustCompile(`\berr(or)?[ _:]?\d+\b`),  // error 1045
}

const maxWordsForExpansion = 8

// Expand applies the expansion decision table in order and returns the
// expanded query text. When no rule applies, or the query is quoted,
// long, or technical, the original text is returned unchanged.
func Expand(text string) string {
	if isQuoted(text) {
		return text
	}
	words := strings.Fields(text)
	if len(words) > maxWordsForExpansion {
		return text
	}
	if isTechnical(text) {
		return text
	}

	// Short queries (<3 words) and mid-length queries share the same
	// mechanics: append table synonyms for each known term. The decision
	// table separates them because short queries are the ones that truly
	// need recall help.
	added := make([]string, 0, 4)
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		seen[strings.ToLower(w)] = struct{}{}
	}
	for _, w := range words {
		for _, syn := range synonyms[strings.ToLower(w)] {
			if _, dup := seen[syn]; dup {
				continue
			}
			seen[syn] = struct{}{}
			added = append(added, syn)
		}
	}
	if len(added) == 0 {
		return text
	}
	return text + " " + strings.Join(added, " ")
}

// Expanded reports whether Expand would change the query.
func Expanded(text string) bool {
	return Expand(text) != text
}

func isQuoted(text string) bool {
	if len(text) < 2 {
		return false
	}
	first, last := text[0], text[len(text)-1]
	return (first == '"' && last == '"') || (first == '\'' && last == '\'')
}

func isTechnical(text string) bool {
	for _, p := range technicalPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
