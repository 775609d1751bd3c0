package query

import "strings"

// classifyRule maps a set of trigger phrases to a query type. Rules are
// evaluated in order and the first match wins.
type classifyRule struct {
	qtype    Type
	prefixes []string
	contains []string
}

var classifyRules = []classifyRule{
	{
		qtype:    TypeTroubleshooting,
		prefixes: []string{"why is", "why does", "why won't"},
		contains: []string{
			"error", "fail", "failed", "failing", "broken", "not working",
			"crash", "cannot", "can't", "troubleshoot", "fix", "debug",
			"timeout", "unreachable",
		},
	},
	{
		qtype:    TypeProcedural,
		prefixes: []string{"how to", "how do", "how can", "steps to"},
		contains: []string{
			"install", "setup", "set up", "configure", "deploy",
			"upgrade", "migrate", "enable", "disable", "create", "restart",
		},
	},
	{
		qtype:    TypeDefinitional,
		prefixes: []string{"what is", "what are", "define"},
		contains: []string{"definition", "meaning", "explain", "overview", "difference between"},
	},
	{
		qtype:    TypeLocational,
		prefixes: []string{"where is", "where are", "where can"},
		contains: []string{"location", "located", "directory", "path to", "find the"},
	},
}

// Classify maps query text to one of the fixed intent types. The rule set
// is ordered; unmatched queries are general.
func Classify(text string) Type {
	lower := strings.ToLower(text)
	for _, rule := range classifyRules {
		for _, p := range rule.prefixes {
			if strings.HasPrefix(lower, p) {
				return rule.qtype
			}
		}
		for _, c := range rule.contains {
			if strings.Contains(lower, c) {
				return rule.qtype
			}
		}
	}
	return TypeGeneral
}
