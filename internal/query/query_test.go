package query

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	pkgerrors "github.com/onelab-ops/searchpipe/pkg/errors"
)

func TestProcessEmptyQuery(t *testing.T) {
	for _, raw := range []string{"", "   ", "\t\n"} {
		_, err := Process(raw)
		if !errors.Is(err, pkgerrors.ErrEmptyQuery) {
			t.Errorf("Process(%q) error = %v, want ErrEmptyQuery", raw, err)
		}
	}
}

func TestProcessTrimsInput(t *testing.T) {
	q, err := Process("  restart the server  ")
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}
	if q.Raw != "restart the server" {
		t.Errorf("Raw = %q, want trimmed input", q.Raw)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		text string
		want Type
	}{
		{"how to install the backup agent", TypeProcedural},
		{"steps to configure replication", TypeProcedural},
		{"what is a corpus snapshot", TypeDefinitional},
		{"explain the fusion weights", TypeDefinitional},
		{"why is the nightly job failing", TypeTroubleshooting},
		{"database connection timeout", TypeTroubleshooting},
		{"where is the retention policy stored", TypeLocational},
		{"path to the audit directory", TypeLocational},
		{"quarterly report template", TypeGeneral},
		{"", TypeGeneral},
	}
	for _, tt := range tests {
		if got := Classify(tt.text); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

// Troubleshooting outranks procedural when both rule sets match: a query
// about a failing install is a problem report, not a how-to.
func TestClassifyRuleOrder(t *testing.T) {
	if got := Classify("install fails with a timeout"); got != TypeTroubleshooting {
		t.Errorf("Classify = %v, want troubleshooting to win over procedural", got)
	}
}

func TestExpand(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		wantChange bool
	}{
		{"quoted double", `"disk error on node 3"`, false},
		{"quoted single", `'restore from backup'`, false},
		{"over eight words", "how do i restore the nightly backup when the agent is offline", false},
		{"technical jira code", "ORA-00600 during restore", false},
		{"technical hex", "crash at 0x7fff3a", false},
		{"technical version", "upgrade from 2.4.1", false},
		{"technical error number", "error 1045 on login", false},
		{"two words expands", "install agent", true},
		{"mid-length expands", "how to restart the backup server", true},
		{"no table terms", "quarterly revenue summary", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Expand(tt.text)
			if changed := got != tt.text; changed != tt.wantChange {
				t.Errorf("Expand(%q) = %q, changed=%v, want changed=%v", tt.text, got, changed, tt.wantChange)
			}
			if !strings.HasPrefix(got, tt.text) {
				t.Errorf("Expand(%q) = %q, must keep original text as prefix", tt.text, got)
			}
		})
	}
}

func TestExpandAppendsSynonymsOnce(t *testing.T) {
	got := Expand("install setup")
	// install → setup, configure; setup → install, configure. Terms already
	// present and already-added synonyms must not repeat.
	words := strings.Fields(got)
	seen := map[string]int{}
	for _, w := range words {
		seen[strings.ToLower(w)]++
	}
	for w, n := range seen {
		if n > 1 {
			t.Errorf("Expand produced duplicate term %q (%d times) in %q", w, n, got)
		}
	}
	if seen["configure"] != 1 {
		t.Errorf("Expand(%q) = %q, want configure appended", "install setup", got)
	}
}

func TestExpandDeterministic(t *testing.T) {
	const text = "fix backup error"
	first := Expand(text)
	for i := 0; i < 10; i++ {
		if got := Expand(text); got != first {
			t.Fatalf("Expand not deterministic: %q vs %q", got, first)
		}
	}
}

func TestKeyTerms(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"How do I restart the server?", []string{"restart", "server"}},
		{"the the server server", []string{"server"}},
		{"server down server", []string{"server", "down", "server"}},
		{"", []string{}},
		{"the a of", []string{}},
		{"Disk-usage on /var/log", []string{"disk", "usage", "var", "log"}},
	}
	for _, tt := range tests {
		got := KeyTerms(tt.text)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("KeyTerms(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
