package token

import (
	"reflect"
	"strings"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"Restart the Server", []string{"restart", "the", "server"}},
		{"disk-usage: 95%", []string{"disk", "usage", "95"}},
		{"", []string{}},
		{"...", []string{}},
	}
	for _, tt := range tests {
		got := Split(tt.text)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Split(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestTerms(t *testing.T) {
	tests := []struct {
		text string
		want []string
	}{
		{"the servers are restarting", []string{"server", "restart"}},
		{"a I x", []string{}},
		{"Backup backup BACKUP", []string{"backup", "backup", "backup"}},
	}
	for _, tt := range tests {
		got := Terms(tt.text)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Terms(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		word string
		want string
	}{
		{"Servers", "server"},
		{"the", ""},
		{"x", ""},
		{"  running,  ", "runn"},
		{"backup", "backup"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.word); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.word, got, tt.want)
		}
	}
}

// Query terms and corpus terms must stem identically or lexical matching
// silently breaks.
func TestNormalizeAgreesWithTerms(t *testing.T) {
	words := []string{"restarting", "databases", "configuration", "failures", "indexing"}
	for _, w := range words {
		fromTerms := Terms(w)
		if len(fromTerms) != 1 {
			t.Fatalf("Terms(%q) = %v, want a single term", w, fromTerms)
		}
		if got := Normalize(w); got != fromTerms[0] {
			t.Errorf("Normalize(%q) = %q, Terms gave %q", w, got, fromTerms[0])
		}
	}
}

func TestFrequencies(t *testing.T) {
	freqs, total := Frequencies("backup backup restore")
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if freqs["backup"] != 2 {
		t.Errorf("freqs[backup] = %d, want 2", freqs["backup"])
	}
	if freqs["restore"] != 1 {
		t.Errorf("freqs[restore] = %d, want 1", freqs["restore"])
	}
}

func TestStemKeepsShortWords(t *testing.T) {
	// Stripping "ing" from "ring" would leave too little; the word must
	// survive unchanged rather than vanish.
	if got := Normalize("ring"); got == "" {
		t.Error("Normalize(\"ring\") returned empty term")
	}
}

func BenchmarkTerms(b *testing.B) {
	text := strings.Repeat("the backup agent restarts failing database connections and rebuilds corpus statistics ", 50)
	b.ReportAllocs()
	b.SetBytes(int64(len(text)))
	for i := 0; i < b.N; i++ {
		_ = Terms(text)
	}
}
