package answer

import (
	"context"
	"strings"
	"testing"
)

func TestExtractiveEmptyContext(t *testing.T) {
	g := NewExtractive()
	got, err := g.Generate(context.Background(), "any query", "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got == "" {
		t.Error("empty answer for empty context")
	}
}

func TestExtractiveReturnsLeadingPassage(t *testing.T) {
	g := NewExtractive()
	contextText := "First passage about backups.\n\nSecond passage about networks."
	got, err := g.Generate(context.Background(), "backups", contextText)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "First passage about backups." {
		t.Errorf("Generate = %q, want first passage", got)
	}
}

func TestExtractiveCutsLongPassageAtSentence(t *testing.T) {
	g := NewExtractive()
	long := strings.Repeat("A complete sentence lives here. ", 60)
	got, err := g.Generate(context.Background(), "q", long)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(got) > maxExtractLength {
		t.Errorf("answer length %d exceeds cap", len(got))
	}
	if !strings.HasSuffix(got, ".") {
		t.Errorf("answer %q not cut at a sentence boundary", got[len(got)-20:])
	}
}

func TestExtractiveDeterministic(t *testing.T) {
	g := NewExtractive()
	contextText := "Stable passage one.\n\nStable passage two."
	first, _ := g.Generate(context.Background(), "q", contextText)
	for i := 0; i < 5; i++ {
		got, _ := g.Generate(context.Background(), "q", contextText)
		if got != first {
			t.Fatalf("non-deterministic output: %q vs %q", got, first)
		}
	}
}
