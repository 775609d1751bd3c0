package answer

import (
	"context"
	"strings"
)

const maxExtractLength = 800

// ExtractiveGenerator answers without a language model by returning the
// leading passage of the assembled context. It is fully deterministic and
// serves as the generation path when no API key is configured.
type ExtractiveGenerator struct{}

// NewExtractive creates an ExtractiveGenerator.
func NewExtractive() *ExtractiveGenerator {
	return &ExtractiveGenerator{}
}

func (g *ExtractiveGenerator) Name() string { return "extractive" }

// Generate returns the first passage of the context, cut at a sentence end
// once maxExtractLength is exceeded.
func (g *ExtractiveGenerator) Generate(_ context.Context, _ string, contextText string) (string, error) {
	text := strings.TrimSpace(contextText)
	if text == "" {
		return "No relevant documentation was found for this query.", nil
	}
	if first, _, found := strings.Cut(text, "\n\n"); found {
		text = first
	}
	if len(text) <= maxExtractLength {
		return text, nil
	}
	cut := text[:maxExtractLength]
	for i := len(cut) - 1; i > 0; i-- {
		if (cut[i] == '.' || cut[i] == '!' || cut[i] == '?') && i+1 < len(cut) {
			return cut[:i+1], nil
		}
	}
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		return cut[:idx], nil
	}
	return cut, nil
}
