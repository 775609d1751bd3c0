// Package assemble builds the bounded context window handed to the
// generation model from the top reranked chunks.
package assemble

import (
	"strings"
	"unicode"

	"github.com/onelab-ops/searchpipe/internal/chunk"
	"github.com/onelab-ops/searchpipe/internal/rerank"
)

// Source is the attribution record for one included chunk.
type Source struct {
	SourceID   string  `json:"source_id"`
	Title      string  `json:"title"`
	Snippet    string  `json:"snippet"`
	Similarity float64 `json:"similarity"`
	Composite  float64 `json:"composite"`
	Position   int     `json:"position"`
	Truncated  bool    `json:"truncated,omitempty"`
}

// Context is the assembled window plus per-source citations. Text length
// never exceeds the budget it was built with.
type Context struct {
	Text    string   `json:"text"`
	Sources []Source `json:"sources"`
}

const separator = "\n\n"

// Assemble selects results greedily in rank order under a character
// budget. The first candidate that does not fit whole is truncated at the
// last sentence boundary inside the remaining budget, then assembly stops.
// Whenever results is non-empty and budget positive, at least one
// candidate is included.
func Assemble(results []rerank.Result, chunks map[string]chunk.Chunk, budget int) Context {
	out := Context{Sources: []Source{}}
	if budget <= 0 || len(results) == 0 {
		return out
	}

	var sb strings.Builder
	for _, res := range results {
		c, ok := chunks[res.ChunkID]
		if !ok || c.Text == "" {
			continue
		}
		sep := ""
		if sb.Len() > 0 {
			sep = separator
		}
		remaining := budget - sb.Len() - len(sep)
		if remaining <= 0 {
			break
		}

		text := c.Text
		truncated := false
		if len(text) > remaining {
			text = truncateAtSentence(text, remaining)
			if text == "" && sb.Len() == 0 {
				// Degenerate input with no boundary at all: cut hard
				// rather than return an empty context.
				text = strings.TrimSpace(c.Text[:remaining])
			}
			if text == "" {
				break
			}
			truncated = true
		}

		sb.WriteString(sep)
		sb.WriteString(text)
		out.Sources = append(out.Sources, Source{
			SourceID:   c.DocumentID,
			Title:      c.Title,
			Snippet:    snippet(c.Text, 200),
			Similarity: res.VectorScore,
			Composite:  res.Composite,
			Position:   len(out.Sources) + 1,
			Truncated:  truncated,
		})
		if truncated {
			break
		}
	}
	out.Text = sb.String()
	return out
}

// truncateAtSentence cuts text at the last sentence-ending punctuation at
// or before limit. When no sentence boundary exists it falls back to the
// last word boundary, so a cut never lands mid-word.
func truncateAtSentence(text string, limit int) string {
	if limit >= len(text) {
		return text
	}
	window := text[:limit]
	best := -1
	for i := 0; i < len(window); i++ {
		switch window[i] {
		case '.', '!', '?':
			if i+1 == len(window) || window[i+1] == ' ' || window[i+1] == '\n' {
				best = i + 1
			}
		case '\n':
			best = i
		}
	}
	if best > 0 {
		return strings.TrimSpace(window[:best])
	}
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		return strings.TrimSpace(window[:idx])
	}
	return ""
}

// snippet returns the first maxLen characters of text cut at a word
// boundary, for citation display.
func snippet(text string, maxLen int) string {
	text = strings.TrimSpace(text)
	if len(text) <= maxLen {
		return text
	}
	window := text[:maxLen]
	if idx := strings.LastIndexFunc(window, unicode.IsSpace); idx > 0 {
		window = window[:idx]
	}
	return strings.TrimSpace(window) + "…"
}
