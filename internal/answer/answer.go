// Package answer turns an assembled context window into response text.
// The Generator interface is satisfied by the OpenAI-backed implementation
// in production and by the extractive generator when no model is available.
package answer

import "context"

// Generator produces the response text for a query from assembled context.
type Generator interface {
	// Generate returns the answer text. The context text may be empty when
	// retrieval found nothing relevant; implementations must still return a
	// sensible response.
	Generate(ctx context.Context, queryText, contextText string) (string, error)
	Name() string
}
