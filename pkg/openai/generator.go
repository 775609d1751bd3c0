package openai

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/onelab-ops/searchpipe/pkg/config"
)

const systemPrompt = "You answer questions using only the provided documentation excerpts. " +
	"If the excerpts do not contain the answer, say so. Be concise and cite nothing outside the excerpts."

// Generator produces answer text from assembled context via the chat
// completions API.
type Generator struct {
	client    openai.Client
	model     string
	maxTokens int
}

// NewGenerator creates a Generator for the configured model.
func NewGenerator(apiKey string, cfg config.GenerationConfig) (*Generator, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}
	return &Generator{
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (g *Generator) Name() string { return "openai:" + g.model }

// Generate asks the model to answer the query from the context window.
func (g *Generator) Generate(ctx context.Context, queryText, contextText string) (string, error) {
	prompt := fmt.Sprintf("Documentation excerpts:\n\n%s\n\nQuestion: %s", contextText, queryText)
	if contextText == "" {
		prompt = fmt.Sprintf("No documentation excerpts were found.\n\nQuestion: %s", queryText)
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(0),
	}
	if g.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(g.maxTokens))
	}

	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("generating answer: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("completion response contained no choices")
	}
	return completion.Choices[0].Message.Content, nil
}
