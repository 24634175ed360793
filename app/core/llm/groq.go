package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const groqAPIRoot = "https://api.groq.com/openai/v1"

// GroqProvider speaks the OpenAI-compatible Groq endpoint.
type GroqProvider struct {
	client openai.Client
	model  string
}

func NewGroq(apiKey string, model string) *GroqProvider {
	return NewGroqWithRoot(apiKey, model, groqAPIRoot)
}

// NewGroqWithRoot overrides the API root, used by tests.
func NewGroqWithRoot(apiKey string, model string, apiRoot string) *GroqProvider {
	return &GroqProvider{
		client: openai.NewClient(
			option.WithAPIKey(apiKey),
			option.WithBaseURL(apiRoot),
		),
		model: model,
	}
}

func (p *GroqProvider) Name() string { return "groq" }

func (p *GroqProvider) Generate(ctx context.Context, prompt string, jsonMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if jsonMode {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		}
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("groq request failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("groq returned no choices")
	}
	return strings.TrimSpace(completion.Choices[0].Message.Content), nil
}
