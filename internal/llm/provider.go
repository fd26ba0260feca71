package llm

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Kind identifies which analysis a prompt belongs to.
type Kind string

const (
	KindClassify   Kind = "flow_classification"
	KindCompliance Kind = "flow_compliance"
	KindQuality    Kind = "quality_score"
	KindSummary    Kind = "summary"
	KindFillers    Kind = "filler_analysis"
)

type Prompt struct {
	Kind   Kind
	System string
	User   string
}

type Provider interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	Client    *openai.Client
	Model     string
	MaxTokens int
}

func NewOpenAIProvider(apiKey, baseURL, model string, maxTokens int) *OpenAIProvider {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4TurboPreview
	}
	if maxTokens <= 0 {
		maxTokens = 2000
	}
	return &OpenAIProvider{Client: openai.NewClientWithConfig(config), Model: model, MaxTokens: maxTokens}
}

func (p *OpenAIProvider) Complete(ctx context.Context, prompt Prompt) (string, error) {
	resp, err := p.Client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     p.Model,
		MaxTokens: p.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt.System},
			{Role: openai.ChatMessageRoleUser, Content: prompt.User},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s completion: %w", prompt.Kind, err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New(string(prompt.Kind) + " completion: empty choices")
	}
	return resp.Choices[0].Message.Content, nil
}
