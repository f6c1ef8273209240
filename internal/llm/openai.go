package llm

import (
	"context"
	"fmt"

	"toolchat/internal/domain"
)

const openAIAPIBase = "https://api.openai.com/v1/chat/completions"

// OpenAIProvider calls the OpenAI Chat Completions API or any endpoint
// speaking the same protocol.
type OpenAIProvider struct {
	endpoint
	apiKey  string
	model   string
	baseURL string
}

// NewOpenAIProvider returns an OpenAI-backed LLMProvider.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{endpoint: newEndpoint("openai"), apiKey: apiKey, model: model, baseURL: openAIAPIBase}
}

// WithBaseURL points the provider at an OpenAI-compatible endpoint.
func (p *OpenAIProvider) WithBaseURL(url string) *OpenAIProvider {
	if url != "" {
		p.baseURL = url
	}
	return p
}

type chatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func chatTurns(msgs []domain.ChatMessage) []chatTurn {
	out := make([]chatTurn, len(msgs))
	for i, m := range msgs {
		out[i] = chatTurn{Role: string(m.Role), Content: m.Content}
	}
	return out
}

type openAIRequest struct {
	Model          string          `json:"model"`
	Messages       []chatTurn      `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatTurn `json:"message"`
	} `json:"choices"`
}

// Complete implements domain.LLMProvider. JSON mode maps onto the
// json_object response format.
func (p *OpenAIProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	body := openAIRequest{
		Model:       modelFor(req, p.model),
		Messages:    chatTurns(req.Messages),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}
	var out openAIResponse
	if err := p.post(ctx, p.baseURL, map[string]string{"Authorization": "Bearer " + p.apiKey}, body, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: no choices in response", p.name)
	}
	return out.Choices[0].Message.Content, nil
}

var _ domain.LLMProvider = (*OpenAIProvider)(nil)
