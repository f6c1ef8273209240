package llm

import (
	"context"
	"strings"

	"toolchat/internal/domain"
)

const anthropicAPIBase = "https://api.anthropic.com/v1/messages"

const anthropicVersion = "2023-06-01"

// defaultAnthropicMaxTokens is used when the request leaves MaxTokens unset;
// the Messages API requires the field.
const defaultAnthropicMaxTokens = 1024

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	endpoint
	apiKey  string
	model   string
	baseURL string
}

// NewAnthropicProvider returns an Anthropic-backed LLMProvider.
func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	return &AnthropicProvider{endpoint: newEndpoint("anthropic"), apiKey: apiKey, model: model, baseURL: anthropicAPIBase}
}

type anthropicRequest struct {
	Model       string          `json:"model"`
	System      string          `json:"system,omitempty"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []anthropicTurn `json:"messages"`
}

type anthropicTurn struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicResponse struct {
	Content []anthropicBlock `json:"content"`
}

// Complete implements domain.LLMProvider. The leading system message moves to
// the top-level system field; JSON mode is requested through the system prompt.
func (p *AnthropicProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	body := anthropicRequest{
		Model:       modelFor(req, p.model),
		System:      systemWithJSON(req),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultAnthropicMaxTokens
	}
	for _, m := range req.Conversation() {
		body.Messages = append(body.Messages, anthropicTurn{
			Role:    string(m.Role),
			Content: []anthropicBlock{{Type: "text", Text: m.Content}},
		})
	}
	headers := map[string]string{"x-api-key": p.apiKey, "anthropic-version": anthropicVersion}
	var out anthropicResponse
	if err := p.post(ctx, p.baseURL, headers, body, &out); err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range out.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

var _ domain.LLMProvider = (*AnthropicProvider)(nil)
