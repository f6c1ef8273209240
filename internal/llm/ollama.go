package llm

import (
	"context"
	"errors"

	"toolchat/internal/domain"
)

const ollamaAPIBase = "http://localhost:11434/api"

// OllamaProvider calls a local Ollama server's chat API. No key is needed.
type OllamaProvider struct {
	endpoint
	model   string
	baseURL string
}

// NewOllamaProvider returns an Ollama-backed LLMProvider.
func NewOllamaProvider(model string) *OllamaProvider {
	return &OllamaProvider{endpoint: newEndpoint("ollama"), model: model, baseURL: ollamaAPIBase}
}

// WithBaseURL overrides the Ollama API root (default http://localhost:11434/api).
func (p *OllamaProvider) WithBaseURL(url string) *OllamaProvider {
	if url != "" {
		p.baseURL = url
	}
	return p
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []chatTurn    `json:"messages"`
	Stream   bool          `json:"stream"`
	Format   string        `json:"format,omitempty"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaResponse struct {
	Message chatTurn `json:"message"`
}

// Complete implements domain.LLMProvider. Responses are requested
// unstreamed; JSON mode sets format=json.
func (p *OllamaProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	body := ollamaRequest{
		Model:    modelFor(req, p.model),
		Messages: chatTurns(req.Messages),
		Options:  ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxTokens},
	}
	if req.JSONMode {
		body.Format = "json"
	}
	var out ollamaResponse
	if err := p.post(ctx, p.baseURL+"/chat", nil, body, &out); err != nil {
		return "", err
	}
	if out.Message.Content == "" {
		return "", errors.New("ollama: empty response")
	}
	return out.Message.Content, nil
}

var _ domain.LLMProvider = (*OllamaProvider)(nil)
