package llm

import (
	"context"
	"encoding/json"

	"toolchat/internal/domain"
)

// Responder produces a canned completion for the local provider.
type Responder func(req domain.CompletionRequest) (string, error)

// LocalProvider is a model-agnostic stub that returns a deterministic response
// for manual testing without API keys. It implements domain.LLMProvider.
type LocalProvider struct {
	Prefix    string    // prepended to the echoed user message
	Responder Responder // when set, replaces the echo behaviour
}

// NewLocalProvider returns a local provider that echoes the last user message with an optional prefix.
func NewLocalProvider(prefix string) *LocalProvider {
	return &LocalProvider{Prefix: prefix}
}

// Complete implements domain.LLMProvider. In JSON mode the echo is wrapped in
// a text chat response so callers that parse JSON still get a valid reply.
func (p *LocalProvider) Complete(ctx context.Context, req domain.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.Responder != nil {
		return p.Responder(req)
	}
	text := p.Prefix + lastUserMessage(req.Messages)
	if !req.JSONMode {
		return text, nil
	}
	raw, err := json.Marshal(map[string]any{"type": "text", "content": text})
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func lastUserMessage(msgs []domain.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == domain.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}

// Ensure LocalProvider implements domain.LLMProvider at compile time.
var _ domain.LLMProvider = (*LocalProvider)(nil)
