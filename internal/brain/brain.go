package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	ctxmgr "toolchat/internal/context"
	"toolchat/internal/domain"
)

// Option is a functional option for configuring Brain.
type Option func(*Brain)

// WithContextManager sets the context manager used to fit prompts into the
// model's token budget. If cm is nil it is ignored and prompts are sent whole.
func WithContextManager(cm *ctxmgr.Manager) Option {
	return func(b *Brain) {
		if cm != nil {
			b.contextMgr = cm
		}
	}
}

// WithLogger sets a structured logger for the Brain. If l is nil it is ignored
// and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(b *Brain) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithFallbacks adds fallback LLM providers that are tried in order if the
// primary provider fails. Nil entries are silently skipped.
func WithFallbacks(providers ...domain.LLMProvider) Option {
	return func(b *Brain) {
		for _, p := range providers {
			if p != nil {
				b.fallbacks = append(b.fallbacks, p)
			}
		}
	}
}

// WithModel sets the model used when a request does not name one.
func WithModel(model string) Option {
	return func(b *Brain) { b.model = model }
}

// Request is one completion to send to the model.
type Request struct {
	SystemPrompt string
	History      []domain.ChatMessage
	UserMessage  string
	Temperature  float64
	MaxTokens    int
	JSONMode     bool
	Model        string // optional; falls back to the Brain's model, then the provider's own
}

// Brain holds an LLM provider and exposes Send to application logic.
// Callers are unaware of the underlying implementation (OpenAI, Anthropic, local).
type Brain struct {
	provider   domain.LLMProvider
	fallbacks  []domain.LLMProvider // optional; tried in order when provider fails
	contextMgr *ctxmgr.Manager      // optional; nil means no context window management
	model      string
	logger     *slog.Logger // optional; nil uses slog.Default()
}

// NewBrain returns a Brain that uses the given provider. Provider must not be nil.
func NewBrain(provider domain.LLMProvider, opts ...Option) *Brain {
	if provider == nil {
		panic("brain: provider must not be nil")
	}
	b := &Brain{provider: provider}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Send fits the request into the token budget and calls the provider, falling
// back to the configured fallbacks in order. The raw model text is returned.
func (b *Brain) Send(ctx context.Context, req Request) (string, error) {
	msgs, err := b.messages(req)
	if err != nil {
		return "", err
	}
	model := req.Model
	if model == "" {
		model = b.model
	}
	creq := domain.CompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		JSONMode:    req.JSONMode,
	}
	return b.generateWithFailover(ctx, creq)
}

// Generate sends a single user prompt with no system prompt or history.
func (b *Brain) Generate(ctx context.Context, prompt string) (string, error) {
	return b.Send(ctx, Request{UserMessage: prompt})
}

func (b *Brain) messages(req Request) ([]domain.ChatMessage, error) {
	if b.contextMgr == nil {
		msgs := make([]domain.ChatMessage, 0, len(req.History)+2)
		if req.SystemPrompt != "" {
			msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: req.SystemPrompt})
		}
		for _, h := range req.History {
			if h.Content == "" || h.Role == domain.RoleSystem {
				continue
			}
			msgs = append(msgs, h)
		}
		return append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: req.UserMessage}), nil
	}
	msgs, err := b.contextMgr.Prepare(req.SystemPrompt, req.History, req.UserMessage)
	if err != nil {
		return nil, fmt.Errorf("brain: context fitting failed: %w", err)
	}
	return msgs, nil
}

// log returns the Brain's logger, falling back to the default slog logger.
func (b *Brain) log() *slog.Logger {
	if b.logger != nil {
		return b.logger
	}
	return slog.Default()
}

// generateWithFailover tries the primary provider, then each fallback in order.
// Returns the first successful response, or an aggregated error if all fail.
func (b *Brain) generateWithFailover(ctx context.Context, req domain.CompletionRequest) (string, error) {
	result, err := b.provider.Complete(ctx, req)
	if err == nil {
		return result, nil
	}

	if len(b.fallbacks) == 0 {
		return "", err
	}

	errs := []error{err}
	for i, fb := range b.fallbacks {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		b.log().Warn("provider failed, trying fallback",
			"provider_index", i,
			"error", err,
		)

		result, fbErr := fb.Complete(ctx, req)
		if fbErr == nil {
			return result, nil
		}
		errs = append(errs, fbErr)
		err = fbErr
	}

	return "", fmt.Errorf("brain: all %d providers failed: %w", len(errs), errors.Join(errs...))
}
