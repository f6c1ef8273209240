package context

import (
	"errors"
	"fmt"
	"log/slog"

	"toolchat/internal/domain"
)

var (
	// ErrSystemPromptTooLarge means the system prompt alone exceeds the budget.
	ErrSystemPromptTooLarge = errors.New("context: system prompt exceeds token budget")
	// ErrUserMessageTooLarge means the new user message cannot fit next to the system prompt.
	ErrUserMessageTooLarge = errors.New("context: user message exceeds token budget")
)

// Manager builds prompts of the form system, history..., user and truncates
// history from the oldest end until the prompt fits modelLimit - reserved.
type Manager struct {
	tokenizer  domain.Tokenizer
	modelLimit int
	reserved   int
	logger     *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger used for truncation warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a Manager with the given tokenizer and limits.
// Panics if tokenizer is nil, modelLimit <= 0, or reserved < 0.
func NewManager(tokenizer domain.Tokenizer, modelLimit, reserved int, opts ...Option) *Manager {
	if tokenizer == nil {
		panic("context: tokenizer must not be nil")
	}
	if modelLimit <= 0 {
		panic("context: modelLimit must be > 0")
	}
	if reserved < 0 {
		panic("context: reserved must be >= 0")
	}
	m := &Manager{tokenizer: tokenizer, modelLimit: modelLimit, reserved: reserved}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Manager) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return slog.Default()
}

// Budget is the number of tokens available to the prompt.
func (m *Manager) Budget() int {
	return m.modelLimit - m.reserved
}

// Build assembles system, history and user into one ordered prompt. Blank
// history entries are dropped; an empty system prompt is omitted.
func (m *Manager) Build(systemPrompt string, history []domain.ChatMessage, userMessage string) []domain.ChatMessage {
	msgs := make([]domain.ChatMessage, 0, len(history)+2)
	if systemPrompt != "" {
		msgs = append(msgs, domain.ChatMessage{Role: domain.RoleSystem, Content: systemPrompt})
	}
	for _, h := range nonBlank(history) {
		if h.Role == domain.RoleSystem {
			continue
		}
		msgs = append(msgs, h)
	}
	msgs = append(msgs, domain.ChatMessage{Role: domain.RoleUser, Content: userMessage})
	return msgs
}

// Prepare builds the prompt and truncates history if it does not fit. The
// system prompt and the new user message are never dropped; if they cannot
// fit together an error is returned instead of a prompt missing either.
func (m *Manager) Prepare(systemPrompt string, history []domain.ChatMessage, userMessage string) ([]domain.ChatMessage, error) {
	msgs := m.Build(systemPrompt, history, userMessage)
	costs, total, err := m.costs(msgs)
	if err != nil {
		return nil, err
	}
	budget := m.Budget()
	if total <= budget {
		return msgs, nil
	}
	if systemPrompt != "" && costs[0] > budget {
		return nil, fmt.Errorf("%w: %d > %d", ErrSystemPromptTooLarge, costs[0], budget)
	}

	kept, dropped := truncate(msgs, costs, budget)
	if len(kept) == 0 || kept[len(kept)-1].Role != domain.RoleUser || (len(kept) == 1 && systemPrompt != "") {
		return nil, fmt.Errorf("%w: budget %d", ErrUserMessageTooLarge, budget)
	}
	m.log().Warn("context too large, truncated conversation history",
		"dropped", dropped, "kept", len(kept), "budget", budget)
	return kept, nil
}

// Count returns the total token cost of msgs under this manager's tokenizer.
func (m *Manager) Count(msgs []domain.ChatMessage) (int, error) {
	_, total, err := m.costs(msgs)
	return total, err
}

func (m *Manager) costs(msgs []domain.ChatMessage) ([]int, int, error) {
	costs := make([]int, len(msgs))
	total := 0
	for i, msg := range msgs {
		n, err := m.tokenizer.CountTokens(msg.Content)
		if err != nil {
			return nil, 0, fmt.Errorf("context: counting tokens for message %d: %w", i, err)
		}
		costs[i] = n + MessageOverhead
		total += costs[i]
	}
	return costs, total, nil
}
