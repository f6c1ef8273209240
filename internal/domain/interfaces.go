package domain

import "context"

// LLMProvider sends one completion request to a model backend. The reply is
// the raw assistant text; JSON mode only asks the backend for JSON.
type LLMProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// SessionHistoryStore is the append-only transcript of one chat session.
type SessionHistoryStore interface {
	// Append records msg at the end of the transcript.
	Append(msg Message) error

	// LoadHistory returns the last n messages, oldest first. A missing
	// transcript or n <= 0 yields an empty slice.
	LoadHistory(n int) ([]Message, error)
}

// Tokenizer estimates how many model tokens a text costs.
type Tokenizer interface {
	CountTokens(text string) (int, error)
}
