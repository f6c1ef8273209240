package context

import (
	"strings"

	"toolchat/internal/domain"
	"toolchat/internal/tokenizer"
)

// MessageOverhead is the fixed per-message cost added for role and framing.
const MessageOverhead = 4

const (
	DefaultModelLimit     = 128000
	DefaultReservedTokens = 2500
	MaxContextMessages    = 20
)

var modelLimits = map[string]int{
	"gpt-4o-mini":   128000,
	"gpt-4o":        128000,
	"gpt-4-turbo":   128000,
	"gpt-4":         8192,
	"gpt-3.5-turbo": 16385,
}

// ModelLimit returns the known context window for model, or fallback when
// the model is not in the table. A non-positive fallback means DefaultModelLimit.
func ModelLimit(model string, fallback int) int {
	if n, ok := modelLimits[model]; ok {
		return n
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultModelLimit
}

// EstimateTokens approximates the token cost of text as ceil(len/4).
func EstimateTokens(text string) int {
	return tokenizer.Estimate(text)
}

// MessageTokens is EstimateTokens(content) plus MessageOverhead.
func MessageTokens(msg domain.ChatMessage) int {
	return EstimateTokens(msg.Content) + MessageOverhead
}

// TotalTokens sums MessageTokens over msgs.
func TotalTokens(msgs []domain.ChatMessage) int {
	total := 0
	for _, m := range msgs {
		total += MessageTokens(m)
	}
	return total
}

// FitsInBudget reports whether msgs cost at most modelLimit - reserved.
func FitsInBudget(msgs []domain.ChatMessage, modelLimit, reserved int) bool {
	return TotalTokens(msgs) <= modelLimit-reserved
}

// Truncate keeps a leading system message unconditionally, then keeps the
// longest suffix of the remaining messages that fits modelLimit - reserved.
// Kept messages stay in their original order.
func Truncate(msgs []domain.ChatMessage, modelLimit, reserved int) []domain.ChatMessage {
	costs := make([]int, len(msgs))
	for i, m := range msgs {
		costs[i] = MessageTokens(m)
	}
	kept, _ := truncate(msgs, costs, modelLimit-reserved)
	return kept
}

// truncate walks back from the newest message and stops at the first one that
// would overflow budget. It returns the kept list and how many were dropped.
func truncate(msgs []domain.ChatMessage, costs []int, budget int) ([]domain.ChatMessage, int) {
	if len(msgs) == 0 {
		return []domain.ChatMessage{}, 0
	}
	head := 0
	used := 0
	if msgs[0].Role == domain.RoleSystem {
		head = 1
		used = costs[0]
	}
	start := len(msgs)
	for i := len(msgs) - 1; i >= head; i-- {
		if used+costs[i] > budget {
			break
		}
		used += costs[i]
		start = i
	}
	out := make([]domain.ChatMessage, 0, head+len(msgs)-start)
	out = append(out, msgs[:head]...)
	out = append(out, msgs[start:]...)
	return out, start - head
}

// RecentWindow returns the last n items. n <= 0 returns an empty slice.
func RecentWindow[T any](items []T, n int) []T {
	if n <= 0 {
		return []T{}
	}
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// nonBlank drops messages whose content is empty or whitespace.
func nonBlank(msgs []domain.ChatMessage) []domain.ChatMessage {
	out := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
