package router

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"strings"

	"toolchat/internal/brain"
	"toolchat/internal/domain"
	"toolchat/internal/embed"
	"toolchat/internal/llm"
	"toolchat/internal/prompts"
	"toolchat/internal/retry"
)

// Reply texts for chat requests that fail before a response is parsed.
const (
	RateLimitText = "Error: Rate limit exceeded. Please try again in a moment."
	TimeoutText   = "Error: Request timed out. Please try again."
	NetworkText   = "Error: Network error. Please check your connection."
	ParseText     = "Error: Could not parse AI response."
)

// ChatResponse is the JSON object the model must return for a chat turn.
type ChatResponse struct {
	Type        domain.ResponseType
	Content     string
	Suggestions []string
	Reasoning   string
}

// ErrChatResponse wraps every ParseChatResponse failure.
var ErrChatResponse = errors.New("router: invalid chat response")

// ParseChatResponse decodes a model reply into a ChatResponse. Suggestions
// that are not an array become empty and non-string entries are dropped; a
// missing reasoning becomes "". An unknown type or missing content fails.
func ParseChatResponse(raw string) (ChatResponse, error) {
	doc := llm.ExtractJSON(raw)
	if doc == "" {
		return ChatResponse{}, errors.Join(ErrChatResponse, errors.New("no JSON object found"))
	}
	var wire struct {
		Type        any `json:"type"`
		Content     any `json:"content"`
		Suggestions any `json:"suggestions"`
		Reasoning   any `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(doc), &wire); err != nil {
		return ChatResponse{}, errors.Join(ErrChatResponse, err)
	}
	typ, _ := wire.Type.(string)
	resp := ChatResponse{Type: domain.ResponseType(typ), Suggestions: []string{}}
	if !resp.Type.Valid() {
		return ChatResponse{}, errors.Join(ErrChatResponse, errorf("unknown type %q", typ))
	}
	content, ok := wire.Content.(string)
	if !ok {
		return ChatResponse{}, errors.Join(ErrChatResponse, errorf("content missing"))
	}
	resp.Content = content
	if items, ok := wire.Suggestions.([]any); ok {
		for _, it := range items {
			if s, ok := it.(string); ok {
				resp.Suggestions = append(resp.Suggestions, s)
			}
		}
	}
	resp.Reasoning, _ = wire.Reasoning.(string)
	return resp, nil
}

// ErrorText maps a failed model request onto the text shown to the user.
func ErrorText(err error) string {
	if err == nil {
		return ParseText
	}
	msg := strings.ToLower(err.Error())
	var netErr net.Error
	switch {
	case retry.StatusCodeOf(err) == 429 || strings.Contains(msg, "rate limit"):
		return RateLimitText
	case errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) || strings.Contains(msg, "timeout"):
		return TimeoutText
	case errors.As(err, &netErr) || strings.Contains(msg, "network"):
		return NetworkText
	}
	return ParseText
}

func (r *Router) chat(ctx context.Context, input string, force domain.ResponseType, history []domain.ChatMessage) Reply {
	raw, err := r.sender.Send(ctx, brain.Request{
		SystemPrompt: prompts.Chat(force),
		History:      window(history, r.chatWindow),
		UserMessage:  input,
		Temperature:  0.7,
		MaxTokens:    2000,
		JSONMode:     true,
	})
	if err != nil {
		r.log().Warn("router: chat request failed", "error", err)
		return textReply(ErrorText(err), nil)
	}
	resp, err := ParseChatResponse(raw)
	if err != nil {
		r.log().Warn("router: chat response rejected", "error", err)
		return textReply(ParseText, nil)
	}

	switch resp.Type {
	case domain.ResponseTool:
		query := resp.Content
		if strings.TrimSpace(query) == "" {
			query = input
		}
		reply, err := r.generateTool(ctx, toolRequest{query: query}, history)
		if err != nil {
			r.log().Warn("router: tool generation failed", "error", err)
			return textReply(ErrorText(err), resp.Suggestions)
		}
		reply.Message.Suggestions = resp.Suggestions
		reply.Reasoning = resp.Reasoning
		return reply
	case domain.ResponseEmbed:
		reply, err := r.embed(ctx, resp.Content)
		if err != nil {
			return commandErrorReply(err)
		}
		reply.Message.Suggestions = resp.Suggestions
		reply.Reasoning = resp.Reasoning
		return reply
	}
	reply := textReply(resp.Content, resp.Suggestions)
	reply.Reasoning = resp.Reasoning
	return reply
}

// embed validates u and builds an embed reply titled from the page.
func (r *Router) embed(ctx context.Context, u string) (Reply, error) {
	normalized, err := embed.Normalize(u)
	if err != nil {
		return Reply{}, err
	}
	page := r.describer.Describe(ctx, normalized)
	r.log().Info("router: embedding page", slog.String("url", normalized), slog.String("title", page.Title))
	reply := textReply(normalized, nil)
	reply.Message.Type = domain.ResponseEmbed
	reply.Page = &page
	return reply, nil
}
