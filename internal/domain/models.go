package domain

import (
	"encoding/json"
	"time"
)

// =============================================================================
// Core Configuration
// =============================================================================

type Config struct {
	Gateway GatewayConfig `json:"gateway"`
	Agents  AgentsConfig  `json:"agents"`
	Retry   RetryConfig   `json:"retry"`
	Context ContextConfig `json:"context"`
	Tools   ToolsConfig   `json:"tools"`
	Store   StoreConfig   `json:"store"`
	Infra   InfraConfig   `json:"infra"`
}

// RetryConfig controls retry behaviour for model calls. Durations are in milliseconds.
type RetryConfig struct {
	MaxRetries     int `json:"maxRetries"`     // Maximum retry attempts (0 = no retries)
	InitialBackoff int `json:"initialBackoff"` // Initial backoff in milliseconds
	MaxBackoff     int `json:"maxBackoff"`     // Maximum backoff in milliseconds
	Multiplier     int `json:"multiplier"`     // Backoff multiplier (e.g. 2 for exponential doubling)
	MaxJitter      int `json:"maxJitter"`      // Upper bound of random jitter added to each delay
}

type GatewayConfig struct {
	Port         int      `json:"port"`
	AuthToken    string   `json:"authToken,omitempty"` // When set, gateway requires Authorization: Bearer <authToken>
	AllowedHosts []string `json:"allowedHosts,omitempty"`
}

type AgentsConfig struct {
	Provider     string           `json:"provider"` // "openai" | "anthropic" | "gemini" | "ollama" | "openrouter" | "local"
	DefaultModel string           `json:"defaultModel"`
	APIKeyEnv    string           `json:"apiKeyEnv,omitempty"` // overrides the provider's default key variable
	BaseURL      string           `json:"baseUrl,omitempty"`
	Fallbacks    []FallbackConfig `json:"fallbacks,omitempty"` // optional failover providers
	PlanTools    bool             `json:"planTools,omitempty"` // run a planning pass before tool generation
}

// FallbackConfig describes an alternative LLM provider for failover.
type FallbackConfig struct {
	Provider     string `json:"provider"`
	DefaultModel string `json:"defaultModel"`
	APIKeyEnv    string `json:"apiKeyEnv,omitempty"`
}

// ContextConfig bounds how much history is replayed to the model.
type ContextConfig struct {
	ModelLimit     int    `json:"modelLimit"`     // model context window in tokens
	ReservedTokens int    `json:"reservedTokens"` // kept free for the response and overhead
	ChatWindow     int    `json:"chatWindow"`     // recent messages replayed for chat turns
	ToolWindow     int    `json:"toolWindow"`     // recent messages replayed for tool generation
	MaxWindow      int    `json:"maxWindow"`      // hard cap on any recency window
	Tokenizer      string `json:"tokenizer"`      // "chars" | tiktoken encoding name (e.g. "cl100k_base")
}

// ToolsConfig tunes the tool runtime.
type ToolsConfig struct {
	TemplatesDir       string `json:"templatesDir,omitempty"`
	WatchTemplates     bool   `json:"watchTemplates"`
	CarryResults       bool   `json:"carryResults"`
	EnforceRequired    bool   `json:"enforceRequired"`
	RejectDuplicateIDs bool   `json:"rejectDuplicateIds"`
	StepLimit          int    `json:"stepLimit"`
	TimeoutMs          int    `json:"timeoutMs"`
}

type StoreConfig struct {
	DatabaseURL string `json:"databaseUrl,omitempty"` // file:..., libsql://..., or empty for in-memory only
	HistoryDir  string `json:"historyDir,omitempty"`
}

type InfraConfig struct {
	LogFormat string `json:"logFormat"` // "json" | "text"
	LogLevel  string `json:"logLevel"`
}

// =============================================================================
// Messaging Protocol
// =============================================================================

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// ResponseType is the shape of an assistant turn.
type ResponseType string

const (
	ResponseText  ResponseType = "text"
	ResponseTool  ResponseType = "tool"
	ResponseEmbed ResponseType = "embed"
)

// Valid reports whether t is one of the known response types.
func (t ResponseType) Valid() bool {
	switch t {
	case ResponseText, ResponseTool, ResponseEmbed:
		return true
	}
	return false
}

// ChatMessage is a single role/content pair sent to a model.
type ChatMessage struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// CompletionRequest is the transport-agnostic shape of one model call.
type CompletionRequest struct {
	Model       string        `json:"model,omitempty"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"maxTokens"`
	JSONMode    bool          `json:"jsonMode"`
}

// SystemPrompt returns the content of the leading system message, if any.
func (r CompletionRequest) SystemPrompt() string {
	if len(r.Messages) > 0 && r.Messages[0].Role == RoleSystem {
		return r.Messages[0].Content
	}
	return ""
}

// Conversation returns the messages after the leading system message.
func (r CompletionRequest) Conversation() []ChatMessage {
	if len(r.Messages) > 0 && r.Messages[0].Role == RoleSystem {
		return r.Messages[1:]
	}
	return r.Messages
}

// Message is one transcript entry. Tool messages carry their configuration
// verbatim so a reload can rebuild the instance from defaults.
type Message struct {
	ID          string          `json:"id"`
	SessionID   string          `json:"sessionId,omitempty"`
	Role        MessageRole     `json:"role"`
	Type        ResponseType    `json:"type"`
	Content     string          `json:"content"`
	ToolConfig  json.RawMessage `json:"toolConfig,omitempty"`
	Suggestions []string        `json:"suggestions,omitempty"`
	Pinned      bool            `json:"pinned,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// AsChat converts a transcript entry into a model message. Tool replies are
// replayed as their configuration JSON so the model sees what it produced.
func (m Message) AsChat() ChatMessage {
	content := m.Content
	if m.Type == ResponseTool && len(m.ToolConfig) > 0 && content == "" {
		content = string(m.ToolConfig)
	}
	return ChatMessage{Role: m.Role, Content: content}
}
