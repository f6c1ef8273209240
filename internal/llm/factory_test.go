package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"toolchat/internal/domain"
	"toolchat/internal/retry"
)

func keys(values map[string]string) KeyGetter {
	return func(name string) (string, error) { return values[name], nil }
}

func TestNewProvider_WhenConfigIsNil_ShouldReturnLocalProvider(t *testing.T) {
	provider, err := NewProvider(nil, keys(nil))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	got, err := provider.Complete(context.Background(), userReq("test"))
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "Local: test" {
		t.Errorf("want Local: test, got %q", got)
	}
}

func TestNewProvider_WhenProviderIsEmpty_ShouldDefaultToLocal(t *testing.T) {
	provider, err := NewProvider(&domain.AgentsConfig{DefaultModel: "gpt-4o"}, keys(nil))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := provider.(*LocalProvider); !ok {
		t.Errorf("expected *LocalProvider, got %T", provider)
	}
}

func TestNewProvider_WhenKeyMissing_ShouldReturnErrorNamingVariable(t *testing.T) {
	for provider, env := range defaultKeyEnv {
		_, err := NewProvider(&domain.AgentsConfig{Provider: provider}, keys(nil))
		if err == nil {
			t.Errorf("%s: expected error when key missing", provider)
			continue
		}
		if !strings.Contains(err.Error(), env) {
			t.Errorf("%s: error should name %s, got %v", provider, env, err)
		}
	}
}

func TestNewProvider_WhenKeyGetterFails_ShouldReturnError(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewProvider(&domain.AgentsConfig{Provider: "openai"}, func(string) (string, error) { return "", boom })
	if !errors.Is(err, boom) {
		t.Errorf("expected getter error, got %v", err)
	}
}

func TestNewProvider_WhenAPIKeyEnvOverride_ShouldReadThatVariable(t *testing.T) {
	p, err := NewProvider(&domain.AgentsConfig{Provider: "openai", APIKeyEnv: "MY_KEY"}, keys(map[string]string{"MY_KEY": "k"}))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	op, ok := p.(*OpenAIProvider)
	if !ok || op.apiKey != "k" {
		t.Errorf("expected OpenAI provider with key k, got %T", p)
	}
}

func TestNewProvider_WhenProviderUnknown_ShouldReturnError(t *testing.T) {
	if _, err := NewProvider(&domain.AgentsConfig{Provider: "skynet"}, keys(nil)); err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestNewProvider_WhenKeyProvided_ShouldReturnConcreteProvider(t *testing.T) {
	env := keys(map[string]string{
		"OPENAI_API_KEY": "a", "ANTHROPIC_API_KEY": "b", "OPENROUTER_API_KEY": "c", "GEMINI_API_KEY": "d",
	})
	cases := map[string]func(domain.LLMProvider) bool{
		"openai":     func(p domain.LLMProvider) bool { op, ok := p.(*OpenAIProvider); return ok && op.name == "openai" },
		"openrouter": func(p domain.LLMProvider) bool { op, ok := p.(*OpenAIProvider); return ok && op.name == "openrouter" },
		"anthropic":  func(p domain.LLMProvider) bool { _, ok := p.(*AnthropicProvider); return ok },
		"gemini":     func(p domain.LLMProvider) bool { _, ok := p.(*GeminiProvider); return ok },
		"ollama":     func(p domain.LLMProvider) bool { _, ok := p.(*OllamaProvider); return ok },
	}
	for name, check := range cases {
		p, err := NewProvider(&domain.AgentsConfig{Provider: name, DefaultModel: "m"}, env)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if !check(p) {
			t.Errorf("%s: unexpected provider type %T", name, p)
		}
	}
}

func TestNewProvider_WhenOllamaBaseURL_ShouldOverrideEndpoint(t *testing.T) {
	p, _ := NewProvider(&domain.AgentsConfig{Provider: "ollama", BaseURL: "http://gpu:11434/api"}, keys(nil))
	if op := p.(*OllamaProvider); op.baseURL != "http://gpu:11434/api" {
		t.Errorf("unexpected base URL %q", op.baseURL)
	}
}

// =============================================================================
// Retry wrapping
// =============================================================================

func TestNewProvider_WhenRetryConfigProvided_ShouldWrapWithRetry(t *testing.T) {
	p, err := NewProvider(&domain.AgentsConfig{Provider: "local"}, keys(nil), &domain.RetryConfig{MaxRetries: 2, InitialBackoff: 10, MaxBackoff: 100, Multiplier: 2})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	if _, ok := p.(*retry.RetryableProvider); !ok {
		t.Errorf("expected *retry.RetryableProvider, got %T", p)
	}
}

func TestNewProvider_WhenRetryDisabled_ShouldNotWrap(t *testing.T) {
	for _, rc := range []*domain.RetryConfig{nil, {MaxRetries: 0}} {
		p, _ := NewProvider(&domain.AgentsConfig{Provider: "local"}, keys(nil), rc)
		if _, ok := p.(*LocalProvider); !ok {
			t.Errorf("expected unwrapped provider, got %T", p)
		}
	}
}

// =============================================================================
// Key pools
// =============================================================================

func TestNewProvider_WhenMultipleKeys_ShouldReturnKeyPoolProvider(t *testing.T) {
	p, err := NewProvider(&domain.AgentsConfig{Provider: "anthropic"}, keys(map[string]string{"ANTHROPIC_API_KEY": "k1, k2 ,,k3"}))
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	kpp, ok := p.(*KeyPoolProvider)
	if !ok {
		t.Fatalf("expected *KeyPoolProvider, got %T", p)
	}
	if kpp.pool.Len() != 3 {
		t.Errorf("expected 3 keys, got %d", kpp.pool.Len())
	}
}

func TestNewProvider_WhenKeyPoolCreationFails_ShouldReturnError(t *testing.T) {
	orig := newKeyPoolFunc
	defer func() { newKeyPoolFunc = orig }()
	newKeyPoolFunc = func([]string, time.Duration) (*KeyPool, error) { return nil, errors.New("pool failure") }

	_, err := NewProvider(&domain.AgentsConfig{Provider: "openai"}, keys(map[string]string{"OPENAI_API_KEY": "a,b"}))
	if err == nil || !strings.Contains(err.Error(), "pool failure") {
		t.Errorf("expected pool failure, got %v", err)
	}
}

// =============================================================================
// Fallbacks and local responder
// =============================================================================

func TestFactory_Fallbacks_WhenMixedConfigs_ShouldSkipBadOnes(t *testing.T) {
	f := Factory{GetKey: keys(map[string]string{"GEMINI_API_KEY": "g"})}
	got := f.Fallbacks([]domain.FallbackConfig{
		{Provider: "openai"},
		{Provider: "gemini", DefaultModel: "gemini-1.5"},
		{Provider: "bogus"},
		{Provider: "local"},
	})
	if len(got) != 2 {
		t.Errorf("expected 2 usable fallbacks, got %d", len(got))
	}
}

func TestFactory_New_WhenLocalResponderSet_ShouldUseIt(t *testing.T) {
	f := Factory{Local: func(domain.CompletionRequest) (string, error) { return "{}", nil }}
	p, err := f.New(&domain.AgentsConfig{Provider: "local"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, _ := p.Complete(context.Background(), userReq("x"))
	if got != "{}" {
		t.Errorf("want {}, got %q", got)
	}
}

func TestEnvKeys_ShouldReadEnvironment(t *testing.T) {
	t.Setenv("TOOLCHAT_TEST_KEY", "secret")
	got, err := EnvKeys("TOOLCHAT_TEST_KEY")
	if err != nil || got != "secret" {
		t.Errorf("want secret, got %q %v", got, err)
	}
}

func TestKeyEnv(t *testing.T) {
	tests := []struct{ provider, override, want string }{
		{"openai", "", "OPENAI_API_KEY"},
		{"gemini", "", "GEMINI_API_KEY"},
		{"openai", "MY_KEY", "MY_KEY"},
		{"ollama", "", ""},
		{"local", "", ""},
	}
	for _, tt := range tests {
		if got := KeyEnv(tt.provider, tt.override); got != tt.want {
			t.Errorf("KeyEnv(%q, %q) = %q, want %q", tt.provider, tt.override, got, tt.want)
		}
	}
}
