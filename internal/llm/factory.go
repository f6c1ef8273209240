package llm

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"toolchat/internal/domain"
	"toolchat/internal/retry"
)

// defaultCooldownDuration is the time a rate-limited key stays in cooldown.
const defaultCooldownDuration = 60 * time.Second

// KeyGetter returns the raw API key value stored under name (an environment variable name).
type KeyGetter func(name string) (string, error)

// EnvKeys reads API keys from the process environment.
func EnvKeys(name string) (string, error) {
	return os.Getenv(name), nil
}

// defaultKeyEnv maps keyed providers to the environment variable holding their key.
var defaultKeyEnv = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"gemini":     "GEMINI_API_KEY",
}

// KeyEnv returns the environment variable holding the key of provider, or ""
// for providers that need none. override wins when set.
func KeyEnv(provider, override string) string {
	if override != "" {
		return override
	}
	return defaultKeyEnv[provider]
}

// Factory builds providers from configuration.
type Factory struct {
	GetKey KeyGetter           // defaults to EnvKeys
	Retry  *domain.RetryConfig // when set with MaxRetries > 0, providers are wrapped with retry
	Local  Responder           // canned responder for the local provider
	Logger *slog.Logger
}

// NewProvider returns an LLMProvider for the given agents config, optionally wrapped with retry logic.
// Provider may be "local", "openai", "anthropic", "openrouter", "ollama", or "gemini". Empty provider defaults to "local".
func NewProvider(agents *domain.AgentsConfig, getKey KeyGetter, retryCfg ...*domain.RetryConfig) (domain.LLMProvider, error) {
	f := Factory{GetKey: getKey}
	if len(retryCfg) > 0 {
		f.Retry = retryCfg[0]
	}
	return f.New(agents)
}

// New builds the provider described by agents.
func (f Factory) New(agents *domain.AgentsConfig) (domain.LLMProvider, error) {
	base, err := f.newBaseProvider(agents)
	if err != nil {
		return nil, err
	}
	return f.wrapWithRetry(base), nil
}

// newBaseProvider creates the raw LLM provider without retry wrapping.
// When a key variable contains comma-separated keys, a KeyPoolProvider is created with
// round-robin rotation and 429-cooldown support.
func (f Factory) newBaseProvider(agents *domain.AgentsConfig) (domain.LLMProvider, error) {
	if agents == nil {
		return f.local(), nil
	}
	provider := agents.Provider
	if provider == "" {
		provider = "local"
	}
	keyEnv := KeyEnv(provider, agents.APIKeyEnv)
	switch provider {
	case "local":
		return f.local(), nil
	case "openai":
		return f.resolveKeyedProvider("openai", keyEnv, func(key string) domain.LLMProvider {
			return NewOpenAIProvider(key, agents.DefaultModel).WithBaseURL(agents.BaseURL)
		})
	case "anthropic":
		return f.resolveKeyedProvider("anthropic", keyEnv, func(key string) domain.LLMProvider {
			return NewAnthropicProvider(key, agents.DefaultModel)
		})
	case "openrouter":
		return f.resolveKeyedProvider("openrouter", keyEnv, func(key string) domain.LLMProvider {
			return NewOpenRouterProvider(key, agents.DefaultModel)
		})
	case "ollama":
		return NewOllamaProvider(agents.DefaultModel).WithBaseURL(agents.BaseURL), nil
	case "gemini":
		return f.resolveKeyedProvider("gemini", keyEnv, func(key string) domain.LLMProvider {
			return NewGeminiProvider(key, agents.DefaultModel)
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (use: local, openai, anthropic, openrouter, ollama, gemini)", provider)
	}
}

func (f Factory) local() domain.LLMProvider {
	p := NewLocalProvider("Local: ")
	p.Responder = f.Local
	return p
}

// splitKeys splits a raw key value by commas, trims whitespace, and filters empty entries.
func splitKeys(raw string) []string {
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			keys = append(keys, trimmed)
		}
	}
	return keys
}

// newKeyPoolFunc is the KeyPool constructor. Package-level var for test injection.
var newKeyPoolFunc = NewKeyPool

// resolveKeyedProvider fetches the key variable, splits it into one or more keys, and returns either
// a single provider (one key) or a KeyPoolProvider (multiple keys).
func (f Factory) resolveKeyedProvider(providerName, keyEnv string, makeProvider func(key string) domain.LLMProvider) (domain.LLMProvider, error) {
	getKey := f.GetKey
	if getKey == nil {
		getKey = EnvKeys
	}
	raw, err := getKey(keyEnv)
	if err != nil {
		return nil, err
	}
	keys := splitKeys(raw)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s provider: API key not set (export %s=<key>)", providerName, keyEnv)
	}
	if len(keys) == 1 {
		return makeProvider(keys[0]), nil
	}
	pool, err := newKeyPoolFunc(keys, defaultCooldownDuration)
	if err != nil {
		return nil, fmt.Errorf("%s key pool: %w", providerName, err)
	}
	providers := make([]domain.LLMProvider, len(keys))
	for i, k := range keys {
		providers[i] = makeProvider(k)
	}
	return NewKeyPoolProvider(pool, providers)
}

// Fallbacks creates LLM providers for each fallback config entry.
// Failed fallback configurations are skipped with a warning.
func (f Factory) Fallbacks(fallbacks []domain.FallbackConfig) []domain.LLMProvider {
	var providers []domain.LLMProvider
	for _, fb := range fallbacks {
		cfg := &domain.AgentsConfig{
			Provider:     fb.Provider,
			DefaultModel: fb.DefaultModel,
			APIKeyEnv:    fb.APIKeyEnv,
		}
		p, err := f.New(cfg)
		if err != nil {
			f.log().Warn("skipping fallback provider", "provider", fb.Provider, "error", err)
			continue
		}
		providers = append(providers, p)
	}
	return providers
}

func (f Factory) log() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// wrapWithRetry decorates a provider with retry logic when config is supplied.
func (f Factory) wrapWithRetry(provider domain.LLMProvider) domain.LLMProvider {
	if f.Retry == nil || f.Retry.MaxRetries <= 0 {
		return provider
	}
	return retry.NewRetryableProvider(provider, retry.FromDomain(*f.Retry), retry.WithLogger(f.log()))
}
