// Package config loads toolchat.json into a domain.Config.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"toolchat/internal/domain"
	"toolchat/internal/retry"
)

// DefaultPath is the config file used when TOOLCHAT_CONFIG is unset.
const DefaultPath = "toolchat.json"

// EnvPath names the environment variable that overrides DefaultPath.
const EnvPath = "TOOLCHAT_CONFIG"

// marshalIndent and writeFile are used by WriteDefault and Save; tests may replace to force errors.
var (
	marshalIndent = json.MarshalIndent
	writeFile     = os.WriteFile
)

var (
	providers  = []string{"local", "openai", "anthropic", "openrouter", "ollama", "gemini"}
	logFormats = []string{"text", "json"}
	logLevels  = []string{"debug", "info", "warn", "error"}
)

// Path returns the config file location: $TOOLCHAT_CONFIG or DefaultPath.
func Path() string {
	if p := os.Getenv(EnvPath); p != "" {
		return filepath.Clean(p)
	}
	return DefaultPath
}

// Default returns the configuration used for fields a file leaves out.
func Default() *domain.Config {
	return &domain.Config{
		Gateway: domain.GatewayConfig{Port: 8080, AllowedHosts: []string{}},
		Agents: domain.AgentsConfig{
			Provider:     "local",
			DefaultModel: "gpt-4o-mini",
			PlanTools:    true,
		},
		Retry: domain.RetryConfig{
			MaxRetries:     3,
			InitialBackoff: 1000,
			MaxBackoff:     10000,
			Multiplier:     2,
			MaxJitter:      1000,
		},
		Context: domain.ContextConfig{
			ModelLimit:     128000,
			ReservedTokens: 2500,
			ChatWindow:     5,
			ToolWindow:     3,
			MaxWindow:      20,
			Tokenizer:      "chars",
		},
		Tools: domain.ToolsConfig{
			TemplatesDir:       "templates",
			RejectDuplicateIDs: true,
			StepLimit:          1_000_000,
			TimeoutMs:          2000,
		},
		Store: domain.StoreConfig{HistoryDir: "history"},
		Infra: domain.InfraConfig{LogFormat: "text", LogLevel: "info"},
	}
}

// WriteDefault writes Default to path (e.g. toolchat.json). Paths are not created.
func WriteDefault(path string) error {
	data, err := marshalIndent(Default(), "", "  ")
	if err != nil {
		return fmt.Errorf("config: encode default: %w", err)
	}
	if err := writeFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config: write default: %w", err)
	}
	return nil
}

// Load reads path over Default, cleans path fields and validates the result.
// Returns error if file is missing, is invalid JSON or fails Validate.
func Load(path string) (*domain.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	c := Default()
	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config parse: %w", err)
	}
	CleanPaths(c)
	if err := Validate(c); err != nil {
		return nil, err
	}
	return c, nil
}

// LoadOrDefault is Load, except that a missing file yields Default.
func LoadOrDefault(path string) (*domain.Config, error) {
	c, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return c, err
}

// CleanPaths applies filepath.Clean to all path fields in cfg to prevent path traversal.
func CleanPaths(cfg *domain.Config) {
	if cfg == nil {
		return
	}
	if cfg.Tools.TemplatesDir != "" {
		cfg.Tools.TemplatesDir = filepath.Clean(cfg.Tools.TemplatesDir)
	}
	if cfg.Store.HistoryDir != "" {
		cfg.Store.HistoryDir = filepath.Clean(cfg.Store.HistoryDir)
	}
}

// Validate reports every out-of-range field of cfg, joined into one error.
func Validate(cfg *domain.Config) error {
	if cfg == nil {
		return errors.New("config: nil config")
	}
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("config: "+format, args...))
		}
	}

	check(cfg.Gateway.Port >= 0 && cfg.Gateway.Port <= 65535, "gateway.port %d out of range", cfg.Gateway.Port)
	check(slices.Contains(providers, cfg.Agents.Provider), "agents.provider %q unknown", cfg.Agents.Provider)
	for i, fb := range cfg.Agents.Fallbacks {
		check(slices.Contains(providers, fb.Provider), "agents.fallbacks[%d].provider %q unknown", i, fb.Provider)
	}
	if err := retry.FromDomain(cfg.Retry).Validate(); err != nil {
		errs = append(errs, fmt.Errorf("config: %w", err))
	}

	ctx := cfg.Context
	check(ctx.ModelLimit > 0, "context.modelLimit must be > 0")
	check(ctx.ReservedTokens >= 0 && ctx.ReservedTokens < ctx.ModelLimit, "context.reservedTokens must be in [0, modelLimit)")
	check(ctx.MaxWindow > 0, "context.maxWindow must be > 0")
	check(ctx.ChatWindow > 0 && ctx.ChatWindow <= ctx.MaxWindow, "context.chatWindow must be in [1, maxWindow]")
	check(ctx.ToolWindow > 0 && ctx.ToolWindow <= ctx.MaxWindow, "context.toolWindow must be in [1, maxWindow]")
	check(ctx.Tokenizer != "", "context.tokenizer must not be empty")

	check(cfg.Tools.StepLimit >= 0, "tools.stepLimit must be >= 0")
	check(cfg.Tools.TimeoutMs >= 0, "tools.timeoutMs must be >= 0")
	check(slices.Contains(logFormats, cfg.Infra.LogFormat), "infra.logFormat %q unknown", cfg.Infra.LogFormat)
	check(slices.Contains(logLevels, cfg.Infra.LogLevel), "infra.logLevel %q unknown", cfg.Infra.LogLevel)
	return errors.Join(errs...)
}

// Save writes cfg to path as JSON, creating the parent directory.
func Save(path string, cfg *domain.Config) error {
	if cfg == nil {
		return fmt.Errorf("config save: nil config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config save mkdir: %w", err)
	}
	data, err := marshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config save marshal: %w", err)
	}
	if err := writeFile(path, data, 0o644); err != nil {
		return fmt.Errorf("config save write: %w", err)
	}
	return nil
}
