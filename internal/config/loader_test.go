package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"toolchat/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "toolchat.json")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// =============================================================================
// Load
// =============================================================================

func TestLoad_WhenFileDoesNotExist_ShouldReturnError(t *testing.T) {
	_, err := Load("/nonexistent/toolchat.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want ErrNotExist", err)
	}
}

func TestLoad_WhenFileIsInvalidJSON_ShouldReturnError(t *testing.T) {
	if _, err := Load(writeConfig(t, `{ invalid }`)); err == nil || !strings.Contains(err.Error(), "config parse") {
		t.Fatalf("err = %v, want parse error", err)
	}
}

func TestLoad_WhenFieldsOmitted_ShouldKeepDefaults(t *testing.T) {
	got, err := Load(writeConfig(t, `{"agents": {"provider": "openai", "defaultModel": "gpt-4o"}, "tools": {"carryResults": true}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Agents.Provider != "openai" || got.Agents.DefaultModel != "gpt-4o" || !got.Tools.CarryResults {
		t.Errorf("agents = %+v, tools = %+v", got.Agents, got.Tools)
	}
	if got.Context.ChatWindow != 5 || got.Context.ToolWindow != 3 || got.Retry.MaxRetries != 3 {
		t.Errorf("defaults lost: context = %+v, retry = %+v", got.Context, got.Retry)
	}
	if !got.Tools.RejectDuplicateIDs || got.Gateway.Port != 8080 {
		t.Errorf("defaults lost: tools = %+v, gateway = %+v", got.Tools, got.Gateway)
	}
}

func TestLoad_ShouldCleanPaths(t *testing.T) {
	got, err := Load(writeConfig(t, `{"tools": {"templatesDir": "a/../templates"}, "store": {"historyDir": "data/./history"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got.Tools.TemplatesDir != "templates" || got.Store.HistoryDir != filepath.Join("data", "history") {
		t.Errorf("tools = %q, history = %q", got.Tools.TemplatesDir, got.Store.HistoryDir)
	}
}

func TestLoad_WhenInvalidValues_ShouldReportEveryProblem(t *testing.T) {
	_, err := Load(writeConfig(t, `{"agents": {"provider": "skynet"}, "infra": {"logLevel": "loud"}, "context": {"chatWindow": 50}}`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"agents.provider", "infra.logLevel", "context.chatWindow"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q should mention %s", err, want)
		}
	}
}

func TestLoadOrDefault_WhenMissing_ShouldReturnDefault(t *testing.T) {
	got, err := LoadOrDefault(filepath.Join(t.TempDir(), "none.json"))
	if err != nil {
		t.Fatal(err)
	}
	if got.Agents.Provider != "local" {
		t.Errorf("provider = %q", got.Agents.Provider)
	}
}

// =============================================================================
// Validate and Path
// =============================================================================

func TestValidate_WhenDefault_ShouldPass(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := map[string]func(c *domain.Config){
		"gateway.port":           func(c *domain.Config) { c.Gateway.Port = 70000 },
		"agents.fallbacks[0]":    func(c *domain.Config) { c.Agents.Fallbacks = []domain.FallbackConfig{{Provider: "x"}} },
		"MaxRetries":             func(c *domain.Config) { c.Retry.MaxRetries = -1 },
		"context.modelLimit":     func(c *domain.Config) { c.Context.ModelLimit = 0 },
		"context.reservedTokens": func(c *domain.Config) { c.Context.ReservedTokens = 200000 },
		"context.toolWindow":     func(c *domain.Config) { c.Context.ToolWindow = 0 },
		"context.tokenizer":      func(c *domain.Config) { c.Context.Tokenizer = "" },
		"tools.stepLimit":        func(c *domain.Config) { c.Tools.StepLimit = -5 },
		"tools.timeoutMs":        func(c *domain.Config) { c.Tools.TimeoutMs = -1 },
		"infra.logFormat":        func(c *domain.Config) { c.Infra.LogFormat = "xml" },
	}
	for want, mutate := range tests {
		c := Default()
		mutate(c)
		err := Validate(c)
		if err == nil || !strings.Contains(err.Error(), want) {
			t.Errorf("%s: err = %v", want, err)
		}
	}
	if err := Validate(nil); err == nil {
		t.Error("nil config should fail")
	}
}

func TestPath_ShouldHonourEnvironment(t *testing.T) {
	t.Setenv(EnvPath, "")
	if got := Path(); got != DefaultPath {
		t.Errorf("Path() = %q, want %q", got, DefaultPath)
	}
	t.Setenv(EnvPath, "conf/../custom.json")
	if got := Path(); got != "custom.json" {
		t.Errorf("Path() = %q, want custom.json", got)
	}
}

func TestCleanPaths_WhenConfigIsNil_ShouldNotPanic(t *testing.T) {
	CleanPaths(nil)
}

// =============================================================================
// WriteDefault and Save
// =============================================================================

func TestWriteDefault_ShouldCreateLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toolchat.json")
	if err := WriteDefault(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload default: %v", err)
	}
	if got.Context.ModelLimit != 128000 || got.Infra.LogFormat != "text" {
		t.Errorf("got = %+v", got)
	}
}

func TestWriteDefault_WhenParentDirMissing_ShouldReturnWriteError(t *testing.T) {
	if err := WriteDefault(filepath.Join(t.TempDir(), "nonexistent", "toolchat.json")); err == nil {
		t.Fatal("expected error")
	}
}

func TestWriteDefault_WhenMarshalFails_ShouldReturnError(t *testing.T) {
	prev := marshalIndent
	defer func() { marshalIndent = prev }()
	marshalIndent = func(any, string, string) ([]byte, error) {
		return nil, fmt.Errorf("injected marshal error")
	}
	if err := WriteDefault(filepath.Join(t.TempDir(), "toolchat.json")); err == nil || !strings.Contains(err.Error(), "marshal") {
		t.Fatalf("err = %v", err)
	}
}

func TestSave_WhenConfigNil_ShouldReturnError(t *testing.T) {
	if err := Save(filepath.Join(t.TempDir(), "c.json"), nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestSave_WhenConfigValid_ShouldPersistAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "toolchat.json")
	cfg := Default()
	cfg.Agents.Provider = "ollama"
	cfg.Tools.EnforceRequired = true
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Agents.Provider != "ollama" || !got.Tools.EnforceRequired {
		t.Errorf("got = %+v", got)
	}
}

func TestSave_WhenParentDirIsFile_ShouldReturnMkdirError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := Save(filepath.Join(blocker, "toolchat.json"), Default())
	if err == nil || !strings.Contains(err.Error(), "mkdir") {
		t.Fatalf("err = %v, want mkdir error", err)
	}
}

func TestSave_WhenWriteFileFails_ShouldReturnError(t *testing.T) {
	prev := writeFile
	defer func() { writeFile = prev }()
	writeFile = func(string, []byte, os.FileMode) error {
		return fmt.Errorf("injected write error")
	}
	err := Save(filepath.Join(t.TempDir(), "toolchat.json"), Default())
	if err == nil || !strings.Contains(err.Error(), "write") {
		t.Fatalf("err = %v", err)
	}
}
