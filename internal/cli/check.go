// Package cli implements the non-interactive maintenance commands: check
// and config get/set/unset.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"toolchat/internal/llm"
	"toolchat/internal/templates"
	"toolchat/internal/tokenizer"
	"toolchat/internal/toolconfig"
	"toolchat/internal/toolstore"
)

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Path string // config file; "" means config.Path()
	Fix  bool   // if true, write default config when missing
}

// RunCheck checks the config, the model provider, templates, paths and the
// database; with Fix it writes a default config when none exists. Returns the
// exit code: 1 when any check failed.
func RunCheck(opts CheckOptions, stdout, stderr io.Writer) int {
	cfgPath := opts.Path
	if cfgPath == "" {
		cfgPath = configPath()
	}

	note := func(section, message string) {
		fmt.Fprintf(stdout, "  [%s] %s\n", section, message)
	}
	problems := 0
	fail := func(section, message string) {
		problems++
		note(section, message)
	}

	// 1. Config
	cfg, err := configLoad(cfgPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			note("Config", err.Error())
			return 1
		}
		note("Config", fmt.Sprintf("No config at %s.", cfgPath))
		if !opts.Fix {
			note("Config", "Run with --fix to create a default toolchat.json.")
			fmt.Fprintln(stdout, "  Check complete.")
			return 0
		}
		if err := configWriteDefault(cfgPath); err != nil {
			fmt.Fprintf(stderr, "  failed to write default config: %v\n", err)
			return 1
		}
		note("Config", fmt.Sprintf("Wrote default config to %s.", cfgPath))
		if cfg, err = configLoad(cfgPath); err != nil {
			note("Config", err.Error())
			return 1
		}
	} else {
		note("Config", fmt.Sprintf("Loaded %s.", cfgPath))
	}

	// 2. Gateway
	note("Gateway", fmt.Sprintf("port=%d auth=%t", cfg.Gateway.Port, cfg.Gateway.AuthToken != ""))
	if cfg.Gateway.AuthToken == "" {
		note("Gateway", "No auth token. Set gateway.authToken before exposing serve beyond localhost.")
	}

	// 3. Provider
	provider := cfg.Agents.Provider
	if provider == "" {
		provider = "local"
	}
	note("Provider", fmt.Sprintf("%s model=%s", provider, cfg.Agents.DefaultModel))
	if env := llm.KeyEnv(provider, cfg.Agents.APIKeyEnv); env != "" {
		if getenv(env) == "" {
			fail("Provider", fmt.Sprintf("%s is not set.", env))
		} else {
			note("Provider", fmt.Sprintf("%s ok.", env))
		}
	}
	for _, fb := range cfg.Agents.Fallbacks {
		if env := llm.KeyEnv(fb.Provider, fb.APIKeyEnv); env != "" && getenv(env) == "" {
			note("Provider", fmt.Sprintf("fallback %s: %s is not set; it will be skipped.", fb.Provider, env))
		}
	}

	// 4. Tokenizer
	if _, err := tokenizer.New(cfg.Context.Tokenizer); err != nil {
		fail("Context", fmt.Sprintf("tokenizer %q: %v", cfg.Context.Tokenizer, err))
	} else {
		note("Context", fmt.Sprintf("tokenizer %q ok, windows chat=%d tool=%d.",
			cfg.Context.Tokenizer, cfg.Context.ChatWindow, cfg.Context.ToolWindow))
	}

	// 5. Templates
	if dir := cfg.Tools.TemplatesDir; dir != "" {
		lib, err := templates.New(templates.WithParseOptions(toolconfig.AllowSharedIDs(!cfg.Tools.RejectDuplicateIDs)))
		if err == nil {
			err = lib.LoadDir(dir)
		}
		if err != nil {
			fail("Templates", err.Error())
		} else {
			note("Templates", fmt.Sprintf("%s ok, %d templates.", dir, len(lib.All())))
		}
	}

	// 6. Paths
	if dir := cfg.Store.HistoryDir; dir != "" {
		if err := ensureDir(dir, "store.historyDir"); err != nil {
			fail("Paths", err.Error())
		} else {
			note("Paths", fmt.Sprintf("store.historyDir %s ok.", dir))
		}
	}

	// 7. Database
	if url := cfg.Store.DatabaseURL; url != "" {
		if err := checkDatabase(url); err != nil {
			fail("Database", err.Error())
		} else {
			note("Database", "connected and migrated.")
		}
	}

	fmt.Fprintln(stdout, "  Check complete.")
	if problems > 0 {
		return 1
	}
	return 0
}

func checkDatabase(url string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := dbConnect(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = toolstore.NewSQLStore(ctx, conn)
	return err
}

func ensureDir(dir, label string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("%s: %w", label, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := osMkdirAll(abs, 0o755); mkErr != nil {
				return fmt.Errorf("%s %q: mkdir failed: %w", label, abs, mkErr)
			}
			return nil
		}
		return fmt.Errorf("%s %q: %w", label, abs, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s %q: not a directory", label, abs)
	}
	return nil
}
