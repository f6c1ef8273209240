package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"toolchat/internal/domain"
	"toolchat/internal/render"
	"toolchat/internal/templates"
	"toolchat/internal/toolconfig"
)

type runOptions struct {
	Source string   // template name or path to a YAML/JSON configuration
	Sets   []string // id=value pairs applied before the action
	Action string
	JSON   bool
}

// runInstanceID names the single instance the run command creates.
const runInstanceID = "run"

// openLibrary loads the config and templates without building a model
// provider, for commands that never chat.
func openLibrary(path string, logw io.Writer) (*domain.Config, *templates.Library, *slog.Logger, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := newLogger(cfg.Infra, logw)
	lib, err := newLibrary(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, lib, logger, nil
}

// resolveSource returns the configuration named by source: a template name
// first, then a file.
func resolveSource(lib *templates.Library, source string, opts ...toolconfig.ParseOption) (*toolconfig.Config, error) {
	if t, err := lib.Get(source); err == nil {
		return t.Config, nil
	}
	data, err := os.ReadFile(source)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("run: %q is neither a template nor a file", source)
		}
		return nil, fmt.Errorf("run: %w", err)
	}
	return templates.Decode(data, opts...)
}

// runTool renders one tool, optionally after setting inputs and running an
// action. A failed action still prints the tool with its error banner and
// exits with 1.
func runTool(cmd *cobra.Command, path string, opts runOptions) error {
	cfg, lib, logger, err := openLibrary(path, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	toolCfg, err := resolveSource(lib, opts.Source, parseOptions(cfg)...)
	if err != nil {
		return err
	}
	reg := newRegistry(cfg, logger)
	in, err := reg.Create(runInstanceID, toolCfg)
	if err != nil {
		return err
	}
	defer reg.Remove(runInstanceID)

	for _, kv := range opts.Sets {
		id, raw, ok := strings.Cut(kv, "=")
		if !ok || id == "" {
			return fmt.Errorf("run: --set %q: want id=value", kv)
		}
		if err := in.State.Set(id, parseInputValue(raw)); err != nil {
			return fmt.Errorf("run: set %s: %w", id, err)
		}
	}

	failed := false
	if opts.Action != "" {
		out, err := reg.Run(cmd.Context(), runInstanceID, opts.Action)
		if err != nil {
			return err
		}
		failed = out.Err != nil
	}

	v, err := in.View()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	if opts.JSON {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
	} else {
		fmt.Fprintln(w, render.NewTerminal(terminalWidth()).Render(v))
	}
	if failed {
		return exitCodeErr(1)
	}
	return nil
}

// runTemplates lists every template with its origin and title.
func runTemplates(cmd *cobra.Command, path string) error {
	_, lib, _, err := openLibrary(path, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, t := range lib.All() {
		origin := "builtin"
		if !t.Builtin {
			origin = t.Path
		}
		fmt.Fprintf(w, "%-22s %-30s %s\n", t.Name, t.Config.Title, origin)
	}
	return nil
}
