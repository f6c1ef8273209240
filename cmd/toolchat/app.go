package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"toolchat/internal/brain"
	"toolchat/internal/config"
	ctxmgr "toolchat/internal/context"
	"toolchat/internal/db"
	"toolchat/internal/domain"
	"toolchat/internal/embed"
	"toolchat/internal/instance"
	"toolchat/internal/llm"
	"toolchat/internal/planner"
	"toolchat/internal/router"
	"toolchat/internal/session"
	"toolchat/internal/templates"
	"toolchat/internal/tokenizer"
	"toolchat/internal/toolconfig"
	"toolchat/internal/toolengine"
	"toolchat/internal/toolstore"
)

// app is the assembled runtime shared by chat, run and serve.
type app struct {
	cfg      *domain.Config
	logger   *slog.Logger
	lib      *templates.Library
	registry *instance.Registry
	router   *router.Router
	history  *session.Dir
	store    *toolstore.SQLStore // nil without store.databaseUrl
	conn     *sql.DB
}

// newLogger builds the process logger from the infra section.
func newLogger(infra domain.InfraConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(infra.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(infra.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// loadConfig reads path, falling back to the defaults when it does not exist.
func loadConfig(path string) (*domain.Config, error) {
	if path == "" {
		path = config.Path()
	}
	return config.LoadOrDefault(path)
}

func parseOptions(cfg *domain.Config) []toolconfig.ParseOption {
	return []toolconfig.ParseOption{toolconfig.AllowSharedIDs(!cfg.Tools.RejectDuplicateIDs)}
}

func newRegistry(cfg *domain.Config, logger *slog.Logger) *instance.Registry {
	engine := toolengine.New(
		toolengine.WithLogger(logger),
		toolengine.WithStepLimit(cfg.Tools.StepLimit),
		toolengine.WithTimeout(time.Duration(cfg.Tools.TimeoutMs)*time.Millisecond),
	)
	return instance.NewRegistry(engine,
		instance.WithLogger(logger),
		instance.WithSettings(instance.Settings{
			CarryResults:    cfg.Tools.CarryResults,
			EnforceRequired: cfg.Tools.EnforceRequired,
		}),
	)
}

// newLibrary loads the built-in templates plus the user directory. Invalid
// user files are logged and skipped.
func newLibrary(cfg *domain.Config, logger *slog.Logger) (*templates.Library, error) {
	lib, err := templates.New(templates.WithLogger(logger), templates.WithParseOptions(parseOptions(cfg)...))
	if err != nil {
		return nil, err
	}
	if dir := cfg.Tools.TemplatesDir; dir != "" {
		if err := lib.LoadDir(dir); err != nil {
			logger.Warn("templates: some user templates were skipped", "dir", dir, "error", err)
		}
	}
	return lib, nil
}

// newBrain builds the model gateway: provider, fallbacks and the context
// window manager.
func newBrain(cfg *domain.Config, lib *templates.Library, logger *slog.Logger) (*brain.Brain, error) {
	factory := llm.Factory{GetKey: llm.EnvKeys, Retry: &cfg.Retry, Local: lib.Respond, Logger: logger}
	provider, err := factory.New(&cfg.Agents)
	if err != nil {
		return nil, err
	}
	tok, err := tokenizer.New(cfg.Context.Tokenizer)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}
	limit := ctxmgr.ModelLimit(cfg.Agents.DefaultModel, cfg.Context.ModelLimit)
	opts := []brain.Option{
		brain.WithLogger(logger),
		brain.WithModel(cfg.Agents.DefaultModel),
		brain.WithContextManager(ctxmgr.NewManager(tok, limit, cfg.Context.ReservedTokens, ctxmgr.WithLogger(logger))),
	}
	if fbs := factory.Fallbacks(cfg.Agents.Fallbacks); len(fbs) > 0 {
		opts = append(opts, brain.WithFallbacks(fbs...))
	}
	return brain.NewBrain(provider, opts...), nil
}

// openApp loads the config at path, installs the process logger writing to
// logw and assembles the app.
func openApp(ctx context.Context, path string, logw io.Writer) (*app, error) {
	cfg, err := loadConfig(path)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Infra, logw)
	slog.SetDefault(logger)
	return buildApp(ctx, cfg, logger)
}

// buildApp assembles every component described by cfg.
func buildApp(ctx context.Context, cfg *domain.Config, logger *slog.Logger) (*app, error) {
	lib, err := newLibrary(cfg, logger)
	if err != nil {
		return nil, err
	}
	b, err := newBrain(cfg, lib, logger)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		lib:      lib,
		registry: newRegistry(cfg, logger),
		history:  session.NewDir(cfg.Store.HistoryDir),
	}

	chatWindow := min(cfg.Context.ChatWindow, cfg.Context.MaxWindow)
	toolWindow := min(cfg.Context.ToolWindow, cfg.Context.MaxWindow)
	opts := []router.Option{
		router.WithLogger(logger),
		router.WithDescriber(embed.NewDescriber(embed.NewHTTPFetcher(), embed.WithLogger(logger))),
		router.WithExamples(lib.Examples),
		router.WithParseOptions(parseOptions(cfg)...),
		router.WithWindows(chatWindow, toolWindow),
	}
	if cfg.Store.HistoryDir != "" {
		opts = append(opts, router.WithHistory(a.history.Store))
	}
	if cfg.Agents.PlanTools {
		opts = append(opts, router.WithPlanner(planner.NewPlanner(b, planner.WithLogger(logger))))
	}
	a.router = router.NewRouter(b, a.registry, opts...)

	if url := cfg.Store.DatabaseURL; url != "" {
		conn, err := db.Connect(ctx, url)
		if err != nil {
			return nil, err
		}
		store, err := toolstore.NewSQLStore(ctx, conn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		a.conn, a.store = conn, store
	}
	return a, nil
}

// Close releases the database connection.
func (a *app) Close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
}

// restore brings back the persisted tools of every known session. It
// returns the number of instances restored; broken records are logged and
// skipped.
func (a *app) restore(ctx context.Context, track func(*instance.Instance, string)) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	sessions, err := a.history.Sessions()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sid := range sessions {
		restored, err := a.restoreSession(ctx, sid, track)
		n += len(restored)
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

// restoreSession brings back the persisted tools of one session, oldest
// first.
func (a *app) restoreSession(ctx context.Context, sessionID string, track func(*instance.Instance, string)) ([]*instance.Instance, error) {
	if a.store == nil {
		return nil, nil
	}
	recs, err := a.store.List(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	var out []*instance.Instance
	for _, rec := range recs {
		if _, live := a.registry.Get(rec.ID); live {
			continue
		}
		in, err := toolstore.Restore(a.registry, rec, parseOptions(a.cfg)...)
		if err != nil {
			a.logger.Warn("toolstore: restore failed", "instance", rec.ID, "error", err)
			continue
		}
		if track != nil {
			track(in, sessionID)
		}
		out = append(out, in)
	}
	return out, nil
}
