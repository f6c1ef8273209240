package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"toolchat/internal/banner"
	"toolchat/internal/gateway"
	"toolchat/internal/signals"
)

// serveShutdownCh is set by tests to stop runServe without signals. Production leaves it nil.
var serveShutdownCh <-chan struct{}

// serveBindWaitIterations is the max loop count waiting for the gateway to bind.
var serveBindWaitIterations = 50

// runServe serves the gateway until a shutdown signal, shutdownCh closing,
// or a listen failure.
func runServe(cmd *cobra.Command, path, version string, shutdownCh <-chan struct{}) error {
	ctx, stop := signals.NotifyContext(cmd.Context())
	defer stop()

	a, err := openApp(ctx, path, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	banner.Startup(version, &banner.StartupOpts{Writer: out, Mode: "serve"})

	srv, err := gateway.NewServer(&a.cfg.Gateway, gateway.Deps{
		Router:    a.router,
		Registry:  a.registry,
		Templates: a.lib,
		Store:     a.store,
		Logger:    a.logger,
	})
	if err != nil {
		return err
	}

	n, err := a.restore(ctx, srv.Track)
	if err != nil {
		a.logger.Warn("toolstore: restore stopped early", "error", err)
	}
	if n > 0 {
		fmt.Fprintf(out, "  restored %d tool(s)\n", n)
	}

	if dir := a.cfg.Tools.TemplatesDir; a.cfg.Tools.WatchTemplates && dir != "" {
		onReload := func(err error) {
			if err != nil {
				a.logger.Warn("templates: reload had errors", "dir", dir, "error", err)
				return
			}
			a.logger.Info("templates: reloaded", "dir", dir)
		}
		if err := a.lib.Watch(ctx, dir, onReload); err != nil {
			a.logger.Warn("templates: watch failed", "dir", dir, "error", err)
		}
	}

	shutdown := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(shutdown)
	}()

	// Wait until the server has bound so "ready." means clients can connect.
	for i := 0; i < serveBindWaitIterations; i++ {
		if srv.Addr() != "" || srv.ListenErr() != nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if addr := srv.Addr(); addr != "" {
		fmt.Fprintf(out, "  listen %s  auth=%t\n  ready.\n", addr, a.cfg.Gateway.AuthToken != "")
	}

	select {
	case err := <-done:
		return fmt.Errorf("gateway: %w", err)
	case <-ctx.Done():
	case <-shutdownCh:
	}
	close(shutdown)
	return <-done
}
