// Package app provides the top-level application lifecycle for the
// cascade daemon. It wires stores, caches, blob storage, and services,
// then runs the selected operating mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/trancheworks/cascade/internal/config"
)

// App is the root application object. It owns the configuration, logger,
// and the cleanup functions run in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies for the configured mode, runs it, and blocks
// until the mode returns or the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	switch strings.ToLower(a.cfg.Mode) {
	case "run":
		// Run mode is a pure in-memory computation; no external
		// dependencies are wired.
		return a.RunMode(ctx)
	case "serve":
		deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("app: wire dependencies: %w", err)
		}
		a.closers = append(a.closers, cleanup)
		return a.ServeMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// Close tears down all resources in reverse registration order. Safe to
// call multiple times.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
