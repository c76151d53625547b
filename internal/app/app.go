// Package app boots the trade engine. It wires concrete dependencies
// from configuration and runs the goroutines for the selected mode.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openbarter/tradecore/internal/config"
)

// App runs the engine in one of three modes: "server" (HTTP API, event
// feed, notifications), "scheduler" (deadline sweep and archival), or
// "full" (both in one process).
type App struct {
	cfg    *config.Config
	logger *slog.Logger
}

// New returns an App bound to the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{cfg: cfg, logger: logger.With(slog.String("component", "app"))}
}

// Run wires dependencies, dispatches on the configured mode, and blocks
// until the context is cancelled or a fatal error occurs. Every wired
// resource is released before it returns.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	defer cleanup()

	switch strings.ToLower(a.cfg.Mode) {
	case "server":
		return a.ServerMode(ctx, deps)
	case "scheduler":
		return a.SchedulerMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}
