// Package app provides the top-level lifecycle of the everest engine. It
// wires stores, caches, blob storage, services and notifications, and runs
// the components the configured mode needs.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/everest/internal/config"
)

// App owns the configuration, the logger and the cleanup of everything
// Wire built.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	mu      sync.Mutex
	closers []func()
}

func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires dependencies and blocks until ctx is cancelled or a component
// fails. Cancellation is a clean exit.
func (a *App) Run(ctx context.Context) error {
	mode := strings.ToLower(a.cfg.Mode)
	names, err := plan(mode, a.cfg)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "starting",
		slog.String("mode", mode),
		slog.String("driver", a.cfg.Database.Driver),
		slog.Any("components", names),
	)
	a.logger.DebugContext(ctx, "effective configuration", slog.Any("config", config.RedactedConfig(a.cfg)))

	deps, err := a.Wire(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range a.components(names, deps) {
		g.Go(func() error {
			err := c.run(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				a.logger.DebugContext(gctx, "component stopped", slog.String("name", c.name))
				return nil
			}
			return fmt.Errorf("app: %s: %w", c.name, err)
		})
	}
	return g.Wait()
}

// Wire builds the dependency graph and registers its cleanup with the App.
// Commands that only need the engine call this instead of Run.
func (a *App) Wire(ctx context.Context) (*Dependencies, error) {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.mu.Lock()
	a.closers = append(a.closers, cleanup)
	a.mu.Unlock()
	return deps, nil
}

// Close releases resources in reverse order. Later calls do nothing.
func (a *App) Close() {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	if len(closers) == 0 {
		return
	}
	a.logger.Info("shutting down")
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
