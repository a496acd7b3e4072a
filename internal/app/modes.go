package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/everest/internal/config"
	"github.com/alanyoungcy/everest/internal/scheduler"
	"github.com/alanyoungcy/everest/internal/server"
	"github.com/alanyoungcy/everest/internal/server/handler"
	"github.com/alanyoungcy/everest/internal/server/middleware"
	"github.com/alanyoungcy/everest/internal/server/ws"
)

const (
	componentHTTP      = "http"
	componentScheduler = "scheduler"

	shutdownTimeout = 5 * time.Second
)

type component struct {
	name string
	run  func(ctx context.Context) error
}

// plan lists the components mode runs. serve always runs the API; full
// honours the enabled switches and must leave something to run.
func plan(mode string, cfg *config.Config) ([]string, error) {
	switch mode {
	case "serve":
		return []string{componentHTTP}, nil
	case "worker":
		return []string{componentScheduler}, nil
	case "full":
		var names []string
		if cfg.Server.Enabled {
			names = append(names, componentHTTP)
		}
		if cfg.Scheduler.Enabled {
			names = append(names, componentScheduler)
		}
		if len(names) == 0 {
			return nil, fmt.Errorf("app: full mode with server and scheduler both disabled")
		}
		return names, nil
	default:
		return nil, fmt.Errorf("app: unsupported mode %q", mode)
	}
}

func (a *App) components(names []string, deps *Dependencies) []component {
	var out []component
	for _, name := range names {
		switch name {
		case componentHTTP:
			out = append(out, a.httpComponents(deps)...)
		case componentScheduler:
			sched := a.NewScheduler(deps)
			out = append(out, component{name: componentScheduler, run: sched.Run})
		}
	}
	return out
}

// NewScheduler builds the scheduler for deps. The archive loop only runs
// when S3 is wired.
func (a *App) NewScheduler(deps *Dependencies) *scheduler.Scheduler {
	return scheduler.New(deps.Engine, deps.Archiver, deps.Notifier, scheduler.Config{
		Interval:     a.cfg.Scheduler.Interval.Duration,
		RunOnStart:   a.cfg.Scheduler.RunOnStart,
		ArchiveCron:  a.cfg.Scheduler.ArchiveCron,
		ArchiveAfter: time.Duration(a.cfg.S3.ArchiveAfterDays) * 24 * time.Hour,
	}, a.logger)
}

// httpComponents returns the API server and, when Redis carries the event
// bus, the WebSocket hub feeding /ws.
func (a *App) httpComponents(deps *Dependencies) []component {
	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(deps.Checks, a.logger),
		Status:     handler.NewStatusHandler(a.cfg.Mode, a.cfg.Currency, deps.Engine.Today),
		Portfolios: handler.NewPortfolioHandler(deps.Engine, deps.Holdings, deps.Orders, a.logger),
		Orders:     handler.NewOrderHandler(deps.Orders, deps.Engine, a.logger),
		Products:   handler.NewProductHandler(deps.Products, deps.Engine.Today, a.logger),
	}

	var (
		out []component
		hub *ws.Hub
	)
	if deps.EventBus != nil {
		hub = ws.NewHub(deps.EventBus, a.cfg.Mode, a.logger,
			ws.WithOriginCheck(middleware.OriginCheck(a.cfg.Server.CORSOrigins)))
		handlers.Events = handler.NewEventHandler(deps.EventBus, a.logger)
		out = append(out, component{name: "ws", run: hub.Run})
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	return append(out, component{name: componentHTTP, run: func(ctx context.Context) error {
		return a.serveHTTP(ctx, srv)
	}})
}

func (a *App) serveHTTP(ctx context.Context, srv *server.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()
	a.logger.InfoContext(ctx, "HTTP server listening",
		slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		return err
	}
	return <-errc
}
