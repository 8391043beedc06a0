// Package app provides the top-level application lifecycle management for
// the position orchestrator. It wires together all dependencies (stores,
// caches, venue clients, the funding provider, and the rebalance scheduler)
// and runs the HTTP server and scheduler until the context is cancelled.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/hedged/internal/config"
	"github.com/alanyoungcy/hedged/internal/server"
	"github.com/alanyoungcy/hedged/internal/server/handler"
)

// App is the root application object. It owns the configuration, logger,
// and a list of cleanup functions that are called in reverse order on
// shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, starts the
// rebalance scheduler and the HTTP server, and blocks until the context is
// cancelled or one of them fails. On return it runs all registered cleanup
// functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)
	defer a.Close()

	if a.cfg.Rebalance.Enabled {
		if err := deps.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("app: start rebalance scheduler: %w", err)
		}
		a.closers = append(a.closers, deps.Scheduler.Stop)
	}

	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled, running scheduler only")
		<-ctx.Done()
		return ctx.Err()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Positions: handler.NewPositionHandler(deps.Orchestrator, a.logger),
		Orders:    handler.NewOrderHandler(deps.DB.Orders(), a.logger),
		Rebalance: handler.NewRebalanceHandler(deps.Scheduler, a.logger),
	}, a.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
