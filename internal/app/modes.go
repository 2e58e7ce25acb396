package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ethereum/go-ethereum/common"

	"github.com/openhooks/matchbook/internal/server"
	"github.com/openhooks/matchbook/internal/server/ws"
	"github.com/openhooks/matchbook/internal/service"
)

// SimMode runs the in-process trading simulation: randomized maker and
// taker flow through the engine and pool, the event-feed server when
// enabled, and periodic archival when S3 is configured. It blocks until the
// context is cancelled or a component fails.
func (a *App) SimMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting sim mode")

	g, ctx := errgroup.WithContext(ctx)

	sim := service.NewSimulator(
		deps.Engine,
		deps.Pool,
		deps.Tokens,
		deps.Market,
		common.HexToAddress(a.cfg.Engine.Admin),
		service.SimulatorConfig{
			Makers:   a.cfg.Sim.Makers,
			Takers:   a.cfg.Sim.Takers,
			Interval: a.cfg.Sim.Interval.Duration,
			Seed:     a.cfg.Sim.Seed,
		},
		a.logger,
	)
	g.Go(func() error {
		return sim.Run(ctx)
	})

	if deps.Archiver != nil {
		retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
		svc := service.NewArchiveService(deps.Archiver, retention, 24*time.Hour, a.logger)
		g.Go(func() error {
			return svc.Run(ctx)
		})
	}

	if a.cfg.Server.Enabled {
		a.startServer(ctx, g, deps)
	}

	return g.Wait()
}

// ArchiveMode performs a single cold-storage export of matches and closed
// orders older than the retention window, then exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	svc := service.NewArchiveService(deps.Archiver, retention, 0, a.logger)
	return svc.RunOnce(ctx)
}

// startServer launches the WebSocket hub and HTTP server on the errgroup,
// plus a watcher that shuts the server down when the context ends.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	hub := ws.NewHub(deps.SignalBus, a.logger, a.cfg.Mode)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
	}, deps.OrderStore, deps.MatchStore, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	})
}
