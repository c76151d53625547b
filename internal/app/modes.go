package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openbarter/tradecore/internal/scheduler"
	"github.com/openbarter/tradecore/internal/server"
	"github.com/openbarter/tradecore/internal/server/handler"
	"github.com/openbarter/tradecore/internal/server/ws"
	"github.com/openbarter/tradecore/internal/service"
)

// ServerMode runs the HTTP API, WebSocket hub, and notification fan-out. No
// deadline sweeping happens in this mode; a separate scheduler-mode process
// is expected to enforce deadlines, and the admin sweep trigger only answers
// 202 without running anything locally.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifier(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, nil)

	return g.Wait()
}

// SchedulerMode runs deadline sweeping and cold-storage archival headlessly.
// It publishes the same trade events as user actions do, so a server-mode
// process picks up expiry notifications over the bus.
func (a *App) SchedulerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scheduler mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startScheduler(ctx, g, deps)

	return g.Wait()
}

// FullMode runs the API server and the scheduler in a single process. The
// admin sweep trigger is wired straight to the in-process sweep loop.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startNotifier(ctx, g, deps)
	sweeper := a.startScheduler(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, sweeper.TriggerChan())

	return g.Wait()
}

// startNotifier runs the notification fan-out when any sender is configured.
// The notifier subscribes to the bus itself, so server and scheduler split
// deployments must enable senders on exactly one side to avoid double sends.
func (a *App) startNotifier(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Notifier == nil || !deps.Notifier.HasSenders() {
		a.logger.InfoContext(ctx, "notifier disabled, no senders configured")
		return
	}
	g.Go(func() error {
		err := deps.Notifier.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})
}

// startScheduler builds the deadline sweeper and, when archival is enabled,
// the cold-storage archiver, and runs both under the orchestrator. The
// sweeper is returned so full mode can hand its trigger channel to the admin
// endpoint.
func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, deps *Dependencies) *scheduler.DeadlineSweeper {
	emitter := service.NewEventEmitter(deps.SignalBus, a.logger)

	sweeper := scheduler.NewDeadlineSweeper(deps.TradeStore, deps.AuditStore, emitter,
		scheduler.SweepConfig{
			BatchSize: a.cfg.Scheduler.ScanBatchSize,
			Workers:   a.cfg.Scheduler.Workers,
			Policy:    scheduler.ExpiryPolicy(a.cfg.Scheduler.ExpiryPolicy),
		}, a.logger)

	var archiver *scheduler.Archiver
	if deps.Archiver != nil {
		archiver = scheduler.NewArchiver(deps.Archiver, deps.LockManager, a.cfg.Archive.RetentionDays, a.logger)
	}

	orch := scheduler.NewOrchestrator(sweeper, archiver,
		a.cfg.Scheduler.ScanInterval.Duration, a.cfg.Archive.Cron, a.logger)

	g.Go(func() error {
		return orch.Run(ctx)
	})

	return sweeper
}

// startHTTPServer builds the service layer and all HTTP handlers, then runs
// the API server and WebSocket hub until the context is cancelled. triggerCh
// may be nil when no in-process sweep loop exists.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, triggerCh chan<- struct{}) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "HTTP server disabled by config")
		return
	}

	startedAt := time.Now().UTC()

	emitter := service.NewEventEmitter(deps.SignalBus, a.logger)
	resolver := service.NewItemResolver(deps.Catalog, deps.ProductCache, a.logger)
	negotiation := service.NewNegotiationService(
		deps.TradeStore, deps.AuditStore, resolver, deps.RateLimiter, emitter,
		service.NegotiationConfig{
			ResponseWindow:  a.cfg.Trade.ResponseWindow.Duration,
			PaymentWindow:   a.cfg.Trade.PaymentWindow.Duration,
			ShippingWindow:  a.cfg.Trade.ShippingWindow.Duration,
			MaxItemsPerSide: a.cfg.Trade.MaxItemsPerSide,
			CreateLimit:     a.cfg.Trade.CreateLimitPerHour,
			CreateWindow:    time.Hour,
		}, a.logger)
	fulfillment := service.NewFulfillmentService(deps.TradeStore, deps.AuditStore, emitter, a.logger)

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: startedAt,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	// Archive browsing is only available when blob storage is wired; the
	// handler answers 503 otherwise.
	var archives handler.ArchiveBrowser
	if deps.BlobReader != nil {
		archives = deps.BlobReader
	}

	sh := handler.NewSchedulerHandler(a.logger)
	if triggerCh != nil {
		sh = sh.WithTriggerChannel(triggerCh)
	}

	handlers := server.Handlers{
		Health:      handler.NewHealthHandler(deps.HealthChecks, a.logger),
		Status:      handler.NewStatusHandler(a.cfg.Mode, startedAt),
		Trades:      handler.NewTradeHandler(negotiation, a.logger),
		Fulfillment: handler.NewFulfillmentHandler(fulfillment, a.logger),
		Admin:       handler.NewAdminHandler(fulfillment, deps.AuditStore, archives, a.logger),
		Scheduler:   sh,
	}

	srv := server.NewServer(server.Config{
		Port:          a.cfg.Server.Port,
		CORSOrigins:   a.cfg.Server.CORSOrigins,
		AdminAPIKey:   a.cfg.Server.AdminAPIKey,
		APIRateLimit:  a.cfg.Server.RateLimitPerMinute,
		APIRateWindow: time.Minute,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.logger.InfoContext(ctx, "HTTP server shutting down")
		return srv.Shutdown(shutCtx)
	})
}
