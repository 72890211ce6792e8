package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/fundingbot/internal/arbitrage"
	"github.com/alanyoungcy/fundingbot/internal/cache/redis"
	"github.com/alanyoungcy/fundingbot/internal/domain"
	"github.com/alanyoungcy/fundingbot/internal/feed"
	"github.com/alanyoungcy/fundingbot/internal/report"
	"github.com/alanyoungcy/fundingbot/internal/server"
	"github.com/alanyoungcy/fundingbot/internal/server/handler"
	"github.com/alanyoungcy/fundingbot/internal/server/ws"
	"github.com/alanyoungcy/fundingbot/internal/service"
)

// shutdownTimeout bounds the graceful HTTP shutdown.
const shutdownTimeout = 5 * time.Second

// ScanMode runs the scan loop plus the bus snapshot ingester.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	svc, err := a.newScanService(deps, a.busPublisher(deps))
	if err != nil {
		return fmt.Errorf("scan mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startIngester(ctx, g, deps)
	a.startScheduler(ctx, g, svc)
	return g.Wait()
}

// OnceMode runs a single cycle, prints the console report and exits.
func (a *App) OnceMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting once mode")

	svc, err := a.newScanService(deps, a.busPublisher(deps))
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	rep, err := svc.RunCycle(ctx)
	if err != nil {
		return fmt.Errorf("once mode: %w", err)
	}

	p := report.NewPrinter(a.out)
	if err := p.Profile(svc.Profile()); err != nil {
		return fmt.Errorf("once mode: print profile: %w", err)
	}
	if err := p.Report(rep); err != nil {
		return fmt.Errorf("once mode: print report: %w", err)
	}
	return nil
}

// ServerMode serves the HTTP API and WebSocket feed without scanning. Reports
// come from a scan replica through the shared Redis cache and bus.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	hub := a.newHub(deps)
	svc, err := a.newScanService(deps, nil)
	if err != nil {
		return fmt.Errorf("server mode: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	a.startIngester(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps, svc, hub)
	return g.Wait()
}

// FullMode runs the scan loop, the ingester and the HTTP API in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	var hub *ws.Hub
	publisher := a.busPublisher(deps)
	if a.cfg.Server.Enabled {
		hub = a.newHub(deps)
		if publisher == nil {
			publisher = hub
		}
	}

	svc, err := a.newScanService(deps, publisher)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	a.startIngester(ctx, g, deps)
	a.startScheduler(ctx, g, svc)
	if hub != nil {
		a.startHTTPServer(ctx, g, deps, svc, hub)
	}
	return g.Wait()
}

// newScanService builds the evaluation engine, the snapshot source and the
// sinks every cycle is recorded to. publisher may be nil.
func (a *App) newScanService(deps *Dependencies, publisher service.Publisher) (*service.ScanService, error) {
	profile, err := a.cfg.ScanProfile()
	if err != nil {
		return nil, err
	}
	eval, err := arbitrage.NewEvaluator(a.cfg.EvaluatorConfig())
	if err != nil {
		return nil, err
	}
	scanner := arbitrage.NewScanner(eval,
		arbitrage.WithWorkers(a.cfg.Scan.Workers),
		arbitrage.WithLogger(a.logger),
	)

	source, err := a.newSource(deps)
	if err != nil {
		return nil, err
	}

	sinks := service.ScanSinks{
		Store:   deps.OpportunityStore,
		Reports: deps.ReportCache,
		Bus:     publisher,
	}
	// Concrete pointers must not become non-nil interfaces.
	if deps.Archiver != nil {
		sinks.Archiver = deps.Archiver
	}
	if deps.Notifier.Enabled() {
		sinks.Alerter = deps.Notifier
	}

	var opts []service.ScanServiceOption
	if a.cfg.Scan.NotifyMinConfidence != "" {
		lvl, err := domain.ParseConfidence(a.cfg.Scan.NotifyMinConfidence)
		if err != nil {
			return nil, err
		}
		opts = append(opts, service.WithNotifyThreshold(lvl))
	}
	if sinks.Alerter != nil && a.cfg.Scan.AlertCooldown.Duration > 0 {
		var dedup domain.AlertDeduper = service.NewMemoryDeduper()
		if deps.AlertDeduper != nil {
			dedup = deps.AlertDeduper
		}
		opts = append(opts, service.WithAlertCooldown(dedup, a.cfg.Scan.AlertCooldown.Duration))
	}
	if a.cfg.Scan.Lock && deps.LockManager != nil {
		opts = append(opts, service.WithScanLock(deps.LockManager, a.cfg.Scan.LockTTL.Duration))
	}

	a.logger.Info("scan service configured",
		slog.String("profile", profile.Name),
		slog.String("feed", a.cfg.Scan.Feed),
		slog.Bool("store", sinks.Store != nil),
		slog.Bool("archive", sinks.Archiver != nil),
		slog.Bool("alerts", sinks.Alerter != nil),
	)
	return service.NewScanService(source, scanner, profile, sinks, a.logger, opts...), nil
}

func (a *App) newSource(deps *Dependencies) (feed.Source, error) {
	switch strings.ToLower(a.cfg.Scan.Feed) {
	case "file":
		return feed.NewFileSource(a.cfg.Scan.FeedFile), nil
	case "redis":
		if deps.SnapshotCache == nil {
			return nil, fmt.Errorf("redis feed requires redis.enabled")
		}
		return feed.NewCacheSource(deps.SnapshotCache, deps.FundingStore, a.cfg.Scan.Instruments, a.cfg.Scan.HistoryPoints, a.logger), nil
	default:
		return nil, fmt.Errorf("unknown feed %q", a.cfg.Scan.Feed)
	}
}

// busPublisher returns the Redis bus as a publisher, or nil without Redis.
func (a *App) busPublisher(deps *Dependencies) service.Publisher {
	if deps.SignalBus == nil {
		return nil
	}
	return deps.SignalBus
}

func (a *App) newIngester(deps *Dependencies) *feed.Ingester {
	if deps.SnapshotCache == nil {
		return nil
	}
	return feed.NewIngester(deps.SnapshotCache, deps.FundingStore, a.logger)
}

// startIngester consumes snapshots published on the bus. It is a no-op
// without Redis.
func (a *App) startIngester(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	ing := a.newIngester(deps)
	if ing == nil || deps.SignalBus == nil {
		return
	}
	g.Go(func() error {
		return ignoreCanceled(ing.Run(ctx, deps.SignalBus))
	})
}

func (a *App) startScheduler(ctx context.Context, g *errgroup.Group, svc *service.ScanService) {
	sched := service.NewScheduler(svc, a.cfg.Scan.Interval.Duration, a.cfg.Scan.ErrorBackoff.Duration, a.logger)
	g.Go(func() error {
		return ignoreCanceled(sched.Run(ctx))
	})
}

func (a *App) newHub(deps *Dependencies) *ws.Hub {
	profile, _ := a.cfg.ScanProfile()
	return ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Channels:  []string{service.OpportunitiesChannel},
		Mode:      a.cfg.Mode,
		Profile:   profile.Name,
		StartedAt: time.Now().UTC(),
	})
}

// startHTTPServer adds the hub loop, the HTTP server and its graceful
// shutdown to g.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	svc *service.ScanService,
	hub *ws.Hub,
) {
	hub.SetReports(svc)
	g.Go(func() error {
		return ignoreCanceled(hub.Run(ctx))
	})

	pingers := map[string]handler.Pinger{}
	if deps.Postgres != nil {
		pingers["postgres"] = deps.Postgres
	}
	if deps.Redis != nil {
		pingers["redis"] = deps.Redis
	}
	if deps.S3 != nil {
		pingers["s3"] = pingFunc(deps.S3.Health)
	}

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(pingers, a.logger),
		Status:        handler.NewStatusHandler(a.cfg.Mode, svc.Profile().Name, time.Now().UTC()),
		Opportunities: handler.NewOpportunityHandler(svc, a.logger),
		Profiles:      handler.NewProfileHandler(svc.Profile()),
	}
	if ing := a.newIngester(deps); ing != nil {
		handlers.Snapshots = handler.NewSnapshotHandler(ing, a.logger)
	}
	if deps.Archiver != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.Archiver, a.logger)
	}

	srvCfg := server.Config{
		Port:           a.cfg.Server.Port,
		CORSOrigins:    a.cfg.Server.CORSOrigins,
		APIKey:         a.cfg.Server.APIKey,
		RateLimitRPS:   a.cfg.Server.RateLimitRPS,
		RateLimitBurst: a.cfg.Server.RateLimitBurst,
	}
	if a.cfg.Server.RateLimitShared && deps.Redis != nil && a.cfg.Server.RateLimitRPS > 0 {
		srvCfg.Limiter = sharedLimiter(deps.Redis, a.cfg.Server.RateLimitRPS, a.cfg.Server.RateLimitBurst)
	}
	srv := server.NewServer(srvCfg, handlers, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// sharedLimiter converts a token bucket of rps with burst into a Redis
// sliding window of burst requests per window.
func sharedLimiter(c *redis.Client, rps float64, burst int) *redis.RateLimiter {
	return redis.NewRateLimiter(c, burst, limiterWindow(rps, burst))
}

// limiterWindow is burst/rps seconds, at least one second.
func limiterWindow(rps float64, burst int) time.Duration {
	window := time.Duration(float64(burst) / rps * float64(time.Second))
	if window < time.Second {
		window = time.Second
	}
	return window
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// ignoreCanceled treats shutdown by cancellation as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
