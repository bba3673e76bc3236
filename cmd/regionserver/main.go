package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/udisondev/gridsim/internal/audit"
	"github.com/udisondev/gridsim/internal/config"
	"github.com/udisondev/gridsim/internal/db"
	"github.com/udisondev/gridsim/internal/event"
	"github.com/udisondev/gridsim/internal/interest"
	"github.com/udisondev/gridsim/internal/land"
	"github.com/udisondev/gridsim/internal/metrics"
	"github.com/udisondev/gridsim/internal/primcount"
	"github.com/udisondev/gridsim/internal/world"
)

const ConfigPath = "config/regionserver.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("GRIDSIM_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadRegionServer(cfgPath)
	if err != nil {
		return fmt.Errorf("loading region server config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	database, err := db.New(ctx, cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	if err := db.RunMigrationsPool(ctx, database.Pool()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database ready", "host", cfg.Database.Host, "dbname", cfg.Database.DBName)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector, err := metrics.New(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	grid := world.NewGridService()
	region := grid.Register(world.RegionInfo{
		Name:      cfg.Region.Name,
		LocationX: cfg.Region.LocationX,
		LocationY: cfg.Region.LocationY,
		SizeX:     cfg.Region.SizeX,
		SizeY:     cfg.Region.SizeY,
	})

	bus := event.NewBus()
	lands := land.NewManager(bus)
	scene := world.NewScene(region.Handle, region.SizeX, region.SizeY, lands, bus)

	// Счётчики подписываются до загрузки, первый запрос всё равно пересчитает их полностью.
	counts := primcount.New(lands, scene, collector)
	counts.Wire(bus)

	if err := loadRegion(ctx, database, lands, scene); err != nil {
		return err
	}
	slog.Info("region initialized",
		"name", region.Name,
		"handle", region.Handle,
		"parcels", lands.Count(),
		"objects", scene.ObjectCount())

	// Подписываемся после загрузки, иначе загруженное уйдёт обратно в базу.
	store := db.NewRegionStore(db.NewParcelRepository(database.Pool()), db.NewObjectRepository(database.Pool()), scene)
	store.Wire(bus)

	culler := interest.NewCuller(cfg.Interest, region, grid)
	prioritizer := interest.NewPrioritizerFromConfig(cfg.Interest, interest.WithMetrics(collector))
	sink := interest.NewRecordingSink()
	interestMgr := interest.NewManager(cfg.Interest, scene, culler, prioritizer, sink, collector)

	primCountRepo := db.NewPrimCountRepository(database.Pool())
	reporter := &reporter{
		counts:   counts,
		repo:     primCountRepo,
		interval: cfg.PrimCounts.ReportInterval,
	}
	if cfg.PrimCounts.AuditDir != "" {
		auditLog := audit.NewPrimCountLog(cfg.PrimCounts.AuditDir)
		reporter.log = auditLog
		defer func() {
			if err := auditLog.Close(); err != nil {
				slog.Error("closing prim count audit log", "err", err)
			}
		}()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting interest manager",
			"interval", cfg.Interest.TickInterval,
			"scheme", prioritizer.Scheme(),
			"culling", cfg.Interest.UseCulling)
		if err := interestMgr.Start(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("interest manager: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting prim count report loop", "interval", reporter.interval)
		if err := reporter.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("prim count report loop: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting region store flush loop", "interval", cfg.Database.FlushInterval)
		if err := store.Run(gctx, cfg.Database.FlushInterval); err != nil && gctx.Err() == nil {
			return fmt.Errorf("region store: %w", err)
		}
		return nil
	})

	if cfg.Metrics.ListenAddress != "" {
		srv := newDebugServer(cfg.Metrics.ListenAddress, collector, counts, primCountRepo)
		g.Go(func() error {
			slog.Info("starting metrics listener", "address", cfg.Metrics.ListenAddress)
			if err := serve(gctx, srv); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// loadRegion populates land and scene from the database.
func loadRegion(ctx context.Context, database *db.DB, lands *land.Manager, scene *world.Scene) error {
	parcels, err := db.NewParcelRepository(database.Pool()).LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading parcels: %w", err)
	}
	for _, p := range parcels {
		if _, err := lands.Add(p); err != nil {
			slog.Warn("skipping parcel", "parcel", p.GlobalID, "name", p.Name, "err", err)
		}
	}

	objects, err := db.NewObjectRepository(database.Pool()).LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("loading scene objects: %w", err)
	}
	for _, obj := range objects {
		if err := scene.AddObject(obj); err != nil {
			slog.Warn("skipping scene object", "object", obj.ID(), "err", err)
		}
	}
	return nil
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
