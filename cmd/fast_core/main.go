package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"pred_trader/internal/arb"
	"pred_trader/internal/config"
	"pred_trader/internal/core"
	"pred_trader/internal/engine"
	"pred_trader/internal/exchange"
	"pred_trader/internal/infrastructure/metrics"
	"pred_trader/internal/orders"
	"pred_trader/internal/risk"
	tradesignal "pred_trader/internal/signal"
	"pred_trader/internal/state"
	"pred_trader/pkg/logging"
	"pred_trader/pkg/telemetry"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	// Credentials come from the environment; a local .env is optional.
	_ = godotenv.Load()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	bootLogger, _ := logging.NewZapLogger("INFO")

	tel, err := telemetry.Setup("fast_core")
	if err != nil {
		bootLogger.Fatal("Failed to initialize telemetry", "error", err)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		bootLogger.Fatal("Failed to load configuration", "error", err)
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		bootLogger.Fatal("Failed to initialize logger", "error", err)
	}
	logging.SetGlobalLogger(logger)

	logger.Info("Starting fast core",
		"exchange", cfg.Exchange.Name,
		"state_backend", cfg.App.StateBackend,
		"tick", cfg.TickInterval().String())

	store, err := state.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open state store", "error", err)
	}
	if err := ensureSeedLimits(store, cfg, logger); err != nil {
		logger.Fatal("Failed to seed risk limits", "error", err)
	}

	exch, err := exchange.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize exchange adapter", "error", err)
	}

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := exch.CheckHealth(healthCtx); err != nil {
		healthCancel()
		logger.Fatal("Exchange health check failed, check credentials", "error", err)
	}
	healthCancel()

	guard := risk.NewToxicFlowGuard(cfg, logger)
	orderMgr := orders.NewManager(exch, logger)

	loop := engine.NewLoop(
		cfg,
		store,
		exch,
		tradesignal.NewChannel(store, time.Duration(cfg.Execution.SignalTTLS)*time.Second, logger),
		risk.NewManager(cfg, logger),
		guard,
		arb.NewDetector(cfg),
		orderMgr,
		orders.NewReconciler(exch, orderMgr, time.Duration(cfg.Execution.ReconcileGraceS)*time.Second, logger),
		logger,
	)

	var metricsSrv *metrics.Server
	if cfg.Telemetry.EnableMetrics {
		metricsSrv = metrics.NewServer(cfg.Telemetry.MetricsPort, logger)
		metricsSrv.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.ToxicFlow.FeedURL != "" {
		feed := exchange.NewReferenceFeed(cfg, logger)
		if err := feed.Start(gctx, guard.Observe); err != nil {
			logger.Fatal("Failed to start reference feed", "error", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return feed.Stop()
		})
	} else {
		logger.Warn("No reference feed configured, toxic flow guard will never trip")
	}

	g.Go(func() error {
		return loop.Run(gctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Fast core exited with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if metricsSrv != nil {
		if err := metricsSrv.Stop(shutdownCtx); err != nil {
			logger.Error("Metrics server shutdown failed", "error", err)
		}
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", "error", err)
	}
	logger.Info("Fast core stopped")
}

// ensureSeedLimits writes the configured risk limits into the snapshot on
// first start. An operator-set limit document is never overwritten.
func ensureSeedLimits(store core.IStateStore, cfg *config.Config, logger core.ILogger) error {
	snap, err := store.Read()
	if err != nil {
		return err
	}
	if snap.Limits.MaxPositionSize.IsPositive() {
		return nil
	}

	seed := cfg.SeedLimits()
	_, err = store.Update(context.Background(), core.OwnerControl, func(s *core.Snapshot) error {
		if s.Limits.MaxPositionSize.IsPositive() {
			return nil
		}
		s.Limits = core.RiskLimits{
			MaxPositionSize:    seed.MaxPositionSize,
			MaxOpenPositions:   seed.MaxOpenPositions,
			MaxFamilyExposure:  seed.MaxFamilyExposure,
			DailyDrawdownLimit: seed.DailyDrawdownLimit,
			WeeklyDrawdown:     seed.WeeklyDrawdown,
			MinEdge:            seed.MinEdge,
		}
		return nil
	})
	if err == nil {
		logger.Info("Seeded risk limits from configuration")
	}
	return err
}
