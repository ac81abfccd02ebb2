package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pred_trader/internal/config"
	"pred_trader/internal/observer"
	"pred_trader/internal/state"
	"pred_trader/pkg/logging"
	"pred_trader/pkg/telemetry"
)

var configFile = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()
	_ = godotenv.Load()

	if envConfig := os.Getenv("CONFIG_FILE"); envConfig != "" {
		*configFile = envConfig
	}

	bootLogger, _ := logging.NewZapLogger("INFO")

	tel, err := telemetry.Setup("slow_core")
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

	store, err := state.NewStore(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open state store", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observer.New(cfg, store, logger).Run(ctx); err != nil {
		logger.Error("Slow core exited with error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Error("Telemetry shutdown failed", "error", err)
	}
	logger.Info("Slow core stopped")
}
