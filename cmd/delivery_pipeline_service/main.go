package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aradsms/messaging_gateway/internal/platform/config"
	"github.com/aradsms/messaging_gateway/internal/platform/logger"
)

const serviceName = "delivery_pipeline_service"

func main() {
	configPath := flag.String("config-dir", "./configs", "directory holding the config file")
	configName := flag.String("config", "config.defaults", "config file name without extension")
	flag.Parse()

	cfg, err := config.Load(*configPath, *configName)
	if err != nil {
		slog.Error("Failed to load configuration", "service", serviceName, "error", err)
		os.Exit(1)
	}
	cfg.NodeID = nodeID(cfg.NodeID)

	appLogger := logger.NewWithOutput(cfg.LogLevel, cfg.LogFormat, os.Stdout).With("service", serviceName, "node_id", cfg.NodeID)
	appLogger.Info("Delivery pipeline starting...",
		"port", cfg.HTTPPort, "store_backend", cfg.StoreBackend, "provider_mode", cfg.ProviderMode, "nats_enabled", cfg.NATSEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, nil, appLogger)
	if err != nil {
		appLogger.Error("Failed to initialise pipeline", "error", err)
		os.Exit(1)
	}
	defer p.Close()

	if err := p.run(ctx); err != nil {
		appLogger.Error("Delivery pipeline stopped with error", "error", err)
		p.Close()
		os.Exit(1)
	}
	appLogger.Info("Delivery pipeline shut down.")
}
