package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"quantdesk/internal/api"
	"quantdesk/internal/app"
	"quantdesk/internal/config"
)

func main() {
	cfgPath := flag.String("config", config.Path(), "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Dual logger: stdout + /tmp log file.
	logger, logFile, err := app.OpenLogger("quantdesk-server", cfg.Logging)
	if err != nil {
		log.Fatalf("failed to open log: %v", err)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	stack, err := app.Build(cfg, logger)
	if err != nil {
		log.Fatalf("failed to build backtest stack: %v", err)
	}
	defer stack.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stack.StartHealthChecks(ctx, 30*time.Second)

	svc := api.NewService(stack.Engine, stack.Registry, stack.Results, logger)
	srv := api.NewServer(cfg.Server, svc,
		api.WithLogger(logger),
		api.WithMetrics(stack.Metrics),
		api.WithHealth(stack.Health),
	)

	slog.Info("starting quantdesk-server",
		"http", cfg.Server.Addr(),
		"grpc", cfg.Server.GRPCAddr(),
		"provider", cfg.Backtest.Provider,
		"strategies", stack.Registry.List(),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		stack.Close()
		log.Fatalf("server error: %v", err)
	}
}
