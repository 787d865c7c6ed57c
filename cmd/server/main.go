package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"diaspore/internal/app"
	"diaspore/internal/chain"
	"diaspore/internal/config"
	"diaspore/internal/logging"
	"diaspore/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("DIASPORE_CONFIG"), "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("%v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := app.Wire(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("wire failed", zap.Error(err))
	}
	defer cleanup()

	apiServer := server.NewServer(server.Options{
		Port:              cfg.Server.Port,
		HMACSecret:        cfg.Server.HMACSecret,
		ClockSkew:         cfg.Server.ClockSkew.Duration,
		IdempotencyWindow: cfg.Server.IdempotencyWindow.Duration,
		Registry:          deps.Registry,
		Logger:            logger.Named("server"),
		RPCHealth: func(ctx context.Context) error {
			return chain.Ping(ctx, deps.Chain)
		},
	}, deps.API, deps.Journal, deps.Idempotency)

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		logger.Error("server stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}
