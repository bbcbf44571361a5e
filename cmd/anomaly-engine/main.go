package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/betterdb/anomaly-engine/internal/api"
	"github.com/betterdb/anomaly-engine/internal/config"
	"github.com/betterdb/anomaly-engine/internal/engine"
	"github.com/betterdb/anomaly-engine/internal/metrics"
	"github.com/betterdb/anomaly-engine/internal/services"
	"github.com/betterdb/anomaly-engine/internal/storage"
	"github.com/betterdb/anomaly-engine/internal/utils"
	"github.com/betterdb/anomaly-engine/internal/valkey"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	if err := run(configPath); err != nil {
		slog.Error("anomaly-engine exited", slog.String("config", configPath), slog.Any("error", err))
		os.Exit(1)
	}
}

// run wires every component and blocks until SIGINT or SIGTERM. Resources
// opened here are released on every return path.
func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	slog.SetDefault(logger)
	logger.Info("starting anomaly-engine",
		slog.String("address", cfg.Server.Address),
		slog.String("valkey", cfg.Valkey.Addr),
		slog.String("storage", cfg.Storage.Driver),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := valkey.NewClient(ctx, valkey.Config{
		Addr:         cfg.Valkey.Addr,
		Username:     cfg.Valkey.Username,
		Password:     cfg.Valkey.Password,
		DB:           cfg.Valkey.DB,
		DialTimeout:  cfg.Valkey.DialTimeout,
		ReadTimeout:  cfg.Valkey.ReadTimeout,
		WriteTimeout: cfg.Valkey.WriteTimeout,
		MaxRetries:   cfg.Valkey.MaxRetries,
		TLS:          cfg.Valkey.TLS,
	})
	if err != nil {
		return fmt.Errorf("connect to valkey %s: %w", cfg.Valkey.Addr, err)
	}
	collector := valkey.NewCollector(client, logger)

	store, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store close", slog.Any("error", err))
		}
	}()

	rules, err := engine.LoadRules(cfg.Rules.Path, logger)
	if err != nil {
		return fmt.Errorf("load rule overrides: %w", err)
	}

	monitor := engine.NewMonitor(engine.MonitorConfig{
		MaxSamples:   cfg.Buffer.MaxSamples,
		MinSamples:   cfg.Buffer.MinSamples,
		Detectors:    cfg.Detectors,
		WindowMs:     cfg.Correlation.WindowMs,
		Rules:        rules,
		ResolveAfter: cfg.Sampling.ResolveAfter,
		Retention:    cfg.Storage.Retention,
	}, collector, store, logger)

	queries := services.NewQueryService(logger, store, monitor)
	anomalyService := services.NewAnomalyService(logger, queries)

	server, err := api.NewServer(cfg.Server, anomalyService)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	var httpServer *http.Server
	if cfg.Server.HTTPAddress != "" {
		httpServer = &http.Server{
			Addr:         cfg.Server.HTTPAddress,
			Handler:      api.NewRouter(queries, promhttp.Handler(), logger),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	monitorDone := make(chan struct{})
	go func() {
		defer close(monitorDone)
		if err := monitor.Run(ctx, cfg.Sampling.Interval); err != nil {
			logger.Error("monitor exited", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
	}

	select {
	case <-monitorDone:
	case <-shutdownCtx.Done():
		logger.Warn("monitor did not stop before the graceful timeout")
	}
	logger.Info("anomaly-engine stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
		return storage.NewSQLStore(ctx, cfg.Driver, cfg.DSN)
	default:
		return storage.NewMemoryStore(cfg.MaxEvents, cfg.MaxGroups), nil
	}
}
