package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/chaincore/internal/chain"
	"github.com/vietddude/chaincore/internal/chain/cosmos"
	"github.com/vietddude/chaincore/internal/chain/evm"
	"github.com/vietddude/chaincore/internal/chain/near"
	"github.com/vietddude/chaincore/internal/chain/solana"
	"github.com/vietddude/chaincore/internal/controller"
	"github.com/vietddude/chaincore/internal/core/config"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	metricsAddr := flag.String("metrics-addr", ":9091", "Address for the metrics endpoint")
	pollInterval := flag.Duration("poll-interval", 30*time.Second, "How often to poll each chain's head")
	isDebug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// .env is optional, config values may reference its variables
	_ = godotenv.Load()

	// Load Configuration first (before setting up logger)
	cfg, err := config.Load(*configPath)
	if err != nil {
		// Fall back to default logger for config load errors
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// Simplifed logging logic (debug < info)
	slogLevel := slog.LevelInfo
	if *isDebug || cfg.Logging.Level == "debug" {
		slogLevel = slog.LevelDebug
	}

	// Initialize stylelog with tint.Options for level control
	stylelog.InitDefault(
		&tint.Options{
			Level:      slogLevel,
			TimeFormat: time.RFC3339,
		})
	slog.Info("Logger initialized", "level", slogLevel.String())

	// Register chain implementations
	registry := chain.NewRegistry()
	evm.Register(registry)
	solana.Register(registry)
	cosmos.Register(registry)
	near.Register(registry)

	var opts []controller.Option
	if cfg.Controller.RaceTimeout > 0 {
		opts = append(opts, controller.WithRaceTimeout(cfg.Controller.RaceTimeout))
	}
	if cfg.Controller.CacheTTL > 0 {
		opts = append(opts, controller.WithCacheTTL(cfg.Controller.CacheTTL))
	}
	ctrl := controller.New(cfg.Chains, registry, opts...)
	slog.Info("Controller initialized", "chains", len(cfg.Chains))

	// Setup Context with Cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Metrics endpoint
	metricsSrv := &http.Server{
		Addr:    *metricsAddr,
		Handler: promhttp.Handler(),
	}
	go func() {
		slog.Info("Metrics endpoint listening", "addr", *metricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Metrics endpoint failed", "error", err)
		}
	}()

	// Poll each chain's head so selection state and metrics stay warm
	go pollHeads(ctx, ctrl, cfg, *pollInterval)

	// Handle OS Signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Wait for Signal
	sig := <-sigChan
	slog.Info("Received signal, shutting down...", "signal", sig)
	cancel()

	// Graceful Shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Stopped gracefully")
}

func pollHeads(ctx context.Context, ctrl *controller.Controller, cfg *config.AppConfig, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		for _, chainInfo := range cfg.Chains {
			info, err := ctrl.GetInfo(ctx, chainInfo.Code)
			if err != nil {
				slog.Warn("Head poll failed", "chain", chainInfo.Code, "error", err)
				continue
			}
			slog.Info("Chain head",
				"chain", chainInfo.Code,
				"height", info.BestBlockNumber,
				"ready", info.IsReady)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
