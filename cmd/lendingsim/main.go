// Package main runs a concurrent borrow and return workload against the lending engine
// and verifies that inventory, holdings and ledger still agree afterwards.
//
// The backend is selected with the same environment variables as lendingd, e.g.
//
//	DB_ADAPTER=sqlite LENDING_SQLITE_PATH=/tmp/sim.db lendingsim -workers 8
//
// It exits with status 1 if any invariant is violated.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AntonStoeckl/library-lending-go/config"
	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/oteladapters"
)

func main() {
	os.Exit(execute())
}

func execute() int {
	cfg := parseFlags()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	settings, err := config.FromEnv()
	if err != nil {
		logger.Error("invalid settings", "error", err.Error())
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	return run(ctx, cfg, settings, logger)
}

func run(ctx context.Context, cfg Config, settings config.Settings, logger *slog.Logger) int {
	backend, err := config.OpenBackend(ctx, settings)
	if err != nil {
		logger.Error("opening backend failed", "adapter", settings.Adapter, "error", err.Error())
		return 1
	}
	defer backend.Close()

	engine, err := lending.NewEngine(backend.Catalog, backend.Members, backend.Ledger,
		lending.WithStoreTimeout(settings.StoreTimeout),
		lending.WithContextualLogger(oteladapters.NewSlogBridgeLoggerWithHandler(logger.Handler())),
	)
	if err != nil {
		logger.Error("creating engine failed", "error", err.Error())
		return 1
	}

	simulation := NewSimulation(cfg, engine, backend)

	if err = simulation.Setup(ctx); err != nil {
		logger.Error("setup failed", "error", err.Error())
		return 1
	}

	start := time.Now()
	report := simulation.Run(ctx)
	elapsed := time.Since(start)

	violations := simulation.Verify(context.WithoutCancel(ctx))

	logger.Warn("simulation finished",
		"adapter", settings.Adapter,
		"seed", cfg.Seed,
		"duration_ms", elapsed.Milliseconds(),
		"report", report.String(),
		"violations", len(violations),
	)

	for _, violation := range violations {
		logger.Error("invariant violated", "error", violation.Error())
	}

	if len(violations) > 0 {
		return 1
	}

	return 0
}
