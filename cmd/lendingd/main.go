// Package main runs the lending HTTP service.
//
// Settings are read from the environment (see package config) and can be overridden by flags.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/AntonStoeckl/library-lending-go/config"
	"github.com/AntonStoeckl/library-lending-go/httpapi"
	"github.com/AntonStoeckl/library-lending-go/lending"
	"github.com/AntonStoeckl/library-lending-go/lending/oteladapters"
	"github.com/AntonStoeckl/library-lending-go/lending/promadapters"
	"github.com/AntonStoeckl/library-lending-go/lending/sqlengine"
)

const serviceName = "lendingd"

func main() {
	settings, err := config.FromEnv()
	if err != nil {
		log.Fatalf("Invalid settings: %v", err)
	}

	settings = parseFlags(settings)

	logger := newLogger(settings.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err = run(ctx, settings, logger)
	stop()

	if err != nil {
		logger.Error("lendingd stopped with error", "error", err.Error())
		os.Exit(1)
	}
}

func parseFlags(settings config.Settings) config.Settings {
	var (
		adapter      = flag.String("adapter", settings.Adapter, "Database adapter: pgx, sql, sqlx, sqlite, memory")
		dsn          = flag.String("dsn", settings.DSN, "PostgreSQL connection string")
		addr         = flag.String("addr", settings.Addr, "HTTP listen address")
		sqlitePath   = flag.String("sqlite-path", settings.SQLitePath, "SQLite database file")
		otlpEndpoint = flag.String("otlp-endpoint", settings.OTLPEndpoint, "OTLP gRPC endpoint for traces, empty disables export")
		logLevel     = flag.String("log-level", settings.LogLevel, "Log level: debug, info, warn, error")
	)

	flag.Parse()

	settings.Adapter = *adapter
	settings.DSN = *dsn
	settings.Addr = *addr
	settings.SQLitePath = *sqlitePath
	settings.OTLPEndpoint = *otlpEndpoint
	settings.LogLevel = *logLevel

	if err := settings.Validate(); err != nil {
		log.Fatalf("Invalid flags: %v", err)
	}

	return settings
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	providers, err := config.NewObservabilityProviders(ctx, serviceName, settings.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := providers.Shutdown(); shutdownErr != nil {
			logger.Warn("shutting down tracing failed", "error", shutdownErr.Error())
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	contextualLogger := oteladapters.NewSlogBridgeLoggerWithHandler(logger.Handler())
	metricsCollector := promadapters.NewMetricsCollector(registry)
	tracingCollector := oteladapters.NewTracingCollector(otel.Tracer(serviceName))

	backend, err := config.OpenBackend(ctx, settings,
		sqlengine.WithContextualLogger(contextualLogger),
		sqlengine.WithMetrics(metricsCollector),
		sqlengine.WithTracing(tracingCollector),
	)
	if err != nil {
		return err
	}
	defer backend.Close()

	engine, err := lending.NewEngine(backend.Catalog, backend.Members, backend.Ledger,
		lending.WithLoanPeriod(settings.LoanDays),
		lending.WithFinePerDay(settings.FinePerDay),
		lending.WithStoreTimeout(settings.StoreTimeout),
		lending.WithContextualLogger(contextualLogger),
		lending.WithMetrics(metricsCollector),
		lending.WithTracing(tracingCollector),
	)
	if err != nil {
		return err
	}

	router := chi.NewRouter()
	httpapi.New(engine, logger).Register(router)
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	server := &http.Server{
		Addr:              settings.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening", "addr", settings.Addr, "adapter", settings.Adapter)
		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errChan <- serveErr
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err = <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	logger.Info("lendingd stopped")

	return nil
}
