// Command guardd runs the ingress guard in front of a stub document
// analyzer. It serves POST /api/analyze, GET /healthz and, with the
// Prometheus exporter, GET /metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	guard "github.com/giantswarm/ingress-guard"
	"github.com/giantswarm/ingress-guard/instrumentation"
	"github.com/giantswarm/ingress-guard/storage"
	"github.com/giantswarm/ingress-guard/storage/redis"
	"github.com/giantswarm/ingress-guard/storage/valkey"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const readHeaderTimeout = 10 * time.Second

func main() {
	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err = run(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("guardd exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, logger *slog.Logger) error {
	store, closeStore, err := initStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init storage: %w", err)
	}
	defer closeStore()

	cfg.Guard.Logger = logger
	srv, err := guard.NewServer(store, &cfg.Guard)
	if err != nil {
		return fmt.Errorf("failed to create guard: %w", err)
	}
	defer srv.Stop()

	inst, err := instrumentation.New(instrumentation.Config{
		Enabled:         cfg.MetricsExporter != instrumentation.ExporterNone,
		ServiceVersion:  version,
		LogClientIPs:    cfg.LogClientIPs,
		MetricsExporter: cfg.MetricsExporter,
	})
	if err != nil {
		return fmt.Errorf("failed to init instrumentation: %w", err)
	}
	defer func() {
		if err := inst.Shutdown(context.Background()); err != nil {
			logger.Warn("Instrumentation shutdown failed", "error", err)
		}
	}()
	srv.SetInstrumentation(inst)

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(srv, logger, cfg.MetricsExporter == instrumentation.ExporterPrometheus),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("guardd listening", "addr", cfg.Addr, "store", cfg.Store, "version", version)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// newRouter mounts the guarded analyze endpoint, the health check and,
// optionally, the Prometheus scrape endpoint.
func newRouter(srv *guard.Server, logger *slog.Logger, withMetrics bool) http.Handler {
	handler := guard.NewHandler(srv, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Method(http.MethodPost, "/api/analyze", handler.ServeAnalyze(stubAnalyzer{server: srv, logger: logger}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, `{"status":"healthy"}`)
	})
	if withMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}
	return r
}

// initStorage returns the configured quota store. A nil store with a no-op
// close lets the guard create and own its in-memory store.
func initStorage(cfg config, logger *slog.Logger) (storage.QuotaStore, func(), error) {
	switch cfg.Store {
	case storeValkey:
		store, err := valkey.New(valkey.Config{
			Address:   cfg.StoreAddr,
			Password:  cfg.StorePassword,
			KeyPrefix: cfg.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case storeRedis:
		store, err := redis.New(redis.Config{
			Address:   cfg.StoreAddr,
			Password:  cfg.StorePassword,
			KeyPrefix: cfg.KeyPrefix,
			Logger:    logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Warn("Failed to close redis store", "error", err)
			}
		}, nil
	default:
		return nil, func() {}, nil
	}
}
