// Package app wires configuration, telemetry, storage, and the
// supervisor/worker role dispatch into a single runnable process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wisbric/avitosentry/internal/config"
	"github.com/wisbric/avitosentry/internal/external"
	"github.com/wisbric/avitosentry/internal/platform"
	"github.com/wisbric/avitosentry/internal/telemetry"
	"github.com/wisbric/avitosentry/pkg/browsersession"
	"github.com/wisbric/avitosentry/pkg/dedup"
	"github.com/wisbric/avitosentry/pkg/opsalert"
	"github.com/wisbric/avitosentry/pkg/queue"
	"github.com/wisbric/avitosentry/pkg/supervisor"
	"github.com/wisbric/avitosentry/pkg/worker"
)

// Run loads configuration and dispatches to the supervisor or worker role
// per cfg.Mode.
func Run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("app: loading config: %w", err)
	}

	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	registry := telemetry.NewMetricsRegistry(telemetry.All()...)

	metricsSrv := startMetricsServer(cfg.MetricsAddr, registry, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	if err := platform.RunMigrations(cfg.DSN(), cfg.MigrationsDir); err != nil {
		return fmt.Errorf("app: running migrations: %w", err)
	}

	switch cfg.Mode {
	case "supervisor":
		return runSupervisor(ctx, cfg, logger)
	case "worker":
		return runWorker(ctx, cfg, logger)
	default:
		return fmt.Errorf("app: unknown AVITOSENTRY_MODE %q (want supervisor or worker)", cfg.Mode)
	}
}

func startMetricsServer(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	router := chi.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: router}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped unexpectedly", "error", err)
		}
	}()
	return srv
}

// runSupervisor re-execs this same binary NumWorkers times in worker
// mode, one per display index.
func runSupervisor(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("app: resolving own executable path: %w", err)
	}

	sup := supervisor.New(cfg.NumWorkers, self, nil, logger)
	return sup.Run(ctx)
}

func runWorker(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	pool, err := platform.NewPostgresPool(ctx, cfg.DSN(), int32(cfg.PoolMinSize), int32(cfg.PoolMaxSize))
	if err != nil {
		return fmt.Errorf("app: connecting to postgres: %w", err)
	}
	defer pool.Close()

	store := queue.NewStore(pool)

	rdb, err := platform.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("app: connecting to redis: %w", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	alerter := opsalert.New(cfg.SlackBotToken, cfg.SlackAlertChannel, logger)
	workerLogger := logger.With("worker_id", cfg.WorkerID)

	w := worker.New(worker.Config{
		WorkerID:                  cfg.WorkerID,
		Display:                   cfg.Display,
		NoTasksWait:               cfg.NoTasksWait,
		NoProxiesWait:             cfg.NoProxiesWait,
		HeartbeatInterval:         cfg.HeartbeatInterval,
		StuckTaskTimeout:          cfg.StuckTaskTimeout,
		MaxRetryAttempts:          cfg.MaxRetryAttempts,
		PageRequestTimeout:        cfg.PageRequestTimeout,
		CatalogProxyRotationLimit: cfg.CatalogProxyRotationLimit,
		DetailPageTimeout:         cfg.DetailPageTimeout,
		GeminiAPIKey:              cfg.GeminiAPIKey,
	}, worker.Deps{
		Store: store,
		Launcher: &browsersession.Launcher{
			Headless:           true,
			DebugScreenshots:   cfg.DebugScreenshots,
			DebugScreenshotDir: "/tmp/avitosentry-screenshots",
		},
		Detector: external.Detector{},
		Solver:   external.Solver{},
		Orch:     external.Orchestrator{},
		Parser:   external.Parser{},
		Logger:   workerLogger,
		Alerter:  alerter,
		Dedup:    dedup.New(rdb, workerLogger),
	})

	w.Run(ctx)
	return nil
}
