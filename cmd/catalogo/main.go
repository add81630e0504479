package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/catalogo-pos/catalogo/internal/app"
	cataloghttp "github.com/catalogo-pos/catalogo/internal/catalog/http"
	"github.com/catalogo-pos/catalogo/internal/catalogsync"
	"github.com/catalogo-pos/catalogo/internal/observability"
	"github.com/catalogo-pos/catalogo/internal/upstream/proxy"
	"github.com/catalogo-pos/catalogo/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	metrics := observability.NewMetrics()

	services, err := app.BuildServices(ctx, cfg, logger, metrics.Registerer())
	if err != nil {
		logger.Error("build services", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := services.Close(); err != nil {
			logger.Warn("close services", slog.Any("error", err))
		}
	}()

	engine := services.Engine
	if _, err := engine.Load(ctx); err != nil {
		logger.Error("load local catalog", slog.Any("error", err))
		os.Exit(1)
	}

	watcher := catalogsync.NewWatcher(services.Client.Ping, cfg.ConnectivityInterval, logger)
	engine.SetOnline(watcher.Online)
	watcher.OnRestore(func() {
		if err := engine.TriggerBackground(ctx, catalogsync.SyncOptions{}); err != nil {
			logger.Info("sync on reconnect skipped", slog.Any("error", err))
		}
	})
	if watcher.Check(ctx) {
		if err := engine.TriggerBackground(ctx, catalogsync.SyncOptions{}); err != nil {
			logger.Warn("startup sync", slog.Any("error", err))
		}
	}
	go watcher.Run(ctx)

	if cfg.SyncCron != "" {
		scheduler, err := catalogsync.NewScheduler(cfg.SyncCron, engine, logger)
		if err != nil {
			logger.Error("init scheduler", slog.Any("error", err))
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	var jobHandler *jobs.Handler
	if cfg.RedisAddr != "" {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer func() {
			_ = inspector.Close()
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger: logger,
		Config: cfg,
		CatalogHandler: cataloghttp.NewHandler(cataloghttp.Config{
			Engine:         engine,
			Store:          services.Store,
			Images:         services.Prefetcher,
			Online:         watcher.Online,
			AdminTokenHash: cfg.AdminTokenHash,
			Background:     ctx,
			Logger:         logger,
		}),
		ProxyHandler: proxy.NewHandler(services.Client, logger, 100*time.Millisecond),
		JobHandler:   jobHandler,
		Metrics:      metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	// ctx is cancelled, so running syncs stop at the next window boundary.
	engine.Wait()
	logger.Info("background syncs stopped")
}
