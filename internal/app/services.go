package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/catalogo-pos/catalogo/internal/catalogsync"
	"github.com/catalogo-pos/catalogo/internal/imagecache"
	"github.com/catalogo-pos/catalogo/internal/observability"
	"github.com/catalogo-pos/catalogo/internal/platform/cache"
	"github.com/catalogo-pos/catalogo/internal/platform/db"
	"github.com/catalogo-pos/catalogo/internal/store"
	"github.com/catalogo-pos/catalogo/internal/upstream"
)

// Services bundles the long-lived components shared by the binaries.
type Services struct {
	Store       store.Store
	Client      *upstream.Client
	Redis       *redis.Client
	ImageCache  imagecache.Cache
	Prefetcher  *imagecache.Prefetcher
	Engine      *catalogsync.Engine
	SyncMetrics *observability.SyncMetrics

	closers []func() error
}

// BuildServices connects storage and wires the sync engine. registerer may be
// nil to skip metric registration.
func BuildServices(ctx context.Context, cfg *Config, logger *slog.Logger, registerer prometheus.Registerer) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Services{}
	if registerer != nil {
		svc.SyncMetrics = observability.NewSyncMetrics(registerer)
	}

	client, err := upstream.NewClient(upstream.Config{
		BaseURL:     cfg.UpstreamURL,
		Auth:        cfg.UpstreamAuth,
		Timeout:     cfg.UpstreamTimeout,
		MaxPageSize: cfg.UpstreamPageSize,
		RPS:         cfg.UpstreamRPS,
		Burst:       cfg.UpstreamBurst,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	svc.Client = client

	st, err := openStore(ctx, cfg, logger, svc)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Store = st

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	if redisClient != nil {
		svc.Redis = redisClient
		svc.closers = append(svc.closers, redisClient.Close)
		svc.ImageCache = imagecache.NewRedisCache(redisClient, cfg.ImageTTL)
	} else {
		logger.Info("redis not configured, using in-memory image cache")
		svc.ImageCache = imagecache.NewMemoryCache(cfg.ImageMemEntries)
	}

	var recorder imagecache.Recorder
	var metrics catalogsync.Metrics
	if svc.SyncMetrics != nil {
		recorder = svc.SyncMetrics
		metrics = svc.SyncMetrics
	}
	svc.Prefetcher = imagecache.NewPrefetcher(imagecache.Options{
		Cache:    svc.ImageCache,
		MaxBytes: cfg.ImageMaxBytes,
		Logger:   logger,
		Recorder: recorder,
	})

	engine, err := catalogsync.NewEngine(catalogsync.Options{
		Client:              client,
		Store:               st,
		Prefetcher:          svc.Prefetcher,
		Logger:              logger,
		Metrics:             metrics,
		Concurrency:         cfg.SyncConcurrency,
		PageSize:            cfg.UpstreamPageSize,
		PrefetchConcurrency: cfg.ImageConcurrency,
		ProgressEstimate:    cfg.SyncProgressEstimate,
		WindowPause:         cfg.SyncWindowPause,
	})
	if err != nil {
		_ = svc.Close()
		return nil, err
	}
	svc.Engine = engine
	return svc, nil
}

func openStore(ctx context.Context, cfg *Config, logger *slog.Logger, svc *Services) (store.Store, error) {
	switch cfg.StoreDriver {
	case StorePostgres:
		pool, err := db.New(ctx, cfg.PGDSN, 4)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		st, err := store.NewPostgresStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		svc.closers = append(svc.closers, st.Close)
		return st, nil
	default:
		st, err := store.OpenSQLite(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, st.Close)
		return st, nil
	}
}

// Close releases storage and cache connections in reverse order.
func (s *Services) Close() error {
	if s == nil {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
