package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/catalogo-pos/catalogo/internal/catalogsync"
	jobmetrics "github.com/catalogo-pos/catalogo/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Syncer runs a catalog sync; *catalogsync.Engine satisfies it.
type Syncer interface {
	Sync(ctx context.Context, opts catalogsync.SyncOptions) (catalogsync.Result, error)
}

// CatalogSyncJob handles TaskCatalogSync.
type CatalogSyncJob struct {
	Syncer  Syncer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewCatalogSyncJob wires dependencies for the sync handler.
func NewCatalogSyncJob(syncer Syncer, logger *slog.Logger, metrics *jobmetrics.Metrics) *CatalogSyncJob {
	return &CatalogSyncJob{Syncer: syncer, Logger: logger, Metrics: metrics}
}

// Handle processes catalog sync tasks. A sync already running in this
// worker counts as success, and an offline upstream is retried by asynq.
func (j *CatalogSyncJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Syncer == nil {
		return errors.New("catalog sync: handler not configured")
	}
	var payload CatalogSyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskCatalogSync)
	logger := j.logger().With(slog.Bool("force", payload.Force))

	res, err := j.Syncer.Sync(ctx, catalogsync.SyncOptions{Force: payload.Force})
	if errors.Is(err, catalogsync.ErrSyncInProgress) {
		tracker.Skip()
		logger.Info("catalog sync already running")
		return nil
	}
	if err != nil {
		logger.Error("catalog sync task", slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("catalog sync task done",
		slog.String("run_id", res.RunID),
		slog.Int("synced", res.Synced),
		slog.Int("failed_pages", res.FailedPages))
	return tracker.End(nil)
}

func (j *CatalogSyncJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *CatalogSyncJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
