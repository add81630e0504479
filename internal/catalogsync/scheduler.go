package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Syncer runs a sync; *Engine satisfies it.
type Syncer interface {
	Sync(ctx context.Context, opts SyncOptions) (Result, error)
}

// Scheduler runs background syncs on a cron schedule.
type Scheduler struct {
	cron   *cron.Cron
	syncer Syncer
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler parses spec (standard five field cron or descriptors such as
// "@every 6h") and prepares the schedule. Call Start to begin.
func NewScheduler(spec string, syncer Syncer, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		syncer: syncer,
		logger: logger.With(slog.String("component", "scheduler")),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	if _, err := s.cron.AddFunc(spec, s.trigger); err != nil {
		return nil, fmt.Errorf("catalogsync: schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", slog.Int("entries", len(s.cron.Entries())))
	s.cron.Start()
}

// Stop halts the schedule and cancels a running scheduled sync, waiting for
// it to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) trigger() {
	_, err := s.syncer.Sync(s.ctx, SyncOptions{})
	switch {
	case err == nil:
	case errors.Is(err, ErrSyncInProgress):
		s.logger.Info("sync already running, skipping scheduled run")
	case errors.Is(err, ErrOffline):
		s.logger.Info("offline, skipping scheduled run")
	default:
		s.logger.Error("scheduled sync failed", slog.Any("error", err))
	}
}
