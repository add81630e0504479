package catalogsync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const defaultProbeTimeout = 10 * time.Second

// Probe reports whether the upstream can be reached.
type Probe func(ctx context.Context) error

// Watcher polls a Probe and tracks connectivity. It starts out online and
// calls the restore hooks on every offline to online transition.
type Watcher struct {
	probe    Probe
	interval time.Duration
	logger   *slog.Logger
	online   atomic.Bool

	mu      sync.Mutex
	restore []func()
}

// NewWatcher constructs a Watcher polling every interval.
func NewWatcher(probe Probe, interval time.Duration, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	w := &Watcher{probe: probe, interval: interval, logger: logger.With(slog.String("component", "connectivity"))}
	w.online.Store(true)
	return w
}

// Online reports the last observed connectivity.
func (w *Watcher) Online() bool {
	return w.online.Load()
}

// OnRestore registers fn to run when connectivity comes back.
func (w *Watcher) OnRestore(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.restore = append(w.restore, fn)
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check probes once and updates the state.
func (w *Watcher) Check(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, min(w.interval, defaultProbeTimeout))
	err := w.probe(probeCtx)
	cancel()
	if err != nil && ctx.Err() != nil {
		return w.Online()
	}
	w.Set(err == nil)
	if err != nil {
		w.logger.Debug("connectivity probe failed", slog.Any("error", err))
	}
	return err == nil
}

// Set records an externally observed connectivity state.
func (w *Watcher) Set(online bool) {
	was := w.online.Swap(online)
	if was == online {
		return
	}
	if !online {
		w.logger.Warn("upstream unreachable, working offline")
		return
	}
	w.logger.Info("connectivity restored")
	w.mu.Lock()
	hooks := append([]func(){}, w.restore...)
	w.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}
