// Package catalogsync mirrors the upstream catalog into the local store.
package catalogsync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/imagecache"
	"github.com/catalogo-pos/catalogo/internal/store"
	"github.com/catalogo-pos/catalogo/internal/upstream"
)

const (
	DefaultConcurrency         = 5
	DefaultPrefetchConcurrency = 10
	DefaultProgressEstimate    = 500

	// maxWindowPercent caps progress until images and finalisation are done.
	maxWindowPercent = 95
	// interimThreshold is how many products a first sync must commit before
	// an empty snapshot is filled from the store mid-sync.
	interimThreshold = 50
)

var (
	// ErrSyncInProgress is returned when a sync is already running. It marks
	// a no-op, not a failure.
	ErrSyncInProgress = errors.New("catalogsync: sync already in progress")
	// ErrOffline is returned when the connectivity watcher reports no network.
	ErrOffline = errors.New("catalogsync: offline")
	// ErrWindowFailed aborts a sync when every page of a window failed.
	ErrWindowFailed = errors.New("catalogsync: every page in window failed")
)

// Fetcher is the part of upstream.Client the engine uses.
type Fetcher interface {
	FetchPage(ctx context.Context, offset, pageSize int) (upstream.Page, error)
	PageSize(requested int) int
}

// Prefetcher warms the image cache.
type Prefetcher interface {
	Prefetch(ctx context.Context, urls []string, concurrency int, progress func(done, total int)) imagecache.Summary
}

// Options configures an Engine.
type Options struct {
	Client     Fetcher
	Store      store.Store
	Prefetcher Prefetcher
	Logger     *slog.Logger
	Metrics    Metrics

	Concurrency         int
	PageSize            int
	PrefetchConcurrency int
	// ProgressEstimate is the expected catalog size used to scale progress.
	ProgressEstimate int
	// WindowPause throttles upstream load between windows.
	WindowPause time.Duration
	// Online reports connectivity; nil means always online.
	Online func() bool
	Clock  func() time.Time
}

// SyncOptions selects the kind of sync.
type SyncOptions struct {
	// Force clears the local products before repopulating them.
	Force bool `json:"force"`
}

// Result summarises one Sync call.
type Result struct {
	RunID string `json:"run_id,omitempty"`
	// Synced counts unique active products received.
	Synced int `json:"synced"`
	// Committed counts product rows written, including rewrites.
	Committed   int                `json:"committed"`
	FailedPages int                `json:"failed_pages"`
	Pages       int                `json:"pages"`
	Images      imagecache.Summary `json:"images"`
	Products    []catalog.Product  `json:"-"`
	Skipped     bool               `json:"skipped,omitempty"`
	Duration    time.Duration      `json:"duration"`
}

// Engine runs catalog syncs. At most one sync runs at a time per Engine.
type Engine struct {
	client     Fetcher
	store      store.Store
	prefetcher Prefetcher
	logger     *slog.Logger
	metrics    Metrics
	progress   *Broadcaster

	concurrency         int
	pageSize            int
	prefetchConcurrency int
	estimate            int
	pause               time.Duration
	online              atomic.Pointer[func() bool]
	now                 func() time.Time

	running    atomic.Bool
	background sync.WaitGroup

	mu       sync.RWMutex
	products []catalog.Product
}

// NewEngine validates opts and constructs an Engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, errors.New("catalogsync: client required")
	}
	if opts.Store == nil {
		return nil, errors.New("catalogsync: store required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	prefetchConcurrency := opts.PrefetchConcurrency
	if prefetchConcurrency <= 0 {
		prefetchConcurrency = DefaultPrefetchConcurrency
	}
	estimate := opts.ProgressEstimate
	if estimate <= 0 {
		estimate = DefaultProgressEstimate
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	e := &Engine{
		client:              opts.Client,
		store:               opts.Store,
		prefetcher:          opts.Prefetcher,
		logger:              logger.With(slog.String("component", "catalogsync")),
		metrics:             metrics,
		progress:            NewBroadcaster(),
		concurrency:         concurrency,
		pageSize:            opts.Client.PageSize(opts.PageSize),
		prefetchConcurrency: prefetchConcurrency,
		estimate:            estimate,
		pause:               opts.WindowPause,
		now:                 clock,
		products:            []catalog.Product{},
	}
	if opts.Online != nil {
		e.SetOnline(opts.Online)
	}
	return e, nil
}

// SetOnline installs the connectivity check consulted before every sync.
func (e *Engine) SetOnline(fn func() bool) {
	e.online.Store(&fn)
}

func (e *Engine) isOnline() bool {
	fn := e.online.Load()
	return fn == nil || *fn == nil || (*fn)()
}

// Syncing reports whether a sync is running.
func (e *Engine) Syncing() bool {
	return e.running.Load()
}

// Progress exposes the progress stream.
func (e *Engine) Progress() *Broadcaster {
	return e.progress
}

// Products returns the last authoritative snapshot read from the store.
func (e *Engine) Products() []catalog.Product {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]catalog.Product, len(e.products))
	copy(out, e.products)
	return out
}

// Wait blocks until every sync started by TriggerBackground has returned.
func (e *Engine) Wait() {
	e.background.Wait()
}

// Load refreshes the in-memory snapshot from the store.
func (e *Engine) Load(ctx context.Context) ([]catalog.Product, error) {
	products, err := e.store.AllProducts(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.products = products
	e.mu.Unlock()
	return products, nil
}

// TriggerBackground starts a sync on ctx without waiting for it. ctx should
// outlive the caller's request.
func (e *Engine) TriggerBackground(ctx context.Context, opts SyncOptions) error {
	if !e.isOnline() {
		return ErrOffline
	}
	if e.Syncing() {
		return ErrSyncInProgress
	}
	e.background.Add(1)
	go func() {
		defer e.background.Done()
		_, _ = e.Sync(ctx, opts)
	}()
	return nil
}

// Sync runs one full pass over the upstream catalog. A second caller while a
// sync runs gets ErrSyncInProgress and a skipped result. On failure the
// products committed so far stay in the store and a non-empty snapshot served
// by Products is left untouched. An empty snapshot is filled from the store
// once enough products are committed, so a first sync renders progressively.
func (e *Engine) Sync(ctx context.Context, opts SyncOptions) (Result, error) {
	if !e.isOnline() {
		return Result{Skipped: true}, ErrOffline
	}
	if !e.running.CompareAndSwap(false, true) {
		return Result{Skipped: true}, ErrSyncInProgress
	}
	defer e.running.Store(false)

	started := e.now()
	runID := uuid.NewString()
	logger := e.logger.With(slog.String("run_id", runID), slog.Bool("force", opts.Force))
	run := store.SyncRun{ID: runID, StartedAt: started, Forced: opts.Force, Status: store.RunStatusRunning}
	if err := e.store.StartRun(ctx, run); err != nil {
		logger.Warn("record sync run", slog.Any("error", err))
	}

	s := &session{engine: e, runID: runID, logger: logger, seen: make(map[string]struct{})}
	logger.Info("sync started")
	result, err := s.run(ctx, opts)
	result.RunID = runID
	result.Duration = e.now().Sub(started)

	finished := e.now()
	run.FinishedAt = &finished
	run.SyncedCount = result.Synced
	run.FailedPages = result.FailedPages
	run.Status = store.RunStatusSuccess
	if err != nil {
		run.Status = store.RunStatusFailed
		run.Error = err.Error()
	}
	if ferr := e.store.FinishRun(context.WithoutCancel(ctx), run); ferr != nil {
		logger.Warn("record sync run", slog.Any("error", ferr))
	}
	e.metrics.RunFinished(run.Status, result.Duration, result.Synced)

	if err != nil {
		logger.Error("sync failed", slog.Int("synced", result.Synced), slog.Any("error", err))
		e.progress.Publish(Progress{RunID: runID, Message: "Sync failed", Percent: s.percent, Synced: result.Synced, Done: true, Error: err.Error()})
		return result, err
	}
	logger.Info("sync finished",
		slog.Int("synced", result.Synced),
		slog.Int("pages", result.Pages),
		slog.Int("failed_pages", result.FailedPages),
		slog.Duration("duration", result.Duration))
	return result, nil
}

// session is the state of one Sync call.
type session struct {
	engine  *Engine
	runID   string
	logger  *slog.Logger
	seen    map[string]struct{}
	synced  []catalog.Product
	percent int
	interim bool
}

func (s *session) run(ctx context.Context, opts SyncOptions) (Result, error) {
	e := s.engine
	var res Result
	s.report("Starting sync", 0)

	if opts.Force {
		if err := e.store.ClearProducts(ctx); err != nil {
			return res, fmt.Errorf("catalogsync: clear products: %w", err)
		}
	}

	cursor := 0
	for more := true; more; {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("catalogsync: cancelled at offset %d: %w", cursor, err)
		}

		results := e.fetchWindow(ctx, cursor, e.pageSize)
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("catalogsync: cancelled at offset %d: %w", cursor, err)
		}
		outcome := e.settle(results, s.logger)
		res.Pages += len(results) - outcome.failed
		res.FailedPages += outcome.failed
		if outcome.failed == len(results) {
			return res, fmt.Errorf("%w at offset %d: %w", ErrWindowFailed, cursor, outcome.lastErr)
		}

		batch := s.accept(outcome.active)
		if len(batch) > 0 {
			n, err := e.store.UpsertProducts(ctx, batch)
			if err != nil {
				return res, fmt.Errorf("catalogsync: commit window at offset %d: %w", cursor, err)
			}
			res.Committed += n
			s.publishInterim(ctx)
		}
		res.Synced = len(s.seen)
		s.report(fmt.Sprintf("Synced %d products", res.Synced), min(maxWindowPercent, res.Synced*100/e.estimate))

		more = outcome.more
		cursor += e.concurrency * e.pageSize
		if more && !sleep(ctx, e.pause) {
			return res, fmt.Errorf("catalogsync: cancelled at offset %d: %w", cursor, ctx.Err())
		}
	}

	if e.prefetcher != nil {
		urls := catalog.DisplayImageURLs(s.synced)
		if len(urls) > 0 {
			s.report("Caching images", maxWindowPercent)
			res.Images = e.prefetcher.Prefetch(ctx, urls, e.prefetchConcurrency, func(done, total int) {
				s.report(fmt.Sprintf("Cached %d/%d images", done, total), maxWindowPercent+done*4/total)
			})
		}
	}

	if err := e.store.SetLastSync(ctx, e.now()); err != nil {
		return res, fmt.Errorf("catalogsync: set last sync: %w", err)
	}
	products, err := e.Load(ctx)
	if err != nil {
		return res, fmt.Errorf("catalogsync: reload products: %w", err)
	}
	res.Products = products

	s.percent = 100
	e.progress.Publish(Progress{RunID: s.runID, Message: "Sync complete", Percent: 100, Synced: res.Synced, Done: true})
	return res, nil
}

// publishInterim loads the committed products into an empty snapshot once per
// session. Errors are logged; the final reload still runs.
func (s *session) publishInterim(ctx context.Context) {
	e := s.engine
	if s.interim || len(s.synced) < interimThreshold {
		return
	}
	e.mu.RLock()
	empty := len(e.products) == 0
	e.mu.RUnlock()
	s.interim = true
	if !empty {
		return
	}
	products, err := e.Load(ctx)
	if err != nil {
		s.logger.Warn("interim snapshot", slog.Any("error", err))
		return
	}
	s.logger.Debug("interim snapshot published", slog.Int("products", len(products)))
}

// accept dedupes a window's active products by id. Every product is
// rewritten, but only unseen ids count towards the synced total.
func (s *session) accept(active []catalog.Product) []catalog.Product {
	index := make(map[string]int, len(active))
	batch := make([]catalog.Product, 0, len(active))
	for _, p := range active {
		if i, ok := index[p.ID]; ok {
			batch[i] = p
			continue
		}
		index[p.ID] = len(batch)
		batch = append(batch, p)
		if _, ok := s.seen[p.ID]; !ok {
			s.seen[p.ID] = struct{}{}
			s.synced = append(s.synced, p)
		}
	}
	return batch
}

// report publishes progress, never letting the percentage go backwards.
func (s *session) report(msg string, percent int) {
	if percent < s.percent {
		percent = s.percent
	}
	s.percent = percent
	s.engine.progress.Publish(Progress{RunID: s.runID, Message: msg, Percent: percent, Synced: len(s.seen)})
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
