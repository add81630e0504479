package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Prefetch outcomes reported to a Recorder.
const (
	ResultFetched = "fetched"
	ResultCached  = "cached"
	ResultFailed  = "failed"
)

const (
	defaultConcurrency = 10
	defaultMaxBytes    = 5 << 20
	defaultTimeout     = 15 * time.Second
)

// ErrTooLarge is returned for images above the configured size limit.
var ErrTooLarge = errors.New("imagecache: image exceeds size limit")

// Recorder observes prefetch outcomes.
type Recorder interface {
	ImagePrefetched(result string)
}

// Options configures a Prefetcher.
type Options struct {
	Cache      Cache
	HTTPClient *http.Client
	MaxBytes   int64
	Logger     *slog.Logger
	Recorder   Recorder
}

// Prefetcher downloads images into a Cache. Failures never propagate out of
// Prefetch; an image that cannot be fetched is simply not cached.
type Prefetcher struct {
	cache      Cache
	httpClient *http.Client
	maxBytes   int64
	logger     *slog.Logger
	recorder   Recorder
	group      singleflight.Group
}

// Summary tallies one Prefetch call.
type Summary struct {
	Total   int
	Fetched int
	Cached  int
	Failed  int
}

// NewPrefetcher constructs a Prefetcher. A nil cache selects an in-memory
// cache.
func NewPrefetcher(opts Options) *Prefetcher {
	cache := opts.Cache
	if cache == nil {
		cache = NewMemoryCache(0)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	maxBytes := opts.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Prefetcher{
		cache:      cache,
		httpClient: httpClient,
		maxBytes:   maxBytes,
		logger:     logger.With(slog.String("component", "imagecache")),
		recorder:   opts.Recorder,
	}
}

// Prefetch warms the cache for urls in chunks of concurrency. progress, when
// set, is called after every chunk with the number of urls handled so far.
// It returns early only when ctx is cancelled.
func (p *Prefetcher) Prefetch(ctx context.Context, urls []string, concurrency int, progress func(done, total int)) Summary {
	urls = uniqueURLs(urls)
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	summary := Summary{Total: len(urls)}
	results := make([]string, len(urls))

	for start := 0; start < len(urls); start += concurrency {
		if ctx.Err() != nil {
			break
		}
		end := min(start+concurrency, len(urls))

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i // per-iteration copy (go1.22 loopvar semantics under go 1.21)
			g.Go(func() error {
				results[i] = p.warm(ctx, urls[i])
				return nil
			})
		}
		_ = g.Wait()

		for _, r := range results[start:end] {
			switch r {
			case ResultFetched:
				summary.Fetched++
			case ResultCached:
				summary.Cached++
			default:
				summary.Failed++
			}
		}
		if progress != nil {
			progress(end, len(urls))
		}
	}
	return summary
}

func (p *Prefetcher) warm(ctx context.Context, url string) string {
	result := ResultFetched
	if ok, err := p.cache.Has(ctx, url); err == nil && ok {
		result = ResultCached
	} else if _, err := p.load(ctx, url); err != nil {
		p.logger.Debug("image prefetch failed", slog.String("url", url), slog.Any("error", err))
		result = ResultFailed
	}
	if p.recorder != nil {
		p.recorder.ImagePrefetched(result)
	}
	return result
}

// Image returns the cached image for url, downloading it on a miss.
// Concurrent misses for the same url share one download.
func (p *Prefetcher) Image(ctx context.Context, url string) (Entry, error) {
	entry, ok, err := p.cache.Get(ctx, url)
	if err != nil {
		p.logger.Warn("image cache read", slog.String("url", url), slog.Any("error", err))
	}
	if ok {
		return entry, nil
	}
	return p.load(ctx, url)
}

// load runs one shared download per url. The download is detached from the
// caller that started it, so a cancelled caller does not fail the others
// waiting on the same url.
func (p *Prefetcher) load(ctx context.Context, url string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	ch := p.group.DoChan(url, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultTimeout)
		defer cancel()
		entry, err := p.fetch(fetchCtx, url)
		if err != nil {
			return Entry{}, err
		}
		if err := p.cache.Set(fetchCtx, url, entry); err != nil {
			p.logger.Warn("image cache write", slog.String("url", url), slog.Any("error", err))
		}
		return entry, nil
	})
	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

func (p *Prefetcher) fetch(ctx context.Context, url string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Entry{}, fmt.Errorf("imagecache: build request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("imagecache: get %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Entry{}, fmt.Errorf("imagecache: get %s: status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, p.maxBytes+1))
	if err != nil {
		return Entry{}, fmt.Errorf("imagecache: read %s: %w", url, err)
	}
	if int64(len(data)) > p.maxBytes {
		return Entry{}, ErrTooLarge
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return Entry{ContentType: contentType, Data: data}, nil
}

func uniqueURLs(urls []string) []string {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
