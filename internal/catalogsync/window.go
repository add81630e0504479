package catalogsync

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/upstream"
)

type pageResult struct {
	offset int
	page   upstream.Page
	err    error
}

// windowOutcome is a settled window, reduced in offset order.
type windowOutcome struct {
	active []catalog.Product
	more   bool
	failed int
	// lastErr is the error of the last failed page, if any.
	lastErr error
}

// fetchWindow requests width consecutive pages starting at cursor and waits
// for all of them. Results are indexed by dispatch order.
func (e *Engine) fetchWindow(ctx context.Context, cursor, pageSize int) []pageResult {
	results := make([]pageResult, e.concurrency)
	var g errgroup.Group
	for i := range results {
		i := i // per-iteration copy (go1.22 loopvar semantics under go 1.21)
		offset := cursor + i*pageSize
		results[i].offset = offset
		g.Go(func() error {
			results[i].page, results[i].err = e.client.FetchPage(ctx, offset, pageSize)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// settle processes results by offset. A failed page is skipped and takes no
// part in the end-of-data decision. When any successful page carries an
// explicit continuation flag, only explicit flags (and empty pages) decide
// the end of the stream for this window; otherwise any short page ends it.
func (e *Engine) settle(results []pageResult, logger *slog.Logger) windowOutcome {
	var out windowOutcome
	explicit := false
	for _, r := range results {
		if r.err == nil && r.page.HasMore != nil {
			explicit = true
			break
		}
	}

	more := true
	for _, r := range results {
		if r.err != nil {
			out.failed++
			out.lastErr = r.err
			e.metrics.PageFetched(PageFailed)
			logger.Warn("page fetch failed", slog.Int("offset", r.offset), slog.Any("error", r.err))
			continue
		}
		e.metrics.PageFetched(PageOK)
		if r.page.Invalid > 0 {
			logger.Debug("page had invalid records", slog.Int("offset", r.offset), slog.Int("invalid", r.page.Invalid))
		}
		out.active = append(out.active, r.page.Active()...)

		switch {
		case r.page.Received == 0:
			more = false
		case explicit:
			if r.page.HasMore != nil && !*r.page.HasMore {
				more = false
			}
		case !r.page.More():
			more = false
		}
	}
	out.more = more
	return out
}
