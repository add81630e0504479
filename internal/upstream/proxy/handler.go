// Package proxy exposes the vendor catalog to other devices as active-only
// pages that carry an explicit continuation flag.
package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/catalogo-pos/catalogo/internal/platform/httpx"
	"github.com/catalogo-pos/catalogo/internal/upstream"
)

const maxCountPages = 20

// PageFetcher is the slice of upstream.Client the proxy needs.
type PageFetcher interface {
	FetchPage(ctx context.Context, offset, pageSize int) (upstream.Page, error)
	PageSize(requested int) int
}

// Handler serves the proxy endpoints.
type Handler struct {
	fetcher PageFetcher
	logger  *slog.Logger
	pause   time.Duration
}

// NewHandler constructs a proxy handler. pause throttles the count walk
// between pages.
func NewHandler(fetcher PageFetcher, logger *slog.Logger, pause time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{fetcher: fetcher, logger: logger.With(slog.String("component", "proxy")), pause: pause}
}

// MountRoutes registers proxy routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products", h.products)
	r.Get("/products/count", h.count)
}

type debugInfo struct {
	Start            int  `json:"start"`
	Limit            int  `json:"limit"`
	TotalReceived    int  `json:"total_received"`
	ActiveFiltered   int  `json:"active_filtered"`
	InactiveFiltered int  `json:"inactive_filtered"`
	Invalid          int  `json:"invalid"`
	HasMore          bool `json:"has_more"`
}

type productsResponse struct {
	Products []json.RawMessage `json:"products"`
	Debug    debugInfo         `json:"debug"`
}

func (h *Handler) products(w http.ResponseWriter, r *http.Request) {
	start := queryInt(r, "start", 0)
	limit := h.fetcher.PageSize(queryInt(r, "limit", upstream.HardMaxPageSize))

	page, err := h.fetcher.FetchPage(r.Context(), start, limit)
	if err != nil {
		h.logger.Warn("proxy fetch", slog.Int("start", start), slog.Any("error", err))
		httpx.Problem(w, http.StatusBadGateway, "Upstream Error", err.Error())
		return
	}

	active := make([]json.RawMessage, 0, len(page.Records))
	for _, rec := range page.Records {
		if rec.Product.IsActive() {
			active = append(active, rec.Raw)
		}
	}
	httpx.JSON(w, http.StatusOK, productsResponse{
		Products: active,
		Debug: debugInfo{
			Start:            start,
			Limit:            limit,
			TotalReceived:    page.Received,
			ActiveFiltered:   len(active),
			InactiveFiltered: page.Received - page.Invalid - len(active),
			Invalid:          page.Invalid,
			HasMore:          page.Received == limit,
		},
	})
}

type countPage struct {
	Start         int  `json:"start"`
	TotalReceived int  `json:"total_received"`
	ActiveCount   int  `json:"active_count"`
	HasMore       bool `json:"has_more"`
	Status        int  `json:"status,omitempty"`
}

type countResponse struct {
	TotalActiveFound int         `json:"total_active_found"`
	PagesTested      int         `json:"pages_tested"`
	Complete         bool        `json:"complete"`
	DetailedResults  []countPage `json:"detailed_results"`
}

func (h *Handler) count(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	limit := h.fetcher.PageSize(upstream.HardMaxPageSize)
	resp := countResponse{DetailedResults: make([]countPage, 0, maxCountPages)}

	start := 0
	for resp.PagesTested < maxCountPages {
		page, err := h.fetcher.FetchPage(ctx, start, limit)
		resp.PagesTested++
		if err != nil {
			entry := countPage{Start: start}
			var fe *upstream.FetchError
			if errors.As(err, &fe) {
				entry.Status = fe.Status
			}
			resp.DetailedResults = append(resp.DetailedResults, entry)
			h.logger.Warn("count walk stopped", slog.Int("start", start), slog.Any("error", err))
			break
		}
		activeCount := len(page.Active())
		resp.TotalActiveFound += activeCount
		resp.DetailedResults = append(resp.DetailedResults, countPage{
			Start:         start,
			TotalReceived: page.Received,
			ActiveCount:   activeCount,
			HasMore:       page.More(),
		})
		if !page.More() {
			resp.Complete = true
			break
		}
		start += limit
		if !sleep(ctx, h.pause) {
			break
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
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

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
