// Package cataloghttp serves the kiosk catalog API.
package cataloghttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/catalogsync"
	"github.com/catalogo-pos/catalogo/internal/imagecache"
	"github.com/catalogo-pos/catalogo/internal/platform/httpx"
	"github.com/catalogo-pos/catalogo/internal/store"
)

// Engine is the slice of the sync engine the handler needs.
type Engine interface {
	Products() []catalog.Product
	Syncing() bool
	TriggerBackground(ctx context.Context, opts catalogsync.SyncOptions) error
	Progress() *catalogsync.Broadcaster
}

// Store is the slice of the local store the handler needs.
type Store interface {
	HiddenIDs(ctx context.Context) (map[string]bool, error)
	SetHidden(ctx context.Context, id string, hidden bool) error
	ClearHidden(ctx context.Context) error
	LastSync(ctx context.Context) (*time.Time, error)
	RecentRuns(ctx context.Context, limit int) ([]store.SyncRun, error)
}

// Images serves cached product images.
type Images interface {
	Image(ctx context.Context, url string) (imagecache.Entry, error)
}

// Config collects handler dependencies.
type Config struct {
	Engine Engine
	Store  Store
	Images Images
	// Online reports connectivity; nil means always online.
	Online func() bool
	// AdminTokenHash is a bcrypt hash of the admin token. Empty disables
	// admin routes.
	AdminTokenHash string
	// Background outlives requests and carries syncs started over HTTP.
	Background context.Context
	Logger     *slog.Logger
}

// Handler wires catalog endpoints.
type Handler struct {
	engine     Engine
	store      Store
	images     Images
	online     func() bool
	adminHash  []byte
	background context.Context
	logger     *slog.Logger
}

// NewHandler constructs handler.
func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	background := cfg.Background
	if background == nil {
		background = context.Background()
	}
	online := cfg.Online
	if online == nil {
		online = func() bool { return true }
	}
	return &Handler{
		engine:     cfg.Engine,
		store:      cfg.Store,
		images:     cfg.Images,
		online:     online,
		adminHash:  []byte(strings.TrimSpace(cfg.AdminTokenHash)),
		background: background,
		logger:     logger.With(slog.String("component", "catalog_http")),
	}
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	hidden, err := h.store.HiddenIDs(r.Context())
	if err != nil {
		h.logger.Error("load hidden ids", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	projection := catalog.ProjectVisible(h.engine.Products(), query, hidden)
	httpx.JSON(w, http.StatusOK, newProjectionView(query, projection))
}

type statsView struct {
	catalog.Stats
	LastSync *time.Time `json:"last_sync"`
	Syncing  bool       `json:"syncing"`
	Online   bool       `json:"online"`
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hidden, err := h.store.HiddenIDs(ctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	last, err := h.store.LastSync(ctx)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, statsView{
		Stats:    catalog.ComputeStats(h.engine.Products(), hidden),
		LastSync: last,
		Syncing:  h.engine.Syncing(),
		Online:   h.online(),
	})
}

// image serves a cached product image. Only urls referenced by the current
// catalog are served so the endpoint cannot be used as an open proxy.
func (h *Handler) image(w http.ResponseWriter, r *http.Request) {
	url := strings.TrimSpace(r.URL.Query().Get("url"))
	if url == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "url is required")
		return
	}
	if h.images == nil || !h.knownImage(url) {
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	entry, err := h.images.Image(r.Context(), url)
	if err != nil {
		h.logger.Debug("image unavailable", slog.String("url", url), slog.Any("error", err))
		httpx.RespondError(w, httpx.ErrNotFound)
		return
	}
	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(entry.Data)))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Data)
}

func (h *Handler) knownImage(url string) bool {
	for _, p := range h.engine.Products() {
		for _, img := range p.Images {
			if img.URL == url {
				return true
			}
		}
	}
	return false
}

func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	force := parseBool(r.URL.Query().Get("force"))
	err := h.engine.TriggerBackground(h.background, catalogsync.SyncOptions{Force: force})
	switch {
	case err == nil:
		h.logger.Info("sync requested", slog.Bool("force", force))
		httpx.JSON(w, http.StatusAccepted, map[string]any{"status": "started", "force": force})
	case errors.Is(err, catalogsync.ErrSyncInProgress):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, catalogsync.ErrOffline):
		httpx.Problem(w, http.StatusServiceUnavailable, "Unavailable", err.Error())
	default:
		h.logger.Error("trigger sync", slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

type syncStatusView struct {
	Syncing bool                 `json:"syncing"`
	Last    catalogsync.Progress `json:"last"`
	Runs    []store.SyncRun      `json:"runs"`
}

func (h *Handler) syncStatus(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.RecentRuns(r.Context(), 10)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, syncStatusView{
		Syncing: h.engine.Syncing(),
		Last:    h.engine.Progress().Last(),
		Runs:    runs,
	})
}

func (h *Handler) hide(w http.ResponseWriter, r *http.Request) {
	h.setHidden(w, r, true)
}

func (h *Handler) unhide(w http.ResponseWriter, r *http.Request) {
	h.setHidden(w, r, false)
}

func (h *Handler) setHidden(w http.ResponseWriter, r *http.Request, hidden bool) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "id is required")
		return
	}
	if err := h.store.SetHidden(r.Context(), id, hidden); err != nil {
		h.logger.Error("set hidden", slog.String("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) clearHidden(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearHidden(r.Context()); err != nil {
		h.logger.Error("clear hidden", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseBool(raw string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && v
}
