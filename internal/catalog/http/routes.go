package cataloghttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes registers catalog endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(6, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Get("/catalog", h.listProducts)
	r.Get("/catalog/stats", h.stats)
	r.Get("/catalog/images", h.image)
	r.Get("/catalog/sync", h.syncStatus)
	r.Get("/catalog/sync/events", h.events)

	r.Group(func(gr chi.Router) {
		gr.Use(h.requireAdmin)
		gr.With(limiter).Post("/catalog/sync", h.triggerSync)
		gr.Post("/catalog/hidden/{id}", h.hide)
		gr.Delete("/catalog/hidden/{id}", h.unhide)
		gr.Delete("/catalog/hidden", h.clearHidden)
	})
}
