package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SyncMetrics instruments catalog syncs and image prefetching.
type SyncMetrics struct {
	runs     *prometheus.CounterVec
	pages    *prometheus.CounterVec
	products prometheus.Gauge
	duration prometheus.Histogram
	images   *prometheus.CounterVec
}

// NewSyncMetrics registers the sync collectors on registerer.
func NewSyncMetrics(registerer prometheus.Registerer) *SyncMetrics {
	m := &SyncMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogo_sync_runs_total",
			Help: "Catalog sync runs by final status.",
		}, []string{"status"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogo_sync_pages_total",
			Help: "Upstream pages fetched during syncs by result.",
		}, []string{"result"}),
		products: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "catalogo_sync_products",
			Help: "Active products received by the last successful sync.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "catalogo_sync_duration_seconds",
			Help:    "Duration of catalog syncs.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		images: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "catalogo_image_prefetch_total",
			Help: "Image prefetch outcomes.",
		}, []string{"result"}),
	}
	registerer.MustRegister(m.runs, m.pages, m.products, m.duration, m.images)
	return m
}

func (m *SyncMetrics) PageFetched(result string) {
	if m == nil {
		return
	}
	m.pages.WithLabelValues(result).Inc()
}

func (m *SyncMetrics) RunFinished(status string, duration time.Duration, products int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.duration.Observe(duration.Seconds())
	if status == "success" {
		m.products.Set(float64(products))
	}
}

func (m *SyncMetrics) ImagePrefetched(result string) {
	if m == nil {
		return
	}
	m.images.WithLabelValues(result).Inc()
}
