package catalogsync

import "time"

// Page outcomes reported to Metrics.
const (
	PageOK     = "ok"
	PageFailed = "failed"
)

// Metrics receives sync instrumentation.
type Metrics interface {
	PageFetched(result string)
	RunFinished(status string, duration time.Duration, products int)
}

type noopMetrics struct{}

func (noopMetrics) PageFetched(string) {}

func (noopMetrics) RunFinished(string, time.Duration, int) {}
