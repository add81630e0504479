package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskCatalogSync runs one catalog sync against the upstream.
	TaskCatalogSync = "catalog:sync"
)

// CatalogSyncPayload selects the kind of sync to run.
type CatalogSyncPayload struct {
	Force       bool      `json:"force"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewCatalogSyncTask constructs an Asynq task for a catalog sync. Only one
// sync task can sit in the queue at a time.
func NewCatalogSyncTask(payload CatalogSyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCatalogSync, body,
		asynq.Queue(QueueDefault),
		asynq.MaxRetry(3),
		asynq.Unique(30*time.Minute),
	), nil
}
