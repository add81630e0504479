// Package store persists the mirrored catalog on the device.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/catalogo-pos/catalogo/internal/catalog"
)

// LastSyncKey names the metadata record holding the last successful sync.
const LastSyncKey = "lastUpdate"

// Run statuses recorded for every sync attempt.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
)

// ErrNotFound indicates a missing record.
var ErrNotFound = errors.New("store: not found")

// StorageError wraps every persistence failure. Callers must not assume any
// part of the failed operation was applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// SyncRun records one sync attempt for diagnostics.
type SyncRun struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Forced      bool       `json:"forced"`
	Status      string     `json:"status"`
	SyncedCount int        `json:"synced_count"`
	FailedPages int        `json:"failed_pages"`
	Error       string     `json:"error,omitempty"`
}

// Store is the durable catalog mirror. Every method is atomic with respect to
// concurrent callers in the process.
type Store interface {
	AllProducts(ctx context.Context) ([]catalog.Product, error)
	CountProducts(ctx context.Context) (int, error)
	// UpsertProducts inserts or replaces by id inside one transaction and
	// returns how many records were committed.
	UpsertProducts(ctx context.Context, products []catalog.Product) (int, error)
	ClearProducts(ctx context.Context) error

	LastSync(ctx context.Context) (*time.Time, error)
	SetLastSync(ctx context.Context, t time.Time) error

	HiddenIDs(ctx context.Context) (map[string]bool, error)
	SetHidden(ctx context.Context, id string, hidden bool) error
	ClearHidden(ctx context.Context) error

	StartRun(ctx context.Context, run SyncRun) error
	FinishRun(ctx context.Context, run SyncRun) error
	RecentRuns(ctx context.Context, limit int) ([]SyncRun, error)

	Close() error
}

// dedupe keeps the last occurrence of every id and drops records without
// one, preserving first-seen order.
func dedupe(products []catalog.Product) []catalog.Product {
	index := make(map[string]int, len(products))
	out := make([]catalog.Product, 0, len(products))
	for _, p := range products {
		if p.ID == "" {
			continue
		}
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out
}
