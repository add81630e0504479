// Package cli implements the catalogctl operator commands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/catalogo-pos/catalogo/internal/catalogsync"
	"github.com/catalogo-pos/catalogo/internal/store"
	"github.com/catalogo-pos/catalogo/jobs"
)

// Syncer runs a sync and exposes its progress stream.
type Syncer interface {
	Sync(ctx context.Context, opts catalogsync.SyncOptions) (catalogsync.Result, error)
	Progress() *catalogsync.Broadcaster
}

// StatusReader reads local sync state.
type StatusReader interface {
	CountProducts(ctx context.Context) (int, error)
	LastSync(ctx context.Context) (*time.Time, error)
	RecentRuns(ctx context.Context, limit int) ([]store.SyncRun, error)
}

// Queue submits and inspects queued syncs.
type Queue interface {
	EnqueueSync(ctx context.Context, force bool) (string, error)
	InspectQueue(ctx context.Context) (QueueStats, error)
	Close() error
}

// Env supplies lazily opened dependencies so commands only connect to what
// they use.
type Env struct {
	OpenSyncer func(ctx context.Context) (Syncer, func() error, error)
	OpenStatus func(ctx context.Context) (StatusReader, func() error, error)
	OpenQueue  func(ctx context.Context) (Queue, error)
}

// NewRootCommand builds the catalogctl command tree.
func NewRootCommand(env Env) *cobra.Command {
	root := &cobra.Command{
		Use:           "catalogctl",
		Short:         "Operate the local catalog mirror",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newSyncCommand(env),
		newStatusCommand(env),
		newEnqueueCommand(env),
		newQueueCommand(env),
		newHashTokenCommand(),
	)
	return root
}

func newSyncCommand(env Env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run a catalog sync in this process",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.OpenSyncer == nil {
				return errors.New("sync not configured")
			}
			ctx := cmd.Context()
			syncer, closeFn, err := env.OpenSyncer(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeFn()
			}()

			out := cmd.OutOrStdout()
			updates, cancel := syncer.Progress().Subscribe(64)
			done := make(chan struct{})
			go func() {
				defer close(done)
				for p := range updates {
					fmt.Fprintf(out, "[%3d%%] %s\n", p.Percent, p.Message)
				}
			}()

			result, err := syncer.Sync(ctx, catalogsync.SyncOptions{Force: force})
			cancel()
			<-done
			if err != nil {
				return fmt.Errorf("sync failed: %w", err)
			}
			fmt.Fprintf(out, "synced %d products (%d pages, %d failed) in %s\n",
				result.Synced, result.Pages, result.FailedPages, result.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "clear the local catalog before syncing")
	return cmd
}

type statusOutput struct {
	Products int             `json:"products"`
	LastSync *time.Time      `json:"last_sync"`
	Runs     []store.SyncRun `json:"runs"`
}

func newStatusCommand(env Env) *cobra.Command {
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show local catalog and recent sync runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if env.OpenStatus == nil {
				return errors.New("status not configured")
			}
			ctx := cmd.Context()
			reader, closeFn, err := env.OpenStatus(ctx)
			if err != nil {
				return err
			}
			defer func() {
				_ = closeFn()
			}()

			var status statusOutput
			if status.Products, err = reader.CountProducts(ctx); err != nil {
				return err
			}
			if status.LastSync, err = reader.LastSync(ctx); err != nil {
				return err
			}
			if status.Runs, err = reader.RecentRuns(ctx, limit); err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), status, asJSON)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "number of recent runs to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func writeStatus(out io.Writer, status statusOutput, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}
	fmt.Fprintf(out, "products: %d\n", status.Products)
	if status.LastSync != nil {
		fmt.Fprintf(out, "last sync: %s\n", status.LastSync.Format(time.RFC3339))
	} else {
		fmt.Fprintln(out, "last sync: never")
	}
	for _, run := range status.Runs {
		fmt.Fprintf(out, "%s  %-8s  %5d products  %d failed pages  %s\n",
			run.StartedAt.Format(time.RFC3339), run.Status, run.SyncedCount, run.FailedPages, run.Error)
	}
	return nil
}

func newEnqueueCommand(env Env) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue a catalog sync for the worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer func() {
				_ = queue.Close()
			}()
			id, err := queue.EnqueueSync(cmd.Context(), force)
			if errors.Is(err, jobs.ErrDuplicateSync) {
				fmt.Fprintln(cmd.OutOrStdout(), "a sync is already queued")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued task %s\n", id)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "clear the local catalog before syncing")
	return cmd
}

func newQueueCommand(env Env) *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show sync queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := openQueue(cmd.Context(), env)
			if err != nil {
				return err
			}
			defer func() {
				_ = queue.Close()
			}()
			stats, err := queue.InspectQueue(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queue %s: pending=%d active=%d scheduled=%d retry=%d\n",
				stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry)
			return nil
		},
	}
}

func openQueue(ctx context.Context, env Env) (Queue, error) {
	if env.OpenQueue == nil {
		return nil, errors.New("queue not configured")
	}
	return env.OpenQueue(ctx)
}

func newHashTokenCommand() *cobra.Command {
	var cost int
	cmd := &cobra.Command{
		Use:   "hash-token TOKEN",
		Short: "Print a bcrypt hash for ADMIN_TOKEN_HASH",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), cost)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(hash))
			return nil
		},
	}
	cmd.Flags().IntVar(&cost, "cost", bcrypt.DefaultCost, "bcrypt cost")
	return cmd
}
