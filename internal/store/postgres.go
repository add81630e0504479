package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/platform/db"
)

// PostgresStore keeps the catalog in PostgreSQL for server deployments that
// share one mirror between several devices.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore applies the catalog schema on pool and returns a store.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	err := db.WithTx(ctx, pool, func(tx pgx.Tx) error {
		for _, stmt := range postgresMigrations {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("migrate", err)
	}
	return &PostgresStore{
		pool:   pool,
		logger: logger.With(slog.String("component", "store"), slog.String("driver", "postgres")),
	}, nil
}

func (s *PostgresStore) AllProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT data FROM catalog_products ORDER BY seq`)
	if err != nil {
		return nil, wrap("all products", err)
	}
	defer rows.Close()

	products := make([]catalog.Product, 0)
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("all products", err)
		}
		var p catalog.Product
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, wrap("all products", fmt.Errorf("decode product: %w", err))
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("all products", err)
	}
	return products, nil
}

func (s *PostgresStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_products`).Scan(&n); err != nil {
		return 0, wrap("count products", err)
	}
	return n, nil
}

// UpsertProducts sends the batch in one round trip inside a transaction.
func (s *PostgresStore) UpsertProducts(ctx context.Context, products []catalog.Product) (int, error) {
	batch := dedupe(products)
	if len(batch) == 0 {
		return 0, nil
	}

	err := db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		b := &pgx.Batch{}
		for _, p := range batch {
			data, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("encode product %s: %w", p.ID, err)
			}
			b.Queue(`INSERT INTO catalog_products (id, status, category, name, data, updated_at)
				VALUES ($1, $2, $3, $4, $5, NOW())
				ON CONFLICT (id) DO UPDATE SET
					status = EXCLUDED.status,
					category = EXCLUDED.category,
					name = EXCLUDED.name,
					data = EXCLUDED.data,
					updated_at = EXCLUDED.updated_at`,
				p.ID, string(p.Status), p.Category, p.Name, data)
		}
		results := tx.SendBatch(ctx, b)
		for range batch {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		return results.Close()
	})
	if err != nil {
		return 0, wrap("upsert products", describePgError(err))
	}
	return len(batch), nil
}

func (s *PostgresStore) ClearProducts(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM catalog_products`)
	return wrap("clear products", err)
}

func (s *PostgresStore) LastSync(ctx context.Context) (*time.Time, error) {
	var raw string
	err := s.pool.QueryRow(ctx, `SELECT value FROM catalog_metadata WHERE key = $1`, LastSyncKey).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last sync", err)
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, wrap("last sync", fmt.Errorf("parse %q: %w", raw, err))
	}
	return &t, nil
}

func (s *PostgresStore) SetLastSync(ctx context.Context, t time.Time) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO catalog_metadata (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, LastSyncKey, t.UTC().Format(time.RFC3339Nano))
	return wrap("set last sync", err)
}

func (s *PostgresStore) HiddenIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM catalog_hidden_products`)
	if err != nil {
		return nil, wrap("hidden ids", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, wrap("hidden ids", err)
	}
	hidden := make(map[string]bool, len(ids))
	for _, id := range ids {
		hidden[id] = true
	}
	return hidden, nil
}

func (s *PostgresStore) SetHidden(ctx context.Context, id string, hidden bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return wrap("set hidden", catalog.ErrMissingID)
	}
	var err error
	if hidden {
		_, err = s.pool.Exec(ctx, `INSERT INTO catalog_hidden_products (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`, id)
	} else {
		_, err = s.pool.Exec(ctx, `DELETE FROM catalog_hidden_products WHERE id = $1`, id)
	}
	return wrap("set hidden", err)
}

func (s *PostgresStore) ClearHidden(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM catalog_hidden_products`)
	return wrap("clear hidden", err)
}

func (s *PostgresStore) StartRun(ctx context.Context, run SyncRun) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO catalog_sync_runs (id, started_at, forced, status) VALUES ($1, $2, $3, $4)`,
		run.ID, run.StartedAt, run.Forced, runStatus(run.Status))
	return wrap("start run", err)
}

func (s *PostgresStore) FinishRun(ctx context.Context, run SyncRun) error {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	tag, err := s.pool.Exec(ctx, `UPDATE catalog_sync_runs
		SET finished_at = $1, status = $2, synced_count = $3, failed_pages = $4, error = $5
		WHERE id = $6`, finished, run.Status, run.SyncedCount, run.FailedPages, run.Error, run.ID)
	if err != nil {
		return wrap("finish run", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("finish run", fmt.Errorf("run %s: %w", run.ID, ErrNotFound))
	}
	return nil
}

func (s *PostgresStore) RecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.pool.Query(ctx, `SELECT id::text, started_at, finished_at, forced, status, synced_count, failed_pages, error
		FROM catalog_sync_runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, wrap("recent runs", err)
	}
	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (SyncRun, error) {
		var run SyncRun
		err := row.Scan(&run.ID, &run.StartedAt, &run.FinishedAt, &run.Forced, &run.Status, &run.SyncedCount, &run.FailedPages, &run.Error)
		return run, err
	})
	if err != nil {
		return nil, wrap("recent runs", err)
	}
	return runs, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func describePgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s (sqlstate %s): %w", pgErr.Message, pgErr.Code, err)
	}
	return err
}
