package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/catalogo-pos/catalogo/internal/catalog"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLiteStore keeps the catalog in an embedded SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (creating when missing) the database at path and brings
// its schema up to date. ":memory:" yields a private in-memory database.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := sql.Open("sqlite3", sqliteDSN(path))
	if err != nil {
		return nil, wrap("open", err)
	}
	if path == ":memory:" || path == "" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, wrap("open", err)
	}

	version, err := migrateSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, wrap("migrate", err)
	}
	logger = logger.With(slog.String("component", "store"), slog.String("driver", "sqlite"))
	logger.Debug("sqlite schema ready", slog.Int("version", version))
	return newSQLiteStore(db, logger), nil
}

func newSQLiteStore(db *sql.DB, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLiteStore{db: db, logger: logger, now: time.Now}
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return "file::memory:?_busy_timeout=5000&_txlock=immediate"
	}
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_txlock", "immediate")
	params.Set("_synchronous", "NORMAL")
	return "file:" + path + "?" + params.Encode()
}

// AllProducts returns every stored product in insertion order.
func (s *SQLiteStore) AllProducts(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM products ORDER BY rowid`)
	if err != nil {
		return nil, wrap("all products", err)
	}
	defer rows.Close()

	products := make([]catalog.Product, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, wrap("all products", err)
		}
		var p catalog.Product
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, wrap("all products", fmt.Errorf("decode product: %w", err))
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("all products", err)
	}
	return products, nil
}

func (s *SQLiteStore) CountProducts(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&n); err != nil {
		return 0, wrap("count products", err)
	}
	return n, nil
}

// UpsertProducts writes the batch in one transaction. Existing rows keep
// their position in insertion order.
func (s *SQLiteStore) UpsertProducts(ctx context.Context, products []catalog.Product) (int, error) {
	batch := dedupe(products)
	if len(batch) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrap("upsert products", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO products (id, status, category, name, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			category = excluded.category,
			name = excluded.name,
			data = excluded.data,
			updated_at = excluded.updated_at`)
	if err != nil {
		return 0, wrap("upsert products", err)
	}
	defer stmt.Close()

	stamp := s.now().UTC().Format(sqliteTimeLayout)
	for _, p := range batch {
		data, err := json.Marshal(p)
		if err != nil {
			return 0, wrap("upsert products", fmt.Errorf("encode product %s: %w", p.ID, err))
		}
		if _, err := stmt.ExecContext(ctx, p.ID, string(p.Status), p.Category, p.Name, string(data), stamp); err != nil {
			return 0, wrap("upsert products", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, wrap("upsert products", err)
	}
	return len(batch), nil
}

func (s *SQLiteStore) ClearProducts(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return wrap("clear products", err)
	}
	return nil
}

// LastSync returns nil when no sync ever completed.
func (s *SQLiteStore) LastSync(ctx context.Context) (*time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, LastSyncKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("last sync", err)
	}
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return nil, wrap("last sync", fmt.Errorf("parse %q: %w", raw, err))
	}
	return &t, nil
}

func (s *SQLiteStore) SetLastSync(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, LastSyncKey, t.UTC().Format(sqliteTimeLayout))
	return wrap("set last sync", err)
}

func (s *SQLiteStore) HiddenIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM hidden_products`)
	if err != nil {
		return nil, wrap("hidden ids", err)
	}
	defer rows.Close()

	hidden := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrap("hidden ids", err)
		}
		hidden[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("hidden ids", err)
	}
	return hidden, nil
}

// SetHidden hides or reveals a product id. Hiding an id that is not in the
// catalog yet is allowed; it applies once the product arrives.
func (s *SQLiteStore) SetHidden(ctx context.Context, id string, hidden bool) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return wrap("set hidden", catalog.ErrMissingID)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if hidden {
		_, err = s.db.ExecContext(ctx, `INSERT INTO hidden_products (id, hidden_at) VALUES (?, ?)
			ON CONFLICT(id) DO NOTHING`, id, s.now().UTC().Format(sqliteTimeLayout))
	} else {
		_, err = s.db.ExecContext(ctx, `DELETE FROM hidden_products WHERE id = ?`, id)
	}
	return wrap("set hidden", err)
}

func (s *SQLiteStore) ClearHidden(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM hidden_products`)
	return wrap("clear hidden", err)
}

func (s *SQLiteStore) StartRun(ctx context.Context, run SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `INSERT INTO sync_runs (id, started_at, forced, status) VALUES (?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Format(sqliteTimeLayout), run.Forced, runStatus(run.Status))
	return wrap("start run", err)
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run SyncRun) error {
	finished := s.now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `UPDATE sync_runs
		SET finished_at = ?, status = ?, synced_count = ?, failed_pages = ?, error = ?
		WHERE id = ?`,
		finished.UTC().Format(sqliteTimeLayout), run.Status, run.SyncedCount, run.FailedPages, run.Error, run.ID)
	if err != nil {
		return wrap("finish run", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return wrap("finish run", fmt.Errorf("run %s: %w", run.ID, ErrNotFound))
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *SQLiteStore) RecentRuns(ctx context.Context, limit int) ([]SyncRun, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, finished_at, forced, status, synced_count, failed_pages, error
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("recent runs", err)
	}
	defer rows.Close()

	runs := make([]SyncRun, 0, limit)
	for rows.Next() {
		var (
			run      SyncRun
			started  string
			finished sql.NullString
		)
		if err := rows.Scan(&run.ID, &started, &finished, &run.Forced, &run.Status, &run.SyncedCount, &run.FailedPages, &run.Error); err != nil {
			return nil, wrap("recent runs", err)
		}
		if run.StartedAt, err = time.Parse(sqliteTimeLayout, started); err != nil {
			return nil, wrap("recent runs", err)
		}
		if finished.Valid {
			t, err := time.Parse(sqliteTimeLayout, finished.String)
			if err != nil {
				return nil, wrap("recent runs", err)
			}
			run.FinishedAt = &t
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("recent runs", err)
	}
	return runs, nil
}

func (s *SQLiteStore) Close() error {
	return wrap("close", s.db.Close())
}

func runStatus(status string) string {
	if status == "" {
		return RunStatusRunning
	}
	return status
}
