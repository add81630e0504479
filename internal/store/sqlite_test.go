package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/catalogo-pos/catalogo/internal/catalog"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "catalog.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func product(id, name string) catalog.Product {
	return catalog.Product{
		ID:       id,
		Name:     name,
		Status:   catalog.StatusActive,
		Category: "Ferreteros",
		Prices:   []catalog.PriceEntry{{Amount: decimal.RequireFromString("881"), CurrencySymbol: "₡"}},
		Taxes:    []catalog.TaxEntry{{Percentage: decimal.NewFromInt(13)}},
		Images:   []catalog.Image{{URL: "http://img/" + id + ".png", Favorite: true}},
	}
}

func TestUpsertAndReadBack(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.UpsertProducts(ctx, []catalog.Product{product("b", "Broca"), product("a", "Alicate")})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	all, err := s.AllProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "b", all[0].ID, "insertion order preserved")
	require.Equal(t, "996", all[0].FinalPrice().String())
	require.Equal(t, "₡", all[0].CurrencySymbol())
}

func TestUpsertIsIdempotentAndReplacesByID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	batch := []catalog.Product{product("1", "Martillo"), product("2", "Serrucho")}
	_, err := s.UpsertProducts(ctx, batch)
	require.NoError(t, err)
	_, err = s.UpsertProducts(ctx, batch)
	require.NoError(t, err)

	updated := product("1", "Martillo de goma")
	_, err = s.UpsertProducts(ctx, []catalog.Product{updated})
	require.NoError(t, err)

	count, err := s.CountProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, count)

	all, err := s.AllProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, "Martillo de goma", all[0].Name)
	require.Equal(t, "1", all[0].ID, "replacement keeps original position")
}

func TestUpsertSkipsMissingIDsAndDuplicates(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	n, err := s.UpsertProducts(ctx, []catalog.Product{product("", "nadie"), product("7", "v1"), product("7", "v2")})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	all, err := s.AllProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "v2", all[0].Name)

	n, err = s.UpsertProducts(ctx, nil)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestClearProducts(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.UpsertProducts(ctx, []catalog.Product{product("1", "x")})
	require.NoError(t, err)
	require.NoError(t, s.ClearProducts(ctx))

	all, err := s.AllProducts(ctx)
	require.NoError(t, err)
	require.NotNil(t, all)
	require.Empty(t, all)
}

func TestLastSyncRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	last, err := s.LastSync(ctx)
	require.NoError(t, err)
	require.Nil(t, last)

	stamp := time.Date(2024, 3, 1, 10, 30, 0, 123, time.UTC)
	require.NoError(t, s.SetLastSync(ctx, stamp))
	require.NoError(t, s.SetLastSync(ctx, stamp.Add(time.Hour)))

	last, err = s.LastSync(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	require.True(t, last.Equal(stamp.Add(time.Hour)))
}

func TestHiddenSurvivesResync(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.UpsertProducts(ctx, []catalog.Product{product("1", "x"), product("2", "y")})
	require.NoError(t, err)
	require.NoError(t, s.SetHidden(ctx, "2", true))
	require.NoError(t, s.SetHidden(ctx, "2", true))
	require.NoError(t, s.ClearProducts(ctx))

	hidden, err := s.HiddenIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, map[string]bool{"2": true}, hidden)

	require.NoError(t, s.SetHidden(ctx, "2", false))
	hidden, err = s.HiddenIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, hidden)

	require.NoError(t, s.SetHidden(ctx, "3", true))
	require.NoError(t, s.ClearHidden(ctx))
	hidden, err = s.HiddenIDs(ctx)
	require.NoError(t, err)
	require.Empty(t, hidden)

	err = s.SetHidden(ctx, " ", true)
	var storageErr *StorageError
	require.ErrorAs(t, err, &storageErr)
	require.ErrorIs(t, err, catalog.ErrMissingID)
}

func TestSyncRuns(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.StartRun(ctx, SyncRun{ID: fmt.Sprintf("run-%d", i), StartedAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	finished := base.Add(10 * time.Minute)
	require.NoError(t, s.FinishRun(ctx, SyncRun{ID: "run-2", Status: RunStatusSuccess, SyncedCount: 42, FailedPages: 1, FinishedAt: &finished}))

	runs, err := s.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, RunStatusSuccess, runs[0].Status)
	require.Equal(t, 42, runs[0].SyncedCount)
	require.NotNil(t, runs[0].FinishedAt)
	require.Equal(t, RunStatusRunning, runs[1].Status)
	require.Nil(t, runs[1].FinishedAt)

	err = s.FinishRun(ctx, SyncRun{ID: "missing", Status: RunStatusFailed})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentUpsertsNeverTear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]catalog.Product, 0, 25)
			for i := 0; i < 25; i++ {
				batch = append(batch, product(fmt.Sprintf("%d-%d", w, i), "item"))
			}
			_, err := s.UpsertProducts(ctx, batch)
			errs <- err
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	count, err := s.CountProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 100, count)
}

func TestReopenKeepsDataAndSchema(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	_, err = s.UpsertProducts(ctx, []catalog.Product{product("1", "x")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = OpenSQLite(ctx, path, nil)
	require.NoError(t, err)
	defer s.Close()

	var version int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_version`).Scan(&version))
	require.Equal(t, len(sqliteMigrations), version)

	count, err := s.CountProducts(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestInMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:", nil)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.UpsertProducts(ctx, []catalog.Product{product("1", "x")})
	require.NoError(t, err)
	all, err := s.AllProducts(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestStorageErrorUnwraps(t *testing.T) {
	base := errors.New("disk full")
	err := wrap("upsert products", base)
	require.EqualError(t, err, "store: upsert products: disk full")
	require.ErrorIs(t, err, base)
	require.Same(t, err, wrap("outer", err))
	require.NoError(t, wrap("noop", nil))
}
