package cataloghttp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/catalogsync"
	"github.com/catalogo-pos/catalogo/internal/imagecache"
	"github.com/catalogo-pos/catalogo/internal/store"
)

const adminToken = "kiosk-secret"

type stubEngine struct {
	products    []catalog.Product
	syncing     bool
	triggerErr  error
	broadcaster *catalogsync.Broadcaster

	mu        sync.Mutex
	triggered []catalogsync.SyncOptions
}

func (s *stubEngine) Products() []catalog.Product { return s.products }
func (s *stubEngine) Syncing() bool               { return s.syncing }

func (s *stubEngine) TriggerBackground(ctx context.Context, opts catalogsync.SyncOptions) error {
	if s.triggerErr != nil {
		return s.triggerErr
	}
	s.mu.Lock()
	s.triggered = append(s.triggered, opts)
	s.mu.Unlock()
	return nil
}

func (s *stubEngine) Progress() *catalogsync.Broadcaster {
	if s.broadcaster == nil {
		s.broadcaster = catalogsync.NewBroadcaster()
	}
	return s.broadcaster
}

type stubStore struct {
	hidden  map[string]bool
	last    *time.Time
	runs    []store.SyncRun
	err     error
	cleared bool
}

func (s *stubStore) HiddenIDs(ctx context.Context) (map[string]bool, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(map[string]bool, len(s.hidden))
	for k, v := range s.hidden {
		out[k] = v
	}
	return out, nil
}

func (s *stubStore) SetHidden(ctx context.Context, id string, hidden bool) error {
	if s.err != nil {
		return s.err
	}
	if s.hidden == nil {
		s.hidden = map[string]bool{}
	}
	if hidden {
		s.hidden[id] = true
	} else {
		delete(s.hidden, id)
	}
	return nil
}

func (s *stubStore) ClearHidden(ctx context.Context) error {
	s.cleared = true
	s.hidden = nil
	return s.err
}

func (s *stubStore) LastSync(ctx context.Context) (*time.Time, error) { return s.last, s.err }

func (s *stubStore) RecentRuns(ctx context.Context, limit int) ([]store.SyncRun, error) {
	return s.runs, s.err
}

type stubImages struct {
	entries map[string]imagecache.Entry
}

func (s stubImages) Image(ctx context.Context, url string) (imagecache.Entry, error) {
	entry, ok := s.entries[url]
	if !ok {
		return imagecache.Entry{}, errors.New("fetch failed")
	}
	return entry, nil
}

func sampleProducts() []catalog.Product {
	return []catalog.Product{
		{
			ID: "1", Name: "Café molido", Status: catalog.StatusActive, Category: "Bebidas",
			Prices:     []catalog.PriceEntry{{Amount: decimal.NewFromInt(881)}},
			Taxes:      []catalog.TaxEntry{{Percentage: decimal.NewFromInt(13)}},
			Warehouses: []catalog.WarehouseStock{{AvailableQuantity: decimal.NewFromInt(3)}},
			Images:     []catalog.Image{{URL: "https://img.example/cafe.png", Favorite: true}},
		},
		{ID: "2", Name: "Pan", Status: catalog.StatusActive, Category: "Panadería"},
		{ID: "3", Name: "Té verde", Status: catalog.StatusActive, Category: "Bebidas"},
	}
}

func newTestRouter(t *testing.T, engine *stubEngine, st *stubStore, images Images) http.Handler {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(adminToken), bcrypt.MinCost)
	require.NoError(t, err)
	h := NewHandler(Config{
		Engine:         engine,
		Store:          st,
		Images:         images,
		AdminTokenHash: string(hash),
	})
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestListProductsFiltersHiddenAndQuery(t *testing.T) {
	engine := &stubEngine{products: sampleProducts()}
	st := &stubStore{hidden: map[string]bool{"3": true}}
	router := newTestRouter(t, engine, st, nil)

	req := httptest.NewRequest(http.MethodGet, "/catalog", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body projectionView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 2, body.Total)
	require.Equal(t, []string{"Bebidas", "Panadería"}, body.Categories)
	require.Len(t, body.Groups["Bebidas"], 1)

	cafe := body.Products[0]
	require.Equal(t, "996", cafe.FinalPrice)
	require.Equal(t, string(catalog.StockLow), cafe.StockLevel)
	require.Equal(t, "https://img.example/cafe.png", cafe.ImageURL)
	require.Contains(t, cafe.ImagePath, "/catalog/images?url=")

	req = httptest.NewRequest(http.MethodGet, "/catalog?q=PAN", nil)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Equal(t, "2", body.Products[0].ID)
}

func TestListProductsStoreFailure(t *testing.T) {
	router := newTestRouter(t, &stubEngine{}, &stubStore{err: errors.New("disk")}, nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}

func TestStats(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := &stubEngine{products: sampleProducts(), syncing: true}
	st := &stubStore{hidden: map[string]bool{"2": true}, last: &last}
	router := newTestRouter(t, engine, st, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/stats", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body statsView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 3, body.Total)
	require.Equal(t, 1, body.Hidden)
	require.Equal(t, 2, body.Visible)
	require.True(t, body.Syncing)
	require.True(t, body.Online)
	require.NotNil(t, body.LastSync)
	require.True(t, last.Equal(*body.LastSync))
}

func TestImageServesKnownURLsOnly(t *testing.T) {
	images := stubImages{entries: map[string]imagecache.Entry{
		"https://img.example/cafe.png": {ContentType: "image/png", Data: []byte("png")},
		"http://169.254.169.254/":      {ContentType: "text/plain", Data: []byte("secret")},
	}}
	router := newTestRouter(t, &stubEngine{products: sampleProducts()}, &stubStore{}, images)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/images?url=https%3A%2F%2Fimg.example%2Fcafe.png", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	require.Equal(t, "png", rr.Body.String())

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/images?url=http%3A%2F%2F169.254.169.254%2F", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/images", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestImageFetchFailureIsNotFound(t *testing.T) {
	router := newTestRouter(t, &stubEngine{products: sampleProducts()}, &stubStore{}, stubImages{})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/images?url=https%3A%2F%2Fimg.example%2Fcafe.png", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func adminRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(AdminTokenHeader, adminToken)
	return req
}

func TestTriggerSync(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(t, engine, &stubStore{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/catalog/sync?force=1"))
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []catalogsync.SyncOptions{{Force: true}}, engine.triggered)
}

func TestTriggerSyncErrors(t *testing.T) {
	cases := map[string]struct {
		err  error
		code int
	}{
		"in progress": {err: catalogsync.ErrSyncInProgress, code: http.StatusConflict},
		"offline":     {err: catalogsync.ErrOffline, code: http.StatusServiceUnavailable},
		"other":       {err: errors.New("boom"), code: http.StatusInternalServerError},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			router := newTestRouter(t, &stubEngine{triggerErr: tc.err}, &stubStore{}, nil)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, adminRequest(http.MethodPost, "/catalog/sync"))
			require.Equal(t, tc.code, rr.Code)
		})
	}
}

func TestAdminRoutesRequireToken(t *testing.T) {
	router := newTestRouter(t, &stubEngine{}, &stubStore{}, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/catalog/sync", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	req := httptest.NewRequest(http.MethodPost, "/catalog/sync", nil)
	req.Header.Set(AdminTokenHeader, "wrong")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestAdminRoutesDisabledWithoutHash(t *testing.T) {
	h := NewHandler(Config{Engine: &stubEngine{}, Store: &stubStore{}})
	r := chi.NewRouter()
	h.MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, adminRequest(http.MethodDelete, "/catalog/hidden"))
	require.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHiddenRoutes(t *testing.T) {
	st := &stubStore{}
	router := newTestRouter(t, &stubEngine{products: sampleProducts()}, st, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodPost, "/catalog/hidden/2"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, st.hidden["2"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/catalog/hidden/2"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.False(t, st.hidden["2"])

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, adminRequest(http.MethodDelete, "/catalog/hidden"))
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.True(t, st.cleared)
}

func TestSyncStatus(t *testing.T) {
	engine := &stubEngine{}
	engine.Progress().Publish(catalogsync.Progress{RunID: "r1", Message: "done", Percent: 100, Synced: 4, Done: true})
	st := &stubStore{runs: []store.SyncRun{{ID: "r1", Status: store.RunStatusSuccess, SyncedCount: 4}}}
	router := newTestRouter(t, engine, st, nil)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/catalog/sync", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body syncStatusView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, 100, body.Last.Percent)
	require.Len(t, body.Runs, 1)
	require.Equal(t, store.RunStatusSuccess, body.Runs[0].Status)
}

func TestEventsStreamsProgress(t *testing.T) {
	engine := &stubEngine{broadcaster: catalogsync.NewBroadcaster()}
	router := newTestRouter(t, engine, &stubStore{}, nil)
	srv := httptest.NewServer(router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/catalog/sync/events", nil)
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readData := func() catalogsync.Progress {
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var p catalogsync.Progress
				require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(data)), &p))
				return p
			}
		}
	}

	require.Equal(t, 0, readData().Percent)
	engine.Progress().Publish(catalogsync.Progress{Message: "syncing", Percent: 40, Synced: 200})
	got := readData()
	require.Equal(t, 40, got.Percent)
	require.Equal(t, 200, got.Synced)
}
