package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/upstream"
)

type stubFetcher struct {
	fetchFn func(ctx context.Context, offset, pageSize int) (upstream.Page, error)
}

func (s stubFetcher) FetchPage(ctx context.Context, offset, pageSize int) (upstream.Page, error) {
	return s.fetchFn(ctx, offset, pageSize)
}

func (s stubFetcher) PageSize(requested int) int {
	if requested <= 0 || requested > upstream.HardMaxPageSize {
		return upstream.HardMaxPageSize
	}
	return requested
}

func record(id string, status catalog.Status) upstream.Record {
	raw := fmt.Sprintf(`{"id":%q,"status":%q,"vendor_field":"kept"}`, id, status)
	return upstream.Record{Product: catalog.Product{ID: id, Status: status}, Raw: json.RawMessage(raw)}
}

func newRouter(fetcher PageFetcher) http.Handler {
	r := chi.NewRouter()
	NewHandler(fetcher, slog.New(slog.NewTextHandler(io.Discard, nil)), 0).MountRoutes(r)
	return r
}

func TestProductsFiltersInactiveAndReportsDebug(t *testing.T) {
	fetcher := stubFetcher{fetchFn: func(ctx context.Context, offset, pageSize int) (upstream.Page, error) {
		require.Equal(t, 30, offset)
		require.Equal(t, 4, pageSize)
		return upstream.Page{
			Offset:    offset,
			Requested: pageSize,
			Received:  4,
			Invalid:   1,
			Records:   []upstream.Record{record("1", catalog.StatusActive), record("2", catalog.StatusInactive), record("3", catalog.StatusActive)},
		}, nil
	}}

	rr := httptest.NewRecorder()
	newRouter(fetcher).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?start=30&limit=4", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Products []map[string]any `json:"products"`
		Debug    debugInfo        `json:"debug"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Products, 2)
	require.Equal(t, "kept", body.Products[0]["vendor_field"])
	require.Equal(t, 2, body.Debug.ActiveFiltered)
	require.Equal(t, 1, body.Debug.InactiveFiltered)
	require.Equal(t, 1, body.Debug.Invalid)
	require.Equal(t, 4, body.Debug.TotalReceived)
	require.True(t, body.Debug.HasMore)
}

func TestProductsClampsLimit(t *testing.T) {
	fetcher := stubFetcher{fetchFn: func(ctx context.Context, offset, pageSize int) (upstream.Page, error) {
		require.Equal(t, upstream.HardMaxPageSize, pageSize)
		return upstream.Page{Requested: pageSize, Received: 5}, nil
	}}

	rr := httptest.NewRecorder()
	newRouter(fetcher).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products?limit=500", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `"has_more":false`)
}

func TestProductsUpstreamFailure(t *testing.T) {
	fetcher := stubFetcher{fetchFn: func(ctx context.Context, offset, pageSize int) (upstream.Page, error) {
		return upstream.Page{}, &upstream.FetchError{Offset: offset, Status: 401, Message: "unauthorized"}
	}}

	rr := httptest.NewRecorder()
	newRouter(fetcher).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products", nil))
	require.Equal(t, http.StatusBadGateway, rr.Code)
}

func TestCountWalksUntilShortPage(t *testing.T) {
	fetcher := stubFetcher{fetchFn: func(ctx context.Context, offset, pageSize int) (upstream.Page, error) {
		received := pageSize
		if offset == 60 {
			received = 4
		}
		records := []upstream.Record{record(fmt.Sprint(offset), catalog.StatusActive), record(fmt.Sprint(offset+1), catalog.StatusInactive)}
		return upstream.Page{Offset: offset, Requested: pageSize, Received: received, Records: records}, nil
	}}

	rr := httptest.NewRecorder()
	newRouter(fetcher).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/count", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body countResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.True(t, body.Complete)
	require.Equal(t, 3, body.PagesTested)
	require.Equal(t, 3, body.TotalActiveFound)
}

func TestCountReportsWrappedUpstreamStatus(t *testing.T) {
	fetcher := stubFetcher{fetchFn: func(ctx context.Context, offset, pageSize int) (upstream.Page, error) {
		if offset > 0 {
			return upstream.Page{}, fmt.Errorf("walk: %w", &upstream.FetchError{Offset: offset, Status: 503, Message: "unavailable"})
		}
		return upstream.Page{Offset: offset, Requested: pageSize, Received: pageSize, Records: []upstream.Record{record("1", catalog.StatusActive)}}, nil
	}}

	rr := httptest.NewRecorder()
	newRouter(fetcher).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/products/count", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var body countResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.False(t, body.Complete)
	require.Equal(t, 2, body.PagesTested)
	require.Len(t, body.DetailedResults, 2)
	require.Equal(t, 503, body.DetailedResults[1].Status)
}
