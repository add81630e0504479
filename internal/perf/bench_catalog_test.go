package perf

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/catalogo-pos/catalogo/internal/catalog"
	"github.com/catalogo-pos/catalogo/internal/store"
)

func syntheticCatalog(n int) []catalog.Product {
	products := make([]catalog.Product, n)
	for i := range products {
		products[i] = catalog.Product{
			ID:         fmt.Sprintf("p-%05d", i),
			Name:       fmt.Sprintf("Producto %05d", i),
			Status:     catalog.StatusActive,
			Reference:  fmt.Sprintf("REF%05d", i),
			Category:   fmt.Sprintf("Categoría %02d", i%40),
			Prices:     []catalog.PriceEntry{{Amount: decimal.NewFromInt(int64(500 + i%900))}},
			Taxes:      []catalog.TaxEntry{{Percentage: decimal.NewFromInt(13)}},
			Warehouses: []catalog.WarehouseStock{{AvailableQuantity: decimal.NewFromInt(int64(i % 11))}},
			Images:     []catalog.Image{{URL: fmt.Sprintf("https://img.example/%d.png", i)}},
		}
	}
	return products
}

// Filtering runs on every keystroke, so p95 over a large catalog must stay
// well under a frame budget.
func TestProjectionLatencyTarget(t *testing.T) {
	products := syntheticCatalog(5000)
	hidden := map[string]bool{"p-00010": true, "p-00020": true}
	queries := []string{"", "producto 01", "REF0", "zzz", "categoría", "PRODUCTO 049", "ref00001", "4", "99", "x"}

	samples := make([]time.Duration, 0, len(queries))
	for _, q := range queries {
		start := time.Now()
		_ = catalog.ProjectVisible(products, q, hidden)
		samples = append(samples, time.Since(start))
	}
	if p95 := percentile95(samples); p95 > 250*time.Millisecond {
		t.Fatalf("projection latency regression: p95=%s", p95)
	}
}

func BenchmarkProjectVisible(b *testing.B) {
	products := syntheticCatalog(5000)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = catalog.ProjectVisible(products, "producto 01", nil)
	}
}

func BenchmarkFinalPrice(b *testing.B) {
	products := syntheticCatalog(1000)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range products {
			_ = p.FinalPrice()
		}
	}
}

func BenchmarkSQLiteUpsertWindow(b *testing.B) {
	st, err := store.OpenSQLite(context.Background(), filepath.Join(b.TempDir(), "bench.db"), nil)
	if err != nil {
		b.Fatalf("open store: %v", err)
	}
	defer st.Close()

	window := syntheticCatalog(150)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := st.UpsertProducts(context.Background(), window); err != nil {
			b.Fatalf("upsert: %v", err)
		}
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}
