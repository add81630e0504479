package catalog

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFinalPriceAddsSummedTaxes(t *testing.T) {
	p := Product{
		Prices: []PriceEntry{{Amount: dec("881")}},
		Taxes:  []TaxEntry{{Percentage: dec("13")}},
	}
	// 881 * 1.13 = 995.53
	require.True(t, p.FinalPrice().Equal(dec("996")), "got %s", p.FinalPrice())

	p.Taxes = []TaxEntry{{Percentage: dec("10")}, {Percentage: dec("3")}}
	require.True(t, p.TotalTaxRate().Equal(dec("13")))
	require.True(t, p.FinalPrice().Equal(dec("996")))

	p.Prices = []PriceEntry{{Amount: dec("1000")}, {Amount: dec("5")}}
	p.Taxes = []TaxEntry{{Percentage: dec("13")}}
	require.True(t, p.FinalPrice().Equal(dec("1130")))
}

func TestFinalPriceWithoutPrices(t *testing.T) {
	p := Product{Taxes: []TaxEntry{{Percentage: dec("13")}}}
	require.True(t, p.FinalPrice().IsZero())
	require.Equal(t, DefaultCurrencySymbol, p.CurrencySymbol())
}

func TestStockTotalsAndLevels(t *testing.T) {
	p := Product{Warehouses: []WarehouseStock{{AvailableQuantity: dec("2")}, {AvailableQuantity: dec("2.5")}}}
	require.True(t, p.TotalStock().Equal(dec("4.5")))
	require.Equal(t, StockLow, p.StockLevel())

	p.Warehouses = append(p.Warehouses, WarehouseStock{AvailableQuantity: dec("10")})
	require.Equal(t, StockIn, p.StockLevel())

	require.Equal(t, StockOut, Product{}.StockLevel())
}

func TestDisplayImage(t *testing.T) {
	p := Product{Images: []Image{{URL: "a.png"}, {URL: "b.png", Favorite: true}}}
	img, ok := p.DisplayImage()
	require.True(t, ok)
	require.Equal(t, "b.png", img.URL)

	p.Images = []Image{{URL: "a.png"}, {URL: "c.png"}}
	img, ok = p.DisplayImage()
	require.True(t, ok)
	require.Equal(t, "a.png", img.URL)

	_, ok = Product{}.DisplayImage()
	require.False(t, ok)
}

func TestDisplayImageURLsDeduplicates(t *testing.T) {
	products := []Product{
		{ID: "1", Images: []Image{{URL: "x.png"}}},
		{ID: "2", Images: []Image{{URL: "x.png", Favorite: true}}},
		{ID: "3"},
		{ID: "4", Images: []Image{{URL: "y.png"}}},
	}
	require.Equal(t, []string{"x.png", "y.png"}, DisplayImageURLs(products))
}

func TestParseStatus(t *testing.T) {
	require.Equal(t, StatusActive, ParseStatus("active"))
	require.Equal(t, StatusActive, ParseStatus(" Active "))
	require.Equal(t, StatusInactive, ParseStatus("inactive"))
	require.Equal(t, StatusOther, ParseStatus("archived"))
}

func TestProjectSearchAndGrouping(t *testing.T) {
	products := []Product{
		{ID: "1", Name: "Tornillo M8", Category: "Ferreteros"},
		{ID: "2", Name: "Cable 2.5mm", Category: "Electricos"},
	}

	proj := Project(products, "tornillo")
	require.Len(t, proj.Flat, 1)
	require.Equal(t, []string{"Ferreteros"}, proj.Categories)
	require.Len(t, proj.Groups["Ferreteros"], 1)
	require.Equal(t, "1", proj.Groups["Ferreteros"][0].ID)

	proj = Project(products, "")
	require.Len(t, proj.Flat, 2)
	require.Equal(t, []string{"Electricos", "Ferreteros"}, proj.Categories)
}

func TestProjectMatchesReferenceAndKeepsOrder(t *testing.T) {
	products := []Product{
		{ID: "1", Name: "Martillo", Reference: "HER-001", Category: "Herramientas"},
		{ID: "2", Name: "Sierra", Reference: "her-002", Category: "Herramientas"},
		{ID: "3", Name: "Foco LED"},
	}

	proj := Project(products, "HER")
	require.Len(t, proj.Flat, 2)
	require.Equal(t, "1", proj.Groups["Herramientas"][0].ID)
	require.Equal(t, "2", proj.Groups["Herramientas"][1].ID)

	proj = Project(products, "foco")
	require.Equal(t, []string{UncategorizedLabel}, proj.Categories)

	proj = Project(products, "nada")
	require.Empty(t, proj.Flat)
	require.Empty(t, proj.Categories)
}

func TestProjectVisibleAndStats(t *testing.T) {
	products := []Product{{ID: "1", Name: "A"}, {ID: "2", Name: "B"}, {ID: "3", Name: "C"}}
	hidden := map[string]bool{"2": true, "99": true}

	proj := ProjectVisible(products, "", hidden)
	require.Len(t, proj.Flat, 2)

	stats := ComputeStats(products, hidden)
	require.Equal(t, Stats{Total: 3, Hidden: 1, Visible: 2}, stats)
}

func TestFilterActive(t *testing.T) {
	products := []Product{
		{ID: "1", Status: StatusActive},
		{ID: "2", Status: StatusInactive},
		{ID: "3", Status: StatusOther},
		{ID: "4", Status: StatusActive},
	}
	active := FilterActive(products)
	require.Len(t, active, 2)
	require.Equal(t, "4", active[1].ID)
}
