package cataloghttp

import (
	"net/url"

	"github.com/catalogo-pos/catalogo/internal/catalog"
)

type productView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Reference      string `json:"reference,omitempty"`
	Category       string `json:"category"`
	BasePrice      string `json:"base_price"`
	TaxRate        string `json:"tax_rate"`
	FinalPrice     string `json:"final_price"`
	CurrencySymbol string `json:"currency_symbol"`
	Stock          string `json:"stock"`
	StockLevel     string `json:"stock_level"`
	ImageURL       string `json:"image_url,omitempty"`
	ImagePath      string `json:"image_path,omitempty"`
}

type projectionView struct {
	Query      string                   `json:"query"`
	Total      int                      `json:"total"`
	Categories []string                 `json:"categories"`
	Groups     map[string][]productView `json:"groups"`
	Products   []productView            `json:"products"`
}

func newProductView(p catalog.Product) productView {
	view := productView{
		ID:             p.ID,
		Name:           p.Name,
		Reference:      p.Reference,
		Category:       p.CategoryLabel(),
		BasePrice:      p.BasePrice().String(),
		TaxRate:        p.TotalTaxRate().String(),
		FinalPrice:     p.FinalPrice().String(),
		CurrencySymbol: p.CurrencySymbol(),
		Stock:          p.TotalStock().String(),
		StockLevel:     string(p.StockLevel()),
	}
	if img, ok := p.DisplayImage(); ok {
		view.ImageURL = img.URL
		view.ImagePath = "/catalog/images?url=" + url.QueryEscape(img.URL)
	}
	return view
}

func newProjectionView(query string, projection catalog.Projection) projectionView {
	out := projectionView{
		Query:      query,
		Total:      len(projection.Flat),
		Categories: projection.Categories,
		Groups:     make(map[string][]productView, len(projection.Groups)),
		Products:   make([]productView, 0, len(projection.Flat)),
	}
	for _, p := range projection.Flat {
		out.Products = append(out.Products, newProductView(p))
	}
	for name, products := range projection.Groups {
		views := make([]productView, 0, len(products))
		for _, p := range products {
			views = append(views, newProductView(p))
		}
		out.Groups[name] = views
	}
	return out
}
