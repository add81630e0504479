package catalog

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// StockLevel classifies the available quantity for display.
type StockLevel string

const (
	StockOut StockLevel = "out"
	StockLow StockLevel = "low"
	StockIn  StockLevel = "in"
)

// BasePrice returns the canonical price, the first price entry.
func (p Product) BasePrice() decimal.Decimal {
	if len(p.Prices) == 0 {
		return decimal.Zero
	}
	return p.Prices[0].Amount
}

// CurrencySymbol returns the symbol of the canonical price.
func (p Product) CurrencySymbol() string {
	if len(p.Prices) == 0 || p.Prices[0].CurrencySymbol == "" {
		return DefaultCurrencySymbol
	}
	return p.Prices[0].CurrencySymbol
}

// TotalTaxRate sums every tax percentage. Taxes are not compounded.
func (p Product) TotalTaxRate() decimal.Decimal {
	total := decimal.Zero
	for _, t := range p.Taxes {
		total = total.Add(t.Percentage)
	}
	return total
}

// FinalPrice returns round(base * (1 + rate/100)) as an integer amount.
func (p Product) FinalPrice() decimal.Decimal {
	factor := decimal.NewFromInt(1).Add(p.TotalTaxRate().Div(hundred))
	return p.BasePrice().Mul(factor).Round(0)
}

// TotalStock sums the available quantity across warehouses.
func (p Product) TotalStock() decimal.Decimal {
	total := decimal.Zero
	for _, w := range p.Warehouses {
		total = total.Add(w.AvailableQuantity)
	}
	return total
}

// StockLevel buckets TotalStock into out, low or in.
func (p Product) StockLevel() StockLevel {
	stock := p.TotalStock()
	switch {
	case stock.LessThanOrEqual(decimal.Zero):
		return StockOut
	case stock.LessThanOrEqual(decimal.NewFromInt(LowStockThreshold)):
		return StockLow
	default:
		return StockIn
	}
}

// DisplayImage picks the first favorite image, else the first image.
// Entries without a URL are ignored. ok is false when nothing qualifies.
func (p Product) DisplayImage() (img Image, ok bool) {
	var first *Image
	for i := range p.Images {
		candidate := &p.Images[i]
		if candidate.URL == "" {
			continue
		}
		if candidate.Favorite {
			return *candidate, true
		}
		if first == nil {
			first = candidate
		}
	}
	if first == nil {
		return Image{}, false
	}
	return *first, true
}

// DisplayImageURLs collects the unique display image URLs of products in
// first-seen order.
func DisplayImageURLs(products []Product) []string {
	seen := make(map[string]struct{}, len(products))
	urls := make([]string, 0, len(products))
	for _, p := range products {
		img, ok := p.DisplayImage()
		if !ok {
			continue
		}
		if _, dup := seen[img.URL]; dup {
			continue
		}
		seen[img.URL] = struct{}{}
		urls = append(urls, img.URL)
	}
	return urls
}
