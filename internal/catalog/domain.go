package catalog

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// Status enumerates upstream lifecycle states of a catalog item.
type Status string

const (
	// StatusActive marks items that are shown and mirrored locally.
	StatusActive Status = "active"
	// StatusInactive marks items disabled upstream.
	StatusInactive Status = "inactive"
	// StatusOther covers any status the vendor adds later.
	StatusOther Status = "other"
)

const (
	// UncategorizedLabel buckets products without a category.
	UncategorizedLabel = "Uncategorized"
	// DefaultCurrencySymbol is used when the first price entry has no symbol.
	DefaultCurrencySymbol = "₡"
	// LowStockThreshold is the quantity at or below which stock is reported as low.
	LowStockThreshold = 5
)

// ErrMissingID is returned when a record has no usable identifier.
var ErrMissingID = errors.New("catalog: product id missing")

// ParseStatus normalises an upstream status string.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(StatusActive):
		return StatusActive
	case string(StatusInactive):
		return StatusInactive
	default:
		return StatusOther
	}
}

// PriceEntry is one entry of a product price list.
type PriceEntry struct {
	Amount         decimal.Decimal `json:"amount"`
	CurrencySymbol string          `json:"currency_symbol,omitempty"`
}

// TaxEntry is a tax applied on top of the base price.
type TaxEntry struct {
	Percentage decimal.Decimal `json:"percentage"`
}

// WarehouseStock holds the available quantity in one warehouse.
type WarehouseStock struct {
	AvailableQuantity decimal.Decimal `json:"available_quantity"`
}

// Image references a product picture hosted upstream.
type Image struct {
	URL      string `json:"url"`
	Favorite bool   `json:"favorite,omitempty"`
}

// Product is the locally mirrored catalog item. Derived values (final price,
// stock totals, display image) are computed on read and never stored.
type Product struct {
	ID         string           `json:"id" validate:"required"`
	Name       string           `json:"name"`
	Status     Status           `json:"status" validate:"required"`
	Reference  string           `json:"reference,omitempty"`
	Category   string           `json:"category,omitempty"`
	Prices     []PriceEntry     `json:"prices,omitempty"`
	Taxes      []TaxEntry       `json:"taxes,omitempty"`
	Warehouses []WarehouseStock `json:"warehouses,omitempty"`
	Images     []Image          `json:"images,omitempty"`
}

// IsActive reports whether the product should be kept in the local store.
func (p Product) IsActive() bool {
	return p.Status == StatusActive
}

// CategoryLabel returns the grouping label for the product.
func (p Product) CategoryLabel() string {
	if name := strings.TrimSpace(p.Category); name != "" {
		return name
	}
	return UncategorizedLabel
}

// FilterActive returns the active products in source order.
func FilterActive(products []Product) []Product {
	active := make([]Product, 0, len(products))
	for _, p := range products {
		if p.IsActive() {
			active = append(active, p)
		}
	}
	return active
}
