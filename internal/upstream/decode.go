package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/catalogo-pos/catalogo/internal/catalog"
)

// Record pairs a decoded product with the upstream JSON it came from.
type Record struct {
	Product catalog.Product
	Raw     json.RawMessage
}

type envelope struct {
	Products *[]json.RawMessage `json:"products"`
	Debug    *struct {
		HasMore *bool `json:"has_more"`
	} `json:"debug"`
}

// decodePage splits a page payload into raw records plus the optional
// server-side "more data" flag.
func decodePage(body []byte) ([]json.RawMessage, *bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil, &PartialPageError{Reason: "empty body"}
	}
	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, nil, &PartialPageError{Reason: err.Error()}
		}
		return items, nil, nil
	case '{':
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err != nil {
			return nil, nil, &PartialPageError{Reason: err.Error()}
		}
		if env.Products == nil {
			return nil, nil, &PartialPageError{Reason: "object without products array"}
		}
		var hasMore *bool
		if env.Debug != nil {
			hasMore = env.Debug.HasMore
		}
		return *env.Products, hasMore, nil
	default:
		return nil, nil, &PartialPageError{Reason: fmt.Sprintf("unexpected payload starting with %q", trimmed[0])}
	}
}

// flexDecimal accepts JSON numbers, numeric strings with thousands
// separators, empty strings and null. Anything else decodes as zero and is
// flagged as coerced.
type flexDecimal struct {
	decimal.Decimal
	coerced bool
}

func (d *flexDecimal) UnmarshalJSON(b []byte) error {
	d.Decimal = decimal.Zero
	d.coerced = false
	raw := strings.TrimSpace(string(b))
	if raw == "null" || raw == `""` {
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			d.coerced = true
			return nil
		}
		raw = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		if raw == "" {
			return nil
		}
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		d.coerced = true
		return nil
	}
	d.Decimal = value
	return nil
}

type wireProduct struct {
	ID           json.RawMessage `json:"id"`
	Name         string          `json:"name"`
	Status       string          `json:"status"`
	Reference    json.RawMessage `json:"reference"`
	ItemCategory *struct {
		Name string `json:"name"`
	} `json:"itemCategory"`
	Price []struct {
		Price    flexDecimal `json:"price"`
		Currency *struct {
			Symbol string `json:"symbol"`
		} `json:"currency"`
	} `json:"price"`
	Tax []struct {
		Percentage flexDecimal `json:"percentage"`
	} `json:"tax"`
	Inventory *struct {
		AvailableQuantity *flexDecimal `json:"availableQuantity"`
		Warehouses        []struct {
			AvailableQuantity flexDecimal `json:"availableQuantity"`
		} `json:"warehouses"`
	} `json:"inventory"`
	Images []struct {
		URL      string `json:"url"`
		Favorite bool   `json:"favorite"`
	} `json:"images"`
}

// recordDecoder turns raw upstream items into validated products.
type recordDecoder struct {
	validate *validator.Validate
}

func newRecordDecoder() *recordDecoder {
	return &recordDecoder{validate: validator.New()}
}

// decode converts one upstream item. coerced counts numeric fields that could
// not be parsed and were read as zero; only a missing id rejects the record.
func (d *recordDecoder) decode(raw json.RawMessage) (p catalog.Product, coerced int, err error) {
	var w wireProduct
	if err := json.Unmarshal(raw, &w); err != nil {
		return catalog.Product{}, 0, err
	}
	p = catalog.Product{
		ID:        scalarString(w.ID),
		Name:      strings.TrimSpace(w.Name),
		Status:    catalog.ParseStatus(w.Status),
		Reference: referenceString(w.Reference),
	}
	if w.ItemCategory != nil {
		p.Category = strings.TrimSpace(w.ItemCategory.Name)
	}
	for _, price := range w.Price {
		if price.Price.coerced {
			coerced++
		}
		entry := catalog.PriceEntry{Amount: price.Price.Decimal}
		if price.Currency != nil {
			entry.CurrencySymbol = price.Currency.Symbol
		}
		p.Prices = append(p.Prices, entry)
	}
	for _, tax := range w.Tax {
		if tax.Percentage.coerced {
			coerced++
		}
		p.Taxes = append(p.Taxes, catalog.TaxEntry{Percentage: tax.Percentage.Decimal})
	}
	if w.Inventory != nil {
		for _, wh := range w.Inventory.Warehouses {
			if wh.AvailableQuantity.coerced {
				coerced++
			}
			p.Warehouses = append(p.Warehouses, catalog.WarehouseStock{AvailableQuantity: wh.AvailableQuantity.Decimal})
		}
		if len(p.Warehouses) == 0 && w.Inventory.AvailableQuantity != nil {
			if w.Inventory.AvailableQuantity.coerced {
				coerced++
			}
			p.Warehouses = []catalog.WarehouseStock{{AvailableQuantity: w.Inventory.AvailableQuantity.Decimal}}
		}
	}
	for _, img := range w.Images {
		p.Images = append(p.Images, catalog.Image{URL: img.URL, Favorite: img.Favorite})
	}
	if err := d.validate.Struct(p); err != nil {
		if p.ID == "" {
			return catalog.Product{}, coerced, catalog.ErrMissingID
		}
		return catalog.Product{}, coerced, err
	}
	return p, coerced, nil
}

// scalarString renders a JSON string or number as a plain string.
func scalarString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return ""
	}
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return strings.TrimSpace(s)
	}
	return trimmed
}

// referenceString handles both `"reference": "X"` and
// `"reference": {"reference": "X"}`.
func referenceString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return ""
	}
	if trimmed[0] == '{' {
		var ref struct {
			Reference json.RawMessage `json:"reference"`
		}
		if err := json.Unmarshal(trimmed, &ref); err != nil {
			return ""
		}
		return scalarString(ref.Reference)
	}
	return scalarString(trimmed)
}
