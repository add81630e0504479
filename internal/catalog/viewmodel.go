package catalog

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// Projection is the display-ready view of the local catalog.
type Projection struct {
	Flat       []Product
	Groups     map[string][]Product
	Categories []string
}

// Stats summarises how many products the kiosk shows.
type Stats struct {
	Total   int `json:"total"`
	Hidden  int `json:"hidden"`
	Visible int `json:"visible"`
}

// Project filters products by query and groups the matches by category.
// Matching is a case-insensitive substring test against name or reference;
// an empty query matches everything. Categories sort ascending and products
// keep their source order inside a category.
func Project(products []Product, query string) Projection {
	return ProjectVisible(products, query, nil)
}

// ProjectVisible behaves like Project but leaves out hidden product ids.
func ProjectVisible(products []Product, query string, hidden map[string]bool) Projection {
	folder := cases.Fold()
	needle := folder.String(strings.TrimSpace(query))

	proj := Projection{
		Flat:   make([]Product, 0, len(products)),
		Groups: make(map[string][]Product),
	}
	for _, p := range products {
		if hidden[p.ID] {
			continue
		}
		if needle != "" && !matches(folder, p, needle) {
			continue
		}
		proj.Flat = append(proj.Flat, p)
		label := p.CategoryLabel()
		if _, ok := proj.Groups[label]; !ok {
			proj.Categories = append(proj.Categories, label)
		}
		proj.Groups[label] = append(proj.Groups[label], p)
	}
	sort.Strings(proj.Categories)
	if proj.Categories == nil {
		proj.Categories = []string{}
	}
	return proj
}

func matches(folder cases.Caser, p Product, needle string) bool {
	if strings.Contains(folder.String(p.Name), needle) {
		return true
	}
	return p.Reference != "" && strings.Contains(folder.String(p.Reference), needle)
}

// ComputeStats counts hidden ids that still exist in products.
func ComputeStats(products []Product, hidden map[string]bool) Stats {
	stats := Stats{Total: len(products)}
	for _, p := range products {
		if hidden[p.ID] {
			stats.Hidden++
		}
	}
	stats.Visible = stats.Total - stats.Hidden
	return stats
}
