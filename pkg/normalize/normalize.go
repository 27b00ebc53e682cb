// Package normalize maps parsed listing items into the catalog's
// canonical sale shape.
package normalize

import (
	"strings"

	"github.com/lanternetwork/saletracker/pkg/models"
)

// keywordTag maps a title keyword to the tag it contributes
type keywordTag struct {
	keyword string
	tag     string
}

// keywordTags is ordered so tag inference is deterministic across runs.
// Matching is substring-based on the lower-cased title.
var keywordTags = []keywordTag{
	{"moving", "moving"},
	{"estate", "estate"},
	{"garage", "garage"},
	{"yard", "yard"},
	{"tool", "tools"},
	{"furniture", "furniture"},
	{"antique", "antiques"},
	{"vintage", "vintage"},
	{"multi-family", "multi-family"},
	{"multi family", "multi-family"},
	{"book", "books"},
	{"cloth", "clothing"},
	{"toy", "toys"},
	{"electronic", "electronics"},
	{"kids", "kids"},
	{"baby", "baby"},
}

// Normalizer converts RawListingItems into canonical sales. It is a pure
// deterministic mapping: the same input always yields byte-equal output.
type Normalizer struct{}

// NewNormalizer creates a new Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// Normalize maps item into a canonical sale attributed to source. Fields
// absent from the item are left unset so they are omitted from JSON
// entirely; tags and photos are always materialized, possibly empty.
func (n *Normalizer) Normalize(item models.RawListingItem, source models.SaleSource) models.Sale {
	sale := models.Sale{
		Title:  strings.TrimSpace(item.Title),
		Tags:   InferTags(item.Title, source),
		Photos: []string{},
		Status: models.SaleStatusPublished,
		Source: source,
	}

	if !item.PostedAt.IsZero() {
		postedAt := item.PostedAt.UTC()
		sale.StartAt = &postedAt
	}

	if item.Price != nil && *item.Price >= 0 {
		// A single scalar price is a point estimate, not a range
		price := *item.Price
		sale.PriceMin = &price
		priceMax := price
		sale.PriceMax = &priceMax
	}

	if url := strings.TrimSpace(item.URL); url != "" {
		sale.URL = &url
	}

	if city := strings.TrimSpace(item.City); city != "" {
		sale.City = &city
	}

	return sale
}

// InferTags derives lowercase, de-duplicated tags from a listing title.
// The source identifier is always included.
func InferTags(title string, source models.SaleSource) []string {
	tags := []string{}
	seen := map[string]bool{}

	add := func(tag string) {
		if tag == "" || seen[tag] {
			return
		}
		seen[tag] = true
		tags = append(tags, tag)
	}

	lowered := strings.ToLower(title)
	for _, kt := range keywordTags {
		if strings.Contains(lowered, kt.keyword) {
			add(kt.tag)
		}
	}
	add(strings.ToLower(string(source)))

	return tags
}
