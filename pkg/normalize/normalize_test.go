package normalize

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanternetwork/saletracker/pkg/models"
)

func TestNormalizer_Normalize(t *testing.T) {
	normalizer := NewNormalizer()
	postedAt := time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC)

	t.Run("maps a complete item", func(t *testing.T) {
		price := 20.0
		item := models.RawListingItem{
			ID:       "item-1",
			Title:    "Huge moving sale with tools",
			URL:      "https://sfbay.craigslist.org/d/garage-moving/1.html",
			PostedAt: postedAt,
			Price:    &price,
		}

		sale := normalizer.Normalize(item, models.SaleSourceCraigslist)

		assert.Equal(t, "Huge moving sale with tools", sale.Title)
		assert.Equal(t, []string{"moving", "tools", "craigslist"}, sale.Tags)
		assert.Equal(t, []string{}, sale.Photos)
		require.NotNil(t, sale.StartAt)
		assert.Equal(t, postedAt, *sale.StartAt)
		require.NotNil(t, sale.URL)
		assert.Equal(t, item.URL, *sale.URL)
		assert.Equal(t, models.SaleStatusPublished, sale.Status)
		assert.Equal(t, models.SaleSourceCraigslist, sale.Source)
	})

	t.Run("point price becomes both min and max", func(t *testing.T) {
		price := 15.0
		sale := normalizer.Normalize(models.RawListingItem{Title: "Sale", Price: &price}, models.SaleSourceCraigslist)

		require.NotNil(t, sale.PriceMin)
		require.NotNil(t, sale.PriceMax)
		assert.Equal(t, 15.0, *sale.PriceMin)
		assert.Equal(t, 15.0, *sale.PriceMax)
	})

	t.Run("nil price leaves both bounds unset", func(t *testing.T) {
		sale := normalizer.Normalize(models.RawListingItem{Title: "Curb alert"}, models.SaleSourceCraigslist)
		assert.Nil(t, sale.PriceMin)
		assert.Nil(t, sale.PriceMax)
	})

	t.Run("empty fields are omitted from JSON except tags and photos", func(t *testing.T) {
		sale := normalizer.Normalize(models.RawListingItem{Title: "Sale"}, models.SaleSourceCraigslist)

		body, err := json.Marshal(sale)
		require.NoError(t, err)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(body, &decoded))

		assert.NotContains(t, decoded, "url")
		assert.NotContains(t, decoded, "city")
		assert.NotContains(t, decoded, "price_min")
		assert.NotContains(t, decoded, "description")
		assert.NotContains(t, decoded, "created_at")
		assert.NotContains(t, decoded, "updated_at")
		assert.Contains(t, decoded, "tags")
		assert.Contains(t, decoded, "photos")
	})

	t.Run("normalizing twice yields byte-equal output", func(t *testing.T) {
		price := 5.0
		item := models.RawListingItem{
			Title:    "Estate sale with antiques and books",
			URL:      "/d/estate/2.html",
			PostedAt: postedAt,
			Price:    &price,
		}

		first, err := json.Marshal(normalizer.Normalize(item, models.SaleSourceCraigslist))
		require.NoError(t, err)
		second, err := json.Marshal(normalizer.Normalize(item, models.SaleSourceCraigslist))
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestInferTags(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  []string
	}{
		{"single keyword", "Big moving sale", []string{"moving", "craigslist"}},
		{"multiple keywords", "Estate sale: tools, furniture, books", []string{"estate", "tools", "furniture", "books", "craigslist"}},
		{"case insensitive", "MOVING SALE", []string{"moving", "craigslist"}},
		{"no keywords still has source", "Everything must go", []string{"craigslist"}},
		{"duplicate keywords deduplicated", "Moving moving moving", []string{"moving", "craigslist"}},
		{"multi family variants", "Multi family yard sale", []string{"yard", "multi-family", "craigslist"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InferTags(tt.title, models.SaleSourceCraigslist))
		})
	}
}
