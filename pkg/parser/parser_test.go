package parser

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleMarkup = `
<html><body><ul class="rows">
  <li class="result-row">
    <time datetime="2025-06-14T08:00:00Z">Jun 14</time>
    <a class="result-title" href="/d/garage-moving/1.html">Huge moving sale</a>
    <span class="result-price">$20</span>
  </li>
  <li class="result-row">
    <time datetime="2025-06-15 09:30">Jun 15</time>
    <a class="result-title" href="https://sfbay.craigslist.org/d/estate/2.html">Estate sale everything must go</a>
    <span class="result-price">$5 - $50</span>
  </li>
  <li class="result-row">
    <a class="result-title" href="/d/free-stuff/3.html">Curb alert</a>
    <span class="result-price">FREE</span>
  </li>
</ul></body></html>`

func TestParser_Parse(t *testing.T) {
	parser := NewParser()

	t.Run("extracts one item per row", func(t *testing.T) {
		items := parser.Parse(sampleMarkup, 100)
		require.Len(t, items, 3)

		assert.Equal(t, "Huge moving sale", items[0].Title)
		assert.Equal(t, "/d/garage-moving/1.html", items[0].URL)
		require.NotNil(t, items[0].Price)
		assert.Equal(t, 20.0, *items[0].Price)
		assert.Equal(t, time.Date(2025, 6, 14, 8, 0, 0, 0, time.UTC), items[0].PostedAt)

		assert.Equal(t, "Estate sale everything must go", items[1].Title)
	})

	t.Run("range price keeps the minimum token", func(t *testing.T) {
		items := parser.Parse(sampleMarkup, 100)
		require.NotNil(t, items[1].Price)
		assert.Equal(t, 5.0, *items[1].Price)
	})

	t.Run("FREE maps to nil price", func(t *testing.T) {
		items := parser.Parse(sampleMarkup, 100)
		assert.Nil(t, items[2].Price)
	})

	t.Run("missing timestamp defaults to parse time", func(t *testing.T) {
		now := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
		p := NewParser()
		p.now = func() time.Time { return now }

		items := p.Parse(sampleMarkup, 100)
		assert.Equal(t, now, items[2].PostedAt)
	})

	t.Run("respects the limit", func(t *testing.T) {
		items := parser.Parse(sampleMarkup, 2)
		assert.Len(t, items, 2)
	})

	t.Run("empty input returns empty slice", func(t *testing.T) {
		assert.Empty(t, parser.Parse("", 100))
		assert.Empty(t, parser.Parse("   \n ", 100))
	})

	t.Run("zero limit parses nothing", func(t *testing.T) {
		assert.Empty(t, parser.Parse(sampleMarkup, 0))
	})

	t.Run("malformed markup never fails", func(t *testing.T) {
		items := parser.Parse("<li class=\"result-row\"><b>unterminated", 100)
		require.Len(t, items, 1)
		assert.Empty(t, items[0].Title)
	})

	t.Run("row without a title yields an empty title", func(t *testing.T) {
		markup := `<li class="result-row"><span class="result-price">$10</span></li>`
		items := parser.Parse(markup, 100)
		require.Len(t, items, 1)
		assert.Empty(t, items[0].Title)
		require.NotNil(t, items[0].Price)
		assert.Equal(t, 10.0, *items[0].Price)
	})

	t.Run("item ids are unique within a parse", func(t *testing.T) {
		items := parser.Parse(sampleMarkup, 100)
		seen := map[string]bool{}
		for _, item := range items {
			assert.False(t, seen[item.ID])
			seen[item.ID] = true
		}
	})

	t.Run("never returns more than limit for generated rows", func(t *testing.T) {
		var sb strings.Builder
		sb.WriteString("<ul>")
		for i := 0; i < 50; i++ {
			sb.WriteString(fmt.Sprintf(`<li class="result-row"><a class="result-title" href="/%d">Sale %d</a></li>`, i, i))
		}
		sb.WriteString("</ul>")

		items := parser.Parse(sb.String(), 10)
		assert.Len(t, items, 10)
		assert.Equal(t, "Sale 0", items[0].Title)
	})
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *float64
	}{
		{"simple", "$20", ptr(20.0)},
		{"range keeps minimum", "$5 - $50", ptr(5.0)},
		{"thousands separator", "$1,250", ptr(1250.0)},
		{"decimal", "$9.99", ptr(9.99)},
		{"free is nil", "FREE", nil},
		{"free lowercase", "free", nil},
		{"empty", "", nil},
		{"no dollar token", "ten bucks", nil},
		{"space after dollar", "$ 15", ptr(15.0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParsePrice(tt.text)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func ptr[T any](v T) *T { return &v }
