// Package parser extracts candidate listing rows from raw feed markup.
package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/lanternetwork/saletracker/pkg/models"
)

// rowSelector matches one listing row per discrete result unit. Both the
// legacy and current feed row shapes are accepted so fields from different
// rows are never cross-matched.
const rowSelector = "li.result-row, li.cl-search-result, div.result-row"

var dollarTokenPattern = regexp.MustCompile(`\$\s*([0-9][0-9,]*(?:\.[0-9]+)?)`)

// Parser turns raw feed markup into RawListingItems. It is tolerant by
// design: malformed markup never fails the batch, a row with no extractable
// title yields an item with an empty title instead.
type Parser struct {
	now func() time.Time
}

// NewParser creates a new Parser
func NewParser() *Parser {
	return &Parser{now: time.Now}
}

// Parse extracts up to limit listing items from markup. Rows beyond limit
// are not inspected. Empty or unparseable markup yields an empty slice,
// never an error.
func (p *Parser) Parse(markup string, limit int) []models.RawListingItem {
	items := []models.RawListingItem{}
	if strings.TrimSpace(markup) == "" || limit <= 0 {
		return items
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return items
	}

	doc.Find(rowSelector).EachWithBreak(func(_ int, row *goquery.Selection) bool {
		if len(items) >= limit {
			return false
		}
		items = append(items, p.parseRow(row))
		return true
	})

	return items
}

func (p *Parser) parseRow(row *goquery.Selection) models.RawListingItem {
	item := models.RawListingItem{
		ID:       uuid.NewString(),
		PostedAt: p.now().UTC(),
	}

	titleLink := row.Find("a.result-title, a.posting-title, .result-heading a").First()
	item.Title = strings.TrimSpace(titleLink.Text())
	if item.Title == "" {
		item.Title = strings.TrimSpace(row.Find(".result-title, .titlestring, .label").First().Text())
	}

	if href, ok := titleLink.Attr("href"); ok {
		item.URL = strings.TrimSpace(href)
	}

	priceText := row.Find(".result-price, .priceinfo, .price").First().Text()
	item.Price = ParsePrice(priceText)

	if datetime, ok := row.Find("time").First().Attr("datetime"); ok {
		if postedAt, err := parseTimestamp(datetime); err == nil {
			item.PostedAt = postedAt
		}
	}

	return item
}

// ParsePrice extracts a price from free-form price text. When multiple
// dollar tokens are present (e.g. "$5 - $50") the minimum is kept. The
// literal token FREE maps to nil, not zero.
func ParsePrice(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.EqualFold(text, "free") {
		return nil
	}

	var min *float64
	for _, match := range dollarTokenPattern.FindAllStringSubmatch(text, -1) {
		value, err := strconv.ParseFloat(strings.ReplaceAll(match[1], ",", ""), 64)
		if err != nil || value < 0 {
			continue
		}
		if min == nil || value < *min {
			v := value
			min = &v
		}
	}
	return min
}

// parseTimestamp accepts the datetime attribute formats the feed emits
func parseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
