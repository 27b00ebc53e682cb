package models

import "time"

// RawListingItem is a minimally-structured listing row extracted from
// external markup. Items are created per parse call and discarded after
// normalization; IDs are request-scoped and not stable across runs.
type RawListingItem struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	URL      string    `json:"url,omitempty"`
	PostedAt time.Time `json:"posted_at"`
	Price    *float64  `json:"price,omitempty"`
	City     string    `json:"city,omitempty"`
}
