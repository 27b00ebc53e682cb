package models

import "time"

// SaleStatus is the publication state of a sale in the catalog
type SaleStatus string

const (
	SaleStatusDraft     SaleStatus = "draft"
	SaleStatusPublished SaleStatus = "published"
	SaleStatusArchived  SaleStatus = "archived"
)

// SaleSource identifies where a sale record came from
type SaleSource string

const (
	SaleSourceUser       SaleSource = "user"
	SaleSourceCraigslist SaleSource = "craigslist"
)

// Sale is the catalog's canonical representation of a listing, independent
// of where it came from. Optional fields are pointers so that fields absent
// from the source are omitted from JSON entirely rather than serialized as
// empty values. Tags and Photos are always materialized, possibly empty.
type Sale struct {
	ID          string     `json:"id,omitempty"`
	Title       string     `json:"title" validate:"required"`
	Description *string    `json:"description,omitempty"`
	Address     *string    `json:"address,omitempty"`
	City        *string    `json:"city,omitempty"`
	State       *string    `json:"state,omitempty"`
	Zip         *string    `json:"zip,omitempty"`
	Lat         *float64   `json:"lat,omitempty" validate:"omitempty,gte=-90,lte=90"`
	Lng         *float64   `json:"lng,omitempty" validate:"omitempty,gte=-180,lte=180"`
	StartAt     *time.Time `json:"start_at,omitempty"`
	EndAt       *time.Time `json:"end_at,omitempty"`
	PriceMin    *float64   `json:"price_min,omitempty" validate:"omitempty,gte=0"`
	PriceMax    *float64   `json:"price_max,omitempty" validate:"omitempty,gte=0"`
	Tags        []string   `json:"tags"`
	Photos      []string   `json:"photos"`
	URL         *string    `json:"url,omitempty"`
	Status      SaleStatus `json:"status,omitempty"`
	Source      SaleSource `json:"source,omitempty"`
	SourceID    *string    `json:"source_id,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// HasCoordinates reports whether both lat and lng are set
func (s *Sale) HasCoordinates() bool {
	return s.Lat != nil && s.Lng != nil
}

// UpsertOutcome is the result of an upsert-by-source-key write
type UpsertOutcome string

const (
	UpsertOutcomeInserted UpsertOutcome = "inserted"
	UpsertOutcomeUpdated  UpsertOutcome = "updated"
)
