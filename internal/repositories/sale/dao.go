package sale

import (
	"database/sql"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/lanternetwork/saletracker/pkg/database"
	"github.com/lanternetwork/saletracker/pkg/models"
)

const (
	salesTable = "sales"
)

// SaleRow represents the database row for a sale
type SaleRow struct {
	ID          sql.NullString           `db:"id"`
	Title       sql.NullString           `db:"title"`
	Description sql.NullString           `db:"description"`
	Address     sql.NullString           `db:"address"`
	City        sql.NullString           `db:"city"`
	State       sql.NullString           `db:"state"`
	Zip         sql.NullString           `db:"zip"`
	Lat         sql.NullFloat64          `db:"lat"`
	Lng         sql.NullFloat64          `db:"lng"`
	StartAt     sql.NullTime             `db:"start_at"`
	EndAt       sql.NullTime             `db:"end_at"`
	PriceMin    sql.NullFloat64          `db:"price_min"`
	PriceMax    sql.NullFloat64          `db:"price_max"`
	Tags        database.JSONB[[]string] `db:"tags"`
	Photos      database.JSONB[[]string] `db:"photos"`
	URL         sql.NullString           `db:"url"`
	Status      sql.NullString           `db:"status"`
	Source      sql.NullString           `db:"source"`
	SourceID    sql.NullString           `db:"source_id"`
	CreatedAt   sql.NullTime             `db:"created_at"`
	UpdatedAt   sql.NullTime             `db:"updated_at"`
}

var saleStruct = database.NewStruct(new(SaleRow))

// FromSale converts a domain model to a database row
func FromSale(s *models.Sale) *SaleRow {
	row := &SaleRow{
		ID:        sql.NullString{String: s.ID, Valid: s.ID != ""},
		Title:     sql.NullString{String: s.Title, Valid: s.Title != ""},
		Tags:      database.JSONB[[]string]{Data: emptyIfNil(s.Tags)},
		Photos:    database.JSONB[[]string]{Data: emptyIfNil(s.Photos)},
		Status:    sql.NullString{String: string(s.Status), Valid: s.Status != ""},
		Source:    sql.NullString{String: string(s.Source), Valid: s.Source != ""},
		CreatedAt: nullTime(s.CreatedAt),
		UpdatedAt: nullTime(s.UpdatedAt),
	}

	row.Description = nullString(s.Description)
	row.Address = nullString(s.Address)
	row.City = nullString(s.City)
	row.State = nullString(s.State)
	row.Zip = nullString(s.Zip)
	row.URL = nullString(s.URL)
	row.SourceID = nullString(s.SourceID)
	row.Lat = nullFloat(s.Lat)
	row.Lng = nullFloat(s.Lng)
	row.PriceMin = nullFloat(s.PriceMin)
	row.PriceMax = nullFloat(s.PriceMax)
	row.StartAt = nullTime(s.StartAt)
	row.EndAt = nullTime(s.EndAt)

	return row
}

// ToSale converts a database row to a domain model
func ToSale(row *SaleRow) *models.Sale {
	sale := &models.Sale{
		ID:        row.ID.String,
		Title:     row.Title.String,
		Tags:      emptyIfNil(row.Tags.GetValue()),
		Photos:    emptyIfNil(row.Photos.GetValue()),
		Status:    models.SaleStatus(row.Status.String),
		Source:    models.SaleSource(row.Source.String),
		CreatedAt: timePtr(row.CreatedAt),
		UpdatedAt: timePtr(row.UpdatedAt),
	}

	sale.Description = stringPtr(row.Description)
	sale.Address = stringPtr(row.Address)
	sale.City = stringPtr(row.City)
	sale.State = stringPtr(row.State)
	sale.Zip = stringPtr(row.Zip)
	sale.URL = stringPtr(row.URL)
	sale.SourceID = stringPtr(row.SourceID)
	sale.Lat = floatPtr(row.Lat)
	sale.Lng = floatPtr(row.Lng)
	sale.PriceMin = floatPtr(row.PriceMin)
	sale.PriceMax = floatPtr(row.PriceMax)
	sale.StartAt = timePtr(row.StartAt)
	sale.EndAt = timePtr(row.EndAt)

	return sale
}

// ToSales converts a slice of database rows to domain models
func ToSales(rows []SaleRow) []models.Sale {
	return ectolinq.Map(rows, func(row SaleRow) models.Sale {
		return *ToSale(&row)
	})
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func floatPtr(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	f := nf.Float64
	return &f
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
