// Package sale implements storage for catalog sales.
package sale

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/lanternetwork/saletracker/pkg/database"
	"github.com/lanternetwork/saletracker/pkg/geo"
	"github.com/lanternetwork/saletracker/pkg/models"
	"github.com/lanternetwork/saletracker/pkg/tracing"
)

// SaleRepository defines the interface for sale data access
type SaleRepository interface {
	Insert(ctx context.Context, sale *models.Sale) (*models.Sale, error)
	Update(ctx context.Context, sale *models.Sale) (*models.Sale, error)
	GetByID(ctx context.Context, id string) (*models.Sale, error)
	ListInBoundingBox(ctx context.Context, box geo.BoundingBox) ([]models.Sale, error)
	UpsertBySourceKey(ctx context.Context, sale *models.Sale) (models.UpsertOutcome, error)
}

// Repository implements SaleRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new sale repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Insert creates a new sale
func (r *Repository) Insert(ctx context.Context, sale *models.Sale) (*models.Sale, error) {
	ctx, span := tracing.StartSpan(ctx, "SaleRepository.Insert")
	defer span.End()

	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}

	now := Now()
	sale.CreatedAt = &now
	sale.UpdatedAt = &now

	row := FromSale(sale)
	ib := saleStruct.InsertInto(salesTable, row)
	sql, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     sale.ID,
		"source": sale.Source,
		"title":  sale.Title,
	}).Debug("Creating sale")

	if _, err := r.db.ExecContext(ctx, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create sale")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create sale")
	}

	return sale, nil
}

// Update replaces a sale's mutable fields
func (r *Repository) Update(ctx context.Context, sale *models.Sale) (*models.Sale, error) {
	ctx, span := tracing.StartSpan(ctx, "SaleRepository.Update")
	defer span.End()

	now := Now()
	sale.UpdatedAt = &now

	row := FromSale(sale)
	ub := saleStruct.Update(salesTable, row)
	ub.Where(ub.Equal("id", sale.ID))
	sql, args := ub.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id": sale.ID,
	}).Debug("Updating sale")

	if _, err := r.db.ExecContext(ctx, sql, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to update sale")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to update sale")
	}

	return sale, nil
}

// GetByID retrieves a sale by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Sale, error) {
	ctx, span := tracing.StartSpan(ctx, "SaleRepository.GetByID")
	defer span.End()

	sb := saleStruct.SelectFrom(salesTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row SaleRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "sale not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get sale")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get sale")
	}

	return ToSale(&row), nil
}

// ListInBoundingBox retrieves published sales with coordinates inside the
// box. The box is a coarse range filter; callers re-check exact distance.
func (r *Repository) ListInBoundingBox(ctx context.Context, box geo.BoundingBox) ([]models.Sale, error) {
	ctx, span := tracing.StartSpan(ctx, "SaleRepository.ListInBoundingBox")
	defer span.End()

	sb := saleStruct.SelectFrom(salesTable)
	sb.Where(
		sb.Equal("status", string(models.SaleStatusPublished)),
		sb.IsNotNull("lat"),
		sb.IsNotNull("lng"),
		sb.GreaterEqualThan("lat", box.LatMin),
		sb.LessEqualThan("lat", box.LatMax),
		sb.GreaterEqualThan("lng", box.LngMin),
		sb.LessEqualThan("lng", box.LngMax),
	)
	query, args := sb.Build()

	var rows []SaleRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list sales in bounding box")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list sales")
	}

	return ToSales(rows), nil
}

// UpsertBySourceKey writes a feed-sourced sale keyed by its natural key so
// re-ingesting the same feed item updates the existing row. Concurrent runs
// over overlapping feeds are resolved by the conflict target, not by the
// caller.
func (r *Repository) UpsertBySourceKey(ctx context.Context, sale *models.Sale) (models.UpsertOutcome, error) {
	ctx, span := tracing.StartSpan(ctx, "SaleRepository.UpsertBySourceKey")
	defer span.End()

	if sale.Source == "" || sale.SourceID == nil || *sale.SourceID == "" {
		return "", httperror.NewHTTPError(http.StatusBadRequest, "sale is missing its source key")
	}

	if sale.ID == "" {
		sale.ID = uuid.New().String()
	}

	now := Now()
	sale.CreatedAt = &now
	sale.UpdatedAt = &now
	row := FromSale(sale)

	query := `
		INSERT INTO sales (
			id, title, description, address, city, state, zip,
			lat, lng, start_at, end_at, price_min, price_max,
			tags, photos, url, status, source, source_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (source, source_id)
		DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			address = EXCLUDED.address,
			city = EXCLUDED.city,
			state = EXCLUDED.state,
			zip = EXCLUDED.zip,
			lat = EXCLUDED.lat,
			lng = EXCLUDED.lng,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			price_min = EXCLUDED.price_min,
			price_max = EXCLUDED.price_max,
			tags = EXCLUDED.tags,
			photos = EXCLUDED.photos,
			url = EXCLUDED.url,
			updated_at = EXCLUDED.updated_at
		RETURNING id, (xmax = 0) AS inserted
	`

	var result struct {
		ID       string `db:"id"`
		Inserted bool   `db:"inserted"`
	}

	err := r.db.GetContext(ctx, &result, query,
		row.ID, row.Title, row.Description, row.Address, row.City, row.State, row.Zip,
		row.Lat, row.Lng, row.StartAt, row.EndAt, row.PriceMin, row.PriceMax,
		row.Tags, row.Photos, row.URL, row.Status, row.Source, row.SourceID,
		row.CreatedAt, row.UpdatedAt,
	)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"source":    sale.Source,
			"source_id": *sale.SourceID,
		}).Error("Failed to upsert sale")
		return "", httperror.NewHTTPError(http.StatusInternalServerError, "failed to upsert sale")
	}

	sale.ID = result.ID
	if result.Inserted {
		return models.UpsertOutcomeInserted, nil
	}
	return models.UpsertOutcomeUpdated, nil
}
