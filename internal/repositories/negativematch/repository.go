// Package negativematch implements storage for confirmed not-a-duplicate
// decisions.
package negativematch

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	"github.com/lanternetwork/saletracker/pkg/database"
	"github.com/lanternetwork/saletracker/pkg/models"
	"github.com/lanternetwork/saletracker/pkg/tracing"
)

const negativeMatchesTable = "negative_matches"

// NegativeMatchRow represents the database row for a negative match
type NegativeMatchRow struct {
	SaleIDA   sql.NullString `db:"sale_id_a"`
	SaleIDB   sql.NullString `db:"sale_id_b"`
	CreatedBy sql.NullString `db:"created_by"`
	CreatedAt sql.NullTime   `db:"created_at"`
}

var negativeMatchStruct = database.NewStruct(new(NegativeMatchRow))

// NegativeMatchRepository defines the interface for negative match data access
type NegativeMatchRepository interface {
	Record(ctx context.Context, match *models.NegativeMatch) (bool, error)
	Has(ctx context.Context, idA, idB string) (bool, error)
}

// Repository implements NegativeMatchRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new negative match repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Record persists a canonicalized pair. Recording an existing pair is a
// no-op; the bool reports whether a row was created.
func (r *Repository) Record(ctx context.Context, match *models.NegativeMatch) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "NegativeMatchRepository.Record")
	defer span.End()

	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}

	row := &NegativeMatchRow{
		SaleIDA:   sql.NullString{String: match.SaleIDA, Valid: match.SaleIDA != ""},
		SaleIDB:   sql.NullString{String: match.SaleIDB, Valid: match.SaleIDB != ""},
		CreatedAt: sql.NullTime{Time: match.CreatedAt, Valid: true},
	}
	if match.CreatedBy != nil && *match.CreatedBy != "" {
		row.CreatedBy = sql.NullString{String: *match.CreatedBy, Valid: true}
	}

	ib := negativeMatchStruct.InsertInto(negativeMatchesTable, row).OnConflictDoNothing()
	query, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"sale_id_a": match.SaleIDA,
		"sale_id_b": match.SaleIDB,
	}).Debug("Recording negative match")

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to record negative match")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record negative match")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to record negative match")
	}
	return affected > 0, nil
}

// Has reports whether the canonical pair has a recorded decision
func (r *Repository) Has(ctx context.Context, idA, idB string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "NegativeMatchRepository.Has")
	defer span.End()

	sb := database.NewSelectBuilder()
	sb.Select("1").From(negativeMatchesTable)
	sb.Where(
		sb.Equal("sale_id_a", idA),
		sb.Equal("sale_id_b", idB),
	)
	query, args := sb.Build()

	var one int
	err := r.db.GetContext(ctx, &one, query, args...)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to check negative match")
		return false, httperror.NewHTTPError(http.StatusInternalServerError, "failed to check negative match")
	}
	return true, nil
}
