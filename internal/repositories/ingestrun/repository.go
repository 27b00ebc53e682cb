// Package ingestrun implements storage for ingest run records.
package ingestrun

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"

	"github.com/lanternetwork/saletracker/pkg/database"
	"github.com/lanternetwork/saletracker/pkg/models"
	"github.com/lanternetwork/saletracker/pkg/tracing"
)

// IngestRunRepository defines the interface for ingest run data access
type IngestRunRepository interface {
	Create(ctx context.Context, run *models.IngestRun) (*models.IngestRun, error)
	Finish(ctx context.Context, run *models.IngestRun) error
	GetByID(ctx context.Context, id string) (*models.IngestRun, error)
	List(ctx context.Context, limit int) ([]*models.IngestRun, error)
}

// Repository implements IngestRunRepository
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new ingest run repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create persists a new run in the running state
func (r *Repository) Create(ctx context.Context, run *models.IngestRun) (*models.IngestRun, error) {
	ctx, span := tracing.StartSpan(ctx, "IngestRunRepository.Create")
	defer span.End()

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	run.Status = models.IngestRunStatusRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = Now()
	}

	row := FromIngestRun(run)
	ib := ingestRunStruct.InsertInto(ingestRunsTable, row)
	query, args := ib.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":      run.ID,
		"source":  run.Source,
		"dry_run": run.DryRun,
	}).Debug("Creating ingest run")

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to create ingest run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to create ingest run")
	}

	return run, nil
}

// Finish makes a run's single terminal transition, writing the final
// status, counters, diagnostics and finished_at atomically. The running
// guard in the WHERE clause makes a second transition a no-op.
func (r *Repository) Finish(ctx context.Context, run *models.IngestRun) error {
	ctx, span := tracing.StartSpan(ctx, "IngestRunRepository.Finish")
	defer span.End()

	if run.Status != models.IngestRunStatusOK && run.Status != models.IngestRunStatusError {
		return httperror.NewHTTPError(http.StatusBadRequest, "run status is not terminal")
	}
	if run.FinishedAt == nil {
		now := Now()
		run.FinishedAt = &now
	}

	row := FromIngestRun(run)

	ub := database.NewUpdateBuilder()
	ub.Update(ingestRunsTable)
	ub.Set(
		ub.Assign("status", row.Status),
		ub.Assign("finished_at", row.FinishedAt),
		ub.Assign("fetched_count", row.FetchedCount),
		ub.Assign("new_count", row.NewCount),
		ub.Assign("updated_count", row.UpdatedCount),
		ub.Assign("last_error", row.LastError),
		ub.Assign("details", row.Details),
	)
	ub.Where(
		ub.Equal("id", run.ID),
		ub.Equal("status", string(models.IngestRunStatusRunning)),
	)
	query, args := ub.Build()

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"id":     run.ID,
		"status": run.Status,
	}).Debug("Finishing ingest run")

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to finish ingest run")
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish ingest run")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to finish ingest run")
	}
	if affected == 0 {
		return httperror.NewHTTPError(http.StatusConflict, "run already finished")
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *Repository) GetByID(ctx context.Context, id string) (*models.IngestRun, error) {
	ctx, span := tracing.StartSpan(ctx, "IngestRunRepository.GetByID")
	defer span.End()

	sb := ingestRunStruct.SelectFrom(ingestRunsTable)
	sb.Where(sb.Equal("id", id))
	query, args := sb.Build()

	var row IngestRunRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, httperror.NewHTTPError(http.StatusNotFound, "ingest run not found")
		}
		r.logger.WithContext(ctx).WithError(err).Error("Failed to get ingest run")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to get ingest run")
	}

	return ToIngestRun(&row), nil
}

// List retrieves recent runs, newest first
func (r *Repository) List(ctx context.Context, limit int) ([]*models.IngestRun, error) {
	ctx, span := tracing.StartSpan(ctx, "IngestRunRepository.List")
	defer span.End()

	if limit <= 0 {
		limit = 50
	}

	sb := ingestRunStruct.SelectFrom(ingestRunsTable)
	sb.OrderBy("started_at").Desc()
	sb.Limit(limit)
	query, args := sb.Build()

	var rows []IngestRunRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("Failed to list ingest runs")
		return nil, httperror.NewHTTPError(http.StatusInternalServerError, "failed to list ingest runs")
	}

	return ToIngestRuns(rows), nil
}
