package ingestrun

import (
	"database/sql"
	"time"

	"github.com/Gobusters/ectolinq"

	"github.com/lanternetwork/saletracker/pkg/database"
	"github.com/lanternetwork/saletracker/pkg/models"
)

const ingestRunsTable = "ingest_runs"

// IngestRunRow represents the database row for an ingest run
type IngestRunRow struct {
	ID           sql.NullString                    `db:"id"`
	Source       sql.NullString                    `db:"source"`
	DryRun       sql.NullBool                      `db:"dry_run"`
	Status       sql.NullString                    `db:"status"`
	StartedAt    sql.NullTime                      `db:"started_at"`
	FinishedAt   sql.NullTime                      `db:"finished_at"`
	FetchedCount sql.NullInt64                     `db:"fetched_count"`
	NewCount     sql.NullInt64                     `db:"new_count"`
	UpdatedCount sql.NullInt64                     `db:"updated_count"`
	LastError    sql.NullString                    `db:"last_error"`
	Details      database.JSONB[models.RunDetails] `db:"details"`
}

var ingestRunStruct = database.NewStruct(new(IngestRunRow))

// FromIngestRun converts a domain model to a database row
func FromIngestRun(run *models.IngestRun) *IngestRunRow {
	row := &IngestRunRow{
		ID:           sql.NullString{String: run.ID, Valid: run.ID != ""},
		Source:       sql.NullString{String: string(run.Source), Valid: run.Source != ""},
		DryRun:       sql.NullBool{Bool: run.DryRun, Valid: true},
		Status:       sql.NullString{String: string(run.Status), Valid: run.Status != ""},
		StartedAt:    sql.NullTime{Time: run.StartedAt, Valid: !run.StartedAt.IsZero()},
		FetchedCount: sql.NullInt64{Int64: int64(run.FetchedCount), Valid: true},
		NewCount:     sql.NullInt64{Int64: int64(run.NewCount), Valid: true},
		UpdatedCount: sql.NullInt64{Int64: int64(run.UpdatedCount), Valid: true},
		Details:      database.JSONB[models.RunDetails]{Data: run.Details},
	}
	if run.FinishedAt != nil {
		row.FinishedAt = sql.NullTime{Time: run.FinishedAt.UTC(), Valid: true}
	}
	if run.LastError != nil && *run.LastError != "" {
		row.LastError = sql.NullString{String: *run.LastError, Valid: true}
	}
	return row
}

// ToIngestRun converts a database row to a domain model
func ToIngestRun(row *IngestRunRow) *models.IngestRun {
	run := &models.IngestRun{
		ID:           row.ID.String,
		Source:       models.SaleSource(row.Source.String),
		DryRun:       row.DryRun.Bool,
		Status:       models.IngestRunStatus(row.Status.String),
		StartedAt:    row.StartedAt.Time,
		FetchedCount: int(row.FetchedCount.Int64),
		NewCount:     int(row.NewCount.Int64),
		UpdatedCount: int(row.UpdatedCount.Int64),
		Details:      row.Details.GetValue(),
	}
	if row.FinishedAt.Valid {
		t := row.FinishedAt.Time.UTC()
		run.FinishedAt = &t
	}
	if row.LastError.Valid {
		s := row.LastError.String
		run.LastError = &s
	}
	return run
}

// ToIngestRuns converts a slice of database rows to domain models
func ToIngestRuns(rows []IngestRunRow) []*models.IngestRun {
	return ectolinq.Map(rows, func(row IngestRunRow) *models.IngestRun {
		return ToIngestRun(&row)
	})
}

// Now returns the current time in UTC
func Now() time.Time {
	return time.Now().UTC()
}
