package models

import "time"

// IngestRunStatus is the lifecycle state of an ingest run
type IngestRunStatus string

const (
	IngestRunStatusRunning IngestRunStatus = "running"
	IngestRunStatusOK      IngestRunStatus = "ok"
	IngestRunStatusError   IngestRunStatus = "error"
)

// IngestRun is one execution of the ingestion pipeline. A run is created in
// the running state and makes exactly one terminal transition to ok or
// error; FinishedAt is set only on that transition. Counters reflect work
// completed at the time the run finished, including partial progress before
// a failure.
type IngestRun struct {
	ID           string          `json:"id" db:"id"`
	Source       SaleSource      `json:"source" db:"source"`
	DryRun       bool            `json:"dry_run" db:"dry_run"`
	Status       IngestRunStatus `json:"status" db:"status"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
	FetchedCount int             `json:"fetched_count" db:"fetched_count"`
	NewCount     int             `json:"new_count" db:"new_count"`
	UpdatedCount int             `json:"updated_count" db:"updated_count"`
	LastError    *string         `json:"last_error,omitempty" db:"last_error"`
	Details      RunDetails      `json:"details"`
}

// RunDetails is the structured diagnostic object persisted with a run.
type RunDetails struct {
	Sites          []SiteFetchResult `json:"sites,omitempty"`
	RawItemCount   int               `json:"raw_item_count"`
	SampleTitles   []string          `json:"sample_titles,omitempty"`
	Filtered       FilterCounts      `json:"filtered"`
	InvalidSamples []InvalidItem     `json:"invalid_samples,omitempty"`
}

// SiteFetchResult records the outcome of fetching one source site.
type SiteFetchResult struct {
	Site       string `json:"site"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
}

// FilterCounts tallies per-item filter outcomes during a run.
type FilterCounts struct {
	Kept              int `json:"kept"`
	InvalidURL        int `json:"invalid_url"`
	ParseError        int `json:"parse_error"`
	InvalidItem       int `json:"invalid_item"`
	DuplicateSourceID int `json:"duplicate_source_id"`
}

// InvalidItem is a capped diagnostic sample of a rejected item, carrying
// enough context to diagnose without re-running.
type InvalidItem struct {
	Title  string `json:"title"`
	Link   string `json:"link,omitempty"`
	Reason string `json:"reason"`
}
