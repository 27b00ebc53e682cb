// Package ingest orchestrates one ingestion execution end to end: fetch or
// accept markup, parse, normalize, validate, and write, tracked by a
// persisted run record.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/lanternetwork/saletracker/pkg/events"
	"github.com/lanternetwork/saletracker/pkg/links"
	"github.com/lanternetwork/saletracker/pkg/metrics"
	"github.com/lanternetwork/saletracker/pkg/models"
	"github.com/lanternetwork/saletracker/pkg/normalize"
	"github.com/lanternetwork/saletracker/pkg/parser"
	"github.com/lanternetwork/saletracker/pkg/schema"
	"github.com/lanternetwork/saletracker/pkg/tracing"
)

const (
	sampleTitleCount = 5
	invalidSampleCap = 3
)

// SaleWriter is the storage collaborator runs write through
type SaleWriter interface {
	UpsertBySourceKey(ctx context.Context, sale *models.Sale) (models.UpsertOutcome, error)
}

// RunStore persists run records
type RunStore interface {
	Create(ctx context.Context, run *models.IngestRun) (*models.IngestRun, error)
	Finish(ctx context.Context, run *models.IngestRun) error
}

// RunRequest describes one ingestion execution
type RunRequest struct {
	Source    models.SaleSource
	Sites     []string
	RawMarkup string
	DryRun    bool
}

// RunnerConfig contains tuning for the run manager
type RunnerConfig struct {
	FeedBaseURL    string
	ParseLimit     int
	WriteChunkSize int
}

// Runner executes ingestion runs. A run is a single linear attempt with
// exactly one terminal transition; retries are a new run. Item failures
// are counted and the loop continues, only infrastructure failures abort
// the run early, preserving the partial counters.
type Runner struct {
	sales      SaleWriter
	runs       RunStore
	fetcher    SiteFetcher
	parser     *parser.Parser
	normalizer *normalize.Normalizer
	validator  *schema.Validator
	emitter    *events.Emitter
	logger     ectologger.Logger
	config     RunnerConfig
}

// NewRunner creates a new Runner
func NewRunner(sales SaleWriter, runs RunStore, fetcher SiteFetcher, emitter *events.Emitter, logger ectologger.Logger, config RunnerConfig) *Runner {
	if config.ParseLimit <= 0 {
		config.ParseLimit = 100
	}
	if config.WriteChunkSize <= 0 {
		config.WriteChunkSize = 25
	}
	return &Runner{
		sales:      sales,
		runs:       runs,
		fetcher:    fetcher,
		parser:     parser.NewParser(),
		normalizer: normalize.NewNormalizer(),
		validator:  schema.NewValidator(),
		emitter:    emitter,
		logger:     logger,
		config:     config,
	}
}

// Run executes one ingestion run. The returned run always carries the
// final counters and status; err is non-nil only for fatal failures.
func (r *Runner) Run(ctx context.Context, req RunRequest) (*models.IngestRun, error) {
	ctx, span := tracing.StartSpan(ctx, "ingest.Runner.Run")
	defer span.End()

	run, err := r.runs.Create(ctx, &models.IngestRun{
		Source: req.Source,
		DryRun: req.DryRun,
	})
	if err != nil {
		return nil, err
	}

	log := r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":  run.ID,
		"source":  run.Source,
		"dry_run": run.DryRun,
	})
	log.Info("Ingest run started")

	markups, fatal := r.gatherMarkup(ctx, req, run)
	if fatal != nil {
		return r.finish(ctx, run, fatal)
	}

	items := r.parseMarkups(markups, run)
	keep := r.filterItems(ctx, req.Source, items, run)

	if !req.DryRun {
		if fatal := r.writeSales(ctx, req.Source, keep, run); fatal != nil {
			return r.finish(ctx, run, fatal)
		}
	}

	return r.finish(ctx, run, nil)
}

// gatherMarkup collects raw markup from the request snapshot or by
// fetching each requested site. Individual site failures are recorded in
// the run details; only a total fetch failure is fatal.
func (r *Runner) gatherMarkup(ctx context.Context, req RunRequest, run *models.IngestRun) ([]string, error) {
	if req.RawMarkup != "" {
		run.Details.Sites = append(run.Details.Sites, models.SiteFetchResult{Site: "snapshot", OK: true})
		return []string{req.RawMarkup}, nil
	}

	sites := req.Sites
	if len(sites) == 0 {
		sites = []string{""}
	}

	var markups []string
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		markup, result := r.fetcher.FetchSite(ctx, site)
		run.Details.Sites = append(run.Details.Sites, result)
		if result.OK {
			markups = append(markups, markup)
		}
	}

	if len(markups) == 0 {
		return nil, errors.New("all feed fetches failed")
	}
	return markups, nil
}

func (r *Runner) parseMarkups(markups []string, run *models.IngestRun) []models.RawListingItem {
	var items []models.RawListingItem
	for _, markup := range markups {
		remaining := r.config.ParseLimit - len(items)
		if remaining <= 0 {
			break
		}
		items = append(items, r.parser.Parse(markup, remaining)...)
	}

	run.FetchedCount = len(items)
	run.Details.RawItemCount = len(items)
	for _, item := range items {
		if item.Title == "" || len(run.Details.SampleTitles) >= sampleTitleCount {
			continue
		}
		run.Details.SampleTitles = append(run.Details.SampleTitles, item.Title)
	}

	return items
}

// filterItems normalizes and validates each parsed item in isolation, so
// one bad item never aborts the batch. Rejections are counted by kind and
// a capped sample is kept for diagnosis.
func (r *Runner) filterItems(ctx context.Context, source models.SaleSource, items []models.RawListingItem, run *models.IngestRun) []*models.Sale {
	counts := &run.Details.Filtered
	seen := make(map[string]bool, len(items))
	keep := make([]*models.Sale, 0, len(items))

	reject := func(item models.RawListingItem, reason string) {
		metrics.IngestItemsTotal.WithLabelValues(string(source), reason).Inc()
		if len(run.Details.InvalidSamples) < invalidSampleCap {
			run.Details.InvalidSamples = append(run.Details.InvalidSamples, models.InvalidItem{
				Title:  item.Title,
				Link:   item.URL,
				Reason: reason,
			})
		}
	}

	for _, item := range items {
		if item.Title == "" {
			counts.ParseError++
			reject(item, "parse_error")
			continue
		}

		normalizedURL, ok := links.NormalizeURL(item.URL, r.config.FeedBaseURL)
		if !ok {
			counts.InvalidURL++
			reject(item, "invalid_url")
			continue
		}

		sale := r.normalizer.Normalize(item, source)
		sale.URL = &normalizedURL
		sourceID := links.SourceKey(normalizedURL, item.PostedAt)
		sale.SourceID = &sourceID

		if result := r.validator.Validate(&sale); !result.Valid {
			counts.InvalidItem++
			reject(item, "invalid_item")
			r.logger.WithContext(ctx).WithFields(map[string]any{
				"title":  item.Title,
				"errors": result.Errors,
			}).Debug("Item failed validation")
			continue
		}

		if seen[sourceID] {
			counts.DuplicateSourceID++
			reject(item, "duplicate_source_id")
			continue
		}
		seen[sourceID] = true

		counts.Kept++
		metrics.IngestItemsTotal.WithLabelValues(string(source), "kept").Inc()
		keep = append(keep, &sale)
	}

	return keep
}

// writeSales upserts kept sales in fixed-size chunks so cancellation can
// take effect between chunks. A write failure is an infrastructure
// failure: it aborts the run, keeping the counters accumulated so far.
func (r *Runner) writeSales(ctx context.Context, source models.SaleSource, sales []*models.Sale, run *models.IngestRun) error {
	for start := 0; start < len(sales); start += r.config.WriteChunkSize {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start + r.config.WriteChunkSize
		if end > len(sales) {
			end = len(sales)
		}

		for _, sale := range sales[start:end] {
			outcome, err := r.sales.UpsertBySourceKey(ctx, sale)
			if err != nil {
				return err
			}

			switch outcome {
			case models.UpsertOutcomeInserted:
				run.NewCount++
				metrics.IngestItemsTotal.WithLabelValues(string(source), "inserted").Inc()
				if r.emitter != nil {
					_ = r.emitter.EmitSaleCreated(ctx, sale)
				}
			case models.UpsertOutcomeUpdated:
				run.UpdatedCount++
				metrics.IngestItemsTotal.WithLabelValues(string(source), "updated").Inc()
				if r.emitter != nil {
					_ = r.emitter.EmitSaleUpdated(ctx, sale)
				}
			}
		}
	}
	return nil
}

// finish makes the run's terminal transition, preserving whatever counters
// accumulated before a failure. The write uses a detached context so
// cancellation of the request cannot leave the run stuck in running.
func (r *Runner) finish(ctx context.Context, run *models.IngestRun, fatal error) (*models.IngestRun, error) {
	now := time.Now().UTC()
	run.FinishedAt = &now

	if fatal != nil {
		run.Status = models.IngestRunStatusError
		msg := fatal.Error()
		run.LastError = &msg
	} else {
		run.Status = models.IngestRunStatusOK
	}

	finishCtx := context.WithoutCancel(ctx)
	if err := r.runs.Finish(finishCtx, run); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("Failed to finalize ingest run")
		if fatal == nil {
			fatal = err
		}
	}

	metrics.IngestRunsTotal.WithLabelValues(string(run.Source), string(run.Status)).Inc()
	metrics.IngestRunDuration.WithLabelValues(string(run.Source)).Observe(now.Sub(run.StartedAt).Seconds())

	if r.emitter != nil {
		_ = r.emitter.EmitRunFinished(finishCtx, run)
	}

	r.logger.WithContext(ctx).WithFields(map[string]any{
		"run_id":        run.ID,
		"status":        run.Status,
		"fetched_count": run.FetchedCount,
		"new_count":     run.NewCount,
		"updated_count": run.UpdatedCount,
	}).Info("Ingest run finished")

	return run, fatal
}
