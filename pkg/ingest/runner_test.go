package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"

	"github.com/lanternetwork/saletracker/pkg/models"
)

const feedBase = "https://sfbay.craigslist.org/search/gms"

type fakeSaleWriter struct {
	calls   int
	failOn  int
	outcome models.UpsertOutcome
	written []*models.Sale
}

func (f *fakeSaleWriter) UpsertBySourceKey(_ context.Context, sale *models.Sale) (models.UpsertOutcome, error) {
	f.calls++
	if f.failOn > 0 && f.calls == f.failOn {
		return "", errors.New("connection refused")
	}
	f.written = append(f.written, sale)
	if f.outcome == "" {
		return models.UpsertOutcomeInserted, nil
	}
	return f.outcome, nil
}

type fakeRunStore struct {
	created  *models.IngestRun
	finished *models.IngestRun
}

func (f *fakeRunStore) Create(_ context.Context, run *models.IngestRun) (*models.IngestRun, error) {
	run.ID = "run-1"
	run.Status = models.IngestRunStatusRunning
	run.StartedAt = time.Now().UTC()
	f.created = run
	return run, nil
}

func (f *fakeRunStore) Finish(_ context.Context, run *models.IngestRun) error {
	if f.finished != nil {
		return errors.New("run already finished")
	}
	copied := *run
	f.finished = &copied
	return nil
}

type fakeFetcher struct {
	markup map[string]string
}

func (f *fakeFetcher) FetchSite(_ context.Context, site string) (string, models.SiteFetchResult) {
	markup, ok := f.markup[site]
	if !ok {
		return "", models.SiteFetchResult{Site: site, Error: "connection refused"}
	}
	return markup, models.SiteFetchResult{Site: site, OK: true, StatusCode: 200}
}

func testLogger() ectologger.Logger {
	zapLogger, _ := zap.NewDevelopment()
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func row(title, href, datetime, price string) string {
	return fmt.Sprintf(`<li class="result-row">
		<time datetime="%s">posted</time>
		<a class="result-title" href="%s">%s</a>
		<span class="result-price">%s</span>
	</li>`, datetime, href, title, price)
}

func markupWith(rows ...string) string {
	return "<html><body><ul>" + strings.Join(rows, "\n") + "</ul></body></html>"
}

func saleRows(n int) []string {
	rows := make([]string, n)
	for i := 0; i < n; i++ {
		rows[i] = row(
			fmt.Sprintf("Garage sale %d", i),
			fmt.Sprintf("/d/garage/%d.html", i),
			fmt.Sprintf("2025-06-14T0%d:00:00Z", i),
			"$10",
		)
	}
	return rows
}

func newRunner(sales SaleWriter, runs RunStore, fetcher SiteFetcher) *Runner {
	return NewRunner(sales, runs, fetcher, nil, testLogger(), RunnerConfig{
		FeedBaseURL:    feedBase,
		ParseLimit:     100,
		WriteChunkSize: 2,
	})
}

func TestRunner_Run(t *testing.T) {
	ctx := context.Background()

	t.Run("successful snapshot run", func(t *testing.T) {
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{
			Source:    models.SaleSourceCraigslist,
			RawMarkup: markupWith(saleRows(5)...),
		})
		require.NoError(t, err)

		assert.Equal(t, models.IngestRunStatusOK, run.Status)
		assert.Equal(t, 5, run.FetchedCount)
		assert.Equal(t, 5, run.NewCount)
		assert.Equal(t, 0, run.UpdatedCount)
		assert.Nil(t, run.LastError)
		require.NotNil(t, run.FinishedAt)

		assert.Equal(t, 5, run.Details.Filtered.Kept)
		assert.Equal(t, 5, run.Details.RawItemCount)
		assert.Len(t, run.Details.SampleTitles, 5)
		assert.Equal(t, "Garage sale 0", run.Details.SampleTitles[0])

		require.NotNil(t, store.finished)
		assert.Equal(t, models.IngestRunStatusOK, store.finished.Status)
	})

	t.Run("write failure on item 3 of 5 preserves partial counters", func(t *testing.T) {
		writer := &fakeSaleWriter{failOn: 3}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{
			Source:    models.SaleSourceCraigslist,
			RawMarkup: markupWith(saleRows(5)...),
		})
		require.Error(t, err)

		assert.Equal(t, models.IngestRunStatusError, run.Status)
		assert.Equal(t, 2, run.NewCount)
		require.NotNil(t, run.LastError)
		assert.NotEmpty(t, *run.LastError)
		require.NotNil(t, run.FinishedAt)

		require.NotNil(t, store.finished)
		assert.Equal(t, models.IngestRunStatusError, store.finished.Status)
		assert.Equal(t, 2, store.finished.NewCount)
	})

	t.Run("dry run writes nothing", func(t *testing.T) {
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{
			Source:    models.SaleSourceCraigslist,
			RawMarkup: markupWith(saleRows(3)...),
			DryRun:    true,
		})
		require.NoError(t, err)

		assert.Equal(t, models.IngestRunStatusOK, run.Status)
		assert.Equal(t, 3, run.Details.Filtered.Kept)
		assert.Zero(t, run.NewCount)
		assert.Empty(t, writer.written)
	})

	t.Run("updated outcomes increment updatedCount", func(t *testing.T) {
		writer := &fakeSaleWriter{outcome: models.UpsertOutcomeUpdated}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{
			Source:    models.SaleSourceCraigslist,
			RawMarkup: markupWith(saleRows(2)...),
		})
		require.NoError(t, err)

		assert.Zero(t, run.NewCount)
		assert.Equal(t, 2, run.UpdatedCount)
	})

	t.Run("rows without titles count as parse errors", func(t *testing.T) {
		markup := markupWith(
			row("", "/d/garage/1.html", "2025-06-14T08:00:00Z", "$5"),
			row("Garage sale", "/d/garage/2.html", "2025-06-14T09:00:00Z", "$5"),
		)
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{Source: models.SaleSourceCraigslist, RawMarkup: markup})
		require.NoError(t, err)

		assert.Equal(t, models.IngestRunStatusOK, run.Status)
		assert.Equal(t, 1, run.Details.Filtered.ParseError)
		assert.Equal(t, 1, run.Details.Filtered.Kept)
		assert.Equal(t, 1, run.NewCount)
	})

	t.Run("off-domain and non-https links are rejected", func(t *testing.T) {
		markup := markupWith(
			row("Evil sale", "https://evil.example.com/1.html", "2025-06-14T08:00:00Z", "$5"),
			row("Insecure sale", "http://sfbay.craigslist.org/2.html", "2025-06-14T09:00:00Z", "$5"),
			row("Good sale", "/d/garage/3.html", "2025-06-14T10:00:00Z", "$5"),
		)
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{Source: models.SaleSourceCraigslist, RawMarkup: markup})
		require.NoError(t, err)

		assert.Equal(t, 2, run.Details.Filtered.InvalidURL)
		assert.Equal(t, 1, run.Details.Filtered.Kept)
		require.NotEmpty(t, run.Details.InvalidSamples)
		assert.Equal(t, "Evil sale", run.Details.InvalidSamples[0].Title)
	})

	t.Run("repeated source keys within a run are dropped", func(t *testing.T) {
		same := row("Garage sale", "/d/garage/1.html", "2025-06-14T08:00:00Z", "$5")
		markup := markupWith(same, same)
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{Source: models.SaleSourceCraigslist, RawMarkup: markup})
		require.NoError(t, err)

		assert.Equal(t, 1, run.Details.Filtered.DuplicateSourceID)
		assert.Equal(t, 1, run.Details.Filtered.Kept)
		assert.Equal(t, 1, run.NewCount)
	})

	t.Run("parse limit caps fetched items", func(t *testing.T) {
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := NewRunner(writer, store, &fakeFetcher{}, nil, testLogger(), RunnerConfig{
			FeedBaseURL:    feedBase,
			ParseLimit:     3,
			WriteChunkSize: 2,
		})

		run, err := runner.Run(ctx, RunRequest{
			Source:    models.SaleSourceCraigslist,
			RawMarkup: markupWith(saleRows(8)...),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, run.FetchedCount)
	})

	t.Run("all fetches failing is fatal", func(t *testing.T) {
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		run, err := runner.Run(ctx, RunRequest{
			Source: models.SaleSourceCraigslist,
			Sites:  []string{"sfbay", "eastbay"},
		})
		require.Error(t, err)

		assert.Equal(t, models.IngestRunStatusError, run.Status)
		require.NotNil(t, run.LastError)
		assert.Len(t, run.Details.Sites, 2)
		assert.Empty(t, writer.written)
	})

	t.Run("one failed site does not abort the run", func(t *testing.T) {
		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		fetcher := &fakeFetcher{markup: map[string]string{
			"sfbay": markupWith(saleRows(2)...),
		}}
		runner := newRunner(writer, store, fetcher)

		run, err := runner.Run(ctx, RunRequest{
			Source: models.SaleSourceCraigslist,
			Sites:  []string{"sfbay", "eastbay"},
		})
		require.NoError(t, err)

		assert.Equal(t, models.IngestRunStatusOK, run.Status)
		assert.Equal(t, 2, run.NewCount)
		require.Len(t, run.Details.Sites, 2)
		assert.True(t, run.Details.Sites[0].OK)
		assert.False(t, run.Details.Sites[1].OK)
	})

	t.Run("cancellation between chunks finalizes with partial counters", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)

		writer := &fakeSaleWriter{}
		store := &fakeRunStore{}
		runner := newRunner(writer, store, &fakeFetcher{})

		// Cancel after the gather phase by pre-cancelling; the first chunk
		// boundary check observes it.
		cancel()

		run, err := runner.Run(cancelCtx, RunRequest{
			Source:    models.SaleSourceCraigslist,
			RawMarkup: markupWith(saleRows(5)...),
		})
		require.Error(t, err)

		assert.Equal(t, models.IngestRunStatusError, run.Status)
		require.NotNil(t, store.finished)
		assert.Equal(t, models.IngestRunStatusError, store.finished.Status)
	})
}
