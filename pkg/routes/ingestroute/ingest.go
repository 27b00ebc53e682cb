// Package ingestroute exposes the ingestion trigger and run inspection
// endpoints.
package ingestroute

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/lanternetwork/saletracker/internal/repositories/ingestrun"
	"github.com/lanternetwork/saletracker/pkg/ingest"
	"github.com/lanternetwork/saletracker/pkg/models"
)

// IngestRequest is the body of an ingestion trigger
type IngestRequest struct {
	Source    string   `json:"source"`
	Sites     []string `json:"sites,omitempty"`
	RawMarkup string   `json:"raw_markup,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`
}

// IngestResponse summarizes a finished run
type IngestResponse struct {
	RunID        string                 `json:"run_id"`
	Status       models.IngestRunStatus `json:"status"`
	FetchedCount int                    `json:"fetched_count"`
	NewCount     int                    `json:"new_count"`
	UpdatedCount int                    `json:"updated_count"`
}

// Handler serves ingestion endpoints
type Handler struct {
	runner       *ingest.Runner
	runs         ingestrun.IngestRunRepository
	defaultSites []string
	logger       ectologger.Logger
}

// NewHandler creates a new ingestion handler
func NewHandler(runner *ingest.Runner, runs ingestrun.IngestRunRepository, defaultSites []string, logger ectologger.Logger) *Handler {
	return &Handler{
		runner:       runner,
		runs:         runs,
		defaultSites: defaultSites,
		logger:       logger,
	}
}

// RegisterRoutes registers the ingestion routes. The trigger group is
// expected to already carry the token, rate limit and idempotency guards.
func (h *Handler) RegisterRoutes(trigger *echo.Group, runs *echo.Group) {
	trigger.POST("", h.TriggerIngest)
	runs.GET("", h.ListRuns)
	runs.GET("/:id", h.GetRun)
}

// TriggerIngest starts one ingestion run and reports its outcome
func (h *Handler) TriggerIngest(c echo.Context) error {
	ctx := c.Request().Context()

	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	source := models.SaleSource(req.Source)
	if source == "" {
		source = models.SaleSourceCraigslist
	}

	sites := req.Sites
	if len(sites) == 0 && req.RawMarkup == "" {
		sites = h.defaultSites
	}

	run, err := h.runner.Run(ctx, ingest.RunRequest{
		Source:    source,
		Sites:     sites,
		RawMarkup: req.RawMarkup,
		DryRun:    req.DryRun,
	})
	if err != nil {
		if run == nil {
			return err
		}
		h.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"run_id": run.ID,
		}).Error("Ingest run failed")
		return httperror.NewHTTPErrorf(http.StatusInternalServerError, "ingest run %s failed", run.ID)
	}

	return c.JSON(http.StatusOK, IngestResponse{
		RunID:        run.ID,
		Status:       run.Status,
		FetchedCount: run.FetchedCount,
		NewCount:     run.NewCount,
		UpdatedCount: run.UpdatedCount,
	})
}

// ListRuns lists recent ingest runs
func (h *Handler) ListRuns(c echo.Context) error {
	ctx := c.Request().Context()

	runs, err := h.runs.List(ctx, 50)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, runs)
}

// GetRun returns one run with its full diagnostic details
func (h *Handler) GetRun(c echo.Context) error {
	ctx := c.Request().Context()

	id := c.Param("id")
	if id == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "missing run id")
	}

	run, err := h.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}
