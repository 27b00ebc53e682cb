// Package duplicates exposes the duplicate check and dismissal endpoints.
package duplicates

import (
	"net/http"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/lanternetwork/saletracker/pkg/context"
	"github.com/lanternetwork/saletracker/pkg/matching"
	"github.com/lanternetwork/saletracker/pkg/metrics"
	"github.com/lanternetwork/saletracker/pkg/models"
)

// CheckRequest is a candidate sale to check against the catalog
type CheckRequest struct {
	SaleID    string     `json:"sale_id,omitempty"`
	Title     string     `json:"title"`
	Lat       *float64   `json:"lat"`
	Lng       *float64   `json:"lng"`
	DateStart *time.Time `json:"date_start"`
	DateEnd   *time.Time `json:"date_end,omitempty"`
}

// CheckResponse carries ranked duplicate candidates
type CheckResponse struct {
	Candidates []models.DuplicateCandidate `json:"candidates"`
}

// DismissRequest records a not-a-duplicate decision for a pair
type DismissRequest struct {
	SaleID      string `json:"sale_id"`
	OtherSaleID string `json:"other_sale_id"`
}

// Handler serves duplicate detection endpoints
type Handler struct {
	detector *matching.Detector
	logger   ectologger.Logger
}

// NewHandler creates a new duplicates handler
func NewHandler(detector *matching.Detector, logger ectologger.Logger) *Handler {
	return &Handler{
		detector: detector,
		logger:   logger,
	}
}

// RegisterRoutes registers the duplicate detection routes
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/check", h.CheckDuplicates)
	g.POST("/dismiss", h.DismissDuplicate)
}

// CheckDuplicates finds existing sales that plausibly describe the same
// physical sale as the request. Pairs the user already dismissed are
// filtered here; the detector itself is a pure ranker.
func (h *Handler) CheckDuplicates(c echo.Context) error {
	ctx := c.Request().Context()

	var req CheckRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	metrics.DuplicateChecksTotal.Inc()

	candidate := &models.Sale{
		ID:      req.SaleID,
		Title:   req.Title,
		Lat:     req.Lat,
		Lng:     req.Lng,
		StartAt: req.DateStart,
		EndAt:   req.DateEnd,
	}

	found, err := h.detector.FindCandidates(ctx, candidate)
	if err != nil {
		return err
	}

	candidates := found[:0]
	for _, match := range found {
		if req.SaleID != "" {
			dismissed, err := h.detector.HasNegativeMatch(ctx, req.SaleID, match.Sale.ID)
			if err != nil {
				return err
			}
			if dismissed {
				continue
			}
		}
		candidates = append(candidates, match)
	}

	metrics.DuplicateCandidatesReturned.Observe(float64(len(candidates)))

	return c.JSON(http.StatusOK, CheckResponse{Candidates: candidates})
}

// DismissDuplicate records that two sales are not duplicates of each other
func (h *Handler) DismissDuplicate(c echo.Context) error {
	ctx := c.Request().Context()

	var req DismissRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.SaleID == "" || req.OtherSaleID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "sale_id and other_sale_id are required")
	}
	if req.SaleID == req.OtherSaleID {
		return httperror.NewHTTPError(http.StatusBadRequest, "sale cannot be dismissed against itself")
	}

	created, err := h.detector.RecordNegativeMatch(ctx, req.SaleID, req.OtherSaleID, appctx.GetUserID(ctx))
	if err != nil {
		return err
	}

	if created {
		h.logger.WithContext(ctx).WithFields(map[string]any{
			"sale_id":       req.SaleID,
			"other_sale_id": req.OtherSaleID,
		}).Info("Recorded negative match")
	}

	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}
