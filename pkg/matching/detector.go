// Package matching implements duplicate detection for catalog sales.
package matching

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/lanternetwork/saletracker/pkg/geo"
	"github.com/lanternetwork/saletracker/pkg/models"
	"github.com/lanternetwork/saletracker/pkg/tracing"
)

// SaleStore is the storage collaborator the detector reads candidates from.
type SaleStore interface {
	ListInBoundingBox(ctx context.Context, box geo.BoundingBox) ([]models.Sale, error)
}

// NegativeMatchStore persists confirmed not-a-duplicate decisions.
type NegativeMatchStore interface {
	Record(ctx context.Context, match *models.NegativeMatch) (bool, error)
	Has(ctx context.Context, idA, idB string) (bool, error)
}

// DetectorConfig contains tuning for the duplicate detector
type DetectorConfig struct {
	MaxDistanceMeters float64 // Radius of the geospatial prefilter (default: 150)
	MinSimilarity     float64 // Minimum title similarity to keep a candidate (default: 0.35)
	MaxCandidates     int     // Maximum candidates returned per check (default: 3)
}

// DefaultDetectorConfig returns default detector configuration
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		MaxDistanceMeters: 150,
		MinSimilarity:     0.35,
		MaxCandidates:     3,
	}
}

// Detector finds existing catalog sales that are plausibly the same
// physical sale as a candidate. It is a pure similarity ranker: recorded
// negative matches are not filtered here, callers cross-reference
// HasNegativeMatch before surfacing suggestions.
type Detector struct {
	sales     SaleStore
	negatives NegativeMatchStore
	scorer    *Scorer
	logger    ectologger.Logger
	config    DetectorConfig
}

// NewDetector creates a new Detector
func NewDetector(sales SaleStore, negatives NegativeMatchStore, logger ectologger.Logger, config DetectorConfig) *Detector {
	if config.MaxDistanceMeters <= 0 {
		config.MaxDistanceMeters = 150
	}
	if config.MinSimilarity <= 0 {
		config.MinSimilarity = 0.35
	}
	if config.MaxCandidates <= 0 {
		config.MaxCandidates = 3
	}
	return &Detector{
		sales:     sales,
		negatives: negatives,
		scorer:    NewScorer(),
		logger:    logger,
		config:    config,
	}
}

// FindCandidates returns ranked duplicate candidates for a sale. The result
// is empty when the sale lacks coordinates, a title, or a start date, since
// duplicate detection is meaningless without all three.
func (d *Detector) FindCandidates(ctx context.Context, sale *models.Sale) ([]models.DuplicateCandidate, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Detector.FindCandidates")
	defer span.End()

	if !sale.HasCoordinates() || sale.Title == "" || sale.StartAt == nil {
		return []models.DuplicateCandidate{}, nil
	}

	lat, lng := *sale.Lat, *sale.Lng

	// Coarse range filter: the box is a superset of the radius, so hits are
	// re-checked with an exact haversine distance below.
	box := geo.BoxAround(lat, lng, d.config.MaxDistanceMeters)
	nearby, err := d.sales.ListInBoundingBox(ctx, box)
	if err != nil {
		return nil, err
	}

	candidates := make([]models.DuplicateCandidate, 0, len(nearby))
	for _, other := range nearby {
		if other.ID == sale.ID {
			continue
		}
		if !other.HasCoordinates() || other.StartAt == nil {
			continue
		}

		distance := geo.HaversineMeters(lat, lng, *other.Lat, *other.Lng)
		if distance > d.config.MaxDistanceMeters {
			continue
		}

		if !dateRangesOverlap(sale.StartAt, sale.EndAt, other.StartAt, other.EndAt) {
			continue
		}

		similarity := d.scorer.TitleSimilarity(sale.Title, other.Title)
		if similarity < d.config.MinSimilarity {
			continue
		}

		candidates = append(candidates, models.DuplicateCandidate{
			Sale:           other,
			DistanceMeters: distance,
			Similarity:     similarity,
			Reason: fmt.Sprintf("%.0fm away, %.0f%% title match",
				math.Round(distance), similarity*100),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return d.rank(candidates[i]) > d.rank(candidates[j])
	})

	if len(candidates) > d.config.MaxCandidates {
		candidates = candidates[:d.config.MaxCandidates]
	}

	d.logger.WithContext(ctx).WithFields(map[string]any{
		"nearby":     len(nearby),
		"candidates": len(candidates),
	}).Debug("Duplicate check completed")

	return candidates, nil
}

// rank combines similarity and proximity into one score
func (d *Detector) rank(c models.DuplicateCandidate) float64 {
	return c.Similarity*0.7 + (1-c.DistanceMeters/d.config.MaxDistanceMeters)*0.3
}

// RecordNegativeMatch persists a confirmed not-a-duplicate decision for the
// unordered pair (idA, idB). Recording the same pair in either order is
// equivalent and idempotent.
func (d *Detector) RecordNegativeMatch(ctx context.Context, idA, idB string, userID string) (bool, error) {
	ctx, span := tracing.StartSpan(ctx, "matching.Detector.RecordNegativeMatch")
	defer span.End()

	if idA == "" || idB == "" || idA == idB {
		return false, nil
	}

	a, b := models.CanonicalPair(idA, idB)
	match := &models.NegativeMatch{
		SaleIDA:   a,
		SaleIDB:   b,
		CreatedAt: time.Now().UTC(),
	}
	if userID != "" {
		match.CreatedBy = &userID
	}

	return d.negatives.Record(ctx, match)
}

// HasNegativeMatch reports whether the unordered pair has a recorded
// not-a-duplicate decision.
func (d *Detector) HasNegativeMatch(ctx context.Context, idA, idB string) (bool, error) {
	a, b := models.CanonicalPair(idA, idB)
	return d.negatives.Has(ctx, a, b)
}

// dateRangesOverlap reports whether two [start, end] day ranges intersect.
// A missing end collapses the range to the single day of its start.
func dateRangesOverlap(aStart, aEnd, bStart, bEnd *time.Time) bool {
	aLo, aHi := dayRange(aStart, aEnd)
	bLo, bHi := dayRange(bStart, bEnd)
	return !aLo.After(bHi) && !bLo.After(aHi)
}

func dayRange(start, end *time.Time) (time.Time, time.Time) {
	lo := truncateToDay(*start)
	hi := lo
	if end != nil {
		hi = truncateToDay(*end)
		if hi.Before(lo) {
			hi = lo
		}
	}
	return lo, hi
}

func truncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
