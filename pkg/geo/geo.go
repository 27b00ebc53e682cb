// Package geo provides the distance geometry used by duplicate detection.
package geo

import "math"

const (
	// EarthRadiusMeters is the mean earth radius used by the haversine formula
	EarthRadiusMeters = 6371000.0

	// metersPerDegree is the standard 111km-per-degree approximation
	metersPerDegree = 111000.0
)

// BoundingBox is a latitude/longitude rectangle. It is a superset of the
// circle it approximates: the longitude conversion uses cos(lat), so hits
// must still be re-checked with an exact distance.
type BoundingBox struct {
	LatMin float64
	LatMax float64
	LngMin float64
	LngMax float64
}

// BoxAround computes a bounding box of radiusMeters around a point.
func BoxAround(lat, lng, radiusMeters float64) BoundingBox {
	latDelta := radiusMeters / metersPerDegree

	lngScale := math.Cos(lat * math.Pi / 180)
	if lngScale < 1e-6 {
		lngScale = 1e-6
	}
	lngDelta := radiusMeters / (metersPerDegree * lngScale)

	return BoundingBox{
		LatMin: lat - latDelta,
		LatMax: lat + latDelta,
		LngMin: lng - lngDelta,
		LngMax: lng + lngDelta,
	}
}

// Contains reports whether the point falls inside the box.
func (b BoundingBox) Contains(lat, lng float64) bool {
	return lat >= b.LatMin && lat <= b.LatMax && lng >= b.LngMin && lng <= b.LngMax
}

// HaversineMeters computes the great-circle distance between two points.
func HaversineMeters(lat1, lng1, lat2, lng2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lng2 - lng1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return EarthRadiusMeters * c
}
