// Package geo provides the geographic primitives shared by the dispatch
// engine: haversine distance and H3 cell lookups.
package geo

import (
	"math"

	h3 "github.com/uber/h3-go/v4"
)

// EarthRadiusKm is the mean Earth radius used by HaversineKm.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// HaversineKm returns the great-circle distance between a and b in kilometers.
func HaversineKm(a, b Point) float64 {
	phiA := radians(a.Lat)
	phiB := radians(b.Lat)
	dPhi := radians(b.Lat - a.Lat)
	dLambda := radians(b.Lng - a.Lng)

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phiA)*math.Cos(phiB)*sinLambda*sinLambda
	return 2 * EarthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// CellFor returns the H3 cell containing p at the given resolution.
func CellFor(p Point, resolution int) (h3.Cell, error) {
	return h3.LatLngToCell(h3.LatLng{Lat: p.Lat, Lng: p.Lng}, resolution)
}

// CellCenter returns the centroid of c.
func CellCenter(c h3.Cell) (Point, error) {
	ll, err := h3.CellToLatLng(c)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: ll.Lat, Lng: ll.Lng}, nil
}

// CellBoundary returns the polygon boundary of c as lat/lng points.
func CellBoundary(c h3.Cell) ([]Point, error) {
	ring, err := c.Boundary()
	if err != nil {
		return nil, err
	}
	pts := make([]Point, len(ring))
	for i, ll := range ring {
		pts[i] = Point{Lat: ll.Lat, Lng: ll.Lng}
	}
	return pts, nil
}
