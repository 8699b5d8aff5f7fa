// Package hexgrid builds the fixed H3 tiling of the operational area.
package hexgrid

import (
	"fmt"

	h3 "github.com/uber/h3-go/v4"

	"github.com/teamrichards/dispatchd/internal/geo"
)

// Sampling density over the operational bounding box. The half-width is
// 0.10 degrees, roughly 10 km at the simulated latitude, so the sample
// spacing stays well below one res-7 cell diameter.
const (
	boxHalfWidthDeg = 0.10
	latSteps        = 20
	lngSteps        = 25
)

// CellInfo is one hexagon of the tiling with its precomputed geometry.
type CellInfo struct {
	Cell     h3.Cell
	Center   geo.Point
	Boundary []geo.Point
}

// Grid is the fixed tiling. It never changes after New, so concurrent reads
// need no locking.
type Grid struct {
	resolution int
	cells      []CellInfo
	index      map[h3.Cell]int
}

// New samples a regular latSteps x lngSteps grid over the bounding box
// around center and collects the distinct H3 cells covering it, each with
// its centroid and boundary polygon.
func New(center geo.Point, resolution int) (*Grid, error) {
	g := &Grid{
		resolution: resolution,
		index:      make(map[h3.Cell]int),
	}
	for i := 0; i < latSteps; i++ {
		for j := 0; j < lngSteps; j++ {
			p := geo.Point{
				Lat: center.Lat - boxHalfWidthDeg + 2*boxHalfWidthDeg*float64(i)/float64(latSteps-1),
				Lng: center.Lng - boxHalfWidthDeg + 2*boxHalfWidthDeg*float64(j)/float64(lngSteps-1),
			}
			cell, err := geo.CellFor(p, resolution)
			if err != nil {
				return nil, fmt.Errorf("cell for sample (%.6f, %.6f): %w", p.Lat, p.Lng, err)
			}
			if _, ok := g.index[cell]; ok {
				continue
			}
			cellCenter, err := geo.CellCenter(cell)
			if err != nil {
				return nil, fmt.Errorf("center of cell %s: %w", cell, err)
			}
			boundary, err := geo.CellBoundary(cell)
			if err != nil {
				return nil, fmt.Errorf("boundary of cell %s: %w", cell, err)
			}
			g.index[cell] = len(g.cells)
			g.cells = append(g.cells, CellInfo{Cell: cell, Center: cellCenter, Boundary: boundary})
		}
	}
	return g, nil
}

// Resolution returns the H3 resolution the grid was built at.
func (g *Grid) Resolution() int { return g.resolution }

// Size returns the number of distinct cells in the tiling.
func (g *Grid) Size() int { return len(g.cells) }

// Cells returns the tiling in construction order. Callers must not modify
// the returned slice.
func (g *Grid) Cells() []CellInfo { return g.cells }

// Contains reports whether cell belongs to the tiling.
func (g *Grid) Contains(cell h3.Cell) bool {
	_, ok := g.index[cell]
	return ok
}

// CellAt maps p to its H3 cell and reports whether that cell belongs to the
// tiling. Points near the box edges can fall outside the sampled cells.
func (g *Grid) CellAt(p geo.Point) (h3.Cell, bool) {
	cell, err := geo.CellFor(p, g.resolution)
	if err != nil {
		return 0, false
	}
	_, ok := g.index[cell]
	return cell, ok
}
