// Package demand aggregates pending orders and free taxis per hex cell and
// derives each cell's supply/demand ratio, color, and level label.
package demand

import (
	"math"
	"sync"

	h3 "github.com/uber/h3-go/v4"

	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/hexgrid"
	"github.com/teamrichards/dispatchd/internal/model"
	"github.com/teamrichards/dispatchd/internal/state"
)

// Demand level labels as shown to subscribers.
const (
	LevelNone            = "None"
	LevelSupplyOnly      = "Supply Only"
	LevelLow             = "Low"
	LevelModerate        = "Moderate"
	LevelHigh            = "High"
	LevelVeryHigh        = "Very High"
	LevelHighUnmetDemand = "High Unmet Demand"
)

const (
	colorIdle     = "#F0F0F0"
	colorLow      = "#90EE90"
	colorModerate = "#FFD700"
	colorHigh     = "#FFA500"
	colorVeryHigh = "#FF4500"
)

// Hexagon is the aggregation result for one cell of the tiling. Ratio is
// +Inf when orders exist in a cell without taxis; the wire layer encodes
// that as -1.
type Hexagon struct {
	HexID       string
	Center      geo.Point
	Boundary    []geo.Point
	OrdersCount int
	TaxisCount  int
	Ratio       float64
	Color       string
	Level       string
}

// Aggregator owns the per-cell table and recomputes it from store
// snapshots. Matching reads current ratios through RatioForLocation.
type Aggregator struct {
	grid *hexgrid.Grid

	mu     sync.RWMutex
	cells  []Hexagon
	byCell map[h3.Cell]int
}

// NewAggregator builds the table over the fixed grid with every cell idle.
func NewAggregator(grid *hexgrid.Grid) *Aggregator {
	cells := make([]Hexagon, 0, grid.Size())
	byCell := make(map[h3.Cell]int, grid.Size())
	for i, info := range grid.Cells() {
		cells = append(cells, Hexagon{
			HexID:    info.Cell.String(),
			Center:   info.Center,
			Boundary: info.Boundary,
			Color:    colorIdle,
			Level:    LevelNone,
		})
		byCell[info.Cell] = i
	}
	return &Aggregator{grid: grid, cells: cells, byCell: byCell}
}

// Recount rebuilds every cell from the snapshot in one pass: pending orders
// count by pickup cell, free taxis by current location cell. Entities whose
// cell falls outside the tiling stay in the store but are not aggregated.
// Calling Recount twice on the same snapshot yields the same table.
func (a *Aggregator) Recount(snap state.Snapshot) {
	orders := make(map[h3.Cell]int)
	taxis := make(map[h3.Cell]int)
	for _, o := range snap.Orders {
		if o.Status != model.OrderPending {
			continue
		}
		if cell, ok := a.grid.CellAt(o.Pickup); ok {
			orders[cell]++
		}
	}
	for _, t := range snap.Taxis {
		if t.Status != model.TaxiFree {
			continue
		}
		if cell, ok := a.grid.CellAt(t.Location); ok {
			taxis[cell]++
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for i, info := range a.grid.Cells() {
		h := &a.cells[i]
		h.OrdersCount = orders[info.Cell]
		h.TaxisCount = taxis[info.Cell]
		h.Ratio, h.Color, h.Level = classify(h.OrdersCount, h.TaxisCount)
	}
}

// RatioForLocation returns the current demand ratio of the cell containing
// p. ok is false when p falls outside the tiling.
func (a *Aggregator) RatioForLocation(p geo.Point) (ratio float64, ok bool) {
	cell, inGrid := a.grid.CellAt(p)
	if !inGrid {
		return 0, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cells[a.byCell[cell]].Ratio, true
}

// HexAt returns the aggregated cell containing p. ok is false when p falls
// outside the tiling.
func (a *Aggregator) HexAt(p geo.Point) (Hexagon, bool) {
	cell, inGrid := a.grid.CellAt(p)
	if !inGrid {
		return Hexagon{}, false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cells[a.byCell[cell]], true
}

// Hexagons returns a copy of the current table together with the number of
// active cells, i.e. cells holding any orders or taxis.
func (a *Aggregator) Hexagons() ([]Hexagon, int) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]Hexagon, len(a.cells))
	copy(out, a.cells)
	active := 0
	for _, h := range a.cells {
		if h.OrdersCount > 0 || h.TaxisCount > 0 {
			active++
		}
	}
	return out, active
}

// Resolution returns the H3 resolution of the underlying grid.
func (a *Aggregator) Resolution() int { return a.grid.Resolution() }

// TotalCells returns the size of the fixed tiling.
func (a *Aggregator) TotalCells() int { return a.grid.Size() }

// classify derives the ratio, color, and level for one cell's counts.
func classify(orders, taxis int) (float64, string, string) {
	switch {
	case orders == 0 && taxis == 0:
		return 0, colorIdle, LevelNone
	case orders == 0:
		return 0, colorLow, LevelSupplyOnly
	case taxis == 0:
		return math.Inf(1), colorVeryHigh, LevelHighUnmetDemand
	}

	ratio := float64(orders) / float64(taxis)
	switch {
	case ratio < 0.5:
		return ratio, colorLow, LevelLow
	case ratio < 1.0:
		return ratio, colorModerate, LevelModerate
	case ratio < 2.0:
		return ratio, colorHigh, LevelHigh
	default:
		return ratio, colorVeryHigh, LevelVeryHigh
	}
}
