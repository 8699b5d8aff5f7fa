package dispatch

import (
	"context"
	"log"
	"math"
	"sync"

	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
	"github.com/teamrichards/dispatchd/internal/state"
)

// ratioEpsilon keeps demand cost division defined for a zero ratio.
const ratioEpsilon = 1e-6

// RouteFetcher provides driving routes for the two legs of an assignment.
type RouteFetcher interface {
	FetchRoute(ctx context.Context, start, end geo.Point) model.Route
}

// Recorder observes committed assignments. Implementations must be safe for
// concurrent use.
type Recorder interface {
	AssignmentsCommitted(n int)
}

// Matcher runs one assignment pass per tick: it snapshots the fleet, prices
// every free-taxi pending-order pair under the current mode, solves the
// matrix, and commits the chosen pairs.
type Matcher struct {
	store    *state.Store
	agg      *demand.Aggregator
	routes   RouteFetcher
	modeFn   func() Mode
	recorder Recorder
}

// NewMatcher wires a matcher. modeFn is consulted once per pass; recorder
// may be nil.
func NewMatcher(store *state.Store, agg *demand.Aggregator, routes RouteFetcher, modeFn func() Mode, recorder Recorder) *Matcher {
	return &Matcher{
		store:    store,
		agg:      agg,
		routes:   routes,
		modeFn:   modeFn,
		recorder: recorder,
	}
}

// Assign performs one matching pass and returns the assignments attached
// during it. Pairs are committed sequentially in matrix order; the two
// route legs of each pair are fetched concurrently. A pair whose commit
// fails, for example because a client completed the order mid-pass, is
// logged and skipped without aborting the rest of the pass.
func (m *Matcher) Assign(ctx context.Context) []model.Assignment {
	mode := m.modeFn()
	snap := m.store.Snapshot()

	var taxis []model.Taxi
	for _, t := range snap.Taxis {
		if t.Status == model.TaxiFree {
			taxis = append(taxis, t)
		}
	}
	var orders []model.Order
	for _, o := range snap.Orders {
		if o.Status == model.OrderPending {
			orders = append(orders, o)
		}
	}
	if len(taxis) == 0 || len(orders) == 0 {
		return nil
	}

	// Demand pricing reads per-cell counts, so refresh them from the same
	// snapshot the candidates came from.
	if mode != ModeProximity {
		m.agg.Recount(snap)
	}

	cost := m.buildCostMatrix(mode, taxis, orders)
	assigned := solveAssignment(cost)

	var out []model.Assignment
	for i := range taxis {
		j := assigned[i]
		if j >= len(orders) {
			continue
		}
		a, err := m.commitPair(ctx, mode, taxis[i], orders[j])
		if err != nil {
			log.Printf("[dispatch] skipping pair taxi %s order %s: %v", taxis[i].ID, orders[j].ID, err)
			continue
		}
		out = append(out, a)
	}
	if m.recorder != nil && len(out) > 0 {
		m.recorder.AssignmentsCommitted(len(out))
	}
	return out
}

// commitPair moves the pair into busy/assigned, fetches both route legs,
// and attaches the assignment record. A failed attach rolls the pair back.
func (m *Matcher) commitPair(ctx context.Context, mode Mode, taxi model.Taxi, order model.Order) (model.Assignment, error) {
	if err := m.store.CommitPair(taxi.ID, order.ID); err != nil {
		return model.Assignment{}, err
	}

	var toPickup, toDropoff model.Route
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		toPickup = m.routes.FetchRoute(ctx, taxi.Location, order.Pickup)
	}()
	go func() {
		defer wg.Done()
		toDropoff = m.routes.FetchRoute(ctx, order.Pickup, order.Dropoff)
	}()
	wg.Wait()

	a := model.Assignment{
		TaxiID:    taxi.ID,
		OrderID:   order.ID,
		ToPickup:  toPickup,
		ToDropoff: toDropoff,
		Mode:      string(mode),
	}
	if err := m.store.AttachAssignment(a); err != nil {
		m.store.ReleasePair(taxi.ID, order.ID)
		return model.Assignment{}, err
	}
	return a, nil
}

// buildCostMatrix prices every pair and pads the result to a square matrix
// with sentinel entries. Rows are taxis, columns are orders.
func (m *Matcher) buildCostMatrix(mode Mode, taxis []model.Taxi, orders []model.Order) [][]float64 {
	n := max(len(taxis), len(orders))
	cost := make([][]float64, n)
	for i := range cost {
		cost[i] = make([]float64, n)
		for j := range cost[i] {
			cost[i][j] = sentinelCost
		}
	}

	// The demand signal depends only on the order's pickup cell, so resolve
	// it once per column.
	ratios := make([]float64, len(orders))
	known := make([]bool, len(orders))
	switch mode {
	case ModeDemand:
		for j, o := range orders {
			ratios[j], known[j] = m.agg.RatioForLocation(o.Pickup)
		}
	case ModeHybrid:
		for j, o := range orders {
			hex, ok := m.agg.HexAt(o.Pickup)
			known[j] = ok
			if ok {
				ratios[j] = hybridRatio(hex)
			}
		}
	}

	for i, t := range taxis {
		for j, o := range orders {
			switch mode {
			case ModeDemand:
				cost[i][j] = demandCost(ratios[j], known[j])
			case ModeHybrid:
				d := geo.HaversineKm(t.Location, o.Pickup)
				w := 1.0
				if known[j] {
					w = math.Min(1, 1/(ratios[j]+ratioEpsilon))
				}
				cost[i][j] = 0.6*d + 0.4*d*(1-w)
			default:
				cost[i][j] = geo.HaversineKm(t.Location, o.Pickup)
			}
		}
	}
	return cost
}

// demandCost prices a pair from the pickup cell's ratio alone. Cells with
// unmet demand are near-free so they win the matrix, cells without a demand
// signal cost a flat 1.0.
func demandCost(ratio float64, known bool) float64 {
	switch {
	case !known:
		return 1.0
	case math.IsInf(ratio, 1):
		return 0.1
	case ratio == 0:
		return 1.0
	default:
		return 1 / (ratio + ratioEpsilon)
	}
}

// hybridRatio adjusts a cell's ratio for the blended model: a cell with
// neither orders nor taxis counts as balanced rather than idle, so its
// weight stays near one and the pair prices close to the discounted
// distance. Saturated cells keep their infinite ratio, which collapses the
// weight to zero and prices the pair at full distance.
func hybridRatio(hex demand.Hexagon) float64 {
	if hex.OrdersCount == 0 && hex.TaxisCount == 0 {
		return 1.0
	}
	return hex.Ratio
}
