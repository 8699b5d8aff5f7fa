package dispatch

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/hexgrid"
	"github.com/teamrichards/dispatchd/internal/model"
	"github.com/teamrichards/dispatchd/internal/state"
)

var matcherCenter = geo.Point{Lat: 51.111339, Lng: 71.415581}

type stubRoutes struct {
	mu    sync.Mutex
	calls [][2]geo.Point
}

func (s *stubRoutes) FetchRoute(_ context.Context, start, end geo.Point) model.Route {
	s.mu.Lock()
	s.calls = append(s.calls, [2]geo.Point{start, end})
	s.mu.Unlock()
	return model.Route{Path: []geo.Point{start, end}, DurationSeconds: 42}
}

func (s *stubRoutes) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubRecorder struct {
	mu        sync.Mutex
	committed int
}

func (r *stubRecorder) AssignmentsCommitted(n int) {
	r.mu.Lock()
	r.committed += n
	r.mu.Unlock()
}

func newTestAggregator(t *testing.T) (*hexgrid.Grid, *demand.Aggregator) {
	t.Helper()
	grid, err := hexgrid.New(matcherCenter, 7)
	if err != nil {
		t.Fatalf("build grid: %v", err)
	}
	return grid, demand.NewAggregator(grid)
}

func fixedMode(m Mode) func() Mode {
	return func() Mode { return m }
}

func TestMatcherAssignNoCandidates(t *testing.T) {
	_, agg := newTestAggregator(t)
	store := state.New(50, 2)
	routes := &stubRoutes{}
	m := NewMatcher(store, agg, routes, fixedMode(ModeProximity), nil)

	if got := m.Assign(context.Background()); got != nil {
		t.Fatalf("Assign on empty store = %v, want nil", got)
	}

	// Orders without any free taxi must leave the pass a no-op as well.
	if _, err := store.AddOrder(matcherCenter, matcherCenter); err != nil {
		t.Fatalf("add order: %v", err)
	}
	if got := m.Assign(context.Background()); got != nil {
		t.Fatalf("Assign without taxis = %v, want nil", got)
	}
	if n := routes.callCount(); n != 0 {
		t.Fatalf("route fetches = %d, want 0", n)
	}
}

func TestMatcherProximityPairing(t *testing.T) {
	_, agg := newTestAggregator(t)
	store := state.New(50, 2)
	routes := &stubRoutes{}
	recorder := &stubRecorder{}
	m := NewMatcher(store, agg, routes, fixedMode(ModeProximity), recorder)

	taxiA := model.Taxi{ID: "taxi_a", Location: geo.Point{Lat: 51.150, Lng: 71.400}}
	taxiB := model.Taxi{ID: "taxi_b", Location: geo.Point{Lat: 51.070, Lng: 71.430}}
	for _, taxi := range []model.Taxi{taxiA, taxiB} {
		if err := store.AddTaxi(taxi); err != nil {
			t.Fatalf("add taxi: %v", err)
		}
	}
	orderA, err := store.AddOrder(geo.Point{Lat: 51.151, Lng: 71.401}, geo.Point{Lat: 51.160, Lng: 71.410})
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	orderB, err := store.AddOrder(geo.Point{Lat: 51.071, Lng: 71.431}, geo.Point{Lat: 51.060, Lng: 71.440})
	if err != nil {
		t.Fatalf("add order: %v", err)
	}

	got := m.Assign(context.Background())
	if len(got) != 2 {
		t.Fatalf("assignments = %d, want 2", len(got))
	}
	byOrder := make(map[string]model.Assignment, len(got))
	for _, a := range got {
		byOrder[a.OrderID] = a
	}
	if a := byOrder[orderA.ID]; a.TaxiID != taxiA.ID {
		t.Errorf("order %s assigned to %s, want %s", orderA.ID, a.TaxiID, taxiA.ID)
	}
	if a := byOrder[orderB.ID]; a.TaxiID != taxiB.ID {
		t.Errorf("order %s assigned to %s, want %s", orderB.ID, a.TaxiID, taxiB.ID)
	}

	a := byOrder[orderA.ID]
	if a.Mode != string(ModeProximity) {
		t.Errorf("assignment mode = %q, want %q", a.Mode, ModeProximity)
	}
	if len(a.ToPickup.Path) != 2 || a.ToPickup.Path[0] != taxiA.Location || a.ToPickup.Path[1] != orderA.Pickup {
		t.Errorf("pickup leg %v does not run taxi to pickup", a.ToPickup.Path)
	}
	if len(a.ToDropoff.Path) != 2 || a.ToDropoff.Path[0] != orderA.Pickup || a.ToDropoff.Path[1] != orderA.Dropoff {
		t.Errorf("dropoff leg %v does not run pickup to dropoff", a.ToDropoff.Path)
	}

	if n := routes.callCount(); n != 4 {
		t.Errorf("route fetches = %d, want 4", n)
	}
	if recorder.committed != 2 {
		t.Errorf("recorded commits = %d, want 2", recorder.committed)
	}

	snap := store.Snapshot()
	for _, taxi := range snap.Taxis {
		if taxi.Status != model.TaxiBusy {
			t.Errorf("taxi %s status = %q, want busy", taxi.ID, taxi.Status)
		}
	}
	for _, order := range snap.Orders {
		if order.Status != model.OrderAssigned {
			t.Errorf("order %s status = %q, want assigned", order.ID, order.Status)
		}
	}
	if err := state.CheckConsistency(snap, 50, 2); err != nil {
		t.Fatalf("state after pass: %v", err)
	}

	// A second pass has no free taxis left and must change nothing.
	if again := m.Assign(context.Background()); again != nil {
		t.Fatalf("second Assign = %v, want nil", again)
	}
}

func TestMatcherDemandModePrefersUnmetCell(t *testing.T) {
	grid, agg := newTestAggregator(t)
	cells := grid.Cells()
	home := cells[0]
	far := cells[len(cells)-1]

	store := state.New(50, 2)
	routes := &stubRoutes{}
	m := NewMatcher(store, agg, routes, fixedMode(ModeDemand), nil)

	// The taxi supplies its own cell, so the nearby order sits in a served
	// cell while the far order's cell has demand and no supply.
	if err := store.AddTaxi(model.Taxi{ID: "taxi_1", Location: home.Center}); err != nil {
		t.Fatalf("add taxi: %v", err)
	}
	nearOrder, err := store.AddOrder(home.Center, matcherCenter)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}
	farOrder, err := store.AddOrder(far.Center, matcherCenter)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}

	got := m.Assign(context.Background())
	if len(got) != 1 {
		t.Fatalf("assignments = %d, want 1", len(got))
	}
	if got[0].OrderID != farOrder.ID {
		t.Fatalf("assigned order %s, want the unmet-cell order %s", got[0].OrderID, farOrder.ID)
	}

	snap := store.Snapshot()
	for _, order := range snap.Orders {
		if order.ID == nearOrder.ID && order.Status != model.OrderPending {
			t.Errorf("near order status = %q, want pending", order.Status)
		}
	}
}

func TestMatcherMoreTaxisThanOrders(t *testing.T) {
	_, agg := newTestAggregator(t)
	store := state.New(50, 2)
	routes := &stubRoutes{}
	m := NewMatcher(store, agg, routes, fixedMode(ModeProximity), nil)

	pickup := geo.Point{Lat: 51.1115, Lng: 71.4157}
	near := model.Taxi{ID: "taxi_near", Location: geo.Point{Lat: 51.1120, Lng: 71.4160}}
	mid := model.Taxi{ID: "taxi_mid", Location: geo.Point{Lat: 51.1300, Lng: 71.4400}}
	farAway := model.Taxi{ID: "taxi_far", Location: geo.Point{Lat: 51.1900, Lng: 71.4900}}
	for _, taxi := range []model.Taxi{near, mid, farAway} {
		if err := store.AddTaxi(taxi); err != nil {
			t.Fatalf("add taxi: %v", err)
		}
	}
	order, err := store.AddOrder(pickup, matcherCenter)
	if err != nil {
		t.Fatalf("add order: %v", err)
	}

	got := m.Assign(context.Background())
	if len(got) != 1 {
		t.Fatalf("assignments = %d, want 1", len(got))
	}
	if got[0].TaxiID != near.ID || got[0].OrderID != order.ID {
		t.Fatalf("assigned %s to %s, want %s to %s", got[0].TaxiID, got[0].OrderID, near.ID, order.ID)
	}

	counts := store.Counts()
	if counts.FreeTaxis != 2 || counts.BusyTaxis != 1 {
		t.Fatalf("taxi counts = %+v, want 2 free and 1 busy", counts)
	}
}

func TestBuildCostMatrixDemand(t *testing.T) {
	grid, agg := newTestAggregator(t)
	cells := grid.Cells()
	home := cells[0]
	far := cells[len(cells)-1]
	outside := geo.Point{Lat: matcherCenter.Lat + 1, Lng: matcherCenter.Lng + 1}

	taxis := []model.Taxi{{ID: "taxi_1", Location: home.Center, Status: model.TaxiFree}}
	orders := []model.Order{
		{ID: "order_1", Pickup: far.Center, Status: model.OrderPending},
		{ID: "order_2", Pickup: home.Center, Status: model.OrderPending},
		{ID: "order_3", Pickup: outside, Status: model.OrderPending},
	}
	agg.Recount(state.Snapshot{Taxis: taxis, Orders: orders})

	m := NewMatcher(nil, agg, nil, nil, nil)
	cost := m.buildCostMatrix(ModeDemand, taxis, orders)
	if len(cost) != 3 {
		t.Fatalf("matrix size = %d, want 3", len(cost))
	}

	if got := cost[0][0]; got != 0.1 {
		t.Errorf("unmet cell cost = %v, want 0.1", got)
	}
	if got, want := cost[0][1], 1/(1.0+ratioEpsilon); math.Abs(got-want) > 1e-12 {
		t.Errorf("served cell cost = %v, want %v", got, want)
	}
	if got := cost[0][2]; got != 1.0 {
		t.Errorf("off-grid cost = %v, want 1.0", got)
	}
	if got := cost[1][0]; got != sentinelCost {
		t.Errorf("padded row cost = %v, want sentinel", got)
	}
}

func TestBuildCostMatrixHybrid(t *testing.T) {
	grid, agg := newTestAggregator(t)
	cells := grid.Cells()
	home := cells[0]
	far := cells[len(cells)-1]
	inCell := geo.Point{Lat: home.Center.Lat + 0.002, Lng: home.Center.Lng}
	outside := geo.Point{Lat: matcherCenter.Lat + 1, Lng: matcherCenter.Lng + 1}

	taxis := []model.Taxi{{ID: "taxi_1", Location: home.Center, Status: model.TaxiFree}}
	orders := []model.Order{
		{ID: "order_1", Pickup: far.Center, Status: model.OrderPending},
		{ID: "order_2", Pickup: inCell, Status: model.OrderPending},
		{ID: "order_3", Pickup: outside, Status: model.OrderPending},
	}
	agg.Recount(state.Snapshot{Taxis: taxis, Orders: orders})

	m := NewMatcher(nil, agg, nil, nil, nil)
	cost := m.buildCostMatrix(ModeHybrid, taxis, orders)

	// Unmet demand collapses the weight to zero and prices the full
	// distance.
	dFar := geo.HaversineKm(home.Center, far.Center)
	if got := cost[0][0]; math.Abs(got-dFar) > 1e-9 {
		t.Errorf("unmet cell cost = %v, want full distance %v", got, dFar)
	}

	// The taxi's own cell carries ratio 1, so the weight saturates and the
	// pair prices near the discounted distance.
	dNear := geo.HaversineKm(home.Center, inCell)
	if got, want := cost[0][1], 0.6*dNear; math.Abs(got-want) > 1e-6 {
		t.Errorf("served cell cost = %v, want about %v", got, want)
	}

	// Off-grid pickups get full weight.
	dOut := geo.HaversineKm(home.Center, outside)
	if got, want := cost[0][2], 0.6*dOut; math.Abs(got-want) > 1e-9 {
		t.Errorf("off-grid cost = %v, want %v", got, want)
	}
}

func TestDemandCost(t *testing.T) {
	cases := []struct {
		name  string
		ratio float64
		known bool
		want  float64
	}{
		{"unknown cell", 0, false, 1.0},
		{"unmet demand", math.Inf(1), true, 0.1},
		{"zero ratio", 0, true, 1.0},
		{"balanced", 1.0, true, 1 / (1.0 + ratioEpsilon)},
		{"oversupplied", 0.25, true, 1 / (0.25 + ratioEpsilon)},
	}
	for _, tc := range cases {
		if got := demandCost(tc.ratio, tc.known); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("%s: demandCost = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHybridRatio(t *testing.T) {
	if got := hybridRatio(demand.Hexagon{}); got != 1.0 {
		t.Errorf("idle cell ratio = %v, want 1.0", got)
	}
	if got := hybridRatio(demand.Hexagon{OrdersCount: 2, Ratio: math.Inf(1)}); !math.IsInf(got, 1) {
		t.Errorf("unmet cell ratio = %v, want +Inf", got)
	}
	if got := hybridRatio(demand.Hexagon{OrdersCount: 2, TaxisCount: 4, Ratio: 0.5}); got != 0.5 {
		t.Errorf("served cell ratio = %v, want 0.5", got)
	}
}
