// Package state owns the canonical in-memory simulation state: taxis,
// orders, and the assignments linking them. Every mutation goes through a
// Store operation, so the lifecycle invariants hold after each call.
package state

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/teamrichards/dispatchd/internal/geo"
	"github.com/teamrichards/dispatchd/internal/model"
)

// Snapshot is a consistent copy of the three entity collections taken at a
// single instant. Taxis sort by id, orders by creation order, assignments by
// order id.
type Snapshot struct {
	Taxis       []model.Taxi
	Orders      []model.Order
	Assignments []model.Assignment
}

// Counts summarizes entity populations for metrics and the system endpoint.
type Counts struct {
	FreeTaxis       int
	BusyTaxis       int
	PendingOrders   int
	AssignedOrders  int
	CompletedOrders int
	Assignments     int
}

// Store is the single owner of all mutable entities. Multi-entity
// transitions run atomically under one write lock.
type Store struct {
	mu          sync.RWMutex
	taxis       map[string]*model.Taxi
	orders      map[string]*model.Order
	assignments map[string]*model.Assignment // keyed by order id
	taxiOrder   map[string]string            // taxi id -> order id

	orderSeq     int64
	maxPending   int
	maxCompleted int
}

// New returns an empty store with the given admission and retention caps.
func New(maxPending, maxCompleted int) *Store {
	return &Store{
		taxis:        make(map[string]*model.Taxi),
		orders:       make(map[string]*model.Order),
		assignments:  make(map[string]*model.Assignment),
		taxiOrder:    make(map[string]string),
		maxPending:   maxPending,
		maxCompleted: maxCompleted,
	}
}

// AddTaxi registers one fleet vehicle. The fleet is seeded once at startup
// and never shrinks.
func (s *Store) AddTaxi(t model.Taxi) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		return fmt.Errorf("taxi id is empty: %w", ErrConflict)
	}
	if _, ok := s.taxis[t.ID]; ok {
		return fmt.Errorf("taxi %s already exists: %w", t.ID, ErrConflict)
	}
	if t.Status == "" {
		t.Status = model.TaxiFree
	}
	s.taxis[t.ID] = &t
	return nil
}

// AddOrder admits a new pending order. It allocates the monotonic id,
// rejects admission once the pending cap is reached, and prunes completed
// orders beyond the retention bound.
func (s *Store) AddOrder(pickup, dropoff geo.Point) (model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.countOrdersLocked(model.OrderPending) >= s.maxPending {
		return model.Order{}, ErrPendingCapReached
	}
	s.orderSeq++
	o := &model.Order{
		ID:      fmt.Sprintf("order_%d", s.orderSeq),
		Seq:     s.orderSeq,
		Pickup:  pickup,
		Dropoff: dropoff,
		Status:  model.OrderPending,
	}
	s.orders[o.ID] = o
	s.pruneCompletedLocked()
	return *o, nil
}

// CommitPair transitions taxi FREE -> BUSY and order PENDING -> ASSIGNED as
// one atomic step. It fails without side effects when either precondition no
// longer holds, e.g. when an idle cleanup ran since the matcher snapshot.
func (s *Store) CommitPair(taxiID, orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.taxis[taxiID]
	if !ok {
		return fmt.Errorf("taxi %s: %w", taxiID, ErrNotFound)
	}
	o, ok := s.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if t.Status != model.TaxiFree {
		return fmt.Errorf("taxi %s is %s, want free: %w", taxiID, t.Status, ErrConflict)
	}
	if o.Status != model.OrderPending {
		return fmt.Errorf("order %s is %s, want pending: %w", orderID, o.Status, ErrConflict)
	}
	t.Status = model.TaxiBusy
	o.Status = model.OrderAssigned
	return nil
}

// AttachAssignment records the assignment for a previously committed pair.
func (s *Store) AttachAssignment(a model.Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.taxis[a.TaxiID]
	if !ok {
		return fmt.Errorf("taxi %s: %w", a.TaxiID, ErrNotFound)
	}
	o, ok := s.orders[a.OrderID]
	if !ok {
		return fmt.Errorf("order %s: %w", a.OrderID, ErrNotFound)
	}
	if t.Status != model.TaxiBusy {
		return fmt.Errorf("taxi %s is %s, want busy: %w", a.TaxiID, t.Status, ErrConflict)
	}
	if o.Status != model.OrderAssigned {
		return fmt.Errorf("order %s is %s, want assigned: %w", a.OrderID, o.Status, ErrConflict)
	}
	if _, ok := s.assignments[a.OrderID]; ok {
		return fmt.Errorf("order %s already has an assignment: %w", a.OrderID, ErrConflict)
	}
	if other, ok := s.taxiOrder[a.TaxiID]; ok {
		return fmt.Errorf("taxi %s is already assigned to order %s: %w", a.TaxiID, other, ErrConflict)
	}
	cp := a
	s.assignments[a.OrderID] = &cp
	s.taxiOrder[a.TaxiID] = a.OrderID
	return nil
}

// ReleasePair undoes CommitPair when no assignment was attached: the taxi
// returns to free and the order to pending.
func (s *Store) ReleasePair(taxiID, orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.assignments[orderID]; ok {
		return
	}
	if t, ok := s.taxis[taxiID]; ok && t.Status == model.TaxiBusy {
		if _, assigned := s.taxiOrder[taxiID]; !assigned {
			t.Status = model.TaxiFree
		}
	}
	if o, ok := s.orders[orderID]; ok && o.Status == model.OrderAssigned {
		o.Status = model.OrderPending
	}
}

// CompleteAssignment finishes the ride for orderID: the taxi snaps to the
// final point of the dropoff route and frees up, the order completes, and
// the assignment record is removed. Unknown or already-completed ids are a
// no-op, so the call is idempotent.
func (s *Store) CompleteAssignment(orderID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.assignments[orderID]
	if !ok {
		return false
	}
	if t, ok := s.taxis[a.TaxiID]; ok {
		if end, ok := a.ToDropoff.End(); ok {
			t.Location = end
		}
		t.Status = model.TaxiFree
	}
	if o, ok := s.orders[orderID]; ok {
		o.Status = model.OrderCompleted
	}
	delete(s.assignments, orderID)
	delete(s.taxiOrder, a.TaxiID)
	s.pruneCompletedLocked()
	return true
}

// CleanupIdle resets the simulation when the last subscriber leaves: pending
// and assigned orders are dropped, assignments cleared, and every taxi
// returns to free at its current location. Completed orders are retained.
func (s *Store) CleanupIdle() (removedOrders, clearedAssignments int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clearedAssignments = len(s.assignments)
	s.assignments = make(map[string]*model.Assignment)
	s.taxiOrder = make(map[string]string)
	for id, o := range s.orders {
		if o.Status == model.OrderPending || o.Status == model.OrderAssigned {
			delete(s.orders, id)
			removedOrders++
		}
	}
	for _, t := range s.taxis {
		t.Status = model.TaxiFree
	}
	return removedOrders, clearedAssignments
}

// Snapshot returns a deep copy of the current state, internally consistent
// and deterministically ordered.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Taxis:       make([]model.Taxi, 0, len(s.taxis)),
		Orders:      make([]model.Order, 0, len(s.orders)),
		Assignments: make([]model.Assignment, 0, len(s.assignments)),
	}
	for _, t := range s.taxis {
		snap.Taxis = append(snap.Taxis, *t)
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, *o)
	}
	for _, a := range s.assignments {
		cp := *a
		cp.ToPickup.Path = slices.Clone(a.ToPickup.Path)
		cp.ToDropoff.Path = slices.Clone(a.ToDropoff.Path)
		snap.Assignments = append(snap.Assignments, cp)
	}
	sort.Slice(snap.Taxis, func(i, j int) bool { return snap.Taxis[i].ID < snap.Taxis[j].ID })
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].Seq < snap.Orders[j].Seq })
	sort.Slice(snap.Assignments, func(i, j int) bool {
		return snap.Assignments[i].OrderID < snap.Assignments[j].OrderID
	})
	return snap
}

// Counts reports aggregate entity counts.
func (s *Store) Counts() Counts {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c Counts
	for _, t := range s.taxis {
		if t.Status == model.TaxiBusy {
			c.BusyTaxis++
		} else {
			c.FreeTaxis++
		}
	}
	for _, o := range s.orders {
		switch o.Status {
		case model.OrderPending:
			c.PendingOrders++
		case model.OrderAssigned:
			c.AssignedOrders++
		case model.OrderCompleted:
			c.CompletedOrders++
		}
	}
	c.Assignments = len(s.assignments)
	return c
}

func (s *Store) countOrdersLocked(status model.OrderStatus) int {
	n := 0
	for _, o := range s.orders {
		if o.Status == status {
			n++
		}
	}
	return n
}

// pruneCompletedLocked evicts the oldest completed orders until the
// retention bound holds.
func (s *Store) pruneCompletedLocked() {
	var completed []*model.Order
	for _, o := range s.orders {
		if o.Status == model.OrderCompleted {
			completed = append(completed, o)
		}
	}
	if len(completed) <= s.maxCompleted {
		return
	}
	sort.Slice(completed, func(i, j int) bool { return completed[i].Seq < completed[j].Seq })
	for _, o := range completed[:len(completed)-s.maxCompleted] {
		delete(s.orders, o.ID)
	}
}
