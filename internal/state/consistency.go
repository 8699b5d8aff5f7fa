package state

import (
	"fmt"
	"strings"

	"github.com/teamrichards/dispatchd/internal/model"
)

// CheckConsistency validates the lifecycle invariants on a snapshot and
// returns an error listing every violation found. It checks, in order:
//
//  1. assignments reference an existing busy taxi and an existing assigned
//     order, with at most one assignment per taxi and per order;
//  2. every busy taxi has exactly one assignment and no free taxi has any;
//  3. every assigned order has exactly one assignment and no pending or
//     completed order has any;
//  4. the pending and completed populations respect their caps.
func CheckConsistency(snap Snapshot, maxPending, maxCompleted int) error {
	var violations []string

	taxis := make(map[string]model.TaxiStatus, len(snap.Taxis))
	for _, t := range snap.Taxis {
		taxis[t.ID] = t.Status
	}
	orders := make(map[string]model.OrderStatus, len(snap.Orders))
	for _, o := range snap.Orders {
		orders[o.ID] = o.Status
	}

	perTaxi := make(map[string]int)
	perOrder := make(map[string]int)
	for _, a := range snap.Assignments {
		perTaxi[a.TaxiID]++
		perOrder[a.OrderID]++
		if status, ok := taxis[a.TaxiID]; !ok {
			violations = append(violations, fmt.Sprintf("assignment for order %s references unknown taxi %s", a.OrderID, a.TaxiID))
		} else if status != model.TaxiBusy {
			violations = append(violations, fmt.Sprintf("assignment for order %s references %s taxi %s", a.OrderID, status, a.TaxiID))
		}
		if status, ok := orders[a.OrderID]; !ok {
			violations = append(violations, fmt.Sprintf("assignment references unknown order %s", a.OrderID))
		} else if status != model.OrderAssigned {
			violations = append(violations, fmt.Sprintf("assignment references %s order %s", status, a.OrderID))
		}
	}
	for taxiID, n := range perTaxi {
		if n > 1 {
			violations = append(violations, fmt.Sprintf("taxi %s has %d assignments", taxiID, n))
		}
	}
	for orderID, n := range perOrder {
		if n > 1 {
			violations = append(violations, fmt.Sprintf("order %s has %d assignments", orderID, n))
		}
	}

	for _, t := range snap.Taxis {
		n := perTaxi[t.ID]
		if t.Status == model.TaxiBusy && n != 1 {
			violations = append(violations, fmt.Sprintf("busy taxi %s has %d assignments, want 1", t.ID, n))
		}
		if t.Status == model.TaxiFree && n != 0 {
			violations = append(violations, fmt.Sprintf("free taxi %s has %d assignments, want 0", t.ID, n))
		}
	}

	pending, completed := 0, 0
	for _, o := range snap.Orders {
		n := perOrder[o.ID]
		switch o.Status {
		case model.OrderPending:
			pending++
			if n != 0 {
				violations = append(violations, fmt.Sprintf("pending order %s has %d assignments, want 0", o.ID, n))
			}
		case model.OrderAssigned:
			if n != 1 {
				violations = append(violations, fmt.Sprintf("assigned order %s has %d assignments, want 1", o.ID, n))
			}
		case model.OrderCompleted:
			completed++
			if n != 0 {
				violations = append(violations, fmt.Sprintf("completed order %s has %d assignments, want 0", o.ID, n))
			}
		}
	}
	if pending > maxPending {
		violations = append(violations, fmt.Sprintf("%d pending orders exceed cap %d", pending, maxPending))
	}
	if completed > maxCompleted {
		violations = append(violations, fmt.Sprintf("%d completed orders exceed cap %d", completed, maxCompleted))
	}

	if len(violations) > 0 {
		return fmt.Errorf("state inconsistent:\n  %s", strings.Join(violations, "\n  "))
	}
	return nil
}
