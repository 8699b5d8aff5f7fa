package metrics

import "sync/atomic"

// Counters holds cumulative hot-path counters for the simulation. All
// fields are updated atomically, so the recording methods are safe to call
// from any background loop or handler.
type Counters struct {
	ordersGenerated      atomic.Int64
	ordersRejected       atomic.Int64
	assignmentsCommitted atomic.Int64
	assignmentsCompleted atomic.Int64
	cleanupRuns          atomic.Int64
}

// CountersSnapshot is a point-in-time copy of the counters for reading.
type CountersSnapshot struct {
	OrdersGenerated      int64 `json:"orders_generated"`
	OrdersRejected       int64 `json:"orders_rejected"`
	AssignmentsCommitted int64 `json:"assignments_committed"`
	AssignmentsCompleted int64 `json:"assignments_completed"`
	CleanupRuns          int64 `json:"cleanup_runs"`
}

// OrderGenerated records one accepted synthetic order.
func (c *Counters) OrderGenerated() { c.ordersGenerated.Add(1) }

// OrderRejected records one order skipped because the pending cap was full.
func (c *Counters) OrderRejected() { c.ordersRejected.Add(1) }

// AssignmentsCommitted records n assignments committed by a matching pass.
func (c *Counters) AssignmentsCommitted(n int) { c.assignmentsCommitted.Add(int64(n)) }

// AssignmentCompleted records one client-completed assignment.
func (c *Counters) AssignmentCompleted() { c.assignmentsCompleted.Add(1) }

// CleanupRun records one idle cleanup triggered by the last subscriber
// leaving.
func (c *Counters) CleanupRun() { c.cleanupRuns.Add(1) }

// Snapshot returns a consistent-enough copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		OrdersGenerated:      c.ordersGenerated.Load(),
		OrdersRejected:       c.ordersRejected.Load(),
		AssignmentsCommitted: c.assignmentsCommitted.Load(),
		AssignmentsCompleted: c.assignmentsCompleted.Load(),
		CleanupRuns:          c.cleanupRuns.Load(),
	}
}
