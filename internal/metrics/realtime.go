package metrics

import (
	"sync"
	"time"
)

// Sample is a single point in the realtime ring buffer: fleet gauges taken
// from the store plus cumulative counter values at sampling time.
type Sample struct {
	Timestamp            time.Time `json:"timestamp"`
	FreeTaxis            int       `json:"free_taxis"`
	BusyTaxis            int       `json:"busy_taxis"`
	PendingOrders        int       `json:"pending_orders"`
	AssignedOrders       int       `json:"assigned_orders"`
	CompletedOrders      int       `json:"completed_orders"`
	ActiveAssignments    int       `json:"active_assignments"`
	Subscribers          int       `json:"subscribers"`
	OrdersGenerated      int64     `json:"orders_generated"`
	OrdersRejected       int64     `json:"orders_rejected"`
	AssignmentsCommitted int64     `json:"assignments_committed"`
	AssignmentsCompleted int64     `json:"assignments_completed"`
}

// Ring is a fixed-size ring buffer for realtime samples.
type Ring struct {
	mu      sync.RWMutex
	samples []Sample
	head    int
	count   int
	cap     int
}

// NewRing creates a ring buffer with the given capacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 720 // 1 hour at the 5s sampling interval
	}
	return &Ring{
		samples: make([]Sample, capacity),
		cap:     capacity,
	}
}

// Push adds a sample to the ring buffer, overwriting the oldest if full.
func (r *Ring) Push(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.head] = s
	r.head = (r.head + 1) % r.cap
	if r.count < r.cap {
		r.count++
	}
}

// Recent returns up to limit samples, newest first. A non-positive limit
// returns everything the ring holds.
func (r *Ring) Recent(limit int) []Sample {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := r.count
	if limit > 0 && limit < n {
		n = limit
	}
	result := make([]Sample, 0, n)
	for i := 0; i < n; i++ {
		idx := (r.head - 1 - i + r.cap) % r.cap
		result = append(result, r.samples[idx])
	}
	return result
}

// Latest returns the most recent sample.
func (r *Ring) Latest() (Sample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.count == 0 {
		return Sample{}, false
	}
	idx := (r.head - 1 + r.cap) % r.cap
	return r.samples[idx], true
}
