package metrics

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/teamrichards/dispatchd/internal/state"
)

// FleetStatsProvider supplies fleet counts for sampling and full snapshots
// for the scheduled invariant audit.
type FleetStatsProvider interface {
	Counts() state.Counts
	Snapshot() state.Snapshot
}

// SubscriberCountProvider supplies the current websocket subscriber count.
type SubscriberCountProvider interface {
	SubscriberCount() int
}

// ManagerConfig configures the metrics Manager.
type ManagerConfig struct {
	Fleet              FleetStatsProvider
	RingCapacity       int
	SampleInterval     time.Duration
	SummarySchedule    string // cron expression, default "*/5 * * * *"
	MaxPendingOrders   int
	MaxCompletedOrders int
}

// Manager owns the counters and the realtime ring. A background ticker
// drives sampling independent of subscribers; a cron entry logs a periodic
// summary and audits store invariants.
type Manager struct {
	counters *Counters
	ring     *Ring

	fleet       FleetStatsProvider
	subscribers SubscriberCountProvider

	sampleInterval time.Duration
	maxPending     int
	maxCompleted   int

	cron        *cron.Cron
	cronEntryID cron.EntryID

	// Counter values at the previous summary, used for per-window deltas.
	// Touched only from the cron goroutine.
	prevSummary CountersSnapshot

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager. The subscriber source is attached later via
// SetSubscriberSource because the hub is constructed after the manager.
func NewManager(cfg ManagerConfig) *Manager {
	interval := cfg.SampleInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	schedule := cfg.SummarySchedule
	if schedule == "" {
		schedule = "*/5 * * * *"
	}
	c := cron.New()
	m := &Manager{
		counters:       &Counters{},
		ring:           NewRing(cfg.RingCapacity),
		fleet:          cfg.Fleet,
		sampleInterval: interval,
		maxPending:     cfg.MaxPendingOrders,
		maxCompleted:   cfg.MaxCompletedOrders,
		cron:           c,
		stopCh:         make(chan struct{}),
	}

	entryID, err := c.AddFunc(schedule, m.logSummary)
	if err != nil {
		log.Printf("[metrics] invalid cron expression %q: %v", schedule, err)
	} else {
		m.cronEntryID = entryID
	}
	return m
}

// SetSubscriberSource attaches the subscriber counter. Must be called
// before Start.
func (m *Manager) SetSubscriberSource(p SubscriberCountProvider) {
	m.subscribers = p
}

// Start launches the sampling loop and the summary schedule.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sampleLoop()
	m.cron.Start()
	if entry := m.cron.Entry(m.cronEntryID); entry.ID != 0 && entry.Schedule != nil {
		log.Printf("[metrics] next summary at %s", entry.Schedule.Next(time.Now()).Format(time.RFC3339))
	}
}

// Stop halts the schedule and the sampling loop, then takes one final
// sample so the shutdown state is visible in the ring.
func (m *Manager) Stop() {
	m.cron.Stop()
	close(m.stopCh)
	m.wg.Wait()
	m.takeSample(time.Now())
}

// Counters exposes the cumulative counters.
func (m *Manager) Counters() *Counters { return m.counters }

// Ring returns the realtime ring buffer.
func (m *Manager) Ring() *Ring { return m.ring }

// SampleIntervalSeconds returns the sampling interval in seconds.
func (m *Manager) SampleIntervalSeconds() int { return int(m.sampleInterval.Seconds()) }

// --- Recording methods (hot path, called by generator/matcher/hub) ---

// OrderGenerated records one accepted synthetic order.
func (m *Manager) OrderGenerated() { m.counters.OrderGenerated() }

// OrderRejected records one order skipped at the pending cap.
func (m *Manager) OrderRejected() { m.counters.OrderRejected() }

// AssignmentsCommitted records n assignments committed by a matching pass.
func (m *Manager) AssignmentsCommitted(n int) { m.counters.AssignmentsCommitted(n) }

// AssignmentCompleted records one client-completed assignment.
func (m *Manager) AssignmentCompleted() { m.counters.AssignmentCompleted() }

// CleanupRun records one idle cleanup.
func (m *Manager) CleanupRun() { m.counters.CleanupRun() }

// --- Background loops ---

func (m *Manager) sampleLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case ts := <-ticker.C:
			m.takeSample(ts)
		case <-m.stopCh:
			return
		}
	}
}

func (m *Manager) takeSample(ts time.Time) {
	counts := m.fleet.Counts()
	snap := m.counters.Snapshot()
	subs := 0
	if m.subscribers != nil {
		subs = m.subscribers.SubscriberCount()
	}

	m.ring.Push(Sample{
		Timestamp:            ts,
		FreeTaxis:            counts.FreeTaxis,
		BusyTaxis:            counts.BusyTaxis,
		PendingOrders:        counts.PendingOrders,
		AssignedOrders:       counts.AssignedOrders,
		CompletedOrders:      counts.CompletedOrders,
		ActiveAssignments:    counts.Assignments,
		Subscribers:          subs,
		OrdersGenerated:      snap.OrdersGenerated,
		OrdersRejected:       snap.OrdersRejected,
		AssignmentsCommitted: snap.AssignmentsCommitted,
		AssignmentsCompleted: snap.AssignmentsCompleted,
	})
}

// logSummary prints one line of cumulative and per-window totals, then
// audits the store against its invariants.
func (m *Manager) logSummary() {
	snap := m.counters.Snapshot()
	prev := m.prevSummary
	m.prevSummary = snap
	counts := m.fleet.Counts()

	log.Printf("[metrics] summary: taxis %d free / %d busy, orders %d pending / %d assigned / %d completed, window +%d orders, +%d rejected, +%d committed, +%d completed",
		counts.FreeTaxis, counts.BusyTaxis,
		counts.PendingOrders, counts.AssignedOrders, counts.CompletedOrders,
		nonNegativeDelta(snap.OrdersGenerated, prev.OrdersGenerated),
		nonNegativeDelta(snap.OrdersRejected, prev.OrdersRejected),
		nonNegativeDelta(snap.AssignmentsCommitted, prev.AssignmentsCommitted),
		nonNegativeDelta(snap.AssignmentsCompleted, prev.AssignmentsCompleted),
	)

	if err := state.CheckConsistency(m.fleet.Snapshot(), m.maxPending, m.maxCompleted); err != nil {
		log.Printf("[metrics] state audit failed: %v", err)
	}
}

func nonNegativeDelta(current, previous int64) int64 {
	delta := current - previous
	if delta < 0 {
		return 0
	}
	return delta
}
