// Package hub owns the websocket subscriber fabric: session registry,
// snapshot broadcasts, and inbound control messages.
package hub

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/teamrichards/dispatchd/internal/config"
	"github.com/teamrichards/dispatchd/internal/demand"
	"github.com/teamrichards/dispatchd/internal/dispatch"
	"github.com/teamrichards/dispatchd/internal/state"
)

const (
	// Time allowed to write a message to a subscriber.
	writeWait = 10 * time.Second
	// Maximum message size allowed from a subscriber.
	maxMessageSize = 4096
	// Time allowed to read the next pong message from a subscriber.
	pongWait = 60 * time.Second
	// Send pings with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// The map frontend is served from its own origin during development.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Recorder receives countable hub events. Nil disables recording.
type Recorder interface {
	AssignmentCompleted()
	CleanupRun()
}

// Options wires the hub's collaborators. Store, Demand, and RuntimeCfg are
// required.
type Options struct {
	Store      *state.Store
	Demand     *demand.Aggregator
	RuntimeCfg *atomic.Pointer[config.RuntimeConfig]
	Recorder   Recorder
}

// session is one connected subscriber. The mutex serializes all writes to
// the connection (broadcasts, pings, welcome, close frames).
type session struct {
	id   uint64
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
}

func (s *session) send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// Hub is the subscriber registry and broadcast fan-out. A send failure
// removes the subscriber; when the registry empties, the store's idle
// cleanup runs.
type Hub struct {
	store      *state.Store
	demand     *demand.Aggregator
	runtimeCfg *atomic.Pointer[config.RuntimeConfig]
	recorder   Recorder

	sessions *xsync.Map[uint64, *session]
	nextID   atomic.Uint64
}

// NewHub creates a hub with an empty registry.
func NewHub(opts Options) *Hub {
	return &Hub{
		store:      opts.Store,
		demand:     opts.Demand,
		runtimeCfg: opts.RuntimeCfg,
		recorder:   opts.Recorder,
		sessions:   xsync.NewMap[uint64, *session](),
	}
}

// SubscriberCount reports the number of connected subscribers.
func (h *Hub) SubscriberCount() int {
	return h.sessions.Size()
}

// ServeWS upgrades the request and runs the subscriber session. It blocks
// until the subscriber disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[hub] upgrade: %v", err)
		return
	}
	s := &session{
		id:   h.nextID.Add(1),
		conn: conn,
		done: make(chan struct{}),
	}
	h.sessions.Store(s.id, s)
	log.Printf("[hub] subscriber %d connected (%d active)", s.id, h.sessions.Size())

	if err := h.sendWelcome(s); err != nil {
		log.Printf("[hub] subscriber %d welcome failed: %v", s.id, err)
		h.removeSession(s)
		return
	}
	go h.pingLoop(s)
	h.readLoop(s)
}

// sendWelcome pushes the current state and demand pictures to a newly
// connected subscriber so the map renders before the first periodic tick.
func (h *Hub) sendWelcome(s *session) error {
	snap := h.store.Snapshot()
	h.demand.Recount(snap)
	for _, msg := range []any{NewStateUpdate(snap), NewDemandUpdate(h.demand)} {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := s.send(data); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastState sends the current full snapshot to every subscriber.
func (h *Hub) BroadcastState() {
	h.broadcast(NewStateUpdate(h.store.Snapshot()))
}

// BroadcastDemand recounts the demand table from the current snapshot and
// sends it to every subscriber.
func (h *Hub) BroadcastDemand() {
	h.demand.Recount(h.store.Snapshot())
	h.broadcast(NewDemandUpdate(h.demand))
}

// broadcast marshals once and fans out. Subscribers that fail the write are
// removed.
func (h *Hub) broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[hub] marshal broadcast: %v", err)
		return
	}
	h.sessions.Range(func(id uint64, s *session) bool {
		if err := s.send(data); err != nil {
			log.Printf("[hub] dropping subscriber %d: %v", id, err)
			h.removeSession(s)
		}
		return true
	})
}

// readLoop consumes subscriber messages until the connection drops.
func (h *Hub) readLoop(s *session) {
	defer h.removeSession(s)

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[hub] subscriber %d read: %v", s.id, err)
			}
			return
		}
		h.handleInbound(s, data)
	}
}

func (h *Hub) handleInbound(s *session, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("[hub] subscriber %d sent malformed message: %v", s.id, err)
		return
	}
	switch msg.Type {
	case typeCompleteAssignment:
		if !h.store.CompleteAssignment(msg.OrderID) {
			log.Printf("[hub] complete_assignment for order %q ignored: no active assignment", msg.OrderID)
			return
		}
		if h.recorder != nil {
			h.recorder.AssignmentCompleted()
		}
		h.BroadcastState()
	case typeAlgorithmConfig:
		mode := dispatch.ModeFromFlags(msg.Proximity, msg.SupplyDemand)
		cur := h.runtimeCfg.Load()
		next := *cur
		next.MatchingMode = mode
		h.runtimeCfg.Store(&next)
		log.Printf("[hub] matching mode set to %s by subscriber %d", mode, s.id)
	default:
		log.Printf("[hub] subscriber %d sent unknown message type %q", s.id, msg.Type)
	}
}

// pingLoop keeps the connection alive until the session ends.
func (h *Hub) pingLoop(s *session) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.mu.Unlock()
			if err != nil {
				h.removeSession(s)
				return
			}
		}
	}
}

// detach removes s from the registry. Concurrent callers race on the
// delete; only the winner gets true and proceeds with teardown.
func (h *Hub) detach(s *session) bool {
	removed := false
	h.sessions.Compute(s.id, func(old *session, loaded bool) (*session, xsync.ComputeOp) {
		if !loaded {
			return old, xsync.CancelOp
		}
		removed = true
		return nil, xsync.DeleteOp
	})
	if removed {
		close(s.done)
	}
	return removed
}

func (h *Hub) removeSession(s *session) {
	if !h.detach(s) {
		return
	}
	_ = s.conn.Close()
	remaining := h.sessions.Size()
	log.Printf("[hub] subscriber %d disconnected (%d active)", s.id, remaining)
	if remaining == 0 {
		orders, assignments := h.store.CleanupIdle()
		if h.recorder != nil {
			h.recorder.CleanupRun()
		}
		log.Printf("[hub] last subscriber left: removed %d orders, cleared %d assignments", orders, assignments)
	}
}

// Close tears down every subscriber connection with a normal-closure frame.
// The idle cleanup hook does not run; Close is for process shutdown.
func (h *Hub) Close() {
	h.sessions.Range(func(_ uint64, s *session) bool {
		if h.detach(s) {
			s.mu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			s.mu.Unlock()
			_ = s.conn.Close()
		}
		return true
	})
}
