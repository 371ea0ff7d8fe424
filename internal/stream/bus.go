// Package stream provides the per-cycle event bus and the live broadcast
// hub that observers consume.
package stream

import (
	"sync"
	"time"

	"supply_agent/internal/core"
)

// cycleQueue is a bounded FIFO with drop-oldest semantics. Events carry
// absolute sequence numbers so readers can resume from a cursor even
// after old events are evicted.
type cycleQueue struct {
	mu       sync.Mutex
	events   []core.AgentEvent
	base     uint64 // sequence number of events[0]
	capacity int
	terminal bool
	armed    bool // cleanup timer already scheduled
}

func (q *cycleQueue) push(ev core.AgentEvent) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.events) >= q.capacity {
		drop := len(q.events) - q.capacity + 1
		q.events = q.events[drop:]
		q.base += uint64(drop)
	}
	q.events = append(q.events, ev)
	if ev.Type == core.EventStatus {
		if st, ok := ev.Details["status"].(string); ok {
			if st == string(core.JobCompleted) || st == string(core.JobFailed) {
				q.terminal = true
			}
		}
	}
}

// read returns events at or after cursor and the next cursor value
func (q *cycleQueue) read(cursor uint64) ([]core.AgentEvent, uint64, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	next := q.base + uint64(len(q.events))
	if cursor < q.base {
		cursor = q.base
	}
	if cursor >= next {
		return nil, next, q.terminal
	}
	out := make([]core.AgentEvent, next-cursor)
	copy(out, q.events[cursor-q.base:])
	return out, next, q.terminal
}

// Bus is a process-wide registry of per-cycle event queues. It
// implements core.EventSink; stages write through it, SSE consumers and
// the websocket hub read from it.
type Bus struct {
	mu       sync.RWMutex
	queues   map[string]*cycleQueue
	capacity int
	grace    time.Duration
	logger   core.ILogger

	// optional fan-out to the live hub
	hub *Hub
}

// NewBus creates a bus with the given per-cycle capacity and the grace
// period queues survive after their terminal event.
func NewBus(capacity int, grace time.Duration, logger core.ILogger) *Bus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Bus{
		queues:   make(map[string]*cycleQueue),
		capacity: capacity,
		grace:    grace,
		logger:   logger.WithField("component", "event_bus"),
	}
}

// AttachHub mirrors every emitted event to the live broadcast hub
func (b *Bus) AttachHub(h *Hub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hub = h
}

// Register creates the queue for a cycle. Safe to call more than once.
func (b *Bus) Register(cycleID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[cycleID]; !ok {
		b.queues[cycleID] = &cycleQueue{capacity: b.capacity}
	}
}

// Emit publishes an event to the cycle's queue. Events for unregistered
// cycles create the queue lazily so stages never block on setup order.
func (b *Bus) Emit(cycleID string, ev core.AgentEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	q := b.queues[cycleID]
	hub := b.hub
	b.mu.RUnlock()

	if q == nil {
		b.Register(cycleID)
		b.mu.RLock()
		q = b.queues[cycleID]
		b.mu.RUnlock()
	}

	q.push(ev)

	if hub != nil {
		hub.Broadcast(cycleID, ev)
	}

	q.mu.Lock()
	arm := q.terminal && !q.armed
	if arm {
		q.armed = true
	}
	q.mu.Unlock()
	if arm {
		b.scheduleCleanup(cycleID)
	}
}

// Read returns buffered events at or after cursor, the next cursor, and
// whether the cycle has emitted its terminal status.
func (b *Bus) Read(cycleID string, cursor uint64) ([]core.AgentEvent, uint64, bool) {
	b.mu.RLock()
	q := b.queues[cycleID]
	b.mu.RUnlock()
	if q == nil {
		return nil, cursor, false
	}
	return q.read(cursor)
}

// Has reports whether a queue exists for the cycle
func (b *Bus) Has(cycleID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.queues[cycleID]
	return ok
}

func (b *Bus) scheduleCleanup(cycleID string) {
	time.AfterFunc(b.grace, func() {
		b.mu.Lock()
		delete(b.queues, cycleID)
		b.mu.Unlock()
		b.logger.Debug("Cycle queue released", "cycle_id", cycleID)
	})
}
