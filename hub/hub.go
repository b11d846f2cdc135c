// Package hub fans out typed game events to overlay subscribers. It is
// grounded on the teacher's ws/unified.go register/unregister/broadcast
// pattern: every broadcast is wrapped in one Event envelope tagged with
// a Kind discriminant, so subscribers can switch on the kind after a
// single decode. The Data payload is an interface{}; its type per kind
// is set by the publisher and not enforced by this package, and some
// kinds (timer_update, fight_ended, connection_status, admin:error)
// carry plain maps rather than structs.
package hub

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/google/uuid"
)

// Kind discriminates the event variants named in spec §4.E.
type Kind string

const (
	KindState             Kind = "state"
	KindUpdate            Kind = "update"
	KindPhaseChange       Kind = "phase_change"
	KindBettingUpdate     Kind = "betting_update"
	KindTimerUpdate       Kind = "timer_update"
	KindFightEnded        Kind = "fight_ended"
	KindPayoutsProcessed  Kind = "payouts_processed"
	KindConnectionStatus  Kind = "connection_status"
	KindGameReset         Kind = "game_reset"
	KindAdminError        Kind = "admin:error"
)

// droppable marks the event kinds the hub is allowed to coalesce or
// drop under backpressure. phase_change, fight_ended, game_reset, and
// admin:error must never be dropped.
var droppable = map[Kind]bool{
	KindUpdate:      true,
	KindTimerUpdate: true,
}

// Event is the envelope every subscriber receives.
type Event struct {
	Kind Kind        `json:"kind"`
	Data interface{} `json:"data"`
}

// MarshalForWire renders the event as the JSON payload sent over the
// wire to a subscriber's transport.
func (e Event) MarshalForWire() ([]byte, error) {
	return json.Marshal(e)
}

// SnapshotFunc produces the full-state event sent to a subscriber the
// moment it joins. It must read the orchestrator's published state
// without blocking the orchestrator's writer path — callers pass an
// accessor over an atomically-published immutable copy.
type SnapshotFunc func() Event

// Subscriber is one overlay client's outbound queue.
type Subscriber struct {
	ID   string
	send chan Event
	hub  *Hub
}

const subscriberQueueSize = 64

// Hub accepts overlay subscribers, sends them an initial snapshot, and
// fans out subsequent diffs. Delivery is best-effort, per-subscriber,
// in order; a slow subscriber never blocks the dispatch goroutine,
// because delivery into a subscriber's queue never waits. Publish is a
// send on the hub's buffered channel and waits only while that buffer
// is full.
type Hub struct {
	snapshot SnapshotFunc

	mu          sync.RWMutex
	subscribers map[string]*Subscriber

	publish chan Event
	direct  chan directEvent
	join    chan *Subscriber
	leave   chan *Subscriber
	done    chan struct{}
}

type directEvent struct {
	subscriberID string
	event        Event
}

// New constructs a Hub and starts its dispatch goroutine.
func New(snapshot SnapshotFunc) *Hub {
	h := &Hub{
		snapshot:    snapshot,
		subscribers: make(map[string]*Subscriber),
		publish:     make(chan Event, 256),
		direct:      make(chan directEvent, 64),
		join:        make(chan *Subscriber),
		leave:       make(chan *Subscriber),
		done:        make(chan struct{}),
	}
	go h.run()
	return h
}

// Close stops the hub's dispatch goroutine.
func (h *Hub) Close() { close(h.done) }

// Join registers a new subscriber and delivers it the current
// snapshot as its first message.
func (h *Hub) Join() *Subscriber {
	sub := &Subscriber{
		ID:   uuid.NewString(),
		send: make(chan Event, subscriberQueueSize),
		hub:  h,
	}

	select {
	case h.join <- sub:
	case <-h.done:
	}
	return sub
}

// Leave unregisters a subscriber.
func (h *Hub) Leave(sub *Subscriber) {
	select {
	case h.leave <- sub:
	case <-h.done:
	}
}

// Recv returns the subscriber's event channel for the transport layer
// to drain.
func (s *Subscriber) Recv() <-chan Event { return s.send }

// Publish broadcasts an event to every current subscriber. It queues
// the event on the hub's buffered publish channel, waiting only while
// that buffer is full (or returning once the hub is closed). On a full
// subscriber queue, droppable kinds are dropped; for other kinds the
// oldest queued event is discarded to make room (see deliver).
func (h *Hub) Publish(evt Event) {
	select {
	case h.publish <- evt:
	case <-h.done:
	}
}

// SendTo delivers an event to exactly one subscriber (used for
// admin:error replies, which must reach only the originating client).
func (h *Hub) SendTo(subscriberID string, evt Event) {
	select {
	case h.direct <- directEvent{subscriberID: subscriberID, event: evt}:
	case <-h.done:
	}
}

func (h *Hub) run() {
	for {
		select {
		case <-h.done:
			return

		case sub := <-h.join:
			h.mu.Lock()
			h.subscribers[sub.ID] = sub
			h.mu.Unlock()
			h.deliver(sub, h.snapshot())
			log.Printf("📡 hub: subscriber joined (%s), total=%d", sub.ID, h.count())

		case sub := <-h.leave:
			h.mu.Lock()
			delete(h.subscribers, sub.ID)
			h.mu.Unlock()
			close(sub.send)
			log.Printf("👋 hub: subscriber left (%s), total=%d", sub.ID, h.count())

		case evt := <-h.publish:
			h.mu.RLock()
			for _, sub := range h.subscribers {
				h.deliver(sub, evt)
			}
			h.mu.RUnlock()

		case d := <-h.direct:
			h.mu.RLock()
			if sub, ok := h.subscribers[d.subscriberID]; ok {
				h.deliver(sub, d.event)
			}
			h.mu.RUnlock()
		}
	}
}

func (h *Hub) deliver(sub *Subscriber, evt Event) {
	select {
	case sub.send <- evt:
	default:
		if droppable[evt.Kind] {
			log.Printf("⚠️  hub: dropping %s for slow subscriber %s", evt.Kind, sub.ID)
			return
		}
		// Non-droppable event and a full queue: make room by discarding
		// the oldest queued message rather than blocking the dispatch
		// goroutine or losing this event.
		select {
		case <-sub.send:
		default:
		}
		select {
		case sub.send <- evt:
		default:
			log.Printf("❌ hub: could not deliver non-droppable %s to %s", evt.Kind, sub.ID)
		}
	}
}

func (h *Hub) count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
