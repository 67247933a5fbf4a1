// Package realtime fans seat-state changes out to every connected
// viewer of an event. Broadcasts are side effects only: they run after
// commit and their failure never influences a booking or cancellation
// outcome.
package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/seatwave/seatwave/internal/observability"
)

const (
	MessageHoldsUpdate   = "holds:update"
	MessageHoldsResponse = "holds:response"
	MessageSeatsBooked   = "seats:booked"
	MessageSeatsFreed    = "seats:freed"
)

// Message is one server-to-client signal. Exactly one of the seat
// slices is populated, matching Type.
type Message struct {
	Type        string    `json:"type"`
	EventID     uuid.UUID `json:"event_id"`
	HeldSeats   []int     `json:"held_seats,omitempty"`
	BookedSeats []int     `json:"booked_seats,omitempty"`
	FreedSeats  []int     `json:"freed_seats,omitempty"`
	Granted     []int     `json:"granted,omitempty"`
	Conflicting []int     `json:"conflicting,omitempty"`
}

// Hub keeps one multicast group per event. Sends never block: a
// subscriber that cannot keep up misses messages instead of stalling
// the booking path.
type Hub struct {
	mu     sync.Mutex
	rooms  map[uuid.UUID]map[*Subscription]struct{}
	logger observability.Logger
}

func NewHub(logger observability.Logger) *Hub {
	return &Hub{
		rooms:  make(map[uuid.UUID]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is one viewer's membership in an event group. Read
// messages from C; the channel closes on Leave.
type Subscription struct {
	C       chan Message
	eventID uuid.UUID
}

const subscriberBuffer = 32

func (h *Hub) Join(eventID uuid.UUID) *Subscription {
	sub := &Subscription{
		C:       make(chan Message, subscriberBuffer),
		eventID: eventID,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[eventID]
	if !ok {
		room = make(map[*Subscription]struct{})
		h.rooms[eventID] = room
	}
	room[sub] = struct{}{}
	return sub
}

func (h *Hub) Leave(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sub.eventID]
	if !ok {
		return
	}
	if _, member := room[sub]; !member {
		return
	}
	delete(room, sub)
	if len(room) == 0 {
		delete(h.rooms, sub.eventID)
	}
	close(sub.C)
}

// Subscribers reports the current group size, mostly for tests and
// metrics.
func (h *Hub) Subscribers(eventID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[eventID])
}

func (h *Hub) BroadcastHolds(eventID uuid.UUID, held []int) {
	h.broadcast(Message{Type: MessageHoldsUpdate, EventID: eventID, HeldSeats: held})
}

func (h *Hub) BroadcastBooked(eventID uuid.UUID, seats []int) {
	h.broadcast(Message{Type: MessageSeatsBooked, EventID: eventID, BookedSeats: seats})
}

func (h *Hub) BroadcastFreed(eventID uuid.UUID, seats []int) {
	h.broadcast(Message{Type: MessageSeatsFreed, EventID: eventID, FreedSeats: seats})
}

func (h *Hub) broadcast(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dropped := 0
	for sub := range h.rooms[msg.EventID] {
		select {
		case sub.C <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		observability.BroadcastDropped.Add(float64(dropped))
	}
}
