package realtime

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/seatwave/seatwave/internal/holds"
	"github.com/seatwave/seatwave/internal/observability"
)

// ClientMessage is the inbound frame on the per-event channel.
type ClientMessage struct {
	Type  string `json:"type"`
	Seats []int  `json:"seats,omitempty"`
}

const (
	clientHoldsSet       = "holds:set"
	clientHoldsHeartbeat = "holds:heartbeat"
	clientHoldsClear     = "holds:clear"
)

// SessionHandler upgrades a viewer onto an event's multicast group and
// speaks the hold protocol for that session. Each connection gets a
// fresh owner id; disconnecting clears its holds.
type SessionHandler struct {
	hub      *Hub
	registry *holds.Registry
	logger   observability.Logger
	upgrader websocket.Upgrader
}

func NewSessionHandler(hub *Hub, registry *holds.Registry, logger observability.Logger) *SessionHandler {
	return &SessionHandler{
		hub:      hub,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed: ", err)
		return
	}

	ownerID := uuid.NewString()
	sub := h.hub.Join(eventID)
	log := h.logger.WithField("event_id", eventID).WithField("owner_id", ownerID)

	// replies carries this session's direct responses; sub.C carries
	// the group broadcasts. One writer goroutine serializes both onto
	// the connection.
	replies := make(chan Message, 8)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			case msg := <-replies:
				if err := conn.WriteJSON(msg); err != nil {
					return
				}
			}
		}
	}()

	defer func() {
		h.hub.Leave(sub)
		// The request context dies with the connection; cleanup uses
		// its own.
		if err := h.registry.ClearHolds(context.Background(), eventID, ownerID); err != nil {
			log.Warn("clear holds on disconnect: ", err)
		}
		conn.Close()
		<-done
	}()

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("websocket read: ", err)
			}
			return
		}

		switch msg.Type {
		case clientHoldsSet:
			granted, conflicting, err := h.registry.SetHolds(r.Context(), eventID, ownerID, msg.Seats)
			if err != nil {
				log.Warn("set holds: ", err)
				continue
			}
			select {
			case replies <- Message{
				Type:        MessageHoldsResponse,
				EventID:     eventID,
				Granted:     granted,
				Conflicting: conflicting,
			}:
			case <-done:
				return
			}
		case clientHoldsHeartbeat:
			if err := h.registry.Heartbeat(r.Context(), eventID, ownerID); err != nil {
				log.Warn("heartbeat: ", err)
			}
		case clientHoldsClear:
			if err := h.registry.ClearHolds(r.Context(), eventID, ownerID); err != nil {
				log.Warn("clear holds: ", err)
			}
		default:
			log.Debug("unknown message type: ", msg.Type)
		}
	}
}
