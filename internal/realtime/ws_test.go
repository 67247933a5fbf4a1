package realtime

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatwave/seatwave/internal/holds"
	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store/storetest"
)

type wsHarness struct {
	srv      *httptest.Server
	backend  *storetest.Backend
	registry *holds.Registry
	eventID  uuid.UUID
}

func newWSHarness(t *testing.T) *wsHarness {
	t.Helper()
	backend := storetest.New()
	logger := observability.NewLogger()
	hub := NewHub(logger)
	registry := holds.NewRegistry(backend.Holds(), 5*time.Second, hub, logger)

	r := chi.NewRouter()
	r.Get("/v1/events/{id}/ws", NewSessionHandler(hub, registry, logger).ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &wsHarness{srv: srv, backend: backend, registry: registry, eventID: uuid.New()}
}

func (h *wsHarness) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/events/" + h.eventID.String() + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil drains frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) Message {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	require.NoError(t, conn.SetReadDeadline(deadline))
	for {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Type == msgType {
			return msg
		}
	}
}

func TestSessionHoldsSetRoundTrip(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "holds:set", Seats: []int{2, 1}}))

	// the direct response and the group update may arrive in either order
	byType := make(map[string]Message, 2)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for len(byType) < 2 {
		var msg Message
		require.NoError(t, conn.ReadJSON(&msg))
		byType[msg.Type] = msg
	}

	resp, ok := byType[MessageHoldsResponse]
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, resp.Granted)
	assert.Empty(t, resp.Conflicting)

	update, ok := byType[MessageHoldsUpdate]
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, update.HeldSeats)
}

func TestSessionsConflictOnSameSeat(t *testing.T) {
	h := newWSHarness(t)
	first := h.dial(t)
	second := h.dial(t)

	require.NoError(t, first.WriteJSON(ClientMessage{Type: "holds:set", Seats: []int{5}}))
	resp := readUntil(t, first, MessageHoldsResponse)
	require.Equal(t, []int{5}, resp.Granted)

	require.NoError(t, second.WriteJSON(ClientMessage{Type: "holds:set", Seats: []int{5, 6}}))
	resp = readUntil(t, second, MessageHoldsResponse)
	assert.Equal(t, []int{6}, resp.Granted)
	assert.Equal(t, []int{5}, resp.Conflicting)
}

func TestSessionBroadcastsReachOtherViewers(t *testing.T) {
	h := newWSHarness(t)
	holder := h.dial(t)
	watcher := h.dial(t)

	require.NoError(t, holder.WriteJSON(ClientMessage{Type: "holds:set", Seats: []int{3}}))

	update := readUntil(t, watcher, MessageHoldsUpdate)
	assert.Equal(t, []int{3}, update.HeldSeats)
	assert.Equal(t, h.eventID, update.EventID)
}

func TestDisconnectClearsHolds(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "holds:set", Seats: []int{4}}))
	readUntil(t, conn, MessageHoldsResponse)

	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		held, err := h.registry.HeldSeats(context.Background(), h.eventID)
		return err == nil && len(held) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSessionHoldsClear(t *testing.T) {
	h := newWSHarness(t)
	conn := h.dial(t)
	watcher := h.dial(t)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "holds:set", Seats: []int{7, 8}}))
	readUntil(t, conn, MessageHoldsResponse)
	update := readUntil(t, watcher, MessageHoldsUpdate)
	require.Equal(t, []int{7, 8}, update.HeldSeats)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: "holds:clear"}))

	update = readUntil(t, watcher, MessageHoldsUpdate)
	assert.Empty(t, update.HeldSeats)
}

func TestRejectsInvalidEventID(t *testing.T) {
	h := newWSHarness(t)
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/v1/events/not-a-uuid/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}
