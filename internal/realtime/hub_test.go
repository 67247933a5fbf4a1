package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatwave/seatwave/internal/observability"
)

func TestHubBroadcastReachesAllSubscribers(t *testing.T) {
	h := NewHub(observability.NewLogger())
	eventID := uuid.New()

	a := h.Join(eventID)
	b := h.Join(eventID)
	require.Equal(t, 2, h.Subscribers(eventID))

	h.BroadcastBooked(eventID, []int{1, 2})

	for _, sub := range []*Subscription{a, b} {
		msg := <-sub.C
		assert.Equal(t, MessageSeatsBooked, msg.Type)
		assert.Equal(t, eventID, msg.EventID)
		assert.Equal(t, []int{1, 2}, msg.BookedSeats)
	}
}

func TestHubScopesBroadcastsToEvent(t *testing.T) {
	h := NewHub(observability.NewLogger())
	watched := uuid.New()
	other := uuid.New()

	sub := h.Join(watched)
	h.BroadcastFreed(other, []int{9})
	h.BroadcastHolds(watched, []int{3})

	msg := <-sub.C
	assert.Equal(t, MessageHoldsUpdate, msg.Type)
	assert.Equal(t, []int{3}, msg.HeldSeats)
	assert.Empty(t, sub.C)
}

func TestHubLeaveClosesChannel(t *testing.T) {
	h := NewHub(observability.NewLogger())
	eventID := uuid.New()

	sub := h.Join(eventID)
	h.Leave(sub)
	assert.Equal(t, 0, h.Subscribers(eventID))

	_, open := <-sub.C
	assert.False(t, open)

	// leaving twice must not panic on a closed channel
	h.Leave(sub)
}

func TestHubNeverBlocksOnSlowSubscriber(t *testing.T) {
	h := NewHub(observability.NewLogger())
	eventID := uuid.New()

	slow := h.Join(eventID)
	fast := h.Join(eventID)

	// overflow the slow subscriber's buffer without reading
	for i := 0; i < subscriberBuffer+10; i++ {
		h.BroadcastFreed(eventID, []int{i})
	}

	// the fast subscriber's buffer overflowed too, but broadcasting
	// never stalled and both channels still deliver what they buffered
	assert.Len(t, slow.C, subscriberBuffer)
	assert.Len(t, fast.C, subscriberBuffer)

	msg := <-slow.C
	assert.Equal(t, MessageSeatsFreed, msg.Type)
}
