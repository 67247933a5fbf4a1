package booking

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seatwave/seatwave/internal/domain"
	"github.com/seatwave/seatwave/internal/observability"
	"github.com/seatwave/seatwave/internal/store/storetest"
)

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
	holds  [][]int
	booked [][]int
}

func (r *recordingBroadcaster) BroadcastHolds(eventID uuid.UUID, held []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "holds")
	r.holds = append(r.holds, held)
}

func (r *recordingBroadcaster) BroadcastBooked(eventID uuid.UUID, seats []int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "booked")
	r.booked = append(r.booked, seats)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (r *recordingPublisher) PublishJSON(ctx context.Context, routingKey string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, routingKey)
	return nil
}

type recordingAuditor struct {
	mu      sync.Mutex
	actions []string
}

func (r *recordingAuditor) Record(ctx context.Context, action string, userID uuid.UUID, data map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return nil
}

type fixture struct {
	backend     *storetest.Backend
	service     *Service
	broadcaster *recordingBroadcaster
	publisher   *recordingPublisher
	auditor     *recordingAuditor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := storetest.New()
	bc := &recordingBroadcaster{}
	pub := &recordingPublisher{}
	aud := &recordingAuditor{}
	svc := NewService(b.Store(), b.Counter(), b.Queue(), b.Holds(), bc, pub, aud, observability.NewLogger())
	return &fixture{backend: b, service: svc, broadcaster: bc, publisher: pub, auditor: aud}
}

func (f *fixture) newEvent(t *testing.T, totalSlots int) uuid.UUID {
	t.Helper()
	ev, err := f.backend.Store().CreateEvent(context.Background(), totalSlots)
	require.NoError(t, err)
	require.NoError(t, f.backend.Counter().Init(context.Background(), ev.ID, totalSlots))
	return ev.ID
}

func mustRequest(t *testing.T, eventID uuid.UUID, seats int, seatNos []int) domain.BookingRequest {
	t.Helper()
	req, err := domain.NewBookingRequest(eventID, uuid.New(), seats, seatNos)
	require.NoError(t, err)
	return req
}

func TestBookAssignsLowestFreeSeats(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 10)
	ctx := context.Background()

	res, err := f.service.Book(ctx, mustRequest(t, eventID, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, []int{1, 2}, res.AssignedSeats)
	assert.Nil(t, res.Booking.WaitingNumber)

	res2, err := f.service.Book(ctx, mustRequest(t, eventID, 3, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{3, 4, 5}, res2.AssignedSeats)

	ev, err := f.backend.Store().GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 5, ev.AvailableSlots)

	v, ok := f.backend.CounterValue(eventID)
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestBookExplicitSeats(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 10)
	ctx := context.Background()

	res, err := f.service.Book(ctx, mustRequest(t, eventID, 2, []int{3, 7}))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, []int{3, 7}, res.AssignedSeats)

	// auto-assignment skips over explicitly taken seats
	res2, err := f.service.Book(ctx, mustRequest(t, eventID, 3, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 4}, res2.AssignedSeats)
}

func TestBookExplicitConflictAbortsWhole(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 10)
	ctx := context.Background()

	_, err := f.service.Book(ctx, mustRequest(t, eventID, 2, []int{1, 2}))
	require.NoError(t, err)

	_, err = f.service.Book(ctx, mustRequest(t, eventID, 2, []int{2, 3}))
	require.Error(t, err)

	var conflict *domain.SeatConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []int{2}, conflict.Unavailable)
	assert.True(t, errors.Is(err, domain.ErrConflict))

	// nothing was reserved: seat 3 stays free, capacity untouched
	assert.Equal(t, []int{1, 2}, f.backend.LiveSeatNumbers(eventID))
	v, _ := f.backend.CounterValue(eventID)
	assert.Equal(t, 8, v)
	ev, err := f.backend.Store().GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 8, ev.AvailableSlots)
}

func TestBookExplicitSeatOutOfRange(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 5)

	_, err := f.service.Book(context.Background(), mustRequest(t, eventID, 1, []int{6}))
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}

func TestBookUnknownEvent(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.Book(context.Background(), mustRequest(t, uuid.New(), 1, nil))
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestBookExhaustedJoinsWaitlistFIFO(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 2)
	ctx := context.Background()

	_, err := f.service.Book(ctx, mustRequest(t, eventID, 2, nil))
	require.NoError(t, err)

	first, err := f.service.Book(ctx, mustRequest(t, eventID, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingWaiting, first.Booking.Status)
	require.NotNil(t, first.Booking.WaitingNumber)
	assert.Equal(t, 1, *first.Booking.WaitingNumber)
	assert.Empty(t, first.AssignedSeats)

	second, err := f.service.Book(ctx, mustRequest(t, eventID, 3, nil))
	require.NoError(t, err)
	require.NotNil(t, second.Booking.WaitingNumber)
	assert.Equal(t, 2, *second.Booking.WaitingNumber)

	// the optimistic decrements were given back
	v, _ := f.backend.CounterValue(eventID)
	assert.Equal(t, 0, v)
	assert.Equal(t, 2, f.backend.QueueLen(eventID))
}

func TestBookFallsBackWhenCounterDown(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 4)
	f.backend.CounterErr = errors.New("connection refused")
	ctx := context.Background()

	res, err := f.service.Book(ctx, mustRequest(t, eventID, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, res.Booking.Status)
	assert.Equal(t, []int{1, 2}, res.AssignedSeats)

	ev, err := f.backend.Store().GetEvent(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, 2, ev.AvailableSlots)
}

func TestBookWaitlistsWhenQueueDown(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 1)
	ctx := context.Background()

	_, err := f.service.Book(ctx, mustRequest(t, eventID, 1, nil))
	require.NoError(t, err)

	f.backend.QueueErr = errors.New("connection refused")
	res, err := f.service.Book(ctx, mustRequest(t, eventID, 1, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingWaiting, res.Booking.Status)
	require.NotNil(t, res.Booking.WaitingNumber)
	assert.Equal(t, 1, *res.Booking.WaitingNumber)
}

func TestBookDemotesOnCounterOvershoot(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 3)
	ctx := context.Background()

	_, err := f.service.Book(ctx, mustRequest(t, eventID, 3, nil))
	require.NoError(t, err)

	// a stale counter claims free capacity the seat rows deny
	require.NoError(t, f.backend.Counter().Set(ctx, eventID, 2))

	res, err := f.service.Book(ctx, mustRequest(t, eventID, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, domain.BookingWaiting, res.Booking.Status)
	assert.Equal(t, []int{1, 2, 3}, f.backend.LiveSeatNumbers(eventID))
}

func TestBookClearsHoldsAndBroadcasts(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 5)
	ctx := context.Background()

	_, err := f.backend.Holds().Claim(ctx, eventID, 1, "viewer-a", time.Minute)
	require.NoError(t, err)
	_, err = f.backend.Holds().Claim(ctx, eventID, 4, "viewer-b", time.Minute)
	require.NoError(t, err)

	res, err := f.service.Book(ctx, mustRequest(t, eventID, 2, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, res.AssignedSeats)

	// the hold on the now-booked seat is gone, the other survives
	held, err := f.backend.Holds().HeldSeats(ctx, eventID)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, held)

	// viewers see holds shrink before the booked flash
	require.Equal(t, []string{"holds", "booked"}, f.broadcaster.events)
	assert.Equal(t, []int{4}, f.broadcaster.holds[0])
	assert.Equal(t, []int{1, 2}, f.broadcaster.booked[0])

	assert.Equal(t, []string{"booking.confirmed"}, f.publisher.keys)
	assert.Equal(t, []string{"booking.confirmed"}, f.auditor.actions)
}

func TestBookWaitlistedPublishes(t *testing.T) {
	f := newFixture(t)
	eventID := f.newEvent(t, 1)
	ctx := context.Background()

	_, err := f.service.Book(ctx, mustRequest(t, eventID, 1, nil))
	require.NoError(t, err)
	_, err = f.service.Book(ctx, mustRequest(t, eventID, 1, nil))
	require.NoError(t, err)

	assert.Equal(t, []string{"booking.confirmed", "booking.waitlisted"}, f.publisher.keys)
	assert.Equal(t, []string{"booking.confirmed", "booking.waitlisted"}, f.auditor.actions)
}

func TestLowestFree(t *testing.T) {
	tests := []struct {
		name       string
		taken      []int
		count      int
		totalSlots int
		want       []int
	}{
		{"empty", nil, 3, 5, []int{1, 2, 3}},
		{"gaps filled first", []int{1, 3}, 2, 5, []int{2, 4}},
		{"exact fit", []int{1, 2}, 3, 5, []int{3, 4, 5}},
		{"insufficient", []int{1, 2, 3}, 3, 5, nil},
		{"zero capacity", nil, 1, 0, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lowestFree(tt.taken, tt.count, tt.totalSlots))
		})
	}
}
