// Package storetest provides in-memory implementations of the store
// interfaces for package tests. One Backend holds all state, so the
// durable store, counter, queue and hold map stay consistent with each
// other across a test scenario. The clock is controllable to exercise
// hold expiry.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/seatwave/seatwave/internal/domain"
	"github.com/seatwave/seatwave/internal/store"
)

type holdKey struct {
	eventID uuid.UUID
	seatNo  int
}

type holdEntry struct {
	owner     string
	expiresAt time.Time
}

type ownerKey struct {
	eventID uuid.UUID
	owner   string
}

// Backend is the shared state behind the fake Store, Counter, Queue and
// HoldStore. Zero value is not usable; construct with New.
type Backend struct {
	mu  sync.Mutex
	now time.Time

	events   map[uuid.UUID]*domain.Event
	bookings map[uuid.UUID]*domain.Booking
	seats    []*domain.Seat

	counters map[uuid.UUID]int
	queues   map[uuid.UUID][]uuid.UUID
	holds    map[holdKey]holdEntry
	owners   map[ownerKey]map[int]struct{}

	// CounterErr and QueueErr, when set, make every counter/queue
	// operation fail. Used to exercise the cache-down fallbacks.
	CounterErr error
	QueueErr   error
}

func New() *Backend {
	return &Backend{
		now:      time.Unix(1700000000, 0),
		events:   make(map[uuid.UUID]*domain.Event),
		bookings: make(map[uuid.UUID]*domain.Booking),
		counters: make(map[uuid.UUID]int),
		queues:   make(map[uuid.UUID][]uuid.UUID),
		holds:    make(map[holdKey]holdEntry),
		owners:   make(map[ownerKey]map[int]struct{}),
	}
}

// Advance moves the fake clock forward.
func (b *Backend) Advance(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = b.now.Add(d)
}

func (b *Backend) Store() store.Store     { return &fakeStore{b} }
func (b *Backend) Counter() store.Counter { return &fakeCounter{b} }
func (b *Backend) Queue() store.Queue     { return &fakeQueue{b} }
func (b *Backend) Holds() store.HoldStore { return &fakeHolds{b} }

// CounterValue reads the raw counter, reporting presence.
func (b *Backend) CounterValue(eventID uuid.UUID) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.counters[eventID]
	return v, ok
}

// QueueLen reports the cache queue length for an event.
func (b *Backend) QueueLen(eventID uuid.UUID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[eventID])
}

// LiveSeatNumbers returns the booked seat numbers for an event, sorted.
func (b *Backend) LiveSeatNumbers(eventID uuid.UUID) []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bookedSeatsLocked(eventID)
}

func (b *Backend) bookedSeatsLocked(eventID uuid.UUID) []int {
	var out []int
	for _, s := range b.seats {
		if s.EventID == eventID && s.Status == domain.SeatBooked {
			out = append(out, s.SeatNo)
		}
	}
	sort.Ints(out)
	return out
}

func copyBooking(b *domain.Booking) *domain.Booking {
	cp := *b
	if b.WaitingNumber != nil {
		wn := *b.WaitingNumber
		cp.WaitingNumber = &wn
	}
	return &cp
}

// fakeStore implements store.Store. WithTx snapshots the durable state
// and restores it when fn fails, mirroring a rollback. Counter, queue
// and holds are cache state and deliberately stay outside the snapshot.
type fakeStore struct{ b *Backend }

func (f *fakeStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	f.b.mu.Lock()
	events := make(map[uuid.UUID]*domain.Event, len(f.b.events))
	for id, ev := range f.b.events {
		cp := *ev
		events[id] = &cp
	}
	bookings := make(map[uuid.UUID]*domain.Booking, len(f.b.bookings))
	for id, bk := range f.b.bookings {
		bookings[id] = copyBooking(bk)
	}
	seats := make([]*domain.Seat, len(f.b.seats))
	for i, s := range f.b.seats {
		cp := *s
		seats[i] = &cp
	}
	f.b.mu.Unlock()

	if err := fn(&fakeTx{f.b}); err != nil {
		f.b.mu.Lock()
		f.b.events = events
		f.b.bookings = bookings
		f.b.seats = seats
		f.b.mu.Unlock()
		return err
	}
	return nil
}

func (f *fakeStore) CreateEvent(ctx context.Context, totalSlots int) (*domain.Event, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	ev := &domain.Event{
		ID:             uuid.New(),
		TotalSlots:     totalSlots,
		AvailableSlots: totalSlots,
		CreatedAt:      f.b.now,
		UpdatedAt:      f.b.now,
	}
	f.b.events[ev.ID] = ev
	cp := *ev
	return &cp, nil
}

func (f *fakeStore) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	ev, ok := f.b.events[eventID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeStore) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	bk, ok := f.b.bookings[bookingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyBooking(bk), nil
}

func (f *fakeStore) BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	var out []domain.Booking
	for _, bk := range f.b.bookings {
		if bk.UserID == userID {
			out = append(out, *copyBooking(bk))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (f *fakeStore) SeatsByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Seat, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	var out []domain.Seat
	for _, s := range f.b.seats {
		if s.BookingID == bookingID {
			out = append(out, *s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeatNo < out[j].SeatNo })
	return out, nil
}

type fakeTx struct{ b *Backend }

func (t *fakeTx) GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return (&fakeStore{t.b}).GetEvent(ctx, eventID)
}

func (t *fakeTx) EventForUpdate(ctx context.Context, eventID uuid.UUID) (*domain.Event, error) {
	return (&fakeStore{t.b}).GetEvent(ctx, eventID)
}

func (t *fakeTx) AddAvailableSlots(ctx context.Context, eventID uuid.UUID, n int) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	ev, ok := t.b.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	ev.AvailableSlots += n
	if ev.AvailableSlots > ev.TotalSlots {
		ev.AvailableSlots = ev.TotalSlots
	}
	ev.UpdatedAt = t.b.now
	return nil
}

func (t *fakeTx) SubtractAvailableSlots(ctx context.Context, eventID uuid.UUID, n int) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	ev, ok := t.b.events[eventID]
	if !ok {
		return domain.ErrNotFound
	}
	ev.AvailableSlots -= n
	if ev.AvailableSlots < 0 {
		ev.AvailableSlots = 0
	}
	ev.UpdatedAt = t.b.now
	return nil
}

func (t *fakeTx) CreateBooking(ctx context.Context, bk *domain.Booking) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	cp := copyBooking(bk)
	cp.CreatedAt = t.b.now
	cp.UpdatedAt = t.b.now
	t.b.bookings[bk.ID] = cp
	return nil
}

func (t *fakeTx) BookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return t.GetBooking(ctx, bookingID)
}

func (t *fakeTx) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	bk, ok := t.b.bookings[bookingID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyBooking(bk), nil
}

func (t *fakeTx) MarkCancelled(ctx context.Context, bookingID uuid.UUID) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	bk, ok := t.b.bookings[bookingID]
	if !ok {
		return domain.ErrNotFound
	}
	bk.Status = domain.BookingCancelled
	bk.UpdatedAt = t.b.now
	return nil
}

func (t *fakeTx) PromoteBooking(ctx context.Context, bookingID uuid.UUID, seats int) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	bk, ok := t.b.bookings[bookingID]
	if !ok || bk.Status != domain.BookingWaiting {
		return domain.ErrNotFound
	}
	bk.Status = domain.BookingConfirmed
	bk.Seats = seats
	bk.WaitingNumber = nil
	bk.UpdatedAt = t.b.now
	return nil
}

func (t *fakeTx) EarliestWaiting(ctx context.Context, eventID uuid.UUID) (*domain.Booking, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	var best *domain.Booking
	for _, bk := range t.b.bookings {
		if bk.EventID != eventID || bk.Status != domain.BookingWaiting || bk.WaitingNumber == nil {
			continue
		}
		if best == nil || *bk.WaitingNumber < *best.WaitingNumber {
			best = bk
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	return copyBooking(best), nil
}

func (t *fakeTx) NextWaitingNumber(ctx context.Context, eventID uuid.UUID) (int, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	max := 0
	for _, bk := range t.b.bookings {
		if bk.EventID == eventID && bk.WaitingNumber != nil && *bk.WaitingNumber > max {
			max = *bk.WaitingNumber
		}
	}
	return max + 1, nil
}

func (t *fakeTx) BookedSeatNumbers(ctx context.Context, eventID uuid.UUID) ([]int, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	return t.b.bookedSeatsLocked(eventID), nil
}

func (t *fakeTx) CountBookedSeats(ctx context.Context, eventID uuid.UUID) (int, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	return len(t.b.bookedSeatsLocked(eventID)), nil
}

func (t *fakeTx) BookedAmong(ctx context.Context, eventID uuid.UUID, seatNos []int) ([]int, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	booked := make(map[int]struct{})
	for _, n := range t.b.bookedSeatsLocked(eventID) {
		booked[n] = struct{}{}
	}
	var out []int
	for _, n := range seatNos {
		if _, ok := booked[n]; ok {
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out, nil
}

func (t *fakeTx) InsertSeats(ctx context.Context, eventID, bookingID, userID uuid.UUID, seatNos []int) error {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	booked := make(map[int]struct{})
	for _, n := range t.b.bookedSeatsLocked(eventID) {
		booked[n] = struct{}{}
	}
	for _, n := range seatNos {
		if _, dup := booked[n]; dup {
			return errors.WithDetailf(domain.ErrConflict, "seat %d already booked", n)
		}
	}
	for _, n := range seatNos {
		t.b.seats = append(t.b.seats, &domain.Seat{
			ID:        uuid.New(),
			EventID:   eventID,
			BookingID: bookingID,
			UserID:    userID,
			SeatNo:    n,
			Status:    domain.SeatBooked,
			CreatedAt: t.b.now,
		})
	}
	return nil
}

func (t *fakeTx) CancelAllSeats(ctx context.Context, bookingID uuid.UUID) ([]int, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	var freed []int
	for _, s := range t.b.seats {
		if s.BookingID == bookingID && s.Status == domain.SeatBooked {
			s.Status = domain.SeatCancelled
			freed = append(freed, s.SeatNo)
		}
	}
	sort.Ints(freed)
	return freed, nil
}

func (t *fakeTx) CancelSeats(ctx context.Context, bookingID uuid.UUID, seatNos []int) ([]int, error) {
	t.b.mu.Lock()
	defer t.b.mu.Unlock()
	want := make(map[int]struct{}, len(seatNos))
	for _, n := range seatNos {
		want[n] = struct{}{}
	}
	var freed []int
	for _, s := range t.b.seats {
		if _, ok := want[s.SeatNo]; !ok {
			continue
		}
		if s.BookingID == bookingID && s.Status == domain.SeatBooked {
			s.Status = domain.SeatCancelled
			freed = append(freed, s.SeatNo)
		}
	}
	sort.Ints(freed)
	return freed, nil
}

type fakeCounter struct{ b *Backend }

func (c *fakeCounter) Init(ctx context.Context, eventID uuid.UUID, value int) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.CounterErr != nil {
		return c.b.CounterErr
	}
	c.b.counters[eventID] = value
	return nil
}

func (c *fakeCounter) Get(ctx context.Context, eventID uuid.UUID) (int, bool, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.CounterErr != nil {
		return 0, false, c.b.CounterErr
	}
	v, ok := c.b.counters[eventID]
	return v, ok, nil
}

func (c *fakeCounter) DecrBy(ctx context.Context, eventID uuid.UUID, n int) (int, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.CounterErr != nil {
		return 0, c.b.CounterErr
	}
	c.b.counters[eventID] -= n
	return c.b.counters[eventID], nil
}

func (c *fakeCounter) IncrBy(ctx context.Context, eventID uuid.UUID, n int) (int, error) {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.CounterErr != nil {
		return 0, c.b.CounterErr
	}
	c.b.counters[eventID] += n
	return c.b.counters[eventID], nil
}

func (c *fakeCounter) Set(ctx context.Context, eventID uuid.UUID, value int) error {
	c.b.mu.Lock()
	defer c.b.mu.Unlock()
	if c.b.CounterErr != nil {
		return c.b.CounterErr
	}
	c.b.counters[eventID] = value
	return nil
}

type fakeQueue struct{ b *Backend }

func (q *fakeQueue) Push(ctx context.Context, eventID uuid.UUID, bookingID uuid.UUID) (int, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if q.b.QueueErr != nil {
		return 0, q.b.QueueErr
	}
	q.b.queues[eventID] = append(q.b.queues[eventID], bookingID)
	return len(q.b.queues[eventID]), nil
}

func (q *fakeQueue) Pop(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error) {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if q.b.QueueErr != nil {
		return uuid.Nil, q.b.QueueErr
	}
	list := q.b.queues[eventID]
	if len(list) == 0 {
		return uuid.Nil, nil
	}
	head := list[0]
	q.b.queues[eventID] = list[1:]
	return head, nil
}

func (q *fakeQueue) Remove(ctx context.Context, eventID uuid.UUID, bookingID uuid.UUID) error {
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if q.b.QueueErr != nil {
		return q.b.QueueErr
	}
	list := q.b.queues[eventID]
	out := list[:0]
	for _, id := range list {
		if id != bookingID {
			out = append(out, id)
		}
	}
	q.b.queues[eventID] = out
	return nil
}

type fakeHolds struct{ b *Backend }

func (h *fakeHolds) Claim(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string, ttl time.Duration) (bool, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	key := holdKey{eventID, seatNo}
	if e, ok := h.b.holds[key]; ok && e.expiresAt.After(h.b.now) && e.owner != ownerID {
		return false, nil
	}
	h.b.holds[key] = holdEntry{owner: ownerID, expiresAt: h.b.now.Add(ttl)}
	return true, nil
}

func (h *fakeHolds) Extend(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string, ttl time.Duration) (bool, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	key := holdKey{eventID, seatNo}
	e, ok := h.b.holds[key]
	if !ok || !e.expiresAt.After(h.b.now) || e.owner != ownerID {
		return false, nil
	}
	e.expiresAt = h.b.now.Add(ttl)
	h.b.holds[key] = e
	return true, nil
}

func (h *fakeHolds) Release(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string) (bool, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	key := holdKey{eventID, seatNo}
	e, ok := h.b.holds[key]
	if !ok || e.owner != ownerID {
		return false, nil
	}
	delete(h.b.holds, key)
	return true, nil
}

func (h *fakeHolds) Delete(ctx context.Context, eventID uuid.UUID, seatNo int) error {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	delete(h.b.holds, holdKey{eventID, seatNo})
	return nil
}

func (h *fakeHolds) OwnerSeats(ctx context.Context, eventID uuid.UUID, ownerID string) ([]int, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	set := h.b.owners[ownerKey{eventID, ownerID}]
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (h *fakeHolds) TrackOwner(ctx context.Context, eventID uuid.UUID, ownerID string, seatNos []int) error {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	key := ownerKey{eventID, ownerID}
	set := h.b.owners[key]
	if set == nil {
		set = make(map[int]struct{})
		h.b.owners[key] = set
	}
	for _, n := range seatNos {
		set[n] = struct{}{}
	}
	return nil
}

func (h *fakeHolds) UntrackOwner(ctx context.Context, eventID uuid.UUID, ownerID string, seatNos []int) error {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	set := h.b.owners[ownerKey{eventID, ownerID}]
	for _, n := range seatNos {
		delete(set, n)
	}
	return nil
}

func (h *fakeHolds) HeldSeats(ctx context.Context, eventID uuid.UUID) ([]int, error) {
	h.b.mu.Lock()
	defer h.b.mu.Unlock()
	var out []int
	for key, e := range h.b.holds {
		if key.eventID == eventID && e.expiresAt.After(h.b.now) {
			out = append(out, key.seatNo)
		}
	}
	sort.Ints(out)
	return out, nil
}
