// Package store declares the injected storage interfaces the allocation
// engine runs against. The postgres adapter implements Store/Tx, the
// redis adapter implements Counter, Queue and HoldStore; tests swap in
// in-memory fakes without touching booking logic.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/seatwave/seatwave/internal/domain"
)

// Tx is the set of durable operations available inside one event-scoped
// transaction. EventForUpdate takes the row lock that serializes the
// contested path; everything else reads or mutates under that scope.
type Tx interface {
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	EventForUpdate(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	AddAvailableSlots(ctx context.Context, eventID uuid.UUID, n int) error
	SubtractAvailableSlots(ctx context.Context, eventID uuid.UUID, n int) error

	CreateBooking(ctx context.Context, b *domain.Booking) error
	BookingForUpdate(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	MarkCancelled(ctx context.Context, bookingID uuid.UUID) error
	PromoteBooking(ctx context.Context, bookingID uuid.UUID, seats int) error
	EarliestWaiting(ctx context.Context, eventID uuid.UUID) (*domain.Booking, error)
	NextWaitingNumber(ctx context.Context, eventID uuid.UUID) (int, error)

	BookedSeatNumbers(ctx context.Context, eventID uuid.UUID) ([]int, error)
	CountBookedSeats(ctx context.Context, eventID uuid.UUID) (int, error)
	BookedAmong(ctx context.Context, eventID uuid.UUID, seatNos []int) ([]int, error)
	InsertSeats(ctx context.Context, eventID, bookingID, userID uuid.UUID, seatNos []int) error
	CancelAllSeats(ctx context.Context, bookingID uuid.UUID) ([]int, error)
	CancelSeats(ctx context.Context, bookingID uuid.UUID, seatNos []int) ([]int, error)
}

// Store opens transactions and serves the read paths that need no
// transaction scope.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	CreateEvent(ctx context.Context, totalSlots int) (*domain.Event, error)
	GetEvent(ctx context.Context, eventID uuid.UUID) (*domain.Event, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	BookingsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Booking, error)
	SeatsByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.Seat, error)
}

// Counter is the atomic per-event fast capacity counter. DecrBy may
// return a negative value; negativity is a scarcity signal for the
// reconciliation path, never a final answer. All methods are
// best-effort: an error degrades the fast path only.
type Counter interface {
	Init(ctx context.Context, eventID uuid.UUID, value int) error
	// Get returns (value, ok, err); ok is false on a cold cache so the
	// caller can seed the counter from durable truth.
	Get(ctx context.Context, eventID uuid.UUID) (int, bool, error)
	DecrBy(ctx context.Context, eventID uuid.UUID, n int) (int, error)
	IncrBy(ctx context.Context, eventID uuid.UUID, n int) (int, error)
	Set(ctx context.Context, eventID uuid.UUID, value int) error
}

// Queue is the per-event FIFO waitlist order. It only decides promotion
// order; the durable waiting rows remain the source of truth.
type Queue interface {
	// Push appends and returns the resulting length, which doubles as
	// the entry's waiting number.
	Push(ctx context.Context, eventID uuid.UUID, bookingID uuid.UUID) (int, error)
	// Pop removes and returns the head, or uuid.Nil when empty.
	Pop(ctx context.Context, eventID uuid.UUID) (uuid.UUID, error)
	Remove(ctx context.Context, eventID uuid.UUID, bookingID uuid.UUID) error
}

// HoldStore is the expiring per-seat ownership map behind the hold
// registry. Claim, Extend and Release are compare-then-act: they only
// take effect when the stored owner matches (or, for Claim, when the
// seat is free or already owned by the caller).
type HoldStore interface {
	Claim(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string, ttl time.Duration) (bool, error)
	Extend(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, eventID uuid.UUID, seatNo int, ownerID string) (bool, error)
	Delete(ctx context.Context, eventID uuid.UUID, seatNo int) error
	OwnerSeats(ctx context.Context, eventID uuid.UUID, ownerID string) ([]int, error)
	TrackOwner(ctx context.Context, eventID uuid.UUID, ownerID string, seatNos []int) error
	UntrackOwner(ctx context.Context, eventID uuid.UUID, ownerID string, seatNos []int) error
	HeldSeats(ctx context.Context, eventID uuid.UUID) ([]int, error)
}
