package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingWaiting   BookingStatus = "waiting"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type SeatStatus string

const (
	SeatBooked    SeatStatus = "booked"
	SeatCancelled SeatStatus = "cancelled"
)

// Event carries only what the allocation engine needs: the immutable
// capacity ceiling and the durable mirror of remaining capacity.
// AvailableSlots may transiently diverge from the fast counter; the
// reconciliation path resets the counter from this value.
type Event struct {
	ID             uuid.UUID
	TotalSlots     int
	AvailableSlots int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Booking struct {
	ID            uuid.UUID
	EventID       uuid.UUID
	UserID        uuid.UUID
	Seats         int
	Status        BookingStatus
	WaitingNumber *int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Seat is one live allocation unit. For a given event at most one row
// with status=booked exists per seat number.
type Seat struct {
	ID        uuid.UUID
	EventID   uuid.UUID
	BookingID uuid.UUID
	UserID    uuid.UUID
	SeatNo    int
	Status    SeatStatus
	CreatedAt time.Time
}

// Hold is an ephemeral, advisory claim on a seat by a connected viewer.
// Holds live in the cache only, expire on their own and never carry a
// booking guarantee.
type Hold struct {
	EventID   uuid.UUID
	SeatNo    int
	OwnerID   string
	ExpiresAt time.Time
}
