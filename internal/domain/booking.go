package domain

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// BookingRequest is the strictly typed form of an inbound booking
// payload. Parse it with NewBookingRequest before any state is touched;
// malformed requests never reach a transaction.
type BookingRequest struct {
	EventID     uuid.UUID
	UserID      uuid.UUID
	Seats       int
	SeatNumbers []int
}

// NewBookingRequest validates shape only: positive seat count and, when
// explicit seat numbers are given, positive distinct numbers matching
// the requested count. Range and availability checks are the booking
// transaction's job.
func NewBookingRequest(eventID, userID uuid.UUID, seats int, seatNumbers []int) (BookingRequest, error) {
	if eventID == uuid.Nil {
		return BookingRequest{}, errors.WithDetail(ErrInvalidInput, "event_id is required")
	}
	if userID == uuid.Nil {
		return BookingRequest{}, errors.WithDetail(ErrInvalidInput, "user_id is required")
	}
	if seats <= 0 {
		return BookingRequest{}, errors.WithDetail(ErrInvalidInput, "seats must be positive")
	}
	if len(seatNumbers) > 0 {
		if len(seatNumbers) != seats {
			return BookingRequest{}, errors.WithDetail(ErrInvalidInput, "seat_numbers length must equal seats")
		}
		seen := make(map[int]struct{}, len(seatNumbers))
		for _, n := range seatNumbers {
			if n <= 0 {
				return BookingRequest{}, errors.WithDetail(ErrInvalidInput, "seat numbers must be positive")
			}
			if _, dup := seen[n]; dup {
				return BookingRequest{}, errors.WithDetail(ErrInvalidInput, "seat numbers must be distinct")
			}
			seen[n] = struct{}{}
		}
	}
	return BookingRequest{
		EventID:     eventID,
		UserID:      userID,
		Seats:       seats,
		SeatNumbers: seatNumbers,
	}, nil
}

// Explicit reports whether the caller picked specific seat numbers.
func (r BookingRequest) Explicit() bool { return len(r.SeatNumbers) > 0 }

// BookingResult is the outcome of one booking attempt. A confirmed
// result carries exactly the requested number of distinct assigned
// seats; a waiting result carries a FIFO waiting number and no seats.
type BookingResult struct {
	Booking       Booking
	AssignedSeats []int
}
