package domain

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrCancelled    = errors.New("booking already cancelled")
)

// SeatConflictError reports exactly which explicitly requested seat
// numbers are already booked. The attempt is aborted whole; there is no
// partial accept.
type SeatConflictError struct {
	Unavailable []int
}

func (e *SeatConflictError) Error() string {
	return fmt.Sprintf("seats unavailable: %v", e.Unavailable)
}

func (e *SeatConflictError) Unwrap() error { return ErrConflict }
