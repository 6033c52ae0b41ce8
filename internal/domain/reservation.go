package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	ConflictCodeSeatUnavailable = "SEAT_UNAVAILABLE"
	ConflictCodeStaleSelection  = "STALE_SELECTION"
)

// ErrStaleSelection refuses a seat selection older than the one the session
// already holds.
var ErrStaleSelection = errors.New("seat selection superseded by a newer one")

type ReserveSeatsRequest struct {
	// Version orders the selections of one session. Zero skips the check.
	Version uint64 `json:"version,omitempty"`
	Seats   []Seat `json:"seats"`
}

type ReserveSeatsResponse struct {
	SessionID          string     `json:"session_id"`
	Locks              []SeatLock `json:"locks"`
	UnavailableSeatIDs []string   `json:"unavailable_seat_ids,omitempty"`
	ExpiresAt          time.Time  `json:"expires_at"`
}

type ExtendReservationResponse struct {
	SessionID         string    `json:"session_id"`
	SeatLockExpiresAt time.Time `json:"seat_lock_expires_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	KeptSeatIDs       []string  `json:"kept_seat_ids"`
	LostSeatIDs       []string  `json:"lost_seat_ids,omitempty"`
}

type StepUpdate struct {
	CurrentStep int `json:"current_step"`
}

type CompleteBookingRequest struct {
	SessionID string         `json:"session_id"`
	Booking   BookingPayload `json:"booking"`
}

// SeatConflictError lists the seats the backend refused to lock.
type SeatConflictError struct {
	SeatIDs []string
}

func (e *SeatConflictError) Error() string {
	return "seats no longer available: " + strings.Join(e.SeatIDs, ", ")
}

// ConflictingSeats extracts the refused seat ids from err, if any.
func ConflictingSeats(err error) []string {
	var ce *SeatConflictError
	if errors.As(err, &ce) {
		return ce.SeatIDs
	}
	return nil
}
