package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidSeat = errors.New("invalid seat")

// SeatState tracks a selection through the two-phase reserve: applied locally
// as pending, then confirmed or rejected by the backend.
type SeatState string

const (
	SeatStateNone      SeatState = ""
	SeatStatePending   SeatState = "pending"
	SeatStateConfirmed SeatState = "confirmed"
	SeatStateRejected  SeatState = "rejected"
)

type Seat struct {
	ID          string    `json:"id"`
	SeatNumber  string    `json:"seat_number"`
	Row         int       `json:"row,omitempty"`
	Section     string    `json:"section"`
	PriceCents  int64     `json:"price_cents"`
	IsAvailable bool      `json:"is_available"`
	IsLocked    bool      `json:"is_locked,omitempty"`
	LockOwner   string    `json:"lock_owner,omitempty"`
	IsSelected  bool      `json:"is_selected,omitempty"`
	IsWindow    bool      `json:"is_window,omitempty"`
	IsAisle     bool      `json:"is_aisle,omitempty"`
	State       SeatState `json:"state,omitempty"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

func (s Seat) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidSeat)
	}
	if s.SeatNumber == "" {
		return fmt.Errorf("%w: seat number is required for seat %s", ErrInvalidSeat, s.ID)
	}
	if s.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative for seat %s", ErrInvalidSeat, s.ID)
	}
	return nil
}

// Expired reports whether a restored seat lock has lapsed at now.
func (s Seat) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)
}

type SeatLock struct {
	SeatID    string    `json:"seat_id"`
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SeatIDs returns the ids of seats in order.
func SeatIDs(seats []Seat) []string {
	ids := make([]string, 0, len(seats))
	for _, s := range seats {
		ids = append(ids, s.ID)
	}
	return ids
}
