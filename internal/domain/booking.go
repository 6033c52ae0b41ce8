package domain

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

type BookingStatus string

const (
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
)

// ReferenceAlphabet leaves out characters that are easily confused (I, O, 0, 1).
const ReferenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const ReferenceLength = 6

type CompletedBooking struct {
	ID               int64         `json:"id,omitempty"`
	BookingReference string        `json:"booking_reference"`
	SessionID        string        `json:"session_id"`
	UserID           string        `json:"user_id,omitempty"`
	Status           BookingStatus `json:"status"`
	Flight           *Flight       `json:"flight"`
	ReturnFlight     *Flight       `json:"return_flight,omitempty"`
	Seats            []Seat        `json:"seats"`
	Passengers       []Passenger   `json:"passengers"`
	Contact          ContactInfo   `json:"contact"`
	Payment          PaymentInfo   `json:"payment"`
	Extras           Extras        `json:"extras"`
	PromoCode        string        `json:"promo_code,omitempty"`
	Pricing          FareBreakdown `json:"pricing"`
	Tickets          []Ticket      `json:"tickets"`
	ConfirmedAt      time.Time     `json:"confirmed_at"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
}

type Ticket struct {
	TicketNumber string `json:"ticket_number"`
	PassengerID  int    `json:"passenger_id"`
	SeatNumber   string `json:"seat_number,omitempty"`
	Barcode      string `json:"barcode"`
}

// BookingPayload is everything the finalizer submits in one completion request.
type BookingPayload struct {
	Flight       *Flight       `json:"flight"`
	ReturnFlight *Flight       `json:"return_flight,omitempty"`
	Seats        []Seat        `json:"seats"`
	Passengers   []Passenger   `json:"passengers"`
	Contact      ContactInfo   `json:"contact"`
	Payment      PaymentInfo   `json:"payment"`
	Extras       Extras        `json:"extras"`
	Pricing      FareBreakdown `json:"pricing"`
	PromoCode    string        `json:"promo_code,omitempty"`
	Discount     int64         `json:"discount"`
}

type BookingPage struct {
	Bookings []CompletedBooking `json:"bookings"`
	Total    int                `json:"total"`
	Limit    int                `json:"limit"`
	Offset   int                `json:"offset"`
}

func NewBookingReference() (string, error) {
	return randomString(ReferenceAlphabet, ReferenceLength)
}

func ValidBookingReference(ref string) bool {
	if len(ref) != ReferenceLength {
		return false
	}
	for _, r := range ref {
		found := false
		for _, a := range ReferenceAlphabet {
			if r == a {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// NewTickets issues one ticket per passenger; seats are assigned in passenger order.
func NewTickets(reference string, passengers []Passenger, seats []Seat) ([]Ticket, error) {
	tickets := make([]Ticket, 0, len(passengers))
	for i, p := range passengers {
		code, err := randomString(ReferenceAlphabet, 10)
		if err != nil {
			return nil, err
		}
		t := Ticket{
			TicketNumber: fmt.Sprintf("%s-%03d", reference, i+1),
			PassengerID:  p.ID,
			Barcode:      code,
		}
		if i < len(seats) {
			t.SeatNumber = seats[i].SeatNumber
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

func randomString(alphabet string, n int) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	out := make([]byte, n)
	for i := range out {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate random string: %w", err)
		}
		out[i] = alphabet[idx.Int64()]
	}
	return string(out), nil
}
