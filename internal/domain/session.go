package domain

import (
	"strings"
	"time"
)

type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusCancelled SessionStatus = "CANCELLED"
	SessionStatusExpired   SessionStatus = "EXPIRED"
)

type BookingSession struct {
	SessionID         string        `json:"session_id,omitempty"`
	UserID            string        `json:"user_id,omitempty"`
	Status            SessionStatus `json:"status,omitempty"`
	CurrentStep       int           `json:"current_step"`
	SelectedFlight    *Flight       `json:"selected_flight,omitempty"`
	ReturnFlight      *Flight       `json:"return_flight,omitempty"`
	Passengers        []Passenger   `json:"passengers"`
	SelectedSeats     []Seat        `json:"selected_seats"`
	ContactInfo       ContactInfo   `json:"contact_info"`
	PaymentInfo       PaymentInfo   `json:"payment_info"`
	Extras            Extras        `json:"extras"`
	PromoCode         string        `json:"promo_code,omitempty"`
	AppliedDiscount   int64         `json:"applied_discount"`
	Pricing           FareBreakdown `json:"pricing"`
	ExpiresAt         time.Time     `json:"expires_at,omitempty"`
	SeatLockExpiresAt time.Time     `json:"seat_lock_expires_at,omitempty"`
	UpdatedAt         time.Time     `json:"updated_at,omitempty"`
	// SeatVersion is the newest seat selection version applied to the session.
	SeatVersion uint64 `json:"seat_version,omitempty"`
	// Version is the stored row version; writes only succeed against it.
	Version int64 `json:"-"`
}

type Passenger struct {
	ID              int           `json:"id"`
	Type            string        `json:"type"`
	Title           string        `json:"title,omitempty"`
	FirstName       string        `json:"first_name"`
	LastName        string        `json:"last_name"`
	DateOfBirth     string        `json:"date_of_birth"`
	Gender          string        `json:"gender,omitempty"`
	Nationality     string        `json:"nationality,omitempty"`
	PassportNumber  string        `json:"passport_number,omitempty"`
	PassportExpiry  string        `json:"passport_expiry,omitempty"`
	SpecialRequests []string      `json:"special_requests,omitempty"`
	FrequentFlyer   FrequentFlyer `json:"frequent_flyer,omitempty"`
}

type FrequentFlyer struct {
	Program string `json:"program,omitempty"`
	Number  string `json:"number,omitempty"`
}

func (p Passenger) Complete() bool {
	return strings.TrimSpace(p.FirstName) != "" &&
		strings.TrimSpace(p.LastName) != "" &&
		strings.TrimSpace(p.DateOfBirth) != ""
}

// NewPassengers builds count blank adult passenger records numbered from 1.
func NewPassengers(count int) []Passenger {
	passengers := make([]Passenger, count)
	for i := range passengers {
		passengers[i] = Passenger{ID: i + 1, Type: "adult"}
	}
	return passengers
}

type ContactInfo struct {
	Email            string           `json:"email"`
	Phone            string           `json:"phone"`
	EmergencyContact EmergencyContact `json:"emergency_contact"`
}

type EmergencyContact struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Relationship string `json:"relationship"`
}

const PaymentMethodCreditCard = "credit_card"

type PaymentInfo struct {
	Method         string         `json:"method"`
	CardNumber     string         `json:"card_number,omitempty"`
	ExpiryDate     string         `json:"expiry_date,omitempty"`
	CVV            string         `json:"cvv,omitempty"`
	NameOnCard     string         `json:"name_on_card,omitempty"`
	BillingAddress BillingAddress `json:"billing_address"`
}

type BillingAddress struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zip_code"`
	Country string `json:"country"`
}

// ShapeValid checks that the fields required for the method are present. No
// payment is captured.
func (p PaymentInfo) ShapeValid() bool {
	switch p.Method {
	case "":
		return false
	case PaymentMethodCreditCard, "debit_card":
		return strings.TrimSpace(p.CardNumber) != "" && strings.TrimSpace(p.NameOnCard) != ""
	default:
		return true
	}
}

// Sanitized returns a copy safe to leave the process: the card number keeps its
// last four digits and the CVV is dropped.
func (p PaymentInfo) Sanitized() PaymentInfo {
	out := p
	out.CVV = ""
	out.CardNumber = MaskCardNumber(p.CardNumber)
	return out
}

func MaskCardNumber(number string) string {
	digits := make([]rune, 0, len(number))
	for _, r := range number {
		if r >= '0' && r <= '9' {
			digits = append(digits, r)
		}
	}
	if len(digits) == 0 {
		return ""
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + string(digits[len(digits)-4:])
}

type Extras struct {
	Meals     []Meal    `json:"meals"`
	Baggage   []Baggage `json:"baggage"`
	Insurance bool      `json:"insurance"`
	Lounge    bool      `json:"lounge"`
	FastTrack bool      `json:"fast_track"`
	WiFi      bool      `json:"wifi"`
}

type Meal struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type Baggage struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
}

// Snapshot returns a deep enough copy for serialization outside the owner's
// lock, with payment data sanitized.
func (s *BookingSession) Snapshot() BookingSession {
	out := *s
	out.Passengers = append([]Passenger(nil), s.Passengers...)
	out.SelectedSeats = append([]Seat(nil), s.SelectedSeats...)
	out.Extras.Meals = append([]Meal(nil), s.Extras.Meals...)
	out.Extras.Baggage = append([]Baggage(nil), s.Extras.Baggage...)
	if s.SelectedFlight != nil {
		f := *s.SelectedFlight
		out.SelectedFlight = &f
	}
	if s.ReturnFlight != nil {
		f := *s.ReturnFlight
		out.ReturnFlight = &f
	}
	out.PaymentInfo = s.PaymentInfo.Sanitized()
	return out
}
