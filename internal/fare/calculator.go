// Package fare derives a price breakdown from checkout inputs. Everything here
// is pure: no I/O and no clock.
package fare

import (
	"math"
	"strings"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

const (
	TaxRate = 0.15

	InsuranceCents = 4500
	LoungeCents    = 6500 // per passenger
	FastTrackCents = 2500 // per passenger
	WiFiCents      = 1500
)

var promos = map[string]domain.Promo{
	"SAVE10":  {Code: "SAVE10", Type: domain.PromoPercentage, Rate: 0.10},
	"SAVE50":  {Code: "SAVE50", Type: domain.PromoFixed, AmountCents: 5000},
	"WELCOME": {Code: "WELCOME", Type: domain.PromoPercentage, Rate: 0.15},
	"STUDENT": {Code: "STUDENT", Type: domain.PromoPercentage, Rate: 0.20},
}

// Input is the subset of session state pricing depends on.
type Input struct {
	Flight       *domain.Flight
	ReturnFlight *domain.Flight
	Passengers   int
	Seats        []domain.Seat
	Extras       domain.Extras
	PromoCode    string
}

func InputFromSession(s *domain.BookingSession) Input {
	return Input{
		Flight:       s.SelectedFlight,
		ReturnFlight: s.ReturnFlight,
		Passengers:   len(s.Passengers),
		Seats:        s.SelectedSeats,
		Extras:       s.Extras,
		PromoCode:    s.PromoCode,
	}
}

func Calculate(in Input) domain.FareBreakdown {
	var b domain.FareBreakdown
	b.BaseFare = BaseFare(in.Flight, in.ReturnFlight, in.Passengers)
	b.SeatsTotal = SeatsTotal(in.Seats)
	b.ExtrasTotal = ExtrasTotal(in.Extras, in.Passengers)
	b.TaxesAndFees = Taxes(b.BaseFare)
	b.Subtotal = b.BaseFare + b.SeatsTotal + b.ExtrasTotal + b.TaxesAndFees

	if promo, ok := LookupPromo(in.PromoCode); ok {
		b.Discount = Discount(promo, b.Subtotal)
	}
	b.Total = b.Subtotal - b.Discount
	return b
}

func BaseFare(flight, returnFlight *domain.Flight, passengers int) int64 {
	var total int64
	if flight != nil {
		total += flight.PriceCents * int64(passengers)
	}
	if returnFlight != nil {
		total += returnFlight.PriceCents * int64(passengers)
	}
	return total
}

func SeatsTotal(seats []domain.Seat) int64 {
	var total int64
	for _, s := range seats {
		total += s.PriceCents
	}
	return total
}

func ExtrasTotal(e domain.Extras, passengers int) int64 {
	pax := int64(passengers)
	var total int64
	for _, m := range e.Meals {
		total += m.PriceCents * pax
	}
	for _, b := range e.Baggage {
		total += b.PriceCents
	}
	if e.Insurance {
		total += InsuranceCents
	}
	if e.Lounge {
		total += LoungeCents * pax
	}
	if e.FastTrack {
		total += FastTrackCents * pax
	}
	if e.WiFi {
		total += WiFiCents
	}
	return total
}

func Taxes(baseFare int64) int64 {
	return int64(math.Round(float64(baseFare) * TaxRate))
}

// Discount never exceeds the subtotal, so totals cannot go negative.
func Discount(p domain.Promo, subtotal int64) int64 {
	var d int64
	switch p.Type {
	case domain.PromoPercentage:
		d = int64(math.Round(float64(subtotal) * p.Rate))
	case domain.PromoFixed:
		d = p.AmountCents
	}
	if d < 0 {
		return 0
	}
	if d > subtotal {
		return subtotal
	}
	return d
}

func LookupPromo(code string) (domain.Promo, bool) {
	p, ok := promos[NormalizePromoCode(code)]
	return p, ok
}

func NormalizePromoCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// LoyaltyPoints earns one point per whole currency unit of the total.
func LoyaltyPoints(total int64) int64 {
	if total <= 0 {
		return 0
	}
	return total / 100
}
