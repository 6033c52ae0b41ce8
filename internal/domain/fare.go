package domain

import "time"

type FareBreakdown struct {
	BaseFare     int64 `json:"base_fare"`
	SeatsTotal   int64 `json:"seats_total"`
	ExtrasTotal  int64 `json:"extras_total"`
	TaxesAndFees int64 `json:"taxes_and_fees"`
	Subtotal     int64 `json:"subtotal"`
	Discount     int64 `json:"discount"`
	Total        int64 `json:"total"`
	// Revision increments on every client-side recompute.
	Revision int64 `json:"revision,omitempty"`
}

// Consistent reports whether the total matches its components.
func (f FareBreakdown) Consistent() bool {
	return f.Subtotal == f.BaseFare+f.SeatsTotal+f.ExtrasTotal+f.TaxesAndFees &&
		f.Total == f.Subtotal-f.Discount &&
		f.Total >= 0
}

type PromoType string

const (
	PromoPercentage PromoType = "percentage"
	PromoFixed      PromoType = "fixed"
)

type Promo struct {
	Code string    `json:"code"`
	Type PromoType `json:"type"`
	// Rate is used by percentage promos, AmountCents by fixed ones.
	Rate        float64 `json:"rate,omitempty"`
	AmountCents int64   `json:"amount_cents,omitempty"`
}

// PricingValidation is the backend's re-price of a session.
type PricingValidation struct {
	Valid            bool             `json:"valid"`
	Pricing          FareBreakdown    `json:"pricing"`
	FlightPriceCents int64            `json:"flight_price_cents"`
	SeatPrices       map[string]int64 `json:"seat_prices,omitempty"`
	UnavailableSeats []string         `json:"unavailable_seats,omitempty"`
	ValidatedAt      time.Time        `json:"validated_at"`
	ExpiresAt        time.Time        `json:"expires_at,omitempty"`
}
