package domain

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidFlight = errors.New("invalid flight")

type Flight struct {
	ID             string         `json:"id"`
	FlightNumber   string         `json:"flight_number,omitempty"`
	FromAirport    string         `json:"from_airport,omitempty"`
	ToAirport      string         `json:"to_airport,omitempty"`
	DepartureTime  time.Time      `json:"departure_time,omitempty"`
	ArrivalTime    time.Time      `json:"arrival_time,omitempty"`
	PriceCents     int64          `json:"price_cents"`
	SearchCriteria SearchCriteria `json:"search_criteria"`
}

type SearchCriteria struct {
	Passengers int `json:"passengers"`
}

// Validate checks the fields the checkout core relies on. Flights come from the
// search collaborator and are otherwise opaque.
func (f *Flight) Validate() error {
	if f == nil {
		return fmt.Errorf("%w: flight is required", ErrInvalidFlight)
	}
	if f.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidFlight)
	}
	if f.PriceCents < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidFlight)
	}
	if f.SearchCriteria.Passengers < 0 {
		return fmt.Errorf("%w: passenger count must not be negative", ErrInvalidFlight)
	}
	return nil
}

// PassengerCount falls back to a single traveller when the search did not say.
func (f *Flight) PassengerCount() int {
	if f == nil || f.SearchCriteria.Passengers <= 0 {
		return 1
	}
	return f.SearchCriteria.Passengers
}
