package checkout

import (
	"context"
	"sort"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

// SeatInventory is the client's view of one flight's seat map. It is not
// synchronized; Checkout guards it and hands out copies.
type SeatInventory struct {
	flightID string
	seats    []domain.Seat
	index    map[string]int
}

func NewSeatInventory(flightID string, seats []domain.Seat) *SeatInventory {
	inv := &SeatInventory{
		flightID: flightID,
		seats:    append([]domain.Seat(nil), seats...),
		index:    make(map[string]int, len(seats)),
	}
	for i, s := range inv.seats {
		inv.index[s.ID] = i
	}
	return inv
}

func (inv *SeatInventory) FlightID() string {
	return inv.flightID
}

func (inv *SeatInventory) Seat(id string) (domain.Seat, bool) {
	i, ok := inv.index[id]
	if !ok {
		return domain.Seat{}, false
	}
	return inv.seats[i], true
}

func (inv *SeatInventory) Seats() []domain.Seat {
	return append([]domain.Seat(nil), inv.seats...)
}

// Available lists seats that can still be selected.
func (inv *SeatInventory) Available() []domain.Seat {
	var out []domain.Seat
	for _, s := range inv.seats {
		if s.IsAvailable && !s.IsSelected {
			out = append(out, s)
		}
	}
	return out
}

// BySection groups seats by cabin section, keeping seat map order within a section.
func (inv *SeatInventory) BySection() map[string][]domain.Seat {
	out := make(map[string][]domain.Seat)
	for _, s := range inv.seats {
		out[s.Section] = append(out[s.Section], s)
	}
	return out
}

func (inv *SeatInventory) update(id string, fn func(*domain.Seat)) {
	if i, ok := inv.index[id]; ok {
		fn(&inv.seats[i])
	}
}

func (inv *SeatInventory) markSelected(id string, state domain.SeatState) {
	inv.update(id, func(s *domain.Seat) {
		s.IsSelected = true
		s.State = state
	})
}

func (inv *SeatInventory) markDeselected(id string) {
	inv.update(id, func(s *domain.Seat) {
		s.IsSelected = false
		s.State = domain.SeatStateNone
	})
}

func (inv *SeatInventory) markRejected(id string) {
	inv.update(id, func(s *domain.Seat) {
		s.IsSelected = false
		s.IsAvailable = false
		s.State = domain.SeatStateRejected
	})
}

func (inv *SeatInventory) setPrice(id string, cents int64) {
	inv.update(id, func(s *domain.Seat) {
		s.PriceCents = cents
	})
}

func (inv *SeatInventory) clearSelection() {
	for i := range inv.seats {
		if inv.seats[i].IsSelected {
			inv.seats[i].IsSelected = false
			inv.seats[i].State = domain.SeatStateNone
		}
	}
}

// syncSelection marks exactly the given seats as selected.
func (inv *SeatInventory) syncSelection(selected []domain.Seat) {
	inv.clearSelection()
	for _, s := range selected {
		inv.markSelected(s.ID, s.State)
	}
}

// SetSeatMap replaces the inventory for the selected flight. Seats already in
// the session stay selected.
func (c *Checkout) SetSeatMap(seats []domain.Seat) error {
	for _, s := range seats {
		if err := s.Validate(); err != nil {
			return domain.NewValidationError("SetSeatMap", err.Error())
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	flightID := ""
	if c.session.SelectedFlight != nil {
		flightID = c.session.SelectedFlight.ID
	}
	c.inventory = NewSeatInventory(flightID, seats)
	c.inventory.syncSelection(c.session.SelectedSeats)
	return nil
}

// LoadSeatMap fetches the selected flight's seat map from the backend.
func (c *Checkout) LoadSeatMap(ctx context.Context) error {
	c.mu.Lock()
	flight := c.session.SelectedFlight
	id := c.session.SessionID
	c.mu.Unlock()
	if flight == nil {
		return domain.NewValidationError("LoadSeatMap", "select a flight first")
	}

	seats, err := c.backend.SeatMap(ctx, flight.ID, id)
	if err != nil {
		err = backendError("LoadSeatMap", err, retryAction("load_seat_map", map[string]string{"flight_id": flight.ID}))
		c.publish(ctx, c.errorNotification(domain.NotificationLoadError, "Could not load seat map", err))
		return err
	}
	sort.SliceStable(seats, func(i, j int) bool {
		if seats[i].Row != seats[j].Row {
			return seats[i].Row < seats[j].Row
		}
		return seats[i].SeatNumber < seats[j].SeatNumber
	})
	return c.SetSeatMap(seats)
}

func (c *Checkout) AvailableSeats() []domain.Seat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inventory.Available()
}

func (c *Checkout) SeatsBySection() map[string][]domain.Seat {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inventory.BySection()
}

func (c *Checkout) Seat(id string) (domain.Seat, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inventory.Seat(id)
}
