package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/metrics"
)

// SelectSeat claims seatID for the session. It returns false without touching
// state when the seat is unknown, unavailable, already selected, or every
// passenger already has a seat.
//
// The seat is applied locally as pending, then the whole selection is sent to
// the backend. A refusal rolls the seat back and returns false with a
// seat-conflict error. A network failure leaves the seat pending, publishes a
// retryable notification and still returns true.
func (c *Checkout) SelectSeat(ctx context.Context, seatID string) (bool, error) {
	c.mu.Lock()
	seat, ok := c.inventory.Seat(seatID)
	if !ok || !seat.IsAvailable || seat.IsSelected || c.selectedLocked(seatID) ||
		len(c.session.SelectedSeats) >= len(c.session.Passengers) {
		c.mu.Unlock()
		metrics.SeatSelections.WithLabelValues(metrics.ResultRejected).Inc()
		return false, nil
	}

	c.selVersion++
	version := c.selVersion
	c.seatVersions[seatID] = version

	seat.IsSelected = true
	seat.State = domain.SeatStatePending
	c.session.SelectedSeats = append(c.session.SelectedSeats, seat)
	c.inventory.markSelected(seatID, domain.SeatStatePending)
	c.scheduleLockTimerLocked(c.lockDeadlineLocked())
	c.touchLocked()
	needsSave := c.session.SessionID == "" || !c.persisted
	c.mu.Unlock()

	if needsSave {
		if err := c.SaveSession(ctx, true); err != nil {
			c.reservationFailed(ctx, seatID, err)
			return true, nil
		}
	}

	if err := c.reserve(ctx, seatID, version); domain.KindOf(err) == domain.KindSeatConflict {
		return false, err
	}
	return true, nil
}

func (c *Checkout) selectedLocked(seatID string) bool {
	for _, s := range c.session.SelectedSeats {
		if s.ID == seatID {
			return true
		}
	}
	return false
}

// reserve sends the current selection and applies the reply to the selection
// version it answers. Conflicts are rolled back and network failures reported
// before the error is returned.
func (c *Checkout) reserve(ctx context.Context, seatID string, version uint64) error {
	c.mu.Lock()
	id := c.session.SessionID
	seats := append([]domain.Seat(nil), c.session.SelectedSeats...)
	c.mu.Unlock()

	resp, err := c.backend.ReserveSeats(ctx, id, version, seats)
	if err == nil {
		c.mu.Lock()
		c.applyReservationLocked(version, resp)
		c.mu.Unlock()
		metrics.SeatSelections.WithLabelValues(metrics.ResultOK).Inc()
		return nil
	}
	if errors.Is(err, domain.ErrStaleSelection) {
		c.logger.DebugContext(ctx, "seat selection superseded",
			slog.String("session_id", id),
			slog.Uint64("version", version))
		return nil
	}

	if domain.KindOf(err) != domain.KindSeatConflict {
		return c.reservationFailed(ctx, seatID, err)
	}

	c.mu.Lock()
	if version < c.confirmedVersion {
		// A newer selection was accepted after this one was refused.
		c.mu.Unlock()
		c.logger.DebugContext(ctx, "ignoring refusal of a superseded selection",
			slog.String("session_id", id),
			slog.Uint64("version", version))
		return nil
	}
	rolledBack := c.rollbackLocked(seatID, version, domain.ConflictingSeats(err))
	c.mu.Unlock()

	metrics.SeatSelections.WithLabelValues(metrics.ResultConflict).Inc()
	metrics.SeatConflicts.Add(float64(len(rolledBack)))
	c.logger.WarnContext(ctx, "seat conflict",
		slog.String("session_id", id),
		slog.String("seat_id", seatID),
		slog.Any("rolled_back", rolledBack))

	conflict := &domain.Error{
		Kind:    domain.KindSeatConflict,
		Op:      "SelectSeat",
		Message: fmt.Sprintf("seat %s is no longer available", seatID),
		Err:     err,
	}
	c.publish(ctx, domain.Notification{
		Type:     domain.NotificationSeatConflict,
		Title:    "Seat no longer available",
		Message:  conflict.Message + ", please choose another seat",
		Metadata: map[string]any{"seat_ids": rolledBack},
	})
	return conflict
}

func (c *Checkout) reservationFailed(ctx context.Context, seatID string, err error) error {
	id := c.SessionID()
	err = backendError("SelectSeat", err, retryAction("reserve_seats", map[string]string{
		"session_id": id,
		"seat_id":    seatID,
	}))
	metrics.SeatSelections.WithLabelValues(metrics.ResultError).Inc()
	c.logger.WarnContext(ctx, "seat reservation not confirmed",
		slog.String("session_id", id),
		slog.String("seat_id", seatID),
		slog.String("error", err.Error()))
	c.publish(ctx, c.errorNotification(domain.NotificationNetworkError, "Seat reservation pending", err))
	return err
}

// ReserveSelectedSeats re-sends the current selection, e.g. after a network failure.
func (c *Checkout) ReserveSelectedSeats(ctx context.Context) error {
	c.mu.Lock()
	if len(c.session.SelectedSeats) == 0 {
		c.mu.Unlock()
		return nil
	}
	version := c.selVersion
	last := c.session.SelectedSeats[len(c.session.SelectedSeats)-1].ID
	needsSave := c.session.SessionID == "" || !c.persisted
	c.mu.Unlock()

	if needsSave {
		if err := c.SaveSession(ctx, true); err != nil {
			return err
		}
	}
	return c.reserve(ctx, last, version)
}

func (c *Checkout) applyReservationLocked(version uint64, resp domain.ReserveSeatsResponse) {
	if version > c.confirmedVersion {
		c.confirmedVersion = version
	}
	expiries := make(map[string]time.Time, len(resp.Locks))
	for _, l := range resp.Locks {
		expiries[l.SeatID] = l.ExpiresAt
	}
	for i := range c.session.SelectedSeats {
		s := &c.session.SelectedSeats[i]
		if c.seatVersions[s.ID] > version {
			continue
		}
		if s.State == domain.SeatStatePending {
			s.State = domain.SeatStateConfirmed
			c.inventory.markSelected(s.ID, domain.SeatStateConfirmed)
		}
		if at, ok := expiries[s.ID]; ok {
			s.ExpiresAt = at
		}
	}
}

// rollbackLocked undoes seatID when it is still the selection made at version,
// plus any pending seat the backend named as unavailable.
func (c *Checkout) rollbackLocked(seatID string, version uint64, unavailable []string) []string {
	refused := make(map[string]bool, len(unavailable))
	for _, id := range unavailable {
		refused[id] = true
	}

	var removed []string
	kept := c.session.SelectedSeats[:0]
	for _, s := range c.session.SelectedSeats {
		current := s.ID == seatID && c.seatVersions[s.ID] == version
		if current || refused[s.ID] && s.State == domain.SeatStatePending {
			removed = append(removed, s.ID)
			c.inventory.markRejected(s.ID)
			delete(c.seatVersions, s.ID)
			continue
		}
		kept = append(kept, s)
	}
	c.session.SelectedSeats = kept
	if len(kept) == 0 {
		c.stopLockTimerLocked()
	}
	c.touchLocked()
	return removed
}

// DeselectSeat releases seatID. The remaining selection is re-sent so the
// backend drops the released lock; that call is best effort.
func (c *Checkout) DeselectSeat(ctx context.Context, seatID string) {
	c.mu.Lock()
	if !c.removeSeatLocked(seatID) {
		c.mu.Unlock()
		return
	}
	c.selVersion++
	version := c.selVersion
	id := c.session.SessionID
	persisted := c.persisted
	remaining := append([]domain.Seat(nil), c.session.SelectedSeats...)
	c.mu.Unlock()

	if id != "" && persisted {
		c.syncSeats(ctx, id, version, remaining)
	}
}

func (c *Checkout) removeSeatLocked(seatID string) bool {
	for i, s := range c.session.SelectedSeats {
		if s.ID != seatID {
			continue
		}
		c.session.SelectedSeats = append(c.session.SelectedSeats[:i], c.session.SelectedSeats[i+1:]...)
		c.inventory.markDeselected(seatID)
		delete(c.seatVersions, seatID)
		if len(c.session.SelectedSeats) == 0 {
			c.stopLockTimerLocked()
		}
		c.touchLocked()
		return true
	}
	return false
}

// ClearAllSeats deselects everything, e.g. when the flight changes.
func (c *Checkout) ClearAllSeats(ctx context.Context) {
	c.mu.Lock()
	if len(c.session.SelectedSeats) == 0 {
		c.mu.Unlock()
		return
	}
	c.clearSeatsLocked()
	c.selVersion++
	version := c.selVersion
	id := c.session.SessionID
	persisted := c.persisted
	c.mu.Unlock()

	if id != "" && persisted {
		c.syncSeats(ctx, id, version, nil)
	}
}

func (c *Checkout) clearSeatsLocked() int {
	n := len(c.session.SelectedSeats)
	c.session.SelectedSeats = nil
	c.inventory.clearSelection()
	c.seatVersions = make(map[string]uint64)
	c.stopLockTimerLocked()
	c.touchLocked()
	return n
}

func (c *Checkout) syncSeats(ctx context.Context, id string, version uint64, seats []domain.Seat) {
	resp, err := c.backend.ReserveSeats(ctx, id, version, seats)
	if errors.Is(err, domain.ErrStaleSelection) {
		return
	}
	if err != nil {
		c.logger.WarnContext(ctx, "failed to release seats",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		return
	}
	c.mu.Lock()
	c.applyReservationLocked(version, resp)
	c.mu.Unlock()
}

// ExtendSession asks the backend for more time and moves the lock timer to the
// new deadline. Seats whose lock the backend could not extend are dropped and
// reported. On failure the timer keeps its schedule.
func (c *Checkout) ExtendSession(ctx context.Context) error {
	id := c.SessionID()
	if id == "" {
		return domain.NewValidationError("ExtendSession", "session has not been saved yet")
	}

	resp, err := c.backend.ExtendReservation(ctx, id)
	if err != nil {
		err = backendError("ExtendSession", err, retryAction("extend_session", map[string]string{"session_id": id}))
		c.logger.WarnContext(ctx, "failed to extend session",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
		return err
	}

	c.mu.Lock()
	if !resp.ExpiresAt.IsZero() {
		c.session.ExpiresAt = resp.ExpiresAt
	}
	lost := c.dropLostSeatsLocked(resp)
	if len(c.session.SelectedSeats) == 0 {
		c.stopLockTimerLocked()
	} else {
		at := resp.SeatLockExpiresAt
		if at.IsZero() {
			at = c.lockDeadlineLocked()
		} else if !c.session.ExpiresAt.IsZero() && c.session.ExpiresAt.Before(at) {
			at = c.session.ExpiresAt
		}
		for i := range c.session.SelectedSeats {
			c.session.SelectedSeats[i].ExpiresAt = at
		}
		c.scheduleLockTimerLocked(at)
	}
	expiresAt := c.session.ExpiresAt
	c.mu.Unlock()

	if err := c.resume.Save(id, expiresAt); err != nil {
		c.logger.WarnContext(ctx, "failed to update resume store", slog.String("error", err.Error()))
	}
	if len(lost) > 0 {
		metrics.SeatLockExpirations.Inc()
		c.logger.InfoContext(ctx, "seat locks lost on extension",
			slog.String("session_id", id),
			slog.Any("seat_ids", lost))
		c.publish(ctx, domain.Notification{
			Type:     domain.NotificationSeatsExpired,
			Title:    "Seat selection expired",
			Message:  fmt.Sprintf("%d seat reservation(s) could not be extended, please select again", len(lost)),
			Metadata: map[string]any{"seats": len(lost), "seat_ids": lost},
		})
	}
	return nil
}

// dropLostSeatsLocked removes confirmed seats the backend no longer holds.
// Pending seats have not reached the backend yet and are kept.
func (c *Checkout) dropLostSeatsLocked(resp domain.ExtendReservationResponse) []string {
	lost := make(map[string]bool, len(resp.LostSeatIDs))
	for _, seatID := range resp.LostSeatIDs {
		lost[seatID] = true
	}
	var held map[string]bool
	if resp.KeptSeatIDs != nil {
		held = make(map[string]bool, len(resp.KeptSeatIDs))
		for _, seatID := range resp.KeptSeatIDs {
			held[seatID] = true
		}
	}

	var removed []string
	kept := c.session.SelectedSeats[:0]
	for _, s := range c.session.SelectedSeats {
		if s.State == domain.SeatStateConfirmed && (lost[s.ID] || held != nil && !held[s.ID]) {
			removed = append(removed, s.ID)
			c.inventory.markDeselected(s.ID)
			delete(c.seatVersions, s.ID)
			continue
		}
		kept = append(kept, s)
	}
	c.session.SelectedSeats = kept
	if len(removed) > 0 {
		c.touchLocked()
	}
	return removed
}

// SeatLockExpiresAt is the deadline of the session-wide lock timer, zero when
// no seat is held.
func (c *Checkout) SeatLockExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil {
		return time.Time{}
	}
	return c.session.SeatLockExpiresAt
}

// lockDeadlineLocked is one lock TTL from now, never past the session expiry.
func (c *Checkout) lockDeadlineLocked() time.Time {
	at := c.now().Add(c.cfg.SeatLockTTL)
	if !c.session.ExpiresAt.IsZero() && c.session.ExpiresAt.Before(at) {
		at = c.session.ExpiresAt
	}
	return at
}

func (c *Checkout) scheduleLockTimerLocked(at time.Time) {
	c.stopLockTimerLocked()
	c.timerGen++
	gen := c.timerGen
	d := at.Sub(c.now())
	if d < 0 {
		d = 0
	}
	c.session.SeatLockExpiresAt = at
	c.timer = c.scheduler.AfterFunc(d, func() { c.onLockExpired(gen) })
}

func (c *Checkout) stopLockTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.session.SeatLockExpiresAt = time.Time{}
}

func (c *Checkout) onLockExpired(gen uint64) {
	c.mu.Lock()
	if gen != c.timerGen || c.timer == nil {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	n := c.clearSeatsLocked()
	c.selVersion++
	id := c.session.SessionID
	c.mu.Unlock()

	ctx := context.Background()
	metrics.SeatLockExpirations.Inc()
	c.logger.InfoContext(ctx, "seat selection expired",
		slog.String("session_id", id),
		slog.Int("seats", n))
	c.publish(ctx, domain.Notification{
		Type:     domain.NotificationSeatsExpired,
		Title:    "Seat selection expired",
		Message:  "your seat reservation has expired, please select your seats again",
		Metadata: map[string]any{"seats": n},
	})
}
