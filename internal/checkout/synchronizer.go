package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/metrics"
)

// SaveSession persists a sanitized snapshot of the session. Only one save runs
// at a time: a non-forced call made while a save is in flight returns at once
// and the in-flight save is followed by one more save of the newest state. A
// forced call waits for the in-flight save and then saves.
func (c *Checkout) SaveSession(ctx context.Context, force bool) error {
	c.mu.Lock()
	for c.saving {
		if !force {
			c.resave = true
			c.mu.Unlock()
			metrics.SessionSaves.WithLabelValues(metrics.ResultSkipped).Inc()
			return nil
		}
		done := c.saveDone
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	c.saving = true
	c.resave = false
	c.saveDone = make(chan struct{})
	c.mu.Unlock()

	err := c.saveOnce(ctx)
	for {
		c.mu.Lock()
		if err != nil || !c.resave {
			c.saving = false
			c.resave = false
			close(c.saveDone)
			c.mu.Unlock()
			return err
		}
		c.resave = false
		c.mu.Unlock()
		err = c.saveOnce(ctx)
	}
}

func (c *Checkout) saveOnce(ctx context.Context) error {
	c.mu.Lock()
	if c.session.SessionID == "" {
		c.session.SessionID = c.newID()
	}
	snapshot := c.session.Snapshot()
	changes := c.changes
	c.mu.Unlock()

	id := snapshot.SessionID
	stored, err := c.backend.SaveSession(ctx, snapshot)
	if err != nil {
		metrics.SessionSaves.WithLabelValues(metrics.ResultError).Inc()
		return backendError("SaveSession", err, retryAction("save_session", map[string]string{"session_id": id}))
	}
	metrics.SessionSaves.WithLabelValues(metrics.ResultOK).Inc()

	c.mu.Lock()
	c.persisted = true
	if changes > c.savedChanges {
		c.savedChanges = changes
	}
	if !stored.ExpiresAt.IsZero() {
		c.session.ExpiresAt = stored.ExpiresAt
	}
	if stored.UserID != "" {
		c.session.UserID = stored.UserID
	}
	c.session.UpdatedAt = stored.UpdatedAt
	expiresAt := c.session.ExpiresAt
	c.mu.Unlock()

	if err := c.resume.Save(id, expiresAt); err != nil {
		c.logger.WarnContext(ctx, "failed to update resume store",
			slog.String("session_id", id),
			slog.String("error", err.Error()))
	}
	return nil
}

// ResolveSessionRef accepts a raw session id or a URL carrying it in the
// "session" or "sessionId" query parameter.
func ResolveSessionRef(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if !strings.Contains(ref, "?") && !strings.Contains(ref, "://") {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	q := u.Query()
	if id := q.Get("session"); id != "" {
		return id
	}
	return q.Get("sessionId")
}

// LoadSession restores a session from the backend. The id comes from ref when
// given, else from the resume store, else from the session already in memory.
// Seats whose lock has lapsed are dropped and reported.
func (c *Checkout) LoadSession(ctx context.Context, ref string) error {
	const op = "LoadSession"

	id := ResolveSessionRef(ref)
	if id == "" {
		stored, err := c.resume.Load()
		if err != nil {
			c.logger.WarnContext(ctx, "failed to read resume store", slog.String("error", err.Error()))
		}
		id = stored
	}
	if id == "" {
		id = c.SessionID()
	}
	if id == "" {
		return domain.NewValidationError(op, "no session to resume")
	}

	s, err := c.backend.GetSession(ctx, id)
	if err != nil {
		err = backendError(op, err, retryAction("load_session", map[string]string{"session_id": id}))
		if domain.KindOf(err) == domain.KindSessionExpired {
			c.clearResume(ctx)
		}
		c.publish(ctx, c.errorNotification(domain.NotificationLoadError, "Could not restore your booking", err))
		return err
	}

	now := c.now()
	if (!s.ExpiresAt.IsZero() && !s.ExpiresAt.After(now)) ||
		(s.Status != "" && s.Status != domain.SessionStatusActive) {
		c.clearResume(ctx)
		return &domain.Error{
			Kind:    domain.KindSessionExpired,
			Op:      op,
			Message: "your booking session has expired, please start again",
		}
	}

	var kept []domain.Seat
	dropped := 0
	for _, seat := range s.SelectedSeats {
		if seat.Expired(now) {
			dropped++
			continue
		}
		if seat.State == domain.SeatStateNone || seat.State == domain.SeatStateRejected {
			seat.State = domain.SeatStateConfirmed
		}
		seat.IsSelected = true
		kept = append(kept, seat)
	}

	c.mu.Lock()
	c.stopLockTimerLocked()
	if s.SessionID == "" {
		s.SessionID = id
	}
	if s.CurrentStep < StepFlightSelection || s.CurrentStep >= StepConfirmation {
		s.CurrentStep = StepFlightSelection
	}
	s.SelectedSeats = kept
	if s.SelectedFlight != nil && len(s.Passengers) == 0 {
		s.Passengers = domain.NewPassengers(s.SelectedFlight.PassengerCount())
	}
	c.session = s

	// Continue the numbering the backend already saw.
	if s.SeatVersion > c.selVersion {
		c.selVersion = s.SeatVersion
	}
	c.selVersion++
	c.seatVersions = make(map[string]uint64, len(kept))
	for _, seat := range kept {
		c.seatVersions[seat.ID] = c.selVersion
	}
	if s.SelectedFlight != nil && c.inventory.FlightID() == s.SelectedFlight.ID {
		c.inventory.syncSelection(kept)
	} else {
		c.inventory = NewSeatInventory(flightIDOf(s.SelectedFlight), nil)
	}

	if len(kept) > 0 {
		c.scheduleLockTimerLocked(c.restoredDeadlineLocked(kept))
	}

	c.persisted = true
	c.priceDrift = false
	c.validatedAt = time.Time{}
	c.recomputeLocked()
	c.savedChanges = c.changes
	if dropped > 0 {
		c.changes++
	}
	expiresAt := c.session.ExpiresAt
	c.mu.Unlock()

	if err := c.resume.Save(id, expiresAt); err != nil {
		c.logger.WarnContext(ctx, "failed to update resume store", slog.String("error", err.Error()))
	}

	c.logger.InfoContext(ctx, "session restored",
		slog.String("session_id", id),
		slog.Int("seats", len(kept)),
		slog.Int("expired_seats", dropped))
	if dropped > 0 {
		c.publish(ctx, domain.Notification{
			Type:     domain.NotificationSeatsExpired,
			Title:    "Seat selection expired",
			Message:  fmt.Sprintf("%d seat reservation(s) expired while you were away, please select again", dropped),
			Metadata: map[string]any{"seats": dropped},
		})
	}
	return nil
}

// restoredDeadlineLocked picks the earliest seat lock expiry, falling back to a
// fresh lock window.
func (c *Checkout) restoredDeadlineLocked(seats []domain.Seat) time.Time {
	var at time.Time
	for _, s := range seats {
		if s.ExpiresAt.IsZero() {
			continue
		}
		if at.IsZero() || s.ExpiresAt.Before(at) {
			at = s.ExpiresAt
		}
	}
	if at.IsZero() {
		return c.lockDeadlineLocked()
	}
	if !c.session.ExpiresAt.IsZero() && c.session.ExpiresAt.Before(at) {
		at = c.session.ExpiresAt
	}
	return at
}

func flightIDOf(f *domain.Flight) string {
	if f == nil {
		return ""
	}
	return f.ID
}

// ValidateCurrentSession asks the backend to re-price the session. Price
// changes are applied locally and reported; until AcknowledgePriceUpdate is
// called the result is a price-drift error.
func (c *Checkout) ValidateCurrentSession(ctx context.Context) error {
	const op = "ValidateCurrentSession"
	id := c.SessionID()
	if id == "" {
		return domain.NewValidationError(op, "session has not been saved yet")
	}

	v, err := c.backend.ValidatePricing(ctx, id)
	if err != nil {
		return backendError(op, err, retryAction("validate_pricing", map[string]string{"session_id": id}))
	}

	c.mu.Lock()
	oldTotal := c.session.Pricing.Total
	// The backend priced exactly what we hold only when nothing is unsaved
	// and every seat has been confirmed.
	inSync := !c.dirtyLocked() && !c.hasPendingLocked()
	changed := false
	if f := c.session.SelectedFlight; f != nil && v.FlightPriceCents > 0 && f.PriceCents != v.FlightPriceCents {
		f.PriceCents = v.FlightPriceCents
		changed = true
	}
	for i := range c.session.SelectedSeats {
		s := &c.session.SelectedSeats[i]
		if price, ok := v.SeatPrices[s.ID]; ok && price != s.PriceCents {
			s.PriceCents = price
			c.inventory.setPrice(s.ID, price)
			changed = true
		}
	}
	var rolledBack []string
	gone := make(map[string]bool, len(v.UnavailableSeats))
	for _, seatID := range v.UnavailableSeats {
		gone[seatID] = true
	}
	for _, s := range c.session.SelectedSeats {
		// A confirmed seat the backend did not price is no longer held.
		if _, priced := v.SeatPrices[s.ID]; !priced && s.State == domain.SeatStateConfirmed {
			gone[s.ID] = true
		}
	}
	if len(gone) > 0 {
		kept := c.session.SelectedSeats[:0]
		for _, s := range c.session.SelectedSeats {
			if gone[s.ID] {
				rolledBack = append(rolledBack, s.ID)
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
		changed = changed || len(rolledBack) > 0
	}
	if changed {
		c.touchLocked()
		c.priceDrift = true
	}
	if inSync && !changed && (!v.Valid || v.Pricing.Total != c.session.Pricing.Total) {
		c.adoptPricingLocked(v.Pricing)
		c.priceDrift = true
		changed = true
	}
	if !v.ExpiresAt.IsZero() {
		c.session.ExpiresAt = v.ExpiresAt
	}
	newTotal := c.session.Pricing.Total
	c.validatedRevision = c.session.Pricing.Revision
	c.validatedAt = c.now()
	drift := c.priceDrift
	c.mu.Unlock()

	if changed {
		c.logger.InfoContext(ctx, "session re-priced",
			slog.String("session_id", id),
			slog.Int64("old_total", oldTotal),
			slog.Int64("new_total", newTotal))
		c.publish(ctx, domain.Notification{
			Type:       domain.NotificationPriceUpdate,
			Title:      "Price updated",
			Message:    "the price of your booking has changed, please review the new total",
			Actionable: true,
			Actions:    []domain.Action{{Label: "Accept new price", Operation: "acknowledge_price_update"}},
			Metadata: map[string]any{
				"old_total":       oldTotal,
				"new_total":       newTotal,
				"unavailable_ids": rolledBack,
			},
		})
	}
	if drift {
		return &domain.Error{
			Kind:    domain.KindPriceDrift,
			Op:      op,
			Message: "prices have changed, review the updated total",
			Action:  &domain.Action{Label: "Accept new price", Operation: "acknowledge_price_update"},
		}
	}
	return nil
}

// adoptPricingLocked takes the backend's breakdown when its total disagrees
// with ours for the same inputs.
func (c *Checkout) adoptPricingLocked(p domain.FareBreakdown) {
	if p.Total == c.session.Pricing.Total {
		return
	}
	p.Revision = c.session.Pricing.Revision + 1
	c.session.Pricing = p
	c.session.AppliedDiscount = p.Discount
	c.changes++
}

func (c *Checkout) hasPendingLocked() bool {
	for _, s := range c.session.SelectedSeats {
		if s.State == domain.SeatStatePending {
			return true
		}
	}
	return false
}

// AcknowledgePriceUpdate accepts the re-priced total.
func (c *Checkout) AcknowledgePriceUpdate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priceDrift = false
}

func (c *Checkout) PriceDrift() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.priceDrift
}

// ClearSession cancels the session on the backend, best effort, and always
// resets local state.
func (c *Checkout) ClearSession(ctx context.Context) {
	c.mu.Lock()
	id := c.session.SessionID
	persisted := c.persisted
	c.mu.Unlock()

	if id != "" && persisted {
		if err := c.backend.CancelSession(ctx, id); err != nil {
			c.logger.WarnContext(ctx, "failed to cancel session",
				slog.String("session_id", id),
				slog.String("error", err.Error()))
		}
	}

	c.mu.Lock()
	c.stopLockTimerLocked()
	c.inventory.clearSelection()
	c.session = c.freshSession()
	c.seatVersions = make(map[string]uint64)
	c.selVersion++
	c.persisted = false
	c.changes, c.savedChanges = 0, 0
	c.priceDrift = false
	c.validatedRevision = 0
	c.validatedAt = time.Time{}
	c.mu.Unlock()

	c.clearResume(ctx)
}

func (c *Checkout) clearResume(ctx context.Context) {
	if err := c.resume.Clear(); err != nil {
		c.logger.WarnContext(ctx, "failed to clear resume store", slog.String("error", err.Error()))
	}
}
