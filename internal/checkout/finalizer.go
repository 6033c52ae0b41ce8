package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/fare"
	"github.com/Domenick1991/skycheckout/internal/metrics"
)

var errSeatsUnconfirmed = errors.New("seat reservation is not confirmed")

// CompleteBooking turns the session into a confirmed booking. Every step up to
// payment must be complete. On any failure the session stays where it was and
// the returned error carries a retry action.
func (c *Checkout) CompleteBooking(ctx context.Context) (domain.CompletedBooking, error) {
	const op = "CompleteBooking"

	c.mu.Lock()
	if c.completing {
		c.mu.Unlock()
		return domain.CompletedBooking{}, domain.NewValidationError(op, "booking completion already in progress")
	}
	if c.session.CurrentStep == StepConfirmation {
		c.mu.Unlock()
		return domain.CompletedBooking{}, domain.NewValidationError(op, "booking is already completed")
	}
	for step := StepFlightSelection; step <= StepPayment; step++ {
		if !c.stepCompleteLocked(step) {
			c.mu.Unlock()
			return domain.CompletedBooking{}, domain.NewValidationError(op, fmt.Sprintf("complete %s first", StepName(step)))
		}
	}
	if c.priceDrift {
		c.mu.Unlock()
		return domain.CompletedBooking{}, &domain.Error{
			Kind:    domain.KindPriceDrift,
			Op:      op,
			Message: "prices have changed, review the updated total",
			Action:  &domain.Action{Label: "Accept new price", Operation: "acknowledge_price_update"},
		}
	}
	c.completing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.completing = false
		c.mu.Unlock()
	}()

	if err := c.SaveSession(ctx, true); err != nil {
		return domain.CompletedBooking{}, c.completionFailed(ctx, err)
	}
	if err := c.confirmPendingSeats(ctx); err != nil {
		return domain.CompletedBooking{}, err
	}

	if c.needsValidation() {
		if err := c.ValidateCurrentSession(ctx); err != nil {
			if domain.KindOf(err) == domain.KindPriceDrift {
				return domain.CompletedBooking{}, err
			}
			return domain.CompletedBooking{}, c.completionFailed(ctx, err)
		}
	}

	c.mu.Lock()
	id := c.session.SessionID
	payload := c.payloadLocked()
	c.mu.Unlock()

	booking, err := c.backend.CompleteSession(ctx, id, payload)
	if err != nil {
		return domain.CompletedBooking{}, c.completionFailed(ctx, err)
	}

	c.mu.Lock()
	c.session.CurrentStep = StepConfirmation
	c.session.Status = domain.SessionStatusCompleted
	c.stopLockTimerLocked()
	c.lastBooking = &booking
	recipient := c.session.ContactInfo.Email
	c.mu.Unlock()

	c.clearResume(ctx)
	metrics.BookingsCompleted.WithLabelValues(metrics.ResultOK).Inc()
	c.logger.InfoContext(ctx, "booking confirmed",
		slog.String("booking_reference", booking.BookingReference),
		slog.String("session_id", id),
		slog.Int64("total_cents", booking.Pricing.Total))

	c.publish(ctx, domain.Notification{
		Type:      domain.NotificationBookingConfirmed,
		Recipient: recipient,
		Title:     "Booking confirmed",
		Message:   fmt.Sprintf("your booking %s is confirmed", booking.BookingReference),
		Metadata: map[string]any{
			"booking_reference": booking.BookingReference,
			"total":             booking.Pricing.Total,
		},
	})
	if points := fare.LoyaltyPoints(booking.Pricing.Total); points > 0 {
		c.publish(ctx, domain.Notification{
			Type:      domain.NotificationLoyaltyPoints,
			Recipient: recipient,
			Title:     "Loyalty points earned",
			Message:   fmt.Sprintf("you earned %d points with booking %s", points, booking.BookingReference),
			Metadata: map[string]any{
				"booking_reference": booking.BookingReference,
				"points":            points,
			},
		})
	}
	if c.ticketing != nil {
		if err := c.ticketing.IssueTickets(ctx, booking); err != nil {
			c.logger.WarnContext(ctx, "ticket issuing failed",
				slog.String("booking_reference", booking.BookingReference),
				slog.String("error", err.Error()))
		}
	}
	return booking, nil
}

// needsValidation is false when the current pricing revision was validated
// within the session window.
func (c *Checkout) needsValidation() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.validatedAt.IsZero() || c.validatedRevision != c.session.Pricing.Revision {
		return true
	}
	now := c.now()
	if now.Sub(c.validatedAt) >= c.cfg.SessionTTL {
		return true
	}
	return !c.session.ExpiresAt.IsZero() && !c.session.ExpiresAt.After(now)
}

// confirmPendingSeats re-sends a selection the backend has not acknowledged
// yet. A refused seat is rolled back and the conflict returned as is.
func (c *Checkout) confirmPendingSeats(ctx context.Context) error {
	c.mu.Lock()
	pending := c.hasPendingLocked()
	c.mu.Unlock()
	if !pending {
		return nil
	}

	if err := c.ReserveSelectedSeats(ctx); err != nil {
		if domain.KindOf(err) == domain.KindSeatConflict {
			return err
		}
		return c.completionFailed(ctx, err)
	}

	c.mu.Lock()
	pending = c.hasPendingLocked()
	c.mu.Unlock()
	if pending {
		return c.completionFailed(ctx, errSeatsUnconfirmed)
	}
	return nil
}

func (c *Checkout) payloadLocked() domain.BookingPayload {
	s := c.session.Snapshot()
	return domain.BookingPayload{
		Flight:       s.SelectedFlight,
		ReturnFlight: s.ReturnFlight,
		Seats:        s.SelectedSeats,
		Passengers:   s.Passengers,
		Contact:      s.ContactInfo,
		Payment:      s.PaymentInfo,
		Extras:       s.Extras,
		Pricing:      s.Pricing,
		PromoCode:    s.PromoCode,
		Discount:     s.AppliedDiscount,
	}
}

func (c *Checkout) completionFailed(ctx context.Context, err error) error {
	id := c.SessionID()
	metrics.BookingsCompleted.WithLabelValues(metrics.ResultError).Inc()
	c.logger.ErrorContext(ctx, "booking completion failed",
		slog.String("session_id", id),
		slog.String("error", err.Error()))
	return &domain.Error{
		Kind:      domain.KindCompletion,
		Op:        "CompleteBooking",
		Message:   "we could not complete your booking, please try again",
		Retryable: true,
		Action:    retryAction("complete_booking", map[string]string{"session_id": id}),
		Err:       err,
	}
}

func (c *Checkout) BookingHistory(ctx context.Context, limit, offset int) (domain.BookingPage, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	page, err := c.backend.BookingHistory(ctx, limit, offset)
	if err != nil {
		return domain.BookingPage{}, backendError("BookingHistory", err, retryAction("booking_history", map[string]string{
			"limit":  fmt.Sprint(limit),
			"offset": fmt.Sprint(offset),
		}))
	}
	return page, nil
}

func (c *Checkout) GetBooking(ctx context.Context, reference string) (domain.CompletedBooking, error) {
	if !domain.ValidBookingReference(reference) {
		return domain.CompletedBooking{}, domain.NewValidationError("GetBooking", "invalid booking reference")
	}
	b, err := c.backend.GetBooking(ctx, reference)
	if err != nil {
		return domain.CompletedBooking{}, backendError("GetBooking", err, retryAction("get_booking", map[string]string{"booking_reference": reference}))
	}
	return b, nil
}

// CancelBooking cancels a confirmed booking and announces it.
func (c *Checkout) CancelBooking(ctx context.Context, reference string) (domain.CompletedBooking, error) {
	if !domain.ValidBookingReference(reference) {
		return domain.CompletedBooking{}, domain.NewValidationError("CancelBooking", "invalid booking reference")
	}
	b, err := c.backend.CancelBooking(ctx, reference)
	if err != nil {
		return domain.CompletedBooking{}, backendError("CancelBooking", err, retryAction("cancel_booking", map[string]string{"booking_reference": reference}))
	}

	c.logger.InfoContext(ctx, "booking cancelled", slog.String("booking_reference", reference))
	cancelledAt := c.now()
	if b.CancelledAt != nil {
		cancelledAt = *b.CancelledAt
	}
	c.publish(ctx, domain.Notification{
		Type:      domain.NotificationBookingCancelled,
		SessionID: b.SessionID,
		Recipient: b.Contact.Email,
		Title:     "Booking cancelled",
		Message:   fmt.Sprintf("your booking %s has been cancelled", reference),
		Metadata: map[string]any{
			"booking_reference": reference,
			"cancelled_at":      cancelledAt.Format(time.RFC3339),
		},
	})
	return b, nil
}
