package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/fare"
	"github.com/Domenick1991/skycheckout/internal/kafka"
	"github.com/Domenick1991/skycheckout/internal/metrics"
	"github.com/Domenick1991/skycheckout/internal/repository"
	"github.com/Domenick1991/skycheckout/internal/service/session"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

const (
	referenceAttempts = 3

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrNotCancellable  = errors.New("booking cannot be cancelled")
	ErrPriceChanged    = errors.New("price has changed since it was last validated")
)

type BookingUseCase interface {
	Complete(ctx context.Context, userID, sessionID string, payload domain.BookingPayload) (*domain.CompletedBooking, error)
	Get(ctx context.Context, userID, reference string) (*domain.CompletedBooking, error)
	History(ctx context.Context, userID string, limit, offset int) (*domain.BookingPage, error)
	Cancel(ctx context.Context, userID, reference string) (*domain.CompletedBooking, error)
}

// Sessions is the part of the session service completion depends on.
type Sessions interface {
	Get(ctx context.Context, userID, id string) (*domain.BookingSession, error)
	ValidatePricing(ctx context.Context, userID, id string) (*domain.PricingValidation, error)
}

type Cache interface {
	ReleaseSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string) error
	InvalidateSeatMap(ctx context.Context, flightID string) error
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

// retryingProducer is implemented by kafka.Producer. Booking events go
// through it when available since downstream ticketing relies on them.
type retryingProducer interface {
	PublishWithRetry(ctx context.Context, topic, key string, value interface{}, maxRetries int) error
}

const eventPublishAttempts = 3

type BookingService struct {
	bookings           repository.BookingRepository
	sessions           Sessions
	cache              Cache
	producer           Producer
	bookingTopic       string
	notificationsTopic string
	log                *logger.Logger
	now                func() time.Time
}

type BookingServiceOption func(*BookingService)

func WithNotificationsTopic(topic string) BookingServiceOption {
	return func(s *BookingService) {
		s.notificationsTopic = topic
	}
}

func WithClock(now func() time.Time) BookingServiceOption {
	return func(s *BookingService) {
		s.now = now
	}
}

func NewBookingService(
	bookings repository.BookingRepository,
	sessions Sessions,
	cache Cache,
	producer Producer,
	bookingTopic string,
	log *logger.Logger,
	opts ...BookingServiceOption,
) *BookingService {
	if log == nil {
		log = logger.GetDefault()
	}
	service := &BookingService{
		bookings:     bookings,
		sessions:     sessions,
		cache:        cache,
		producer:     producer,
		bookingTopic: bookingTopic,
		log:          log,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// Complete turns an active session into a confirmed booking. Completing a
// session twice returns the booking created the first time.
func (s *BookingService) Complete(ctx context.Context, userID, sessionID string, payload domain.BookingPayload) (*domain.CompletedBooking, error) {
	sess, err := s.sessions.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == domain.SessionStatusCompleted {
		return s.existing(ctx, sessionID)
	}
	if err := checkPayload(sess, payload); err != nil {
		metrics.BookingsCompleted.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, err
	}

	v, err := s.sessions.ValidatePricing(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	if len(v.UnavailableSeats) > 0 {
		metrics.BookingsCompleted.WithLabelValues(metrics.ResultConflict).Inc()
		return nil, &domain.SeatConflictError{SeatIDs: v.UnavailableSeats}
	}
	if !v.Valid || v.Pricing.Total != payload.Pricing.Total {
		metrics.BookingsCompleted.WithLabelValues(metrics.ResultRejected).Inc()
		return nil, fmt.Errorf("%w: expected total %d, got %d", ErrPriceChanged, v.Pricing.Total, payload.Pricing.Total)
	}

	booking := &domain.CompletedBooking{
		SessionID:    sessionID,
		UserID:       sess.UserID,
		Status:       domain.BookingStatusConfirmed,
		Flight:       sess.SelectedFlight,
		ReturnFlight: payload.ReturnFlight,
		Seats:        sess.SelectedSeats,
		Passengers:   payload.Passengers,
		Contact:      payload.Contact,
		Payment:      payload.Payment.Sanitized(),
		Extras:       payload.Extras,
		PromoCode:    payload.PromoCode,
		Pricing:      v.Pricing,
		ConfirmedAt:  s.now(),
	}

	for attempt := 1; ; attempt++ {
		if booking.BookingReference, err = domain.NewBookingReference(); err != nil {
			return nil, err
		}
		if booking.Tickets, err = domain.NewTickets(booking.BookingReference, booking.Passengers, booking.Seats); err != nil {
			return nil, err
		}
		err = s.bookings.Complete(ctx, booking)
		if errors.Is(err, repository.ErrDuplicateReference) && attempt < referenceAttempts {
			continue
		}
		break
	}
	switch {
	case errors.Is(err, repository.ErrAlreadyCompleted):
		return s.existing(ctx, sessionID)
	case err != nil:
		metrics.BookingsCompleted.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	metrics.BookingsCompleted.WithLabelValues(metrics.ResultOK).Inc()

	if flight := booking.Flight; flight != nil {
		// Sold seats no longer need a lock.
		if err := s.cache.ReleaseSeatLocks(ctx, flight.ID, sessionID, domain.SeatIDs(booking.Seats)); err != nil {
			s.log.WarnContext(ctx, "seat lock release failed", "session_id", sessionID, "error", err.Error())
		}
		if err := s.cache.InvalidateSeatMap(ctx, flight.ID); err != nil {
			s.log.WarnContext(ctx, "seat map invalidation failed", "flight_id", flight.ID, "error", err.Error())
		}
	}

	s.log.LogBookingConfirmed(ctx, booking.BookingReference, sessionID, booking.Pricing.Total)
	s.publishEvent(ctx, "booking_confirmed", booking)
	s.notify(ctx, domain.Notification{
		Type:      domain.NotificationBookingConfirmed,
		SessionID: sessionID,
		Recipient: booking.Contact.Email,
		Title:     "Booking confirmed",
		Message:   fmt.Sprintf("your booking %s is confirmed", booking.BookingReference),
		Metadata: map[string]any{
			"booking_reference": booking.BookingReference,
			"total":             booking.Pricing.Total,
		},
	})
	if points := fare.LoyaltyPoints(booking.Pricing.Total); points > 0 {
		s.notify(ctx, domain.Notification{
			Type:      domain.NotificationLoyaltyPoints,
			SessionID: sessionID,
			Recipient: booking.Contact.Email,
			Title:     "Loyalty points earned",
			Message:   fmt.Sprintf("you earned %d points with booking %s", points, booking.BookingReference),
			Metadata: map[string]any{
				"booking_reference": booking.BookingReference,
				"points":            points,
			},
		})
	}
	return booking, nil
}

func (s *BookingService) existing(ctx context.Context, sessionID string) (*domain.CompletedBooking, error) {
	b, err := s.bookings.GetBySession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, session.ErrSessionClosed
		}
		return nil, err
	}
	return b, nil
}

// checkPayload matches the client's booking against the session of record.
func checkPayload(sess *domain.BookingSession, p domain.BookingPayload) error {
	const op = "CompleteBooking"
	if sess.SelectedFlight == nil {
		return domain.NewValidationError(op, "no flight selected")
	}
	if p.Flight == nil || p.Flight.ID != sess.SelectedFlight.ID {
		return domain.NewValidationError(op, "flight does not match the session")
	}
	if len(p.Passengers) == 0 {
		return domain.NewValidationError(op, "at least one passenger is required")
	}
	for i, pax := range p.Passengers {
		if !pax.Complete() {
			return domain.NewValidationError(op, fmt.Sprintf("passenger %d is incomplete", i+1))
		}
	}
	if p.Contact.Email == "" || p.Contact.Phone == "" {
		return domain.NewValidationError(op, "contact email and phone are required")
	}
	if !p.Payment.ShapeValid() {
		return domain.NewValidationError(op, "payment details are incomplete")
	}
	if len(p.Seats) > 0 && !sameSeats(p.Seats, sess.SelectedSeats) {
		return domain.NewValidationError(op, "seats do not match the reservation")
	}
	if !p.Pricing.Consistent() {
		return domain.NewValidationError(op, "pricing breakdown does not add up")
	}
	return nil
}

func sameSeats(a, b []domain.Seat) bool {
	if len(a) != len(b) {
		return false
	}
	held := make(map[string]bool, len(b))
	for _, seat := range b {
		held[seat.ID] = true
	}
	for _, seat := range a {
		if !held[seat.ID] {
			return false
		}
	}
	return true
}

func (s *BookingService) Get(ctx context.Context, userID, reference string) (*domain.CompletedBooking, error) {
	if !domain.ValidBookingReference(reference) {
		return nil, ErrBookingNotFound
	}
	b, err := s.bookings.GetByReference(ctx, reference)
	if err != nil {
		return nil, notFound(err)
	}
	if !owns(userID, b) {
		return nil, ErrBookingNotFound
	}
	return b, nil
}

func (s *BookingService) History(ctx context.Context, userID string, limit, offset int) (*domain.BookingPage, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}
	bookings, total, err := s.bookings.ListByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	if bookings == nil {
		bookings = []domain.CompletedBooking{}
	}
	return &domain.BookingPage{Bookings: bookings, Total: total, Limit: limit, Offset: offset}, nil
}

// Cancel cancels a confirmed booking and returns its seats to sale.
func (s *BookingService) Cancel(ctx context.Context, userID, reference string) (*domain.CompletedBooking, error) {
	if _, err := s.Get(ctx, userID, reference); err != nil {
		return nil, err
	}
	b, err := s.bookings.Cancel(ctx, reference, s.now())
	switch {
	case errors.Is(err, repository.ErrNotCancellable):
		return nil, ErrNotCancellable
	case err != nil:
		return nil, notFound(err)
	}

	if b.Flight != nil {
		if err := s.cache.InvalidateSeatMap(ctx, b.Flight.ID); err != nil {
			s.log.WarnContext(ctx, "seat map invalidation failed", "flight_id", b.Flight.ID, "error", err.Error())
		}
	}
	s.log.LogBookingCancelled(ctx, reference)
	s.publishEvent(ctx, "booking_cancelled", b)

	cancelledAt := s.now()
	if b.CancelledAt != nil {
		cancelledAt = *b.CancelledAt
	}
	s.notify(ctx, domain.Notification{
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

func (s *BookingService) publishEvent(ctx context.Context, eventType string, b *domain.CompletedBooking) {
	if s.producer == nil || s.bookingTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:             eventType,
		SessionID:        b.SessionID,
		BookingReference: b.BookingReference,
		SeatIDs:          domain.SeatIDs(b.Seats),
		Email:            b.Contact.Email,
		Status:           string(b.Status),
		TotalCents:       b.Pricing.Total,
		OccurredAt:       s.now(),
	}
	if b.Flight != nil {
		event.FlightID = b.Flight.ID
	}
	var err error
	if p, ok := s.producer.(retryingProducer); ok {
		err = p.PublishWithRetry(ctx, s.bookingTopic, b.BookingReference, event, eventPublishAttempts)
	} else {
		err = s.producer.Publish(ctx, s.bookingTopic, b.BookingReference, event)
	}
	if err != nil {
		s.log.WarnContext(ctx, "failed to publish booking event",
			"type", eventType, "booking_reference", b.BookingReference, "error", err.Error())
	}
}

func (s *BookingService) notify(ctx context.Context, n domain.Notification) {
	if s.producer == nil || s.notificationsTopic == "" {
		return
	}
	n.ID = uuid.NewString()
	n.OccurredAt = s.now()
	if err := s.producer.Publish(ctx, s.notificationsTopic, n.SessionID, n); err != nil {
		s.log.WarnContext(ctx, "failed to publish notification",
			"type", string(n.Type), "session_id", n.SessionID, "error", err.Error())
	}
}

func owns(userID string, b *domain.CompletedBooking) bool {
	return b.UserID == "" || userID == "" || b.UserID == userID
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrBookingNotFound
	}
	return err
}

var _ BookingUseCase = (*BookingService)(nil)
