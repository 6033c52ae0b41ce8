// Package session is the server of record for booking sessions: it persists
// checkout state, owns the seat locks and re-prices sessions on request.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/skycheckout/internal/cache"
	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/fare"
	"github.com/Domenick1991/skycheckout/internal/kafka"
	"github.com/Domenick1991/skycheckout/internal/metrics"
	"github.com/Domenick1991/skycheckout/internal/repository"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

var (
	ErrSessionNotFound  = errors.New("booking session not found")
	ErrSessionExpired   = errors.New("booking session has expired")
	ErrSessionClosed    = errors.New("booking session is no longer active")
	ErrConcurrentUpdate = errors.New("booking session is being changed concurrently, try again")
)

// maxWriteAttempts bounds the reload and retry loop of an optimistic write.
const maxWriteAttempts = 3

type SessionUseCase interface {
	Save(ctx context.Context, userID string, in domain.BookingSession) (*domain.BookingSession, error)
	Get(ctx context.Context, userID, id string) (*domain.BookingSession, error)
	UpdateStep(ctx context.Context, userID, id string, step int) error
	ReserveSeats(ctx context.Context, userID, id string, version uint64, seats []domain.Seat) (*domain.ReserveSeatsResponse, error)
	ExtendReservation(ctx context.Context, userID, id string) (*domain.ExtendReservationResponse, error)
	ValidatePricing(ctx context.Context, userID, id string) (*domain.PricingValidation, error)
	Cancel(ctx context.Context, userID, id string) error
	ExpireStale(ctx context.Context, limit int) (int, error)
}

type SeatLocker interface {
	AcquireSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string, ttl time.Duration) error
	ReleaseSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string) error
	ExtendSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string, ttl time.Duration) ([]string, error)
	SeatLockOwners(ctx context.Context, flightID string, seatIDs []string) (map[string]string, error)
}

type Producer interface {
	Publish(ctx context.Context, topic, key string, value interface{}) error
}

type Config struct {
	SeatLockTTL time.Duration
	SessionTTL  time.Duration
	EventsTopic string
}

type SessionService struct {
	sessions repository.SessionRepository
	flights  repository.FlightRepository
	locks    SeatLocker
	producer Producer
	cfg      Config
	log      *logger.Logger
	now      func() time.Time
}

type Option func(*SessionService)

func WithClock(now func() time.Time) Option {
	return func(s *SessionService) {
		s.now = now
	}
}

func WithProducer(p Producer, topic string) Option {
	return func(s *SessionService) {
		s.producer = p
		s.cfg.EventsTopic = topic
	}
}

func NewSessionService(
	sessions repository.SessionRepository,
	flights repository.FlightRepository,
	locks SeatLocker,
	cfg Config,
	log *logger.Logger,
	opts ...Option,
) *SessionService {
	if log == nil {
		log = logger.GetDefault()
	}
	s := &SessionService{
		sessions: sessions,
		flights:  flights,
		locks:    locks,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func validation(op, format string, args ...any) error {
	return domain.NewValidationError(op, fmt.Sprintf(format, args...))
}

// Save upserts the client's checkout state. Seat selection and expiry are
// owned by the server and are never taken from the client document.
func (s *SessionService) Save(ctx context.Context, userID string, in domain.BookingSession) (*domain.BookingSession, error) {
	const op = "SaveSession"
	if in.SessionID == "" {
		return nil, validation(op, "session_id is required")
	}
	if in.CurrentStep < 1 || in.CurrentStep > 5 {
		return nil, validation(op, "current_step must be between 1 and 5")
	}
	if in.SelectedFlight != nil {
		if err := in.SelectedFlight.Validate(); err != nil {
			return nil, validation(op, "%v", err)
		}
	}

	var out domain.BookingSession
	err := s.retryOnConflict(ctx, in.SessionID, func() error {
		var err error
		out, err = s.saveOnce(ctx, userID, in)
		return err
	})
	if err != nil {
		s.log.LogSessionSaveFailed(ctx, in.SessionID, err)
		return nil, err
	}
	return &out, nil
}

func (s *SessionService) saveOnce(ctx context.Context, userID string, in domain.BookingSession) (domain.BookingSession, error) {
	now := s.now()
	out := in
	out.PaymentInfo = in.PaymentInfo.Sanitized()
	out.Status = domain.SessionStatusActive

	var released *domain.BookingSession
	existing, err := s.sessions.Get(ctx, in.SessionID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		out.UserID = userID
		out.ExpiresAt = now.Add(s.cfg.SessionTTL)
		out.SelectedSeats = nil
		out.SeatLockExpiresAt = time.Time{}
		out.SeatVersion = 0
		out.Version = 0
	case err != nil:
		return out, err
	default:
		if err := s.checkActive(ctx, userID, existing); err != nil {
			return out, err
		}
		out.UserID = existing.UserID
		if out.UserID == "" {
			out.UserID = userID
		}
		out.ExpiresAt = existing.ExpiresAt
		out.SeatLockExpiresAt = existing.SeatLockExpiresAt
		out.SelectedSeats = existing.SelectedSeats
		out.SeatVersion = existing.SeatVersion
		out.Version = existing.Version
		if flightID(existing) != flightID(&out) && len(existing.SelectedSeats) > 0 {
			released = existing
			out.SelectedSeats = nil
			out.SeatLockExpiresAt = time.Time{}
		}
	}
	if out.SelectedSeats == nil {
		out.SelectedSeats = []domain.Seat{}
	}

	if err := s.sessions.Upsert(ctx, &out); err != nil {
		return out, err
	}
	if released != nil {
		s.releaseAll(ctx, released)
	}
	return out, nil
}

func (s *SessionService) Get(ctx context.Context, userID, id string) (*domain.BookingSession, error) {
	session, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.SessionStatusActive && !session.ExpiresAt.After(s.now()) {
		s.expire(ctx, session)
		return nil, ErrSessionExpired
	}
	return session, nil
}

func (s *SessionService) UpdateStep(ctx context.Context, userID, id string, step int) error {
	if step < 1 || step > 5 {
		return validation("UpdateStep", "current_step must be between 1 and 5")
	}
	if _, err := s.active(ctx, userID, id); err != nil {
		return err
	}
	return notFound(s.sessions.UpdateStep(ctx, id, step))
}

// ReserveSeats makes the session's locks match seats exactly. Either every
// requested seat is locked for the session, or nothing changes and the
// unavailable seats are reported in a *domain.SeatConflictError. A non-zero
// version older than the selection the session holds is refused with
// domain.ErrStaleSelection.
func (s *SessionService) ReserveSeats(ctx context.Context, userID, id string, version uint64, seats []domain.Seat) (*domain.ReserveSeatsResponse, error) {
	var resp *domain.ReserveSeatsResponse
	err := s.retryOnConflict(ctx, id, func() error {
		var err error
		resp, err = s.reserveOnce(ctx, userID, id, version, seats)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *SessionService) reserveOnce(ctx context.Context, userID, id string, version uint64, seats []domain.Seat) (*domain.ReserveSeatsResponse, error) {
	const op = "ReserveSeats"
	session, err := s.active(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if version != 0 && version < session.SeatVersion {
		s.log.InfoContext(ctx, "stale seat selection refused",
			"session_id", id, "version", version, "current_version", session.SeatVersion)
		return nil, domain.ErrStaleSelection
	}
	flight := session.SelectedFlight
	if flight == nil {
		return nil, validation(op, "select a flight before reserving seats")
	}
	quota := len(session.Passengers)
	if quota == 0 {
		quota = flight.PassengerCount()
	}
	if len(seats) > quota {
		return nil, validation(op, "%d seats requested for %d passengers", len(seats), quota)
	}

	layout, err := s.flights.Seats(ctx, flight.ID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Seat, len(layout))
	for _, seat := range layout {
		byID[seat.ID] = seat
	}

	requested := make([]string, 0, len(seats))
	seen := make(map[string]bool, len(seats))
	var sold []string
	for _, seat := range seats {
		if seen[seat.ID] {
			return nil, validation(op, "seat %s requested twice", seat.ID)
		}
		seen[seat.ID] = true
		stored, ok := byID[seat.ID]
		if !ok {
			return nil, validation(op, "seat %s does not exist on flight %s", seat.ID, flight.ID)
		}
		if !stored.IsAvailable {
			sold = append(sold, seat.ID)
		}
		requested = append(requested, seat.ID)
	}
	if len(sold) > 0 {
		metrics.SeatLocksAcquired.WithLabelValues(metrics.ResultConflict).Inc()
		for _, seatID := range sold {
			s.log.LogSeatConflict(ctx, id, seatID)
		}
		return nil, &domain.SeatConflictError{SeatIDs: sold}
	}

	now := s.now()
	lockExpires := s.lockDeadline(now, session.ExpiresAt)
	if len(requested) > 0 {
		err := s.locks.AcquireSeatLocks(ctx, flight.ID, id, requested, lockExpires.Sub(now))
		var lockErr *cache.SeatLockError
		if errors.As(err, &lockErr) {
			metrics.SeatLocksAcquired.WithLabelValues(metrics.ResultConflict).Inc()
			for _, seatID := range lockErr.SeatIDs {
				s.log.LogSeatConflict(ctx, id, seatID)
			}
			return nil, &domain.SeatConflictError{SeatIDs: lockErr.SeatIDs}
		}
		if err != nil {
			metrics.SeatLocksAcquired.WithLabelValues(metrics.ResultError).Inc()
			return nil, err
		}
	}
	metrics.SeatLocksAcquired.WithLabelValues(metrics.ResultOK).Inc()

	var dropped []string
	for _, held := range session.SelectedSeats {
		if !seen[held.ID] {
			dropped = append(dropped, held.ID)
		}
	}

	resp := &domain.ReserveSeatsResponse{SessionID: id, Locks: make([]domain.SeatLock, 0, len(requested))}
	session.SelectedSeats = make([]domain.Seat, 0, len(requested))
	for _, seatID := range requested {
		seat := byID[seatID]
		seat.IsSelected = true
		seat.IsLocked = true
		seat.LockOwner = id
		seat.State = domain.SeatStateConfirmed
		seat.ExpiresAt = lockExpires
		session.SelectedSeats = append(session.SelectedSeats, seat)
		resp.Locks = append(resp.Locks, domain.SeatLock{SeatID: seatID, SessionID: id, ExpiresAt: lockExpires})
	}
	session.SeatLockExpiresAt = time.Time{}
	if len(requested) > 0 {
		session.SeatLockExpiresAt = lockExpires
		resp.ExpiresAt = lockExpires
	}
	if version > session.SeatVersion {
		session.SeatVersion = version
	}
	s.reprice(session)
	if err := s.sessions.Upsert(ctx, session); err != nil {
		if errors.Is(err, repository.ErrVersionConflict) {
			s.releaseUnheld(ctx, id, flight.ID, requested)
		}
		// Otherwise the locks expire on their own; the client retries the whole set.
		return nil, err
	}

	if len(dropped) > 0 {
		if err := s.locks.ReleaseSeatLocks(ctx, flight.ID, id, dropped); err != nil {
			s.log.WarnContext(ctx, "release of dropped seats failed",
				"session_id", id, "error", err.Error())
		}
	}
	s.publish(ctx, "seats_reserved", session)
	return resp, nil
}

// releaseUnheld gives back locks taken by a write that lost its race, keeping
// the ones the winning write still holds.
func (s *SessionService) releaseUnheld(ctx context.Context, id, flight string, seatIDs []string) {
	if len(seatIDs) == 0 {
		return
	}
	held := make(map[string]bool)
	current, err := s.sessions.Get(ctx, id)
	if err != nil {
		s.log.WarnContext(ctx, "reload after write conflict failed",
			"session_id", id, "error", err.Error())
		return
	}
	if current.Status == domain.SessionStatusActive && flightID(current) == flight {
		for _, seat := range current.SelectedSeats {
			held[seat.ID] = true
		}
	}
	var release []string
	for _, seatID := range seatIDs {
		if !held[seatID] {
			release = append(release, seatID)
		}
	}
	if len(release) == 0 {
		return
	}
	if err := s.locks.ReleaseSeatLocks(ctx, flight, id, release); err != nil {
		s.log.WarnContext(ctx, "release after write conflict failed",
			"session_id", id, "error", err.Error())
	}
}

// ExtendReservation slides the session window and pushes the seat locks out
// to match. Seats whose lock was lost meanwhile are dropped from the session
// and listed in the response.
func (s *SessionService) ExtendReservation(ctx context.Context, userID, id string) (*domain.ExtendReservationResponse, error) {
	var resp *domain.ExtendReservationResponse
	err := s.retryOnConflict(ctx, id, func() error {
		var err error
		resp, err = s.extendOnce(ctx, userID, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *SessionService) extendOnce(ctx context.Context, userID, id string) (*domain.ExtendReservationResponse, error) {
	session, err := s.active(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	session.ExpiresAt = now.Add(s.cfg.SessionTTL)
	resp := &domain.ExtendReservationResponse{
		SessionID:   id,
		ExpiresAt:   session.ExpiresAt,
		KeptSeatIDs: []string{},
	}

	if len(session.SelectedSeats) > 0 && session.SelectedFlight != nil {
		lockExpires := s.lockDeadline(now, session.ExpiresAt)
		lost, err := s.locks.ExtendSeatLocks(ctx, session.SelectedFlight.ID, id, domain.SeatIDs(session.SelectedSeats), lockExpires.Sub(now))
		if err != nil {
			return nil, err
		}
		gone := make(map[string]bool, len(lost))
		for _, seatID := range lost {
			gone[seatID] = true
		}
		kept := session.SelectedSeats[:0]
		for _, seat := range session.SelectedSeats {
			if gone[seat.ID] {
				resp.LostSeatIDs = append(resp.LostSeatIDs, seat.ID)
				continue
			}
			seat.ExpiresAt = lockExpires
			kept = append(kept, seat)
			resp.KeptSeatIDs = append(resp.KeptSeatIDs, seat.ID)
		}
		session.SelectedSeats = kept
		if len(kept) > 0 {
			session.SeatLockExpiresAt = lockExpires
			resp.SeatLockExpiresAt = lockExpires
		} else {
			session.SeatLockExpiresAt = time.Time{}
		}
		if len(lost) > 0 {
			s.log.LogSeatsExpired(ctx, id, len(lost))
			s.reprice(session)
		}
	}

	if err := s.sessions.Upsert(ctx, session); err != nil {
		return nil, err
	}
	return resp, nil
}

// ValidatePricing re-prices the session against current flight and seat
// prices and seat availability.
func (s *SessionService) ValidatePricing(ctx context.Context, userID, id string) (*domain.PricingValidation, error) {
	session, err := s.active(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return s.validate(ctx, session)
}

func (s *SessionService) validate(ctx context.Context, session *domain.BookingSession) (*domain.PricingValidation, error) {
	v := &domain.PricingValidation{
		Valid:       true,
		ValidatedAt: s.now(),
		ExpiresAt:   session.ExpiresAt,
	}
	if session.SelectedFlight == nil {
		v.Pricing = session.Pricing
		return v, nil
	}

	current, err := s.flights.GetByID(ctx, session.SelectedFlight.ID)
	if err != nil {
		return nil, notFound(err)
	}
	repriced := *session
	flight := *session.SelectedFlight
	flight.PriceCents = current.PriceCents
	repriced.SelectedFlight = &flight
	v.FlightPriceCents = current.PriceCents
	if current.PriceCents != session.SelectedFlight.PriceCents {
		v.Valid = false
	}

	if len(session.SelectedSeats) > 0 {
		layout, err := s.flights.Seats(ctx, flight.ID)
		if err != nil {
			return nil, err
		}
		owners, err := s.locks.SeatLockOwners(ctx, flight.ID, domain.SeatIDs(session.SelectedSeats))
		if err != nil {
			return nil, err
		}
		prices := make(map[string]domain.Seat, len(layout))
		for _, seat := range layout {
			prices[seat.ID] = seat
		}
		v.SeatPrices = make(map[string]int64, len(session.SelectedSeats))
		repriced.SelectedSeats = make([]domain.Seat, 0, len(session.SelectedSeats))
		for _, seat := range session.SelectedSeats {
			stored, ok := prices[seat.ID]
			if !ok || !stored.IsAvailable || owners[seat.ID] != session.SessionID {
				v.UnavailableSeats = append(v.UnavailableSeats, seat.ID)
				v.Valid = false
				continue
			}
			v.SeatPrices[seat.ID] = stored.PriceCents
			if stored.PriceCents != seat.PriceCents {
				v.Valid = false
			}
			seat.PriceCents = stored.PriceCents
			repriced.SelectedSeats = append(repriced.SelectedSeats, seat)
		}
	}

	v.Pricing = fare.Calculate(fare.InputFromSession(&repriced))
	if v.Pricing.Total != session.Pricing.Total {
		v.Valid = false
	}
	return v, nil
}

// Cancel abandons an active session and releases its seats. Cancelling a
// session that is already closed is a no-op.
func (s *SessionService) Cancel(ctx context.Context, userID, id string) error {
	session, err := s.load(ctx, userID, id)
	if err != nil {
		return err
	}
	if session.Status != domain.SessionStatusActive {
		return nil
	}
	s.releaseAll(ctx, session)
	if err := s.sessions.UpdateStatus(ctx, id, domain.SessionStatusCancelled); err != nil {
		return notFound(err)
	}
	session.Status = domain.SessionStatusCancelled
	s.publish(ctx, "session_cancelled", session)
	return nil
}

// ExpireStale expires up to limit overdue sessions and frees their seats.
func (s *SessionService) ExpireStale(ctx context.Context, limit int) (int, error) {
	expired, err := s.sessions.ExpireBefore(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	for i := range expired {
		session := &expired[i]
		s.releaseAll(ctx, session)
		if n := len(session.SelectedSeats); n > 0 {
			s.log.LogSeatsExpired(ctx, session.SessionID, n)
		}
		s.publish(ctx, "session_expired", session)
	}
	metrics.SessionsExpired.Add(float64(len(expired)))
	return len(expired), nil
}

// retryOnConflict runs a load-modify-write until it is not raced by another
// writer of the same session.
func (s *SessionService) retryOnConflict(ctx context.Context, id string, write func() error) error {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		err := write()
		if !errors.Is(err, repository.ErrVersionConflict) {
			return err
		}
		s.log.WarnContext(ctx, "session write conflict",
			"session_id", id, "attempt", attempt)
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return ErrConcurrentUpdate
}

func (s *SessionService) load(ctx context.Context, userID, id string) (*domain.BookingSession, error) {
	session, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, notFound(err)
	}
	// Someone else's session is reported as missing.
	if session.UserID != "" && userID != "" && session.UserID != userID {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// active loads a session that can still be changed.
func (s *SessionService) active(ctx context.Context, userID, id string) (*domain.BookingSession, error) {
	session, err := s.load(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkActive(ctx, userID, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *SessionService) checkActive(ctx context.Context, userID string, session *domain.BookingSession) error {
	if session.UserID != "" && userID != "" && session.UserID != userID {
		return ErrSessionNotFound
	}
	switch session.Status {
	case domain.SessionStatusExpired:
		return ErrSessionExpired
	case domain.SessionStatusActive:
	default:
		return ErrSessionClosed
	}
	if !session.ExpiresAt.After(s.now()) {
		s.expire(ctx, session)
		return ErrSessionExpired
	}
	return nil
}

func (s *SessionService) expire(ctx context.Context, session *domain.BookingSession) {
	s.releaseAll(ctx, session)
	if err := s.sessions.UpdateStatus(ctx, session.SessionID, domain.SessionStatusExpired); err != nil {
		s.log.WarnContext(ctx, "failed to mark session expired",
			"session_id", session.SessionID, "error", err.Error())
		return
	}
	session.Status = domain.SessionStatusExpired
	s.publish(ctx, "session_expired", session)
}

func (s *SessionService) releaseAll(ctx context.Context, session *domain.BookingSession) {
	if session.SelectedFlight == nil || len(session.SelectedSeats) == 0 {
		return
	}
	err := s.locks.ReleaseSeatLocks(ctx, session.SelectedFlight.ID, session.SessionID, domain.SeatIDs(session.SelectedSeats))
	if err != nil {
		s.log.WithSessionID(session.SessionID).WithError(err).WarnContext(ctx, "seat lock release failed")
	}
}

// lockDeadline caps the seat lock window at the session expiry.
func (s *SessionService) lockDeadline(now, sessionExpires time.Time) time.Time {
	at := now.Add(s.cfg.SeatLockTTL)
	if !sessionExpires.IsZero() && sessionExpires.Before(at) {
		return sessionExpires
	}
	return at
}

func (s *SessionService) reprice(session *domain.BookingSession) {
	session.Pricing = fare.Calculate(fare.InputFromSession(session))
	session.AppliedDiscount = session.Pricing.Discount
}

func (s *SessionService) publish(ctx context.Context, eventType string, session *domain.BookingSession) {
	if s.producer == nil || s.cfg.EventsTopic == "" {
		return
	}
	event := kafka.BookingEvent{
		Type:       eventType,
		SessionID:  session.SessionID,
		FlightID:   flightID(session),
		SeatIDs:    domain.SeatIDs(session.SelectedSeats),
		Email:      session.ContactInfo.Email,
		Status:     string(session.Status),
		TotalCents: session.Pricing.Total,
		ExpiresAt:  session.ExpiresAt,
		OccurredAt: s.now(),
	}
	if err := s.producer.Publish(ctx, s.cfg.EventsTopic, session.SessionID, event); err != nil {
		s.log.WarnContext(ctx, "failed to publish session event",
			"type", eventType, "session_id", session.SessionID, "error", err.Error())
	}
}

func flightID(session *domain.BookingSession) string {
	if session.SelectedFlight == nil {
		return ""
	}
	return session.SelectedFlight.ID
}

func notFound(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

var _ SessionUseCase = (*SessionService)(nil)
