// Package checkout is the client-side booking engine: step progression, seat
// reservation, session persistence and booking completion for one user's
// checkout session.
//
// A Checkout is safe for concurrent use. Local state is guarded by a single
// mutex that is never held across a backend call.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/fare"
)

const (
	DefaultSeatLockTTL = 15 * time.Minute
	DefaultSessionTTL  = 30 * time.Minute
)

// Backend is the server of record for sessions, seat locks and bookings.
type Backend interface {
	SaveSession(ctx context.Context, session domain.BookingSession) (domain.BookingSession, error)
	GetSession(ctx context.Context, sessionID string) (domain.BookingSession, error)
	UpdateStep(ctx context.Context, sessionID string, step int) error
	// ReserveSeats replaces the session's locks with seats. version orders the
	// calls; the backend refuses one older than the selection it holds.
	ReserveSeats(ctx context.Context, sessionID string, version uint64, seats []domain.Seat) (domain.ReserveSeatsResponse, error)
	ExtendReservation(ctx context.Context, sessionID string) (domain.ExtendReservationResponse, error)
	ValidatePricing(ctx context.Context, sessionID string) (domain.PricingValidation, error)
	CompleteSession(ctx context.Context, sessionID string, payload domain.BookingPayload) (domain.CompletedBooking, error)
	CancelSession(ctx context.Context, sessionID string) error
	// SeatMap lists a flight's seats. Seats locked by sessionID are reported
	// available; locks held by other sessions are not.
	SeatMap(ctx context.Context, flightID, sessionID string) ([]domain.Seat, error)

	BookingHistory(ctx context.Context, limit, offset int) (domain.BookingPage, error)
	GetBooking(ctx context.Context, reference string) (domain.CompletedBooking, error)
	CancelBooking(ctx context.Context, reference string) (domain.CompletedBooking, error)
}

type Notifier interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// Ticketing receives finalized bookings, e.g. to render e-tickets.
type Ticketing interface {
	IssueTickets(ctx context.Context, booking domain.CompletedBooking) error
}

// ResumeStore remembers which session to resume after a restart.
type ResumeStore interface {
	Save(sessionID string, expiresAt time.Time) error
	Load() (string, error)
	Clear() error
}

type Timer interface {
	Stop() bool
}

type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type Config struct {
	SeatLockTTL time.Duration
	SessionTTL  time.Duration
}

type Deps struct {
	Backend   Backend
	Notifier  Notifier
	Ticketing Ticketing
	Resume    ResumeStore
	Scheduler Scheduler
	Clock     func() time.Time
	Logger    *slog.Logger
	NewID     func() string
}

type Checkout struct {
	cfg       Config
	backend   Backend
	notifier  Notifier
	ticketing Ticketing
	resume    ResumeStore
	scheduler Scheduler
	now       func() time.Time
	logger    *slog.Logger
	newID     func() string

	mu        sync.Mutex
	session   domain.BookingSession
	inventory *SeatInventory

	// persisted is true once the backend has acknowledged a save or load.
	persisted    bool
	changes      uint64
	savedChanges uint64

	selVersion   uint64
	seatVersions map[string]uint64
	// confirmedVersion is the newest selection the backend accepted.
	confirmedVersion uint64

	timer    Timer
	timerGen uint64

	priceDrift        bool
	validatedRevision int64
	validatedAt       time.Time

	saving   bool
	resave   bool
	saveDone chan struct{}

	completing  bool
	lastBooking *domain.CompletedBooking
}

func New(cfg Config, deps Deps) *Checkout {
	if cfg.SeatLockTTL <= 0 {
		cfg.SeatLockTTL = DefaultSeatLockTTL
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}
	if cfg.SeatLockTTL > cfg.SessionTTL {
		cfg.SeatLockTTL = cfg.SessionTTL
	}

	c := &Checkout{
		cfg:          cfg,
		backend:      deps.Backend,
		notifier:     deps.Notifier,
		ticketing:    deps.Ticketing,
		resume:       deps.Resume,
		scheduler:    deps.Scheduler,
		now:          deps.Clock,
		logger:       deps.Logger,
		newID:        deps.NewID,
		inventory:    NewSeatInventory("", nil),
		seatVersions: make(map[string]uint64),
	}
	if c.resume == nil {
		c.resume = &memoryResume{}
	}
	if c.scheduler == nil {
		c.scheduler = realScheduler{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	c.session = c.freshSession()
	return c
}

func (c *Checkout) freshSession() domain.BookingSession {
	return domain.BookingSession{
		Status:      domain.SessionStatusActive,
		CurrentStep: StepFlightSelection,
	}
}

// Session returns a sanitized copy of the current session.
func (c *Checkout) Session() domain.BookingSession {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Snapshot()
}

func (c *Checkout) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.SessionID
}

func (c *Checkout) Pricing() domain.FareBreakdown {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Pricing
}

// LastBooking is the booking produced by the most recent successful completion.
func (c *Checkout) LastBooking() (domain.CompletedBooking, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastBooking == nil {
		return domain.CompletedBooking{}, false
	}
	return *c.lastBooking, true
}

// Completing reports whether a completion request is in flight.
func (c *Checkout) Completing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completing
}

// SetSelectedFlight picks the outbound flight. Changing to a different flight
// drops every selected seat and resizes the passenger list.
func (c *Checkout) SetSelectedFlight(ctx context.Context, flight *domain.Flight) error {
	if err := flight.Validate(); err != nil {
		return domain.NewValidationError("SetSelectedFlight", err.Error())
	}

	c.mu.Lock()
	changed := c.session.SelectedFlight == nil || c.session.SelectedFlight.ID != flight.ID
	hasSeats := len(c.session.SelectedSeats) > 0
	c.mu.Unlock()

	if changed && hasSeats {
		c.ClearAllSeats(ctx)
	}

	f := *flight
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.SelectedFlight = &f
	c.session.Passengers = resizePassengers(c.session.Passengers, f.PassengerCount())
	if changed {
		c.inventory = NewSeatInventory(f.ID, nil)
	}
	c.touchLocked()
	return nil
}

func (c *Checkout) SetReturnFlight(flight *domain.Flight) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if flight == nil {
		c.session.ReturnFlight = nil
		c.touchLocked()
		return nil
	}
	if err := flight.Validate(); err != nil {
		return domain.NewValidationError("SetReturnFlight", err.Error())
	}
	f := *flight
	c.session.ReturnFlight = &f
	c.touchLocked()
	return nil
}

func (c *Checkout) UpdatePassenger(p domain.Passenger) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.session.Passengers {
		if c.session.Passengers[i].ID == p.ID {
			c.session.Passengers[i] = p
			c.touchLocked()
			return nil
		}
	}
	return domain.NewValidationError("UpdatePassenger", fmt.Sprintf("passenger %d does not exist", p.ID))
}

func (c *Checkout) SetContactInfo(info domain.ContactInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.ContactInfo = info
	c.touchLocked()
}

func (c *Checkout) SetPaymentInfo(info domain.PaymentInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.PaymentInfo = info
	c.touchLocked()
}

func (c *Checkout) SetExtras(extras domain.Extras) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.Extras = extras
	c.touchLocked()
}

// ApplyPromoCode sets a promo code from the catalogue. Unknown codes are
// rejected and leave the current code in place.
func (c *Checkout) ApplyPromoCode(code string) error {
	promo, ok := fare.LookupPromo(code)
	if !ok {
		return domain.NewValidationError("ApplyPromoCode", "invalid promo code")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.PromoCode = promo.Code
	c.touchLocked()
	return nil
}

func (c *Checkout) RemovePromoCode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session.PromoCode = ""
	c.touchLocked()
}

// touchLocked records a local change and recomputes the fare.
func (c *Checkout) touchLocked() {
	c.changes++
	c.recomputeLocked()
}

func (c *Checkout) recomputeLocked() {
	b := fare.Calculate(fare.InputFromSession(&c.session))
	b.Revision = c.session.Pricing.Revision + 1
	c.session.Pricing = b
	c.session.AppliedDiscount = b.Discount
}

func (c *Checkout) dirtyLocked() bool {
	return c.changes != c.savedChanges
}

func resizePassengers(current []domain.Passenger, count int) []domain.Passenger {
	if len(current) == count {
		return current
	}
	out := domain.NewPassengers(count)
	copy(out, current)
	return out
}

func (c *Checkout) publish(ctx context.Context, n domain.Notification) {
	if c.notifier == nil {
		return
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.SessionID == "" {
		n.SessionID = c.SessionID()
	}
	if n.OccurredAt.IsZero() {
		n.OccurredAt = c.now()
	}
	if err := c.notifier.Publish(ctx, n); err != nil {
		c.logger.WarnContext(ctx, "failed to publish notification",
			slog.String("type", string(n.Type)),
			slog.String("error", err.Error()))
	}
}

func retryAction(operation string, params map[string]string) *domain.Action {
	return &domain.Action{Label: "Retry", Operation: operation, Params: params}
}

// backendError keeps typed errors from the backend and treats anything else
// as a retryable network failure.
func backendError(op string, err error, action *domain.Action) error {
	var de *domain.Error
	if errors.As(err, &de) {
		out := *de
		out.Op = op
		if out.Action == nil {
			out.Action = action
		}
		return &out
	}
	return domain.NewNetworkError(op, err, action)
}

func (c *Checkout) errorNotification(typ domain.NotificationType, title string, err error) domain.Notification {
	n := domain.Notification{
		Type:    typ,
		Title:   title,
		Message: err.Error(),
	}
	var de *domain.Error
	if errors.As(err, &de) {
		n.Message = de.Message
		if de.Action != nil && de.Retryable {
			n.Actionable = true
			n.Actions = []domain.Action{*de.Action}
		}
	}
	return n
}

type realScheduler struct{}

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type memoryResume struct {
	mu sync.Mutex
	id string
}

func (m *memoryResume) Save(sessionID string, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = sessionID
	return nil
}

func (m *memoryResume) Load() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.id, nil
}

func (m *memoryResume) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.id = ""
	return nil
}
