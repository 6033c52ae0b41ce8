package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Domenick1991/skycheckout/internal/cache"
	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/repository"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

// Mock структуры
type MockSessionRepository struct {
	mock.Mock
}

func (m *MockSessionRepository) Upsert(ctx context.Context, session *domain.BookingSession) error {
	args := m.Called(ctx, session)
	return args.Error(0)
}

func (m *MockSessionRepository) Get(ctx context.Context, id string) (*domain.BookingSession, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingSession), args.Error(1)
}

func (m *MockSessionRepository) UpdateStep(ctx context.Context, id string, step int) error {
	args := m.Called(ctx, id, step)
	return args.Error(0)
}

func (m *MockSessionRepository) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *MockSessionRepository) ExpireBefore(ctx context.Context, deadline time.Time, limit int) ([]domain.BookingSession, error) {
	args := m.Called(ctx, deadline, limit)
	return args.Get(0).([]domain.BookingSession), args.Error(1)
}

type MockFlightRepository struct {
	mock.Mock
}

func (m *MockFlightRepository) List(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) GetByID(ctx context.Context, id string) (*domain.Flight, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Flight), args.Error(1)
}

func (m *MockFlightRepository) Seats(ctx context.Context, flightID string) ([]domain.Seat, error) {
	args := m.Called(ctx, flightID)
	return args.Get(0).([]domain.Seat), args.Error(1)
}

type MockSeatLocker struct {
	mock.Mock
}

func (m *MockSeatLocker) AcquireSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string, ttl time.Duration) error {
	args := m.Called(ctx, flightID, sessionID, seatIDs, ttl)
	return args.Error(0)
}

func (m *MockSeatLocker) ReleaseSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string) error {
	args := m.Called(ctx, flightID, sessionID, seatIDs)
	return args.Error(0)
}

func (m *MockSeatLocker) ExtendSeatLocks(ctx context.Context, flightID, sessionID string, seatIDs []string, ttl time.Duration) ([]string, error) {
	args := m.Called(ctx, flightID, sessionID, seatIDs, ttl)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockSeatLocker) SeatLockOwners(ctx context.Context, flightID string, seatIDs []string) (map[string]string, error) {
	args := m.Called(ctx, flightID, seatIDs)
	return args.Get(0).(map[string]string), args.Error(1)
}

type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	args := m.Called(ctx, topic, key, value)
	return args.Error(0)
}

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	sessions *MockSessionRepository
	flights  *MockFlightRepository
	locks    *MockSeatLocker
	svc      *SessionService
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		sessions: new(MockSessionRepository),
		flights:  new(MockFlightRepository),
		locks:    new(MockSeatLocker),
	}
	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)
	f.svc = NewSessionService(f.sessions, f.flights, f.locks,
		Config{SeatLockTTL: 15 * time.Minute, SessionTTL: 30 * time.Minute},
		logger.Discard(), opts...)
	t.Cleanup(func() {
		f.sessions.AssertExpectations(t)
		f.flights.AssertExpectations(t)
		f.locks.AssertExpectations(t)
	})
	return f
}

func testFlight() *domain.Flight {
	return &domain.Flight{ID: "FL100", PriceCents: 50000, SearchCriteria: domain.SearchCriteria{Passengers: 2}}
}

func testSeats() []domain.Seat {
	return []domain.Seat{
		{ID: "1A", SeatNumber: "1A", Section: "business", PriceCents: 2500, IsAvailable: true},
		{ID: "1B", SeatNumber: "1B", Section: "business", PriceCents: 2500, IsAvailable: true},
		{ID: "2A", SeatNumber: "2A", Section: "economy", PriceCents: 0, IsAvailable: false},
	}
}

func activeSession() *domain.BookingSession {
	return &domain.BookingSession{
		SessionID:      "sess-1",
		UserID:         "user-1",
		Status:         domain.SessionStatusActive,
		CurrentStep:    2,
		SelectedFlight: testFlight(),
		SelectedSeats:  []domain.Seat{},
		ExpiresAt:      now.Add(20 * time.Minute),
	}
}

func TestSave_NewSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sessions.On("Get", ctx, "sess-1").Return(nil, repository.ErrNotFound)
	f.sessions.On("Upsert", ctx, mock.AnythingOfType("*domain.BookingSession")).Return(nil)

	in := domain.BookingSession{
		SessionID:      "sess-1",
		CurrentStep:    1,
		SelectedFlight: testFlight(),
		SelectedSeats:  []domain.Seat{{ID: "1A"}},
		PaymentInfo:    domain.PaymentInfo{Method: "credit_card", CardNumber: "4111111111111111", CVV: "123"},
	}
	out, err := f.svc.Save(ctx, "user-1", in)

	require.NoError(t, err)
	assert.Equal(t, "user-1", out.UserID)
	assert.Equal(t, domain.SessionStatusActive, out.Status)
	assert.Equal(t, now.Add(30*time.Minute), out.ExpiresAt)
	assert.Empty(t, out.SelectedSeats, "seats are only granted through ReserveSeats")
	assert.Empty(t, out.PaymentInfo.CVV)
	assert.NotEqual(t, "4111111111111111", out.PaymentInfo.CardNumber)
}

func TestSave_KeepsServerState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := activeSession()
	existing.SelectedSeats = []domain.Seat{{ID: "1A", PriceCents: 2500}}
	existing.SeatLockExpiresAt = now.Add(10 * time.Minute)
	existing.SeatVersion = 3
	existing.Version = 7
	f.sessions.On("Get", ctx, "sess-1").Return(existing, nil)
	f.sessions.On("Upsert", ctx, mock.AnythingOfType("*domain.BookingSession")).Return(nil)

	in := *activeSession()
	in.CurrentStep = 4
	in.ExpiresAt = now.Add(24 * time.Hour)
	in.SelectedSeats = []domain.Seat{{ID: "1B"}}
	in.SeatVersion = 9
	out, err := f.svc.Save(ctx, "user-1", in)

	require.NoError(t, err)
	assert.Equal(t, 4, out.CurrentStep)
	assert.Equal(t, existing.ExpiresAt, out.ExpiresAt)
	assert.Equal(t, []string{"1A"}, domain.SeatIDs(out.SelectedSeats))
	assert.Equal(t, existing.SeatLockExpiresAt, out.SeatLockExpiresAt)
	assert.Equal(t, uint64(3), out.SeatVersion)
	assert.Equal(t, int64(7), out.Version)
}

func TestSave_RetriesRacedWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := activeSession()
	existing.SelectedSeats = []domain.Seat{{ID: "1A"}}
	f.sessions.On("Get", ctx, "sess-1").Return(existing, nil)
	f.sessions.On("Upsert", ctx, mock.Anything).Return(repository.ErrVersionConflict).Once()
	f.sessions.On("Upsert", ctx, mock.Anything).Return(nil).Once()
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}).Return(nil).Once()

	in := *activeSession()
	in.SelectedFlight = &domain.Flight{ID: "FL200", PriceCents: 30000}
	_, err := f.svc.Save(ctx, "user-1", in)

	require.NoError(t, err)
	f.sessions.AssertNumberOfCalls(t, "Get", 2)
	f.locks.AssertNumberOfCalls(t, "ReleaseSeatLocks", 1)
}

func TestSave_GivesUpOnPersistentRace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sessions.On("Get", ctx, "sess-1").Return(activeSession(), nil)
	f.sessions.On("Upsert", ctx, mock.Anything).Return(repository.ErrVersionConflict)

	_, err := f.svc.Save(ctx, "user-1", *activeSession())

	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	f.sessions.AssertNumberOfCalls(t, "Upsert", maxWriteAttempts)
}

func TestSave_FlightChangeReleasesSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	existing := activeSession()
	existing.SelectedSeats = []domain.Seat{{ID: "1A"}}
	f.sessions.On("Get", ctx, "sess-1").Return(existing, nil)
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}).Return(nil)
	f.sessions.On("Upsert", ctx, mock.AnythingOfType("*domain.BookingSession")).Return(nil)

	in := *activeSession()
	in.SelectedFlight = &domain.Flight{ID: "FL200", PriceCents: 30000}
	out, err := f.svc.Save(ctx, "user-1", in)

	require.NoError(t, err)
	assert.Empty(t, out.SelectedSeats)
	assert.True(t, out.SeatLockExpiresAt.IsZero())
}

func TestSave_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		in      domain.BookingSession
		setup   func(f *fixture)
		wantErr error
		kind    domain.ErrorKind
	}{
		{
			name: "missing id",
			in:   domain.BookingSession{CurrentStep: 1},
			kind: domain.KindValidation,
		},
		{
			name: "step out of range",
			in:   domain.BookingSession{SessionID: "sess-1", CurrentStep: 6},
			kind: domain.KindValidation,
		},
		{
			name: "invalid flight",
			in:   domain.BookingSession{SessionID: "sess-1", CurrentStep: 1, SelectedFlight: &domain.Flight{}},
			kind: domain.KindValidation,
		},
		{
			name: "completed session",
			in:   domain.BookingSession{SessionID: "sess-1", CurrentStep: 5},
			setup: func(f *fixture) {
				s := activeSession()
				s.Status = domain.SessionStatusCompleted
				f.sessions.On("Get", mock.Anything, "sess-1").Return(s, nil)
			},
			wantErr: ErrSessionClosed,
		},
		{
			name: "other user's session",
			in:   domain.BookingSession{SessionID: "sess-1", CurrentStep: 2},
			setup: func(f *fixture) {
				s := activeSession()
				s.UserID = "user-2"
				f.sessions.On("Get", mock.Anything, "sess-1").Return(s, nil)
			},
			wantErr: ErrSessionNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.svc.Save(context.Background(), "user-1", tt.in)

			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.Equal(t, tt.kind, domain.KindOf(err))
			}
			f.sessions.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		})
	}
}

func TestGet_ExpiredSessionIsMarked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := activeSession()
	s.ExpiresAt = now.Add(-time.Second)
	s.SelectedSeats = []domain.Seat{{ID: "1A"}}
	f.sessions.On("Get", ctx, "sess-1").Return(s, nil)
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}).Return(nil)
	f.sessions.On("UpdateStatus", ctx, "sess-1", domain.SessionStatusExpired).Return(nil)

	_, err := f.svc.Get(ctx, "user-1", "sess-1")

	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestGet_NotFound(t *testing.T) {
	f := newFixture(t)
	f.sessions.On("Get", mock.Anything, "nope").Return(nil, repository.ErrNotFound)

	_, err := f.svc.Get(context.Background(), "user-1", "nope")

	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestUpdateStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sessions.On("Get", ctx, "sess-1").Return(activeSession(), nil)
	f.sessions.On("UpdateStep", ctx, "sess-1", 3).Return(nil)

	require.NoError(t, f.svc.UpdateStep(ctx, "user-1", "sess-1", 3))

	err := f.svc.UpdateStep(ctx, "user-1", "sess-1", 0)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestReserveSeats_LocksAndReleasesDropped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := activeSession()
	s.SelectedSeats = []domain.Seat{{ID: "1A", PriceCents: 2500}}
	f.sessions.On("Get", ctx, "sess-1").Return(s, nil)
	f.flights.On("Seats", ctx, "FL100").Return(testSeats(), nil)
	f.locks.On("AcquireSeatLocks", ctx, "FL100", "sess-1", []string{"1B"}, 15*time.Minute).Return(nil)
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}).Return(nil)
	f.sessions.On("Upsert", ctx, mock.AnythingOfType("*domain.BookingSession")).Return(nil)

	resp, err := f.svc.ReserveSeats(ctx, "user-1", "sess-1", 2, []domain.Seat{{ID: "1B"}})

	require.NoError(t, err)
	require.Len(t, resp.Locks, 1)
	assert.Equal(t, "1B", resp.Locks[0].SeatID)
	assert.Equal(t, now.Add(15*time.Minute), resp.ExpiresAt)

	saved := f.sessions.Calls[1].Arguments.Get(1).(*domain.BookingSession)
	require.Len(t, saved.SelectedSeats, 1)
	assert.Equal(t, domain.SeatStateConfirmed, saved.SelectedSeats[0].State)
	assert.Equal(t, int64(2500), saved.SelectedSeats[0].PriceCents)
	assert.Equal(t, now.Add(15*time.Minute), saved.SeatLockExpiresAt)
	assert.Equal(t, int64(2500), saved.Pricing.SeatsTotal)
	assert.Equal(t, uint64(2), saved.SeatVersion)
}

func TestReserveSeats_LockCappedAtSessionExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := activeSession()
	s.ExpiresAt = now.Add(5 * time.Minute)
	f.sessions.On("Get", ctx, "sess-1").Return(s, nil)
	f.flights.On("Seats", ctx, "FL100").Return(testSeats(), nil)
	f.locks.On("AcquireSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}, 5*time.Minute).Return(nil)
	f.sessions.On("Upsert", ctx, mock.Anything).Return(nil)

	resp, err := f.svc.ReserveSeats(ctx, "user-1", "sess-1", 0, []domain.Seat{{ID: "1A"}})

	require.NoError(t, err)
	assert.Equal(t, s.ExpiresAt, resp.ExpiresAt)
}

func TestReserveSeats_Conflicts(t *testing.T) {
	tests := []struct {
		name  string
		seats []domain.Seat
		setup func(f *fixture)
		want  []string
	}{
		{
			name:  "sold seat",
			seats: []domain.Seat{{ID: "1A"}, {ID: "2A"}},
			want:  []string{"2A"},
		},
		{
			name:  "locked by another session",
			seats: []domain.Seat{{ID: "1A"}, {ID: "1B"}},
			setup: func(f *fixture) {
				f.locks.On("AcquireSeatLocks", mock.Anything, "FL100", "sess-1", []string{"1A", "1B"}, 15*time.Minute).
					Return(&cache.SeatLockError{SeatIDs: []string{"1B"}})
			},
			want: []string{"1B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sessions.On("Get", mock.Anything, "sess-1").Return(activeSession(), nil)
			f.flights.On("Seats", mock.Anything, "FL100").Return(testSeats(), nil)
			if tt.setup != nil {
				tt.setup(f)
			}

			_, err := f.svc.ReserveSeats(context.Background(), "user-1", "sess-1", 0, tt.seats)

			require.Error(t, err)
			assert.Equal(t, tt.want, domain.ConflictingSeats(err))
			f.sessions.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
		})
	}
}

func TestReserveSeats_StaleVersionRefused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := activeSession()
	s.SeatVersion = 5
	s.SelectedSeats = []domain.Seat{{ID: "1A"}}
	f.sessions.On("Get", ctx, "sess-1").Return(s, nil)

	_, err := f.svc.ReserveSeats(ctx, "user-1", "sess-1", 3, []domain.Seat{{ID: "1B"}})

	assert.ErrorIs(t, err, domain.ErrStaleSelection)
	f.locks.AssertNotCalled(t, "AcquireSeatLocks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.locks.AssertNotCalled(t, "ReleaseSeatLocks", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.sessions.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestReserveSeats_LosingRaceReleasesOnlyNewLocks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	read := activeSession()
	read.SeatVersion = 1
	read.SelectedSeats = []domain.Seat{{ID: "1A"}}
	winner := activeSession()
	winner.SeatVersion = 4
	winner.SelectedSeats = []domain.Seat{{ID: "1A"}}

	f.sessions.On("Get", ctx, "sess-1").Return(read, nil).Once()
	f.sessions.On("Get", ctx, "sess-1").Return(winner, nil)
	f.flights.On("Seats", ctx, "FL100").Return(testSeats(), nil).Once()
	f.locks.On("AcquireSeatLocks", ctx, "FL100", "sess-1", []string{"1B"}, 15*time.Minute).Return(nil).Once()
	f.sessions.On("Upsert", ctx, mock.Anything).Return(repository.ErrVersionConflict).Once()
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1B"}).Return(nil).Once()

	_, err := f.svc.ReserveSeats(ctx, "user-1", "sess-1", 3, []domain.Seat{{ID: "1B"}})

	assert.ErrorIs(t, err, domain.ErrStaleSelection, "the newer selection won")
	f.locks.AssertNotCalled(t, "ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"})
}

func TestReserveSeats_Validation(t *testing.T) {
	tests := []struct {
		name  string
		seats []domain.Seat
	}{
		{name: "over quota", seats: []domain.Seat{{ID: "1A"}, {ID: "1B"}, {ID: "2A"}}},
		{name: "duplicate", seats: []domain.Seat{{ID: "1A"}, {ID: "1A"}}},
		{name: "unknown seat", seats: []domain.Seat{{ID: "99Z"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sessions.On("Get", mock.Anything, "sess-1").Return(activeSession(), nil)
			f.flights.On("Seats", mock.Anything, "FL100").Return(testSeats(), nil).Maybe()

			_, err := f.svc.ReserveSeats(context.Background(), "user-1", "sess-1", 0, tt.seats)

			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestExtendReservation_DropsLostSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := activeSession()
	s.SelectedSeats = []domain.Seat{{ID: "1A", PriceCents: 2500}, {ID: "1B", PriceCents: 2500}}
	f.sessions.On("Get", ctx, "sess-1").Return(s, nil)
	f.locks.On("ExtendSeatLocks", ctx, "FL100", "sess-1", []string{"1A", "1B"}, 15*time.Minute).
		Return([]string{"1B"}, nil)
	f.sessions.On("Upsert", ctx, mock.AnythingOfType("*domain.BookingSession")).Return(nil)

	resp, err := f.svc.ExtendReservation(ctx, "user-1", "sess-1")

	require.NoError(t, err)
	assert.Equal(t, now.Add(30*time.Minute), resp.ExpiresAt)
	assert.Equal(t, now.Add(15*time.Minute), resp.SeatLockExpiresAt)
	assert.Equal(t, []string{"1A"}, resp.KeptSeatIDs)
	assert.Equal(t, []string{"1B"}, resp.LostSeatIDs)
	saved := f.sessions.Calls[1].Arguments.Get(1).(*domain.BookingSession)
	assert.Equal(t, []string{"1A"}, domain.SeatIDs(saved.SelectedSeats))
	assert.Equal(t, int64(2500), saved.Pricing.SeatsTotal)
}

func TestExtendReservation_NoSeats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sessions.On("Get", ctx, "sess-1").Return(activeSession(), nil)
	f.sessions.On("Upsert", ctx, mock.Anything).Return(nil)

	resp, err := f.svc.ExtendReservation(ctx, "user-1", "sess-1")

	require.NoError(t, err)
	assert.True(t, resp.SeatLockExpiresAt.IsZero())
	assert.NotNil(t, resp.KeptSeatIDs)
	assert.Empty(t, resp.KeptSeatIDs)
	f.locks.AssertNotCalled(t, "ExtendSeatLocks", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestValidatePricing(t *testing.T) {
	seated := func() *domain.BookingSession {
		s := activeSession()
		s.SelectedSeats = []domain.Seat{{ID: "1A", PriceCents: 2500}}
		s.Passengers = domain.NewPassengers(1)
		s.Pricing = fareFor(s)
		return s
	}

	tests := []struct {
		name        string
		flightPrice int64
		owners      map[string]string
		valid       bool
		unavailable []string
	}{
		{name: "unchanged", flightPrice: 50000, owners: map[string]string{"1A": "sess-1"}, valid: true},
		{name: "flight price changed", flightPrice: 55000, owners: map[string]string{"1A": "sess-1"}},
		{name: "lock lost", flightPrice: 50000, owners: map[string]string{}, unavailable: []string{"1A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sessions.On("Get", mock.Anything, "sess-1").Return(seated(), nil)
			f.flights.On("GetByID", mock.Anything, "FL100").Return(&domain.Flight{ID: "FL100", PriceCents: tt.flightPrice}, nil)
			f.flights.On("Seats", mock.Anything, "FL100").Return(testSeats(), nil)
			f.locks.On("SeatLockOwners", mock.Anything, "FL100", []string{"1A"}).Return(tt.owners, nil)

			v, err := f.svc.ValidatePricing(context.Background(), "user-1", "sess-1")

			require.NoError(t, err)
			assert.Equal(t, tt.valid, v.Valid)
			assert.Equal(t, tt.flightPrice, v.FlightPriceCents)
			assert.Equal(t, tt.unavailable, v.UnavailableSeats)
			assert.True(t, v.Pricing.Consistent())
		})
	}
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := activeSession()
	s.SelectedSeats = []domain.Seat{{ID: "1A"}}
	f.sessions.On("Get", ctx, "sess-1").Return(s, nil).Once()
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}).Return(nil)
	f.sessions.On("UpdateStatus", ctx, "sess-1", domain.SessionStatusCancelled).Return(nil)

	require.NoError(t, f.svc.Cancel(ctx, "user-1", "sess-1"))

	cancelled := activeSession()
	cancelled.Status = domain.SessionStatusCancelled
	f.sessions.On("Get", ctx, "sess-1").Return(cancelled, nil).Once()
	assert.NoError(t, f.svc.Cancel(ctx, "user-1", "sess-1"))
	f.sessions.AssertNumberOfCalls(t, "UpdateStatus", 1)
}

func TestExpireStale(t *testing.T) {
	producer := new(MockProducer)
	f := newFixture(t, WithProducer(producer, "booking-events"))
	ctx := context.Background()
	s := activeSession()
	s.SelectedSeats = []domain.Seat{{ID: "1A"}}
	f.sessions.On("ExpireBefore", ctx, now, 50).Return([]domain.BookingSession{*s, {SessionID: "sess-2"}}, nil)
	f.locks.On("ReleaseSeatLocks", ctx, "FL100", "sess-1", []string{"1A"}).Return(nil)
	producer.On("Publish", ctx, "booking-events", mock.AnythingOfType("string"), mock.Anything).Return(errors.New("broker down"))

	n, err := f.svc.ExpireStale(ctx, 50)

	require.NoError(t, err)
	assert.Equal(t, 2, n)
	producer.AssertNumberOfCalls(t, "Publish", 2)
}

func fareFor(s *domain.BookingSession) domain.FareBreakdown {
	svc := &SessionService{}
	c := *s
	svc.reprice(&c)
	return c.Pricing
}
