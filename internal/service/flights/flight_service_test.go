package flights

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/repository"
)

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

type MockCache struct {
	mock.Mock
}

func (m *MockCache) GetFlights(ctx context.Context) ([]domain.Flight, error) {
	args := m.Called(ctx)
	return args.Get(0).([]domain.Flight), args.Error(1)
}

func (m *MockCache) SetFlights(ctx context.Context, flights []domain.Flight) error {
	args := m.Called(ctx, flights)
	return args.Error(0)
}

func (m *MockCache) GetSeatMap(ctx context.Context, flightID string) ([]domain.Seat, error) {
	args := m.Called(ctx, flightID)
	return args.Get(0).([]domain.Seat), args.Error(1)
}

func (m *MockCache) SetSeatMap(ctx context.Context, flightID string, seats []domain.Seat) error {
	args := m.Called(ctx, flightID, seats)
	return args.Error(0)
}

func (m *MockCache) SeatLockOwners(ctx context.Context, flightID string, seatIDs []string) (map[string]string, error) {
	args := m.Called(ctx, flightID, seatIDs)
	return args.Get(0).(map[string]string), args.Error(1)
}

func testFlights() []domain.Flight {
	return []domain.Flight{
		{
			ID:            "FL100",
			FlightNumber:  "SK100",
			FromAirport:   "SVO",
			ToAirport:     "LED",
			DepartureTime: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
			ArrivalTime:   time.Date(2026, 4, 1, 9, 30, 0, 0, time.UTC),
			PriceCents:    50000,
		},
	}
}

func testSeats() []domain.Seat {
	return []domain.Seat{
		{ID: "1A", SeatNumber: "1A", Row: 1, Section: "business", PriceCents: 2500, IsAvailable: true},
		{ID: "1B", SeatNumber: "1B", Row: 1, Section: "business", PriceCents: 2500, IsAvailable: true},
		{ID: "2A", SeatNumber: "2A", Row: 2, Section: "economy", PriceCents: 1500, IsAvailable: true},
	}
}

func TestFlightService_List(t *testing.T) {
	tests := []struct {
		name      string
		cached    []domain.Flight
		cacheErr  error
		wantRepo  bool
		wantWrite bool
	}{
		{name: "cache hit", cached: testFlights()},
		{name: "cache miss", wantRepo: true, wantWrite: true},
		{name: "cache error falls back", cacheErr: errors.New("cache error"), wantRepo: true, wantWrite: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockRepo := &MockFlightRepository{}
			mockCache := &MockCache{}
			service := NewFlightService(mockRepo, mockCache, nil)
			ctx := context.Background()

			mockCache.On("GetFlights", ctx).Return(tt.cached, tt.cacheErr).Once()
			if tt.wantRepo {
				mockRepo.On("List", ctx).Return(testFlights(), nil).Once()
			}
			if tt.wantWrite {
				mockCache.On("SetFlights", ctx, testFlights()).Return(nil).Once()
			}

			result, err := service.List(ctx)

			assert.NoError(t, err)
			assert.Equal(t, testFlights(), result)
			mockCache.AssertExpectations(t)
			mockRepo.AssertExpectations(t)
		})
	}
}

func TestFlightService_List_RepositoryError(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache, nil)
	ctx := context.Background()

	expectedErr := errors.New("database error")
	mockCache.On("GetFlights", ctx).Return(([]domain.Flight)(nil), nil).Once()
	mockRepo.On("List", ctx).Return([]domain.Flight{}, expectedErr).Once()

	result, err := service.List(ctx)

	assert.Equal(t, expectedErr, err)
	assert.Nil(t, result)
	mockCache.AssertNotCalled(t, "SetFlights", mock.Anything, mock.Anything)
}

func TestFlightService_NoCache(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	service := NewFlightService(mockRepo, nil, nil)
	ctx := context.Background()

	mockRepo.On("List", ctx).Return(testFlights(), nil).Once()
	mockRepo.On("Seats", ctx, "FL100").Return(testSeats(), nil).Once()
	f := testFlights()[0]
	mockRepo.On("GetByID", ctx, "FL100").Return(&f, nil).Once()

	flights, err := service.List(ctx)
	require.NoError(t, err)
	assert.Len(t, flights, 1)

	seats, err := service.SeatMap(ctx, "FL100", "sess-1")
	require.NoError(t, err)
	assert.Equal(t, testSeats(), seats)
	mockRepo.AssertExpectations(t)
}

func TestFlightService_GetByID_NotFound(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	service := NewFlightService(mockRepo, nil, nil)
	ctx := context.Background()

	mockRepo.On("GetByID", ctx, "FL999").Return(nil, repository.ErrNotFound).Once()

	result, err := service.GetByID(ctx, "FL999")

	assert.ErrorIs(t, err, ErrFlightNotFound)
	assert.Nil(t, result)
}

func TestFlightService_SeatMap_OverlaysLocks(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache, nil)
	ctx := context.Background()
	f := testFlights()[0]

	mockCache.On("GetSeatMap", ctx, "FL100").Return(([]domain.Seat)(nil), nil).Once()
	mockRepo.On("GetByID", ctx, "FL100").Return(&f, nil).Once()
	mockRepo.On("Seats", ctx, "FL100").Return(testSeats(), nil).Once()
	mockCache.On("SetSeatMap", ctx, "FL100", testSeats()).Return(errors.New("oom")).Once()
	mockCache.On("SeatLockOwners", ctx, "FL100", []string{"1A", "1B", "2A"}).
		Return(map[string]string{"1A": "sess-1", "1B": "sess-2"}, nil).Once()

	seats, err := service.SeatMap(ctx, "FL100", "sess-1")

	require.NoError(t, err)
	require.Len(t, seats, 3)

	own := seats[0]
	assert.True(t, own.IsLocked)
	assert.True(t, own.IsAvailable)
	assert.Equal(t, "sess-1", own.LockOwner)

	other := seats[1]
	assert.True(t, other.IsLocked)
	assert.False(t, other.IsAvailable)
	assert.Empty(t, other.LockOwner)

	assert.False(t, seats[2].IsLocked)
	assert.True(t, seats[2].IsAvailable)

	mockCache.AssertExpectations(t)
	mockRepo.AssertExpectations(t)
}

func TestFlightService_SeatMap_UnknownFlight(t *testing.T) {
	mockRepo := &MockFlightRepository{}
	mockCache := &MockCache{}
	service := NewFlightService(mockRepo, mockCache, nil)
	ctx := context.Background()

	mockCache.On("GetSeatMap", ctx, "FL999").Return(([]domain.Seat)(nil), nil).Once()
	mockRepo.On("GetByID", ctx, "FL999").Return(nil, repository.ErrNotFound).Once()

	_, err := service.SeatMap(ctx, "FL999", "")

	assert.ErrorIs(t, err, ErrFlightNotFound)
	mockRepo.AssertNotCalled(t, "Seats", mock.Anything, mock.Anything)
}
