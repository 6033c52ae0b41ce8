package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/service/booking"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

// MockBookingUseCase is a mock implementation of booking.BookingUseCase
type MockBookingUseCase struct {
	mock.Mock
}

func (m *MockBookingUseCase) Complete(ctx context.Context, userID, sessionID string, payload domain.BookingPayload) (*domain.CompletedBooking, error) {
	args := m.Called(ctx, userID, sessionID, payload)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CompletedBooking), args.Error(1)
}

func (m *MockBookingUseCase) Get(ctx context.Context, userID, reference string) (*domain.CompletedBooking, error) {
	args := m.Called(ctx, userID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CompletedBooking), args.Error(1)
}

func (m *MockBookingUseCase) History(ctx context.Context, userID string, limit, offset int) (*domain.BookingPage, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BookingPage), args.Error(1)
}

func (m *MockBookingUseCase) Cancel(ctx context.Context, userID, reference string) (*domain.CompletedBooking, error) {
	args := m.Called(ctx, userID, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CompletedBooking), args.Error(1)
}

func newBookingRouter(service *MockBookingUseCase) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(userIDKey, "user-1")
	})
	NewBookingHandler(service, logger.Discard()).Register(r.Group("/api/v1/completed-bookings"))
	return r
}

func TestBookingHandler_create(t *testing.T) {
	service := &MockBookingUseCase{}
	r := newBookingRouter(service)
	service.On("Complete", mock.Anything, "user-1", "sess-1", mock.AnythingOfType("domain.BookingPayload")).
		Return(&domain.CompletedBooking{BookingReference: "K7M2QX", Status: domain.BookingStatusConfirmed}, nil)

	w := doJSON(r, http.MethodPost, "/api/v1/completed-bookings", domain.CompleteBookingRequest{SessionID: "sess-1"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var got domain.CompletedBooking
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "K7M2QX", got.BookingReference)
	service.AssertExpectations(t)

	w = doJSON(r, http.MethodPost, "/api/v1/completed-bookings", domain.CompleteBookingRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBookingHandler_history(t *testing.T) {
	tests := []struct {
		name   string
		query  string
		limit  int
		offset int
		status int
	}{
		{name: "defaults", query: "", status: http.StatusOK},
		{name: "paged", query: "?limit=5&offset=10", limit: 5, offset: 10, status: http.StatusOK},
		{name: "limit too large", query: "?limit=500", status: http.StatusBadRequest},
		{name: "not a number", query: "?limit=abc", status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			service := &MockBookingUseCase{}
			r := newBookingRouter(service)
			service.On("History", mock.Anything, "user-1", tt.limit, tt.offset).
				Return(&domain.BookingPage{Bookings: []domain.CompletedBooking{}, Limit: 20}, nil).Maybe()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/completed-bookings/history"+tt.query, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			service.AssertExpectations(t)
		})
	}
}

func TestBookingHandler_getAndCancel(t *testing.T) {
	service := &MockBookingUseCase{}
	r := newBookingRouter(service)
	service.On("Get", mock.Anything, "user-1", "K7M2QX").
		Return(&domain.CompletedBooking{BookingReference: "K7M2QX"}, nil)
	service.On("Get", mock.Anything, "user-1", "ZZZZZZ").Return(nil, booking.ErrBookingNotFound)
	service.On("Cancel", mock.Anything, "user-1", "K7M2QX").Return(nil, booking.ErrNotCancellable)

	w := doJSON(r, http.MethodGet, "/api/v1/completed-bookings/K7M2QX", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(r, http.MethodGet, "/api/v1/completed-bookings/ZZZZZZ", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, domain.CodeNotFound, decodeError(t, w).Code)

	w = doJSON(r, http.MethodPatch, "/api/v1/completed-bookings/K7M2QX/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	service.AssertExpectations(t)
}
