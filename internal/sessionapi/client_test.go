package sessionapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Domenick1991/skycheckout/internal/checkout"
	"github.com/Domenick1991/skycheckout/internal/domain"
)

var _ checkout.Backend = (*Client)(nil)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/", Token: "secret", Timeout: time.Second}, nil)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_SaveSession(t *testing.T) {
	expires := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/booking-sessions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in domain.BookingSession
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "sess-1", in.SessionID)

		in.ExpiresAt = expires
		in.UserID = "user-7"
		writeJSON(w, http.StatusOK, in)
	})

	out, err := client.SaveSession(context.Background(), domain.BookingSession{SessionID: "sess-1", CurrentStep: 2})

	require.NoError(t, err)
	assert.Equal(t, expires, out.ExpiresAt)
	assert.Equal(t, "user-7", out.UserID)
	assert.Equal(t, 2, out.CurrentStep)
}

func TestClient_ReserveSeats_Conflict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/booking-sessions/sess-1/seats", r.URL.Path)
		var in domain.ReserveSeatsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.NotNil(t, in.Seats)
		assert.Equal(t, uint64(4), in.Version)

		writeJSON(w, http.StatusConflict, domain.ErrorBody{
			Error:              "seat 12A is no longer available",
			Code:               domain.ConflictCodeSeatUnavailable,
			UnavailableSeatIDs: []string{"12A"},
		})
	})

	_, err := client.ReserveSeats(context.Background(), "sess-1", 4, nil)

	require.Error(t, err)
	assert.Equal(t, domain.KindSeatConflict, domain.KindOf(err))
	assert.Equal(t, []string{"12A"}, domain.ConflictingSeats(err))
	assert.False(t, domain.IsRetryable(err))
}

func TestClient_ReserveSeats_StaleSelection(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, domain.ErrorBody{
			Error: domain.ErrStaleSelection.Error(),
			Code:  domain.ConflictCodeStaleSelection,
		})
	})

	_, err := client.ReserveSeats(context.Background(), "sess-1", 2, []domain.Seat{{ID: "1A"}})

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrStaleSelection)
	assert.NotEqual(t, domain.KindSeatConflict, domain.KindOf(err))
}

func TestClient_ExtendReservation_LostSeats(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/api/v1/booking-sessions/sess-1/seats/extend", r.URL.Path)
		_, _ = w.Write([]byte(`{"session_id":"sess-1","kept_seat_ids":["1B"],"lost_seat_ids":["1A"]}`))
	})

	out, err := client.ExtendReservation(context.Background(), "sess-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"1B"}, out.KeptSeatIDs)
	assert.Equal(t, []string{"1A"}, out.LostSeatIDs)
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      domain.ErrorBody
		call      func(*Client) error
		kind      domain.ErrorKind
		retryable bool
	}{
		{
			name:   "server error is retryable",
			status: http.StatusServiceUnavailable,
			call: func(c *Client) error {
				_, err := c.GetSession(context.Background(), "s")
				return err
			},
			kind:      domain.KindNetwork,
			retryable: true,
		},
		{
			name:   "rate limited is retryable",
			status: http.StatusTooManyRequests,
			call: func(c *Client) error {
				return c.UpdateStep(context.Background(), "s", 3)
			},
			kind:      domain.KindNetwork,
			retryable: true,
		},
		{
			name:   "request timeout is retryable",
			status: http.StatusRequestTimeout,
			call: func(c *Client) error {
				_, err := c.ValidatePricing(context.Background(), "s")
				return err
			},
			kind:      domain.KindNetwork,
			retryable: true,
		},
		{
			name:   "concurrent update is retryable",
			status: http.StatusConflict,
			body:   domain.ErrorBody{Error: "try again", Code: domain.CodeConcurrentUpdate},
			call: func(c *Client) error {
				_, err := c.SaveSession(context.Background(), domain.BookingSession{SessionID: "s"})
				return err
			},
			kind:      domain.KindNetwork,
			retryable: true,
		},
		{
			name:   "missing session has expired",
			status: http.StatusNotFound,
			call: func(c *Client) error {
				_, err := c.GetSession(context.Background(), "s")
				return err
			},
			kind: domain.KindSessionExpired,
		},
		{
			name:   "gone session has expired",
			status: http.StatusGone,
			call: func(c *Client) error {
				_, err := c.ExtendReservation(context.Background(), "s")
				return err
			},
			kind: domain.KindSessionExpired,
		},
		{
			name:   "missing booking is a validation error",
			status: http.StatusNotFound,
			body:   domain.ErrorBody{Error: "booking not found", Code: domain.CodeNotFound},
			call: func(c *Client) error {
				_, err := c.GetBooking(context.Background(), "ABCDEF")
				return err
			},
			kind: domain.KindValidation,
		},
		{
			name:   "bad request",
			status: http.StatusBadRequest,
			body:   domain.ErrorBody{Error: "invalid step", Code: domain.CodeValidation},
			call: func(c *Client) error {
				return c.UpdateStep(context.Background(), "s", 9)
			},
			kind: domain.KindValidation,
		},
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			call: func(c *Client) error {
				_, err := c.BookingHistory(context.Background(), 10, 0)
				return err
			},
			kind: domain.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})

			err := tt.call(client)

			require.Error(t, err)
			assert.Equal(t, tt.kind, domain.KindOf(err))
			assert.Equal(t, tt.retryable, domain.IsRetryable(err))
		})
	}
}

func TestClient_TransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	client := New(Config{BaseURL: srv.URL}, nil)

	err := client.CancelSession(context.Background(), "sess-1")

	assert.Equal(t, domain.KindNetwork, domain.KindOf(err))
	assert.True(t, domain.IsRetryable(err))
}

func TestClient_BookingHistory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/completed-bookings/history", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		assert.Equal(t, "10", r.URL.Query().Get("offset"))
		writeJSON(w, http.StatusOK, domain.BookingPage{
			Bookings: []domain.CompletedBooking{{BookingReference: "K7M2QX"}},
			Total:    11,
			Limit:    5,
			Offset:   10,
		})
	})

	page, err := client.BookingHistory(context.Background(), 5, 10)

	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	require.Len(t, page.Bookings, 1)
	assert.Equal(t, "K7M2QX", page.Bookings[0].BookingReference)
}

func TestClient_CompleteAndCancel(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/booking-sessions/sess-1/complete":
			var in domain.CompleteBookingRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "sess-1", in.SessionID)
			assert.Equal(t, "FL100", in.Booking.Flight.ID)
			writeJSON(w, http.StatusCreated, domain.CompletedBooking{BookingReference: "K7M2QX", Status: domain.BookingStatusConfirmed})
		case "/api/v1/completed-bookings/K7M2QX/cancel":
			assert.Equal(t, http.MethodPatch, r.Method)
			writeJSON(w, http.StatusOK, domain.CompletedBooking{BookingReference: "K7M2QX", Status: domain.BookingStatusCancelled})
		case "/api/v1/booking-sessions/sess-1":
			assert.Equal(t, http.MethodDelete, r.Method)
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	ctx := context.Background()

	b, err := client.CompleteSession(ctx, "sess-1", domain.BookingPayload{Flight: &domain.Flight{ID: "FL100"}})
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusConfirmed, b.Status)

	b, err = client.CancelBooking(ctx, "K7M2QX")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingStatusCancelled, b.Status)

	require.NoError(t, client.CancelSession(ctx, "sess-1"))
}

func TestClient_SeatMap(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/flights/FL100/seats", r.URL.Path)
		assert.Equal(t, "sess-1", r.URL.Query().Get("session_id"))
		writeJSON(w, http.StatusOK, []domain.Seat{{ID: "1A", SeatNumber: "1A", IsAvailable: true}})
	})

	seats, err := client.SeatMap(context.Background(), "FL100", "sess-1")

	require.NoError(t, err)
	assert.Equal(t, []string{"1A"}, domain.SeatIDs(seats))
}
