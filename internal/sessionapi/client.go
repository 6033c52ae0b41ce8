// Package sessionapi is the HTTP client for the booking session service.
package sessionapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Domenick1991/skycheckout/internal/domain"
)

const apiPrefix = "/api/v1"

type Config struct {
	BaseURL string
	Timeout time.Duration
	// Token is sent as a bearer token when set.
	Token string
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func sessionPath(id string, parts ...string) string {
	p := "/booking-sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *Client) SaveSession(ctx context.Context, session domain.BookingSession) (domain.BookingSession, error) {
	var out domain.BookingSession
	err := c.do(ctx, "SaveSession", http.MethodPost, "/booking-sessions", session, &out)
	return out, err
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (domain.BookingSession, error) {
	var out domain.BookingSession
	err := c.do(ctx, "GetSession", http.MethodGet, sessionPath(sessionID), nil, &out)
	return out, err
}

func (c *Client) UpdateStep(ctx context.Context, sessionID string, step int) error {
	return c.do(ctx, "UpdateStep", http.MethodPatch, sessionPath(sessionID, "step"), domain.StepUpdate{CurrentStep: step}, nil)
}

func (c *Client) ReserveSeats(ctx context.Context, sessionID string, version uint64, seats []domain.Seat) (domain.ReserveSeatsResponse, error) {
	if seats == nil {
		seats = []domain.Seat{}
	}
	var out domain.ReserveSeatsResponse
	req := domain.ReserveSeatsRequest{Version: version, Seats: seats}
	err := c.do(ctx, "ReserveSeats", http.MethodPost, sessionPath(sessionID, "seats"), req, &out)
	return out, err
}

func (c *Client) ExtendReservation(ctx context.Context, sessionID string) (domain.ExtendReservationResponse, error) {
	var out domain.ExtendReservationResponse
	err := c.do(ctx, "ExtendReservation", http.MethodPatch, sessionPath(sessionID, "seats", "extend"), nil, &out)
	return out, err
}

func (c *Client) ValidatePricing(ctx context.Context, sessionID string) (domain.PricingValidation, error) {
	var out domain.PricingValidation
	err := c.do(ctx, "ValidatePricing", http.MethodPost, sessionPath(sessionID, "validate-pricing"), nil, &out)
	return out, err
}

func (c *Client) CompleteSession(ctx context.Context, sessionID string, payload domain.BookingPayload) (domain.CompletedBooking, error) {
	var out domain.CompletedBooking
	req := domain.CompleteBookingRequest{SessionID: sessionID, Booking: payload}
	err := c.do(ctx, "CompleteSession", http.MethodPost, sessionPath(sessionID, "complete"), req, &out)
	return out, err
}

func (c *Client) CancelSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, "CancelSession", http.MethodDelete, sessionPath(sessionID), nil, nil)
}

func (c *Client) SeatMap(ctx context.Context, flightID, sessionID string) ([]domain.Seat, error) {
	path := "/flights/" + url.PathEscape(flightID) + "/seats"
	if sessionID != "" {
		path += "?" + url.Values{"session_id": {sessionID}}.Encode()
	}
	var out []domain.Seat
	err := c.do(ctx, "SeatMap", http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) BookingHistory(ctx context.Context, limit, offset int) (domain.BookingPage, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("offset", strconv.Itoa(offset))
	var out domain.BookingPage
	err := c.do(ctx, "BookingHistory", http.MethodGet, "/completed-bookings/history?"+q.Encode(), nil, &out)
	return out, err
}

func (c *Client) GetBooking(ctx context.Context, reference string) (domain.CompletedBooking, error) {
	var out domain.CompletedBooking
	err := c.do(ctx, "GetBooking", http.MethodGet, "/completed-bookings/"+url.PathEscape(reference), nil, &out)
	return out, err
}

func (c *Client) CancelBooking(ctx context.Context, reference string) (domain.CompletedBooking, error) {
	var out domain.CompletedBooking
	err := c.do(ctx, "CancelBooking", http.MethodPatch, "/completed-bookings/"+url.PathEscape(reference)+"/cancel", nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.DebugContext(ctx, "session api transport error",
			slog.String("op", op),
			slog.String("error", err.Error()))
		return domain.NewNetworkError(op, err, nil)
	}
	defer resp.Body.Close()

	c.logger.DebugContext(ctx, "session api call",
		slog.String("op", op),
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(op, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// statusError maps an error response onto the checkout error taxonomy.
func (c *Client) statusError(op, path string, resp *http.Response) error {
	var body domain.ErrorBody
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body)
	message := body.Error
	if message == "" {
		message = http.StatusText(resp.StatusCode)
	}
	cause := fmt.Errorf("status %d: %s", resp.StatusCode, message)

	switch {
	case resp.StatusCode == http.StatusConflict && body.Code == domain.ConflictCodeSeatUnavailable:
		return &domain.Error{
			Kind:    domain.KindSeatConflict,
			Op:      op,
			Message: message,
			Err:     &domain.SeatConflictError{SeatIDs: body.UnavailableSeatIDs},
		}
	case resp.StatusCode == http.StatusConflict && body.Code == domain.ConflictCodeStaleSelection:
		return &domain.Error{
			Kind:    domain.KindValidation,
			Op:      op,
			Message: message,
			Err:     fmt.Errorf("%w: %v", domain.ErrStaleSelection, cause),
		}
	case resp.StatusCode == http.StatusConflict && body.Code == domain.CodeConcurrentUpdate,
		resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return domain.NewNetworkError(op, cause, nil)
	case (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone) &&
		strings.HasPrefix(path, "/booking-sessions/"):
		return &domain.Error{
			Kind:    domain.KindSessionExpired,
			Op:      op,
			Message: "your booking session has expired, please start again",
			Err:     cause,
		}
	case body.Code == domain.CodeSessionExpired:
		return &domain.Error{Kind: domain.KindSessionExpired, Op: op, Message: message, Err: cause}
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		return &domain.Error{Kind: domain.KindValidation, Op: op, Message: message, Err: cause}
	default:
		return &domain.Error{Kind: domain.KindUnknown, Op: op, Message: message, Err: cause}
	}
}
