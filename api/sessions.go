package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/service/booking"
	"github.com/Domenick1991/skycheckout/internal/service/session"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

type SessionHandler struct {
	sessions  session.SessionUseCase
	bookings  booking.BookingUseCase
	validator *validator.Validate
	log       *logger.Logger
}

type stepRequest struct {
	CurrentStep int `json:"current_step" validate:"required,min=1,max=5"`
}

type seatRequest struct {
	ID         string `json:"id" validate:"required,max=8"`
	SeatNumber string `json:"seat_number"`
}

type reserveSeatsRequest struct {
	Version uint64 `json:"version"`
	// An empty list releases every seat the session holds.
	Seats []seatRequest `json:"seats" validate:"max=9,dive"`
}

type completeRequest struct {
	SessionID string                `json:"session_id" validate:"omitempty,max=64"`
	Booking   domain.BookingPayload `json:"booking"`
}

func NewSessionHandler(sessions session.SessionUseCase, bookings booking.BookingUseCase, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		sessions:  sessions,
		bookings:  bookings,
		validator: validator.New(),
		log:       log,
	}
}

func (h *SessionHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.save)
	router.GET("/:id", h.get)
	router.DELETE("/:id", h.cancel)
	router.PATCH("/:id/step", h.updateStep)
	router.POST("/:id/seats", h.reserveSeats)
	router.PATCH("/:id/seats/extend", h.extend)
	router.POST("/:id/validate-pricing", h.validatePricing)
	router.POST("/:id/complete", h.complete)
}

func (h *SessionHandler) save(c *gin.Context) {
	var req domain.BookingSession
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	saved, err := h.sessions.Save(c.Request.Context(), userID(c), req)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, saved)
}

func (h *SessionHandler) get(c *gin.Context) {
	s, err := h.sessions.Get(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *SessionHandler) cancel(c *gin.Context) {
	if err := h.sessions.Cancel(c.Request.Context(), userID(c), c.Param("id")); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *SessionHandler) updateStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, err)
		return
	}

	if err := h.sessions.UpdateStep(c.Request.Context(), userID(c), c.Param("id"), req.CurrentStep); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, domain.StepUpdate{CurrentStep: req.CurrentStep})
}

func (h *SessionHandler) reserveSeats(c *gin.Context) {
	var req reserveSeatsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, err)
		return
	}

	seats := make([]domain.Seat, 0, len(req.Seats))
	for _, s := range req.Seats {
		seats = append(seats, domain.Seat{ID: s.ID, SeatNumber: s.SeatNumber})
	}
	resp, err := h.sessions.ReserveSeats(c.Request.Context(), userID(c), c.Param("id"), req.Version, seats)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) extend(c *gin.Context) {
	resp, err := h.sessions.ExtendReservation(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *SessionHandler) validatePricing(c *gin.Context) {
	v, err := h.sessions.ValidatePricing(c.Request.Context(), userID(c), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (h *SessionHandler) complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, err)
		return
	}
	id := c.Param("id")
	if req.SessionID != "" && req.SessionID != id {
		badRequest(c, errors.New("session_id does not match the path"))
		return
	}

	b, err := h.bookings.Complete(c.Request.Context(), userID(c), id, req.Booking)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}
