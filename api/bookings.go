package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/service/booking"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

// BookingHandler serves completed bookings.
type BookingHandler struct {
	service   booking.BookingUseCase
	validator *validator.Validate
	log       *logger.Logger
}

type createBookingRequest struct {
	SessionID string                `json:"session_id" validate:"required,max=64"`
	Booking   domain.BookingPayload `json:"booking"`
}

type historyQuery struct {
	Limit  int `form:"limit" validate:"omitempty,min=1,max=100"`
	Offset int `form:"offset" validate:"omitempty,min=0"`
}

func NewBookingHandler(service booking.BookingUseCase, log *logger.Logger) *BookingHandler {
	return &BookingHandler{service: service, validator: validator.New(), log: log}
}

func (h *BookingHandler) Register(router *gin.RouterGroup) {
	router.POST("", h.create)
	router.GET("/history", h.history)
	router.GET("/:ref", h.get)
	router.PATCH("/:ref/cancel", h.cancel)
}

func (h *BookingHandler) create(c *gin.Context) {
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		badRequest(c, err)
		return
	}

	b, err := h.service.Complete(c.Request.Context(), userID(c), req.SessionID, req.Booking)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

func (h *BookingHandler) history(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.validator.Struct(&q); err != nil {
		badRequest(c, err)
		return
	}

	page, err := h.service.History(c.Request.Context(), userID(c), q.Limit, q.Offset)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, page)
}

func (h *BookingHandler) get(c *gin.Context) {
	b, err := h.service.Get(c.Request.Context(), userID(c), c.Param("ref"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func (h *BookingHandler) cancel(c *gin.Context) {
	b, err := h.service.Cancel(c.Request.Context(), userID(c), c.Param("ref"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, b)
}
