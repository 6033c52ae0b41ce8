package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Domenick1991/skycheckout/internal/service/flights"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

type FlightHandler struct {
	service flights.FlightUseCase
	log     *logger.Logger
}

func NewFlightHandler(service flights.FlightUseCase, log *logger.Logger) *FlightHandler {
	return &FlightHandler{service: service, log: log}
}

func (h *FlightHandler) Register(router *gin.RouterGroup) {
	router.GET("", h.list)
	router.GET("/:id", h.get)
	router.GET("/:id/seats", h.seats)
}

func (h *FlightHandler) list(c *gin.Context) {
	list, err := h.service.List(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *FlightHandler) get(c *gin.Context) {
	flight, err := h.service.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, flight)
}

// seats returns the seat map. With ?session_id the caller's own locks are
// marked rather than reported as taken.
func (h *FlightHandler) seats(c *gin.Context) {
	seats, err := h.service.SeatMap(c.Request.Context(), c.Param("id"), c.Query("session_id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, seats)
}
