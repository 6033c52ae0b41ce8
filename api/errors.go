package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Domenick1991/skycheckout/internal/domain"
	"github.com/Domenick1991/skycheckout/internal/service/booking"
	"github.com/Domenick1991/skycheckout/internal/service/flights"
	"github.com/Domenick1991/skycheckout/internal/service/session"
	"github.com/Domenick1991/skycheckout/pkg/logger"
)

// errorStatus maps a service error onto a status and the JSON error envelope.
func errorStatus(err error) (int, domain.ErrorBody) {
	var conflict *domain.SeatConflictError
	switch {
	case errors.As(err, &conflict):
		return http.StatusConflict, domain.ErrorBody{
			Error:              "some seats are no longer available",
			Code:               domain.ConflictCodeSeatUnavailable,
			UnavailableSeatIDs: conflict.SeatIDs,
		}
	case errors.Is(err, domain.ErrStaleSelection):
		return http.StatusConflict, domain.ErrorBody{Error: err.Error(), Code: domain.ConflictCodeStaleSelection}
	case errors.Is(err, session.ErrConcurrentUpdate):
		return http.StatusConflict, domain.ErrorBody{Error: err.Error(), Code: domain.CodeConcurrentUpdate}
	case errors.Is(err, session.ErrSessionExpired):
		return http.StatusGone, domain.ErrorBody{Error: err.Error(), Code: domain.CodeSessionExpired}
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, booking.ErrBookingNotFound),
		errors.Is(err, flights.ErrFlightNotFound):
		return http.StatusNotFound, domain.ErrorBody{Error: err.Error(), Code: domain.CodeNotFound}
	case errors.Is(err, session.ErrSessionClosed),
		errors.Is(err, booking.ErrNotCancellable),
		errors.Is(err, booking.ErrPriceChanged):
		return http.StatusConflict, domain.ErrorBody{Error: err.Error(), Code: domain.CodeValidation}
	case domain.KindOf(err) == domain.KindValidation:
		var de *domain.Error
		errors.As(err, &de)
		return http.StatusBadRequest, domain.ErrorBody{Error: de.Message, Code: domain.CodeValidation}
	default:
		return http.StatusInternalServerError, domain.ErrorBody{Error: "internal server error", Code: domain.CodeInternal}
	}
}

func respondError(c *gin.Context, log *logger.Logger, err error) {
	status, body := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(c.Request.Context(), "request failed",
			"method", c.Request.Method, "path", c.FullPath(), "error", err.Error())
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, domain.ErrorBody{Error: err.Error(), Code: domain.CodeValidation})
}
