package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/queuecall/internal/httputil"
	"github.com/persistorai/queuecall/internal/metrics"
	"github.com/persistorai/queuecall/internal/models"
	"github.com/persistorai/queuecall/internal/service"
)

// Error code constants for standardized API responses.
const (
	ErrCodeInvalidRequest  = "invalid_request"
	ErrCodeNotFound        = "not_found"
	ErrCodeConflict        = "conflict"
	ErrCodeInternalError   = "internal_error"
	ErrCodeUnavailable     = "unavailable"
	ErrCodeValidationError = "validation_error"
)

// respondError writes a standardized JSON error response, pulling the request
// ID from the Gin context (set by the request ID middleware).
func respondError(c *gin.Context, status int, code, message string) {
	metrics.ErrorsTotal.WithLabelValues(code).Inc()
	httputil.RespondError(c, status, code, message)
}

// respondServiceError maps domain sentinels to HTTP errors and logs anything
// unexpected as an internal error.
func respondServiceError(c *gin.Context, log *logrus.Logger, err error, action string) {
	switch {
	case errors.Is(err, models.ErrAgencyNotFound),
		errors.Is(err, models.ErrServiceNotFound),
		errors.Is(err, models.ErrTicketNotFound),
		errors.Is(err, models.ErrCounterNotFound):
		respondError(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, models.ErrMissingServiceID),
		errors.Is(err, models.ErrInvalidScore):
		respondError(c, http.StatusBadRequest, ErrCodeValidationError, err.Error())
	case errors.Is(err, models.ErrTicketNotRateable):
		respondError(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, service.ErrRatingQueueFull):
		respondError(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		log.WithError(err).WithField("action", action).Error("request failed")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "internal server error")
	}
}
