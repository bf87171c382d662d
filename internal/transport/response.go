package transport

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/ds124wfegd/rafflr/internal/entity"
	"github.com/ds124wfegd/rafflr/pkg/queue"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SuccessResponse представляет успешный ответ
type SuccessResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// ErrorResponse представляет ответ с ошибкой
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func respondOK(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, SuccessResponse{Success: true, Message: message, Data: data})
}

func respondError(c *gin.Context, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		logrus.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).WithError(err).Error("Request error")
	}
	c.JSON(status, ErrorResponse{Success: false, Error: err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Success: false, Error: msg})
}

// errorStatus maps domain errors to HTTP status codes
func errorStatus(err error) int {
	switch {
	case errors.Is(err, entity.ErrListingNotFound),
		errors.Is(err, entity.ErrReservationNotFound),
		errors.Is(err, entity.ErrDrawNotFound),
		errors.Is(err, queue.ErrMessageNotFound):
		return http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidInput),
		errors.Is(err, entity.ErrInvalidListing),
		errors.Is(err, entity.ErrSellerOwnListing):
		return http.StatusBadRequest
	case errors.Is(err, entity.ErrCapacityExceeded),
		errors.Is(err, entity.ErrSaleClosed),
		errors.Is(err, entity.ErrAlreadyDrawn),
		errors.Is(err, entity.ErrNotClosable),
		errors.Is(err, entity.ErrInvalidTransition),
		errors.Is(err, entity.ErrReservationNotPending):
		return http.StatusConflict
	case errors.Is(err, entity.ErrConcurrencyConflict):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}
