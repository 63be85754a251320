// README: Base handler utilities (JSON helpers, request validation, error mapping).
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"siaga/internal/modules/capacity"
	"siaga/internal/modules/dispatch"
	"siaga/internal/modules/location"
	"siaga/internal/modules/matching"
	"siaga/internal/modules/syncqueue"
	"siaga/pkg/e"
	"siaga/pkg/validator"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// bind decodes and validates the JSON body, writing a 400 on failure.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return false
	}
	if err := validator.ValidateStruct(dst); err != nil {
		writeError(c, http.StatusUnprocessableEntity, err.Error())
		return false
	}
	return true
}

func writeServiceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, dispatch.ErrNotFound),
		errors.Is(err, capacity.ErrNotFound),
		errors.Is(err, syncqueue.ErrItemNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, matching.ErrNoAvailableUnit),
		errors.Is(err, capacity.ErrNoSuitableHospital):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrInvalidTransition),
		errors.Is(err, dispatch.ErrConflict),
		errors.Is(err, syncqueue.ErrNotPending),
		errors.Is(err, syncqueue.ErrNotFailed):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, dispatch.ErrInvalidReport),
		errors.Is(err, dispatch.ErrMissingAmbulance),
		errors.Is(err, capacity.ErrInvalidCapacity),
		errors.Is(err, location.ErrInvalidPosition),
		errors.Is(err, e.ErrInvalidInput):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, e.ErrUnavailable),
		errors.Is(err, e.ErrDeadline),
		errors.Is(err, syncqueue.ErrStoreUnavailable):
		writeError(c, http.StatusServiceUnavailable, "backend unavailable")
	default:
		_ = c.Error(err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
