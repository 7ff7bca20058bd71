package handler

import (
	"errors"
	"net/http"

	"github.com/edvin/dbbackup/internal/api/response"
	"github.com/edvin/dbbackup/internal/core"
	"github.com/edvin/dbbackup/internal/model"
	"github.com/edvin/dbbackup/internal/strategy"
)

// writeServiceError maps an error returned by a core service to its status.
func writeServiceError(w http.ResponseWriter, err error) {
	response.WriteError(w, statusFor(err), err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrInvalid),
		errors.Is(err, model.ErrTypeMismatch),
		errors.Is(err, core.ErrInvalidResult):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrNoTarget):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrJobDisabled):
		return http.StatusConflict
	case errors.Is(err, strategy.ErrUnsupportedType):
		return http.StatusNotImplemented
	}
	return http.StatusInternalServerError
}
