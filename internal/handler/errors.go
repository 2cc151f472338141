package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/apperr"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// failWithError maps a service error onto the response envelope. Internal
// errors are logged and never leak their message.
func failWithError(c *gin.Context, log zerolog.Logger, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
		response.Fail(c, status, code)
		return
	}
	response.FailWithMessage(c, status, code, apperr.MessageOf(err))
}

func statusFor(err error) (int, response.ErrCode) {
	if errors.Is(err, service.ErrAttemptSubmitted) {
		return http.StatusConflict, response.ErrAttemptSubmitted
	}
	if errors.Is(err, service.ErrNotEntitled) {
		return http.StatusForbidden, response.ErrNotEntitled
	}
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest, response.ErrValidation
	case apperr.KindNotFound:
		return http.StatusNotFound, response.ErrNotFound
	case apperr.KindForbidden:
		return http.StatusForbidden, response.ErrForbidden
	case apperr.KindConflict:
		return http.StatusConflict, response.ErrConflict
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}
