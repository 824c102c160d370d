package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/videoroom/internal/authority"
	"github.com/dkeye/videoroom/internal/domain"
)

// StatusOf maps an error kind to its HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUserAlreadyInRoom), domain.ReasonOf(err) == domain.ReasonUserAlreadyInRoom:
		return http.StatusConflict
	case errors.Is(err, domain.ErrAuthFailed):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrNotJoined):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUpstreamTimeout):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error"`
}

func abortWithError(c *gin.Context, err error) {
	status := StatusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	c.AbortWithStatusJSON(status, errorResponse{
		Code:   authority.ErrorCode(err),
		Reason: domain.ReasonOf(err),
		Error:  msg,
	})
}
