package controllers

import (
	"errors"
	"net/http"

	"github.com/CUknot/chatroom_backend/services"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Response is the envelope of every successful procedure.
type Response struct {
	Message string `json:"message" example:"Success"`
	Data    any    `json:"data"`
}

// ErrorResponse is the body of every failed procedure.
type ErrorResponse struct {
	Code    string `json:"code" example:"NOT_FOUND"`
	Status  int    `json:"status" example:"404"`
	Message string `json:"message" example:"room not found"`
}

// IDInput selects a single record.
type IDInput struct {
	ID uint `json:"id" binding:"required" example:"1"`
}

var codes = map[int]string{
	http.StatusBadRequest:          "BAD_REQUEST",
	http.StatusUnauthorized:        "UNAUTHORIZED",
	http.StatusNotFound:            "NOT_FOUND",
	http.StatusConflict:            "CONFLICT",
	http.StatusTooManyRequests:     "TOO_MANY_REQUESTS",
	http.StatusInternalServerError: "INTERNAL_SERVER_ERROR",
}

func respond(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, Response{Message: message, Data: data})
}

func abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Code: codes[status], Status: status, Message: message})
}

// statusOf maps domain errors to HTTP statuses.
func statusOf(err error) int {
	switch {
	case errors.Is(err, services.ErrRoomNotFound), errors.Is(err, services.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrUsernameTaken):
		return http.StatusConflict
	case errors.Is(err, services.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// fail writes err as an RPC error. Unexpected errors are logged and hidden
// from the caller.
func fail(c *gin.Context, err error) {
	status := statusOf(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("procedure failed")
		message = "internal server error"
	}
	_ = c.Error(err)
	abort(c, status, message)
}

// bind decodes the JSON input and answers BAD_REQUEST when it is invalid.
func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
