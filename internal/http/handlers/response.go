// Package handlers provides the HTTP handlers of the ops server.
//
// This file defines the response helpers shared by all endpoints. Every
// error is an ErrorResponse with a stable code; fail() logs 5xx responses
// through the request-scoped logger.
//
// Example error response:
//
//	HTTP/1.1 409 Conflict
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "run_in_progress",
//	  "message": "another dispatch run holds the claim"
//	}
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medcia/medreminder/internal/http/middleware"
)

// ErrorResponse is the error envelope returned by every endpoint.
type ErrorResponse struct {
	// Echo of X-Request-ID, for correlating with server logs.
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable code, see errors.go.
	Code    string `json:"code" example:"run_in_progress"`
	Message string `json:"message" example:"another dispatch run holds the claim"`
}

// fail aborts the request with an ErrorResponse. 5xx responses are logged
// with the request-scoped logger; err, when non-nil, is logged but never
// sent to the client.
func fail(c *gin.Context, status int, code, msg string, err error) {
	rid := middleware.RequestIDFrom(c)
	if rid == "" {
		rid = c.Writer.Header().Get("X-Request-ID")
	}

	if status >= http.StatusInternalServerError {
		ev := middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code)
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg(msg)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{RequestID: rid, Code: code, Message: msg})
}

// Fail is the exported variant of fail for the router's fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg, nil) }

func ok(c *gin.Context, status int, body any) {
	c.JSON(status, body)
}
