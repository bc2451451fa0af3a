package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-movie-chat/internal/http/middleware"
)

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	// RequestID echoes X-Request-ID so a client report can be matched to logs.
	RequestID string `json:"request_id" example:"0f8c2a4e-1b7d-4c55-9a3e-6d1f2b9c7e10"`
	// Code is one of the ErrCode* values.
	Code string `json:"code" example:"not_found"`
	// Message is meant for humans; clients branch on Code.
	Message string `json:"message" example:"chat room not found"`
}

// genericInternal is what clients see for any 5xx produced by internalError.
const genericInternal = "something went wrong, please retry"

// fail aborts the request with an ErrorResponse. 5xx responses are logged at
// error level, client errors at debug.
func fail(c *gin.Context, status int, code, msg string) {
	lg := middleware.LoggerFrom(c)
	ev := lg.Debug()
	if status >= http.StatusInternalServerError {
		ev = lg.Error()
	}
	ev.Int("status", status).Str("code", code).Msg(msg)

	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   msg,
	})
}

// internalError logs err with the request logger and answers 500 without
// exposing err to the client.
func internalError(c *gin.Context, code string, err error) {
	middleware.LoggerFrom(c).Error().Err(err).Str("code", code).Msg("request failed")
	c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
		RequestID: requestID(c),
		Code:      code,
		Message:   genericInternal,
	})
}

// Fail is fail for callers outside the package, such as the router fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func requestID(c *gin.Context) string {
	if rid := c.Writer.Header().Get("X-Request-ID"); rid != "" {
		return rid
	}
	return c.GetHeader("X-Request-ID")
}

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
