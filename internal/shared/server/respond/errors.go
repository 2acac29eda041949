package respond

import (
	"github.com/gin-gonic/gin"

	"youposm/internal/shared/telemetry"
)

// ErrorBody defines the standardized error object.
type ErrorBody struct {
	Code      string      `json:"code"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable,omitempty"`
	Details   interface{} `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error sends a standardized error response.
func Error(c *gin.Context, status int, code, message string, details interface{}) {
	abort(c, status, ErrorBody{Code: code, Message: message, Details: details})
}

// Retryable sends a standardized error response telling the client the same
// request may succeed later.
func Retryable(c *gin.Context, status int, code, message string) {
	abort(c, status, ErrorBody{Code: code, Message: message, Retryable: true})
}

func abort(c *gin.Context, status int, body ErrorBody) {
	fields := map[string]any{
		"status":     status,
		"code":       body.Code,
		"message":    body.Message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if status >= 500 {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{Error: body})
}
