// Package httputil provides shared HTTP response helpers.
package httputil

import "github.com/gin-gonic/gin"

// RespondError writes a standardized JSON error response and aborts the request.
func RespondError(c *gin.Context, status int, code, message string) {
	RespondErrorDetails(c, status, code, message, nil)
}

// RespondErrorDetails is RespondError with a structured details object, used
// where the client needs machine-readable context such as the current version.
func RespondErrorDetails(c *gin.Context, status int, code, message string, details map[string]any) {
	resp := gin.H{
		"code":    code,
		"message": message,
	}

	if rid, exists := c.Get("request_id"); exists {
		if s, ok := rid.(string); ok && s != "" {
			resp["request_id"] = s
		}
	}

	if len(details) > 0 {
		resp["details"] = details
	}

	c.AbortWithStatusJSON(status, resp)
}
