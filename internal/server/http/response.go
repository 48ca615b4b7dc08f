// Package http is the HTTP edge: gin router, middleware, and handlers.
// This is the only layer where internal errors become wire responses.
package http

import (
	"github.com/gin-gonic/gin"

	apierrors "agentex/internal/errors"
)

// errorEnvelope is the uniform error body. Data is always null so clients
// can decode success and failure with one shape.
type errorEnvelope struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Data    any    `json:"data"`
}

// respondError classifies the error and writes the envelope. Unclassified
// errors become 500 INTERNAL with a generic message so internals never
// leak to clients.
func respondError(c *gin.Context, err error) {
	code := apierrors.CodeOf(err)
	message := err.Error()
	if code == apierrors.CodeInternal {
		message = "internal error"
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), errorEnvelope{
		Message: message,
		Code:    string(code),
		Data:    nil,
	})
}

// respondSuccess writes the authz-style acknowledgement body.
func respondSuccess(c *gin.Context, status int, metadata map[string]any) {
	body := gin.H{"success": true}
	if len(metadata) > 0 {
		body["metadata"] = metadata
	}
	c.JSON(status, body)
}
