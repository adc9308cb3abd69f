package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vipm/backend/internal/interfaces/http/dto"
)

// BodyLimit answers 413 when the declared Content-Length exceeds maxBytes
// and caps the body reader so chunked bodies stop at the same size. The
// handler then sees an *http.MaxBytesError from its read. A non-positive
// limit disables the middleware.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	if maxBytes <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortTooLarge(c, maxBytes)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

func abortTooLarge(c *gin.Context, limit int64) {
	c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, dto.NewErrorResponseWithRequestID(
		dto.ErrCodeRequestTooLarge,
		fmt.Sprintf("Request body exceeds %d bytes", limit),
		GetRequestID(c),
	))
}
