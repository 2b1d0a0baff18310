package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Krunal96369/thinkdocs/utils"
)

// RequestSizeLimit rejects request bodies larger than maxSize before any
// handler reads them.
func RequestSizeLimit(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxSize {
			utils.RespondWithError(c, http.StatusRequestEntityTooLarge,
				"request_too_large",
				"Request body exceeds maximum size",
				gin.H{
					"max_size": maxSize,
					"received": c.Request.ContentLength,
				})
			c.Abort()
			return
		}
		c.Next()
	}
}
