package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/Krunal96369/thinkdocs/internal/auth"
	"github.com/Krunal96369/thinkdocs/internal/config"
)

// AuthMiddleware validates bearer tokens and puts the owner identity in
// the request context. Token issuance lives outside the request path; we
// only verify HMAC-signed tokens whose subject is the owner id.
type AuthMiddleware struct {
	config *config.Config
}

func NewAuthMiddleware(cfg *config.Config) *AuthMiddleware {
	return &AuthMiddleware{config: cfg}
}

func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractBearerToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "unauthorized",
				"message":    "Authentication token is required",
			})
			c.Abort()
			return
		}

		ownerID, err := auth.VerifyOwnerToken(a.config.JWTSecret, tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error_code": "invalid_token",
				"message":    "Authentication token is invalid or expired",
			})
			c.Abort()
			return
		}

		c.Set("owner_id", ownerID)
		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		if token, found := strings.CutPrefix(authHeader, "Bearer "); found {
			return token
		}
	}
	if cookie, err := c.Cookie("access_token"); err == nil {
		return cookie
	}
	return ""
}

// GetOwnerID returns the authenticated owner id, or "" when the request
// skipped auth.
func GetOwnerID(c *gin.Context) string {
	if ownerID, exists := c.Get("owner_id"); exists {
		if id, ok := ownerID.(string); ok {
			return id
		}
	}
	return ""
}
