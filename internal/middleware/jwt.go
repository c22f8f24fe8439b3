package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/lectura/studyroom/internal/auth"
	"github.com/lectura/studyroom/pkg/response"
)

const (
	// ContextUserID is the key for user ID in gin context.
	ContextUserID = auth.ContextUserID
	// ContextUserName is the key for the display name in gin context.
	ContextUserName = "user_name"
	// ContextUserEmail is the key for user email in gin context.
	ContextUserEmail = "user_email"
)

// BearerToken extracts the token from an "Authorization: Bearer" header.
func BearerToken(c *gin.Context) (string, bool) {
	scheme, token, ok := strings.Cut(c.GetHeader("Authorization"), " ")
	if !ok || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

// JWT rejects requests without a valid bearer token and stores the caller's identity in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader("Authorization") == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		token, ok := BearerToken(c)
		if !ok {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(token)
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserName, claims.DisplayName())
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}
