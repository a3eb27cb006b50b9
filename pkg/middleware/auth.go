package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hallcall/hallcall-api/pkg/auth"
	"github.com/hallcall/hallcall-api/pkg/errors"
)

// AuthMiddleware validates the bearer access token. Browsers cannot set
// headers on websocket upgrades, so GET requests may pass ?access_token=.
func AuthMiddleware(issuer auth.Issuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			errors.Unauthorized(c, "authorization header required")
			return
		}

		claims, err := issuer.ParseToken(tokenString)
		if err != nil {
			errors.Unauthorized(c, "invalid or expired token")
			return
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("user_role", claims.Role)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		if c.Request.Method == "GET" {
			if t := c.Query("access_token"); t != "" {
				return t, true
			}
		}
		return "", false
	}
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || !strings.EqualFold(scheme, "bearer") || token == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

func RoleMiddleware(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString("user_role")
		if role == "" {
			errors.Forbidden(c, "role not found in token")
			return
		}
		for _, allowed := range allowedRoles {
			if role == allowed {
				c.Next()
				return
			}
		}
		errors.Forbidden(c, "insufficient permissions")
	}
}

// UserID returns the authenticated caller.
func UserID(c *gin.Context) string {
	return c.GetString("user_id")
}
