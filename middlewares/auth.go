package middlewares

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"storefront/store"
	"storefront/utils"
)

const (
	CtxToken  = "token"
	CtxUserID = "userID"
)

// Authenticate resolves the caller's token from the Authorization header,
// falling back to the signed-in session. It never rejects a request; routes
// that need a user add RequireAuth.
func Authenticate(sessions *store.SessionStore, secret string, log *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimSpace(strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer "))
		if token == "" {
			token = sessions.Token()
		}
		if token == "" {
			c.Next()
			return
		}

		userID, err := utils.ParseToken(token, secret)
		if err != nil {
			if secret != "" {
				log.Debug("rejecting token", slog.Any("err", err))
				c.Next()
				return
			}
			// Unsigned-mode tokens may be opaque; the backend is the judge.
			userID = ""
		}
		if userID == "" {
			userID = sessions.UserID(c.Request.Context())
		}

		c.Set(CtxToken, token)
		c.Set(CtxUserID, userID)
		c.Next()
	}
}

func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(CtxToken) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
			return
		}
		c.Next()
	}
}
