package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/common"
)

const UserIDKey = "user_id"

// TokenVerifier resolves a bearer token to a user id.
type TokenVerifier interface {
	Verify(token string) (uint64, error)
}

func bearerToken(c *gin.Context) string {
	h := c.GetHeader("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func AuthRequired(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			common.AbortFail(c, http.StatusUnauthorized, 40101, "missing bearer token")
			return
		}
		uid, err := v.Verify(token)
		if err != nil {
			common.AbortFail(c, http.StatusUnauthorized, 40102, "invalid token")
			return
		}
		c.Set(UserIDKey, uid)
		c.Next()
	}
}

// AuthOptional attaches the user when a valid token is presented and lets
// the request through as anonymous otherwise.
func AuthOptional(v TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := bearerToken(c); token != "" {
			if uid, err := v.Verify(token); err == nil {
				c.Set(UserIDKey, uid)
			}
		}
		c.Next()
	}
}

// UserIDFromContext returns the authenticated user, if any.
func UserIDFromContext(c *gin.Context) (uint64, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return 0, false
	}
	id, ok := v.(uint64)
	return id, ok && id != 0
}
