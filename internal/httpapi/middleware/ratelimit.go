package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/common"
	"github.com/suPer8Hu/hackgpt/internal/logx"
)

// Limiter counts hits of key in a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit caps requests per caller per minute. Callers are keyed by user
// when authenticated and by client IP otherwise. A nil limiter or a
// non-positive limit disables it.
func RateLimit(l Limiter, scope string, perMinute int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil || perMinute <= 0 {
			c.Next()
			return
		}
		who := "ip:" + c.ClientIP()
		if uid, ok := UserIDFromContext(c); ok {
			who = "user:" + strconv.FormatUint(uid, 10)
		}
		allowed, err := l.Allow(c.Request.Context(), fmt.Sprintf("ratelimit:%s:%s", scope, who), perMinute, time.Minute)
		if err != nil {
			logx.FromContext(c.Request.Context()).Warn("rate limit check failed", "scope", scope, "error", err)
		} else if !allowed {
			c.Header("Retry-After", "60")
			common.AbortFail(c, http.StatusTooManyRequests, 42901, "too many requests")
			return
		}
		c.Next()
	}
}
