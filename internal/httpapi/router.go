package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/common"
	"github.com/suPer8Hu/hackgpt/internal/httpapi/handlers"
	"github.com/suPer8Hu/hackgpt/internal/httpapi/middleware"
)

type RouterOptions struct {
	CORSOrigins []string
	// Limiter may be nil to disable rate limiting.
	Limiter            middleware.Limiter
	RateLimitPerMinute int
}

func NewRouter(h *handlers.Handler, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(opts.CORSOrigins))

	r.NoRoute(func(c *gin.Context) {
		common.Fail(c, http.StatusNotFound, 40400, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		common.Fail(c, http.StatusMethodNotAllowed, 40500, "method not allowed")
	})

	r.GET("/ping", h.Ping)
	r.GET("/test", h.Ping)

	// auth
	authGroup := r.Group("/auth")
	authGroup.POST("/signup", middleware.RateLimit(opts.Limiter, "auth", opts.RateLimitPerMinute), h.SignUp)
	authGroup.POST("/signin", middleware.RateLimit(opts.Limiter, "auth", opts.RateLimitPerMinute), h.SignIn)
	authGroup.GET("/me", middleware.AuthRequired(h.Auth), h.Me)

	// sessions (JWT required)
	sessions := r.Group("/sessions")
	sessions.Use(middleware.AuthRequired(h.Auth))
	sessions.GET("", h.ListSessions)
	sessions.POST("", h.CreateSession)
	sessions.DELETE("/:id", h.DeleteSession)
	sessions.GET("/:id/messages", h.ListMessages)

	// chat (JWT optional)
	r.POST("/send",
		middleware.AuthOptional(h.Auth),
		middleware.RateLimit(opts.Limiter, "send", opts.RateLimitPerMinute),
		h.Send,
	)
	return r
}
