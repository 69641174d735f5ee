package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/auth"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/common"
	"github.com/suPer8Hu/hackgpt/internal/httpapi/middleware"
)

type Handler struct {
	Auth *auth.Service
	Chat *chat.Service
	// CodeUnlockKey is the configured code-mode key; empty disables code mode.
	CodeUnlockKey string
}

func NewHandler(authSvc *auth.Service, chatSvc *chat.Service, codeUnlockKey string) *Handler {
	return &Handler{Auth: authSvc, Chat: chatSvc, CodeUnlockKey: codeUnlockKey}
}

func (h *Handler) Ping(c *gin.Context) {
	common.OK(c, gin.H{"message": "Working"})
}

// requireUser is a guard for handlers mounted behind AuthRequired.
func requireUser(c *gin.Context) (uint64, bool) {
	uid, ok := middleware.UserIDFromContext(c)
	if !ok {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
	}
	return uid, ok
}
