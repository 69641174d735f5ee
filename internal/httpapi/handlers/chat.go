package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/common"
	"github.com/suPer8Hu/hackgpt/internal/httpapi/middleware"
	"github.com/suPer8Hu/hackgpt/internal/logx"
	"github.com/suPer8Hu/hackgpt/internal/prompt"
)

const (
	SessionIDHeader = "X-Session-Id"
	CodeKeyHeader   = "X-Code-Key"
)

type sendReq struct {
	// Prompt stays raw so a non-string value is rejected instead of coerced.
	Prompt    json.RawMessage `json:"prompt"`
	SessionID string          `json:"sessionId"`
	CodeKey   string          `json:"codeKey"`
}

func (r sendReq) promptText() (string, bool) {
	var s string
	if len(r.Prompt) == 0 || json.Unmarshal(r.Prompt, &s) != nil {
		return "", false
	}
	return s, true
}

// Send streams one assistant reply as server-sent events. Anonymous callers
// get a one-off answer; authenticated callers get a persisted session.
func (h *Handler) Send(c *gin.Context) {
	var req sendReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid inputs")
		return
	}
	text, ok := req.promptText()
	if !ok {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid inputs")
		return
	}

	codeKey := req.CodeKey
	if codeKey == "" {
		codeKey = c.GetHeader(CodeKeyHeader)
	}

	uid, _ := middleware.UserIDFromContext(c)
	in := chat.SendRequest{
		UserID:       uid,
		Prompt:       text,
		CodeUnlocked: prompt.CodeUnlocked(codeKey, h.CodeUnlockKey),
	}
	if uid != 0 {
		in.SessionID = req.SessionID
	}

	ctx := c.Request.Context()
	ex, err := h.Chat.Prepare(ctx, in)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrEmptyPrompt):
			common.Fail(c, http.StatusBadRequest, 10001, "invalid inputs")
		case errors.Is(err, chat.ErrSessionNotFound):
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
		default:
			logx.FromContext(ctx).Error("prepare chat failed", "user_id", uid, "error", err)
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	if ex.SessionID != "" {
		c.Header(SessionIDHeader, ex.SessionID)
	}
	h.Chat.Stream(ctx, ex, newSSEWriter(c))
}
