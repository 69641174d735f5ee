package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/common"
	"github.com/suPer8Hu/hackgpt/internal/logx"
)

const NextBeforeIDHeader = "X-Next-Before-Id"

type createSessionReq struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

func (h *Handler) ListSessions(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	sessions, err := h.Chat.ListSessions(c.Request.Context(), uid)
	if err != nil {
		logx.FromContext(c.Request.Context()).Error("list sessions failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list sessions")
		return
	}
	if sessions == nil {
		sessions = []chat.Session{}
	}
	common.Plain(c, sessions)
}

func (h *Handler) CreateSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var req createSessionReq
	_ = c.ShouldBindJSON(&req) // allow empty body

	sess, err := h.Chat.CreateSession(c.Request.Context(), uid, req.Provider, req.Model)
	if err != nil {
		logx.FromContext(c.Request.Context()).Error("create session failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create session")
		return
	}
	common.Plain(c, sess)
}

func (h *Handler) DeleteSession(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	err := h.Chat.DeleteSession(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		logx.FromContext(c.Request.Context()).Error("delete session failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to delete session")
		return
	}
	common.OK(c, gin.H{"id": c.Param("id")})
}

// ListMessages pages backwards with ?before_id=; the page itself is in
// chronological order and the cursor for the next page is in a header.
func (h *Handler) ListMessages(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	var beforeID uint64
	if s := c.Query("before_id"); s != "" {
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			beforeID = n
		}
	}

	msgs, err := h.Chat.ListMessages(c.Request.Context(), uid, c.Param("id"), limit, beforeID)
	if err != nil {
		if errors.Is(err, chat.ErrSessionNotFound) {
			common.Fail(c, http.StatusNotFound, 40004, "session not found")
			return
		}
		logx.FromContext(c.Request.Context()).Error("list messages failed", "error", err)
		common.Fail(c, http.StatusInternalServerError, 50002, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}

	if len(msgs) > 0 {
		c.Header(NextBeforeIDHeader, strconv.FormatUint(msgs[0].ID, 10))
	}
	common.Plain(c, msgs)
}
