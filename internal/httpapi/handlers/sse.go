package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/suPer8Hu/hackgpt/internal/chat"
	"github.com/suPer8Hu/hackgpt/internal/common"
)

// sseWriter implements chat.StreamWriter over a gin response. Headers are
// sent with the first event, so a failure before that can still be a
// regular JSON error.
type sseWriter struct {
	c         *gin.Context
	committed bool
}

var _ chat.StreamWriter = (*sseWriter)(nil)

func newSSEWriter(c *gin.Context) *sseWriter {
	return &sseWriter{c: c}
}

func (w *sseWriter) commit() {
	if w.committed {
		return
	}
	h := w.c.Writer.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.c.Status(http.StatusOK)
	w.c.Writer.WriteHeaderNow()
	w.committed = true
}

func (w *sseWriter) write(line string) error {
	w.commit()
	if _, err := fmt.Fprint(w.c.Writer, line); err != nil {
		return err
	}
	w.c.Writer.Flush()
	return nil
}

func (w *sseWriter) data(payload any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return w.write("data: " + string(b) + "\n\n")
}

func (w *sseWriter) Delta(text string) error {
	return w.data(gin.H{"content": text})
}

func (w *sseWriter) Done() error {
	return w.write("data: [DONE]\n\n")
}

func (w *sseWriter) InlineError(msg string) error {
	return w.data(gin.H{"error": msg})
}

func (w *sseWriter) Keepalive() error {
	if !w.committed {
		return nil
	}
	return w.write(": ping\n\n")
}

func (w *sseWriter) Reject(err error) {
	if w.committed {
		_ = w.InlineError(err.Error())
		return
	}
	if errors.Is(err, chat.ErrStreamTimeout) {
		common.Fail(w.c, http.StatusGatewayTimeout, 50402, "upstream timed out")
		return
	}
	common.Fail(w.c, http.StatusBadGateway, 50201, "upstream unavailable")
}
