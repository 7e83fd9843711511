// sse.go — timeline 增量的 SSE 推送。
package httpapi

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deckstudio/pkg/logger"
)

const keepaliveInterval = 30 * time.Second

// sseHandler 连接后先发一条 timeline.reset, 之后转发 hub 消息; 掉队时重新发 reset。
func (s *Server) sseHandler(c *gin.Context) {
	sub := s.hub.Subscribe("sse")
	defer func() {
		s.hub.Unsubscribe(sub)
		logger.Info("httpapi: SSE client disconnected", logger.FieldClient, sub.ID)
	}()
	logger.Info("httpapi: SSE client connected", logger.FieldClient, sub.ID)

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	reset := s.eng.ResetMessage()
	c.SSEvent(reset.Type, reset)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		// 复用 timer 避免每次循环创建新定时器
		keepalive := time.NewTimer(keepaliveInterval)
		defer keepalive.Stop()

		select {
		case msg := <-sub.C():
			if sub.TakeResync() {
				msg = s.eng.ResetMessage()
			}
			c.SSEvent(msg.Type, msg)
			return true
		case <-keepalive.C:
			c.SSEvent("ping", "keepalive")
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
