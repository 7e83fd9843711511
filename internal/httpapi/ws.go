// ws.go — timeline 增量的 WebSocket 推送。
//
// 服务端只写; 客户端可发送 {"type":"resync"} 请求一次全量 reset。
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/pkg/logger"
	"github.com/multi-agent/deckstudio/pkg/util"
)

const (
	wsWriteWait      = 10 * time.Second
	wsPongWait       = 60 * time.Second
	wsPingPeriod     = wsPongWait * 9 / 10
	wsMaxMessageSize = 64 << 10
)

// checkLocalOrigin 只接受本机页面发起的 WebSocket。
func checkLocalOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true // 无 Origin = 非浏览器客户端
	}
	origin = strings.ToLower(origin)
	for _, allowed := range []string{
		"http://localhost", "https://localhost",
		"http://127.0.0.1", "https://127.0.0.1",
		"http://[::1]", "https://[::1]",
	} {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	logger.Warn("httpapi: rejected non-local origin", logger.FieldURL, origin)
	return false
}

// wsConn WebSocket 连接 + 写锁 (gorilla/websocket 不安全并发写)。
type wsConn struct {
	ws   *websocket.Conn
	wrMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) writeControl(msgType int) error {
	c.wrMu.Lock()
	defer c.wrMu.Unlock()
	return c.ws.WriteControl(msgType, nil, time.Now().Add(wsWriteWait))
}

type wsClientMessage struct {
	Type string `json:"type"`
}

func (s *Server) wsHandler(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("httpapi: websocket upgrade failed", logger.FieldError, err)
		return
	}
	conn := &wsConn{ws: ws}
	sub := s.hub.Subscribe("ws")
	logger.Info("httpapi: websocket client connected", logger.FieldClient, sub.ID, logger.FieldAddr, c.Request.RemoteAddr)

	resync := make(chan struct{}, 1)
	readDone := util.SafeGo("httpapi.ws.read", func() { s.wsReadLoop(conn, sub, resync) })

	defer func() {
		s.hub.Unsubscribe(sub)
		_ = ws.Close()
		<-readDone
		logger.Info("httpapi: websocket client disconnected", logger.FieldClient, sub.ID)
	}()

	if err := conn.writeJSON(s.eng.ResetMessage()); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()
	for {
		var msg hub.Message
		select {
		case <-readDone:
			return
		case <-resync:
			msg = s.eng.ResetMessage()
		case msg = <-sub.C():
			if sub.TakeResync() {
				msg = s.eng.ResetMessage()
			}
		case <-ping.C:
			if err := conn.writeControl(websocket.PingMessage); err != nil {
				return
			}
			continue
		}
		if err := conn.writeJSON(msg); err != nil {
			logger.Debug("httpapi: websocket write failed", logger.FieldClient, sub.ID, logger.FieldError, err)
			return
		}
	}
}

// wsReadLoop 处理 pong 与客户端的 resync 请求; 连接关闭时返回。
func (s *Server) wsReadLoop(conn *wsConn, sub *hub.Subscriber, resync chan<- struct{}) {
	ws := conn.ws
	ws.SetReadLimit(wsMaxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("httpapi: websocket read error", logger.FieldClient, sub.ID, logger.FieldError, err)
			}
			return
		}
		var msg wsClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Debug("httpapi: ignoring malformed client message", logger.FieldClient, sub.ID)
			continue
		}
		if msg.Type == "resync" {
			select {
			case resync <- struct{}{}:
			default:
			}
		}
	}
}
