// Package httpapi 浏览器 UI 的 HTTP 服务: REST 操作、SSE 与 WebSocket 增量推送。
package httpapi

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/hub"
)

// Options 服务参数。
type Options struct {
	// StaticDir 前端静态文件目录, 为空时不挂载。
	StaticDir string
}

// Server UI HTTP 服务。
type Server struct {
	router   *gin.Engine
	eng      *engine.Engine
	hub      *hub.Hub
	upgrader websocket.Upgrader
	opts     Options
}

// NewServer 创建服务并注册路由。
func NewServer(eng *engine.Engine, opts Options) *Server {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	s := &Server{
		router: r,
		eng:    eng,
		hub:    eng.Hub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: checkLocalOrigin,
		},
		opts: opts,
	}
	s.registerRoutes()
	return s
}

// Engine 返回 Gin 引擎 (实现 http.Handler)。
func (s *Server) Engine() *gin.Engine { return s.router }

// Handler http.Server 使用。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	api := s.router.Group("/api")

	api.GET("/timeline", s.getTimeline)
	api.GET("/state", s.getState)

	api.POST("/presentation/open", s.openPresentation)
	api.POST("/presentation/close", s.closePresentation)

	api.POST("/chat", s.chat)
	api.POST("/images/select", s.selectImage)
	api.POST("/layouts/select", s.selectLayout)
	api.POST("/view", s.switchView)

	api.POST("/file/open", s.openFile)
	api.POST("/file/edit", s.editFile)
	api.POST("/file/save", s.saveFile)
	api.POST("/file/close", s.closeFile)

	api.GET("/events", s.sseHandler)
	s.router.GET("/ws", s.wsHandler)

	if s.opts.StaticDir != "" {
		s.router.Static("/static", s.opts.StaticDir)
		s.router.GET("/", func(c *gin.Context) { c.File(filepath.Join(s.opts.StaticDir, "index.html")) })
	}
}
