// handler.go — UI REST handlers。
package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/multi-agent/deckstudio/internal/timeline"
)

// ========================================
// 查询
// ========================================

// getTimeline GET /api/timeline?after=<id> — after 之后的 entry (默认全部)。
func (s *Server) getTimeline(c *gin.Context) {
	var after uint64
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			badRequest(c, "invalid_request", "after must be an entry id")
			return
		}
		after = v
	}
	entries, epoch, err := s.eng.Timeline()
	if err != nil {
		fail(c, err)
		return
	}
	if after > 0 {
		entries = entriesAfter(entries, after)
	}
	success(c, gin.H{"epoch": epoch, "entries": entries})
}

func entriesAfter(entries []timeline.Entry, after uint64) []timeline.Entry {
	out := []timeline.Entry{}
	for _, e := range entries {
		if e.ID > after {
			out = append(out, e)
		}
	}
	return out
}

func (s *Server) getState(c *gin.Context) {
	success(c, s.eng.Status())
}

// ========================================
// 演示文稿
// ========================================

func (s *Server) openPresentation(c *gin.Context) {
	var req struct {
		Name    string `json:"name" binding:"required"`
		Discard bool   `json:"discard"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	res, err := s.eng.Open(c.Request.Context(), req.Name, req.Discard)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

func (s *Server) closePresentation(c *gin.Context) {
	var req struct {
		Discard bool `json:"discard"`
	}
	if !bindOptional(c, &req) {
		return
	}
	if err := s.eng.Close(c.Request.Context(), req.Discard); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"closed": true})
}

// ========================================
// 对话 / 图片 / 布局 / 视图
// ========================================

func (s *Server) chat(c *gin.Context) {
	var req struct {
		Message string `json:"message" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.eng.Chat(c.Request.Context(), req.Message); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"status": "processing"})
}

func (s *Server) selectImage(c *gin.Context) {
	var req struct {
		BatchSlug string `json:"batch_slug"`
		Index     *int   `json:"index" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	sel, err := s.eng.SelectCandidate(c.Request.Context(), req.BatchSlug, *req.Index)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"batch_slug": sel.Slug, "index": sel.Index})
}

func (s *Server) selectLayout(c *gin.Context) {
	var req struct {
		LayoutName string `json:"layout_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	if err := s.eng.ChooseLayout(c.Request.Context(), req.LayoutName); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"layout": req.LayoutName})
}

func (s *Server) switchView(c *gin.Context) {
	var req struct {
		View  string `json:"view" binding:"required"`
		Slide *int   `json:"slide"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	view, err := s.eng.SwitchView(c.Request.Context(), req.View, req.Slide)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"view": view})
}

// ========================================
// 文件编辑
// ========================================

func (s *Server) openFile(c *gin.Context) {
	var req struct {
		Path    string `json:"path" binding:"required"`
		Discard bool   `json:"discard"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	snap, err := s.eng.OpenFile(c.Request.Context(), req.Path, req.Discard)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, snap)
}

func (s *Server) editFile(c *gin.Context) {
	var req struct {
		Content *string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return
	}
	snap, err := s.eng.EditFile(*req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, snap)
}

func (s *Server) saveFile(c *gin.Context) {
	res, err := s.eng.SaveFile(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, res)
}

func (s *Server) closeFile(c *gin.Context) {
	var req struct {
		Discard bool `json:"discard"`
	}
	if !bindOptional(c, &req) {
		return
	}
	if err := s.eng.CloseFile(req.Discard); err != nil {
		fail(c, err)
		return
	}
	success(c, gin.H{"closed": true})
}

// bindOptional 允许空 body。
func bindOptional(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(req); err != nil {
		badRequest(c, "invalid_request", err.Error())
		return false
	}
	return true
}
