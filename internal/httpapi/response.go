package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// 统一响应辅助, 所有 handler 共用: {success, data} / {success:false, error:{code,message}}。

func success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func errorJSON(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"success": false, "error": gin.H{"code": code, "message": message}})
}

func serverError(c *gin.Context, err error) {
	logger.FromContext(c.Request.Context()).Error("internal error", logger.Any(logger.FieldError, err))
	c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": gin.H{"code": "internal_error", "message": "服务器内部错误"}})
}

// errorStatus 哨兵错误 → HTTP 状态 + 错误码。
var errorStatus = []struct {
	target error
	status int
	code   string
}{
	{apperrors.ErrInvalidInput, http.StatusBadRequest, "invalid_input"},
	{apperrors.ErrUnknownCandidate, http.StatusNotFound, "unknown_candidate"},
	{apperrors.ErrNotFound, http.StatusNotFound, "not_found"},
	{apperrors.ErrNoPresentation, http.StatusConflict, "no_presentation"},
	{apperrors.ErrDeclined, http.StatusConflict, "unsaved_changes"},
	{apperrors.ErrNoOpenFile, http.StatusConflict, "no_open_file"},
	{apperrors.ErrNotDirty, http.StatusConflict, "not_dirty"},
	{apperrors.ErrNoPendingLayout, http.StatusConflict, "no_pending_layout"},
	{apperrors.ErrSlugCollision, http.StatusConflict, "slug_collision"},
	{apperrors.ErrStale, http.StatusConflict, "stale"},
	{apperrors.ErrUnavailable, http.StatusBadGateway, "backend_unavailable"},
	{apperrors.ErrTimeout, http.StatusGatewayTimeout, "timeout"},
}

// fail 按哨兵错误映射响应, 未知错误按 500 处理。
func fail(c *gin.Context, err error) {
	for _, m := range errorStatus {
		if apperrors.Is(err, m.target) {
			logger.FromContext(c.Request.Context()).Warn("request failed",
				logger.FieldPath, c.FullPath(),
				logger.FieldStatus, m.status,
				logger.FieldError, err,
			)
			errorJSON(c, m.status, m.code, err.Error())
			return
		}
	}
	serverError(c, err)
}
