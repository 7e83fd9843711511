// Package prefs 视图偏好持久化。
//
// 存储端可以是 deck 后端的 /api/preferences、PostgreSQL 或纯内存;
// 存储端不可用时降级为进程内内存, 读写都不向调用方抛错。
package prefs

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// KeyCurrentView 当前视图偏好键。
const KeyCurrentView = "current_view"

// Port 偏好存储端。未找到时返回 ErrNotFound。
type Port interface {
	Get(ctx context.Context, key string) (json.RawMessage, error)
	Set(ctx context.Context, key string, value any) error
}

// Manager 带内存降级的偏好读写。
type Manager struct {
	port     Port
	fallback sync.Map
}

// NewManager port 为 nil 时只用内存。
func NewManager(port Port) *Manager {
	return &Manager{port: port}
}

// Get 读取原始值; 存储端失败时回落到内存中最后一次写入的值。
func (m *Manager) Get(ctx context.Context, key string) (json.RawMessage, bool) {
	if m.port != nil {
		raw, err := m.port.Get(ctx, key)
		if err == nil && len(raw) > 0 && string(raw) != "null" {
			return raw, true
		}
		if err != nil && !apperrors.Is(err, apperrors.ErrNotFound) {
			logger.Warn("prefs: read failed, using memory",
				logger.FieldKey, key,
				logger.FieldError, err,
			)
		}
	}
	v, ok := m.fallback.Load(key)
	if !ok {
		return nil, false
	}
	return v.(json.RawMessage), true
}

// Set 写入偏好。内存副本总会更新; 存储端失败只记日志。
func (m *Manager) Set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		logger.Warn("prefs: marshal failed", logger.FieldKey, key, logger.FieldError, err)
		return
	}
	m.fallback.Store(key, json.RawMessage(data))
	if m.port == nil {
		return
	}
	if err := m.port.Set(ctx, key, value); err != nil {
		logger.Warn("prefs: write failed", logger.FieldKey, key, logger.FieldError, err)
	}
}

// LoadView 读取保存的视图; 缺失或无效时返回 preview。
func (m *Manager) LoadView(ctx context.Context) timeline.View {
	raw, ok := m.Get(ctx, KeyCurrentView)
	if !ok {
		return timeline.ViewPreview
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = strings.Trim(string(raw), `"`)
	}
	v, ok := timeline.ParseView(s)
	if !ok {
		logger.Warn("prefs: ignoring invalid saved view", logger.FieldView, s)
		return timeline.ViewPreview
	}
	return v
}

// SaveView best-effort 保存视图。
func (m *Manager) SaveView(ctx context.Context, v timeline.View) {
	m.Set(ctx, KeyCurrentView, string(v))
}
