// Package engine 唯一的控制流: 持有 Session, 串行应用 live 事件与用户操作,
// 在锁外执行 reducer 产出的 effect, 并把 timeline 增量推送给 UI。
//
// 所有状态修改都在 mu 内同步完成; 出站请求期间不持锁。
// 请求返回后用 epoch (以及文件 generation) 校验, 过期响应直接丢弃。
package engine

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/prefs"
	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// Backend deck 后端的出站请求。*backend.Client 实现该接口。
type Backend interface {
	LoadPresentation(ctx context.Context, name string) (*backend.LoadResult, error)
	Chat(ctx context.Context, message string) error
	SelectImage(ctx context.Context, index int) (*backend.SelectImageResult, error)
	SelectLayout(ctx context.Context, name string) error
	Layouts(ctx context.Context) ([]timeline.LayoutOption, error)
	Files(ctx context.Context) ([]backend.FileNode, error)
	FileContent(ctx context.Context, path string) (*backend.FileContent, error)
	SaveFile(ctx context.Context, path, content string) (*backend.SaveResult, error)
}

// FileWatcher 打开文件的外部修改通知。*filewatch.Watcher 实现该接口。
type FileWatcher interface {
	Watch(path string) error
	Unwatch()
	Changes() <-chan string
}

// SnapshotSaver 关闭演示文稿时保存 timeline 副本。*store.TimelineSnapshotStore 实现该接口。
type SnapshotSaver interface {
	Save(ctx context.Context, state timeline.State, entries []timeline.Entry) (int64, error)
}

// Options engine 构造参数。
type Options struct {
	ToolOutputLimit int
	DefaultFile     string
	Resolver        timeline.ImageResolver
	// WorkspaceRoot 演示文稿目录的父目录; 为空时不监听文件。
	WorkspaceRoot string
}

// Engine 见包注释。
type Engine struct {
	be        Backend
	prefs     *prefs.Manager
	hub       *hub.Hub
	watcher   FileWatcher
	snapshots SnapshotSaver
	opts      Options

	mu        sync.Mutex
	session   *timeline.Session
	epoch     uint64
	openSeq   uint64
	connected bool
	layouts   []timeline.LayoutOption
	files     []backend.FileNode

	bg sync.WaitGroup // 进行中的快照写入
}

// New 创建 engine。prefs 为 nil 时使用纯内存偏好。
func New(be Backend, pm *prefs.Manager, h *hub.Hub, opts Options) *Engine {
	if pm == nil {
		pm = prefs.NewManager(nil)
	}
	if h == nil {
		h = hub.New(0)
	}
	return &Engine{be: be, prefs: pm, hub: h, opts: opts}
}

// WithWatcher 挂载文件监听。
func (e *Engine) WithWatcher(w FileWatcher) *Engine {
	e.watcher = w
	return e
}

// WithSnapshots 挂载快照存储。
func (e *Engine) WithSnapshots(s SnapshotSaver) *Engine {
	e.snapshots = s
	return e
}

// Hub 推送通道。
func (e *Engine) Hub() *hub.Hub { return e.hub }

// ========================================
// 只读查询
// ========================================

// Timeline 当前 timeline 副本及所属 epoch。
func (e *Engine) Timeline() ([]timeline.Entry, uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, e.epoch, apperrors.Wrap(apperrors.ErrNoPresentation, "Engine.Timeline", "no presentation open")
	}
	return e.session.Timeline.Entries(), e.epoch, nil
}

// Status 全局状态, 没有打开的演示文稿时 Session 为 nil。
type Status struct {
	Connected bool                    `json:"connected"`
	Epoch     uint64                  `json:"epoch"`
	Session   *timeline.State         `json:"session,omitempty"`
	Layouts   []timeline.LayoutOption `json:"layouts,omitempty"`
	Files     []backend.FileNode      `json:"files,omitempty"`
}

// Status 当前状态副本。
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statusLocked()
}

func (e *Engine) statusLocked() Status {
	st := Status{
		Connected: e.connected,
		Epoch:     e.epoch,
		Layouts:   append([]timeline.LayoutOption(nil), e.layouts...),
		Files:     append([]backend.FileNode(nil), e.files...),
	}
	if e.session != nil {
		snap := e.session.Snapshot()
		st.Session = &snap
	}
	return st
}

// SetConnected live 通道连接状态变化。
func (e *Engine) SetConnected(connected bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.connected == connected {
		return
	}
	e.connected = connected
	e.hub.Publish(hub.Message{Type: hub.TypeConnection, Epoch: e.epoch, Data: map[string]bool{"connected": connected}})
}

// ========================================
// 锁内辅助
// ========================================

// current 返回当前会话; 调用方持锁。
func (e *Engine) current(op string) (*timeline.Session, error) {
	if e.session == nil {
		return nil, apperrors.Wrap(apperrors.ErrNoPresentation, op, "no presentation open")
	}
	return e.session, nil
}

// sessionFor 锁内校验 epoch 仍然有效。
func (e *Engine) sessionFor(epoch uint64) (*timeline.Session, bool) {
	if e.session == nil || e.epoch != epoch {
		return nil, false
	}
	return e.session, true
}

// flushLocked 把 timeline 变更和状态推送给订阅者, 调用方持锁。
func (e *Engine) flushLocked() {
	if e.session == nil {
		return
	}
	for _, ch := range e.session.Timeline.DrainChanges() {
		typ := hub.TypeAppend
		if ch.Op == timeline.ChangePatch {
			typ = hub.TypePatch
		}
		e.hub.Publish(hub.Message{Type: typ, Epoch: e.epoch, Data: ch.Entry})
	}
	e.hub.Publish(hub.Message{Type: hub.TypeState, Epoch: e.epoch, Data: e.session.Snapshot()})
}

// resetLocked 整体替换 UI 侧 timeline (打开 / 关闭 / 订阅者 resync)。
func (e *Engine) resetLocked() {
	e.hub.Publish(e.resetMessageLocked())
}

func (e *Engine) resetMessageLocked() hub.Message {
	payload := ResetPayload{Status: e.statusLocked(), Entries: []timeline.Entry{}}
	if e.session != nil {
		e.session.Timeline.DrainChanges()
		payload.Entries = e.session.Timeline.Entries()
	}
	return hub.Message{Type: hub.TypeReset, Epoch: e.epoch, Data: payload}
}

// ResetPayload timeline.reset 消息体。
type ResetPayload struct {
	Status  Status           `json:"status"`
	Entries []timeline.Entry `json:"entries"`
}

// ResetMessage 供新订阅者或 resync 使用的全量消息。
func (e *Engine) ResetMessage() hub.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return hub.Message{Type: hub.TypeReset, Epoch: e.epoch, Data: ResetPayload{
		Status:  e.statusLocked(),
		Entries: e.entriesLocked(),
	}}
}

func (e *Engine) entriesLocked() []timeline.Entry {
	if e.session == nil {
		return []timeline.Entry{}
	}
	return e.session.Timeline.Entries()
}

// diskPath 演示文稿内相对路径 → 磁盘绝对路径。
func (e *Engine) diskPath(presentation, rel string) string {
	if e.opts.WorkspaceRoot == "" || presentation == "" {
		return ""
	}
	return filepath.Join(e.opts.WorkspaceRoot, presentation, filepath.FromSlash(rel))
}

func logDropped(op string, epoch uint64) {
	logger.Debug("engine: dropping late response",
		logger.FieldMethod, op,
		logger.FieldEpoch, epoch,
	)
}
