// hub.go — UI 订阅者 fan-out (SSE + WebSocket 共用)。
package hub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/multi-agent/deckstudio/pkg/logger"
)

// 推送给 UI 的消息类型。
const (
	TypeReset      = "timeline.reset"
	TypeAppend     = "timeline.append"
	TypePatch      = "timeline.patch"
	TypeState      = "state"
	TypeLayout     = "layout_request"
	TypeLayouts    = "layouts"
	TypeFiles      = "files"
	TypeRefresh    = "preview.refresh"
	TypeConnection = "connection"
	TypeNotice     = "notice"
)

// Notice TypeNotice 的消息体: 不进 timeline 的临时提示。
type Notice struct {
	Text  string `json:"text"`
	Error bool   `json:"error,omitempty"`
}

// Message 一条推送。Epoch 标识所属演示文稿会话。
type Message struct {
	Type  string `json:"type"`
	Epoch uint64 `json:"epoch"`
	Data  any    `json:"data,omitempty"`
}

// Subscriber 一个 UI 连接。队列满时丢弃消息并标记 resync, 消费方随后应拉取全量快照。
type Subscriber struct {
	ID   string
	Kind string
	ch   chan Message

	resync  atomic.Bool
	dropped atomic.Int64
}

// C 消息通道。Unsubscribe 后不关闭, 消费方按自身 ctx 退出。
func (s *Subscriber) C() <-chan Message { return s.ch }

// TakeResync 读取并清除 resync 标记。
func (s *Subscriber) TakeResync() bool { return s.resync.Swap(false) }

// Dropped 累计丢弃数。
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// Hub 订阅表。
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	queueSize   int
}

// New queueSize 为每个订阅者的缓冲长度。
func New(queueSize int) *Hub {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Hub{subscribers: make(map[string]*Subscriber), queueSize: queueSize}
}

// Subscribe 注册订阅者, kind 仅用于日志 (sse / ws / tui)。
func (h *Hub) Subscribe(kind string) *Subscriber {
	sub := &Subscriber{
		ID:   kind + "-" + uuid.NewString(),
		Kind: kind,
		ch:   make(chan Message, h.queueSize),
	}
	h.mu.Lock()
	h.subscribers[sub.ID] = sub
	n := len(h.subscribers)
	h.mu.Unlock()
	logger.Info("hub: subscriber added", logger.FieldClient, sub.ID, logger.FieldCount, n)
	return sub
}

// Unsubscribe 移除订阅者。
func (h *Hub) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	delete(h.subscribers, sub.ID)
	n := len(h.subscribers)
	h.mu.Unlock()
	logger.Info("hub: subscriber removed", logger.FieldClient, sub.ID, logger.FieldCount, n)
}

// Publish 非阻塞广播; 慢订阅者丢消息并进入 resync。
func (h *Hub) Publish(msg Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subscribers {
		select {
		case sub.ch <- msg:
		default:
			sub.dropped.Add(1)
			if !sub.resync.Swap(true) {
				logger.Warn("hub: subscriber lagging, resync scheduled",
					logger.FieldClient, sub.ID,
					logger.FieldEvent, msg.Type,
				)
			}
		}
	}
}

// Len 当前订阅者数量。
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
