package engine

import (
	"context"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/timeline"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// Run 按到达顺序应用 live 事件与文件变更, 直到 ctx 取消或 events 关闭。
func (e *Engine) Run(ctx context.Context, events <-chan backend.RawEvent) error {
	var changes <-chan string
	if e.watcher != nil {
		changes = e.watcher.Changes()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-events:
			if !ok {
				return nil
			}
			e.HandleRaw(ctx, raw)
		case path := <-changes:
			e.ExternalChange(ctx, path)
		}
	}
}

// HandleRaw 解码并应用一个 live 事件; 解码失败记日志后丢弃。
func (e *Engine) HandleRaw(ctx context.Context, raw backend.RawEvent) {
	ev, err := timeline.DecodeEvent(raw.Name, raw.Data)
	if err != nil {
		logger.Warn("engine: dropping live event",
			logger.FieldEvent, raw.Name,
			logger.FieldBytes, len(raw.Data),
			logger.FieldError, err,
		)
		return
	}
	e.Apply(ctx, ev)
}

// Apply 把一个已解码事件交给 reducer, 然后在锁外执行 effect。
func (e *Engine) Apply(ctx context.Context, ev timeline.Event) {
	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		logger.Debug("engine: event without open presentation", logger.FieldEvent, ev.EventName())
		return
	}
	effects := timeline.Reduce(e.session, ev)
	epoch := e.epoch
	e.flushLocked()
	e.mu.Unlock()
	e.execute(ctx, epoch, effects)
}

// execute 依次执行 effect; 每个请求返回后重新校验 epoch。
func (e *Engine) execute(ctx context.Context, epoch uint64, effects []timeline.Effect) {
	for _, ef := range effects {
		switch ef := ef.(type) {
		case timeline.PersistView:
			e.prefs.SaveView(ctx, ef.View)
		case timeline.RequestLayouts:
			e.loadLayouts(ctx, epoch)
		case timeline.RequestFileTree:
			e.loadFileTree(ctx, epoch)
		case timeline.OpenDefaultFile:
			e.openDefaultFile(ctx, epoch, ef.Path)
		case timeline.RefreshPreview:
			e.publish(epoch, hub.TypeRefresh, map[string]*int{"slide": ef.Slide})
		case timeline.PromptLayout:
			e.publish(epoch, hub.TypeLayout, ef.Request)
		case timeline.PersistSelection:
			// 只由 SelectCandidate 产生并在那里执行 (需要回滚上下文)
			logger.Debug("engine: unexpected selection effect", logger.FieldSlug, ef.Slug)
		case timeline.SelectLayout:
			logger.Debug("engine: unexpected layout effect", logger.FieldLayout, ef.Name)
		default:
			logger.Warn("engine: unknown effect", logger.FieldEvent, ef.Kind())
		}
	}
}

func (e *Engine) publish(epoch uint64, typ string, data any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.epoch != epoch {
		logDropped(typ, epoch)
		return
	}
	e.hub.Publish(hub.Message{Type: typ, Epoch: epoch, Data: data})
}

func (e *Engine) loadLayouts(ctx context.Context, epoch uint64) {
	layouts, err := e.be.Layouts(ctx)
	if err != nil {
		logger.Warn("engine: load layouts failed", logger.FieldError, err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessionFor(epoch); !ok {
		logDropped("layouts", epoch)
		return
	}
	e.layouts = layouts
	e.hub.Publish(hub.Message{Type: hub.TypeLayouts, Epoch: epoch, Data: layouts})
}

func (e *Engine) loadFileTree(ctx context.Context, epoch uint64) {
	files, err := e.be.Files(ctx)
	if err != nil {
		logger.Warn("engine: load file tree failed", logger.FieldError, err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.sessionFor(epoch); !ok {
		logDropped("files", epoch)
		return
	}
	e.files = files
	e.hub.Publish(hub.Message{Type: hub.TypeFiles, Epoch: epoch, Data: files})
}
