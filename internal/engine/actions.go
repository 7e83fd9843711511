package engine

import (
	"context"
	"strings"

	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// Chat 把用户消息转发给后端。用户消息本身由后端的 message 事件回显。
func (e *Engine) Chat(ctx context.Context, message string) error {
	const op = "Engine.Chat"
	if strings.TrimSpace(message) == "" {
		return apperrors.Wrap(apperrors.ErrInvalidInput, op, "empty message")
	}
	e.mu.Lock()
	_, err := e.current(op)
	e.mu.Unlock()
	if err != nil {
		return err
	}
	if err := e.be.Chat(ctx, message); err != nil {
		logger.Warn("engine: chat failed", logger.FieldError, err)
		return err
	}
	return nil
}

// SelectCandidate 用户选择当前批次的候选图: 本地先生效, 后端拒绝时回滚。
func (e *Engine) SelectCandidate(ctx context.Context, slug string, index int) (timeline.Selection, error) {
	const op = "Engine.SelectCandidate"
	e.mu.Lock()
	s, err := e.current(op)
	if err != nil {
		e.mu.Unlock()
		return timeline.Selection{}, err
	}
	sel, effects, err := s.SelectCandidate(slug, index)
	epoch := e.epoch
	e.flushLocked()
	e.mu.Unlock()
	if err != nil {
		return timeline.Selection{}, err
	}

	for _, ef := range effects {
		persist, ok := ef.(timeline.PersistSelection)
		if !ok {
			continue
		}
		res, err := e.be.SelectImage(ctx, persist.Index)
		if err != nil {
			logger.Warn("engine: image selection rejected",
				logger.FieldSlug, persist.Slug,
				logger.FieldIndex, persist.Index,
				logger.FieldError, err,
			)
			e.mu.Lock()
			if s, ok := e.sessionFor(epoch); ok {
				s.RollbackSelection(sel, err)
				e.flushLocked()
			} else {
				logDropped(op, epoch)
			}
			e.mu.Unlock()
			return timeline.Selection{}, err
		}
		e.mu.Lock()
		if s, ok := e.sessionFor(epoch); ok && res != nil {
			s.RecordSavedSelection(sel, res.Path, res.Filename)
		}
		e.mu.Unlock()
	}
	return sel, nil
}

// ChooseLayout 回应待决的布局选择; 转发失败时请求重新回到待决状态。
func (e *Engine) ChooseLayout(ctx context.Context, name string) error {
	const op = "Engine.ChooseLayout"
	e.mu.Lock()
	s, err := e.current(op)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	effects, err := s.ChooseLayout(name)
	epoch := e.epoch
	e.flushLocked()
	e.mu.Unlock()
	if err != nil {
		return err
	}

	for _, ef := range effects {
		sl, ok := ef.(timeline.SelectLayout)
		if !ok {
			continue
		}
		if err := e.be.SelectLayout(ctx, sl.Name); err != nil {
			logger.Warn("engine: layout selection failed", logger.FieldLayout, sl.Name, logger.FieldError, err)
			e.mu.Lock()
			if s, ok := e.sessionFor(epoch); ok {
				s.RestoreLayoutRequest(sl.Request, err)
				e.flushLocked()
			} else {
				logDropped(op, epoch)
			}
			e.mu.Unlock()
			return err
		}
		logger.Info("engine: layout selected", logger.FieldLayout, sl.Name)
	}
	return nil
}

// SwitchView 切换视图并执行其 entry 动作。
func (e *Engine) SwitchView(ctx context.Context, target string, slide *int) (timeline.View, error) {
	const op = "Engine.SwitchView"
	view, ok := timeline.ParseView(target)
	if !ok {
		return "", apperrors.Wrapf(apperrors.ErrInvalidInput, op, "unknown view %q", target)
	}
	e.mu.Lock()
	s, err := e.current(op)
	if err != nil {
		e.mu.Unlock()
		return "", err
	}
	effects, err := s.SwitchView(view, slide)
	epoch := e.epoch
	e.flushLocked()
	e.mu.Unlock()
	if err != nil {
		return "", err
	}
	e.execute(ctx, epoch, effects)
	return view, nil
}
