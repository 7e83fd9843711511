package engine

import (
	"context"
	"strings"

	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
	"github.com/multi-agent/deckstudio/pkg/util"
)

// OpenResult 打开演示文稿的结果。
type OpenResult struct {
	Presentation string               `json:"presentation"`
	Epoch        uint64               `json:"epoch"`
	Message      string               `json:"message,omitempty"`
	Replay       timeline.ReplayStats `json:"replay"`
	View         timeline.View        `json:"view"`
}

// Open 加载演示文稿并回放历史, 丢弃之前的会话。
// 当前文件有未保存修改时需要 discard=true。
func (e *Engine) Open(ctx context.Context, name string, discard bool) (*OpenResult, error) {
	const op = "Engine.Open"
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, op, "presentation name is required")
	}

	e.mu.Lock()
	if e.session != nil && !discard && e.session.Files.Snapshot().Dirty {
		path := e.session.Files.Path()
		e.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrDeclined, op, "unsaved changes in %s", path)
	}
	e.openSeq++
	seq := e.openSeq
	e.mu.Unlock()

	view := e.prefs.LoadView(ctx)
	res, err := e.be.LoadPresentation(ctx, name)
	if err != nil {
		logger.Warn("engine: load presentation failed", logger.FieldPresentation, name, logger.FieldError, err)
		return nil, err
	}

	e.mu.Lock()
	if seq != e.openSeq {
		e.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrStale, op, "open of %s superseded", name)
	}
	// 加载期间可能又产生了未保存修改
	if e.session != nil && !discard && e.session.Files.Snapshot().Dirty {
		path := e.session.Files.Path()
		e.mu.Unlock()
		return nil, apperrors.Wrapf(apperrors.ErrDeclined, op, "unsaved changes in %s", path)
	}
	e.discardLocked(ctx, "switch")
	e.epoch++
	s := timeline.NewSession(name, e.epoch, timeline.Options{
		ToolOutputLimit: e.opts.ToolOutputLimit,
		DefaultFile:     e.opts.DefaultFile,
		Resolver:        e.opts.Resolver,
		InitialView:     view,
	})
	stats := timeline.Replay(s, res.History)
	e.session = s
	epoch := e.epoch
	// 恢复视图的 entry 动作 (code → 文件树 + 默认文件, layouts → 布局目录)
	effects, _ := s.SwitchView(s.View.Active(), nil)
	e.resetLocked()
	e.mu.Unlock()

	logger.Info("engine: presentation opened",
		logger.FieldPresentation, name,
		logger.FieldEpoch, epoch,
		logger.FieldCount, stats.Applied,
		logger.FieldView, view,
	)
	e.execute(ctx, epoch, withoutPersist(effects))

	return &OpenResult{
		Presentation: name,
		Epoch:        epoch,
		Message:      res.Message,
		Replay:       stats,
		View:         view,
	}, nil
}

// Close 关闭当前演示文稿。当前文件有未保存修改时需要 discard=true。
func (e *Engine) Close(ctx context.Context, discard bool) error {
	const op = "Engine.Close"
	e.mu.Lock()
	s, err := e.current(op)
	if err != nil {
		e.mu.Unlock()
		return err
	}
	if !discard && s.Files.Snapshot().Dirty {
		e.mu.Unlock()
		return apperrors.Wrapf(apperrors.ErrDeclined, op, "unsaved changes in %s", s.Files.Path())
	}
	e.openSeq++
	e.discardLocked(ctx, "close")
	e.epoch++
	e.resetLocked()
	e.mu.Unlock()
	return nil
}

// discardLocked 丢弃当前会话, 可选落库快照。
func (e *Engine) discardLocked(ctx context.Context, reason string) {
	s := e.session
	if s == nil {
		return
	}
	if e.watcher != nil {
		e.watcher.Unwatch()
	}
	if e.snapshots != nil {
		state, entries := s.Snapshot(), s.Timeline.Entries()
		e.bg.Add(1)
		util.SafeGo("engine.snapshot", func() {
			defer e.bg.Done()
			if _, err := e.snapshots.Save(context.WithoutCancel(ctx), state, entries); err != nil {
				logger.Warn("engine: timeline snapshot failed",
					logger.FieldPresentation, state.Presentation,
					logger.FieldError, err,
				)
			}
		})
	}
	logger.Info("engine: session discarded",
		logger.FieldPresentation, s.Presentation,
		logger.FieldEpoch, s.Epoch,
		logger.FieldStatus, reason,
	)
	e.session = nil
	e.layouts = nil
	e.files = nil
}

// Wait 等待后台快照写完, 在关闭快照存储之前调用。ctx 结束时返回 ctx.Err()。
func (e *Engine) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func withoutPersist(effects []timeline.Effect) []timeline.Effect {
	out := effects[:0:0]
	for _, ef := range effects {
		if ef.Kind() != timeline.EffectPersistView {
			out = append(out, ef)
		}
	}
	return out
}
