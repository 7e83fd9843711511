package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

func confirmer(discard bool) timeline.Confirmer {
	if discard {
		return timeline.Always
	}
	return nil
}

// OpenFile 在 code 视图中打开文件。当前文件有未保存修改时需要 discard=true。
func (e *Engine) OpenFile(ctx context.Context, path string, discard bool) (timeline.FileSnapshot, error) {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()
	return e.openFile(ctx, epoch, path, confirmer(discard))
}

func (e *Engine) openDefaultFile(ctx context.Context, epoch uint64, path string) {
	e.mu.Lock()
	s, ok := e.sessionFor(epoch)
	open := ok && s.Files.IsOpen()
	e.mu.Unlock()
	if !ok || open {
		return
	}
	if _, err := e.openFile(ctx, epoch, path, nil); err != nil {
		logger.Warn("engine: open default file failed", logger.FieldPath, path, logger.FieldError, err)
	}
}

func (e *Engine) openFile(ctx context.Context, epoch uint64, path string, confirm timeline.Confirmer) (timeline.FileSnapshot, error) {
	const op = "Engine.OpenFile"
	e.mu.Lock()
	s, ok := e.sessionFor(epoch)
	if !ok {
		e.mu.Unlock()
		return timeline.FileSnapshot{}, apperrors.Wrap(apperrors.ErrNoPresentation, op, "no presentation open")
	}
	ticket, err := s.Files.BeginOpen(path, confirm)
	e.mu.Unlock()
	if err != nil {
		return timeline.FileSnapshot{}, err
	}

	fc, err := e.be.FileContent(ctx, ticket.Path)
	if err == nil && fc.Type != "" && fc.Type != "text" {
		err = apperrors.Wrapf(apperrors.ErrInvalidInput, op, "%s is not a text file (%s)", ticket.Path, fc.Type)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessionFor(epoch)
	if !ok {
		logDropped(op, epoch)
		return timeline.FileSnapshot{}, apperrors.Wrapf(apperrors.ErrStale, op, "presentation changed while loading %s", ticket.Path)
	}
	if err != nil {
		logger.Warn("engine: load file failed", logger.FieldPath, ticket.Path, logger.FieldError, err)
		return s.Files.Snapshot(), err
	}
	if err := s.Files.CompleteOpen(ticket, fc.Content); err != nil {
		logDropped(op, epoch)
		return s.Files.Snapshot(), err
	}
	e.watchLocked(s)
	e.flushLocked()
	return s.Files.Snapshot(), nil
}

// EditFile 本地修改内容 (进入 dirty)。
func (e *Engine) EditFile(content string) (timeline.FileSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.current("Engine.EditFile")
	if err != nil {
		return timeline.FileSnapshot{}, err
	}
	if err := s.Files.Edit(content); err != nil {
		return s.Files.Snapshot(), err
	}
	e.flushLocked()
	return s.Files.Snapshot(), nil
}

// SaveFile 保存当前文件并把编译结果写入 timeline。失败时保持 dirty。
func (e *Engine) SaveFile(ctx context.Context) (*backend.SaveResult, error) {
	const op = "Engine.SaveFile"
	e.mu.Lock()
	s, err := e.current(op)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	ticket, err := s.Files.BeginSave()
	epoch := e.epoch
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	res, err := e.be.SaveFile(ctx, ticket.Path, ticket.Content)

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.sessionFor(epoch)
	if !ok {
		logDropped(op, epoch)
		return res, apperrors.Wrapf(apperrors.ErrStale, op, "presentation changed while saving %s", ticket.Path)
	}
	if err != nil {
		logger.Warn("engine: save failed", logger.FieldPath, ticket.Path, logger.FieldError, err)
		s.Notice(fmt.Sprintf("Failed to save %s: %v", ticket.Path, err), true)
		e.flushLocked()
		return nil, err
	}
	if err := s.Files.CompleteSave(ticket); err != nil {
		logger.Warn("engine: late save acknowledgement", logger.FieldPath, ticket.Path, logger.FieldError, err)
	}
	refresh := true
	if res.Compile != nil {
		if res.Compile.Success {
			s.Notice("Saved "+ticket.Path+". Presentation recompiled.", false)
		} else {
			refresh = false
			s.Notice("Saved "+ticket.Path+" but compilation failed: "+res.Compile.Message, true)
		}
	}
	e.flushLocked()
	if refresh {
		e.hub.Publish(hub.Message{Type: hub.TypeRefresh, Epoch: epoch, Data: map[string]*int{"slide": nil}})
	}
	return res, nil
}

// CloseFile 关闭当前文件。有未保存修改时需要 discard=true。
func (e *Engine) CloseFile(discard bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, err := e.current("Engine.CloseFile")
	if err != nil {
		return err
	}
	if err := s.Files.Close(confirmer(discard)); err != nil {
		return err
	}
	if e.watcher != nil {
		e.watcher.Unwatch()
	}
	e.flushLocked()
	return nil
}

// ExternalChange 打开的文件在磁盘上被修改: clean 时重新加载, dirty 时只标记 stale。
func (e *Engine) ExternalChange(ctx context.Context, path string) {
	const op = "Engine.ExternalChange"
	e.mu.Lock()
	s := e.session
	if s == nil {
		e.mu.Unlock()
		return
	}
	rel := e.relativePath(s.Presentation, path)
	if !s.Files.ExternalChange(rel) {
		if s.Files.Snapshot().Stale {
			logger.Warn("engine: open file changed on disk while it has unsaved edits", logger.FieldPath, rel)
			e.noticeLocked(rel+" changed on disk; keeping your unsaved edits", true)
		}
		e.flushLocked()
		e.mu.Unlock()
		return
	}
	ticket, ok := s.Files.BeginReload()
	epoch := e.epoch
	e.mu.Unlock()
	if !ok {
		return
	}

	fc, err := e.be.FileContent(ctx, ticket.Path)
	if err != nil {
		logger.Warn("engine: reload failed", logger.FieldPath, ticket.Path, logger.FieldError, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok = e.sessionFor(epoch)
	if !ok {
		logDropped(op, epoch)
		return
	}
	if err := s.Files.CompleteOpen(ticket, fc.Content); err != nil {
		logger.Warn("engine: reload discarded", logger.FieldPath, ticket.Path, logger.FieldError, err)
		e.flushLocked()
		return
	}
	e.noticeLocked(ticket.Path+" reloaded from disk", false)
	e.flushLocked()
}

// noticeLocked 推送一条临时提示, 调用方持锁。
func (e *Engine) noticeLocked(text string, isError bool) {
	e.hub.Publish(hub.Message{Type: hub.TypeNotice, Epoch: e.epoch, Data: hub.Notice{Text: text, Error: isError}})
}

func (e *Engine) watchLocked(s *timeline.Session) {
	if e.watcher == nil {
		return
	}
	disk := e.diskPath(s.Presentation, s.Files.Path())
	if disk == "" {
		return
	}
	if err := e.watcher.Watch(disk); err != nil {
		logger.Warn("engine: cannot watch open file", logger.FieldPath, disk, logger.FieldError, err)
	}
}

// relativePath 磁盘路径 → 演示文稿内相对路径; 不在工作区内时原样返回。
func (e *Engine) relativePath(presentation, path string) string {
	root := e.diskPath(presentation, ".")
	if root == "" {
		return path
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
