// reducer.go — live 事件 → timeline 变更 + 出站 effect。
//
// 每个事件名对应一个 handler; handler 同步完成全部状态修改, 不做 I/O。
package timeline

import (
	"strings"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
	"github.com/multi-agent/deckstudio/pkg/util"
)

type eventHandler func(s *Session, ev Event) []Effect

var eventHandlers = map[EventName]eventHandler{
	EventMessage:               handleMessage,
	EventThinkingStart:         handleThinkingStart,
	EventThinkingEnd:           handleThinkingEnd,
	EventImageRequestDetails:   handleImageRequestDetails,
	EventImageCandidate:        handleImageCandidate,
	EventImageProgress:         handleImageProgress,
	EventImagesReady:           handleImagesReady,
	EventImageSelected:         handleImageSelected,
	EventAgentRequestDetails:   handleAgentRequestDetails,
	EventToolStart:             handleToolStart,
	EventToolEnd:               handleToolEnd,
	EventToolError:             handleToolError,
	EventToolImage:             handleToolImage,
	EventLayoutRequest:         handleLayoutRequest,
	EventPresentationUpdated:   handlePresentationUpdated,
	EventError:                 handleError,
	EventGeneratingImagesStart: handleGeneratingImagesStart,
}

// Reduce 把一个 live 事件应用到会话, 返回需要执行的出站 effect。
func Reduce(s *Session, ev Event) []Effect {
	if s == nil || ev == nil {
		return nil
	}
	handler, ok := eventHandlers[ev.EventName()]
	if !ok {
		logger.Warn("timeline: no handler for event", logger.FieldEvent, ev.EventName())
		return nil
	}
	return handler(s, ev)
}

func handleMessage(s *Session, ev Event) []Effect {
	p := ev.(MessagePayload)
	if e, ok := textEntry(ParseRole(p.Role), p.Content); ok {
		s.Timeline.Append(e)
	}
	return nil
}

func handleThinkingStart(s *Session, _ Event) []Effect {
	s.Busy = true
	return nil
}

func handleThinkingEnd(s *Session, _ Event) []Effect {
	s.Busy = false
	s.ActiveTool = ""
	return nil
}

func handleImageRequestDetails(s *Session, ev Event) []Effect {
	p := ev.(ImageRequestDetails)
	batch, err := s.Batches.Open(p.BatchSlug, p.UserMessage)
	if err != nil {
		logger.Warn("timeline: image batch not opened",
			logger.FieldSlug, p.BatchSlug,
			logger.FieldError, err,
		)
		return nil
	}
	if batch.RequestEntryID != 0 {
		// 重复投递
		return nil
	}
	if p.UserMessage != "" {
		s.LastPrompt = p.UserMessage
	}
	e := s.Timeline.Append(batchRequestEntry(p))
	batch.RequestEntryID = e.ID
	return nil
}

func handleImageCandidate(s *Session, ev Event) []Effect {
	p := ev.(ImageCandidatePayload)
	batch, added, err := s.Batches.AddCandidate(p.BatchSlug, p.Index, p.ImagePath)
	if err != nil {
		logger.Warn("timeline: image candidate dropped",
			logger.FieldSlug, p.BatchSlug,
			logger.FieldIndex, p.Index,
			logger.FieldError, err,
		)
		return nil
	}
	if !added {
		logger.Debug("timeline: duplicate image candidate", logger.FieldSlug, p.BatchSlug, logger.FieldIndex, p.Index)
		return nil
	}
	selected := batch.SelectedIndex != nil && *batch.SelectedIndex == p.Index
	e := s.Timeline.Append(candidateEntry(batch.Slug, p.Index, p.ImagePath, s.resolve(p.ImagePath), selected))
	s.Batches.BindEntry(batch.Slug, p.Index, e.ID)
	return nil
}

func handleImageProgress(s *Session, ev Event) []Effect {
	p := ev.(ImageProgressPayload)
	s.Progress = &ImageProgress{Current: p.Current, Total: p.Total, Status: p.Status}
	s.Busy = true
	return nil
}

func handleImagesReady(s *Session, ev Event) []Effect {
	p := ev.(ImagesReady)
	slug := util.FirstNonEmpty(p.BatchSlug, s.Batches.CurrentSlug())
	if slug != "" && !s.Batches.MarkReady(slug) {
		logger.Warn("timeline: images_ready for unknown batch", logger.FieldSlug, slug)
	}
	s.Progress = nil
	s.Busy = false
	return nil
}

func handleImageSelected(s *Session, ev Event) []Effect {
	p := ev.(ImageSelectedPayload)
	slug := util.FirstNonEmpty(p.BatchSlug, s.Batches.CurrentSlug())
	if p.Index == nil {
		if i, ok := s.matchPick(slug, p); ok {
			return confirmPick(s, i, p)
		}
	}
	index, ok := selectionIndex(s, slug, p)
	if ok {
		sel, err := applySelection(s, slug, index)
		if err != nil {
			logger.Warn("timeline: selection rejected",
				logger.FieldSlug, slug,
				logger.FieldIndex, index,
				logger.FieldError, err,
			)
		} else if sel.AlreadyActive {
			return nil
		}
	} else {
		logger.Debug("timeline: selection without index", logger.FieldSlug, slug, logger.FieldPath, p.Path)
	}
	if e, ok := selectionNotice(p.Filename); ok {
		s.Timeline.Append(e)
	}
	return nil
}

// confirmPick 后端确认了本会话发起的选择。选中项在 SelectCandidate 时已生效, 这里只补提示。
func confirmPick(s *Session, i int, p ImageSelectedPayload) []Effect {
	pk := &s.picks[i]
	if pk.confirmed {
		logger.Debug("timeline: duplicate image_selected", logger.FieldSlug, pk.slug, logger.FieldIndex, pk.index)
		return nil
	}
	pk.confirmed = true
	if pk.path == "" {
		pk.path = util.FirstNonEmpty(p.Path, p.SavedPath)
	}
	if pk.filename == "" {
		pk.filename = p.Filename
	}
	quiet := pk.quiet
	s.prunePicks()
	if quiet {
		return nil
	}
	if e, ok := selectionNotice(p.Filename); ok {
		s.Timeline.Append(e)
	}
	return nil
}

// selectionIndex live 的 image_selected 只带保存路径时按候选图路径反查 index。
func selectionIndex(s *Session, slug string, p ImageSelectedPayload) (int, bool) {
	if p.Index != nil {
		return *p.Index, true
	}
	batch, ok := s.Batches.Get(slug)
	if !ok {
		return 0, false
	}
	for _, path := range []string{p.Path, p.SavedPath} {
		if path == "" {
			continue
		}
		for _, c := range batch.Candidates {
			if c.ImagePath == path {
				return c.Index, true
			}
		}
	}
	return 0, false
}

// applySelection 设置选中项并同步两个 candidate entry 的 Selected 标志。
func applySelection(s *Session, slug string, index int) (Selection, error) {
	sel, err := s.Batches.Select(slug, index)
	if err != nil {
		return Selection{}, err
	}
	if sel.AlreadyActive {
		return sel, nil
	}
	if sel.PrevEntryID != 0 {
		s.Timeline.Patch(sel.PrevEntryID, func(e *Entry) {
			if e.Candidate != nil {
				e.Candidate.Selected = false
			}
		})
	}
	if sel.EntryID != 0 {
		s.Timeline.Patch(sel.EntryID, func(e *Entry) {
			if e.Candidate != nil {
				e.Candidate.Selected = true
			}
		})
	}
	return sel, nil
}

func handleAgentRequestDetails(s *Session, ev Event) []Effect {
	p := ev.(AgentRequestDetails)
	if strings.TrimSpace(p.UserMessage) == "" {
		return nil
	}
	s.Timeline.Append(agentDetailsEntry(p))
	return nil
}

func handleToolStart(s *Session, ev Event) []Effect {
	p := ev.(ToolStart)
	s.ActiveTool = p.Tool
	logger.Debug("timeline: tool started", logger.FieldToolName, p.Tool)
	return nil
}

func handleToolEnd(s *Session, ev Event) []Effect {
	p := ev.(ToolEnd)
	if s.ActiveTool == p.Tool {
		s.ActiveTool = ""
	}
	for _, e := range toolEntries(p, s.opts.ToolOutputLimit) {
		s.Timeline.Append(e)
	}
	return nil
}

func handleToolError(s *Session, ev Event) []Effect {
	p := ev.(ToolError)
	if s.ActiveTool == p.Tool {
		s.ActiveTool = ""
	}
	s.Timeline.Append(toolErrorEntry(p))
	return nil
}

func handleToolImage(s *Session, ev Event) []Effect {
	p := ev.(ToolImage)
	if strings.TrimSpace(p.ImagePath) == "" {
		logger.Warn("timeline: tool_image without image_path", logger.FieldToolName, p.Tool)
		return nil
	}
	s.Timeline.Append(toolImageEntry(p, s.resolve(p.ImagePath)))
	return nil
}

func handleLayoutRequest(s *Session, ev Event) []Effect {
	p := ev.(LayoutRequest)
	req := p
	req.Layouts = append([]LayoutOption(nil), p.Layouts...)
	s.PendingLayout = &req
	return []Effect{PromptLayout{Request: req}}
}

func handlePresentationUpdated(s *Session, ev Event) []Effect {
	p := ev.(PresentationUpdated)
	s.Progress = nil
	effects, _ := s.View.SwitchTo(ViewPreview, s.switchOptions(p.Slide))
	return effects
}

func handleError(s *Session, ev Event) []Effect {
	p := ev.(ErrorPayload)
	msg := strings.TrimSpace(p.Message)
	if msg == "" {
		msg = "unknown error"
	}
	s.Timeline.Append(errorEntry(RoleSystem, msg))
	s.Busy = false
	s.Progress = nil
	return nil
}

func handleGeneratingImagesStart(s *Session, ev Event) []Effect {
	p := ev.(GeneratingImagesStart)
	s.Busy = true
	if p.Prompt != "" {
		s.LastPrompt = p.Prompt
	}
	return nil
}

func (s *Session) switchOptions(slide *int) SwitchOptions {
	return SwitchOptions{
		FileOpen:    s.Files.IsOpen(),
		DefaultFile: s.opts.DefaultFile,
		Slide:       slide,
	}
}

// ========================================
// 用户发起的操作
// ========================================

// SwitchView 用户切换视图。
func (s *Session) SwitchView(target View, slide *int) ([]Effect, error) {
	return s.View.SwitchTo(target, s.switchOptions(slide))
}

// SelectCandidate 用户选择候选图。slug 为空时取当前批次; 后端只接受当前批次的选择,
// 历史批次返回 ErrStale。失败时追加一条错误 entry 并返回错误; 成功时返回 PersistSelection。
func (s *Session) SelectCandidate(slug string, index int) (Selection, []Effect, error) {
	active := s.Batches.ActiveSlug()
	slug = util.FirstNonEmpty(strings.TrimSpace(slug), active)
	var (
		sel Selection
		err error
	)
	if slug != active {
		err = apperrors.Wrapf(apperrors.ErrStale, "Session.SelectCandidate", "batch %q is no longer awaiting a choice", slug)
	} else {
		sel, err = applySelection(s, slug, index)
	}
	if err != nil {
		s.Timeline.Append(errorEntry(RoleSystem, "Cannot select image: "+err.Error()))
		return Selection{}, nil, err
	}
	s.addPick(sel)
	return sel, []Effect{PersistSelection{Slug: sel.Slug, Index: sel.Index}}, nil
}

// RollbackSelection 后端拒绝选择时撤销 sel。期间已有其他选择生效时只追加错误 entry。
func (s *Session) RollbackSelection(sel Selection, cause error) {
	s.dropPick(sel)
	if s.Batches.Restore(sel) {
		if sel.EntryID != 0 {
			s.Timeline.Patch(sel.EntryID, func(e *Entry) {
				if e.Candidate != nil {
					e.Candidate.Selected = false
				}
			})
		}
		if sel.PrevEntryID != 0 {
			s.Timeline.Patch(sel.PrevEntryID, func(e *Entry) {
				if e.Candidate != nil {
					e.Candidate.Selected = true
				}
			})
		}
	}
	msg := "Image selection failed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	s.Timeline.Append(errorEntry(RoleSystem, msg))
}

// ChooseLayout 回应待决的 layout_request; 每个请求只接受一次。
func (s *Session) ChooseLayout(name string) ([]Effect, error) {
	name = strings.TrimSpace(name)
	if s.PendingLayout == nil {
		return nil, apperrors.Wrap(apperrors.ErrNoPendingLayout, "Session.ChooseLayout", "no layout choice pending")
	}
	if name == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Session.ChooseLayout", "empty layout name")
	}
	if len(s.PendingLayout.Layouts) > 0 && !hasLayout(s.PendingLayout.Layouts, name) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "Session.ChooseLayout", "layout %q was not offered", name)
	}
	req := *s.PendingLayout
	s.PendingLayout = nil
	return []Effect{SelectLayout{Name: name, Request: req}}, nil
}

// RestoreLayoutRequest 转发失败时把请求放回待决状态。
func (s *Session) RestoreLayoutRequest(req LayoutRequest, cause error) {
	if s.PendingLayout == nil {
		s.PendingLayout = &req
	}
	msg := "Layout selection failed"
	if cause != nil {
		msg += ": " + cause.Error()
	}
	s.Timeline.Append(errorEntry(RoleSystem, msg))
}

func hasLayout(layouts []LayoutOption, name string) bool {
	for _, l := range layouts {
		if l.Name == name {
			return true
		}
	}
	return false
}

// Notice 追加一条系统提示 (保存结果、编译状态等)。
func (s *Session) Notice(text string, isError bool) {
	if isError {
		s.Timeline.Append(errorEntry(RoleSystem, text))
		return
	}
	if e, ok := textEntry(RoleSystem, text); ok {
		s.Timeline.Append(e)
	}
}
