package timeline

import "strings"

// DefaultFile code 视图下没有打开文件时自动打开的文件。
const DefaultFile = "deck.marp.md"

// Options Session 构造参数。
type Options struct {
	ToolOutputLimit int
	DefaultFile     string
	Resolver        ImageResolver
	InitialView     View
}

// Session 一个打开的演示文稿的全部会话状态。
//
// presentation 打开时构造, 关闭或切换时整体丢弃; 由调用方串行访问。
type Session struct {
	Presentation string
	Epoch        uint64

	Timeline *Store
	Batches  *BatchTracker
	Files    *FileSession
	View     *ViewMachine

	Busy          bool
	ActiveTool    string
	Progress      *ImageProgress
	PendingLayout *LayoutRequest
	LastPrompt    string

	// picks 本会话发起的图片选择, 用于把只带保存路径的 image_selected 对应回候选图
	picks []pick

	opts Options
}

// NewSession 创建空会话。
func NewSession(presentation string, epoch uint64, opts Options) *Session {
	if strings.TrimSpace(opts.DefaultFile) == "" {
		opts.DefaultFile = DefaultFile
	}
	if opts.Resolver == nil {
		opts.Resolver = PrefixResolver("")
	}
	return &Session{
		Presentation: presentation,
		Epoch:        epoch,
		Timeline:     NewStore(),
		Batches:      NewBatchTracker(),
		Files:        NewFileSession(),
		View:         NewViewMachine(opts.InitialView),
		opts:         opts,
	}
}

// Options 返回构造参数。
func (s *Session) Options() Options { return s.opts }

// State 会话概要, 供 UI 拉取。
type State struct {
	Presentation  string         `json:"presentation"`
	Epoch         uint64         `json:"epoch"`
	View          View           `json:"view"`
	Busy          bool           `json:"busy"`
	ActiveTool    string         `json:"activeTool,omitempty"`
	Progress      *ImageProgress `json:"progress,omitempty"`
	PendingLayout *LayoutRequest `json:"pendingLayout,omitempty"`
	CurrentBatch  string         `json:"currentBatch,omitempty"`
	Batches       []ImageBatch   `json:"batches"`
	File          FileSnapshot   `json:"file"`
	Entries       int            `json:"entries"`
	Revision      uint64         `json:"revision"`
}

// Snapshot 生成 State 副本。
func (s *Session) Snapshot() State {
	st := State{
		Presentation: s.Presentation,
		Epoch:        s.Epoch,
		View:         s.View.Active(),
		Busy:         s.Busy,
		ActiveTool:   s.ActiveTool,
		CurrentBatch: s.Batches.CurrentSlug(),
		Batches:      s.Batches.Batches(),
		File:         s.Files.Snapshot(),
		Entries:      s.Timeline.Len(),
		Revision:     s.Timeline.Revision(),
	}
	if s.Progress != nil {
		p := *s.Progress
		st.Progress = &p
	}
	if s.PendingLayout != nil {
		req := *s.PendingLayout
		req.Layouts = append([]LayoutOption(nil), s.PendingLayout.Layouts...)
		st.PendingLayout = &req
	}
	return st
}

func (s *Session) resolve(path string) string {
	return s.opts.Resolver(path)
}

// maxPicks 已确认的选择只保留最近几条, 用于识别重复投递的 image_selected。
const maxPicks = 16

// pick 一次由用户发起并提交给后端的选择。
type pick struct {
	slug      string
	index     int
	ticket    uint64
	path      string
	filename  string
	quiet     bool // 重复选择已选中的图, 确认时不再提示
	confirmed bool
}

func (pk pick) matches(p ImageSelectedPayload) bool {
	for _, v := range []string{p.Path, p.SavedPath} {
		if v != "" && v == pk.path {
			return true
		}
	}
	return p.Filename != "" && p.Filename == pk.filename
}

func (s *Session) addPick(sel Selection) {
	s.picks = append(s.picks, pick{slug: sel.Slug, index: sel.Index, ticket: sel.Ticket, quiet: sel.AlreadyActive})
}

func (s *Session) findPick(sel Selection) int {
	for i := len(s.picks) - 1; i >= 0; i-- {
		pk := s.picks[i]
		if pk.slug == sel.Slug && pk.index == sel.Index && pk.ticket == sel.Ticket {
			return i
		}
	}
	return -1
}

func (s *Session) dropPick(sel Selection) {
	if i := s.findPick(sel); i >= 0 {
		s.picks = append(s.picks[:i], s.picks[i+1:]...)
	}
}

// matchPick 为不带 index 的 image_selected 找到对应的选择。
// 优先按保存路径或文件名匹配未确认的选择, 其次取该批次最早的未确认选择
// (事件可能先于 HTTP 响应到达), 最后匹配已确认的选择 (重复投递)。
func (s *Session) matchPick(slug string, p ImageSelectedPayload) (int, bool) {
	for i, pk := range s.picks {
		if !pk.confirmed && pk.matches(p) {
			return i, true
		}
	}
	for i, pk := range s.picks {
		if !pk.confirmed && pk.slug == slug {
			return i, true
		}
	}
	for i, pk := range s.picks {
		if pk.confirmed && pk.matches(p) {
			return i, true
		}
	}
	return 0, false
}

// RecordSavedSelection 记录后端为 sel 保存的图片路径与文件名。
func (s *Session) RecordSavedSelection(sel Selection, path, filename string) {
	i := s.findPick(sel)
	if i < 0 {
		return
	}
	s.picks[i].path = strings.TrimSpace(path)
	s.picks[i].filename = strings.TrimSpace(filename)
}

func (s *Session) prunePicks() {
	confirmed := 0
	for _, pk := range s.picks {
		if pk.confirmed {
			confirmed++
		}
	}
	if confirmed <= maxPicks {
		return
	}
	out := s.picks[:0]
	for _, pk := range s.picks {
		if pk.confirmed && confirmed > maxPicks {
			confirmed--
			continue
		}
		out = append(out, pk)
	}
	s.picks = out
}
