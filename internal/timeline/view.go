package timeline

import (
	"strings"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

// View 互斥的展示面。
type View string

const (
	ViewPreview View = "preview"
	ViewLayouts View = "layouts"
	ViewCode    View = "code"
)

// ParseView 解析视图名, 大小写不敏感。
func ParseView(raw string) (View, bool) {
	switch View(strings.ToLower(strings.TrimSpace(raw))) {
	case ViewPreview:
		return ViewPreview, true
	case ViewLayouts:
		return ViewLayouts, true
	case ViewCode:
		return ViewCode, true
	}
	return "", false
}

// SwitchOptions 入口动作需要的上下文。
type SwitchOptions struct {
	FileOpen    bool
	DefaultFile string
	Slide       *int
}

// ViewMachine 同一时刻只有一个 active 视图, 初始为 preview。
type ViewMachine struct {
	active View
}

// NewViewMachine initial 非法时退回 preview。
func NewViewMachine(initial View) *ViewMachine {
	if _, ok := ParseView(string(initial)); !ok {
		initial = ViewPreview
	}
	return &ViewMachine{active: initial}
}

// Active 当前视图。
func (m *ViewMachine) Active() View { return m.active }

// SwitchTo 切换视图并返回持久化 + 入口动作。目标与当前相同时入口动作照常执行 (用于强制刷新)。
func (m *ViewMachine) SwitchTo(target View, opts SwitchOptions) ([]Effect, error) {
	v, ok := ParseView(string(target))
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "ViewMachine.SwitchTo", "unknown view %q", target)
	}
	m.active = v
	effects := []Effect{PersistView{View: v}}
	switch v {
	case ViewLayouts:
		effects = append(effects, RequestLayouts{})
	case ViewCode:
		effects = append(effects, RequestFileTree{})
		if !opts.FileOpen && opts.DefaultFile != "" {
			effects = append(effects, OpenDefaultFile{Path: opts.DefaultFile})
		}
	case ViewPreview:
		effects = append(effects, RefreshPreview{Slide: opts.Slide})
	}
	return effects, nil
}
