// Package tui 终端前端: 订阅 hub 的 timeline 变更, 通过引擎执行用户操作。
package tui

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

// actionTimeout 单个用户操作的超时。
const actionTimeout = 2 * time.Minute

// hubMsg hub 推送; ok=false 表示订阅已关闭。
type hubMsg struct {
	msg hub.Message
	ok  bool
}

// resultMsg 用户操作完成。
type resultMsg struct {
	note string
	err  error
}

// Model bubbletea 模型。
type Model struct {
	ctl  Controller
	sub  *hub.Subscriber
	keys keyMap
	help help.Model

	viewport viewport.Model
	input    textinput.Model

	width    int
	height   int
	ready    bool
	showHelp bool
	follow   bool

	entries []timeline.Entry
	status  engine.Status

	note    string
	noteErr bool
	pending int
}

// New 创建模型。sub 为 nil 时不接收推送, 只在操作完成后刷新。
func New(ctl Controller, sub *hub.Subscriber) Model {
	in := textinput.New()
	in.Placeholder = "message the assistant, or /open <presentation>"
	in.CharLimit = 4000
	in.Prompt = "› "
	in.Focus()

	m := Model{
		ctl:    ctl,
		sub:    sub,
		keys:   keys,
		help:   help.New(),
		input:  in,
		follow: true,
	}
	m.reload()
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, waitForMessage(m.sub))
}

// waitForMessage 阻塞读取下一条 hub 消息。
func waitForMessage(sub *hub.Subscriber) tea.Cmd {
	if sub == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-sub.C()
		return hubMsg{msg: msg, ok: ok}
	}
}

// runCommand 在 tea 的 goroutine 中执行命令。
func runCommand(ctl Controller, cmd command) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()
		note, err := cmd.run(ctx, ctl)
		return resultMsg{note: note, err: err}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.help.Width = msg.Width
		h := m.viewportHeight()
		if !m.ready {
			m.viewport = viewport.New(msg.Width, h)
			m.ready = true
		} else {
			m.viewport.Width, m.viewport.Height = msg.Width, h
		}
		m.input.Width = max(10, msg.Width-4)
		m.refreshContent()
		return m, nil

	case hubMsg:
		if !msg.ok {
			logger.Info("tui: hub subscription closed")
			return m, nil
		}
		if m.sub != nil {
			m.sub.TakeResync()
		}
		if n, ok := msg.msg.Data.(hub.Notice); ok && msg.msg.Type == hub.TypeNotice {
			m.note, m.noteErr = n.Text, n.Error
		}
		m.reload()
		m.refreshContent()
		return m, waitForMessage(m.sub)

	case resultMsg:
		m.pending--
		if msg.err != nil {
			m.note, m.noteErr = describeError(msg.err), true
		} else {
			m.note, m.noteErr = msg.note, false
		}
		m.reload()
		m.refreshContent()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Help):
			m.showHelp = !m.showHelp
			m.help.ShowAll = m.showHelp
			m.resizeViewport()
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.input.Reset()
			m.note = ""
			return m, nil
		case key.Matches(msg, m.keys.Submit):
			return m.submit()
		case key.Matches(msg, m.keys.NextView):
			if m.status.Session == nil {
				return m, nil
			}
			target := nextView(m.status.Session.View)
			return m.start(command{name: "view", args: []string{string(target)}})
		case key.Matches(msg, m.keys.Save):
			return m.start(command{name: "save"})
		case key.Matches(msg, m.keys.PageUp):
			m.viewport.HalfViewUp()
			m.follow = m.viewport.AtBottom()
			return m, nil
		case key.Matches(msg, m.keys.PageDown):
			m.viewport.HalfViewDown()
			m.follow = m.viewport.AtBottom()
			return m, nil
		case key.Matches(msg, m.keys.Bottom):
			m.follow = true
			m.viewport.GotoBottom()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := m.input.Value()
	if strings.TrimSpace(line) == "" {
		return m, nil
	}
	cmd, err := parseCommand(line)
	if err != nil {
		m.note, m.noteErr = describeError(err), true
		return m, nil
	}
	m.input.Reset()
	return m.start(cmd)
}

func (m Model) start(cmd command) (tea.Model, tea.Cmd) {
	m.pending++
	m.note, m.noteErr = "…", false
	if cmd.name == "chat" {
		m.follow = true
	}
	return m, runCommand(m.ctl, cmd)
}

// reload 从引擎取最新 timeline 与状态。
func (m *Model) reload() {
	m.status = m.ctl.Status()
	entries, _, err := m.ctl.Timeline()
	if err != nil {
		m.entries = nil
		return
	}
	m.entries = entries
}

func (m *Model) viewportHeight() int {
	// title + tabs + input + note + status
	h := m.height - 6
	if m.showHelp {
		h -= 3
	}
	return max(1, h)
}

func (m *Model) resizeViewport() {
	if !m.ready {
		return
	}
	m.viewport.Height = m.viewportHeight()
	m.refreshContent()
}

func (m *Model) refreshContent() {
	if !m.ready {
		return
	}
	m.viewport.SetContent(renderTimeline(m.entries, m.width))
	if m.follow {
		m.viewport.GotoBottom()
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	var b strings.Builder

	title := "deckstudio"
	if m.status.Session != nil {
		title += " · " + m.status.Session.Presentation
	}
	b.WriteString(titleStyle.Render(title))
	b.WriteRune('\n')
	view := timeline.View("")
	if m.status.Session != nil {
		view = m.status.Session.View
	}
	b.WriteString(renderTabs(view))
	b.WriteRune('\n')

	b.WriteString(m.viewport.View())
	b.WriteRune('\n')

	b.WriteString(m.input.View())
	b.WriteRune('\n')

	switch {
	case m.note == "":
		b.WriteString(dimStyle.Render(" "))
	case m.noteErr:
		b.WriteString(errorStyle.Render(m.note))
	default:
		b.WriteString(dimStyle.Render(m.note))
	}
	b.WriteRune('\n')

	b.WriteString(renderStatus(m.status, m.width))
	if m.showHelp {
		b.WriteRune('\n')
		b.WriteString(m.help.View(m.keys))
		b.WriteRune('\n')
		b.WriteString(dimStyle.Render(commandHelp))
	}
	return truncateLines(b.String(), m.width)
}

// describeError 把引擎错误翻译成一行提示。
func describeError(err error) string {
	switch {
	case apperrors.Is(err, apperrors.ErrDeclined):
		return "unsaved changes: repeat the command with ! (e.g. /open! name) to discard them"
	case apperrors.Is(err, apperrors.ErrNoPresentation):
		return "no presentation open: /open <name>"
	case apperrors.Is(err, apperrors.ErrNoPendingLayout):
		return "no layout choice is pending"
	case apperrors.Is(err, apperrors.ErrStale):
		return "superseded by a newer request"
	}
	return err.Error()
}
