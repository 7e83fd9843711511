package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/timeline"
	"github.com/multi-agent/deckstudio/pkg/util"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Background(lipgloss.Color("#1E1E2E")).
			Padding(0, 1)

	tabActiveStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	tabInactiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#6C7086")).
				Background(lipgloss.Color("#313244")).
				Padding(0, 1)

	userStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#89B4FA"))
	modelStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1"))
	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F9E2AF"))
	toolStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FAB387"))
	errorStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#F38BA8"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6C7086"))
	selectStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#A6E3A1"))

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#CDD6F4")).
			Background(lipgloss.Color("#1E1E2E"))
)

// maxToolLines 工具输出在终端中最多显示的行数。
const maxToolLines = 6

func roleLabel(r timeline.Role) string {
	switch r {
	case timeline.RoleUser:
		return userStyle.Render("you")
	case timeline.RoleModel:
		return modelStyle.Render("assistant")
	case timeline.RoleTool:
		return toolStyle.Render("tool")
	default:
		return systemStyle.Render("system")
	}
}

// renderEntry 把一条 timeline entry 渲染为若干行 (不含结尾换行)。
func renderEntry(e timeline.Entry, width int) string {
	var b strings.Builder
	b.WriteString(roleLabel(e.Role))
	b.WriteString(dimStyle.Render(fmt.Sprintf(" #%d", e.ID)))
	b.WriteRune('\n')

	body := func(s string) {
		for _, line := range wrapText(s, width-2) {
			if e.IsError {
				line = errorStyle.Render(line)
			}
			b.WriteString("  " + line + "\n")
		}
	}

	switch e.Kind {
	case timeline.KindToolInvocation:
		if e.Tool != nil {
			header := "▸ " + e.Tool.Name
			if e.Tool.Compact {
				header += dimStyle.Render(" (history)")
			}
			b.WriteString("  " + toolStyle.Render(header) + "\n")
			out := util.FirstNonEmpty(e.Tool.Display, e.Tool.Parsed.MainOutput)
			lines := wrapText(out, width-4)
			if len(lines) > maxToolLines {
				lines = append(lines[:maxToolLines], dimStyle.Render(fmt.Sprintf("… %d more lines", len(lines)-maxToolLines)))
			}
			for _, l := range lines {
				if l == "" {
					continue
				}
				b.WriteString("    " + l + "\n")
			}
		}
	case timeline.KindImageBatchRequest:
		if e.Batch != nil {
			body(fmt.Sprintf("Generating images [%s]: %s", e.Batch.Slug, e.Batch.Prompt))
		}
	case timeline.KindImageCandidate:
		if e.Candidate != nil {
			mark := "○"
			style := dimStyle
			if e.Candidate.Selected {
				mark, style = "●", selectStyle
			}
			line := fmt.Sprintf("%s candidate %d  %s", mark, e.Candidate.Index, util.FirstNonEmpty(e.Candidate.ImageURL, e.Candidate.ImagePath))
			b.WriteString("  " + style.Render(line) + "\n")
		}
	case timeline.KindVisualQAReport:
		if e.QA != nil {
			label := "Visual QA"
			if e.QA.IsCritical {
				label = errorStyle.Render("Visual QA: critical")
			}
			b.WriteString("  " + label + "\n")
			switch {
			case e.QA.Verdict != nil || e.QA.Description != nil:
				if e.QA.Verdict != nil {
					body("Verdict: " + *e.QA.Verdict)
				}
				if e.QA.Description != nil {
					body(*e.QA.Description)
				}
			default:
				body(e.QA.RawText)
			}
		}
	case timeline.KindDetailsAttachment:
		if e.Text != "" {
			body(e.Text)
		}
		for _, d := range e.Details {
			b.WriteString("  " + dimStyle.Render(d.Label+":") + " " + d.Value + "\n")
		}
	default:
		body(e.Text)
		if e.Image != nil {
			b.WriteString("  " + dimStyle.Render("[image] "+util.FirstNonEmpty(e.Image.URL, e.Image.Path)) + "\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// renderTimeline 渲染全部 entry, 条目之间空一行。
func renderTimeline(entries []timeline.Entry, width int) string {
	if len(entries) == 0 {
		return dimStyle.Render("No messages yet.")
	}
	parts := make([]string, 0, len(entries))
	for _, e := range entries {
		parts = append(parts, renderEntry(e, width))
	}
	return truncateLines(strings.Join(parts, "\n\n"), width)
}

func renderTabs(active timeline.View) string {
	var tabs []string
	for _, v := range []timeline.View{timeline.ViewPreview, timeline.ViewLayouts, timeline.ViewCode} {
		if v == active {
			tabs = append(tabs, tabActiveStyle.Render(string(v)))
		} else {
			tabs = append(tabs, tabInactiveStyle.Render(string(v)))
		}
	}
	return strings.Join(tabs, " ")
}

// renderStatus 状态栏: 连接、epoch、忙碌/工具、图片进度、待决布局、文件状态。
func renderStatus(st engine.Status, width int) string {
	var parts []string
	if st.Connected {
		parts = append(parts, "● live")
	} else {
		parts = append(parts, "○ offline")
	}
	if st.Session == nil {
		parts = append(parts, "no presentation")
	} else {
		s := st.Session
		parts = append(parts, fmt.Sprintf("%s (epoch %d)", s.Presentation, s.Epoch))
		switch {
		case s.ActiveTool != "":
			parts = append(parts, "running "+s.ActiveTool)
		case s.Busy:
			parts = append(parts, "thinking…")
		}
		if s.Progress != nil {
			parts = append(parts, fmt.Sprintf("images %d/%d", s.Progress.Current, s.Progress.Total))
		}
		if s.PendingLayout != nil {
			parts = append(parts, fmt.Sprintf("choose layout (%d options)", len(s.PendingLayout.Layouts)))
		}
		if s.File.Path != "" {
			f := s.File.Path
			if s.File.Dirty {
				f += " *"
			}
			if s.File.Stale {
				f += " (changed on disk)"
			}
			parts = append(parts, f)
		}
	}
	line := " " + strings.Join(parts, " │ ")
	return statusBarStyle.Width(width).Render(ansi.Truncate(line, width, "…"))
}

// truncateLines 按终端宽度截断每一行, 避免缩放时折行。
func truncateLines(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = ansi.Truncate(line, width, "")
		}
	}
	return strings.Join(lines, "\n")
}

// wrapText 按宽度折行, 保留原有换行; 过长的单词硬切。
func wrapText(s string, width int) []string {
	if width <= 0 {
		width = 80
	}
	var out []string
	for _, para := range strings.Split(s, "\n") {
		out = append(out, wrapParagraph(para, width)...)
	}
	return out
}

func wrapParagraph(s string, width int) []string {
	if lipgloss.Width(s) <= width {
		return []string{s}
	}
	var lines []string
	var cur []rune
	curWidth := 0
	flush := func() {
		lines = append(lines, strings.TrimRight(string(cur), " "))
		cur, curWidth = cur[:0], 0
	}
	for _, word := range strings.Fields(s) {
		w := []rune(word)
		for len(w) > width {
			if curWidth > 0 {
				flush()
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		need := len(w)
		if curWidth > 0 {
			need++
		}
		if curWidth+need > width {
			flush()
			need = len(w)
		}
		if curWidth > 0 {
			cur = append(cur, ' ')
		}
		cur = append(cur, w...)
		curWidth += need
	}
	if curWidth > 0 {
		flush()
	}
	return lines
}
