package tui

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

// Controller TUI 依赖的引擎操作 (*engine.Engine 实现)。
type Controller interface {
	Timeline() ([]timeline.Entry, uint64, error)
	Status() engine.Status
	Open(ctx context.Context, name string, discard bool) (*engine.OpenResult, error)
	Close(ctx context.Context, discard bool) error
	Chat(ctx context.Context, message string) error
	SelectCandidate(ctx context.Context, slug string, index int) (timeline.Selection, error)
	ChooseLayout(ctx context.Context, name string) error
	SwitchView(ctx context.Context, target string, slide *int) (timeline.View, error)
	OpenFile(ctx context.Context, path string, discard bool) (timeline.FileSnapshot, error)
	SaveFile(ctx context.Context) (*backend.SaveResult, error)
	CloseFile(discard bool) error
}

var _ Controller = (*engine.Engine)(nil)

// command 输入框一行解析后的动作。
type command struct {
	name    string
	args    []string
	discard bool
	text    string
}

// parseCommand 以 "/" 开头的是命令, 其余作为聊天消息。
// 命令名后缀 "!" 表示丢弃未保存修改。
func parseCommand(line string) (command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return command{}, apperrors.New("tui.parseCommand", "empty input")
	}
	if !strings.HasPrefix(line, "/") || strings.HasPrefix(line, "//") {
		return command{name: "chat", text: strings.TrimPrefix(line, "/")}, nil
	}
	fields := strings.Fields(line[1:])
	if len(fields) == 0 {
		return command{}, apperrors.New("tui.parseCommand", "missing command name")
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:]}
	if strings.HasSuffix(cmd.name, "!") {
		cmd.discard = true
		cmd.name = strings.TrimSuffix(cmd.name, "!")
	}
	cmd.text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line[1:]), fields[0]))

	switch cmd.name {
	case "open", "file", "layout":
		if cmd.text == "" {
			return command{}, apperrors.Newf("tui.parseCommand", "/%s needs an argument", cmd.name)
		}
	case "view":
		if len(cmd.args) == 0 || len(cmd.args) > 2 {
			return command{}, apperrors.New("tui.parseCommand", "usage: /view preview|layouts|code [slide]")
		}
	case "select":
		if len(cmd.args) == 0 || len(cmd.args) > 2 {
			return command{}, apperrors.New("tui.parseCommand", "usage: /select [slug] <index>")
		}
	case "close", "save", "discard":
	default:
		return command{}, apperrors.Newf("tui.parseCommand", "unknown command /%s", cmd.name)
	}
	return cmd, nil
}

// run 执行命令并返回给状态栏的提示。
func (c command) run(ctx context.Context, ctl Controller) (string, error) {
	switch c.name {
	case "chat":
		if err := ctl.Chat(ctx, c.text); err != nil {
			return "", err
		}
		return "sent", nil
	case "open":
		res, err := ctl.Open(ctx, c.text, c.discard)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("opened %s (%d history items)", res.Presentation, res.Replay.Applied), nil
	case "close":
		if err := ctl.Close(ctx, c.discard); err != nil {
			return "", err
		}
		return "presentation closed", nil
	case "view":
		var slide *int
		if len(c.args) == 2 {
			n, err := strconv.Atoi(c.args[1])
			if err != nil {
				return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "tui.view", "bad slide %q", c.args[1])
			}
			slide = &n
		}
		v, err := ctl.SwitchView(ctx, c.args[0], slide)
		if err != nil {
			return "", err
		}
		return "view: " + string(v), nil
	case "select":
		slug, raw := "", c.args[0]
		if len(c.args) == 2 {
			slug, raw = c.args[0], c.args[1]
		}
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return "", apperrors.Wrapf(apperrors.ErrInvalidInput, "tui.select", "bad index %q", raw)
		}
		sel, err := ctl.SelectCandidate(ctx, slug, idx)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("selected candidate %d of %s", sel.Index, sel.Slug), nil
	case "layout":
		if err := ctl.ChooseLayout(ctx, c.text); err != nil {
			return "", err
		}
		return "layout: " + c.text, nil
	case "file":
		snap, err := ctl.OpenFile(ctx, c.text, c.discard)
		if err != nil {
			return "", err
		}
		return "editing " + snap.Path, nil
	case "save":
		res, err := ctl.SaveFile(ctx)
		if err != nil {
			return "", err
		}
		if res != nil && res.Compile != nil && !res.Compile.Success {
			return "saved, compilation failed", nil
		}
		return "saved", nil
	case "discard":
		if err := ctl.CloseFile(true); err != nil {
			return "", err
		}
		return "file closed", nil
	}
	return "", apperrors.Newf("tui.run", "unknown command %q", c.name)
}

// nextView tab 键循环顺序。
func nextView(v timeline.View) timeline.View {
	switch v {
	case timeline.ViewPreview:
		return timeline.ViewLayouts
	case timeline.ViewLayouts:
		return timeline.ViewCode
	default:
		return timeline.ViewPreview
	}
}
