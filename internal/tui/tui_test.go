package tui

import (
	"context"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/multi-agent/deckstudio/internal/backend"
	"github.com/multi-agent/deckstudio/internal/engine"
	"github.com/multi-agent/deckstudio/internal/hub"
	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

type fakeController struct {
	entries []timeline.Entry
	state   *timeline.State
	calls   []string
	chatErr error
}

func (f *fakeController) Timeline() ([]timeline.Entry, uint64, error) {
	if f.state == nil {
		return nil, 0, apperrors.Wrap(apperrors.ErrNoPresentation, "fake", "none")
	}
	return f.entries, f.state.Epoch, nil
}

func (f *fakeController) Status() engine.Status {
	return engine.Status{Connected: true, Session: f.state}
}

func (f *fakeController) Open(_ context.Context, name string, discard bool) (*engine.OpenResult, error) {
	f.calls = append(f.calls, "open:"+name)
	if f.state != nil && f.state.File.Dirty && !discard {
		return nil, apperrors.Wrap(apperrors.ErrDeclined, "fake", "dirty")
	}
	f.state = &timeline.State{Presentation: name, Epoch: 1, View: timeline.ViewPreview}
	return &engine.OpenResult{Presentation: name, Epoch: 1, Replay: timeline.ReplayStats{Applied: 2}}, nil
}

func (f *fakeController) Close(context.Context, bool) error {
	f.calls = append(f.calls, "close")
	f.state = nil
	return nil
}

func (f *fakeController) Chat(_ context.Context, msg string) error {
	f.calls = append(f.calls, "chat:"+msg)
	return f.chatErr
}

func (f *fakeController) SelectCandidate(_ context.Context, slug string, index int) (timeline.Selection, error) {
	f.calls = append(f.calls, "select")
	return timeline.Selection{Slug: "b1", Index: index}, nil
}

func (f *fakeController) ChooseLayout(_ context.Context, name string) error {
	f.calls = append(f.calls, "layout:"+name)
	return nil
}

func (f *fakeController) SwitchView(_ context.Context, target string, _ *int) (timeline.View, error) {
	f.calls = append(f.calls, "view:"+target)
	v, ok := timeline.ParseView(target)
	if !ok {
		return "", apperrors.Wrap(apperrors.ErrInvalidInput, "fake", "bad view")
	}
	if f.state != nil {
		f.state.View = v
	}
	return v, nil
}

func (f *fakeController) OpenFile(_ context.Context, path string, _ bool) (timeline.FileSnapshot, error) {
	f.calls = append(f.calls, "file:"+path)
	return timeline.FileSnapshot{Path: path, State: timeline.FileClean}, nil
}

func (f *fakeController) SaveFile(context.Context) (*backend.SaveResult, error) {
	f.calls = append(f.calls, "save")
	return &backend.SaveResult{Success: true}, nil
}

func (f *fakeController) CloseFile(bool) error {
	f.calls = append(f.calls, "closefile")
	return nil
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		in      string
		name    string
		discard bool
		text    string
		wantErr bool
	}{
		{in: "make slide 2 blue", name: "chat", text: "make slide 2 blue"},
		{in: "//not a command", name: "chat", text: "/not a command"},
		{in: "/open  q3 review ", name: "open", text: "q3 review"},
		{in: "/open! demo", name: "open", discard: true, text: "demo"},
		{in: "/view code 3", name: "view"},
		{in: "/select b1 2", name: "select"},
		{in: "/layout Two Column", name: "layout", text: "Two Column"},
		{in: "/save", name: "save"},
		{in: "/open", wantErr: true},
		{in: "/view", wantErr: true},
		{in: "/bogus", wantErr: true},
		{in: "   ", wantErr: true},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseCommand(%q) = %+v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseCommand(%q): %v", tt.in, err)
			continue
		}
		if got.name != tt.name || got.discard != tt.discard || (tt.text != "" && got.text != tt.text) {
			t.Errorf("parseCommand(%q) = %+v", tt.in, got)
		}
	}
}

func TestCommandRun(t *testing.T) {
	ctl := &fakeController{}
	ctx := context.Background()

	for _, line := range []string{"/open demo", "/view code 2", "/select 1", "/layout Title", "/file notes.md", "/save", "/discard", "hello"} {
		cmd, err := parseCommand(line)
		if err != nil {
			t.Fatalf("parse %q: %v", line, err)
		}
		if _, err := cmd.run(ctx, ctl); err != nil {
			t.Fatalf("run %q: %v", line, err)
		}
	}
	want := []string{"open:demo", "view:code", "select", "layout:Title", "file:notes.md", "save", "closefile", "chat:hello"}
	if strings.Join(ctl.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls = %v, want %v", ctl.calls, want)
	}

	cmd, _ := parseCommand("/select b1 x")
	if _, err := cmd.run(ctx, ctl); !apperrors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("bad index err = %v", err)
	}
}

func TestNextView(t *testing.T) {
	if nextView(timeline.ViewPreview) != timeline.ViewLayouts ||
		nextView(timeline.ViewLayouts) != timeline.ViewCode ||
		nextView(timeline.ViewCode) != timeline.ViewPreview {
		t.Fatal("unexpected view cycle")
	}
}

func TestRenderEntry(t *testing.T) {
	verdict := "Text overflows the title box"
	entries := []timeline.Entry{
		{ID: 1, Role: timeline.RoleUser, Kind: timeline.KindText, Text: "draw a cat"},
		{ID: 2, Role: timeline.RoleSystem, Kind: timeline.KindText, Text: "Backend unreachable", IsError: true},
		{ID: 3, Role: timeline.RoleModel, Kind: timeline.KindImageCandidate, Candidate: &timeline.Candidate{Slug: "b1", Index: 1, ImagePath: "/d/1.png", Selected: true}},
		{ID: 4, Role: timeline.RoleTool, Kind: timeline.KindToolInvocation, Tool: &timeline.ToolInvocation{Name: "edit_slide", Parsed: timeline.ParsedToolResult{MainOutput: "ok"}}},
		{ID: 5, Role: timeline.RoleTool, Kind: timeline.KindVisualQAReport, QA: &timeline.VisualQAReport{IsCritical: true, Verdict: &verdict}},
		{ID: 6, Role: timeline.RoleModel, Kind: timeline.KindDetailsAttachment, Details: []timeline.Detail{{Label: "Prompt", Value: "a cat"}}},
	}
	out := renderTimeline(entries, 60)
	for _, want := range []string{"draw a cat", "Backend unreachable", "candidate 1", "edit_slide", verdict, "Prompt:"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendered timeline missing %q:\n%s", want, out)
		}
	}
	if got := renderTimeline(nil, 60); !strings.Contains(got, "No messages") {
		t.Fatalf("empty timeline = %q", got)
	}
}

func TestToolOutputIsClipped(t *testing.T) {
	out := strings.Repeat("row\n", 20)
	e := timeline.Entry{ID: 1, Role: timeline.RoleTool, Kind: timeline.KindToolInvocation, Tool: &timeline.ToolInvocation{Name: "t", Display: out}}
	got := renderEntry(e, 80)
	if strings.Count(got, "row") != maxToolLines || !strings.Contains(got, "more lines") {
		t.Fatalf("clipped output = %q", got)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("the quick brown fox jumps", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Fatalf("line %q exceeds width", l)
		}
	}
	if strings.Join(lines, " ") != "the quick brown fox jumps" {
		t.Fatalf("wrapped = %q", lines)
	}
	if got := wrapText("abcdefghijkl", 5); len(got) != 3 || got[0] != "abcde" {
		t.Fatalf("hard split = %q", got)
	}
	if got := wrapText("a\nb", 10); len(got) != 2 {
		t.Fatalf("newline split = %q", got)
	}
}

func TestRenderStatus(t *testing.T) {
	st := engine.Status{Session: &timeline.State{
		Presentation: "demo",
		Epoch:        3,
		Busy:         true,
		ActiveTool:   "render",
		File:         timeline.FileSnapshot{Path: "deck.marp.md", Dirty: true},
	}}
	got := renderStatus(st, 200)
	for _, want := range []string{"offline", "demo (epoch 3)", "running render", "deck.marp.md *"} {
		if !strings.Contains(got, want) {
			t.Errorf("status missing %q: %q", want, got)
		}
	}
}

func sized(t *testing.T, m tea.Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func TestModelSubmitRunsCommand(t *testing.T) {
	ctl := &fakeController{}
	m := sized(t, New(ctl, nil))

	if !strings.Contains(m.View(), "no presentation") {
		t.Fatalf("initial view:\n%s", m.View())
	}

	m.input.SetValue("/open demo")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected command")
	}
	if m.input.Value() != "" {
		t.Fatalf("input not cleared: %q", m.input.Value())
	}
	next, _ = m.Update(cmd())
	m = next.(Model)
	if m.noteErr || !strings.Contains(m.note, "opened demo") {
		t.Fatalf("note = %q err=%v", m.note, m.noteErr)
	}
	if !strings.Contains(m.View(), "demo (epoch 1)") {
		t.Fatalf("view after open:\n%s", m.View())
	}

	// tab 切到下一个视图
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyTab})
	m = next.(Model)
	next, _ = m.Update(cmd())
	m = next.(Model)
	if ctl.state.View != timeline.ViewLayouts {
		t.Fatalf("view = %s", ctl.state.View)
	}
}

func TestModelShowsErrors(t *testing.T) {
	ctl := &fakeController{chatErr: apperrors.Wrap(apperrors.ErrNoPresentation, "fake", "none")}
	m := sized(t, New(ctl, nil))

	m.input.SetValue("hello")
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	next, _ = m.Update(cmd())
	m = next.(Model)
	if !m.noteErr || !strings.Contains(m.note, "/open") {
		t.Fatalf("note = %q", m.note)
	}

	m.input.SetValue("/bogus")
	next, cmd = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = next.(Model)
	if cmd != nil || !m.noteErr {
		t.Fatalf("unknown command should fail locally: cmd=%v note=%q", cmd, m.note)
	}
}

func TestModelReloadsOnHubMessage(t *testing.T) {
	h := hub.New(8)
	sub := h.Subscribe("tui")
	ctl := &fakeController{state: &timeline.State{Presentation: "demo", Epoch: 1}}
	m := sized(t, New(ctl, sub))

	ctl.entries = []timeline.Entry{{ID: 1, Role: timeline.RoleModel, Kind: timeline.KindText, Text: "fresh reply"}}
	h.Publish(hub.Message{Type: hub.TypeAppend, Epoch: 1})

	msg := waitForMessage(sub)()
	next, cmd := m.Update(msg)
	m = next.(Model)
	if cmd == nil {
		t.Fatal("expected to keep listening")
	}
	if !strings.Contains(m.View(), "fresh reply") {
		t.Fatalf("view:\n%s", m.View())
	}
}

func TestModelShowsNotice(t *testing.T) {
	h := hub.New(8)
	sub := h.Subscribe("tui")
	ctl := &fakeController{state: &timeline.State{Presentation: "demo", Epoch: 1}}
	m := sized(t, New(ctl, sub))

	h.Publish(hub.Message{Type: hub.TypeNotice, Epoch: 1, Data: hub.Notice{Text: "deck.marp.md changed on disk", Error: true}})
	next, _ := m.Update(waitForMessage(sub)())
	m = next.(Model)
	if m.note != "deck.marp.md changed on disk" || !m.noteErr {
		t.Fatalf("note = %q err=%v", m.note, m.noteErr)
	}
	if !strings.Contains(m.View(), "changed on disk") {
		t.Fatalf("view:\n%s", m.View())
	}
}
