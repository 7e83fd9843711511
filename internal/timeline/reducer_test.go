package timeline

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

func TestReduceToolEndWithVisualQA(t *testing.T) {
	s := newTestSession()
	raw := strings.Repeat("x", 100) + "\n" + VisualQADelimiter + "\nISSUES FOUND\nDESCRIPTION: overflow\nVERDICT: split slide"
	Reduce(s, ToolEnd{Tool: "write_file", Args: map[string]any{"path": "deck.marp.md"}, Result: raw})

	entries := s.Timeline.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want tool + qa", len(entries))
	}
	tool := entries[0].Tool
	if tool.RawResult != raw {
		t.Fatal("RawResult must be kept untouched")
	}
	if tool.Parsed.MainOutput != strings.Repeat("x", 100) {
		t.Fatalf("MainOutput = %q", tool.Parsed.MainOutput)
	}
	if !tool.Truncated || len(tool.Display) != 40 {
		t.Fatalf("Display len = %d truncated = %v", len(tool.Display), tool.Truncated)
	}
	qa := entries[1].QA
	if entries[1].Kind != KindVisualQAReport || qa == nil || !qa.IsCritical || *qa.Verdict != "split slide" {
		t.Fatalf("qa entry = %+v", entries[1])
	}
}

func TestReduceToolEndPlain(t *testing.T) {
	s := newTestSession()
	Reduce(s, ToolStart{Tool: "list_files"})
	if s.ActiveTool != "list_files" {
		t.Fatalf("ActiveTool = %q", s.ActiveTool)
	}
	Reduce(s, ToolEnd{Tool: "list_files", Result: "a.md"})
	if s.ActiveTool != "" {
		t.Fatal("ActiveTool not cleared")
	}
	if n := s.Timeline.Len(); n != 1 {
		t.Fatalf("entries = %d, want 1", n)
	}
}

func TestReduceToolError(t *testing.T) {
	s := newTestSession()
	Reduce(s, ToolError{Tool: "compile", Error: "boom"})
	e, _ := s.Timeline.Last()
	if !e.IsError || e.Kind != KindText || !strings.Contains(e.Text, "boom") {
		t.Fatalf("entry = %+v", e)
	}
}

func TestReduceBusyFlags(t *testing.T) {
	s := newTestSession()
	Reduce(s, ThinkingStart{})
	if !s.Busy {
		t.Fatal("busy not set")
	}
	Reduce(s, ThinkingEnd{})
	if s.Busy {
		t.Fatal("busy not cleared")
	}
	Reduce(s, GeneratingImagesStart{Prompt: "a dog"})
	if !s.Busy || s.LastPrompt != "a dog" {
		t.Fatalf("busy=%v prompt=%q", s.Busy, s.LastPrompt)
	}
	Reduce(s, ImageProgressPayload{Current: 1, Total: 4})
	if s.Progress == nil || s.Progress.Total != 4 {
		t.Fatalf("Progress = %+v", s.Progress)
	}
	Reduce(s, ImagesReady{})
	if s.Busy || s.Progress != nil {
		t.Fatal("images_ready should clear busy and progress")
	}
	if s.Timeline.Len() != 0 {
		t.Fatal("busy events must not append entries")
	}
}

func TestReduceDuplicateDeliveries(t *testing.T) {
	s := newTestSession()
	req := ImageRequestDetails{BatchSlug: "b1", UserMessage: "a cat"}
	cand := ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"}
	Reduce(s, req)
	Reduce(s, cand)
	Reduce(s, req)
	Reduce(s, cand)
	if n := s.Timeline.Len(); n != 2 {
		t.Fatalf("entries = %d, want 2 after duplicate delivery", n)
	}
}

func TestReduceSlugCollisionKeepsBatch(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageRequestDetails{BatchSlug: "b1", UserMessage: "a cat"})
	Reduce(s, ImageRequestDetails{BatchSlug: "b1", UserMessage: "a dog"})
	if n := s.Timeline.Len(); n != 1 {
		t.Fatalf("entries = %d, want the colliding request dropped", n)
	}
	b, _ := s.Batches.Get("b1")
	if b.Prompt != "a cat" {
		t.Fatalf("Prompt = %q", b.Prompt)
	}
}

func TestReduceCandidateBeforeBatch(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageCandidatePayload{BatchSlug: "orphan", Index: 0, ImagePath: "/a.png"})
	if _, ok := s.Batches.Get("orphan"); !ok {
		t.Fatal("batch not created implicitly")
	}
	e, _ := s.Timeline.Last()
	if e.Kind != KindImageCandidate || e.Candidate.Slug != "orphan" {
		t.Fatalf("entry = %+v", e)
	}
}

func TestReduceSelectionPatchesEntries(t *testing.T) {
	s := newTestSession()
	for i, p := range []string{"/a.png", "/b.png", "/c.png"} {
		Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: i, ImagePath: p})
	}
	for _, idx := range []int{0, 2, 1} {
		i := idx
		Reduce(s, ImageSelectedPayload{BatchSlug: "b1", Index: &i})
	}
	selected := 0
	for _, e := range s.Timeline.Entries() {
		if e.Kind == KindImageCandidate && e.Candidate.Selected {
			selected++
			if e.Candidate.Index != 1 {
				t.Fatalf("selected index = %d, want 1", e.Candidate.Index)
			}
		}
	}
	if selected != 1 {
		t.Fatalf("selected entries = %d, want exactly 1", selected)
	}
}

func TestReduceUnknownSelectionIgnored(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"})
	bad := 5
	Reduce(s, ImageSelectedPayload{BatchSlug: "b1", Index: &bad})
	b, _ := s.Batches.Get("b1")
	if b.SelectedIndex != nil {
		t.Fatalf("SelectedIndex = %d, want unset", *b.SelectedIndex)
	}
}

func TestReducePresentationUpdated(t *testing.T) {
	s := newTestSession()
	_, _ = s.SwitchView(ViewCode, nil)
	slide := 2
	effects := Reduce(s, PresentationUpdated{Slide: &slide})
	if s.View.Active() != ViewPreview {
		t.Fatalf("view = %s, want preview", s.View.Active())
	}
	want := []Effect{PersistView{View: ViewPreview}, RefreshPreview{Slide: &slide}}
	if !reflect.DeepEqual(effects, want) {
		t.Fatalf("effects = %#v", effects)
	}
}

func TestReduceMessages(t *testing.T) {
	s := newTestSession()
	Reduce(s, MessagePayload{Role: "assistant", Content: "hi"})
	Reduce(s, MessagePayload{Role: "system", Content: "[SYSTEM] hidden"})
	Reduce(s, MessagePayload{Role: "user", Content: "   "})
	Reduce(s, ErrorPayload{Message: "backend down"})
	entries := s.Timeline.Entries()
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Role != RoleModel {
		t.Fatalf("role = %s, want model", entries[0].Role)
	}
	if !entries[1].IsError || entries[1].Text != "backend down" {
		t.Fatalf("error entry = %+v", entries[1])
	}
}

func TestLayoutChoiceAcceptedOnce(t *testing.T) {
	s := newTestSession()
	if _, err := s.ChooseLayout("Title"); !errors.Is(err, apperrors.ErrNoPendingLayout) {
		t.Fatalf("err = %v, want ErrNoPendingLayout", err)
	}
	effects := Reduce(s, LayoutRequest{Layouts: []LayoutOption{{Name: "Title"}, {Name: "Two Column"}}, Title: "Intro"})
	if len(effects) != 1 || effects[0].Kind() != EffectPromptLayout {
		t.Fatalf("effects = %#v", effects)
	}
	if _, err := s.ChooseLayout("Missing"); !errors.Is(err, apperrors.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	effects, err := s.ChooseLayout("Two Column")
	if err != nil {
		t.Fatalf("ChooseLayout: %v", err)
	}
	sel, ok := effects[0].(SelectLayout)
	if !ok || sel.Name != "Two Column" || sel.Request.Title != "Intro" {
		t.Fatalf("effect = %#v", effects[0])
	}
	if _, err := s.ChooseLayout("Title"); !errors.Is(err, apperrors.ErrNoPendingLayout) {
		t.Fatalf("second choice err = %v, want ErrNoPendingLayout", err)
	}
	s.RestoreLayoutRequest(sel.Request, errors.New("503"))
	if s.PendingLayout == nil {
		t.Fatal("request not restored after failed forward")
	}
}

func TestSelectCandidateAndRollback(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageRequestDetails{BatchSlug: "b1", UserMessage: "a cat"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 1, ImagePath: "/b.png"})

	_, effects, err := s.SelectCandidate("", 0)
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	if !reflect.DeepEqual(effects, []Effect{PersistSelection{Slug: "b1", Index: 0}}) {
		t.Fatalf("effects = %#v", effects)
	}

	second, _, err := s.SelectCandidate("b1", 1)
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	s.RollbackSelection(second, errors.New("backend rejected"))

	b, _ := s.Batches.Get("b1")
	if b.SelectedIndex == nil || *b.SelectedIndex != 0 {
		t.Fatalf("SelectedIndex = %v, want rollback to 0", b.SelectedIndex)
	}
	var flags []bool
	for _, e := range s.Timeline.Entries() {
		if e.Kind == KindImageCandidate {
			flags = append(flags, e.Candidate.Selected)
		}
	}
	if !reflect.DeepEqual(flags, []bool{true, false}) {
		t.Fatalf("selected flags = %v", flags)
	}
	last, _ := s.Timeline.Last()
	if !last.IsError {
		t.Fatal("rollback should surface an error entry")
	}
}

func candidateFlags(s *Session) []int {
	var out []int
	for _, e := range s.Timeline.Entries() {
		if e.Kind == KindImageCandidate && e.Candidate.Selected {
			out = append(out, e.Candidate.Index)
		}
	}
	return out
}

func TestRollbackKeepsLaterSelection(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageRequestDetails{BatchSlug: "b1", UserMessage: "a cat"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 1, ImagePath: "/b.png"})

	// 0 仍在提交时用户改选 1 并成功, 之后 0 被后端拒绝
	slow, _, err := s.SelectCandidate("b1", 0)
	if err != nil {
		t.Fatalf("SelectCandidate(0): %v", err)
	}
	if _, _, err := s.SelectCandidate("b1", 1); err != nil {
		t.Fatalf("SelectCandidate(1): %v", err)
	}
	before := s.Timeline.Len()
	s.RollbackSelection(slow, errors.New("backend rejected"))

	b, _ := s.Batches.Get("b1")
	if b.SelectedIndex == nil || *b.SelectedIndex != 1 {
		t.Fatalf("SelectedIndex = %v, want 1", b.SelectedIndex)
	}
	if got := candidateFlags(s); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("selected flags = %v, want [1]", got)
	}
	if s.Timeline.Len() != before+1 {
		t.Fatal("failed selection should still surface an error entry")
	}
}

func TestSelectCandidateRejectsOlderBatch(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageRequestDetails{BatchSlug: "b1", UserMessage: "a cat"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/b1/0.png"})
	Reduce(s, ImageRequestDetails{BatchSlug: "b2", UserMessage: "a dog"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b2", Index: 0, ImagePath: "/b2/0.png"})

	_, effects, err := s.SelectCandidate("b1", 0)
	if !errors.Is(err, apperrors.ErrStale) {
		t.Fatalf("err = %v, want ErrStale", err)
	}
	if len(effects) != 0 {
		t.Fatalf("effects = %#v, want none", effects)
	}
	if b, _ := s.Batches.Get("b1"); b.SelectedIndex != nil {
		t.Fatalf("b1 SelectedIndex = %v", *b.SelectedIndex)
	}
	if _, _, err := s.SelectCandidate("b2", 0); err != nil {
		t.Fatalf("SelectCandidate(b2): %v", err)
	}
}

func TestImageSelectedConfirmsOwnSelection(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageRequestDetails{BatchSlug: "b1", UserMessage: "a cat"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"})
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 1, ImagePath: "/b.png"})

	sel, _, err := s.SelectCandidate("b1", 1)
	if err != nil {
		t.Fatalf("SelectCandidate: %v", err)
	}
	s.RecordSavedSelection(sel, "/deck/images/cat.png", "cat.png")
	before := s.Timeline.Len()

	saved := ImageSelectedPayload{Path: "/deck/images/cat.png", Filename: "cat.png"}
	Reduce(s, saved)
	last, _ := s.Timeline.Last()
	if s.Timeline.Len() != before+1 || last.Text != "Image saved: cat.png" {
		t.Fatalf("last entry = %+v", last)
	}
	// 重复投递不再提示
	Reduce(s, saved)
	if s.Timeline.Len() != before+1 {
		t.Fatal("duplicate image_selected appended another notice")
	}
	if got := candidateFlags(s); !reflect.DeepEqual(got, []int{1}) {
		t.Fatalf("selected flags = %v", got)
	}

	// 事件先于后端响应到达: 按批次内未确认的选择匹配
	second, _, _ := s.SelectCandidate("b1", 0)
	Reduce(s, ImageSelectedPayload{Path: "/deck/images/cat_2.png", Filename: "cat_2.png"})
	s.RecordSavedSelection(second, "/deck/images/cat_2.png", "cat_2.png")
	last, _ = s.Timeline.Last()
	if last.Text != "Image saved: cat_2.png" {
		t.Fatalf("last entry = %+v", last)
	}
	if got := candidateFlags(s); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("selected flags = %v", got)
	}
}

func TestSelectCandidateUnknownIsUserVisible(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"})
	before := s.Timeline.Len()
	if _, _, err := s.SelectCandidate("b1", 7); !errors.Is(err, apperrors.ErrUnknownCandidate) {
		t.Fatalf("err = %v", err)
	}
	if s.Timeline.Len() != before+1 {
		t.Fatal("user-initiated failure should append an error entry")
	}
}

func TestStoreChangesTrackPatches(t *testing.T) {
	s := newTestSession()
	Reduce(s, ImageCandidatePayload{BatchSlug: "b1", Index: 0, ImagePath: "/a.png"})
	s.Timeline.DrainChanges()
	zero := 0
	Reduce(s, ImageSelectedPayload{BatchSlug: "b1", Index: &zero})
	changes := s.Timeline.DrainChanges()
	if len(changes) != 1 || changes[0].Op != ChangePatch || !changes[0].Entry.Candidate.Selected {
		t.Fatalf("changes = %+v", changes)
	}
	if more := s.Timeline.DrainChanges(); len(more) != 0 {
		t.Fatalf("drain not cleared: %+v", more)
	}
}
