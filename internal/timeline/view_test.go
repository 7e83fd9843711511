package timeline

import (
	"reflect"
	"testing"
)

func TestViewMachineInitial(t *testing.T) {
	if got := NewViewMachine("").Active(); got != ViewPreview {
		t.Fatalf("initial = %s, want preview", got)
	}
	if got := NewViewMachine(ViewCode).Active(); got != ViewCode {
		t.Fatalf("restored = %s, want code", got)
	}
}

func TestViewMachineEntryActions(t *testing.T) {
	slide := 3
	tests := []struct {
		name   string
		target View
		opts   SwitchOptions
		want   []Effect
	}{
		{"layouts", ViewLayouts, SwitchOptions{}, []Effect{PersistView{View: ViewLayouts}, RequestLayouts{}}},
		{"code_no_file", ViewCode, SwitchOptions{DefaultFile: DefaultFile}, []Effect{PersistView{View: ViewCode}, RequestFileTree{}, OpenDefaultFile{Path: DefaultFile}}},
		{"code_file_open", ViewCode, SwitchOptions{FileOpen: true, DefaultFile: DefaultFile}, []Effect{PersistView{View: ViewCode}, RequestFileTree{}}},
		{"preview_slide", ViewPreview, SwitchOptions{Slide: &slide}, []Effect{PersistView{View: ViewPreview}, RefreshPreview{Slide: &slide}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewViewMachine(ViewPreview)
			got, err := m.SwitchTo(tt.target, tt.opts)
			if err != nil {
				t.Fatalf("SwitchTo: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("effects = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestViewMachineSameTargetRerunsEntry(t *testing.T) {
	m := NewViewMachine(ViewPreview)
	got, _ := m.SwitchTo(ViewPreview, SwitchOptions{})
	if len(got) != 2 {
		t.Fatalf("effects = %#v, want persist + refresh", got)
	}
}

func TestViewMachineExclusivity(t *testing.T) {
	m := NewViewMachine(ViewPreview)
	seq := []View{ViewCode, ViewLayouts, "bogus", ViewLayouts, ViewPreview, "CODE", ""}
	valid := map[View]bool{ViewPreview: true, ViewLayouts: true, ViewCode: true}
	prev := m.Active()
	for _, v := range seq {
		_, err := m.SwitchTo(v, SwitchOptions{})
		if err != nil && m.Active() != prev {
			t.Fatalf("failed switch to %q changed view to %s", v, m.Active())
		}
		if !valid[m.Active()] {
			t.Fatalf("active view %q not in the closed set", m.Active())
		}
		prev = m.Active()
	}
	if m.Active() != ViewCode {
		t.Fatalf("final = %s, want code", m.Active())
	}
}

func TestParseView(t *testing.T) {
	if v, ok := ParseView(" Layouts "); !ok || v != ViewLayouts {
		t.Fatalf("ParseView = (%q, %v)", v, ok)
	}
	if _, ok := ParseView("images"); ok {
		t.Fatal("images is not a view")
	}
}
