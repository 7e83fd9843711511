// errors_test.go — 验证 AppError / Wrap / CodeOf 的行为契约。
package errors

import (
	"errors"
	"io"
	"strings"
	"testing"
)

// TestWrapUnwrap 验证 Wrap 保留原始错误链，errors.Is 和 errors.As 正常工作。
func TestWrapUnwrap(t *testing.T) {
	wrapped := Wrap(ErrDeclined, "FileSession.Open", "discard edits declined")

	if !errors.Is(wrapped, ErrDeclined) {
		t.Errorf("errors.Is(wrapped, ErrDeclined) = false, want true")
	}
	if errors.Is(wrapped, ErrTimeout) {
		t.Errorf("errors.Is(wrapped, ErrTimeout) = true, want false")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatalf("errors.As failed to extract *AppError")
	}
	if appErr.Op != "FileSession.Open" {
		t.Errorf("Op = %q, want %q", appErr.Op, "FileSession.Open")
	}
}

// TestWrapErrorString 验证 Error() 输出包含 op、message 和 cause。
func TestWrapErrorString(t *testing.T) {
	wrapped := Wrap(io.ErrUnexpectedEOF, "Backend.Load", "read failed")

	s := wrapped.Error()
	for _, want := range []string{"Backend.Load", "read failed", "unexpected EOF"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
}

func TestNewWithoutCause(t *testing.T) {
	err := Newf("Tracker.Select", "index %d never offered", 7)
	if got := err.Error(); got != "Tracker.Select: index 7 never offered" {
		t.Fatalf("Error() = %q", got)
	}
	if errors.Unwrap(err) != nil {
		t.Fatal("Newf should not carry a cause")
	}
}

func TestCodeOf(t *testing.T) {
	inner := WithCode(ErrNotDirty, "FileSession.Save", "VALIDATION", "nothing to save")
	outer := Wrap(inner, "Engine.SaveFile", "save")

	if got := CodeOf(outer); got != "VALIDATION" {
		t.Fatalf("CodeOf = %q, want VALIDATION", got)
	}
	if !Is(outer, ErrNotDirty) {
		t.Fatal("sentinel lost through two wraps")
	}
	if got := CodeOf(io.EOF); got != "" {
		t.Fatalf("CodeOf(plain) = %q, want empty", got)
	}
}
