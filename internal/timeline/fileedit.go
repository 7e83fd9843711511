// fileedit.go — 单个打开文件的编辑会话与未保存修改守卫。
package timeline

import (
	"path/filepath"
	"strings"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

// FileState 编辑会话状态。
type FileState string

const (
	FileClosed FileState = "closed"
	FileClean  FileState = "clean"
	FileDirty  FileState = "dirty"
)

// FileSnapshot 编辑会话的只读视图。
type FileSnapshot struct {
	State      FileState `json:"state"`
	Path       string    `json:"path,omitempty"`
	Language   string    `json:"language,omitempty"`
	Content    string    `json:"content,omitempty"`
	Dirty      bool      `json:"dirty"`
	Stale      bool      `json:"stale,omitempty"`
	Generation uint64    `json:"generation"`
}

// Confirmer 丢弃未保存修改前向用户确认。nil 视为拒绝。
type Confirmer func(current FileSnapshot) bool

// Always 无条件确认。
func Always(FileSnapshot) bool { return true }

// OpenTicket 一次进行中的加载, 完成时按 Generation 做身份校验。
type OpenTicket struct {
	Path       string
	Generation uint64
	Reload     bool

	// base 发出 ticket 时的内容; 之后的编辑不能被新文件静默覆盖
	base string
}

// SaveTicket 一次进行中的保存。
type SaveTicket struct {
	Path       string
	Content    string
	Generation uint64
}

// FileSession 至多一个打开的文件。
type FileSession struct {
	state      FileState
	path       string
	language   string
	content    string
	stale      bool
	generation uint64
}

// NewFileSession 初始为 closed。
func NewFileSession() *FileSession {
	return &FileSession{state: FileClosed}
}

// Snapshot 当前状态副本。
func (f *FileSession) Snapshot() FileSnapshot {
	return FileSnapshot{
		State:      f.state,
		Path:       f.path,
		Language:   f.language,
		Content:    f.content,
		Dirty:      f.state == FileDirty,
		Stale:      f.stale,
		Generation: f.generation,
	}
}

// IsOpen 是否有打开的文件。
func (f *FileSession) IsOpen() bool { return f.state != FileClosed }

// Path 当前文件路径。
func (f *FileSession) Path() string { return f.path }

// BeginOpen 开始打开 path。dirty 时必须经 confirm 同意, 拒绝则会话不变并返回 ErrDeclined。
func (f *FileSession) BeginOpen(path string, confirm Confirmer) (OpenTicket, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return OpenTicket{}, apperrors.Wrap(apperrors.ErrInvalidInput, "FileSession.BeginOpen", "empty path")
	}
	if f.state == FileDirty && (confirm == nil || !confirm(f.Snapshot())) {
		return OpenTicket{}, apperrors.Wrapf(apperrors.ErrDeclined, "FileSession.BeginOpen", "unsaved changes in %s", f.path)
	}
	f.generation++
	return OpenTicket{Path: path, Generation: f.generation, base: f.content}, nil
}

// BeginReload 外部修改后重新加载当前文件, 仅 clean 状态允许。
func (f *FileSession) BeginReload() (OpenTicket, bool) {
	if f.state != FileClean {
		return OpenTicket{}, false
	}
	f.generation++
	return OpenTicket{Path: f.path, Generation: f.generation, Reload: true, base: f.content}, true
}

// CompleteOpen 加载完成。ticket 已过期 (期间又有 open/close) 返回 ErrStale;
// 加载期间当前文件又被编辑时保留编辑并返回 ErrDeclined, 需要重新确认后再打开。
func (f *FileSession) CompleteOpen(t OpenTicket, content string) error {
	if t.Generation != f.generation {
		return apperrors.Wrapf(apperrors.ErrStale, "FileSession.CompleteOpen", "late content for %s", t.Path)
	}
	if t.Reload && f.state == FileDirty {
		f.stale = true
		return apperrors.Wrapf(apperrors.ErrStale, "FileSession.CompleteOpen", "%s edited during reload", t.Path)
	}
	if f.state == FileDirty && f.content != t.base {
		return apperrors.Wrapf(apperrors.ErrDeclined, "FileSession.CompleteOpen", "unsaved changes in %s made while opening %s", f.path, t.Path)
	}
	f.state = FileClean
	f.path = t.Path
	f.language = DetectLanguage(t.Path)
	f.content = content
	f.stale = false
	return nil
}

// Edit 修改内容, 任何变化都会进入 dirty。
func (f *FileSession) Edit(content string) error {
	if f.state == FileClosed {
		return apperrors.Wrap(apperrors.ErrNoOpenFile, "FileSession.Edit", "no open file")
	}
	if content == f.content {
		return nil
	}
	f.content = content
	f.state = FileDirty
	return nil
}

// BeginSave 只在 dirty 时有效。
func (f *FileSession) BeginSave() (SaveTicket, error) {
	switch f.state {
	case FileClosed:
		return SaveTicket{}, apperrors.Wrap(apperrors.ErrNoOpenFile, "FileSession.BeginSave", "no open file")
	case FileClean:
		return SaveTicket{}, apperrors.Wrapf(apperrors.ErrNotDirty, "FileSession.BeginSave", "%s has no unsaved changes", f.path)
	}
	return SaveTicket{Path: f.path, Content: f.content, Generation: f.generation}, nil
}

// CompleteSave 保存成功。保存期间内容又被修改时保持 dirty。
func (f *FileSession) CompleteSave(t SaveTicket) error {
	if t.Generation != f.generation || t.Path != f.path {
		return apperrors.Wrapf(apperrors.ErrStale, "FileSession.CompleteSave", "late save ack for %s", t.Path)
	}
	f.stale = false
	if f.content == t.Content {
		f.state = FileClean
	}
	return nil
}

// Close 关闭会话, dirty 时与 BeginOpen 走同一确认门。
func (f *FileSession) Close(confirm Confirmer) error {
	if f.state == FileDirty && (confirm == nil || !confirm(f.Snapshot())) {
		return apperrors.Wrapf(apperrors.ErrDeclined, "FileSession.Close", "unsaved changes in %s", f.path)
	}
	f.generation++
	f.state = FileClosed
	f.path, f.language, f.content = "", "", ""
	f.stale = false
	return nil
}

// ExternalChange 磁盘上的文件被外部修改。clean 时返回 true 表示应重新加载;
// dirty 时只标记 stale, 从不覆盖本地修改。
func (f *FileSession) ExternalChange(path string) bool {
	if f.state == FileClosed || !samePath(path, f.path) {
		return false
	}
	if f.state == FileDirty {
		f.stale = true
		return false
	}
	return true
}

func samePath(a, b string) bool {
	a, b = filepath.Clean(a), filepath.Clean(b)
	return a == b || strings.HasSuffix(a, string(filepath.Separator)+b) || strings.HasSuffix(b, string(filepath.Separator)+a)
}

var languageByExt = map[string]string{
	".md":       "markdown",
	".markdown": "markdown",
	".json":     "json",
	".html":     "html",
	".css":      "css",
	".js":       "javascript",
	".py":       "python",
	".yaml":     "yaml",
	".yml":      "yaml",
}

// DetectLanguage 按扩展名推断编辑器语言, 未知为 text。
func DetectLanguage(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return "text"
}
