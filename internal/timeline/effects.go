package timeline

// EffectKind 出站请求类型。
type EffectKind string

const (
	EffectPersistView     EffectKind = "persist_view"
	EffectRequestLayouts  EffectKind = "request_layouts"
	EffectRequestFileTree EffectKind = "request_file_tree"
	EffectOpenDefaultFile EffectKind = "open_default_file"
	EffectRefreshPreview  EffectKind = "refresh_preview"
	EffectPersistSelect   EffectKind = "persist_selection"
	EffectSelectLayout    EffectKind = "select_layout"
	EffectPromptLayout    EffectKind = "prompt_layout"
)

// Effect reducer 产出的出站动作, 由 engine 在锁外执行。
type Effect interface {
	Kind() EffectKind
}

// PersistView 保存当前视图偏好 (best-effort)。
type PersistView struct{ View View }

// RequestLayouts 拉取布局目录。
type RequestLayouts struct{}

// RequestFileTree 拉取演示文稿文件树。
type RequestFileTree struct{}

// OpenDefaultFile 进入 code 视图且没有打开的文件时自动打开。
type OpenDefaultFile struct{ Path string }

// RefreshPreview 重新渲染预览, Slide 为 nil 时整体刷新。
type RefreshPreview struct{ Slide *int }

// PersistSelection 把用户的候选图选择转发给后端。
type PersistSelection struct {
	Slug  string
	Index int
}

// SelectLayout 把用户选中的布局转发给后端, 每个 layout_request 只发一次。
type SelectLayout struct {
	Name    string
	Request LayoutRequest
}

// PromptLayout 把阻塞式布局选择展示给用户。
type PromptLayout struct{ Request LayoutRequest }

func (PersistView) Kind() EffectKind      { return EffectPersistView }
func (RequestLayouts) Kind() EffectKind   { return EffectRequestLayouts }
func (RequestFileTree) Kind() EffectKind  { return EffectRequestFileTree }
func (OpenDefaultFile) Kind() EffectKind  { return EffectOpenDefaultFile }
func (RefreshPreview) Kind() EffectKind   { return EffectRefreshPreview }
func (PersistSelection) Kind() EffectKind { return EffectPersistSelect }
func (SelectLayout) Kind() EffectKind     { return EffectSelectLayout }
func (PromptLayout) Kind() EffectKind     { return EffectPromptLayout }
