package backend

import (
	"encoding/json"

	"github.com/multi-agent/deckstudio/internal/timeline"
)

// LoadResult POST /api/load 响应。History 保持原始 JSON, 交给 timeline.Replay 解析。
type LoadResult struct {
	Message      string            `json:"message,omitempty"`
	History      []json.RawMessage `json:"history"`
	Presentation json.RawMessage   `json:"presentation,omitempty"`
}

// FileNode 文件树节点。
type FileNode struct {
	Name     string     `json:"name"`
	Path     string     `json:"path"`
	Type     string     `json:"type"`
	Children []FileNode `json:"children,omitempty"`
}

// FileContent GET /api/presentation/file-content 响应。Type 为 text|image|binary。
type FileContent struct {
	Path     string `json:"path"`
	Type     string `json:"type"`
	Content  string `json:"content"`
	Language string `json:"language,omitempty"`
}

// CompileStatus 保存后的重新编译结果。
type CompileStatus struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// SaveResult POST /api/presentation/file-save 响应。
type SaveResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Compile *CompileStatus `json:"compile,omitempty"`
}

// SelectImageResult POST /api/images/select 响应。
type SelectImageResult struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

type layoutsResponse struct {
	Layouts []timeline.LayoutOption `json:"layouts"`
}

type filesResponse struct {
	Files []FileNode `json:"files"`
}

type preferenceResponse struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

type errorResponse struct {
	Error string `json:"error"`
}
