// entry.go — timeline 渲染单元与各 kind 的 payload 定义。
package timeline

import "strings"

// Role 消息角色。
type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
	RoleTool   Role = "tool"
)

// ParseRole 归一化外部角色字符串; "assistant" 视为 model, 未知值视为 system。
func ParseRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user":
		return RoleUser
	case "model", "assistant":
		return RoleModel
	case "tool", "function":
		return RoleTool
	default:
		return RoleSystem
	}
}

// Kind entry 判别字段 (闭合集合)。
type Kind string

const (
	KindText              Kind = "text"
	KindToolInvocation    Kind = "tool_invocation"
	KindImageBatchRequest Kind = "image_batch_request"
	KindImageCandidate    Kind = "image_candidate"
	KindVisualQAReport    Kind = "visual_qa_report"
	KindDetailsAttachment Kind = "details_attachment"
)

// Detail details 子面板中的一行, 顺序即渲染顺序。
type Detail struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// ImageAttachment 文本消息附带的图片 (tool_image)。
type ImageAttachment struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

// BatchRequest image_batch_request payload。
type BatchRequest struct {
	Slug   string `json:"slug"`
	Prompt string `json:"prompt,omitempty"`
}

// Candidate image_candidate payload。Selected 由 BatchTracker 维护。
type Candidate struct {
	Slug      string `json:"slug"`
	Index     int    `json:"index"`
	ImagePath string `json:"imagePath"`
	ImageURL  string `json:"imageUrl,omitempty"`
	Selected  bool   `json:"selected,omitempty"`
}

// ToolInvocation tool_invocation payload。
//
// Compact 为 true 时来自 legacy 历史 (只有调用参数, 没有结果, 也没有 visual QA 拆分)。
type ToolInvocation struct {
	Name      string           `json:"toolName"`
	Args      map[string]any   `json:"args,omitempty"`
	RawResult string           `json:"rawResult,omitempty"`
	Parsed    ParsedToolResult `json:"parsed"`
	Display   string           `json:"display,omitempty"`
	Truncated bool             `json:"truncated,omitempty"`
	Compact   bool             `json:"compact,omitempty"`
}

// Entry timeline 渲染单元。ID 单调递增且不透明, 只用于 patch 定位。
type Entry struct {
	ID        uint64           `json:"id"`
	Role      Role             `json:"role"`
	Kind      Kind             `json:"kind"`
	Text      string           `json:"text,omitempty"`
	IsError   bool             `json:"isError,omitempty"`
	Image     *ImageAttachment `json:"image,omitempty"`
	Details   []Detail         `json:"details,omitempty"`
	Batch     *BatchRequest    `json:"batch,omitempty"`
	Candidate *Candidate       `json:"candidate,omitempty"`
	Tool      *ToolInvocation  `json:"tool,omitempty"`
	QA        *VisualQAReport  `json:"qa,omitempty"`
}

// Clone 深拷贝 entry, 快照调用方可安全持有。
func (e Entry) Clone() Entry {
	out := e
	if e.Image != nil {
		img := *e.Image
		out.Image = &img
	}
	if e.Details != nil {
		out.Details = append([]Detail(nil), e.Details...)
	}
	if e.Batch != nil {
		b := *e.Batch
		out.Batch = &b
	}
	if e.Candidate != nil {
		c := *e.Candidate
		out.Candidate = &c
	}
	if e.Tool != nil {
		tool := *e.Tool
		tool.Args = copyArgs(e.Tool.Args)
		tool.Parsed.VisualQA = e.Tool.Parsed.VisualQA.clone()
		out.Tool = &tool
	}
	out.QA = e.QA.clone()
	return out
}

func copyArgs(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func (r *VisualQAReport) clone() *VisualQAReport {
	if r == nil {
		return nil
	}
	out := *r
	if r.Description != nil {
		d := *r.Description
		out.Description = &d
	}
	if r.Verdict != nil {
		v := *r.Verdict
		out.Verdict = &v
	}
	return &out
}
