// builders.go — entry 构造函数。history 回放与 live 分发共用, 保证两条路径产出一致。
package timeline

import (
	"fmt"
	"strings"

	"github.com/multi-agent/deckstudio/pkg/util"
)

// SystemMarker 带该前缀的文本是后端写给 agent 的系统通知, 不渲染。
const SystemMarker = "[SYSTEM]"

func isSystemNoise(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), SystemMarker)
}

// textEntry 文本 entry; 空文本或系统通知返回 false。
func textEntry(role Role, text string) (Entry, bool) {
	if strings.TrimSpace(text) == "" || isSystemNoise(text) {
		return Entry{}, false
	}
	return Entry{Role: role, Kind: KindText, Text: text}, true
}

func errorEntry(role Role, text string) Entry {
	return Entry{Role: role, Kind: KindText, Text: text, IsError: true}
}

func appendDetail(details []Detail, label, value string) []Detail {
	value = strings.TrimSpace(value)
	if value == "" {
		return details
	}
	return append(details, Detail{Label: label, Value: value})
}

func batchRequestEntry(p ImageRequestDetails) Entry {
	var details []Detail
	details = appendDetail(details, "User message", p.UserMessage)
	details = appendDetail(details, "System message", p.SystemMessage)
	details = appendDetail(details, "Aspect ratio", p.AspectRatio)
	details = appendDetail(details, "Resolution", p.Resolution)
	return Entry{
		Role:    RoleSystem,
		Kind:    KindImageBatchRequest,
		Text:    "Generating image candidates",
		Batch:   &BatchRequest{Slug: strings.TrimSpace(p.BatchSlug), Prompt: strings.TrimSpace(p.UserMessage)},
		Details: details,
	}
}

func candidateEntry(slug string, index int, path, url string, selected bool) Entry {
	return Entry{
		Role: RoleSystem,
		Kind: KindImageCandidate,
		Candidate: &Candidate{
			Slug:      slug,
			Index:     index,
			ImagePath: path,
			ImageURL:  url,
			Selected:  selected,
		},
	}
}

func agentDetailsEntry(p AgentRequestDetails) Entry {
	var details []Detail
	details = appendDetail(details, "System prompt", p.SystemPrompt)
	details = appendDetail(details, "Model", p.Model)
	return Entry{
		Role:    RoleUser,
		Kind:    KindDetailsAttachment,
		Text:    p.UserMessage,
		Details: details,
	}
}

// toolEntries tool_invocation entry, 结果内嵌 visual QA 时再追加一个 visual_qa_report entry。
func toolEntries(p ToolEnd, limit int) []Entry {
	parsed := ParseToolResult(p.Result)
	display, truncated := DisplayOutput(parsed.MainOutput, limit)
	out := []Entry{{
		Role: RoleTool,
		Kind: KindToolInvocation,
		Tool: &ToolInvocation{
			Name:      p.Tool,
			Args:      copyArgs(p.Args),
			RawResult: p.Result,
			Parsed:    parsed,
			Display:   display,
			Truncated: truncated,
		},
	}}
	if parsed.VisualQA != nil {
		out = append(out, Entry{Role: RoleTool, Kind: KindVisualQAReport, QA: parsed.VisualQA.clone()})
	}
	return out
}

// compactToolEntry legacy 历史中的 function_call: 只有名字和参数。
func compactToolEntry(name string, args map[string]any) Entry {
	return Entry{
		Role: RoleTool,
		Kind: KindToolInvocation,
		Tool: &ToolInvocation{Name: name, Args: copyArgs(args), Compact: true},
	}
}

func toolErrorEntry(p ToolError) Entry {
	return errorEntry(RoleTool, fmt.Sprintf("Tool %s failed: %s", p.Tool, p.Error))
}

func toolImageEntry(p ToolImage, url string) Entry {
	text := strings.TrimSpace(p.Caption)
	if text == "" {
		text = fmt.Sprintf("Image from %s", util.FirstNonEmpty(p.Tool, "tool"))
	}
	return Entry{
		Role:  RoleSystem,
		Kind:  KindText,
		Text:  text,
		Image: &ImageAttachment{Path: p.ImagePath, URL: url},
	}
}

func selectionNotice(filename string) (Entry, bool) {
	filename = strings.TrimSpace(filename)
	if filename == "" {
		return Entry{}, false
	}
	return Entry{Role: RoleModel, Kind: KindText, Text: "Image saved: " + filename}, true
}
