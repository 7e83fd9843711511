// toolresult.go — 工具结果拆分: 主输出 + 内嵌 visual QA 报告。
//
// 文法:
//
//	result  := main [ DELIM report ]
//	report  := text { LABEL text }
//	LABEL   := "DESCRIPTION:" | "VERDICT:"
//
// 只做一次定界符切分, 然后按固定标签集合扫描。纯函数, 不会失败。
package timeline

import (
	"strings"

	"github.com/multi-agent/deckstudio/pkg/util"
)

const (
	// VisualQADelimiter 工具输出中 visual QA 报告的起始标记。
	VisualQADelimiter = "[Visual QA Report]"
	// CriticalMarker 报告包含该短语即视为严重问题。
	CriticalMarker = "ISSUES FOUND"

	LabelDescription = "DESCRIPTION:"
	LabelVerdict     = "VERDICT:"
)

// reportLabels 固定顺序的标签集合; 某标签的值截止到其后最近的任一标签或串尾。
var reportLabels = []string{LabelDescription, LabelVerdict}

// VisualQAReport 内嵌的自动视觉检查报告。Description/Verdict 缺失时为 nil。
type VisualQAReport struct {
	IsCritical  bool    `json:"isCritical"`
	Description *string `json:"description,omitempty"`
	Verdict     *string `json:"verdict,omitempty"`
	RawText     string  `json:"rawText"`
}

// ParsedToolResult 工具结果拆分结果。
type ParsedToolResult struct {
	MainOutput string          `json:"mainOutput"`
	VisualQA   *VisualQAReport `json:"visualQA,omitempty"`
}

// ParseToolResult 拆分原始工具结果。没有定界符时 MainOutput 与输入完全一致。
func ParseToolResult(raw string) ParsedToolResult {
	main, report, found := strings.Cut(raw, VisualQADelimiter)
	if !found {
		return ParsedToolResult{MainOutput: raw}
	}
	return ParsedToolResult{
		MainOutput: strings.TrimRight(main, " \t\r\n"),
		VisualQA:   ParseVisualQAReport(report),
	}
}

// ParseVisualQAReport 从报告正文提取结构化字段。
func ParseVisualQAReport(text string) *VisualQAReport {
	report := &VisualQAReport{
		IsCritical: strings.Contains(text, CriticalMarker),
		RawText:    strings.TrimSpace(text),
	}
	fields := scanLabels(text)
	if v, ok := fields[LabelDescription]; ok {
		report.Description = &v
	}
	if v, ok := fields[LabelVerdict]; ok {
		report.Verdict = &v
	}
	return report
}

// scanLabels 对每个标签取首次出现位置, 值为该位置到下一个标签 (任意) 或串尾的文本。
func scanLabels(text string) map[string]string {
	type hit struct {
		label string
		start int
	}
	hits := make([]hit, 0, len(reportLabels))
	for _, label := range reportLabels {
		if idx := strings.Index(text, label); idx >= 0 {
			hits = append(hits, hit{label: label, start: idx})
		}
	}
	out := make(map[string]string, len(hits))
	for _, h := range hits {
		valueStart := h.start + len(h.label)
		end := len(text)
		for _, other := range hits {
			if other.start >= valueStart && other.start < end {
				end = other.start
			}
		}
		out[h.label] = strings.TrimSpace(text[valueStart:end])
	}
	return out
}

// DisplayOutput 截断主输出用于渲染 (展开交互由前端实现)。
func DisplayOutput(main string, limit int) (string, bool) {
	return util.TruncateRunes(main, limit)
}
