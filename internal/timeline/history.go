// history.go — 持久化历史回放 (冷启动)。
//
// rich 条目转换成对应的 live 事件后走同一组 handler, legacy 条目走同一组 entry 构造函数,
// 因此回放结果与 live 路径一致 (忽略 ID)。
package timeline

import (
	"bytes"
	"encoding/json"

	"github.com/multi-agent/deckstudio/pkg/logger"
)

// richEventByType 历史 message_type → live 事件名。
var richEventByType = map[string]EventName{
	"image_request_details": EventImageRequestDetails,
	"image_candidate":       EventImageCandidate,
	"image_selection":       EventImageSelected,
	"agent_request_details": EventAgentRequestDetails,
	"tool_call":             EventToolEnd,
	"tool_error":            EventToolError,
	"tool_image":            EventToolImage,
}

// ReplayStats 回放统计。
type ReplayStats struct {
	Applied int `json:"applied"`
	Dropped int `json:"dropped"`
	Skipped int `json:"skipped"`
}

type historyItem struct {
	Role        string            `json:"role"`
	MessageType string            `json:"message_type"`
	Data        json.RawMessage   `json:"data"`
	Content     json.RawMessage   `json:"content"`
	Parts       []json.RawMessage `json:"parts"`
}

// Replay 按顺序把历史条目写入会话 timeline。
//
// 无网络、无出站 effect; 无法识别的条目跳过并记录日志, 不会中断回放。
func Replay(s *Session, items []json.RawMessage) ReplayStats {
	var stats ReplayStats
	for i, raw := range items {
		var item historyItem
		if err := json.Unmarshal(raw, &item); err != nil {
			stats.Skipped++
			logger.Warn("history: unreadable item", logger.FieldIndex, i, logger.FieldError, err)
			continue
		}
		switch {
		case item.MessageType != "":
			replayRich(s, i, item, &stats)
		case len(item.Parts) > 0:
			replayParts(s, i, item, &stats)
		case len(item.Content) > 0:
			replayContent(s, i, item, &stats)
		default:
			stats.Skipped++
			logger.Warn("history: unrecognized item shape", logger.FieldIndex, i)
		}
	}
	return stats
}

func replayRich(s *Session, i int, item historyItem, stats *ReplayStats) {
	name, ok := richEventByType[item.MessageType]
	if !ok {
		stats.Skipped++
		logger.Warn("history: unknown message_type", logger.FieldIndex, i, logger.FieldMessageType, item.MessageType)
		return
	}
	ev, err := DecodeEvent(string(name), item.Data)
	if err != nil {
		stats.Skipped++
		logger.Warn("history: malformed rich item",
			logger.FieldIndex, i,
			logger.FieldMessageType, item.MessageType,
			logger.FieldError, err,
		)
		return
	}
	if details, ok := ev.(AgentRequestDetails); ok && details.UserMessage == "" {
		details.UserMessage = contentString(item.Content)
		ev = details
	}
	before := s.Timeline.Len()
	_ = Reduce(s, ev)
	if s.Timeline.Len() == before && name != EventImageSelected {
		stats.Dropped++
		return
	}
	stats.Applied++
}

// replayParts legacy {role, parts}: 只看第一个 part。
func replayParts(s *Session, i int, item historyItem, stats *ReplayStats) {
	role := ParseRole(item.Role)
	first := bytes.TrimSpace(item.Parts[0])
	if len(first) > 0 && first[0] == '"' {
		var text string
		if err := json.Unmarshal(first, &text); err == nil {
			appendText(s, role, text, stats)
			return
		}
	}
	var part struct {
		Text             *string         `json:"text"`
		FunctionCall     *legacyCall     `json:"function_call"`
		FunctionCallAlt  *legacyCall     `json:"functionCall"`
		FunctionResponse json.RawMessage `json:"function_response"`
		FunctionRespAlt  json.RawMessage `json:"functionResponse"`
	}
	if err := json.Unmarshal(first, &part); err != nil {
		stats.Skipped++
		logger.Warn("history: unreadable part", logger.FieldIndex, i, logger.FieldError, err)
		return
	}
	switch {
	case part.Text != nil:
		appendText(s, role, *part.Text, stats)
	case part.FunctionCall != nil || part.FunctionCallAlt != nil:
		call := part.FunctionCall
		if call == nil {
			call = part.FunctionCallAlt
		}
		s.Timeline.Append(compactToolEntry(call.Name, call.Args))
		stats.Applied++
	case len(part.FunctionResponse) > 0 || len(part.FunctionRespAlt) > 0:
		stats.Dropped++
	default:
		stats.Skipped++
		logger.Warn("history: unrecognized part", logger.FieldIndex, i, logger.FieldRole, item.Role)
	}
}

type legacyCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

func replayContent(s *Session, i int, item historyItem, stats *ReplayStats) {
	text := contentString(item.Content)
	if text == "" && !bytes.Equal(bytes.TrimSpace(item.Content), []byte(`""`)) {
		stats.Skipped++
		logger.Warn("history: content is not a string", logger.FieldIndex, i)
		return
	}
	appendText(s, ParseRole(item.Role), text, stats)
}

func appendText(s *Session, role Role, text string, stats *ReplayStats) {
	e, ok := textEntry(role, text)
	if !ok {
		stats.Dropped++
		return
	}
	s.Timeline.Append(e)
	stats.Applied++
}

func contentString(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return ""
	}
	return text
}
