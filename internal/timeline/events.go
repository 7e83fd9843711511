// events.go — live 事件名称 (闭合集合)、payload 结构与逐事件解码。
package timeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
)

// EventName live 通道上的事件名。
type EventName string

const (
	EventMessage               EventName = "message"
	EventThinkingStart         EventName = "thinking_start"
	EventThinkingEnd           EventName = "thinking_end"
	EventImageRequestDetails   EventName = "image_request_details"
	EventImageCandidate        EventName = "image_candidate"
	EventImageProgress         EventName = "image_progress"
	EventImagesReady           EventName = "images_ready"
	EventImageSelected         EventName = "image_selected"
	EventAgentRequestDetails   EventName = "agent_request_details"
	EventToolStart             EventName = "tool_start"
	EventToolEnd               EventName = "tool_end"
	EventToolError             EventName = "tool_error"
	EventToolImage             EventName = "tool_image"
	EventLayoutRequest         EventName = "layout_request"
	EventPresentationUpdated   EventName = "presentation_updated"
	EventError                 EventName = "error"
	EventGeneratingImagesStart EventName = "generating_images_start"
)

// AllEvents 全部已知事件, 顺序无意义。
var AllEvents = []EventName{
	EventMessage, EventThinkingStart, EventThinkingEnd,
	EventImageRequestDetails, EventImageCandidate, EventImageProgress, EventImagesReady, EventImageSelected,
	EventAgentRequestDetails,
	EventToolStart, EventToolEnd, EventToolError, EventToolImage,
	EventLayoutRequest, EventPresentationUpdated,
	EventError, EventGeneratingImagesStart,
}

// Event 一个已解码的 live 事件。
type Event interface {
	EventName() EventName
}

// MessagePayload message{role, content}。
type MessagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ThinkingStart / ThinkingEnd 只切换 busy 标志。
type ThinkingStart struct{}
type ThinkingEnd struct{}

// ImageRequestDetails 一轮图片生成开始, 携带生成参数。
type ImageRequestDetails struct {
	BatchSlug     string `json:"batch_slug"`
	UserMessage   string `json:"user_message,omitempty"`
	SystemMessage string `json:"system_message,omitempty"`
	AspectRatio   string `json:"aspect_ratio,omitempty"`
	Resolution    string `json:"resolution,omitempty"`
}

// ImageCandidatePayload image_candidate{batch_slug, index, image_path}。
type ImageCandidatePayload struct {
	BatchSlug string `json:"batch_slug"`
	Index     int    `json:"index"`
	ImagePath string `json:"image_path"`
}

// ImageProgressPayload image_progress{current, total, status}。
type ImageProgressPayload struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Status  string `json:"status,omitempty"`
}

// ImagesReady images_ready{batch_slug}。
type ImagesReady struct {
	BatchSlug string `json:"batch_slug,omitempty"`
}

// ImageSelectedPayload image_selected / history image_selection。
//
// live 事件只保证 filename; batch_slug 缺失时取当前批次, index 缺失时按路径反查。
type ImageSelectedPayload struct {
	Filename  string `json:"filename,omitempty"`
	Path      string `json:"path,omitempty"`
	SavedPath string `json:"saved_path,omitempty"`
	BatchSlug string `json:"batch_slug,omitempty"`
	Index     *int   `json:"index,omitempty"`
}

// AgentRequestDetails agent_request_details{user_message, system_prompt, model}。
type AgentRequestDetails struct {
	UserMessage  string `json:"user_message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Model        string `json:"model,omitempty"`
}

// ToolStart tool_start{tool}。
type ToolStart struct {
	Tool string `json:"tool"`
}

// ToolEnd tool_end{tool, args, result}。
type ToolEnd struct {
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"-"`
	Result string         `json:"result"`
}

// ToolError tool_error{tool, error}。
type ToolError struct {
	Tool  string `json:"tool"`
	Error string `json:"error"`
}

// ToolImage tool_image{tool, image_path, caption}。
type ToolImage struct {
	Tool      string `json:"tool,omitempty"`
	ImagePath string `json:"image_path"`
	Caption   string `json:"caption,omitempty"`
}

// LayoutOption 可选布局。
type LayoutOption struct {
	Name                   string `json:"name"`
	Content                string `json:"content,omitempty"`
	Index                  int    `json:"index,omitempty"`
	ImageFriendly          bool   `json:"image_friendly,omitempty"`
	RecommendedAspectRatio string `json:"recommended_aspect_ratio,omitempty"`
	ImagePosition          string `json:"image_position,omitempty"`
	Description            string `json:"description,omitempty"`
}

// LayoutRequest layout_request{layouts, title, position}。
type LayoutRequest struct {
	Layouts  []LayoutOption `json:"layouts"`
	Title    string         `json:"title,omitempty"`
	Position string         `json:"position,omitempty"`
}

// PresentationUpdated presentation_updated{slide_number?}。
type PresentationUpdated struct {
	Slide *int `json:"slide_number,omitempty"`
}

// ErrorPayload error{message}。
type ErrorPayload struct {
	Message string `json:"message"`
}

// GeneratingImagesStart generating_images_start{prompt}。
type GeneratingImagesStart struct {
	Prompt string `json:"prompt"`
}

func (MessagePayload) EventName() EventName        { return EventMessage }
func (ThinkingStart) EventName() EventName         { return EventThinkingStart }
func (ThinkingEnd) EventName() EventName           { return EventThinkingEnd }
func (ImageRequestDetails) EventName() EventName   { return EventImageRequestDetails }
func (ImageCandidatePayload) EventName() EventName { return EventImageCandidate }
func (ImageProgressPayload) EventName() EventName  { return EventImageProgress }
func (ImagesReady) EventName() EventName           { return EventImagesReady }
func (ImageSelectedPayload) EventName() EventName  { return EventImageSelected }
func (AgentRequestDetails) EventName() EventName   { return EventAgentRequestDetails }
func (ToolStart) EventName() EventName             { return EventToolStart }
func (ToolEnd) EventName() EventName               { return EventToolEnd }
func (ToolError) EventName() EventName             { return EventToolError }
func (ToolImage) EventName() EventName             { return EventToolImage }
func (LayoutRequest) EventName() EventName         { return EventLayoutRequest }
func (PresentationUpdated) EventName() EventName   { return EventPresentationUpdated }
func (ErrorPayload) EventName() EventName          { return EventError }
func (GeneratingImagesStart) EventName() EventName { return EventGeneratingImagesStart }

type eventDecoder func(data []byte) (Event, error)

func decodeInto[T Event](data []byte) (Event, error) {
	var v T
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeEmpty[T Event](_ []byte) (Event, error) {
	var v T
	return v, nil
}

var eventDecoders = map[EventName]eventDecoder{
	EventMessage:               decodeInto[MessagePayload],
	EventThinkingStart:         decodeEmpty[ThinkingStart],
	EventThinkingEnd:           decodeEmpty[ThinkingEnd],
	EventImageRequestDetails:   decodeInto[ImageRequestDetails],
	EventImageCandidate:        decodeImageCandidate,
	EventImageProgress:         decodeInto[ImageProgressPayload],
	EventImagesReady:           decodeInto[ImagesReady],
	EventImageSelected:         decodeInto[ImageSelectedPayload],
	EventAgentRequestDetails:   decodeInto[AgentRequestDetails],
	EventToolStart:             decodeInto[ToolStart],
	EventToolEnd:               decodeToolEnd,
	EventToolError:             decodeInto[ToolError],
	EventToolImage:             decodeInto[ToolImage],
	EventLayoutRequest:         decodeInto[LayoutRequest],
	EventPresentationUpdated:   decodePresentationUpdated,
	EventError:                 decodeInto[ErrorPayload],
	EventGeneratingImagesStart: decodeInto[GeneratingImagesStart],
}

// DecodeEvent 按事件名解码 payload。未知事件返回 ErrNotFound, 格式错误返回 ErrInvalidInput;
// 调用方记录后丢弃该事件, 不影响后续事件。
func DecodeEvent(name string, data []byte) (Event, error) {
	key := EventName(strings.TrimSpace(name))
	decode, ok := eventDecoders[key]
	if !ok {
		return nil, apperrors.Wrapf(apperrors.ErrNotFound, "timeline.DecodeEvent", "unknown event %q", name)
	}
	ev, err := decode(data)
	if err != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidInput, "timeline.DecodeEvent", "decode %s: %v", key, err)
	}
	return ev, nil
}

func decodeImageCandidate(data []byte) (Event, error) {
	ev, err := decodeInto[ImageCandidatePayload](data)
	if err != nil {
		return nil, err
	}
	c := ev.(ImageCandidatePayload)
	if strings.TrimSpace(c.ImagePath) == "" {
		return nil, fmt.Errorf("image_path is required")
	}
	if c.Index < 0 {
		return nil, fmt.Errorf("negative index %d", c.Index)
	}
	return c, nil
}

// decodeToolEnd args 可能是对象、位置参数数组, 或 args + kwargs 分开上报。
func decodeToolEnd(data []byte) (Event, error) {
	var raw struct {
		Tool   string          `json:"tool"`
		Args   json.RawMessage `json:"args"`
		Kwargs map[string]any  `json:"kwargs"`
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.Tool) == "" {
		return nil, fmt.Errorf("tool is required")
	}
	args, err := decodeToolArgs(raw.Args)
	if err != nil {
		return nil, err
	}
	for k, v := range raw.Kwargs {
		if args == nil {
			args = map[string]any{}
		}
		args[k] = v
	}
	return ToolEnd{Tool: raw.Tool, Args: args, Result: rawToString(raw.Result)}, nil
}

func decodeToolArgs(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return nil, err
		}
		return m, nil
	case '[':
		var arr []any
		if err := json.Unmarshal(trimmed, &arr); err != nil {
			return nil, err
		}
		if len(arr) == 0 {
			return nil, nil
		}
		return map[string]any{"args": arr}, nil
	default:
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return nil, err
		}
		return map[string]any{"args": v}, nil
	}
}

// rawToString 结果通常是字符串; 其它 JSON 值按原文保留。
func rawToString(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

// decodePresentationUpdated 兼容 null、裸数字、{slide_number} 三种形态。
func decodePresentationUpdated(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return PresentationUpdated{}, nil
	}
	if n, err := strconv.Atoi(string(trimmed)); err == nil {
		return PresentationUpdated{Slide: &n}, nil
	}
	var raw struct {
		Slide json.RawMessage `json:"slide_number"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, err
	}
	slide := bytes.TrimSpace(raw.Slide)
	if len(slide) == 0 || bytes.Equal(slide, []byte("null")) {
		return PresentationUpdated{}, nil
	}
	var n int
	if err := json.Unmarshal(slide, &n); err != nil {
		return nil, fmt.Errorf("slide_number: %w", err)
	}
	return PresentationUpdated{Slide: &n}, nil
}
