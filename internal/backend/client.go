// client.go — deck 后端 REST 客户端。
//
// 所有请求都是一次性的: 不重试, 失败原样返回给调用方 (engine 决定降级方式)。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/multi-agent/deckstudio/internal/timeline"
	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

const maxErrorBody = 4 << 10

// Client deck 后端客户端。
type Client struct {
	baseURL   string
	httpCli   *http.Client
	streamCli *http.Client
}

// NewClient baseURL 形如 http://127.0.0.1:5555。timeout 只作用于 REST 请求, 事件流不设超时。
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		httpCli:   &http.Client{Timeout: timeout},
		streamCli: &http.Client{},
	}
}

// BaseURL 后端地址。
func (c *Client) BaseURL() string { return c.baseURL }

// ========================================
// 会话 / 聊天
// ========================================

// LoadPresentation 加载演示文稿并返回持久化历史。
func (c *Client) LoadPresentation(ctx context.Context, name string) (*LoadResult, error) {
	var out LoadResult
	if err := c.postJSON(ctx, "/api/load", map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat 发送聊天消息; 回复经事件通道到达。
func (c *Client) Chat(ctx context.Context, message string) error {
	return c.postJSON(ctx, "/api/chat", map[string]string{"message": message}, nil)
}

// SelectImage 转发候选图选择。后端只认当前批次的 index。
func (c *Client) SelectImage(ctx context.Context, index int) (*SelectImageResult, error) {
	var out SelectImageResult
	if err := c.postJSON(ctx, "/api/images/select", map[string]int{"index": index}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SelectLayout 回应 layout_request。
func (c *Client) SelectLayout(ctx context.Context, name string) error {
	return c.postJSON(ctx, "/api/layouts/select", map[string]string{"layout_name": name}, nil)
}

// Layouts 拉取布局目录。
func (c *Client) Layouts(ctx context.Context) ([]timeline.LayoutOption, error) {
	var out layoutsResponse
	if err := c.getJSON(ctx, "/api/layouts", &out); err != nil {
		return nil, err
	}
	return out.Layouts, nil
}

// ========================================
// 文件
// ========================================

// Files 拉取演示文稿文件树。
func (c *Client) Files(ctx context.Context) ([]FileNode, error) {
	var out filesResponse
	if err := c.getJSON(ctx, "/api/presentation/files", &out); err != nil {
		return nil, err
	}
	return out.Files, nil
}

// FileContent 读取单个文件。
func (c *Client) FileContent(ctx context.Context, path string) (*FileContent, error) {
	var out FileContent
	q := url.Values{"path": []string{path}}
	if err := c.getJSON(ctx, "/api/presentation/file-content?"+q.Encode(), &out); err != nil {
		return nil, err
	}
	if out.Path == "" {
		out.Path = path
	}
	return &out, nil
}

// SaveFile 保存文件; 后端同步重新编译并在 Compile 中返回结果。
func (c *Client) SaveFile(ctx context.Context, path, content string) (*SaveResult, error) {
	var out SaveResult
	body := map[string]string{"path": path, "content": content}
	if err := c.postJSON(ctx, "/api/presentation/file-save", body, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return &out, apperrors.WithCode(apperrors.ErrUnavailable, "Client.SaveFile", "SAVE_FAILED", out.Message)
	}
	return &out, nil
}

// ========================================
// 偏好
// ========================================

// GetPreference 读取偏好。不存在返回 ErrNotFound。
func (c *Client) GetPreference(ctx context.Context, key string) (json.RawMessage, error) {
	var out preferenceResponse
	if err := c.getJSON(ctx, "/api/preferences/"+url.PathEscape(key), &out); err != nil {
		return nil, err
	}
	return out.Value, nil
}

// SetPreference 写入偏好。
func (c *Client) SetPreference(ctx context.Context, key string, value any) error {
	return c.postJSON(ctx, "/api/preferences/"+url.PathEscape(key), map[string]any{"value": value}, nil)
}

// ========================================
// HTTP helpers
// ========================================

func (c *Client) postJSON(ctx context.Context, path string, reqBody, out any) error {
	data, err := json.Marshal(reqBody)
	if err != nil {
		return apperrors.Wrapf(err, "Client.postJSON", "marshal %s", path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return apperrors.Wrapf(err, "Client.postJSON", "build POST %s", path)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return apperrors.Wrapf(err, "Client.getJSON", "build GET %s", path)
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpCli.Do(req)
	if err != nil {
		return apperrors.Wrapf(apperrors.ErrUnavailable, "Client.do", "%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	logger.Debug("backend: request",
		logger.FieldMethod, req.Method,
		logger.FieldPath, req.URL.Path,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldLatencyMS, time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(req, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperrors.Wrapf(apperrors.ErrInvalidInput, "Client.do", "decode %s %s: %v", req.Method, req.URL.Path, err)
	}
	return nil
}

// statusError 非 2xx 映射到哨兵错误, 消息取后端 {"error": "..."}。
func statusError(req *http.Request, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(body))
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	}
	sentinel := apperrors.ErrUnavailable
	switch {
	case resp.StatusCode == http.StatusNotFound:
		sentinel = apperrors.ErrNotFound
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		sentinel = apperrors.ErrInvalidInput
	}
	return apperrors.WithCode(sentinel, "Client."+strings.ToLower(req.Method),
		fmt.Sprintf("HTTP_%d", resp.StatusCode),
		fmt.Sprintf("%s %s: %s", req.Method, req.URL.Path, msg))
}
