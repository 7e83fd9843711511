// stream.go — 后端 live 事件通道 (GET /events, text/event-stream)。
//
// 断线后按固定间隔静默重连, 没有续传协议: 断线期间的事件丢失, 重连后的重复事件
// 由 timeline 侧的幂等处理吸收。
package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/multi-agent/deckstudio/pkg/errors"
	"github.com/multi-agent/deckstudio/pkg/logger"
)

const (
	maxEventBytes    = 8 << 20
	defaultEventName = "message"
)

// RawEvent 一个未解码的服务端事件。
type RawEvent struct {
	Name string
	Data []byte
	ID   string
}

// StreamOptions 事件通道参数。
type StreamOptions struct {
	Path      string
	Reconnect time.Duration
	// OnState 连接状态变化回调 (connected=true/false), 可为 nil。
	OnState func(connected bool)
}

// Stream 持续读取事件并写入 out, 直到 ctx 取消。out 不会被关闭。
func (c *Client) Stream(ctx context.Context, out chan<- RawEvent, opts StreamOptions) error {
	if opts.Path == "" {
		opts.Path = "/events"
	}
	if opts.Reconnect <= 0 {
		opts.Reconnect = 2 * time.Second
	}
	for {
		err := c.streamOnce(ctx, out, opts)
		if opts.OnState != nil {
			opts.OnState(false)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		logger.Warn("backend: event stream dropped, reconnecting",
			logger.FieldURL, c.baseURL+opts.Path,
			logger.FieldError, err,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(opts.Reconnect):
		}
	}
}

func (c *Client) streamOnce(ctx context.Context, out chan<- RawEvent, opts StreamOptions) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+opts.Path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamCli.Do(req)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrUnavailable, "Client.Stream", err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusError(req, resp)
	}
	if opts.OnState != nil {
		opts.OnState(true)
	}
	logger.Info("backend: event stream connected", logger.FieldURL, c.baseURL+opts.Path)

	err = ReadEvents(resp.Body, func(ev RawEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	})
	if err == nil {
		return io.EOF
	}
	return err
}

// ReadEvents 解析 text/event-stream, 每个完整事件回调一次; emit 返回 false 时停止。
// 流正常结束返回 nil。
func ReadEvents(r io.Reader, emit func(RawEvent) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventBytes)

	var (
		name    string
		id      string
		data    bytes.Buffer
		hasData bool
	)
	dispatch := func() bool {
		defer func() {
			name = ""
			data.Reset()
			hasData = false
		}()
		if !hasData {
			return true
		}
		ev := RawEvent{Name: name, ID: id, Data: append([]byte(nil), data.Bytes()...)}
		if ev.Name == "" {
			ev.Name = defaultEventName
		}
		return emit(ev)
	}

	for scanner.Scan() {
		line := strings.TrimSuffix(scanner.Text(), "\r")
		if line == "" {
			if !dispatch() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			name = value
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.WriteString(value)
			hasData = true
		case "id":
			id = value
		}
	}
	if err := scanner.Err(); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	// 末尾没有空行的半个事件按协议丢弃
	return nil
}
