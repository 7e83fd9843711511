// Package errors 提供统一错误类型与哨兵错误。
//
//   - L1 哨兵错误: ErrNotFound / ErrInvalidInput / ErrDeclined 等
//   - L2 AppError: 带 Op + Code + Message 的应用级错误
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 哨兵错误 (Sentinel Errors)
// ========================================

var (
	// ErrNotFound 资源不存在
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput 输入参数无效
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal 内部错误
	ErrInternal = errors.New("internal error")

	// ErrTimeout 操作超时
	ErrTimeout = errors.New("timeout")

	// ErrUnavailable 外部协作方不可达 (backend / preference store)
	ErrUnavailable = errors.New("unavailable")

	// ErrNoPresentation 当前没有打开的演示文稿
	ErrNoPresentation = errors.New("no presentation open")

	// ErrDeclined 用户拒绝了破坏性操作 (丢弃未保存修改)
	ErrDeclined = errors.New("declined by user")

	// ErrNoOpenFile 没有打开的文件
	ErrNoOpenFile = errors.New("no open file")

	// ErrNotDirty 文件没有未保存修改
	ErrNotDirty = errors.New("file not dirty")

	// ErrUnknownCandidate 选择了从未出现过的候选图
	ErrUnknownCandidate = errors.New("unknown candidate")

	// ErrSlugCollision 同一 batch slug 被不同生成轮次复用
	ErrSlugCollision = errors.New("batch slug collision")

	// ErrNoPendingLayout 没有待决的布局选择请求
	ErrNoPendingLayout = errors.New("no pending layout request")

	// ErrStale 响应已过期 (presentation 或文件已切换)
	ErrStale = errors.New("stale response")
)

// ========================================
// L2 AppError (应用级错误)
// ========================================

// AppError 应用级错误，带操作上下文。
type AppError struct {
	Op      string // 操作名，如 "FileSession.Save"
	Code    string // 错误码，如 "VALIDATION"
	Message string // 人类可读消息
	Err     error  // 原始错误
}

// Error 实现 error 接口。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式查找。
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// 工厂函数
// ========================================

// New 创建无原因链的应用错误。
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf 创建带格式化消息的应用错误。
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误并附加操作上下文。
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf 用格式化消息包装错误。
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}

// WithCode 包装错误并附加错误码 (HTTP 层据此映射状态码)。
func WithCode(err error, op, code, message string) error {
	return &AppError{Op: op, Code: code, Message: message, Err: err}
}

// CodeOf 返回错误链上第一个非空 Code, 没有则返回 "".
func CodeOf(err error) string {
	var appErr *AppError
	for err != nil {
		if !errors.As(err, &appErr) {
			return ""
		}
		if appErr.Code != "" {
			return appErr.Code
		}
		err = appErr.Err
	}
	return ""
}

// Is / As 透传标准库, 调用方无需再 import 标准 errors。
func Is(err, target error) bool { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
