// Package engine provides error definitions for compute engine operations.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionOverloaded 并发会话超限错误（准入拒绝）
	ErrSessionOverloaded = errors.New("session overloaded")

	// ErrDeadlineExceeded 推理超时错误
	ErrDeadlineExceeded = errors.New("inference deadline exceeded")

	// ErrBackendNotConfigured 计算后端未配置错误
	ErrBackendNotConfigured = errors.New("compute backend not configured")
)

// WrapSessionOverloadedError 包装准入拒绝错误
func WrapSessionOverloadedError(maxConcurrent int64, waitMs int64) error {
	return fmt.Errorf("%w: maxConcurrent=%d, admissionWaitMs=%d", ErrSessionOverloaded, maxConcurrent, waitMs)
}
