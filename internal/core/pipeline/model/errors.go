// Package model provides error definitions for model registry operations.
package model

import (
	"errors"
	"fmt"
)

var (
	// ErrModelNotFound 模型未注册错误
	ErrModelNotFound = errors.New("model not found")

	// ErrInvalidProfile 模型配置非法错误
	ErrInvalidProfile = errors.New("invalid model profile")

	// ErrLoadCancelled 模型加载被取消错误
	ErrLoadCancelled = errors.New("model load cancelled")
)

// WrapModelNotFoundError 包装模型未注册错误
func WrapModelNotFoundError(modelID string) error {
	return fmt.Errorf("%w: modelID=%s", ErrModelNotFound, modelID)
}

// WrapInvalidProfileError 包装模型配置非法错误
func WrapInvalidProfileError(modelID, reason string) error {
	return fmt.Errorf("%w: modelID=%s, reason=%s", ErrInvalidProfile, modelID, reason)
}
