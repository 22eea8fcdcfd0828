// Package codec provides error definitions for payload encryption operations.
package codec

import (
	"errors"
	"fmt"
)

// ============================================================================
//                            载荷编解码错误定义
// ============================================================================

var (
	// ErrEmptyCiphertext 密文为空错误
	ErrEmptyCiphertext = errors.New("empty ciphertext")

	// ErrEmptyPlaintext 明文为空错误
	ErrEmptyPlaintext = errors.New("empty plaintext")

	// ErrPayloadTooLarge 载荷超过大小上限错误
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrUnsupportedMode 不支持的加密模式错误
	ErrUnsupportedMode = errors.New("unsupported encryption mode")

	// ErrMissingKey 缺少密钥错误（生产配置要求显式密钥）
	ErrMissingKey = errors.New("missing encryption key")

	// ErrInvalidKeySize 密钥长度非法错误
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrInvalidIV 随机数长度非法错误
	ErrInvalidIV = errors.New("invalid IV length")

	// ErrAuthTagMismatch 认证标签不一致错误
	ErrAuthTagMismatch = errors.New("auth tag mismatch")

	// ErrDecryptionFailed 解密失败错误
	ErrDecryptionFailed = errors.New("decryption failed")
)

// ============================================================================
//                               错误包装函数
// ============================================================================

// WrapPayloadTooLargeError 包装载荷过大错误
func WrapPayloadTooLargeError(size, limit int) error {
	return fmt.Errorf("%w: size=%d, limit=%d", ErrPayloadTooLarge, size, limit)
}

// WrapUnsupportedModeError 包装不支持的加密模式错误
func WrapUnsupportedModeError(mode string) error {
	return fmt.Errorf("%w: mode=%s", ErrUnsupportedMode, mode)
}

// WrapInvalidKeySizeError 包装密钥长度非法错误
func WrapInvalidKeySizeError(size int) error {
	return fmt.Errorf("%w: size=%d, expected=%d", ErrInvalidKeySize, size, keySize)
}

// WrapInvalidIVError 包装随机数长度非法错误
func WrapInvalidIVError(mode string, size, expected int) error {
	return fmt.Errorf("%w: mode=%s, size=%d, expected=%d", ErrInvalidIV, mode, size, expected)
}

// WrapDecryptionFailedError 包装解密失败错误
func WrapDecryptionFailedError(mode string, err error) error {
	return fmt.Errorf("%w: mode=%s, cause=%v", ErrDecryptionFailed, mode, err)
}
