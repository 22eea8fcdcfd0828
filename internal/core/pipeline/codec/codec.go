// Package codec 提供加密载荷的编解码实现
//
// 📋 **载荷编解码器 (Payload Codec)**
//
// 职责：
// - 构造与校验EncryptedPayload（大小、模式、标签一致性）
// - 三种加密模式：AES-256-GCM、AES-256-CTR、ChaCha20-Poly1305
// - AEAD模式下认证标签同时存在于密文尾部和AuthTag字段，解密时交叉校验
//
// 🎯 **设计原则**：
// - 每次加密使用新鲜随机数，相同明文产生不同密文
// - 校验失败返回类型化错误，从不panic
package codec

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// keySize 所有模式统一使用256位密钥
	keySize = 32

	// aeadNonceSize GCM与ChaCha20-Poly1305的随机数长度
	aeadNonceSize = 12

	// ctrIVSize CTR模式的IV长度（AES块大小）
	ctrIVSize = aes.BlockSize

	// tagSize AEAD认证标签长度
	tagSize = 16

	// simulationKeyLabel 模拟模式下派生确定性密钥的固定标签
	simulationKeyLabel = "zkcipherai/simulation-key/v1"
)

// PayloadCodec 加密载荷编解码器
type PayloadCodec struct {
	options *pipelineconfig.CodecOptions
	logger  logiface.Logger

	// 模拟模式下的派生密钥（进程内固定）
	simulationKey []byte
}

// NewPayloadCodec 创建载荷编解码器
func NewPayloadCodec(options *pipelineconfig.CodecOptions, logger logiface.Logger) *PayloadCodec {
	c := &PayloadCodec{
		options: options,
		logger:  logger,
	}
	if !options.RequireExplicitKey {
		derived := sha256.Sum256([]byte(simulationKeyLabel))
		c.simulationKey = derived[:]
	}
	return c
}

// resolveKey 解析调用方提供的密钥
//
// 生产配置（RequireExplicitKey=true）下密钥必须显式提供；
// 模拟配置下nil密钥回退为确定性派生密钥，便于测试闭环。
func (c *PayloadCodec) resolveKey(key []byte) ([]byte, error) {
	if len(key) == 0 {
		if c.options.RequireExplicitKey {
			return nil, ErrMissingKey
		}
		return c.simulationKey, nil
	}
	if len(key) != keySize {
		return nil, WrapInvalidKeySizeError(len(key))
	}
	return key, nil
}

// newAEAD 根据模式创建AEAD实例
func newAEAD(mode pipeline.EncryptionMode, key []byte) (cipher.AEAD, error) {
	switch mode {
	case pipeline.ModeAESGCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case pipeline.ModeChaCha20Poly1305:
		return chacha20poly1305.New(key)
	default:
		return nil, WrapUnsupportedModeError(string(mode))
	}
}

// Encrypt 加密明文，构造EncryptedPayload
//
// AEAD模式：密文长度 = 明文长度 + 16字节标签（标签在密文尾部），
// AuthTag字段额外携带标签副本；CTR模式：密文与明文等长，无标签。
func (c *PayloadCodec) Encrypt(plaintext []byte, key []byte, mode pipeline.EncryptionMode) (*pipeline.EncryptedPayload, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}
	if !mode.IsValid() {
		return nil, WrapUnsupportedModeError(string(mode))
	}
	if len(plaintext) > c.options.MaxPayloadBytes {
		return nil, WrapPayloadTooLargeError(len(plaintext), c.options.MaxPayloadBytes)
	}

	resolvedKey, err := c.resolveKey(key)
	if err != nil {
		return nil, err
	}

	if mode == pipeline.ModeAESCTR {
		return c.encryptCTR(plaintext, resolvedKey)
	}
	return c.encryptAEAD(plaintext, resolvedKey, mode)
}

// encryptAEAD AEAD模式加密（GCM / ChaCha20-Poly1305）
func (c *PayloadCodec) encryptAEAD(plaintext, key []byte, mode pipeline.EncryptionMode) (*pipeline.EncryptedPayload, error) {
	aead, err := newAEAD(mode, key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aeadNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	// Seal输出为 密文||标签
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	tag := make([]byte, tagSize)
	copy(tag, ciphertext[len(ciphertext)-tagSize:])

	return &pipeline.EncryptedPayload{
		Ciphertext: ciphertext,
		IV:         nonce,
		AuthTag:    tag,
		Mode:       mode,
	}, nil
}

// encryptCTR CTR流模式加密（零膨胀，无认证标签）
func (c *PayloadCodec) encryptCTR(plaintext, key []byte) (*pipeline.EncryptedPayload, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ctrIVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCTR(block, iv).XORKeyStream(ciphertext, plaintext)

	return &pipeline.EncryptedPayload{
		Ciphertext: ciphertext,
		IV:         iv,
		Mode:       pipeline.ModeAESCTR,
	}, nil
}

// Validate 校验载荷结构（不接触密钥）
//
// 检查项：密文非空且不超限、模式受支持、IV长度匹配、
// AuthTag当且仅当AEAD模式时存在且为16字节。
func (c *PayloadCodec) Validate(payload *pipeline.EncryptedPayload) error {
	if payload == nil || len(payload.Ciphertext) == 0 {
		return ErrEmptyCiphertext
	}
	if len(payload.Ciphertext) > c.options.MaxPayloadBytes {
		return WrapPayloadTooLargeError(len(payload.Ciphertext), c.options.MaxPayloadBytes)
	}
	if !payload.Mode.IsValid() {
		return WrapUnsupportedModeError(string(payload.Mode))
	}

	if payload.Mode.IsAEAD() {
		if len(payload.IV) != aeadNonceSize {
			return WrapInvalidIVError(string(payload.Mode), len(payload.IV), aeadNonceSize)
		}
		if len(payload.AuthTag) != tagSize {
			return ErrAuthTagMismatch
		}
		// AEAD密文必须至少容纳一个标签
		if len(payload.Ciphertext) < tagSize {
			return ErrEmptyCiphertext
		}
	} else {
		if len(payload.IV) != ctrIVSize {
			return WrapInvalidIVError(string(payload.Mode), len(payload.IV), ctrIVSize)
		}
		if len(payload.AuthTag) != 0 {
			return ErrAuthTagMismatch
		}
	}
	return nil
}

// Decrypt 解密载荷
//
// AEAD模式下先交叉校验AuthTag与密文尾部标签，再执行认证解密；
// 任一校验失败均返回类型化错误。
func (c *PayloadCodec) Decrypt(payload *pipeline.EncryptedPayload, key []byte) ([]byte, error) {
	if err := c.Validate(payload); err != nil {
		return nil, err
	}

	resolvedKey, err := c.resolveKey(key)
	if err != nil {
		return nil, err
	}

	if payload.Mode == pipeline.ModeAESCTR {
		block, err := aes.NewCipher(resolvedKey)
		if err != nil {
			return nil, err
		}
		plaintext := make([]byte, len(payload.Ciphertext))
		cipher.NewCTR(block, payload.IV).XORKeyStream(plaintext, payload.Ciphertext)
		return plaintext, nil
	}

	// AEAD：交叉校验字段标签与密文尾部标签
	tail := payload.Ciphertext[len(payload.Ciphertext)-tagSize:]
	if !bytes.Equal(tail, payload.AuthTag) {
		c.logger.Warnf("载荷认证标签与密文尾部不一致: mode=%s", payload.Mode)
		return nil, ErrAuthTagMismatch
	}

	aead, err := newAEAD(payload.Mode, resolvedKey)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, payload.IV, payload.Ciphertext, nil)
	if err != nil {
		return nil, WrapDecryptionFailedError(string(payload.Mode), err)
	}
	return plaintext, nil
}

// GetStats 获取编解码器统计信息
func (c *PayloadCodec) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"max_payload_bytes":    c.options.MaxPayloadBytes,
		"require_explicit_key": c.options.RequireExplicitKey,
		"supported_modes": []string{
			string(pipeline.ModeAESGCM),
			string(pipeline.ModeAESCTR),
			string(pipeline.ModeChaCha20Poly1305),
		},
	}
}
