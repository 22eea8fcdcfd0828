// Package testutil 提供流水线模块测试的辅助工具
//
// 🧪 **测试数据Fixtures**
//
// 本文件提供测试数据的创建函数，用于简化测试代码编写。
package testutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// ==================== 测试数据 Fixtures ====================

// RandomBytes 生成随机字节数组
func RandomBytes(size int) []byte {
	b := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		panic(fmt.Sprintf("随机字节生成失败: %v", err))
	}
	return b
}

// RandomHex 生成带0x前缀的随机十六进制串
func RandomHex(byteLen int) string {
	return "0x" + hex.EncodeToString(RandomBytes(byteLen))
}

// NewTestPipelineOptions 创建测试用流水线配置（全部默认值）
func NewTestPipelineOptions() *pipelineconfig.PipelineOptions {
	cfg, err := pipelineconfig.New(nil)
	if err != nil {
		panic(fmt.Sprintf("默认流水线配置构造失败: %v", err))
	}
	return cfg.GetOptions()
}

// NewTestModelProfile 创建测试用模型配置
//
// ContextLength取小值，保证模拟加载在测试中足够快。
func NewTestModelProfile(modelID string) *pipeline.ModelProfile {
	return &pipeline.ModelProfile{
		ModelID:           modelID,
		Quantization:      pipeline.QuantINT8,
		ContextLength:     512,
		BatchSize:         1,
		MaxSequenceLength: 2048,
		ComplexityFactor:  1.0,
	}
}

// NewTestPayload 构造结构合法的AEAD测试载荷
//
// ⚠️ 仅用于结构校验类测试；密文为随机字节，不可解密。
// 需要可解密载荷的测试应通过PayloadCodec.Encrypt构造。
func NewTestPayload(plaintextLen int) *pipeline.EncryptedPayload {
	ciphertext := RandomBytes(plaintextLen + 16)
	tag := make([]byte, 16)
	copy(tag, ciphertext[len(ciphertext)-16:])
	return &pipeline.EncryptedPayload{
		Ciphertext: ciphertext,
		IV:         RandomBytes(12),
		AuthTag:    tag,
		Mode:       pipeline.ModeAESGCM,
	}
}

// NewTestArtifact 创建PENDING状态的测试证明产物
func NewTestArtifact(proofID string) *pipeline.ProofArtifact {
	inputHash := RandomHex(32)
	outputHash := RandomHex(32)
	return &pipeline.ProofArtifact{
		ProofID:             proofID,
		CircuitID:           "inference_low_complexity",
		ConstraintCount:     500,
		ProofSizeBytes:      4480,
		VerificationKeyHash: hex.EncodeToString(RandomBytes(32)),
		Status:              pipeline.ProofStatusPending,
		GenerationTimeMs:    12,
		CompressionRatio:    0.72,
		Commitment: pipeline.Commitment{
			A: RandomHex(48),
			B: RandomHex(96),
			C: RandomHex(48),
		},
		PublicSignals: []string{
			inputHash,
			outputHash,
			fmt.Sprintf("%d", time.Now().Unix()),
			"inf_test",
		},
		InputHash:  inputHash,
		OutputHash: outputHash,
	}
}

// NewVerifiedTestArtifact 创建VERIFIED状态的测试证明产物
func NewVerifiedTestArtifact(proofID string) *pipeline.ProofArtifact {
	artifact := NewTestArtifact(proofID)
	artifact.MarkVerified(3)
	return artifact
}
