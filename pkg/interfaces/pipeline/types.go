// Package pipeline 提供加密计算与零知识证明流水线的公共类型和接口定义
//
// 📋 **流水线公共契约 (Pipeline Public Contracts)**
//
// 本包定义了流水线对外暴露的全部数据模型和协作接口：
// - 数据模型：加密载荷、模型配置、推理结果、电路配置、证明产物
// - 协作接口：ComputeBackend（消费）、LedgerSubmitter（暴露）、InferencePipeline
//
// 🎯 **设计原则**：
// - 接口导向：内部实现通过接口协作，便于测试和替换
// - 状态承载：失败以状态字段表达，不以panic越过模块边界
package pipeline

import "time"

// ==================== 加密载荷 ====================

// EncryptionMode 加密模式标识
type EncryptionMode string

const (
	// ModeAESGCM AES-256-GCM认证加密模式
	ModeAESGCM EncryptionMode = "AES-256-GCM"

	// ModeAESCTR AES-256-CTR流加密模式（无认证标签）
	ModeAESCTR EncryptionMode = "AES-256-CTR"

	// ModeChaCha20Poly1305 ChaCha20-Poly1305认证加密模式
	ModeChaCha20Poly1305 EncryptionMode = "ChaCha20-Poly1305"
)

// IsAEAD 判断是否为认证加密模式
func (m EncryptionMode) IsAEAD() bool {
	return m == ModeAESGCM || m == ModeChaCha20Poly1305
}

// IsValid 判断加密模式是否受支持
func (m EncryptionMode) IsValid() bool {
	switch m {
	case ModeAESGCM, ModeAESCTR, ModeChaCha20Poly1305:
		return true
	default:
		return false
	}
}

// EncryptedPayload 加密载荷
//
// 🎯 **不变量**：
// - Ciphertext非空且不超过配置的上限（默认10MiB）
// - AuthTag当且仅当Mode为AEAD模式时存在
// - 构造后不可变，由ComputeEngine恰好消费一次
type EncryptedPayload struct {
	// 密文数据
	Ciphertext []byte

	// 随机数（nonce/IV），每次加密新鲜生成
	IV []byte

	// 认证标签（仅AEAD模式）
	AuthTag []byte

	// 加密模式
	Mode EncryptionMode

	// 密钥标识（可选，用于多密钥场景的路由）
	KeyID string
}

// ==================== 模型配置 ====================

// Quantization 模型量化精度
type Quantization string

const (
	QuantFP16 Quantization = "FP16"
	QuantINT8 Quantization = "INT8"
	QuantINT4 Quantization = "INT4"
	QuantNF4  Quantization = "NF4"
)

// SamplingParams 采样参数（可选）
type SamplingParams struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	TopK        int     `json:"top_k"`
}

// ModelProfile 模型静态配置
//
// 由ModelRegistry持有，按ID查找；未注册的ID会被拒绝。
type ModelProfile struct {
	// 模型标识（全局唯一）
	ModelID string

	// 量化精度
	Quantization Quantization

	// 上下文长度（用于模拟权重加载成本）
	ContextLength int

	// 批大小
	BatchSize int

	// 最大生成序列长度（输出token数量的上界）
	MaxSequenceLength int

	// 模型复杂度系数（约束估算的乘数，默认1.0）
	ComplexityFactor float64

	// 采样参数（可选）
	Sampling *SamplingParams
}

// LoadCacheEntry 模型加载缓存条目
//
// 🎯 **不变量**：每个模型ID对应一个条目，首次加载时创建，
// 后续使用原地更新（同一实例），进程生命周期内有效。
type LoadCacheEntry struct {
	// 加载/最近使用时间
	LoadedAt time.Time

	// 命中计数（含首次加载）
	Hits int64
}

// ==================== 推理结果 ====================

// OutcomeStatus 推理结果状态
type OutcomeStatus string

const (
	// StatusSuccess 推理成功
	StatusSuccess OutcomeStatus = "SUCCESS"

	// StatusPartial 部分完成（超时中断但已产出部分结果）
	StatusPartial OutcomeStatus = "PARTIAL"

	// StatusFailed 推理失败
	StatusFailed OutcomeStatus = "FAILED"
)

// OutcomeMetadata 推理结果元数据
type OutcomeMetadata struct {
	// 输入token数量（约4字节/token估算）
	InputTokens int

	// 输出token数量（以模型MaxSequenceLength为上界）
	OutputTokens int

	// 各阶段耗时明细（毫秒）：model_load_ms / decrypt_ms / compute_ms / encrypt_ms
	LatencyBreakdown map[string]int64

	// 失败原因（仅失败时填充）
	FailureReason string
}

// InferenceOutcome 推理结果
//
// 返回后不可变；作为哈希承诺的公开输入被证明层消费。
type InferenceOutcome struct {
	// 推理标识（每次调用唯一）
	InferenceID string

	// 加密后的输出载荷（失败时为nil）
	EncryptedOutput *EncryptedPayload

	// 模型标识
	ModelID string

	// 结果状态
	Status OutcomeStatus

	// 总耗时（毫秒）
	LatencyMs int64

	// 元数据
	Metadata OutcomeMetadata
}

// ==================== 电路配置 ====================

// CircuitProfile 证明电路配置
//
// 🎯 **固定目录**：至少三个复杂度档位（低/中/高），
// 证明时只做选择，从不动态创建。
type CircuitProfile struct {
	// 电路标识
	ID string

	// 基准约束数量（成本估算的基数）
	Constraints int

	// 变量数量
	Variables int

	// 最大多项式阶数
	MaxDegree int

	// 支持的算子集合
	SupportedOperations []string

	// 优化级别
	OptimizationLevel string

	// 约束容量上限（超过则证明生成失败）
	MaxConstraints int
}

// ==================== 证明产物 ====================

// ProofStatus 证明状态
type ProofStatus string

const (
	// ProofStatusPending 待验证
	ProofStatusPending ProofStatus = "PENDING"

	// ProofStatusVerified 已验证（终态）
	ProofStatusVerified ProofStatus = "VERIFIED"

	// ProofStatusFailed 失败（终态）
	ProofStatusFailed ProofStatus = "FAILED"
)

// Commitment 证明承诺三元组
//
// 不透明的证明元素，固定前缀十六进制编码（"0x..."）。
type Commitment struct {
	A string `json:"a"`
	B string `json:"b"`
	C string `json:"c"`
}

// AggregationInfo 聚合信息
//
// Aggregated只允许从false翻转为true一次，且仅允许在VERIFIED状态下翻转。
type AggregationInfo struct {
	Aggregated bool   `json:"aggregated"`
	BatchID    string `json:"batch_id,omitempty"`
	BatchSize  int    `json:"batch_size,omitempty"`
}

// ProofArtifact 证明产物
//
// 🎯 **状态机**：PENDING → VERIFIED 或 PENDING → FAILED，之后为终态。
type ProofArtifact struct {
	// 证明标识（全局唯一：时间戳+随机后缀）
	ProofID string `json:"proof_id"`

	// 电路标识
	CircuitID string `json:"circuit_id"`

	// 估算约束数量（随token数单调不减）
	ConstraintCount int `json:"constraint_count"`

	// 证明大小（字节）
	ProofSizeBytes int `json:"proof_size_bytes"`

	// 验证密钥哈希（32字节SHA-256的十六进制）
	VerificationKeyHash string `json:"verification_key_hash"`

	// 证明状态
	Status ProofStatus `json:"status"`

	// 生成耗时（毫秒）
	GenerationTimeMs int64 `json:"generation_time_ms"`

	// 验证耗时（毫秒）
	VerificationTimeMs int64 `json:"verification_time_ms"`

	// 压缩比例 ∈ [0, 0.98)
	CompressionRatio float64 `json:"compression_ratio"`

	// 证明承诺三元组
	Commitment Commitment `json:"commitment"`

	// 公开信号，顺序固定：[输入哈希, 输出哈希, 时间戳, 推理ID]
	PublicSignals []string `json:"public_signals"`

	// 输入哈希（验证时与PublicSignals[0]绑定检查）
	InputHash string `json:"input_hash"`

	// 输出哈希
	OutputHash string `json:"output_hash"`

	// 聚合信息
	Aggregation AggregationInfo `json:"aggregation"`

	// 失败原因（仅失败时填充）
	FailureReason string `json:"failure_reason,omitempty"`
}

// MarkVerified 标记为已验证（仅允许从PENDING转换）
func (a *ProofArtifact) MarkVerified(verificationTimeMs int64) bool {
	if a.Status != ProofStatusPending {
		return false
	}
	a.Status = ProofStatusVerified
	a.VerificationTimeMs = verificationTimeMs
	return true
}

// MarkFailed 标记为失败（仅允许从PENDING转换）
func (a *ProofArtifact) MarkFailed(reason string) bool {
	if a.Status != ProofStatusPending {
		return false
	}
	a.Status = ProofStatusFailed
	a.FailureReason = reason
	return true
}
