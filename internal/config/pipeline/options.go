// Package pipeline 提供加密推理与证明流水线的配置选项
//
// 📋 **流水线配置 (Pipeline Configuration)**
//
// 本包遵循"默认值优先"的配置模式：
// - New(userConfig) 先构造完整默认配置，再应用用户覆盖
// - 所有数值在构造时校验，非法组合直接返回错误
package pipeline

import (
	"fmt"
)

// 默认配置常量
const (
	// === 载荷编解码 ===
	defaultMaxPayloadBytes    = 10 * 1024 * 1024 // 10MiB载荷上限
	defaultRequireExplicitKey = false            // 模拟模式：允许派生确定性密钥

	// === 计算引擎 ===
	defaultMaxConcurrent   = 8      // 最大并发推理会话数
	defaultTimeoutMs       = 30_000 // 单次推理超时（毫秒）
	defaultAdmissionWaitMs = 0      // 准入等待（0表示立即拒绝）
	defaultDefaultModelID  = "llama-7b-int8"
	defaultLoadMsPerKCtx   = 2 // 模拟权重加载：每1K上下文的毫秒数

	// === 证明生成 ===
	defaultMidThreshold     = 1_000  // 低/中档位阈值
	defaultHighThreshold    = 10_000 // 中/高档位阈值
	defaultCompressionLevel = 6      // 压缩级别 0..8
	defaultMaxProofSizeB    = 1 << 20
	defaultCryptographic    = true // 验证时执行真实Groth16校验

	// === 聚合 ===
	defaultAggregationEnabled = true
	defaultBatchThreshold     = 3    // 达到该数量即形成批次
	defaultCompressionBonus   = 0.25 // 聚合压缩增益系数
)

// CodecOptions 载荷编解码配置
type CodecOptions struct {
	// 载荷密文大小上限（字节）
	MaxPayloadBytes int `json:"max_payload_bytes"`

	// 是否要求显式提供密钥（生产配置为true；false时从固定标签派生）
	RequireExplicitKey bool `json:"require_explicit_key"`
}

// EngineOptions 计算引擎配置
type EngineOptions struct {
	// 最大并发会话数（信号量容量）
	MaxConcurrent int64 `json:"max_concurrent"`

	// 单次推理超时（毫秒）
	TimeoutMs int64 `json:"timeout_ms"`

	// 准入等待时长（毫秒，0表示满载时立即拒绝）
	AdmissionWaitMs int64 `json:"admission_wait_ms"`

	// 默认模型ID（请求未指定模型时使用）
	DefaultModelID string `json:"default_model_id"`

	// 模拟权重加载速率：每1K上下文长度的毫秒数
	LoadMsPerKCtx int `json:"load_ms_per_k_ctx"`
}

// ProofOptions 证明生成与验证配置
type ProofOptions struct {
	// 电路档位阈值：score > High → 高档；score > Mid → 中档；否则低档
	MidThreshold  int `json:"mid_threshold"`
	HighThreshold int `json:"high_threshold"`

	// 压缩级别（0..8），compressionRatio = min(level×0.12, 0.97)
	CompressionLevel int `json:"compression_level"`

	// 证明大小上限（字节），验证时的结构检查使用
	MaxProofSize int `json:"max_proof_size"`

	// 是否执行真实密码学校验（Groth16重建验证）
	EnableCryptographicCheck bool `json:"enable_cryptographic_check"`
}

// AggregationOptions 证明聚合配置
type AggregationOptions struct {
	// 是否启用聚合
	Enabled bool `json:"enabled"`

	// 批次阈值：队列达到该数量即形成批次
	Threshold int `json:"threshold"`

	// 压缩增益系数：r' = min(r + (1-r)×bonus, 0.979)
	CompressionBonus float64 `json:"compression_bonus"`
}

// PipelineOptions 流水线完整配置选项
type PipelineOptions struct {
	Codec       CodecOptions       `json:"codec"`
	Engine      EngineOptions      `json:"engine"`
	Proof       ProofOptions       `json:"proof"`
	Aggregation AggregationOptions `json:"aggregation"`
}

// UserPipelineConfig 用户可覆盖的流水线配置
type UserPipelineConfig struct {
	MaxPayloadBytes    *int     `json:"max_payload_bytes,omitempty"`
	RequireExplicitKey *bool    `json:"require_explicit_key,omitempty"`
	MaxConcurrent      *int64   `json:"max_concurrent,omitempty"`
	TimeoutMs          *int64   `json:"timeout_ms,omitempty"`
	AdmissionWaitMs    *int64   `json:"admission_wait_ms,omitempty"`
	DefaultModelID     *string  `json:"default_model_id,omitempty"`
	MidThreshold       *int     `json:"mid_threshold,omitempty"`
	HighThreshold      *int     `json:"high_threshold,omitempty"`
	CompressionLevel   *int     `json:"compression_level,omitempty"`
	AggregationEnabled *bool    `json:"aggregation_enabled,omitempty"`
	BatchThreshold     *int     `json:"batch_threshold,omitempty"`
	CompressionBonus   *float64 `json:"compression_bonus,omitempty"`
}

// Config 流水线配置实现
type Config struct {
	options *PipelineOptions
}

// New 创建流水线配置实现
//
// 先构造完整默认配置，再应用用户覆盖，最后做一致性校验。
func New(userConfig *UserPipelineConfig) (*Config, error) {
	options := createDefaultPipelineOptions()

	if userConfig != nil {
		applyUserOverrides(options, userConfig)
	}

	if err := validateOptions(options); err != nil {
		return nil, err
	}

	return &Config{options: options}, nil
}

// MustNew 创建流水线配置实现（配置非法时panic，仅用于默认配置路径）
func MustNew(userConfig *UserPipelineConfig) *Config {
	cfg, err := New(userConfig)
	if err != nil {
		panic(fmt.Sprintf("流水线配置非法: %v", err))
	}
	return cfg
}

// createDefaultPipelineOptions 创建默认流水线配置
func createDefaultPipelineOptions() *PipelineOptions {
	return &PipelineOptions{
		Codec: CodecOptions{
			MaxPayloadBytes:    defaultMaxPayloadBytes,
			RequireExplicitKey: defaultRequireExplicitKey,
		},
		Engine: EngineOptions{
			MaxConcurrent:   defaultMaxConcurrent,
			TimeoutMs:       defaultTimeoutMs,
			AdmissionWaitMs: defaultAdmissionWaitMs,
			DefaultModelID:  defaultDefaultModelID,
			LoadMsPerKCtx:   defaultLoadMsPerKCtx,
		},
		Proof: ProofOptions{
			MidThreshold:             defaultMidThreshold,
			HighThreshold:            defaultHighThreshold,
			CompressionLevel:         defaultCompressionLevel,
			MaxProofSize:             defaultMaxProofSizeB,
			EnableCryptographicCheck: defaultCryptographic,
		},
		Aggregation: AggregationOptions{
			Enabled:          defaultAggregationEnabled,
			Threshold:        defaultBatchThreshold,
			CompressionBonus: defaultCompressionBonus,
		},
	}
}

// applyUserOverrides 应用用户配置覆盖
func applyUserOverrides(options *PipelineOptions, user *UserPipelineConfig) {
	if user.MaxPayloadBytes != nil {
		options.Codec.MaxPayloadBytes = *user.MaxPayloadBytes
	}
	if user.RequireExplicitKey != nil {
		options.Codec.RequireExplicitKey = *user.RequireExplicitKey
	}
	if user.MaxConcurrent != nil {
		options.Engine.MaxConcurrent = *user.MaxConcurrent
	}
	if user.TimeoutMs != nil {
		options.Engine.TimeoutMs = *user.TimeoutMs
	}
	if user.AdmissionWaitMs != nil {
		options.Engine.AdmissionWaitMs = *user.AdmissionWaitMs
	}
	if user.DefaultModelID != nil {
		options.Engine.DefaultModelID = *user.DefaultModelID
	}
	if user.MidThreshold != nil {
		options.Proof.MidThreshold = *user.MidThreshold
	}
	if user.HighThreshold != nil {
		options.Proof.HighThreshold = *user.HighThreshold
	}
	if user.CompressionLevel != nil {
		options.Proof.CompressionLevel = *user.CompressionLevel
	}
	if user.AggregationEnabled != nil {
		options.Aggregation.Enabled = *user.AggregationEnabled
	}
	if user.BatchThreshold != nil {
		options.Aggregation.Threshold = *user.BatchThreshold
	}
	if user.CompressionBonus != nil {
		options.Aggregation.CompressionBonus = *user.CompressionBonus
	}
}

// validateOptions 校验配置一致性
func validateOptions(options *PipelineOptions) error {
	if options.Codec.MaxPayloadBytes <= 0 {
		return fmt.Errorf("max_payload_bytes必须为正数: %d", options.Codec.MaxPayloadBytes)
	}
	if options.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent必须为正数: %d", options.Engine.MaxConcurrent)
	}
	if options.Engine.TimeoutMs <= 0 {
		return fmt.Errorf("timeout_ms必须为正数: %d", options.Engine.TimeoutMs)
	}
	if options.Engine.AdmissionWaitMs < 0 {
		return fmt.Errorf("admission_wait_ms不能为负数: %d", options.Engine.AdmissionWaitMs)
	}
	if options.Proof.MidThreshold <= 0 || options.Proof.HighThreshold <= options.Proof.MidThreshold {
		return fmt.Errorf("电路档位阈值必须满足 0 < mid(%d) < high(%d)",
			options.Proof.MidThreshold, options.Proof.HighThreshold)
	}
	if options.Proof.CompressionLevel < 0 || options.Proof.CompressionLevel > 8 {
		return fmt.Errorf("compression_level必须在[0,8]范围内: %d", options.Proof.CompressionLevel)
	}
	if options.Proof.MaxProofSize <= 0 {
		return fmt.Errorf("max_proof_size必须为正数: %d", options.Proof.MaxProofSize)
	}
	if options.Aggregation.Threshold < 2 {
		return fmt.Errorf("聚合批次阈值至少为2: %d", options.Aggregation.Threshold)
	}
	if options.Aggregation.CompressionBonus <= 0 || options.Aggregation.CompressionBonus >= 1 {
		return fmt.Errorf("compression_bonus必须在(0,1)范围内: %f", options.Aggregation.CompressionBonus)
	}
	return nil
}

// GetOptions 获取完整的流水线配置选项
func (c *Config) GetOptions() *PipelineOptions {
	return c.options
}

// GetCodec 获取载荷编解码配置
func (c *Config) GetCodec() *CodecOptions {
	return &c.options.Codec
}

// GetEngine 获取计算引擎配置
func (c *Config) GetEngine() *EngineOptions {
	return &c.options.Engine
}

// GetProof 获取证明配置
func (c *Config) GetProof() *ProofOptions {
	return &c.options.Proof
}

// GetAggregation 获取聚合配置
func (c *Config) GetAggregation() *AggregationOptions {
	return &c.options.Aggregation
}
