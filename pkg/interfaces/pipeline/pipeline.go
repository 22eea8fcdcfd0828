package pipeline

import "context"

// ==================== 外部协作接口 ====================

// ComputeResult 计算后端的返回结果
type ComputeResult struct {
	// 输出字节
	Output []byte

	// 输入token数量（后端估算，引擎会以载荷长度为准兜底）
	InputTokens int

	// 输出token数量
	OutputTokens int

	// 后端内部耗时明细（毫秒），合并进结果的LatencyBreakdown
	LatencyBreakdown map[string]int64
}

// ComputeBackend 计算后端接口（由流水线消费）
//
// 🎯 **职责边界**：对解密后的明文执行黑盒计算。
// 流水线不假设后端的确定性；真实模型运行时与测试替身均可。
type ComputeBackend interface {
	// Compute 对明文执行计算
	Compute(ctx context.Context, plaintext []byte, profile *ModelProfile) (*ComputeResult, error)
}

// LedgerSubmitter 账本提交器接口（由流水线暴露）
//
// 流水线的职责止于产出带稳定ProofID/BatchID的VERIFIED证明；
// 链上锚定由外部实现完成，本仓库不提供实现。
type LedgerSubmitter interface {
	// SubmitProofRecord 提交最终化的证明记录
	SubmitProofRecord(ctx context.Context, artifact *ProofArtifact) error
}

// ==================== 流水线接口 ====================

// RunOptions 单次请求的可选参数
type RunOptions struct {
	// 模型标识（为空时使用默认模型）
	ModelID string

	// 请求级超时（毫秒，0表示使用全局配置）
	TimeoutMs int64

	// 解密密钥（生产配置下必须提供）
	Key []byte
}

// StageEvent 流水线阶段事件（进度流使用）
type StageEvent struct {
	// 推理标识
	InferenceID string

	// 阶段名称：decrypt / compute / encrypt / select_circuit / generate_proof / verify / aggregate
	Stage string

	// 阶段耗时（毫秒）
	ElapsedMs int64

	// 阶段是否成功
	OK bool
}

// MetricsSnapshot 指标快照
type MetricsSnapshot struct {
	TotalInferences  int64   `json:"total_inferences"`
	TotalProofs      int64   `json:"total_proofs"`
	TotalTokens      int64   `json:"total_tokens"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	TotalConstraints int64   `json:"total_constraints"`
	SuccessRate      float64 `json:"success_rate"`
	CacheHitRate     float64 `json:"cache_hit_rate"`
	QueueSize        int     `json:"queue_size"`
	CircuitCount     int     `json:"circuit_count"`
}

// InferencePipeline 加密推理与证明流水线接口
//
// 🎯 **控制流**：decrypt → compute → encrypt → select → generate → verify → offer。
// 每个阶段同步返回、可独立重试；阶段之间仅通过声明的输入协作。
type InferencePipeline interface {
	// Process 执行完整的加密推理+证明流程
	//
	// 推理失败时返回FAILED状态的结果且artifact为nil；
	// 仅准入拒绝（过载）和载荷校验失败会返回类型化error。
	Process(ctx context.Context, payload *EncryptedPayload, opts *RunOptions) (*InferenceOutcome, *ProofArtifact, error)

	// ProcessWithProgress 执行流程并向进度流发送阶段事件
	//
	// progress为有界缓冲通道；缓冲满时事件被丢弃而非阻塞流水线。
	// 调用方通过ctx取消订阅，流水线不持有通道所有权。
	ProcessWithProgress(ctx context.Context, payload *EncryptedPayload, opts *RunOptions, progress chan<- StageEvent) (*InferenceOutcome, *ProofArtifact, error)

	// GetMetrics 获取指标快照（只读，可与在途请求并发调用）
	GetMetrics() *MetricsSnapshot
}
