// Package coordinator 提供加密推理与证明流水线的编排实现
//
// 📋 **流水线编排 (Pipeline Orchestration)**
//
// 🎯 **控制流**：
//   decrypt → compute → encrypt（引擎内完成）
//   → select_circuit → generate_proof → verify → aggregate（证明层）
//
// 每个阶段同步返回；阶段事件同时投递到事件总线与调用方的进度流。
// 进度流为有界通道，缓冲满时丢弃新事件，从不阻塞流水线。
package coordinator

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/asaskevich/EventBus"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	"github.com/zkcipherai/v1/internal/core/pipeline/engine"
	"github.com/zkcipherai/v1/internal/core/pipeline/metrics"
	"github.com/zkcipherai/v1/internal/core/pipeline/model"
	"github.com/zkcipherai/v1/internal/core/pipeline/store"
	"github.com/zkcipherai/v1/internal/core/pipeline/zkproof"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/crypto"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// TopicStageEvent 阶段事件的总线主题
const TopicStageEvent = "pipeline:stage"

// 阶段名称
const (
	stageCompute       = "compute"
	stageSelectCircuit = "select_circuit"
	stageGenerateProof = "generate_proof"
	stageVerify        = "verify"
	stageAggregate     = "aggregate"
)

// Coordinator 流水线协调器
//
// 🎯 **职责边界**：编排各组件并维护证明产物的状态转换；
// 不实现任何阶段的业务语义，失败语义由组件自身定义。
type Coordinator struct {
	options     *pipelineconfig.PipelineOptions
	engine      *engine.ComputeEngine
	registry    *model.Registry
	catalog     *zkproof.Catalog
	generator   *zkproof.ProofGenerator
	verifier    *zkproof.ProofVerifier
	batcher     *zkproof.AggregationBatcher
	aggregator  *metrics.Aggregator
	archive     *store.ProofArchive
	hashManager crypto.HashManager
	bus         EventBus.Bus
	ledger      pipeline.LedgerSubmitter
	logger      logiface.Logger
}

// 编译期接口断言
var _ pipeline.InferencePipeline = (*Coordinator)(nil)

// CoordinatorParams 协调器构造参数
//
// archive、bus、ledger均可为nil：归档/事件/账本提交逐项可选。
type CoordinatorParams struct {
	Options     *pipelineconfig.PipelineOptions
	Engine      *engine.ComputeEngine
	Registry    *model.Registry
	Catalog     *zkproof.Catalog
	Generator   *zkproof.ProofGenerator
	Verifier    *zkproof.ProofVerifier
	Batcher     *zkproof.AggregationBatcher
	Aggregator  *metrics.Aggregator
	Archive     *store.ProofArchive
	HashManager crypto.HashManager
	Bus         EventBus.Bus
	Ledger      pipeline.LedgerSubmitter
	Logger      logiface.Logger
}

// NewCoordinator 创建流水线协调器
func NewCoordinator(params CoordinatorParams) *Coordinator {
	return &Coordinator{
		options:     params.Options,
		engine:      params.Engine,
		registry:    params.Registry,
		catalog:     params.Catalog,
		generator:   params.Generator,
		verifier:    params.Verifier,
		batcher:     params.Batcher,
		aggregator:  params.Aggregator,
		archive:     params.Archive,
		hashManager: params.HashManager,
		bus:         params.Bus,
		ledger:      params.Ledger,
		logger:      params.Logger,
	}
}

// Process 执行完整的加密推理+证明流程
func (c *Coordinator) Process(ctx context.Context, payload *pipeline.EncryptedPayload, opts *pipeline.RunOptions) (*pipeline.InferenceOutcome, *pipeline.ProofArtifact, error) {
	return c.ProcessWithProgress(ctx, payload, opts, nil)
}

// ProcessWithProgress 执行流程并向进度流发送阶段事件
func (c *Coordinator) ProcessWithProgress(ctx context.Context, payload *pipeline.EncryptedPayload, opts *pipeline.RunOptions, progress chan<- pipeline.StageEvent) (*pipeline.InferenceOutcome, *pipeline.ProofArtifact, error) {
	// ========== 推理阶段（decrypt/compute/encrypt在引擎内完成） ==========
	computeStart := time.Now()
	outcome, err := c.engine.Run(ctx, payload, opts)
	if err != nil && outcome == nil {
		// 载荷校验失败：无结果，类型化错误直接上抛
		return nil, nil, err
	}

	success := outcome.Status == pipeline.StatusSuccess
	c.emitStage(progress, outcome.InferenceID, stageCompute, time.Since(computeStart).Milliseconds(), success)
	c.recordInference(outcome)

	if err != nil {
		// 准入拒绝：FAILED结果 + 类型化错误，证明阶段不启动
		return outcome, nil, err
	}
	if outcome.Status == pipeline.StatusFailed {
		return outcome, nil, nil
	}

	// ========== 证明阶段（PARTIAL结果同样生成证明，承诺覆盖部分输出） ==========
	artifact := c.runProofStages(ctx, payload, outcome, progress)

	// 归档最终状态的产物
	if c.archive != nil && artifact != nil {
		if saveErr := c.archive.SaveArtifact(artifact); saveErr != nil {
			c.logger.Errorf("证明产物归档失败: proofID=%s err=%v", artifact.ProofID, saveErr)
		}
	}

	// 已验证的产物移交账本提交器（外部实现，失败不回滚流水线结果）
	if c.ledger != nil && artifact != nil && artifact.Status == pipeline.ProofStatusVerified {
		if subErr := c.ledger.SubmitProofRecord(ctx, artifact); subErr != nil {
			c.logger.Errorf("账本提交失败: proofID=%s err=%v", artifact.ProofID, subErr)
		}
	}

	return outcome, artifact, nil
}

// runProofStages 执行电路选择、证明生成、验证与聚合
func (c *Coordinator) runProofStages(ctx context.Context, payload *pipeline.EncryptedPayload, outcome *pipeline.InferenceOutcome, progress chan<- pipeline.StageEvent) *pipeline.ProofArtifact {
	inferenceID := outcome.InferenceID

	// 哈希承诺对密文计算：证明层不接触任何明文
	inputHash := "0x" + hex.EncodeToString(c.hashManager.SHA256(payload.Ciphertext))
	outputHash := "0x" + hex.EncodeToString(c.hashManager.SHA256(outcome.EncryptedOutput.Ciphertext))

	// 电路选择
	selectStart := time.Now()
	complexityScore := outcome.Metadata.InputTokens + outcome.Metadata.OutputTokens
	profile := c.catalog.Select(complexityScore)
	c.emitStage(progress, inferenceID, stageSelectCircuit, time.Since(selectStart).Milliseconds(), true)

	complexityFactor := 1.0
	if modelProfile, err := c.registry.Get(outcome.ModelID); err == nil {
		complexityFactor = modelProfile.ComplexityFactor
	}

	// 证明生成
	generateStart := time.Now()
	artifact, err := c.generator.Generate(ctx, &zkproof.ProofInput{
		InferenceID:      inferenceID,
		ModelID:          outcome.ModelID,
		InputHash:        inputHash,
		OutputHash:       outputHash,
		Timestamp:        time.Now().Unix(),
		InputTokens:      outcome.Metadata.InputTokens,
		OutputTokens:     outcome.Metadata.OutputTokens,
		ComplexityFactor: complexityFactor,
	})
	if err != nil {
		c.logger.Errorf("证明生成输入非法: inferenceID=%s err=%v", inferenceID, err)
		c.emitStage(progress, inferenceID, stageGenerateProof, time.Since(generateStart).Milliseconds(), false)
		return nil
	}
	c.aggregator.RecordProof(artifact.ConstraintCount)
	c.emitStage(progress, inferenceID, stageGenerateProof, time.Since(generateStart).Milliseconds(), artifact.Status != pipeline.ProofStatusFailed)

	if artifact.Status == pipeline.ProofStatusFailed {
		return artifact
	}

	// 验证：结论终态化，同一产物不会被重复改判
	verifyStart := time.Now()
	verified := c.verifier.Verify(artifact, profile)
	verifyElapsed := time.Since(verifyStart).Milliseconds()
	if verified {
		artifact.MarkVerified(verifyElapsed)
	} else {
		artifact.MarkFailed("proof verification failed")
	}
	c.emitStage(progress, inferenceID, stageVerify, verifyElapsed, verified)

	// 聚合：仅VERIFIED产物参与
	if verified && c.batcher != nil {
		aggregateStart := time.Now()
		if offerErr := c.batcher.Offer(artifact); offerErr != nil {
			c.logger.Warnf("证明聚合提交失败: proofID=%s err=%v", artifact.ProofID, offerErr)
		}
		c.emitStage(progress, inferenceID, stageAggregate, time.Since(aggregateStart).Milliseconds(), artifact.Aggregation.Aggregated)
	}

	return artifact
}

// recordInference 记录推理指标
func (c *Coordinator) recordInference(outcome *pipeline.InferenceOutcome) {
	tokens := outcome.Metadata.InputTokens + outcome.Metadata.OutputTokens
	c.aggregator.RecordInference(outcome.LatencyMs, tokens, outcome.Status == pipeline.StatusSuccess)
}

// emitStage 投递阶段事件到事件总线与进度流
//
// ⚠️ 进度流缓冲满时丢弃事件而非阻塞：进度是尽力而为的旁路信息。
func (c *Coordinator) emitStage(progress chan<- pipeline.StageEvent, inferenceID, stage string, elapsedMs int64, ok bool) {
	event := pipeline.StageEvent{
		InferenceID: inferenceID,
		Stage:       stage,
		ElapsedMs:   elapsedMs,
		OK:          ok,
	}

	if c.bus != nil {
		c.bus.Publish(TopicStageEvent, event)
	}
	if progress != nil {
		select {
		case progress <- event:
		default:
			c.logger.Debugf("进度流缓冲已满，事件被丢弃: inferenceID=%s stage=%s", inferenceID, stage)
		}
	}
}

// GetMetrics 获取指标快照
//
// 聚合器快照叠加组件级子指标，可与在途请求并发调用。
func (c *Coordinator) GetMetrics() *pipeline.MetricsSnapshot {
	snapshot := c.aggregator.Snapshot()
	snapshot.CacheHitRate = c.registry.CacheHitRate()
	snapshot.CircuitCount = c.catalog.Size()
	if c.batcher != nil {
		snapshot.QueueSize = c.batcher.QueueSize()
	}
	return snapshot
}
