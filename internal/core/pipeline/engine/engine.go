// Package engine 提供加密推理执行引擎实现
//
// 📋 **计算引擎 (Compute Engine)**
//
// 🎯 **核心职责**：
// - 准入控制：并发会话数受信号量约束，满载时拒绝而非排队堆积
// - 执行编排：解密 → 模型加载 → 计算 → 输出加密，逐阶段计时
// - 超时处理：请求级超时；超时时已产出部分字节则返回PARTIAL
// - 失败封装：解密/计算失败以FAILED状态结果表达，不跨边界抛出内部错误
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	"github.com/zkcipherai/v1/internal/core/pipeline/codec"
	"github.com/zkcipherai/v1/internal/core/pipeline/model"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// bytesPerToken 输入token估算：约4字节一个token
const bytesPerToken = 4

// computeReply 后端计算的带外返回
type computeReply struct {
	result *pipeline.ComputeResult
	err    error
}

// ComputeEngine 加密推理执行引擎
type ComputeEngine struct {
	options  *pipelineconfig.EngineOptions
	codec    *codec.PayloadCodec
	registry *model.Registry
	backend  pipeline.ComputeBackend
	sem      *semaphore.Weighted
	logger   logiface.Logger
}

// NewComputeEngine 创建计算引擎
func NewComputeEngine(
	options *pipelineconfig.EngineOptions,
	payloadCodec *codec.PayloadCodec,
	registry *model.Registry,
	backend pipeline.ComputeBackend,
	logger logiface.Logger,
) *ComputeEngine {
	return &ComputeEngine{
		options:  options,
		codec:    payloadCodec,
		registry: registry,
		backend:  backend,
		sem:      semaphore.NewWeighted(options.MaxConcurrent),
		logger:   logger,
	}
}

// newInferenceID 生成推理标识
func newInferenceID() string {
	return "inf_" + uuid.NewString()
}

// failedOutcome 构造FAILED结果
func failedOutcome(inferenceID, modelID, reason string, startedAt time.Time, breakdown map[string]int64) *pipeline.InferenceOutcome {
	if breakdown == nil {
		breakdown = map[string]int64{}
	}
	return &pipeline.InferenceOutcome{
		InferenceID: inferenceID,
		ModelID:     modelID,
		Status:      pipeline.StatusFailed,
		LatencyMs:   time.Since(startedAt).Milliseconds(),
		Metadata: pipeline.OutcomeMetadata{
			LatencyBreakdown: breakdown,
			FailureReason:    reason,
		},
	}
}

// Run 执行一次加密推理
//
// 🎯 **边界约定**：
// - 载荷结构非法：返回(nil, 类型化校验错误)，不消耗任何资源
// - 准入拒绝：返回(FAILED结果, ErrSessionOverloaded)
// - 解密/计算失败：返回(FAILED结果, nil)，原因在Metadata.FailureReason
// - 超时：已产出部分字节时返回PARTIAL结果，否则FAILED
func (e *ComputeEngine) Run(ctx context.Context, payload *pipeline.EncryptedPayload, opts *pipeline.RunOptions) (*pipeline.InferenceOutcome, error) {
	if e.backend == nil {
		return nil, ErrBackendNotConfigured
	}
	if opts == nil {
		opts = &pipeline.RunOptions{}
	}

	// 1. 结构校验（准入前，不消耗资源）
	if err := e.codec.Validate(payload); err != nil {
		return nil, err
	}

	// 2. 准入控制
	inferenceID := newInferenceID()
	startedAt := time.Now()

	if err := e.acquireSession(ctx); err != nil {
		e.logger.Warnf("推理会话准入被拒绝: inferenceID=%s maxConcurrent=%d", inferenceID, e.options.MaxConcurrent)
		outcome := failedOutcome(inferenceID, opts.ModelID, "session overloaded", startedAt, nil)
		return outcome, err
	}
	defer e.sem.Release(1)

	// 3. 模型解析与加载
	breakdown := map[string]int64{}

	modelID := opts.ModelID
	if modelID == "" {
		modelID = e.options.DefaultModelID
	}

	profile, err := e.registry.Get(modelID)
	if err != nil {
		return failedOutcome(inferenceID, modelID, err.Error(), startedAt, breakdown), nil
	}

	loadStart := time.Now()
	if _, err := e.registry.EnsureLoaded(ctx, modelID); err != nil {
		return failedOutcome(inferenceID, modelID, err.Error(), startedAt, breakdown), nil
	}
	breakdown["model_load_ms"] = time.Since(loadStart).Milliseconds()

	// 4. 解密
	decryptStart := time.Now()
	plaintext, err := e.codec.Decrypt(payload, opts.Key)
	if err != nil {
		e.logger.Warnf("载荷解密失败: inferenceID=%s err=%v", inferenceID, err)
		return failedOutcome(inferenceID, modelID, fmt.Sprintf("解密失败: %v", err), startedAt, breakdown), nil
	}
	breakdown["decrypt_ms"] = time.Since(decryptStart).Milliseconds()

	inputTokens := (len(plaintext) + bytesPerToken - 1) / bytesPerToken

	// 5. 带超时的后端计算
	timeoutMs := opts.TimeoutMs
	if timeoutMs <= 0 {
		timeoutMs = e.options.TimeoutMs
	}
	computeCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	computeStart := time.Now()
	replyCh := make(chan computeReply, 1)
	go func() {
		result, computeErr := e.backend.Compute(computeCtx, plaintext, profile)
		replyCh <- computeReply{result: result, err: computeErr}
	}()

	// 截止在引擎边界强制执行，不依赖后端响应ctx；
	// 截止后才到达的回复由带缓冲通道吸收，不得升格为SUCCESS
	var reply computeReply
	select {
	case reply = <-replyCh:
		if reply.err == nil && computeCtx.Err() != nil {
			reply.err = computeCtx.Err()
		}
	case <-computeCtx.Done():
		reply = computeReply{err: computeCtx.Err()}
	}
	breakdown["compute_ms"] = time.Since(computeStart).Milliseconds()

	if reply.err != nil {
		return e.handleComputeFailure(inferenceID, modelID, profile, payload, opts, reply, inputTokens, startedAt, breakdown)
	}

	// 6. 输出加密
	outcome, encErr := e.sealOutcome(inferenceID, modelID, profile, payload, opts, reply.result, inputTokens, pipeline.StatusSuccess, startedAt, breakdown)
	if encErr != nil {
		return failedOutcome(inferenceID, modelID, fmt.Sprintf("输出加密失败: %v", encErr), startedAt, breakdown), nil
	}
	return outcome, nil
}

// acquireSession 获取并发会话槽位
//
// AdmissionWaitMs=0时立即判定；否则在有界等待窗口内排队，
// ctx取消会释放排队（semaphore.Acquire保证不泄漏槽位）。
func (e *ComputeEngine) acquireSession(ctx context.Context) error {
	if e.options.AdmissionWaitMs <= 0 {
		if !e.sem.TryAcquire(1) {
			return WrapSessionOverloadedError(e.options.MaxConcurrent, 0)
		}
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(e.options.AdmissionWaitMs)*time.Millisecond)
	defer cancel()

	if err := e.sem.Acquire(waitCtx, 1); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return ctx.Err()
		}
		return WrapSessionOverloadedError(e.options.MaxConcurrent, e.options.AdmissionWaitMs)
	}
	return nil
}

// handleComputeFailure 处理后端计算失败/超时
func (e *ComputeEngine) handleComputeFailure(
	inferenceID, modelID string,
	profile *pipeline.ModelProfile,
	payload *pipeline.EncryptedPayload,
	opts *pipeline.RunOptions,
	reply computeReply,
	inputTokens int,
	startedAt time.Time,
	breakdown map[string]int64,
) (*pipeline.InferenceOutcome, error) {
	deadline := errors.Is(reply.err, context.DeadlineExceeded)

	// 超时且后端已产出部分字节 → PARTIAL，部分输出照常加密返回
	if deadline && reply.result != nil && len(reply.result.Output) > 0 {
		e.logger.Warnf("推理超时但已产出部分结果: inferenceID=%s partialBytes=%d", inferenceID, len(reply.result.Output))
		outcome, encErr := e.sealOutcome(inferenceID, modelID, profile, payload, opts, reply.result, inputTokens, pipeline.StatusPartial, startedAt, breakdown)
		if encErr != nil {
			return failedOutcome(inferenceID, modelID, fmt.Sprintf("部分输出加密失败: %v", encErr), startedAt, breakdown), nil
		}
		outcome.Metadata.FailureReason = ErrDeadlineExceeded.Error()
		return outcome, nil
	}

	reason := reply.err.Error()
	if deadline {
		reason = ErrDeadlineExceeded.Error()
	}
	e.logger.Warnf("推理失败: inferenceID=%s modelID=%s reason=%s", inferenceID, modelID, reason)

	outcome := failedOutcome(inferenceID, modelID, reason, startedAt, breakdown)
	outcome.Metadata.InputTokens = inputTokens
	return outcome, nil
}

// sealOutcome 加密输出并构造最终结果
//
// 输出密钥约定：输出沿用输入载荷的加密模式，密钥取opts.Key，
// 与解密输入时使用的是同一把；调用方未提供密钥时按编解码器的
// 解析规则处理——RequireExplicitKey=false（模拟配置）下回退为
// 进程内派生密钥，生产配置下返回ErrMissingKey并封装为FAILED结果。
func (e *ComputeEngine) sealOutcome(
	inferenceID, modelID string,
	profile *pipeline.ModelProfile,
	payload *pipeline.EncryptedPayload,
	opts *pipeline.RunOptions,
	result *pipeline.ComputeResult,
	inputTokens int,
	status pipeline.OutcomeStatus,
	startedAt time.Time,
	breakdown map[string]int64,
) (*pipeline.InferenceOutcome, error) {
	encryptStart := time.Now()
	// 输出沿用输入载荷的加密模式与密钥
	encryptedOutput, err := e.codec.Encrypt(result.Output, opts.Key, payload.Mode)
	if err != nil {
		return nil, err
	}
	breakdown["encrypt_ms"] = time.Since(encryptStart).Milliseconds()

	// 合并后端内部耗时明细
	for k, v := range result.LatencyBreakdown {
		breakdown[k] = v
	}

	// 输出token以模型最大序列长度为上界
	outputTokens := result.OutputTokens
	if outputTokens > profile.MaxSequenceLength {
		outputTokens = profile.MaxSequenceLength
	}

	return &pipeline.InferenceOutcome{
		InferenceID:     inferenceID,
		EncryptedOutput: encryptedOutput,
		ModelID:         modelID,
		Status:          status,
		LatencyMs:       time.Since(startedAt).Milliseconds(),
		Metadata: pipeline.OutcomeMetadata{
			InputTokens:      inputTokens,
			OutputTokens:     outputTokens,
			LatencyBreakdown: breakdown,
		},
	}, nil
}

// GetStats 获取引擎统计信息
func (e *ComputeEngine) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"max_concurrent":    e.options.MaxConcurrent,
		"timeout_ms":        e.options.TimeoutMs,
		"admission_wait_ms": e.options.AdmissionWaitMs,
		"default_model_id":  e.options.DefaultModelID,
	}
}
