package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	"github.com/zkcipherai/v1/internal/core/pipeline/codec"
	"github.com/zkcipherai/v1/internal/core/pipeline/model"
	"github.com/zkcipherai/v1/internal/core/pipeline/testutil"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// testHarness 引擎测试装置
type testHarness struct {
	engine  *ComputeEngine
	codec   *codec.PayloadCodec
	backend pipeline.ComputeBackend
}

// newTestHarness 创建引擎测试装置
func newTestHarness(t *testing.T, engineOpts *pipelineconfig.EngineOptions, backend pipeline.ComputeBackend) *testHarness {
	t.Helper()

	logger := testutil.NewTestLogger()
	payloadCodec := codec.NewPayloadCodec(&pipelineconfig.CodecOptions{
		MaxPayloadBytes:    10 * 1024 * 1024,
		RequireExplicitKey: false,
	}, logger)

	registry := model.NewRegistry(engineOpts, logger)
	require.NoError(t, registry.Register(testutil.NewTestModelProfile(engineOpts.DefaultModelID)))

	return &testHarness{
		engine:  NewComputeEngine(engineOpts, payloadCodec, registry, backend, logger),
		codec:   payloadCodec,
		backend: backend,
	}
}

// defaultEngineOptions 测试用引擎配置
func defaultEngineOptions() *pipelineconfig.EngineOptions {
	return &pipelineconfig.EngineOptions{
		MaxConcurrent:   4,
		TimeoutMs:       5_000,
		AdmissionWaitMs: 0,
		DefaultModelID:  "llama-7b-int8",
		LoadMsPerKCtx:   0,
	}
}

// encryptFixture 构造可解密的测试载荷
func (h *testHarness) encryptFixture(t *testing.T, plaintext []byte) *pipeline.EncryptedPayload {
	t.Helper()
	payload, err := h.codec.Encrypt(plaintext, nil, pipeline.ModeAESGCM)
	require.NoError(t, err)
	return payload
}

// TestComputeEngine_Success 测试完整成功路径
func TestComputeEngine_Success(t *testing.T) {
	h := newTestHarness(t, defaultEngineOptions(), &testutil.MockComputeBackend{})

	plaintext := testutil.RandomBytes(512)
	payload := h.encryptFixture(t, plaintext)

	outcome, err := h.engine.Run(context.Background(), payload, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	assert.Equal(t, pipeline.StatusSuccess, outcome.Status)
	assert.Equal(t, "llama-7b-int8", outcome.ModelID)
	assert.NotEmpty(t, outcome.InferenceID)
	require.NotNil(t, outcome.EncryptedOutput)

	// 512字节 → 128 token
	assert.Equal(t, 128, outcome.Metadata.InputTokens)

	// 耗时明细包含全部四个阶段
	for _, key := range []string{"model_load_ms", "decrypt_ms", "compute_ms", "encrypt_ms"} {
		assert.Contains(t, outcome.Metadata.LatencyBreakdown, key)
	}

	// 输出可用同一密钥解密且回显明文
	decrypted, err := h.codec.Decrypt(outcome.EncryptedOutput, nil)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

// TestComputeEngine_OutputTokenCap 测试输出token受最大序列长度约束
func TestComputeEngine_OutputTokenCap(t *testing.T) {
	backend := &testutil.MockComputeBackend{OutputTokens: 1_000_000}
	h := newTestHarness(t, defaultEngineOptions(), backend)

	payload := h.encryptFixture(t, testutil.RandomBytes(64))
	outcome, err := h.engine.Run(context.Background(), payload, nil)
	require.NoError(t, err)

	// 测试模型MaxSequenceLength=2048
	assert.Equal(t, 2048, outcome.Metadata.OutputTokens)
}

// TestComputeEngine_InvalidPayload 测试结构非法载荷的类型化拒绝
func TestComputeEngine_InvalidPayload(t *testing.T) {
	h := newTestHarness(t, defaultEngineOptions(), &testutil.MockComputeBackend{})

	outcome, err := h.engine.Run(context.Background(), &pipeline.EncryptedPayload{Mode: pipeline.ModeAESGCM}, nil)
	assert.Nil(t, outcome)
	assert.ErrorIs(t, err, codec.ErrEmptyCiphertext)
}

// TestComputeEngine_UnknownModel 测试未注册模型产生FAILED结果
func TestComputeEngine_UnknownModel(t *testing.T) {
	h := newTestHarness(t, defaultEngineOptions(), &testutil.MockComputeBackend{})

	payload := h.encryptFixture(t, testutil.RandomBytes(64))
	outcome, err := h.engine.Run(context.Background(), payload, &pipeline.RunOptions{ModelID: "ghost-model"})

	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, pipeline.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Metadata.FailureReason, "model not found")
	assert.Nil(t, outcome.EncryptedOutput)
}

// TestComputeEngine_BackendFailure 测试后端失败封装为FAILED结果
func TestComputeEngine_BackendFailure(t *testing.T) {
	backend := &testutil.MockComputeBackend{Err: errors.New("cuda out of memory")}
	h := newTestHarness(t, defaultEngineOptions(), backend)

	payload := h.encryptFixture(t, testutil.RandomBytes(64))
	outcome, err := h.engine.Run(context.Background(), payload, nil)

	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusFailed, outcome.Status)
	assert.Contains(t, outcome.Metadata.FailureReason, "cuda out of memory")
}

// TestComputeEngine_Timeout 测试超时语义
func TestComputeEngine_Timeout(t *testing.T) {
	t.Run("无部分输出时超时为FAILED", func(t *testing.T) {
		backend := &testutil.MockComputeBackend{Delay: 200 * time.Millisecond}
		h := newTestHarness(t, defaultEngineOptions(), backend)

		payload := h.encryptFixture(t, testutil.RandomBytes(64))
		outcome, err := h.engine.Run(context.Background(), payload, &pipeline.RunOptions{TimeoutMs: 20})

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusFailed, outcome.Status)
		assert.Equal(t, ErrDeadlineExceeded.Error(), outcome.Metadata.FailureReason)
	})

	t.Run("已产出部分字节时超时为PARTIAL", func(t *testing.T) {
		backend := &testutil.MockComputeBackend{
			Delay:         200 * time.Millisecond,
			PartialOutput: []byte("partial tokens"),
		}
		h := newTestHarness(t, defaultEngineOptions(), backend)

		payload := h.encryptFixture(t, testutil.RandomBytes(64))
		outcome, err := h.engine.Run(context.Background(), payload, &pipeline.RunOptions{TimeoutMs: 20})

		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusPartial, outcome.Status)
		require.NotNil(t, outcome.EncryptedOutput)

		// 部分输出照常加密返回
		decrypted, err := h.codec.Decrypt(outcome.EncryptedOutput, nil)
		require.NoError(t, err)
		assert.Equal(t, []byte("partial tokens"), decrypted)
	})
}

// stubbornBackend 不响应ctx的后端：固定睡满全程后返回完整结果
type stubbornBackend struct {
	delay time.Duration
}

func (b *stubbornBackend) Compute(_ context.Context, plaintext []byte, _ *pipeline.ModelProfile) (*pipeline.ComputeResult, error) {
	time.Sleep(b.delay)
	return &pipeline.ComputeResult{
		Output:       append([]byte(nil), plaintext...),
		InputTokens:  (len(plaintext) + 3) / 4,
		OutputTokens: (len(plaintext) + 3) / 4,
	}, nil
}

// TestComputeEngine_TimeoutEnforcedAtBoundary 测试后端不响应ctx时超时仍然生效
func TestComputeEngine_TimeoutEnforcedAtBoundary(t *testing.T) {
	h := newTestHarness(t, defaultEngineOptions(), &stubbornBackend{delay: 600 * time.Millisecond})

	payload := h.encryptFixture(t, testutil.RandomBytes(64))
	start := time.Now()
	outcome, err := h.engine.Run(context.Background(), payload, &pipeline.RunOptions{TimeoutMs: 50})
	elapsed := time.Since(start)

	require.NoError(t, err)
	require.NotNil(t, outcome)
	assert.Equal(t, pipeline.StatusFailed, outcome.Status)
	assert.Equal(t, ErrDeadlineExceeded.Error(), outcome.Metadata.FailureReason)
	assert.Nil(t, outcome.EncryptedOutput)

	// 截止在引擎边界生效，不等后端睡满全程
	assert.Less(t, elapsed, 400*time.Millisecond)
}

// TestComputeEngine_OutputKeyContract 测试输出沿用输入模式与调用方密钥
func TestComputeEngine_OutputKeyContract(t *testing.T) {
	h := newTestHarness(t, defaultEngineOptions(), &testutil.MockComputeBackend{})

	key := testutil.RandomBytes(32)
	plaintext := testutil.RandomBytes(256)
	payload, err := h.codec.Encrypt(plaintext, key, pipeline.ModeChaCha20Poly1305)
	require.NoError(t, err)

	outcome, err := h.engine.Run(context.Background(), payload, &pipeline.RunOptions{Key: key})
	require.NoError(t, err)
	require.NotNil(t, outcome.EncryptedOutput)
	assert.Equal(t, pipeline.ModeChaCha20Poly1305, outcome.EncryptedOutput.Mode)

	// 调用方密钥可解开输出；派生模拟密钥不能
	decrypted, err := h.codec.Decrypt(outcome.EncryptedOutput, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)

	_, err = h.codec.Decrypt(outcome.EncryptedOutput, nil)
	assert.Error(t, err)
}

// TestComputeEngine_Overload 测试并发上限准入拒绝与容量恢复
func TestComputeEngine_Overload(t *testing.T) {
	opts := defaultEngineOptions()
	opts.MaxConcurrent = 1

	backend := &testutil.MockComputeBackend{Delay: 100 * time.Millisecond}
	h := newTestHarness(t, opts, backend)

	payload := h.encryptFixture(t, testutil.RandomBytes(64))

	var wg sync.WaitGroup
	started := make(chan struct{})

	// 占住唯一槽位
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		outcome, err := h.engine.Run(context.Background(), payload, nil)
		assert.NoError(t, err)
		assert.Equal(t, pipeline.StatusSuccess, outcome.Status)
	}()

	<-started
	time.Sleep(20 * time.Millisecond) // 确保首个请求已进入计算阶段

	// 超限请求：FAILED结果 + 类型化过载错误
	outcome, err := h.engine.Run(context.Background(), payload, nil)
	assert.ErrorIs(t, err, ErrSessionOverloaded)
	require.NotNil(t, outcome)
	assert.Equal(t, pipeline.StatusFailed, outcome.Status)

	wg.Wait()

	// 在途请求完成后容量恢复
	outcome, err = h.engine.Run(context.Background(), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, outcome.Status)
}

// TestComputeEngine_AdmissionWait 测试有界准入等待
func TestComputeEngine_AdmissionWait(t *testing.T) {
	opts := defaultEngineOptions()
	opts.MaxConcurrent = 1
	opts.AdmissionWaitMs = 500

	backend := &testutil.MockComputeBackend{Delay: 50 * time.Millisecond}
	h := newTestHarness(t, opts, backend)

	payload := h.encryptFixture(t, testutil.RandomBytes(64))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.engine.Run(context.Background(), payload, nil)
		assert.NoError(t, err)
	}()

	time.Sleep(10 * time.Millisecond)

	// 等待窗口内槽位会释放，第二个请求应当成功而非被拒
	outcome, err := h.engine.Run(context.Background(), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, outcome.Status)

	wg.Wait()
}
