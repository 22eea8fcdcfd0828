package coordinator

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	hashcore "github.com/zkcipherai/v1/internal/core/infrastructure/crypto/hash"
	"github.com/zkcipherai/v1/internal/core/pipeline/codec"
	"github.com/zkcipherai/v1/internal/core/pipeline/engine"
	"github.com/zkcipherai/v1/internal/core/pipeline/metrics"
	"github.com/zkcipherai/v1/internal/core/pipeline/model"
	"github.com/zkcipherai/v1/internal/core/pipeline/store"
	"github.com/zkcipherai/v1/internal/core/pipeline/testutil"
	"github.com/zkcipherai/v1/internal/core/pipeline/zkproof"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// testHarness 完整流水线测试装置
type testHarness struct {
	coordinator *Coordinator
	codec       *codec.PayloadCodec
	backend     *testutil.MockComputeBackend
	ledger      *testutil.MockLedgerSubmitter
	archive     *store.ProofArchive
	options     *pipelineconfig.PipelineOptions
}

func newTestHarness(t *testing.T, mutate func(*pipelineconfig.PipelineOptions)) *testHarness {
	t.Helper()

	options := testutil.NewTestPipelineOptions()
	if mutate != nil {
		mutate(options)
	}

	logger := testutil.NewTestLogger()
	hashManager := hashcore.NewHashService()

	payloadCodec := codec.NewPayloadCodec(&options.Codec, logger)
	registry := model.NewRegistry(&options.Engine, logger)
	require.NoError(t, registry.Register(testutil.NewTestModelProfile(options.Engine.DefaultModelID)))

	backend := &testutil.MockComputeBackend{}
	computeEngine := engine.NewComputeEngine(&options.Engine, payloadCodec, registry, backend, logger)

	catalog, err := zkproof.NewCatalog(&options.Proof, logger)
	require.NoError(t, err)
	generator := zkproof.NewProofGenerator(&options.Proof, catalog, hashManager, logger)
	verifier := zkproof.NewProofVerifier(&options.Proof, catalog, hashManager, logger)

	archive, err := store.NewProofArchive(&store.ArchiveOptions{InMemory: true}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = archive.Close() })

	batcher := zkproof.NewAggregationBatcher(&options.Aggregation, archive, logger)
	aggregator := metrics.NewAggregator(prometheus.NewRegistry(), logger)
	ledger := &testutil.MockLedgerSubmitter{}

	coordinator := NewCoordinator(CoordinatorParams{
		Options:     options,
		Engine:      computeEngine,
		Registry:    registry,
		Catalog:     catalog,
		Generator:   generator,
		Verifier:    verifier,
		Batcher:     batcher,
		Aggregator:  aggregator,
		Archive:     archive,
		HashManager: hashManager,
		Bus:         EventBus.New(),
		Ledger:      ledger,
		Logger:      logger,
	})

	return &testHarness{
		coordinator: coordinator,
		codec:       payloadCodec,
		backend:     backend,
		ledger:      ledger,
		archive:     archive,
		options:     options,
	}
}

// encrypt 用模拟密钥构造可解密载荷
func (h *testHarness) encrypt(t *testing.T, plaintext []byte) *pipeline.EncryptedPayload {
	t.Helper()
	payload, err := h.codec.Encrypt(plaintext, nil, pipeline.ModeAESGCM)
	require.NoError(t, err)
	return payload
}

func TestCoordinator_ProcessSuccess(t *testing.T) {
	h := newTestHarness(t, nil)
	payload := h.encrypt(t, testutil.RandomBytes(512))

	outcome, artifact, err := h.coordinator.Process(context.Background(), payload, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.NotNil(t, artifact)

	assert.Equal(t, pipeline.StatusSuccess, outcome.Status)
	assert.Equal(t, pipeline.ProofStatusVerified, artifact.Status)
	assert.NotEmpty(t, artifact.ProofID)

	// 已验证的产物归档且移交账本
	loaded, err := h.archive.GetArtifact(artifact.ProofID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.ProofStatusVerified, loaded.Status)
	require.Len(t, h.ledger.Submitted(), 1)
	assert.Equal(t, artifact.ProofID, h.ledger.Submitted()[0].ProofID)
}

func TestCoordinator_HashCommitmentsOverCiphertext(t *testing.T) {
	h := newTestHarness(t, nil)
	payload := h.encrypt(t, testutil.RandomBytes(256))

	outcome, artifact, err := h.coordinator.Process(context.Background(), payload, nil)
	require.NoError(t, err)
	require.NotNil(t, artifact)

	// 公开信号的输入/输出哈希对密文计算，证明层不接触明文
	hashManager := hashcore.NewHashService()
	expectedInput := "0x" + hex.EncodeToString(hashManager.SHA256(payload.Ciphertext))
	expectedOutput := "0x" + hex.EncodeToString(hashManager.SHA256(outcome.EncryptedOutput.Ciphertext))

	require.Len(t, artifact.PublicSignals, 4)
	assert.Equal(t, expectedInput, artifact.PublicSignals[0])
	assert.Equal(t, expectedOutput, artifact.PublicSignals[1])
	assert.Equal(t, outcome.InferenceID, artifact.PublicSignals[3])
	assert.Equal(t, expectedInput, artifact.InputHash)
}

func TestCoordinator_ComputeFailure(t *testing.T) {
	h := newTestHarness(t, nil)
	h.backend.Err = assert.AnError
	payload := h.encrypt(t, testutil.RandomBytes(64))

	outcome, artifact, err := h.coordinator.Process(context.Background(), payload, nil)
	require.NoError(t, err)
	require.NotNil(t, outcome)

	// 推理失败：无证明产物，不归档不提交
	assert.Equal(t, pipeline.StatusFailed, outcome.Status)
	assert.Nil(t, artifact)
	assert.Empty(t, h.ledger.Submitted())

	snapshot := h.coordinator.GetMetrics()
	assert.Equal(t, int64(1), snapshot.TotalInferences)
	assert.Equal(t, int64(0), snapshot.TotalProofs)
	assert.Equal(t, 0.0, snapshot.SuccessRate)
}

func TestCoordinator_InvalidPayload(t *testing.T) {
	h := newTestHarness(t, nil)

	outcome, artifact, err := h.coordinator.Process(context.Background(), &pipeline.EncryptedPayload{
		Mode: pipeline.ModeAESGCM,
	}, nil)
	assert.ErrorIs(t, err, codec.ErrEmptyCiphertext)
	assert.Nil(t, outcome)
	assert.Nil(t, artifact)
}

func TestCoordinator_PartialOutcomeStillProven(t *testing.T) {
	h := newTestHarness(t, nil)
	h.backend.Delay = 300 * time.Millisecond
	h.backend.PartialOutput = []byte("partial tokens")
	payload := h.encrypt(t, testutil.RandomBytes(128))

	outcome, artifact, err := h.coordinator.Process(context.Background(), payload, &pipeline.RunOptions{TimeoutMs: 30})
	require.NoError(t, err)
	require.NotNil(t, outcome)
	require.Equal(t, pipeline.StatusPartial, outcome.Status)

	// PARTIAL结果同样进入证明阶段，承诺覆盖部分输出的密文
	require.NotNil(t, artifact)
	assert.Equal(t, pipeline.ProofStatusVerified, artifact.Status)
}

func TestCoordinator_ProcessWithProgress(t *testing.T) {
	h := newTestHarness(t, nil)
	payload := h.encrypt(t, testutil.RandomBytes(512))

	progress := make(chan pipeline.StageEvent, 16)
	_, artifact, err := h.coordinator.ProcessWithProgress(context.Background(), payload, nil, progress)
	require.NoError(t, err)
	require.NotNil(t, artifact)
	close(progress)

	stages := make([]string, 0, 8)
	for event := range progress {
		assert.NotEmpty(t, event.InferenceID)
		stages = append(stages, event.Stage)
	}
	assert.Equal(t, []string{"compute", "select_circuit", "generate_proof", "verify", "aggregate"}, stages)
}

func TestCoordinator_ProgressBufferFullNeverBlocks(t *testing.T) {
	h := newTestHarness(t, nil)
	payload := h.encrypt(t, testutil.RandomBytes(64))

	// 容量1且无人消费：多余事件被丢弃，流水线不得阻塞
	progress := make(chan pipeline.StageEvent, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _, err := h.coordinator.ProcessWithProgress(context.Background(), payload, nil, progress)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		t.Fatal("进度流缓冲满时流水线被阻塞")
	}
	assert.Len(t, progress, 1)
}

func TestCoordinator_AggregationAcrossRequests(t *testing.T) {
	h := newTestHarness(t, func(options *pipelineconfig.PipelineOptions) {
		options.Proof.EnableCryptographicCheck = false
	})

	var artifacts []*pipeline.ProofArtifact
	for i := 0; i < 3; i++ {
		payload := h.encrypt(t, testutil.RandomBytes(256))
		_, artifact, err := h.coordinator.Process(context.Background(), payload, nil)
		require.NoError(t, err)
		require.NotNil(t, artifact)
		artifacts = append(artifacts, artifact)
	}

	// 第三个请求触发批次形成（默认阈值3）；前两个请求的产物保持未聚合
	third := artifacts[2]
	require.True(t, third.Aggregation.Aggregated)
	assert.Equal(t, 3, third.Aggregation.BatchSize)
	assert.False(t, artifacts[0].Aggregation.Aggregated)
	assert.False(t, artifacts[1].Aggregation.Aggregated)

	// 批次记录与聚合后的产物状态均已归档
	record, err := h.archive.GetBatch(third.Aggregation.BatchID)
	require.NoError(t, err)
	assert.Equal(t, 3, record.Size)

	loaded, err := h.archive.GetArtifact(third.ProofID)
	require.NoError(t, err)
	assert.True(t, loaded.Aggregation.Aggregated)

	assert.Equal(t, 0, h.coordinator.GetMetrics().QueueSize)
}

func TestCoordinator_LedgerFailureDoesNotFailPipeline(t *testing.T) {
	h := newTestHarness(t, nil)
	h.ledger.Err = assert.AnError
	payload := h.encrypt(t, testutil.RandomBytes(128))

	outcome, artifact, err := h.coordinator.Process(context.Background(), payload, nil)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusSuccess, outcome.Status)
	assert.Equal(t, pipeline.ProofStatusVerified, artifact.Status)
}

func TestCoordinator_GetMetrics(t *testing.T) {
	h := newTestHarness(t, func(options *pipelineconfig.PipelineOptions) {
		options.Proof.EnableCryptographicCheck = false
	})

	for i := 0; i < 2; i++ {
		payload := h.encrypt(t, testutil.RandomBytes(512))
		_, _, err := h.coordinator.Process(context.Background(), payload, nil)
		require.NoError(t, err)
	}

	snapshot := h.coordinator.GetMetrics()
	assert.Equal(t, int64(2), snapshot.TotalInferences)
	assert.Equal(t, int64(2), snapshot.TotalProofs)
	assert.Equal(t, 3, snapshot.CircuitCount)
	assert.Greater(t, snapshot.TotalTokens, int64(0))
	assert.Greater(t, snapshot.TotalConstraints, int64(0))
	assert.InDelta(t, 1.0, snapshot.SuccessRate, 1e-9)

	// 同一模型重复使用：首次未命中，其后命中
	assert.InDelta(t, 0.5, snapshot.CacheHitRate, 1e-9)
}
