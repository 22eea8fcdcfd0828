package zkproof

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkcipherai/v1/internal/core/pipeline/testutil"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// recordingSink 记录落地批次的测试sink
type recordingSink struct {
	mu      sync.Mutex
	records []*BatchRecord
	err     error
}

func (s *recordingSink) RecordBatch(record *BatchRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, record)
	return nil
}

func (s *recordingSink) Records() []*BatchRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*BatchRecord{}, s.records...)
}

func newTestBatcher(t *testing.T, sink BatchSink) *AggregationBatcher {
	t.Helper()
	options := testutil.NewTestPipelineOptions()
	return NewAggregationBatcher(&options.Aggregation, sink, testutil.NewTestLogger())
}

func TestBatcher_AggregatesAtThreshold(t *testing.T) {
	sink := &recordingSink{}
	batcher := newTestBatcher(t, sink)

	first := testutil.NewVerifiedTestArtifact("proof_1")
	second := testutil.NewVerifiedTestArtifact("proof_2")
	third := testutil.NewVerifiedTestArtifact("proof_3")

	// 前两次提交只入队
	require.NoError(t, batcher.Offer(first))
	require.NoError(t, batcher.Offer(second))
	assert.Equal(t, 2, batcher.QueueSize())
	assert.False(t, first.Aggregation.Aggregated)
	assert.False(t, second.Aggregation.Aggregated)

	// 第三次提交触发批次形成（默认阈值3）：聚合结果只落在触发证明上
	require.NoError(t, batcher.Offer(third))
	assert.Equal(t, 0, batcher.QueueSize())

	assert.True(t, third.Aggregation.Aggregated)
	assert.Equal(t, 3, third.Aggregation.BatchSize)
	assert.NotEmpty(t, third.Aggregation.BatchID)

	// 先入队的成员保持未聚合
	assert.False(t, first.Aggregation.Aggregated)
	assert.False(t, second.Aggregation.Aggregated)
	assert.Empty(t, first.Aggregation.BatchID)
	assert.Empty(t, second.Aggregation.BatchID)

	// 批次落地一次，成员标识完整
	records := sink.Records()
	require.Len(t, records, 1)
	assert.Equal(t, third.Aggregation.BatchID, records[0].BatchID)
	assert.Equal(t, 3, records[0].Size)
	assert.ElementsMatch(t, []string{"proof_1", "proof_2", "proof_3"}, records[0].ProofIDs)
}

func TestBatcher_CompressionBonus(t *testing.T) {
	batcher := newTestBatcher(t, nil)

	artifacts := make([]*pipeline.ProofArtifact, 3)
	oldRatios := make([]float64, 3)
	oldSizes := make([]int, 3)
	for i := range artifacts {
		artifacts[i] = testutil.NewVerifiedTestArtifact(fmt.Sprintf("proof_%d", i))
		oldRatios[i] = artifacts[i].CompressionRatio
		oldSizes[i] = artifacts[i].ProofSizeBytes
		require.NoError(t, batcher.Offer(artifacts[i]))
	}

	// 先入队的成员不吃压缩奖励
	for i := 0; i < 2; i++ {
		assert.Equal(t, oldRatios[i], artifacts[i].CompressionRatio)
		assert.Equal(t, oldSizes[i], artifacts[i].ProofSizeBytes)
	}

	// 触发证明：压缩比例严格改善且不越过上限
	trigger := artifacts[2]
	assert.Greater(t, trigger.CompressionRatio, oldRatios[2])
	assert.LessOrEqual(t, trigger.CompressionRatio, aggregatedRatioCap)

	// r=0.72, bonus=0.25 → r'=0.79；大小按存留比例缩小
	assert.InDelta(t, 0.79, trigger.CompressionRatio, 1e-9)
	assert.Less(t, trigger.ProofSizeBytes, oldSizes[2])
	assert.GreaterOrEqual(t, trigger.ProofSizeBytes, 1)
}

func TestBatcher_RejectsUnverified(t *testing.T) {
	batcher := newTestBatcher(t, nil)

	pending := testutil.NewTestArtifact("proof_pending")
	assert.ErrorIs(t, batcher.Offer(pending), ErrArtifactNotVerified)

	failed := testutil.NewTestArtifact("proof_failed")
	failed.MarkFailed("compute timeout")
	assert.ErrorIs(t, batcher.Offer(failed), ErrArtifactNotVerified)

	assert.ErrorIs(t, batcher.Offer(nil), ErrArtifactNotVerified)
	assert.Equal(t, 0, batcher.QueueSize())
}

func TestBatcher_RejectsAlreadyAggregated(t *testing.T) {
	batcher := newTestBatcher(t, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, batcher.Offer(testutil.NewVerifiedTestArtifact(fmt.Sprintf("proof_%d", i))))
	}

	aggregated := testutil.NewVerifiedTestArtifact("proof_again")
	aggregated.Aggregation.Aggregated = true
	aggregated.Aggregation.BatchID = "batch_previous"
	assert.ErrorIs(t, batcher.Offer(aggregated), ErrAlreadyAggregated)
}

func TestBatcher_Disabled(t *testing.T) {
	options := testutil.NewTestPipelineOptions()
	options.Aggregation.Enabled = false
	batcher := NewAggregationBatcher(&options.Aggregation, nil, testutil.NewTestLogger())

	for i := 0; i < 5; i++ {
		artifact := testutil.NewVerifiedTestArtifact(fmt.Sprintf("proof_%d", i))
		require.NoError(t, batcher.Offer(artifact))
		assert.False(t, artifact.Aggregation.Aggregated)
	}
	assert.Equal(t, 0, batcher.QueueSize())
}

func TestBatcher_ConcurrentOffers(t *testing.T) {
	sink := &recordingSink{}
	batcher := newTestBatcher(t, sink)

	const total = 30 // 阈值3的整数倍
	artifacts := make([]*pipeline.ProofArtifact, total)
	for i := range artifacts {
		artifacts[i] = testutil.NewVerifiedTestArtifact(fmt.Sprintf("proof_%d", i))
	}

	var wg sync.WaitGroup
	for _, artifact := range artifacts {
		wg.Add(1)
		go func(a *pipeline.ProofArtifact) {
			defer wg.Done()
			assert.NoError(t, batcher.Offer(a))
		}(artifact)
	}
	wg.Wait()

	// 每个批次恰好由一个触发证明携带聚合结果
	aggregated := 0
	for _, artifact := range artifacts {
		if artifact.Aggregation.Aggregated {
			aggregated++
			assert.Equal(t, 3, artifact.Aggregation.BatchSize)
		}
	}
	assert.Equal(t, total/3, aggregated)
	assert.Equal(t, 0, batcher.QueueSize())

	// 批次记录互不重叠且完整覆盖全部证明
	records := sink.Records()
	require.Len(t, records, total/3)
	var covered []string
	for _, record := range records {
		assert.Equal(t, 3, record.Size)
		covered = append(covered, record.ProofIDs...)
	}
	expected := make([]string, 0, total)
	for _, artifact := range artifacts {
		expected = append(expected, artifact.ProofID)
	}
	assert.ElementsMatch(t, expected, covered)
}
