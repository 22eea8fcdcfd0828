package metrics

import (
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zkcipherai/v1/internal/core/pipeline/testutil"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(prometheus.NewRegistry(), testutil.NewTestLogger())
}

func TestAggregator_ZeroEvents(t *testing.T) {
	aggregator := newTestAggregator()

	// 零事件时所有比率为0，不是NaN
	snapshot := aggregator.Snapshot()
	assert.Equal(t, int64(0), snapshot.TotalInferences)
	assert.Equal(t, 0.0, snapshot.AvgLatencyMs)
	assert.Equal(t, 0.0, snapshot.SuccessRate)
	assert.False(t, math.IsNaN(aggregator.AvgLatencyMs()))
	assert.False(t, math.IsNaN(aggregator.SuccessRate()))
}

func TestAggregator_RollingAverage(t *testing.T) {
	aggregator := newTestAggregator()

	// avg_n = (avg_{n-1}×(n-1) + x_n)/n
	aggregator.RecordInference(100, 10, true)
	assert.InDelta(t, 100.0, aggregator.AvgLatencyMs(), 1e-9)

	aggregator.RecordInference(200, 20, true)
	assert.InDelta(t, 150.0, aggregator.AvgLatencyMs(), 1e-9)

	aggregator.RecordInference(60, 5, true)
	assert.InDelta(t, 120.0, aggregator.AvgLatencyMs(), 1e-9)

	snapshot := aggregator.Snapshot()
	assert.Equal(t, int64(3), snapshot.TotalInferences)
	assert.Equal(t, int64(35), snapshot.TotalTokens)
}

func TestAggregator_SuccessRate(t *testing.T) {
	aggregator := newTestAggregator()

	aggregator.RecordInference(10, 1, true)
	aggregator.RecordInference(10, 1, true)
	aggregator.RecordInference(10, 1, false)

	assert.InDelta(t, 2.0/3.0, aggregator.SuccessRate(), 1e-9)

	aggregator.RecordInference(10, 1, false)
	assert.InDelta(t, 0.5, aggregator.SuccessRate(), 1e-9)
}

func TestAggregator_RecordProof(t *testing.T) {
	aggregator := newTestAggregator()

	aggregator.RecordProof(1048)
	aggregator.RecordProof(512)

	snapshot := aggregator.Snapshot()
	assert.Equal(t, int64(2), snapshot.TotalProofs)
	assert.Equal(t, int64(1560), snapshot.TotalConstraints)
}

func TestAggregator_NilRegistry(t *testing.T) {
	aggregator := NewAggregator(nil, testutil.NewTestLogger())

	// 无registry时仍可正常聚合
	aggregator.RecordInference(42, 7, true)
	aggregator.RecordProof(100)

	snapshot := aggregator.Snapshot()
	assert.Equal(t, int64(1), snapshot.TotalInferences)
	assert.Equal(t, int64(1), snapshot.TotalProofs)
}

func TestAggregator_ConcurrentRecording(t *testing.T) {
	aggregator := newTestAggregator()

	const workers = 16
	const perWorker = 100

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				aggregator.RecordInference(50, 4, id%2 == 0)
				aggregator.RecordProof(10)
			}
		}(w)
	}
	wg.Wait()

	snapshot := aggregator.Snapshot()
	require.Equal(t, int64(workers*perWorker), snapshot.TotalInferences)
	assert.Equal(t, int64(workers*perWorker), snapshot.TotalProofs)
	assert.Equal(t, int64(workers*perWorker*4), snapshot.TotalTokens)
	assert.Equal(t, int64(workers*perWorker*10), snapshot.TotalConstraints)

	// 所有样本延迟相同，滚动均值收敛到该值
	assert.InDelta(t, 50.0, snapshot.AvgLatencyMs, 1e-6)
	assert.InDelta(t, 0.5, snapshot.SuccessRate, 1e-6)
}

func TestAggregator_GetStats(t *testing.T) {
	aggregator := newTestAggregator()
	aggregator.RecordInference(30, 3, true)

	stats := aggregator.GetStats()
	assert.Equal(t, int64(1), stats["total_inferences"])
	assert.Equal(t, int64(3), stats["total_tokens"])
	assert.InDelta(t, 30.0, stats["avg_latency_ms"].(float64), 1e-9)
	assert.InDelta(t, 1.0, stats["success_rate"].(float64), 1e-9)
}
