// Package metrics 提供流水线运行指标的聚合与导出
//
// 📋 **指标聚合 (Metrics Aggregation)**
//
// 滚动均值采用递推式 avg_n = (avg_{n-1}×(n-1) + x_n) / n，
// 每次调用重新计算而非简单累加；零事件时所有比率为0，永不产生NaN。
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// Aggregator 流水线指标聚合器
//
// 🎯 **专门职责**：跨组件运行统计（推理、证明、token、延迟、成功率）
//
// 所有计数器单调不减；滚动均值与成功率是重算值。
// 读写均持锁，快照可与在途请求并发调用。
type Aggregator struct {
	logger logiface.Logger

	mu               sync.Mutex
	totalInferences  int64
	totalProofs      int64
	totalTokens      int64
	totalConstraints int64
	avgLatencyMs     float64
	successRate      float64

	// Prometheus导出（注入registry为nil时仅内存聚合）
	inferenceCounter  prometheus.Counter
	proofCounter      prometheus.Counter
	tokenCounter      prometheus.Counter
	constraintCounter prometheus.Counter
	latencyGauge      prometheus.Gauge
	successGauge      prometheus.Gauge
}

// NewAggregator 创建指标聚合器
//
// registry为nil时跳过Prometheus注册，聚合器退化为纯内存统计。
func NewAggregator(registry prometheus.Registerer, logger logiface.Logger) *Aggregator {
	a := &Aggregator{
		logger: logger,
		inferenceCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkcipher",
			Subsystem: "pipeline",
			Name:      "inferences_total",
			Help:      "已处理的推理请求总数",
		}),
		proofCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkcipher",
			Subsystem: "pipeline",
			Name:      "proofs_total",
			Help:      "已生成的证明产物总数",
		}),
		tokenCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkcipher",
			Subsystem: "pipeline",
			Name:      "tokens_total",
			Help:      "累计处理的token数量",
		}),
		constraintCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zkcipher",
			Subsystem: "pipeline",
			Name:      "constraints_total",
			Help:      "累计的电路约束数量",
		}),
		latencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zkcipher",
			Subsystem: "pipeline",
			Name:      "avg_latency_ms",
			Help:      "推理请求滚动平均延迟（毫秒）",
		}),
		successGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zkcipher",
			Subsystem: "pipeline",
			Name:      "success_rate",
			Help:      "推理请求滚动成功率",
		}),
	}

	if registry != nil {
		registry.MustRegister(
			a.inferenceCounter, a.proofCounter, a.tokenCounter,
			a.constraintCounter, a.latencyGauge, a.successGauge,
		)
	}
	return a
}

// RecordInference 记录一次推理结果
func (a *Aggregator) RecordInference(latencyMs int64, tokens int, success bool) {
	a.mu.Lock()
	n := float64(a.totalInferences + 1)
	a.avgLatencyMs = (a.avgLatencyMs*(n-1) + float64(latencyMs)) / n

	outcome := 0.0
	if success {
		outcome = 1.0
	}
	a.successRate = (a.successRate*(n-1) + outcome) / n

	a.totalInferences++
	a.totalTokens += int64(tokens)
	a.mu.Unlock()

	a.inferenceCounter.Inc()
	a.tokenCounter.Add(float64(tokens))
	a.latencyGauge.Set(a.AvgLatencyMs())
	a.successGauge.Set(a.SuccessRate())
}

// RecordProof 记录一次证明生成
func (a *Aggregator) RecordProof(constraints int) {
	a.mu.Lock()
	a.totalProofs++
	a.totalConstraints += int64(constraints)
	a.mu.Unlock()

	a.proofCounter.Inc()
	a.constraintCounter.Add(float64(constraints))
}

// AvgLatencyMs 当前滚动平均延迟（零事件时为0）
func (a *Aggregator) AvgLatencyMs() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totalInferences == 0 {
		return 0
	}
	return a.avgLatencyMs
}

// SuccessRate 当前滚动成功率（零事件时为0）
func (a *Aggregator) SuccessRate() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.totalInferences == 0 {
		return 0
	}
	return a.successRate
}

// Snapshot 导出指标快照
//
// 组件级子指标（缓存命中率、队列长度、电路数量）由协调器补充。
func (a *Aggregator) Snapshot() *pipeline.MetricsSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	snapshot := &pipeline.MetricsSnapshot{
		TotalInferences:  a.totalInferences,
		TotalProofs:      a.totalProofs,
		TotalTokens:      a.totalTokens,
		TotalConstraints: a.totalConstraints,
	}
	if a.totalInferences > 0 {
		snapshot.AvgLatencyMs = a.avgLatencyMs
		snapshot.SuccessRate = a.successRate
	}
	return snapshot
}

// GetStats 获取聚合器统计信息
func (a *Aggregator) GetStats() map[string]interface{} {
	snapshot := a.Snapshot()
	return map[string]interface{}{
		"total_inferences":  snapshot.TotalInferences,
		"total_proofs":      snapshot.TotalProofs,
		"total_tokens":      snapshot.TotalTokens,
		"total_constraints": snapshot.TotalConstraints,
		"avg_latency_ms":    snapshot.AvgLatencyMs,
		"success_rate":      snapshot.SuccessRate,
	}
}
