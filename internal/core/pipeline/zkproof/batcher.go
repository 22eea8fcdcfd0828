package zkproof

import (
	"sync"
	"time"

	"github.com/google/uuid"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// aggregatedRatioCap 聚合后压缩比例上限
const aggregatedRatioCap = 0.979

// compressionBonusShare 聚合奖励吃掉剩余压缩空间的比例（默认值，可配置覆盖）
const compressionBonusShare = 0.25

// BatchRecord 聚合批次记录
type BatchRecord struct {
	BatchID   string    `json:"batch_id"`
	Size      int       `json:"size"`
	ProofIDs  []string  `json:"proof_ids"`
	CreatedAt time.Time `json:"created_at"`
}

// BatchSink 批次落地接口（由归档层实现）
type BatchSink interface {
	RecordBatch(record *BatchRecord) error
}

// proofRef 队列中的派生引用
//
// 只持有标识信息，不持有产物本身：入队的证明已随原始调用返回给
// 调用方，后续批次形成不得回头改写它们。
type proofRef struct {
	proofID   string
	offeredAt time.Time
}

// AggregationBatcher 证明聚合批处理器
//
// 🎯 **聚合语义**：已验证的证明先以派生引用入队并原样（未聚合）返回；
// 入队将到达阈值的那次提交触发批次形成：触发证明获得批次标识与
// 额外压缩奖励，队列原子清空。此前入队的成员保持未聚合状态，
// 仅以引用身份计入批次记录。
//
// ⚠️ 聚合是一次性操作：已聚合的证明再次提交返回ErrAlreadyAggregated。
type AggregationBatcher struct {
	options *pipelineconfig.AggregationOptions
	sink    BatchSink
	logger  logiface.Logger

	// 待聚合引用队列（入队、阈值判断、清空在同一临界区内完成）
	mu    sync.Mutex
	queue []proofRef
}

// NewAggregationBatcher 创建聚合批处理器
//
// sink可为nil（批次不落地，仅在内存中完成聚合标记）。
func NewAggregationBatcher(
	options *pipelineconfig.AggregationOptions,
	sink BatchSink,
	logger logiface.Logger,
) *AggregationBatcher {
	return &AggregationBatcher{
		options: options,
		sink:    sink,
		logger:  logger,
	}
}

// Offer 提交已验证证明参与聚合
//
// 阈值未到时仅入队派生引用，artifact保持未聚合原样返回；
// 恰好触发阈值的那次提交形成批次，聚合结果只写入本次的artifact。
// 聚合关闭时原样返回。
func (b *AggregationBatcher) Offer(artifact *pipeline.ProofArtifact) error {
	if !b.options.Enabled {
		return nil
	}
	if artifact == nil || artifact.Status != pipeline.ProofStatusVerified {
		return ErrArtifactNotVerified
	}
	if artifact.Aggregation.Aggregated {
		return ErrAlreadyAggregated
	}

	var record *BatchRecord

	b.mu.Lock()
	if len(b.queue)+1 >= b.options.Threshold {
		// 触发聚合：队列中的引用 + 本次提交的证明构成一个批次
		record = b.aggregateLocked(artifact)
		b.queue = nil
	} else {
		b.queue = append(b.queue, proofRef{proofID: artifact.ProofID, offeredAt: time.Now()})
	}
	b.mu.Unlock()

	// 批次落地在临界区外执行，避免sink阻塞入队
	if record != nil && b.sink != nil {
		if err := b.sink.RecordBatch(record); err != nil {
			b.logger.Errorf("聚合批次落地失败: batchID=%s err=%v", record.BatchID, err)
		}
	}
	return nil
}

// aggregateLocked 形成批次并将聚合结果写入触发证明（调用方持锁）
//
// 压缩奖励只作用于触发证明；队列中的成员已随各自的原始调用
// 返回，批次记录中仅保留其证明标识。
func (b *AggregationBatcher) aggregateLocked(triggering *pipeline.ProofArtifact) *BatchRecord {
	batchID := "batch_" + uuid.NewString()
	batchSize := len(b.queue) + 1

	proofIDs := make([]string, 0, batchSize)
	for _, ref := range b.queue {
		proofIDs = append(proofIDs, ref.proofID)
	}
	proofIDs = append(proofIDs, triggering.ProofID)

	triggering.Aggregation = pipeline.AggregationInfo{
		Aggregated: true,
		BatchID:    batchID,
		BatchSize:  batchSize,
	}
	b.applyCompressionBonus(triggering)

	b.logger.Infof("证明批次聚合完成: batchID=%s size=%d trigger=%s", batchID, batchSize, triggering.ProofID)
	return &BatchRecord{
		BatchID:   batchID,
		Size:      batchSize,
		ProofIDs:  proofIDs,
		CreatedAt: time.Now(),
	}
}

// applyCompressionBonus 应用聚合压缩奖励
//
// r' = min(r + (1-r)×bonus, 0.979)：严格优于聚合前且不越过上限；
// 证明大小按存留比例 (1-r')/(1-r) 等比缩小，下限1字节。
func (b *AggregationBatcher) applyCompressionBonus(artifact *pipeline.ProofArtifact) {
	bonus := b.options.CompressionBonus
	if bonus <= 0 {
		bonus = compressionBonusShare
	}

	oldRatio := artifact.CompressionRatio
	newRatio := oldRatio + (1.0-oldRatio)*bonus
	if newRatio > aggregatedRatioCap {
		newRatio = aggregatedRatioCap
	}

	if newRatio > oldRatio && oldRatio < 1.0 {
		rescaled := int(float64(artifact.ProofSizeBytes) * (1.0 - newRatio) / (1.0 - oldRatio))
		if rescaled < 1 {
			rescaled = 1
		}
		artifact.ProofSizeBytes = rescaled
	}
	artifact.CompressionRatio = newRatio
}

// QueueSize 当前待聚合队列长度
func (b *AggregationBatcher) QueueSize() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}
