// Package store 提供证明产物与聚合批次的归档存储
//
// 🏗️ **存储架构**：BadgerDB持久层 + BigCache热读缓存
//
// 写路径先落Badger再填充热缓存；读路径先查热缓存，
// 未命中时回源Badger并回填。归档是唯一的持久化出口。
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
	badgerdb "github.com/dgraph-io/badger/v3"

	"github.com/zkcipherai/v1/internal/core/pipeline/zkproof"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// 键前缀
const (
	artifactKeyPrefix = "artifact/"
	batchKeyPrefix    = "batch/"
)

// hotCacheTTL 热缓存条目存活时间
const hotCacheTTL = 10 * time.Minute

var (
	// ErrArtifactNotFound 证明产物不存在错误
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrBatchNotFound 聚合批次不存在错误
	ErrBatchNotFound = errors.New("batch not found")
)

// ArchiveOptions 归档存储配置
type ArchiveOptions struct {
	// 数据目录（InMemory为true时忽略）
	Dir string

	// 是否使用内存模式（测试与临时节点）
	InMemory bool
}

// badgerLogger 将Badger内部日志桥接到统一日志接口
type badgerLogger struct {
	logger logiface.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{})   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...interface{}) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...interface{})    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...interface{})   { l.logger.Debugf(format, args...) }

// ProofArchive 证明归档存储
//
// 实现zkproof.BatchSink，聚合批次形成时由批处理器直接落地。
type ProofArchive struct {
	db       *badgerdb.DB
	hotCache *bigcache.BigCache
	logger   logiface.Logger
}

// 编译期接口断言
var _ zkproof.BatchSink = (*ProofArchive)(nil)

// NewProofArchive 创建归档存储
func NewProofArchive(options *ArchiveOptions, logger logiface.Logger) (*ProofArchive, error) {
	badgerOpts := badgerdb.DefaultOptions(options.Dir)
	if options.InMemory {
		badgerOpts = badgerdb.DefaultOptions("").WithInMemory(true)
	}
	badgerOpts.Logger = &badgerLogger{logger: logger}

	db, err := badgerdb.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("打开归档数据库失败: %w", err)
	}

	hotCache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(hotCacheTTL))
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("创建热缓存失败: %w", err)
	}

	logger.Infof("证明归档存储已就绪: inMemory=%v dir=%s", options.InMemory, options.Dir)
	return &ProofArchive{
		db:       db,
		hotCache: hotCache,
		logger:   logger,
	}, nil
}

// SaveArtifact 归档证明产物
func (a *ProofArchive) SaveArtifact(artifact *pipeline.ProofArtifact) error {
	if artifact == nil || artifact.ProofID == "" {
		return fmt.Errorf("证明产物缺少proofID")
	}

	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("序列化证明产物失败: %w", err)
	}

	key := artifactKeyPrefix + artifact.ProofID
	if err := a.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("写入归档失败: %w", err)
	}

	// 热缓存回填失败不影响持久化结果
	if err := a.hotCache.Set(key, data); err != nil {
		a.logger.Debugf("热缓存写入失败: key=%s err=%v", key, err)
	}
	return nil
}

// GetArtifact 按proofID读取证明产物
func (a *ProofArchive) GetArtifact(proofID string) (*pipeline.ProofArtifact, error) {
	key := artifactKeyPrefix + proofID

	if data, err := a.hotCache.Get(key); err == nil {
		var artifact pipeline.ProofArtifact
		if err := json.Unmarshal(data, &artifact); err == nil {
			return &artifact, nil
		}
		// 缓存内容损坏时回源持久层
	}

	data, err := a.readValue(key)
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: proofID=%s", ErrArtifactNotFound, proofID)
		}
		return nil, err
	}

	var artifact pipeline.ProofArtifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("反序列化证明产物失败: %w", err)
	}

	if err := a.hotCache.Set(key, data); err != nil {
		a.logger.Debugf("热缓存回填失败: key=%s err=%v", key, err)
	}
	return &artifact, nil
}

// RecordBatch 落地聚合批次（zkproof.BatchSink实现）
func (a *ProofArchive) RecordBatch(record *zkproof.BatchRecord) error {
	if record == nil || record.BatchID == "" {
		return fmt.Errorf("批次记录缺少batchID")
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("序列化批次记录失败: %w", err)
	}

	key := batchKeyPrefix + record.BatchID
	if err := a.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	}); err != nil {
		return fmt.Errorf("写入批次记录失败: %w", err)
	}

	a.logger.Debugf("聚合批次已归档: batchID=%s size=%d", record.BatchID, record.Size)
	return nil
}

// GetBatch 按batchID读取聚合批次
func (a *ProofArchive) GetBatch(batchID string) (*zkproof.BatchRecord, error) {
	data, err := a.readValue(batchKeyPrefix + batchID)
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: batchID=%s", ErrBatchNotFound, batchID)
		}
		return nil, err
	}

	var record zkproof.BatchRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("反序列化批次记录失败: %w", err)
	}
	return &record, nil
}

// readValue 读取单个键的值拷贝
func (a *ProofArchive) readValue(key string) ([]byte, error) {
	var out []byte
	err := a.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	return out, err
}

// CountArtifacts 统计已归档的证明产物数量
func (a *ProofArchive) CountArtifacts() (int, error) {
	return a.countPrefix(artifactKeyPrefix)
}

// CountBatches 统计已归档的聚合批次数量
func (a *ProofArchive) CountBatches() (int, error) {
	return a.countPrefix(batchKeyPrefix)
}

// countPrefix 按键前缀计数（仅迭代键，不取值）
func (a *ProofArchive) countPrefix(prefix string) (int, error) {
	count := 0
	err := a.db.View(func(txn *badgerdb.Txn) error {
		iterOpts := badgerdb.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		it := txn.NewIterator(iterOpts)
		defer it.Close()

		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// GetStats 获取归档存储统计信息
func (a *ProofArchive) GetStats() map[string]interface{} {
	artifacts, _ := a.CountArtifacts()
	batches, _ := a.CountBatches()
	return map[string]interface{}{
		"artifact_count": artifacts,
		"batch_count":    batches,
		"hot_cache_len":  a.hotCache.Len(),
		"hot_cache_hits": a.hotCache.Stats().Hits,
	}
}

// Close 关闭归档存储
func (a *ProofArchive) Close() error {
	if err := a.hotCache.Close(); err != nil {
		a.logger.Warnf("关闭热缓存失败: %v", err)
	}
	return a.db.Close()
}
