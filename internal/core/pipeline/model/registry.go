// Package model 提供模型注册表与加载缓存实现
//
// 📋 **模型注册表 (Model Registry)**
//
// 🎯 **核心职责**：
// - 持有模型静态配置（ModelProfile），按ID查找，未注册ID被拒绝
// - 模拟权重加载：耗时与ContextLength成正比
// - 加载缓存：单飞（single-flight）语义，同一模型的并发冷加载只执行一次
// - 命中统计：命中刷新LoadedAt并自增Hits，返回同一条目实例
package model

import (
	"context"
	"sync"
	"time"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// loadSlot 单飞加载槽位
//
// 首个冷加载方创建槽位并执行加载，并发加载方等待done关闭。
type loadSlot struct {
	entry *pipeline.LoadCacheEntry
	err   error
	done  chan struct{}
}

// Registry 模型注册表
type Registry struct {
	mu       sync.Mutex
	profiles map[string]*pipeline.ModelProfile
	cache    map[string]*loadSlot

	// 命中/未命中统计（含首次加载，首次加载计为未命中）
	hits   int64
	misses int64

	// 模拟加载速率：每1K上下文长度的毫秒数
	loadMsPerKCtx int

	logger logiface.Logger
}

// NewRegistry 创建模型注册表
func NewRegistry(options *pipelineconfig.EngineOptions, logger logiface.Logger) *Registry {
	return &Registry{
		profiles:      make(map[string]*pipeline.ModelProfile),
		cache:         make(map[string]*loadSlot),
		loadMsPerKCtx: options.LoadMsPerKCtx,
		logger:        logger,
	}
}

// Register 注册模型配置
//
// 同ID重复注册覆盖旧配置，但不清除已有加载缓存条目。
func (r *Registry) Register(profile *pipeline.ModelProfile) error {
	if profile == nil || profile.ModelID == "" {
		return WrapInvalidProfileError("", "模型ID不能为空")
	}
	if profile.ContextLength <= 0 {
		return WrapInvalidProfileError(profile.ModelID, "上下文长度必须为正数")
	}
	if profile.MaxSequenceLength <= 0 {
		return WrapInvalidProfileError(profile.ModelID, "最大序列长度必须为正数")
	}

	// 复杂度系数缺省为1.0
	p := *profile
	if p.ComplexityFactor <= 0 {
		p.ComplexityFactor = 1.0
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ModelID] = &p

	r.logger.Infof("模型已注册: modelID=%s quantization=%s contextLength=%d",
		p.ModelID, p.Quantization, p.ContextLength)
	return nil
}

// Get 按ID查找模型配置
func (r *Registry) Get(modelID string) (*pipeline.ModelProfile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profile, ok := r.profiles[modelID]
	if !ok {
		return nil, WrapModelNotFoundError(modelID)
	}
	return profile, nil
}

// EnsureLoaded 确保模型已加载，返回加载缓存条目
//
// 🎯 **单飞语义**：同一模型的并发冷加载只执行一次模拟加载，
// 其余调用方等待同一槽位完成后作为命中返回。
//
// 返回的条目实例在进程生命周期内稳定，命中时原地更新。
func (r *Registry) EnsureLoaded(ctx context.Context, modelID string) (*pipeline.LoadCacheEntry, error) {
	r.mu.Lock()

	profile, ok := r.profiles[modelID]
	if !ok {
		r.mu.Unlock()
		return nil, WrapModelNotFoundError(modelID)
	}

	if slot, exists := r.cache[modelID]; exists {
		r.mu.Unlock()
		return r.awaitSlot(ctx, modelID, slot)
	}

	// 冷加载：持锁插入占位槽位，解锁后执行模拟加载
	slot := &loadSlot{done: make(chan struct{})}
	r.cache[modelID] = slot
	r.mu.Unlock()

	return r.performLoad(ctx, modelID, profile, slot)
}

// awaitSlot 等待已有槽位完成并记为命中
func (r *Registry) awaitSlot(ctx context.Context, modelID string, slot *loadSlot) (*pipeline.LoadCacheEntry, error) {
	select {
	case <-slot.done:
	case <-ctx.Done():
		return nil, ErrLoadCancelled
	}

	if slot.err != nil {
		return nil, slot.err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	slot.entry.LoadedAt = time.Now()
	slot.entry.Hits++
	r.hits++

	r.logger.Debugf("模型加载缓存命中: modelID=%s hits=%d", modelID, slot.entry.Hits)
	return slot.entry, nil
}

// performLoad 执行模拟加载并完成槽位
func (r *Registry) performLoad(ctx context.Context, modelID string, profile *pipeline.ModelProfile, slot *loadSlot) (*pipeline.LoadCacheEntry, error) {
	loadDuration := time.Duration(profile.ContextLength/1000*r.loadMsPerKCtx) * time.Millisecond

	if loadDuration > 0 {
		select {
		case <-time.After(loadDuration):
		case <-ctx.Done():
			// 加载被取消：移除占位槽位，唤醒等待方并传播错误
			r.mu.Lock()
			slot.err = ErrLoadCancelled
			delete(r.cache, modelID)
			r.mu.Unlock()
			close(slot.done)
			return nil, ErrLoadCancelled
		}
	}

	r.mu.Lock()
	slot.entry = &pipeline.LoadCacheEntry{
		LoadedAt: time.Now(),
		Hits:     1, // 首次加载计入命中计数
	}
	r.misses++
	r.mu.Unlock()
	close(slot.done)

	r.logger.Infof("模型已加载: modelID=%s loadMs=%d", modelID, loadDuration.Milliseconds())
	return slot.entry, nil
}

// CacheHitRate 加载缓存命中率
//
// 无任何加载时返回0（零分母规则）。
func (r *Registry) CacheHitRate() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.hits + r.misses
	if total == 0 {
		return 0
	}
	return float64(r.hits) / float64(total)
}

// Unregister 注销模型并移除其加载缓存
func (r *Registry) Unregister(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.profiles, modelID)
	delete(r.cache, modelID)
}

// ClearCache 清空加载缓存（保留注册的模型配置与统计）
func (r *Registry) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cache = make(map[string]*loadSlot)
	r.logger.Info("模型加载缓存已清空")
}

// Stats 获取注册表统计
func (r *Registry) Stats() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	total := r.hits + r.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(r.hits) / float64(total)
	}

	return map[string]interface{}{
		"registered_models": len(r.profiles),
		"cached_models":     len(r.cache),
		"cache_hits":        r.hits,
		"cache_misses":      r.misses,
		"cache_hit_rate":    hitRate,
	}
}
