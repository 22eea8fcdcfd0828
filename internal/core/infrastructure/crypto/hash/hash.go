// Package hash 提供哈希计算服务实现
package hash

import (
	"crypto/hmac"
	"crypto/sha256"
	"sync"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	cryptointf "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/crypto"
)

// 确保HashService实现了cryptointf.HashManager接口
var _ cryptointf.HashManager = (*HashService)(nil)

// HashCache 简单的哈希缓存结构
type HashCache struct {
	cache map[string][]byte
	mu    sync.RWMutex
}

// NewHashCache 创建新的哈希缓存
func NewHashCache() *HashCache {
	return &HashCache{
		cache: make(map[string][]byte),
	}
}

// Get 从缓存获取哈希值
func (c *HashCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	value, ok := c.cache[key]
	if ok {
		result := make([]byte, len(value))
		copy(result, value) // 返回副本而非引用
		return result, true
	}
	return nil, false
}

// Set 设置缓存中的哈希值
func (c *HashCache) Set(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)
	c.cache[key] = valueCopy
}

// HashService 提供哈希计算功能
//
// 证明层的输入/输出承诺、验证密钥哈希和批次标识派生均经由本服务，
// 保证全流水线的哈希算法一致。
type HashService struct {
	// 缓存最近的哈希结果，避免重复计算
	sha256Cache       *HashCache
	keccak256Cache    *HashCache
	doubleSHA256Cache *HashCache
}

// NewHashService 创建新的哈希服务
func NewHashService() *HashService {
	return &HashService{
		sha256Cache:       NewHashCache(),
		keccak256Cache:    NewHashCache(),
		doubleSHA256Cache: NewHashCache(),
	}
}

// cacheKey 根据数据生成缓存键
// 使用SHA256哈希作为缓存键，确保唯一性
func cacheKey(data []byte) string {
	hasher := sha256.New()
	hasher.Write(data)
	return string(hasher.Sum(nil))
}

// SHA256 计算SHA-256哈希
//
// 返回:
//   - []byte: 32字节的SHA-256哈希结果
func (s *HashService) SHA256(data []byte) []byte {
	key := cacheKey(data)
	if cachedHash, ok := s.sha256Cache.Get(key); ok {
		return cachedHash
	}

	hash := sha256.Sum256(data)
	result := hash[:]

	s.sha256Cache.Set(key, result)
	return result
}

// DoubleSHA256 计算双重SHA-256哈希
//
// 返回:
//   - []byte: 32字节的双重SHA-256哈希结果
func (s *HashService) DoubleSHA256(data []byte) []byte {
	key := cacheKey(data)
	if cachedHash, ok := s.doubleSHA256Cache.Get(key); ok {
		return cachedHash
	}

	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	result := second[:]

	s.doubleSHA256Cache.Set(key, result)
	return result
}

// Keccak256 计算Keccak-256哈希
//
// 返回:
//   - []byte: 32字节的Keccak-256哈希结果
func (s *HashService) Keccak256(data []byte) []byte {
	key := cacheKey(data)
	if cachedHash, ok := s.keccak256Cache.Get(key); ok {
		return cachedHash
	}

	result := gethcrypto.Keccak256(data)

	s.keccak256Cache.Set(key, result)
	return result
}

// HMACSHA256 计算HMAC-SHA256
//
// HMAC结果依赖密钥，不走缓存。
func (s *HashService) HMACSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}
