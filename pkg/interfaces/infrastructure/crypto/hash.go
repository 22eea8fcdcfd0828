// Package crypto 提供密码学基础设施的公共接口定义
//
// 📋 **哈希服务接口 (Hash Service Interface)**
//
// 本文件定义了系统的哈希计算接口，专注于：
// - 多算法支持：SHA256、Keccak256等主流算法
// - 安全哈希：双重SHA256、HMAC等安全哈希机制
// - 统一接口：为证明层和载荷层提供一致的哈希能力
package crypto

// HashManager 哈希管理器接口
//
// 🎯 **核心能力**：
// - SHA256/DoubleSHA256：证明承诺、验证密钥哈希
// - Keccak256：与以太坊生态兼容的哈希（批次标识派生）
// - HMACSHA256：带密钥的消息认证
type HashManager interface {
	// SHA256 计算SHA-256哈希
	SHA256(data []byte) []byte

	// DoubleSHA256 计算双重SHA-256哈希
	DoubleSHA256(data []byte) []byte

	// Keccak256 计算Keccak-256哈希
	Keccak256(data []byte) []byte

	// HMACSHA256 计算HMAC-SHA256
	HMACSHA256(key, data []byte) []byte
}
