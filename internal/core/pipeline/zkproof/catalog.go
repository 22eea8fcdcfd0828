// Package zkproof 提供电路目录、电路选择与Groth16证明生成/验证实现
package zkproof

import (
	"fmt"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// 电路档位标识
const (
	// CircuitLowComplexity 低复杂度电路（默认档位）
	CircuitLowComplexity = "inference_low_complexity"

	// CircuitMidComplexity 中复杂度电路
	CircuitMidComplexity = "inference_mid_complexity"

	// CircuitHighComplexity 高复杂度电路
	CircuitHighComplexity = "inference_high_complexity"
)

// trustedSetupEntry 可信设置缓存条目（编译电路 + proving/verifying key）
type trustedSetupEntry struct {
	compiled     constraint.ConstraintSystem
	provingKey   groth16.ProvingKey
	verifyingKey groth16.VerifyingKey
}

// Catalog 电路目录
//
// 🎯 **固定目录原则**：三个复杂度档位在构造时创建，
// 证明时只做选择，从不动态创建新电路。
type Catalog struct {
	logger logiface.Logger

	// 档位阈值：score > high → 高档；score > mid → 中档；否则低档
	midThreshold  int
	highThreshold int

	// 固定电路档位（构造后只读）
	profiles map[string]*pipeline.CircuitProfile

	// Trusted setup 缓存（按电路ID惰性编译）
	setupCache map[string]*trustedSetupEntry
	setupMutex sync.RWMutex
}

// NewCatalog 创建电路目录
func NewCatalog(options *pipelineconfig.ProofOptions, logger logiface.Logger) (*Catalog, error) {
	if options.MidThreshold <= 0 || options.HighThreshold <= options.MidThreshold {
		return nil, fmt.Errorf("%w: mid=%d, high=%d", ErrInvalidThresholds,
			options.MidThreshold, options.HighThreshold)
	}

	catalog := &Catalog{
		logger:        logger,
		midThreshold:  options.MidThreshold,
		highThreshold: options.HighThreshold,
		profiles:      make(map[string]*pipeline.CircuitProfile),
		setupCache:    make(map[string]*trustedSetupEntry),
	}

	// 三个固定档位
	catalog.profiles[CircuitLowComplexity] = &pipeline.CircuitProfile{
		ID:                  CircuitLowComplexity,
		Constraints:         512,
		Variables:           1536,
		MaxDegree:           2,
		SupportedOperations: []string{"add", "mul", "hash_commit"},
		OptimizationLevel:   "light",
		MaxConstraints:      50_000,
	}
	catalog.profiles[CircuitMidComplexity] = &pipeline.CircuitProfile{
		ID:                  CircuitMidComplexity,
		Constraints:         2048,
		Variables:           6144,
		MaxDegree:           3,
		SupportedOperations: []string{"add", "mul", "hash_commit", "range_check"},
		OptimizationLevel:   "balanced",
		MaxConstraints:      500_000,
	}
	catalog.profiles[CircuitHighComplexity] = &pipeline.CircuitProfile{
		ID:                  CircuitHighComplexity,
		Constraints:         8192,
		Variables:           24576,
		MaxDegree:           4,
		SupportedOperations: []string{"add", "mul", "hash_commit", "range_check", "lookup"},
		OptimizationLevel:   "aggressive",
		MaxConstraints:      5_000_000,
	}

	return catalog, nil
}

// Select 根据复杂度分数选择电路档位
//
// 🎯 **全覆盖**：每个分数都映射到恰好一个档位，低档为默认，
// 不存在"无电路可用"的结果。
func (c *Catalog) Select(complexityScore int) *pipeline.CircuitProfile {
	switch {
	case complexityScore > c.highThreshold:
		return c.profiles[CircuitHighComplexity]
	case complexityScore > c.midThreshold:
		return c.profiles[CircuitMidComplexity]
	default:
		return c.profiles[CircuitLowComplexity]
	}
}

// GetProfile 按ID查找电路档位
func (c *Catalog) GetProfile(circuitID string) (*pipeline.CircuitProfile, error) {
	profile, ok := c.profiles[circuitID]
	if !ok {
		return nil, WrapCircuitNotFoundError(circuitID)
	}
	return profile, nil
}

// Size 目录中的电路档位数量
func (c *Catalog) Size() int {
	return len(c.profiles)
}

// newCircuit 创建档位对应的电路实例
func (c *Catalog) newCircuit(circuitID string) (frontend.Circuit, error) {
	switch circuitID {
	case CircuitLowComplexity:
		return &LowComplexityCircuit{}, nil
	case CircuitMidComplexity:
		return &MidComplexityCircuit{}, nil
	case CircuitHighComplexity:
		return &HighComplexityCircuit{}, nil
	default:
		return nil, WrapCircuitNotFoundError(circuitID)
	}
}

// GetTrustedSetup 返回指定电路的可信设置（编译电路、ProvingKey、VerifyingKey）
//
// 首次访问时编译电路并执行Groth16 Setup，之后从缓存返回。
func (c *Catalog) GetTrustedSetup(circuitID string) (constraint.ConstraintSystem, groth16.ProvingKey, groth16.VerifyingKey, error) {
	c.setupMutex.RLock()
	if entry, exists := c.setupCache[circuitID]; exists {
		c.setupMutex.RUnlock()
		return entry.compiled, entry.provingKey, entry.verifyingKey, nil
	}
	c.setupMutex.RUnlock()

	circuit, err := c.newCircuit(circuitID)
	if err != nil {
		return nil, nil, nil, err
	}

	compiledCircuit, err := frontend.Compile(ecc.BN254.ScalarField(), r1cs.NewBuilder, circuit)
	if err != nil {
		return nil, nil, nil, WrapCircuitCompilationFailedError(circuitID, err)
	}

	provingKey, verifyingKey, err := groth16.Setup(compiledCircuit)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("生成可信设置失败: %w", err)
	}

	c.setupMutex.Lock()
	// 并发编译时保留先到的条目，保证同一电路的key一致
	if entry, exists := c.setupCache[circuitID]; exists {
		c.setupMutex.Unlock()
		return entry.compiled, entry.provingKey, entry.verifyingKey, nil
	}
	c.setupCache[circuitID] = &trustedSetupEntry{
		compiled:     compiledCircuit,
		provingKey:   provingKey,
		verifyingKey: verifyingKey,
	}
	c.setupMutex.Unlock()

	c.logger.Debugf("电路可信设置已生成并缓存: circuitID=%s constraints=%d",
		circuitID, compiledCircuit.GetNbConstraints())
	return compiledCircuit, provingKey, verifyingKey, nil
}
