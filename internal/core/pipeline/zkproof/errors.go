// Package zkproof provides error definitions for proof pipeline operations.
package zkproof

import (
	"errors"
	"fmt"
)

// ============================================================================
//                            证明流水线错误定义
// ============================================================================

var (
	// ErrCircuitNotFound 电路未找到错误
	ErrCircuitNotFound = errors.New("circuit not found")

	// ErrInvalidThresholds 电路档位阈值非法错误
	ErrInvalidThresholds = errors.New("invalid circuit thresholds")

	// ErrCircuitCompilationFailed 电路编译失败错误
	ErrCircuitCompilationFailed = errors.New("circuit compilation failed")

	// ErrConstraintBudgetExceeded 约束数量超过电路容量错误
	ErrConstraintBudgetExceeded = errors.New("constraint budget exceeded")

	// ErrProofGenerationFailed 证明生成失败错误
	ErrProofGenerationFailed = errors.New("proof generation failed")

	// ErrProofVerificationFailed 证明验证失败错误
	ErrProofVerificationFailed = errors.New("proof verification failed")

	// ErrArtifactNotVerified 证明未处于VERIFIED状态错误（聚合前置条件）
	ErrArtifactNotVerified = errors.New("artifact not verified")

	// ErrAlreadyAggregated 证明已聚合错误
	ErrAlreadyAggregated = errors.New("artifact already aggregated")
)

// ============================================================================
//                               错误包装函数
// ============================================================================

// WrapCircuitNotFoundError 包装电路未找到错误
func WrapCircuitNotFoundError(circuitID string) error {
	return fmt.Errorf("%w: circuitID=%s", ErrCircuitNotFound, circuitID)
}

// WrapCircuitCompilationFailedError 包装电路编译失败错误
func WrapCircuitCompilationFailedError(circuitID string, err error) error {
	return fmt.Errorf("%w: circuitID=%s, cause=%v", ErrCircuitCompilationFailed, circuitID, err)
}

// WrapConstraintBudgetExceededError 包装约束超限错误
func WrapConstraintBudgetExceededError(circuitID string, constraints, capacity int) error {
	return fmt.Errorf("%w: circuitID=%s, constraints=%d, capacity=%d",
		ErrConstraintBudgetExceeded, circuitID, constraints, capacity)
}

// WrapProofGenerationFailedError 包装证明生成失败错误
func WrapProofGenerationFailedError(circuitID string, err error) error {
	return fmt.Errorf("%w: circuitID=%s, cause=%v", ErrProofGenerationFailed, circuitID, err)
}

// WrapProofVerificationFailedError 包装证明验证失败错误
func WrapProofVerificationFailedError(proofID, check string) error {
	return fmt.Errorf("%w: proofID=%s, check=%s", ErrProofVerificationFailed, proofID, check)
}
