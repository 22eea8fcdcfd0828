package zkproof

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	// gnark ZK库
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"
	gnarklogger "github.com/consensys/gnark/logger"

	// zerolog for gnark logger
	"github.com/rs/zerolog"

	"github.com/google/uuid"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/crypto"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// compressionRatioPerLevel 每级压缩级别对应的压缩比例增量
const compressionRatioPerLevel = 0.12

// compressionRatioCap 压缩比例上限（证明永不压缩至接近零）
const compressionRatioCap = 0.97

// ProofInput 证明生成输入
type ProofInput struct {
	// 推理标识
	InferenceID string

	// 模型标识
	ModelID string

	// 输入哈希（0x前缀十六进制）
	InputHash string

	// 输出哈希（0x前缀十六进制）
	OutputHash string

	// Unix时间戳（秒）
	Timestamp int64

	// 输入/输出token数量
	InputTokens  int
	OutputTokens int

	// 模型复杂度系数（约束估算乘数，≤0时视为1.0）
	ComplexityFactor float64
}

// ProofGenerator ZK证明生成器
//
// 🎯 **专门职责**：按电路档位生成证明产物
// 🏗️ **技术栈**：基于gnark库实现Groth16证明方案
//
// 约束数量与证明大小由配置公式推算（成本核算），承诺三元组与
// 验证密钥哈希来自对档位电路的真实Groth16证明。
type ProofGenerator struct {
	options     *pipelineconfig.ProofOptions
	catalog     *Catalog
	hashManager crypto.HashManager
	logger      logiface.Logger
}

// NewProofGenerator 创建证明生成器
func NewProofGenerator(
	options *pipelineconfig.ProofOptions,
	catalog *Catalog,
	hashManager crypto.HashManager,
	logger logiface.Logger,
) *ProofGenerator {
	return &ProofGenerator{
		options:     options,
		catalog:     catalog,
		hashManager: hashManager,
		logger:      logger,
	}
}

// silenceGnarkLogger 禁用gnark库的日志输出
//
// ⚠️ gnark会输出大量调试信息（compiling circuit等），执行期间禁用，
// 返回恢复函数供defer调用。
func silenceGnarkLogger() func() {
	oldGnarkLogger := gnarklogger.Logger()
	discardLogger := zerolog.New(io.Discard).Level(zerolog.Disabled)
	gnarklogger.Set(discardLogger)
	return func() {
		gnarklogger.Set(oldGnarkLogger)
	}
}

// newProofID 生成全局唯一证明标识（时间戳+随机后缀）
func newProofID() string {
	return fmt.Sprintf("proof_%d_%s", time.Now().UnixNano(), uuid.NewString()[:8])
}

// digestToField 将十六进制哈希串映射为BN254标量域元素
//
// 非法十六进制串回退为对原始字符串的SHA-256摘要，保证映射全覆盖。
// 证明与验证必须使用同一映射，否则公开witness无法对齐。
func digestToField(hashManager crypto.HashManager, digest string) *big.Int {
	raw := strings.TrimPrefix(digest, "0x")
	b, err := hex.DecodeString(raw)
	if err != nil || len(b) == 0 {
		b = hashManager.SHA256([]byte(digest))
	}
	v := new(big.Int).SetBytes(b)
	return v.Mod(v, ecc.BN254.ScalarField())
}

// EstimateConstraints 估算约束数量
//
// constraints = max(1, floor(base × inputTokens/1000 × complexityFactor))，
// 对固定电路随token数量单调不减。
func (g *ProofGenerator) EstimateConstraints(profile *pipeline.CircuitProfile, inputTokens int, complexityFactor float64) int {
	if complexityFactor <= 0 {
		complexityFactor = 1.0
	}
	constraints := int(math.Floor(float64(profile.Constraints) * float64(inputTokens) / 1000.0 * complexityFactor))
	if constraints < 1 {
		constraints = 1
	}
	return constraints
}

// CompressionRatio 由压缩级别推算压缩比例
//
// ratio = min(level×0.12, 0.97)，随级别单调不减且上限低于0.98。
func (g *ProofGenerator) CompressionRatio() float64 {
	ratio := float64(g.options.CompressionLevel) * compressionRatioPerLevel
	if ratio > compressionRatioCap {
		ratio = compressionRatioCap
	}
	return ratio
}

// Generate 生成证明产物
//
// 🎯 **边界约定**：生成失败（约束超限、证明失败）返回FAILED产物
// 而非错误；error仅用于输入本身不完整的情况。
func (g *ProofGenerator) Generate(ctx context.Context, input *ProofInput) (*pipeline.ProofArtifact, error) {
	if input == nil || input.InferenceID == "" || input.InputHash == "" || input.OutputHash == "" {
		return nil, fmt.Errorf("证明输入不完整")
	}

	startTime := time.Now()

	// 1. 电路选择：复杂度分数 = 输入token + 输出token
	complexityScore := input.InputTokens + input.OutputTokens
	profile := g.catalog.Select(complexityScore)

	// 2. 成本核算
	constraints := g.EstimateConstraints(profile, input.InputTokens, input.ComplexityFactor)
	ratio := g.CompressionRatio()
	proofSizeBytes := int(math.Floor(float64(constraints) * 32.0 * (1.0 - ratio)))

	artifact := &pipeline.ProofArtifact{
		ProofID:          newProofID(),
		CircuitID:        profile.ID,
		ConstraintCount:  constraints,
		ProofSizeBytes:   proofSizeBytes,
		Status:           pipeline.ProofStatusPending,
		CompressionRatio: ratio,
		PublicSignals: []string{
			input.InputHash,
			input.OutputHash,
			strconv.FormatInt(input.Timestamp, 10),
			input.InferenceID,
		},
		InputHash:  input.InputHash,
		OutputHash: input.OutputHash,
	}

	// 3. 约束容量检查：超限即FAILED，不做静默降档
	if constraints > profile.MaxConstraints {
		g.logger.Warnf("约束数量超过电路容量: circuitID=%s constraints=%d capacity=%d",
			profile.ID, constraints, profile.MaxConstraints)
		artifact.Status = pipeline.ProofStatusFailed
		artifact.FailureReason = WrapConstraintBudgetExceededError(profile.ID, constraints, profile.MaxConstraints).Error()
		artifact.GenerationTimeMs = time.Since(startTime).Milliseconds()
		return artifact, nil
	}

	// 4. 真实Groth16证明（承诺三元组与验证密钥哈希的来源）
	restore := silenceGnarkLogger()
	defer restore()

	commitment, vkHash, err := g.proveCommitment(ctx, profile.ID, input)
	if err != nil {
		g.logger.Errorf("Groth16证明生成失败: circuitID=%s err=%v", profile.ID, err)
		artifact.Status = pipeline.ProofStatusFailed
		artifact.FailureReason = WrapProofGenerationFailedError(profile.ID, err).Error()
		artifact.GenerationTimeMs = time.Since(startTime).Milliseconds()
		return artifact, nil
	}

	artifact.Commitment = *commitment
	artifact.VerificationKeyHash = vkHash
	artifact.GenerationTimeMs = time.Since(startTime).Milliseconds()

	g.logger.Debugf("证明生成完成: proofID=%s circuitID=%s constraints=%d sizeBytes=%d 耗时=%dms",
		artifact.ProofID, profile.ID, constraints, proofSizeBytes, artifact.GenerationTimeMs)
	return artifact, nil
}

// proveCommitment 对档位电路执行Groth16证明并产出承诺三元组
func (g *ProofGenerator) proveCommitment(ctx context.Context, circuitID string, input *ProofInput) (*pipeline.Commitment, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	compiledCircuit, provingKey, verifyingKey, err := g.catalog.GetTrustedSetup(circuitID)
	if err != nil {
		return nil, "", err
	}

	fullWitness, err := g.buildProofWitness(circuitID, input)
	if err != nil {
		return nil, "", err
	}

	proof, err := groth16.Prove(compiledCircuit, provingKey, fullWitness)
	if err != nil {
		return nil, "", err
	}

	// 序列化证明并切分为三个固定前缀十六进制承诺元素
	var proofBuf bytes.Buffer
	if _, err := proof.WriteTo(&proofBuf); err != nil {
		return nil, "", fmt.Errorf("序列化证明失败: %w", err)
	}
	commitment := splitCommitment(proofBuf.Bytes())

	// 验证密钥哈希：序列化VK的SHA-256十六进制
	var vkBuf bytes.Buffer
	if _, err := verifyingKey.WriteTo(&vkBuf); err != nil {
		return nil, "", fmt.Errorf("序列化验证密钥失败: %w", err)
	}
	vkHash := hex.EncodeToString(g.hashManager.SHA256(vkBuf.Bytes()))

	return commitment, vkHash, nil
}

// buildProofWitness 构建档位电路的完整witness
//
// 公开输入为输出承诺；私有输入为输入/模型/轨迹摘要，按档位递增。
func (g *ProofGenerator) buildProofWitness(circuitID string, input *ProofInput) (witness.Witness, error) {
	outputCommitment := digestToField(g.hashManager, input.OutputHash)
	inputDigest := digestToField(g.hashManager, input.InputHash)
	modelDigest := new(big.Int).SetBytes(g.hashManager.SHA256([]byte(input.ModelID)))
	modelDigest.Mod(modelDigest, ecc.BN254.ScalarField())
	traceDigest := new(big.Int).SetBytes(g.hashManager.SHA256([]byte(input.InferenceID)))
	traceDigest.Mod(traceDigest, ecc.BN254.ScalarField())

	var circuit frontend.Circuit
	switch circuitID {
	case CircuitLowComplexity:
		circuit = &LowComplexityCircuit{
			OutputCommitment: outputCommitment,
			InputDigest:      inputDigest,
		}
	case CircuitMidComplexity:
		circuit = &MidComplexityCircuit{
			OutputCommitment: outputCommitment,
			InputDigest:      inputDigest,
			ModelDigest:      modelDigest,
		}
	case CircuitHighComplexity:
		circuit = &HighComplexityCircuit{
			OutputCommitment: outputCommitment,
			InputDigest:      inputDigest,
			ModelDigest:      modelDigest,
			TraceDigest:      traceDigest,
		}
	default:
		return nil, WrapCircuitNotFoundError(circuitID)
	}

	fullWitness, err := frontend.NewWitness(circuit, ecc.BN254.ScalarField())
	if err != nil {
		return nil, fmt.Errorf("创建witness失败: %w", err)
	}
	return fullWitness, nil
}

// splitCommitment 将序列化证明切分为A/B/C三个承诺元素
//
// B元素取中间一半（对应G2点，长度约为G1的两倍），切分边界固定，
// 验证时按相同规则拼接还原。
func splitCommitment(proofBytes []byte) *pipeline.Commitment {
	n := len(proofBytes)
	quarter := n / 4
	return &pipeline.Commitment{
		A: "0x" + hex.EncodeToString(proofBytes[:quarter]),
		B: "0x" + hex.EncodeToString(proofBytes[quarter:3*quarter]),
		C: "0x" + hex.EncodeToString(proofBytes[3*quarter:]),
	}
}

// joinCommitment 按切分规则还原序列化证明
func joinCommitment(c *pipeline.Commitment) ([]byte, error) {
	var out []byte
	for _, seg := range []string{c.A, c.B, c.C} {
		raw := strings.TrimPrefix(seg, "0x")
		b, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("承诺元素不是合法十六进制: %w", err)
		}
		out = append(out, b...)
	}
	return out, nil
}
