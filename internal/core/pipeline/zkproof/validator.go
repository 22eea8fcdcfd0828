package zkproof

import (
	"bytes"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	// gnark ZK库
	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/frontend"

	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/crypto"
	logiface "github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// 验证检查项名称（失败日志按名称定位）
const (
	checkCommitmentPresent  = "commitment_present"
	checkCommitmentEncoding = "commitment_encoding"
	checkProofSize          = "proof_size"
	checkSignalArity        = "signal_arity"
	checkInputBinding       = "input_binding"
	checkVerifyingKeyHash   = "verifying_key_hash"
	checkCryptographic      = "cryptographic_verify"
)

// expectedSignalCount 公开信号数量：[输入哈希, 输出哈希, 时间戳, 推理ID]
const expectedSignalCount = 4

// verifyingKeyCache 验证密钥缓存项
type verifyingKeyCache struct {
	verifyingKey groth16.VerifyingKey
	vkHash       string
	lastUsed     time.Time
}

// ProofVerifier ZK证明验证器
//
// 🎯 **专门职责**：证明产物的结构检查与可选的密码学验证
//
// Verify为纯函数（除计时与VK缓存外无副作用）；
// 状态转换由协调器依据返回值应用，且为终态。
type ProofVerifier struct {
	options     *pipelineconfig.ProofOptions
	catalog     *Catalog
	hashManager crypto.HashManager
	logger      logiface.Logger

	// 验证密钥缓存（线程安全）
	vkCache  map[string]*verifyingKeyCache
	cacheMux sync.RWMutex
}

// NewProofVerifier 创建证明验证器
func NewProofVerifier(
	options *pipelineconfig.ProofOptions,
	catalog *Catalog,
	hashManager crypto.HashManager,
	logger logiface.Logger,
) *ProofVerifier {
	return &ProofVerifier{
		options:     options,
		catalog:     catalog,
		hashManager: hashManager,
		logger:      logger,
		vkCache:     make(map[string]*verifyingKeyCache),
	}
}

// isPrefixedHex 判断是否为0x前缀且非空的合法十六进制串
func isPrefixedHex(s string) bool {
	if !strings.HasPrefix(s, "0x") {
		return false
	}
	raw := s[2:]
	if raw == "" {
		return false
	}
	_, err := hex.DecodeString(raw)
	return err == nil
}

// Verify 验证证明产物
//
// 所有检查项均为必要条件，任一失败即整体false；
// 每个失败的检查按名称记录日志，便于诊断。
func (v *ProofVerifier) Verify(artifact *pipeline.ProofArtifact, profile *pipeline.CircuitProfile) bool {
	if artifact == nil || profile == nil {
		return false
	}

	// 1. 承诺元素存在性
	if artifact.Commitment.A == "" || artifact.Commitment.B == "" || artifact.Commitment.C == "" {
		v.logFailure(artifact.ProofID, checkCommitmentPresent)
		return false
	}

	// 2. 承诺元素编码（固定前缀十六进制）
	for _, seg := range []string{artifact.Commitment.A, artifact.Commitment.B, artifact.Commitment.C} {
		if !isPrefixedHex(seg) {
			v.logFailure(artifact.ProofID, checkCommitmentEncoding)
			return false
		}
	}

	// 3. 证明大小边界：(0, maxProofSize]
	if artifact.ProofSizeBytes <= 0 || artifact.ProofSizeBytes > v.options.MaxProofSize {
		v.logFailure(artifact.ProofID, checkProofSize)
		return false
	}

	// 4. 公开信号数量与顺序
	if len(artifact.PublicSignals) != expectedSignalCount {
		v.logFailure(artifact.ProofID, checkSignalArity)
		return false
	}

	// 5. 输入绑定：publicSignals[0]与产物记录的输入哈希精确相等
	if artifact.PublicSignals[0] != artifact.InputHash {
		v.logFailure(artifact.ProofID, checkInputBinding)
		return false
	}

	// 6. 可选密码学验证
	if v.options.EnableCryptographicCheck {
		if !v.verifyCryptographic(artifact) {
			return false
		}
	}

	return true
}

// logFailure 记录失败的检查项
func (v *ProofVerifier) logFailure(proofID, check string) {
	v.logger.Warnf("证明验证失败: proofID=%s check=%s", proofID, check)
}

// verifyCryptographic 执行真实Groth16验证
//
// 从承诺三元组还原证明对象，用输出哈希重建公开witness，
// 以缓存的验证密钥执行groth16.Verify。
func (v *ProofVerifier) verifyCryptographic(artifact *pipeline.ProofArtifact) bool {
	restore := silenceGnarkLogger()
	defer restore()

	// 获取验证密钥
	vk, vkHash, err := v.getVerifyingKey(artifact.CircuitID)
	if err != nil {
		v.logger.Errorf("获取验证密钥失败: proofID=%s circuitID=%s err=%v",
			artifact.ProofID, artifact.CircuitID, err)
		v.logFailure(artifact.ProofID, checkCryptographic)
		return false
	}

	// 验证密钥哈希绑定
	if artifact.VerificationKeyHash != vkHash {
		v.logFailure(artifact.ProofID, checkVerifyingKeyHash)
		return false
	}

	// 还原证明对象
	proofBytes, err := joinCommitment(&artifact.Commitment)
	if err != nil {
		v.logFailure(artifact.ProofID, checkCommitmentEncoding)
		return false
	}
	proofObj := groth16.NewProof(ecc.BN254)
	if _, err := proofObj.ReadFrom(bytes.NewReader(proofBytes)); err != nil {
		v.logFailure(artifact.ProofID, checkCryptographic)
		return false
	}

	// 重建公开witness
	publicWitness, err := v.buildPublicWitness(artifact.CircuitID, artifact.OutputHash)
	if err != nil {
		v.logFailure(artifact.ProofID, checkCryptographic)
		return false
	}

	// 执行验证（验证不通过不是系统错误）
	if err := groth16.Verify(proofObj, vk, publicWitness); err != nil {
		v.logFailure(artifact.ProofID, checkCryptographic)
		return false
	}
	return true
}

// getVerifyingKey 获取或构建验证密钥（带缓存）
func (v *ProofVerifier) getVerifyingKey(circuitID string) (groth16.VerifyingKey, string, error) {
	v.cacheMux.RLock()
	if cached, exists := v.vkCache[circuitID]; exists {
		cached.lastUsed = time.Now()
		v.cacheMux.RUnlock()
		return cached.verifyingKey, cached.vkHash, nil
	}
	v.cacheMux.RUnlock()

	_, _, vk, err := v.catalog.GetTrustedSetup(circuitID)
	if err != nil {
		return nil, "", err
	}

	var vkBuf bytes.Buffer
	if _, err := vk.WriteTo(&vkBuf); err != nil {
		return nil, "", err
	}
	vkHash := hex.EncodeToString(v.hashManager.SHA256(vkBuf.Bytes()))

	v.cacheMux.Lock()
	v.vkCache[circuitID] = &verifyingKeyCache{
		verifyingKey: vk,
		vkHash:       vkHash,
		lastUsed:     time.Now(),
	}
	v.cacheMux.Unlock()

	v.logger.Debugf("验证密钥已缓存: circuitID=%s", circuitID)
	return vk, vkHash, nil
}

// buildPublicWitness 从输出哈希重建档位电路的公开witness
//
// 公开输入只有输出承诺，私有输入在PublicOnly模式下不参与序列化。
func (v *ProofVerifier) buildPublicWitness(circuitID, outputHash string) (witness.Witness, error) {
	digest := digestToField(v.hashManager, outputHash)

	var circuit frontend.Circuit
	switch circuitID {
	case CircuitLowComplexity:
		circuit = &LowComplexityCircuit{OutputCommitment: digest, InputDigest: 0}
	case CircuitMidComplexity:
		circuit = &MidComplexityCircuit{OutputCommitment: digest, InputDigest: 0, ModelDigest: 0}
	case CircuitHighComplexity:
		circuit = &HighComplexityCircuit{OutputCommitment: digest, InputDigest: 0, ModelDigest: 0, TraceDigest: 0}
	default:
		return nil, WrapCircuitNotFoundError(circuitID)
	}

	return frontend.NewWitness(circuit, ecc.BN254.ScalarField(), frontend.PublicOnly())
}
