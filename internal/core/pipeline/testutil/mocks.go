// Package testutil 提供流水线模块测试的辅助工具
//
// 🧪 **测试辅助工具包**
//
// 本包提供测试所需的 Mock 对象、测试数据和辅助函数，用于简化测试代码编写。
package testutil

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// ==================== Mock 对象 ====================

// MockLogger 统一的日志Mock实现
//
// ✅ **设计原则**：最小实现，所有方法返回空值，不记录日志
type MockLogger struct{}

func (m *MockLogger) Debug(msg string)                          {}
func (m *MockLogger) Debugf(format string, args ...interface{}) {}
func (m *MockLogger) Info(msg string)                           {}
func (m *MockLogger) Infof(format string, args ...interface{})  {}
func (m *MockLogger) Warn(msg string)                           {}
func (m *MockLogger) Warnf(format string, args ...interface{})  {}
func (m *MockLogger) Error(msg string)                          {}
func (m *MockLogger) Errorf(format string, args ...interface{}) {}
func (m *MockLogger) With(fields ...zap.Field) log.Logger       { return m }
func (m *MockLogger) GetZapLogger() *zap.Logger                 { return zap.NewNop() }

// NewTestLogger 创建测试用日志记录器
func NewTestLogger() log.Logger {
	return &MockLogger{}
}

// BehavioralMockLogger 行为Mock日志（记录调用）
//
// ✅ **设计原则**：记录所有日志调用，用于验证日志行为
type BehavioralMockLogger struct {
	logs  []string
	mutex sync.Mutex
}

func (m *BehavioralMockLogger) record(level, msg string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.logs = append(m.logs, level+": "+msg)
}

func (m *BehavioralMockLogger) Debug(msg string)                          { m.record("DEBUG", msg) }
func (m *BehavioralMockLogger) Debugf(format string, args ...interface{}) { m.record("DEBUG", format) }
func (m *BehavioralMockLogger) Info(msg string)                          { m.record("INFO", msg) }
func (m *BehavioralMockLogger) Infof(format string, args ...interface{})  { m.record("INFO", format) }
func (m *BehavioralMockLogger) Warn(msg string)                          { m.record("WARN", msg) }
func (m *BehavioralMockLogger) Warnf(format string, args ...interface{})  { m.record("WARN", format) }
func (m *BehavioralMockLogger) Error(msg string)                          { m.record("ERROR", msg) }
func (m *BehavioralMockLogger) Errorf(format string, args ...interface{}) { m.record("ERROR", format) }
func (m *BehavioralMockLogger) With(fields ...zap.Field) log.Logger       { return m }
func (m *BehavioralMockLogger) GetZapLogger() *zap.Logger                 { return zap.NewNop() }

// Logs 返回记录的日志副本
func (m *BehavioralMockLogger) Logs() []string {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]string, len(m.logs))
	copy(out, m.logs)
	return out
}

// Contains 判断是否记录过包含子串的日志
func (m *BehavioralMockLogger) Contains(substr string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, l := range m.logs {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

// ==================== 计算后端 Mock ====================

// MockComputeBackend 可配置的计算后端Mock
//
// 📋 **使用场景**：引擎与协调器测试。通过字段控制返回值、
// 延迟和部分输出，模拟真实后端的各种行为。
type MockComputeBackend struct {
	// Output 固定返回的输出（为nil时回显明文）
	Output []byte

	// Err 固定返回的错误
	Err error

	// Delay 每次调用的模拟耗时
	Delay time.Duration

	// PartialOutput 超时场景下已产出的部分字节
	PartialOutput []byte

	// OutputTokens 后端报告的输出token数量（0时按输出长度估算）
	OutputTokens int

	mu    sync.Mutex
	calls int
}

// Compute 实现pipeline.ComputeBackend
func (m *MockComputeBackend) Compute(ctx context.Context, plaintext []byte, profile *pipeline.ModelProfile) (*pipeline.ComputeResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			// 超时/取消：若已产出部分字节，随错误一并返回
			if m.PartialOutput != nil {
				return &pipeline.ComputeResult{
					Output:       m.PartialOutput,
					InputTokens:  (len(plaintext) + 3) / 4,
					OutputTokens: (len(m.PartialOutput) + 3) / 4,
				}, ctx.Err()
			}
			return nil, ctx.Err()
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}

	output := m.Output
	if output == nil {
		output = append([]byte(nil), plaintext...)
	}

	outputTokens := m.OutputTokens
	if outputTokens == 0 {
		outputTokens = (len(output) + 3) / 4
	}

	return &pipeline.ComputeResult{
		Output:       output,
		InputTokens:  (len(plaintext) + 3) / 4,
		OutputTokens: outputTokens,
		LatencyBreakdown: map[string]int64{
			"backend_ms": m.Delay.Milliseconds(),
		},
	}, nil
}

// Calls 返回调用次数
func (m *MockComputeBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// ==================== 账本提交器 Mock ====================

// MockLedgerSubmitter 记录提交的账本Mock
type MockLedgerSubmitter struct {
	// Err 固定返回的错误
	Err error

	mu        sync.Mutex
	submitted []*pipeline.ProofArtifact
}

// SubmitProofRecord 实现pipeline.LedgerSubmitter
func (m *MockLedgerSubmitter) SubmitProofRecord(ctx context.Context, artifact *pipeline.ProofArtifact) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, artifact)
	return nil
}

// Submitted 返回已提交的证明副本
func (m *MockLedgerSubmitter) Submitted() []*pipeline.ProofArtifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*pipeline.ProofArtifact, len(m.submitted))
	copy(out, m.submitted)
	return out
}
