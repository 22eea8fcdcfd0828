// Package config provides configuration provider interfaces.
package config

import (
	logconfig "github.com/zkcipherai/v1/internal/config/log"
	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
)

// Provider 配置提供者接口
//
// 🎯 **职责**：对外统一暴露各子系统的配置选项，
// 实现由应用装配层提供（默认实现见 internal/config.NewProvider）。
type Provider interface {
	// GetLog 获取日志配置
	GetLog() *logconfig.LogOptions

	// GetPipeline 获取证明流水线配置
	GetPipeline() *pipelineconfig.PipelineOptions
}
