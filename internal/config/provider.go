// Package config 提供配置提供者的默认实现
package config

import (
	"go.uber.org/fx"

	logconfig "github.com/zkcipherai/v1/internal/config/log"
	pipelineconfig "github.com/zkcipherai/v1/internal/config/pipeline"
	configiface "github.com/zkcipherai/v1/pkg/interfaces/config"
)

// UserConfig 用户配置聚合（JSON配置文件的根结构）
type UserConfig struct {
	Log      *logconfig.UserLogConfig           `json:"log,omitempty"`
	Pipeline *pipelineconfig.UserPipelineConfig `json:"pipeline,omitempty"`
}

// provider 配置提供者默认实现
type provider struct {
	logConfig      *logconfig.Config
	pipelineConfig *pipelineconfig.Config
}

var _ configiface.Provider = (*provider)(nil)

// NewProvider 创建配置提供者
//
// userConfig为nil时使用全部默认值。
func NewProvider(userConfig *UserConfig) (configiface.Provider, error) {
	var userLog *logconfig.UserLogConfig
	var userPipeline *pipelineconfig.UserPipelineConfig
	if userConfig != nil {
		userLog = userConfig.Log
		userPipeline = userConfig.Pipeline
	}

	pipelineCfg, err := pipelineconfig.New(userPipeline)
	if err != nil {
		return nil, err
	}

	return &provider{
		logConfig:      logconfig.New(userLog),
		pipelineConfig: pipelineCfg,
	}, nil
}

// Module 返回配置模块（按给定用户配置装配配置提供者）
func Module(userConfig *UserConfig) fx.Option {
	return fx.Module("config",
		fx.Provide(func() (configiface.Provider, error) {
			return NewProvider(userConfig)
		}),
	)
}

// GetLog 获取日志配置
func (p *provider) GetLog() *logconfig.LogOptions {
	return p.logConfig.GetOptions()
}

// GetPipeline 获取流水线配置
func (p *provider) GetPipeline() *pipelineconfig.PipelineOptions {
	return p.pipelineConfig.GetOptions()
}
