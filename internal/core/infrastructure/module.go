// 文件说明：
// 本文件定义基础设施组件的 Fx 模块装配入口，负责：
// 1) 依据配置构造统一日志记录器；
// 2) 提供哈希服务的标准接口实现。
package infrastructure

import (
	"fmt"

	"go.uber.org/fx"

	logconfig "github.com/zkcipherai/v1/internal/config/log"
	hashcore "github.com/zkcipherai/v1/internal/core/infrastructure/crypto/hash"
	logcore "github.com/zkcipherai/v1/internal/core/infrastructure/log"
	"github.com/zkcipherai/v1/pkg/interfaces/config"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/crypto"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
)

// Module 返回统一的基础设施模块。
func Module() fx.Option {
	return fx.Module("infrastructure",
		fx.Provide(ProvideLogger),
		fx.Provide(ProvideHashManager),
	)
}

// ProvideLogger 依据配置构造日志记录器
func ProvideLogger(configProvider config.Provider) (log.Logger, error) {
	if configProvider == nil {
		return nil, fmt.Errorf("配置提供者不能为空")
	}

	logger, err := logcore.New(logconfig.NewFromOptions(configProvider.GetLog()))
	if err != nil {
		return nil, fmt.Errorf("创建日志记录器失败: %w", err)
	}

	// 同步更新全局日志器，供未走依赖注入的代码路径使用
	logcore.SetLogger(logger)
	return logger, nil
}

// ProvideHashManager 提供哈希服务
func ProvideHashManager() crypto.HashManager {
	return hashcore.NewHashService()
}
