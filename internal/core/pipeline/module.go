// 文件说明：
// 本文件定义加密推理与证明流水线的 Fx 模块装配入口，负责：
// 1) 通过依赖注入构造编解码、模型注册表、计算引擎与证明组件；
// 2) 将协调器以 pipeline.InferencePipeline 接口对外输出；
// 3) 统一管理归档存储的生命周期（停止时关闭）。
//
// 设计约束：
// - 仅依赖公共接口（pkg/interfaces/*）与本组件实现；
// - 计算后端与账本提交器为外部依赖，由装配方提供。
package pipeline

import (
	"context"
	"fmt"

	"github.com/asaskevich/EventBus"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/zkcipherai/v1/internal/core/pipeline/codec"
	"github.com/zkcipherai/v1/internal/core/pipeline/coordinator"
	"github.com/zkcipherai/v1/internal/core/pipeline/engine"
	"github.com/zkcipherai/v1/internal/core/pipeline/metrics"
	"github.com/zkcipherai/v1/internal/core/pipeline/model"
	"github.com/zkcipherai/v1/internal/core/pipeline/store"
	"github.com/zkcipherai/v1/internal/core/pipeline/zkproof"
	"github.com/zkcipherai/v1/pkg/interfaces/config"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/crypto"
	"github.com/zkcipherai/v1/pkg/interfaces/infrastructure/log"
	pipelineiface "github.com/zkcipherai/v1/pkg/interfaces/pipeline"
)

// ModuleInput 定义流水线模块的输入依赖
//
// 🎯 **依赖组织**：
// 本结构体使用fx.In标签，通过依赖注入自动提供所有必需的组件依赖。
type ModuleInput struct {
	fx.In

	// ========== 配置依赖 ==========
	ConfigProvider config.Provider `optional:"false"` // 配置提供者

	// ========== 基础设施依赖 ==========
	Logger      log.Logger         `optional:"false"` // 日志记录器
	HashManager crypto.HashManager `optional:"false"` // 哈希服务

	// ========== 外部协作依赖 ==========
	Backend pipelineiface.ComputeBackend  `optional:"false"` // 计算后端
	Ledger  pipelineiface.LedgerSubmitter `optional:"true"`  // 账本提交器（可选）

	// ========== 可选基础设施 ==========
	Bus             EventBus.Bus          `optional:"true"` // 事件总线
	MetricsRegistry prometheus.Registerer `optional:"true"` // Prometheus注册表
	ArchiveOptions  *store.ArchiveOptions `optional:"true"` // 归档配置（nil时使用内存模式）
}

// ModuleOutput 定义流水线模块的统一输出。
// 协调器以标准接口暴露；注册表与归档另行输出供装配方使用。
type ModuleOutput struct {
	fx.Out

	// 对外提供的标准接口服务
	Pipeline pipelineiface.InferencePipeline

	// 模型注册表（装配方注册模型配置）
	Registry *model.Registry

	// 证明归档存储
	Archive *store.ProofArchive
}

// Module 返回统一的流水线模块。
// 负责：
// - 装配服务提供者（ProvideServices）；
// - 记录组件生命周期日志并在停止时关闭归档存储。
func Module() fx.Option {
	return fx.Module("pipeline",
		fx.Provide(ProvideServices),

		fx.Invoke(func(lc fx.Lifecycle, logger log.Logger, archive *store.ProofArchive) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					logger.Info("🔐 加密推理流水线模块启动")
					return nil
				},
				OnStop: func(ctx context.Context) error {
					if err := archive.Close(); err != nil {
						logger.Errorf("关闭证明归档存储失败: %v", err)
					} else {
						logger.Info("✅ 证明归档存储已关闭")
					}
					logger.Info("🔐 加密推理流水线模块停止完成")
					return nil
				},
			})
		}),
	)
}

// ProvideServices 提供流水线服务，完成各组件的构造与协调器装配。
// 参数：
// - input：ModuleInput（由 Fx 注入）。
// 返回：
// - ModuleOutput：包含协调器、模型注册表与归档存储；
// - error：构造失败时返回错误。
func ProvideServices(input ModuleInput) (ModuleOutput, error) {
	// 验证必需的依赖
	if input.ConfigProvider == nil {
		return ModuleOutput{}, fmt.Errorf("配置提供者不能为空")
	}
	if input.Backend == nil {
		return ModuleOutput{}, fmt.Errorf("计算后端不能为空")
	}
	if input.HashManager == nil {
		return ModuleOutput{}, fmt.Errorf("哈希服务不能为空")
	}

	options := input.ConfigProvider.GetPipeline()
	if options == nil {
		return ModuleOutput{}, fmt.Errorf("流水线配置不能为空")
	}

	// 编解码与模型层
	payloadCodec := codec.NewPayloadCodec(&options.Codec, input.Logger)
	registry := model.NewRegistry(&options.Engine, input.Logger)
	computeEngine := engine.NewComputeEngine(&options.Engine, payloadCodec, registry, input.Backend, input.Logger)

	// 证明层
	catalog, err := zkproof.NewCatalog(&options.Proof, input.Logger)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("创建电路目录失败: %w", err)
	}
	generator := zkproof.NewProofGenerator(&options.Proof, catalog, input.HashManager, input.Logger)
	verifier := zkproof.NewProofVerifier(&options.Proof, catalog, input.HashManager, input.Logger)

	// 归档存储（默认内存模式）
	archiveOptions := input.ArchiveOptions
	if archiveOptions == nil {
		archiveOptions = &store.ArchiveOptions{InMemory: true}
	}
	archive, err := store.NewProofArchive(archiveOptions, input.Logger)
	if err != nil {
		return ModuleOutput{}, fmt.Errorf("创建归档存储失败: %w", err)
	}

	batcher := zkproof.NewAggregationBatcher(&options.Aggregation, archive, input.Logger)
	aggregator := metrics.NewAggregator(input.MetricsRegistry, input.Logger)

	pipelineCoordinator := coordinator.NewCoordinator(coordinator.CoordinatorParams{
		Options:     options,
		Engine:      computeEngine,
		Registry:    registry,
		Catalog:     catalog,
		Generator:   generator,
		Verifier:    verifier,
		Batcher:     batcher,
		Aggregator:  aggregator,
		Archive:     archive,
		HashManager: input.HashManager,
		Bus:         input.Bus,
		Ledger:      input.Ledger,
		Logger:      input.Logger,
	})

	input.Logger.Infof("🧩 [Fx] pipeline.ProvideServices 装配完成: circuits=%d aggregation=%v",
		catalog.Size(), options.Aggregation.Enabled)

	return ModuleOutput{
		Pipeline: pipelineCoordinator,
		Registry: registry,
		Archive:  archive,
	}, nil
}
