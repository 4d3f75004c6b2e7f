package controlplane

import (
	"context"
	"time"

	"github.com/hewenyu/mesh-control/internal/breaker"
	"github.com/hewenyu/mesh-control/internal/cluster"
	"github.com/hewenyu/mesh-control/internal/deploy"
	"github.com/hewenyu/mesh-control/internal/events"
	"github.com/hewenyu/mesh-control/internal/health"
	"github.com/hewenyu/mesh-control/internal/policy"
	"github.com/hewenyu/mesh-control/internal/registry"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
	"github.com/hewenyu/mesh-control/pkg/store"
)

// ControlPlane 聚合控制面各组件，是所有外部表面（HTTP、DNS、SDK）的唯一入口
type ControlPlane interface {
	// RegisterService 注册服务
	RegisterService(ctx context.Context, descriptor *model.ServiceDescriptor, force bool) (*model.ServiceDescriptor, error)

	// DeregisterService 注销服务并清理其熔断器状态
	DeregisterService(ctx context.Context, serviceName string) error

	// GetService 获取服务描述符
	GetService(ctx context.Context, serviceName string) (*model.ServiceDescriptor, error)

	// GetServiceSnapshot 返回服务的聚合视图：描述符、熔断器状态、生效策略
	GetServiceSnapshot(ctx context.Context, serviceName string) (*model.ServiceSnapshot, error)

	// ListServices 按过滤条件列出服务
	ListServices(ctx context.Context, filter model.ListFilter) ([]*model.ServiceDescriptor, error)

	// SetPolicy 设置服务的流量策略
	SetPolicy(ctx context.Context, record model.PolicyRecord) error

	// GetPolicy 获取服务的生效策略，未设置时返回默认策略
	GetPolicy(serviceName string) model.PolicyRecord

	// DeletePolicy 删除服务的流量策略
	DeletePolicy(ctx context.Context, serviceName string) error

	// ListPolicies 列出所有显式设置过的策略
	ListPolicies() map[string]model.PolicyRecord

	// Deploy 创建新的工作负载
	Deploy(ctx context.Context, spec *model.DeploymentSpec) (*model.DeployResult, error)

	// Scale 调整工作负载的副本数，负数在触达后端之前被拒绝
	Scale(ctx context.Context, serviceName string, replicas int) (*model.DeployResult, error)

	// UpdateImage 更新工作负载的容器镜像
	UpdateImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (*model.DeployResult, error)

	// GetDeploymentSpec 查询已确认的期望部署状态
	GetDeploymentSpec(ctx context.Context, serviceName string) (*model.DeploymentSpec, error)

	// ListDeploymentSpecs 列出所有已确认的期望部署状态
	ListDeploymentSpecs(ctx context.Context) ([]*model.DeploymentSpec, error)

	// AdmitRequest 询问熔断器是否放行对指定服务的一次调用
	//
	// 返回false表示被熔断器拦截，这不是错误；服务未注册时返回NotFound。
	AdmitRequest(ctx context.Context, serviceName string) (bool, error)

	// ReportOutcome 上报一次对指定服务调用的结果，喂入熔断器
	ReportOutcome(ctx context.Context, serviceName string, success bool) error

	// Subscribe 订阅生命周期事件，返回只读通道和取消函数
	Subscribe() (<-chan model.Event, func())

	// Start 从持久化存储恢复状态并启动健康探测循环
	Start(ctx context.Context) error

	// Stop 停止健康探测循环并等待在途探测完成
	Stop()
}

// controlPlane 实现 ControlPlane 接口
type controlPlane struct {
	bus      *events.Bus
	registry registry.Registry
	policies policy.PolicyStore
	breakers breaker.Manager
	monitor  *health.Monitor
	deployer deploy.Controller
	logger   config.Logger
}

// New 创建控制面
//
// 持久化存储和集群后端由调用方根据配置选择注入，其余组件在这里装配。
func New(cfg *config.Config, s store.Store, backend cluster.Backend, logger config.Logger) ControlPlane {
	bus := events.NewBus(events.DefaultBufferSize, logger)
	policies := policy.NewPolicyStore(s, logger)

	defaults := breaker.Settings{
		Threshold:    cfg.Breaker.FailureThreshold,
		ResetTimeout: cfg.Breaker.ResetTimeout,
	}
	breakers := breaker.NewManager(defaults, policySettings(policies), bus, logger)

	reg := registry.NewRegistry(s, bus, logger)
	monitor := health.NewMonitor(reg, breakers, nil, cfg.Health, logger)
	deployer := deploy.NewController(backend, s, logger)

	return &controlPlane{
		bus:      bus,
		registry: reg,
		policies: policies,
		breakers: breakers,
		monitor:  monitor,
		deployer: deployer,
		logger:   logger,
	}
}

// policySettings 从策略存储解析每个服务的熔断参数，零值字段回落到全局默认值
func policySettings(policies policy.PolicyStore) breaker.SettingsFunc {
	return func(serviceName string) breaker.Settings {
		record := policies.Get(serviceName)
		return breaker.Settings{
			Threshold:    record.BreakerThreshold,
			ResetTimeout: time.Duration(record.BreakerResetMs) * time.Millisecond,
		}
	}
}

// RegisterService 注册服务
func (c *controlPlane) RegisterService(ctx context.Context, descriptor *model.ServiceDescriptor, force bool) (*model.ServiceDescriptor, error) {
	return c.registry.Register(ctx, descriptor, force)
}

// DeregisterService 注销服务并清理其熔断器状态
func (c *controlPlane) DeregisterService(ctx context.Context, serviceName string) error {
	if err := c.registry.Deregister(ctx, serviceName); err != nil {
		return err
	}
	c.breakers.Remove(serviceName)
	return nil
}

// GetService 获取服务描述符
func (c *controlPlane) GetService(ctx context.Context, serviceName string) (*model.ServiceDescriptor, error) {
	return c.registry.Get(ctx, serviceName)
}

// GetServiceSnapshot 返回服务的聚合视图
func (c *controlPlane) GetServiceSnapshot(ctx context.Context, serviceName string) (*model.ServiceSnapshot, error) {
	descriptor, err := c.registry.Get(ctx, serviceName)
	if err != nil {
		return nil, err
	}

	return &model.ServiceSnapshot{
		Descriptor: descriptor,
		Breaker:    c.breakers.Snapshot(serviceName),
		Policy:     c.policies.Get(serviceName),
	}, nil
}

// ListServices 按过滤条件列出服务
func (c *controlPlane) ListServices(ctx context.Context, filter model.ListFilter) ([]*model.ServiceDescriptor, error) {
	return c.registry.List(ctx, filter)
}

// SetPolicy 设置服务的流量策略
func (c *controlPlane) SetPolicy(ctx context.Context, record model.PolicyRecord) error {
	return c.policies.Set(ctx, record)
}

// GetPolicy 获取服务的生效策略
func (c *controlPlane) GetPolicy(serviceName string) model.PolicyRecord {
	return c.policies.Get(serviceName)
}

// DeletePolicy 删除服务的流量策略
func (c *controlPlane) DeletePolicy(ctx context.Context, serviceName string) error {
	return c.policies.Delete(ctx, serviceName)
}

// ListPolicies 列出所有显式设置过的策略
func (c *controlPlane) ListPolicies() map[string]model.PolicyRecord {
	return c.policies.List()
}

// Deploy 创建新的工作负载
func (c *controlPlane) Deploy(ctx context.Context, spec *model.DeploymentSpec) (*model.DeployResult, error) {
	return c.deployer.Deploy(ctx, spec)
}

// Scale 调整工作负载的副本数
func (c *controlPlane) Scale(ctx context.Context, serviceName string, replicas int) (*model.DeployResult, error) {
	return c.deployer.Scale(ctx, serviceName, replicas)
}

// UpdateImage 更新工作负载的容器镜像
func (c *controlPlane) UpdateImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (*model.DeployResult, error) {
	return c.deployer.UpdateImage(ctx, serviceName, image, strategy)
}

// GetDeploymentSpec 查询已确认的期望部署状态
func (c *controlPlane) GetDeploymentSpec(ctx context.Context, serviceName string) (*model.DeploymentSpec, error) {
	return c.deployer.GetSpec(ctx, serviceName)
}

// ListDeploymentSpecs 列出所有已确认的期望部署状态
func (c *controlPlane) ListDeploymentSpecs(ctx context.Context) ([]*model.DeploymentSpec, error) {
	return c.deployer.ListSpecs(ctx)
}

// AdmitRequest 询问熔断器是否放行对指定服务的一次调用
func (c *controlPlane) AdmitRequest(ctx context.Context, serviceName string) (bool, error) {
	if _, err := c.registry.Get(ctx, serviceName); err != nil {
		return false, err
	}
	return c.breakers.AllowRequest(serviceName), nil
}

// ReportOutcome 上报一次对指定服务调用的结果
func (c *controlPlane) ReportOutcome(ctx context.Context, serviceName string, success bool) error {
	if _, err := c.registry.Get(ctx, serviceName); err != nil {
		return err
	}
	c.breakers.RecordOutcome(serviceName, success)
	return nil
}

// Subscribe 订阅生命周期事件
func (c *controlPlane) Subscribe() (<-chan model.Event, func()) {
	return c.bus.Subscribe()
}

// Start 从持久化存储恢复状态并启动健康探测循环
func (c *controlPlane) Start(ctx context.Context) error {
	if err := c.registry.Load(ctx); err != nil {
		return err
	}
	if err := c.policies.Load(ctx); err != nil {
		return err
	}

	c.monitor.Start()
	c.logger.Info("控制面已启动")
	return nil
}

// Stop 停止健康探测循环并等待在途探测完成
func (c *controlPlane) Stop() {
	c.monitor.Stop()
	c.logger.Info("控制面已停止")
}
