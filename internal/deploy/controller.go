package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/hewenyu/mesh-control/internal/cluster"
	"github.com/hewenyu/mesh-control/internal/metrics"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
	"github.com/hewenyu/mesh-control/pkg/store"
)

// metricOutcomeInvalid 参数校验失败时的指标标签
const metricOutcomeInvalid = "invalid"

// Controller 定义部署控制器接口
//
// 每个操作只向集群后端发起一次请求，结果同步返回，控制器内部从不重试。
// 期望状态只在后端确认成功后记录，因此存储中的规格始终对应一次已确认
// 的后端状态。
type Controller interface {
	// Deploy 创建新的工作负载，重名时返回Conflict
	Deploy(ctx context.Context, spec *model.DeploymentSpec) (*model.DeployResult, error)

	// Scale 调整工作负载的副本数，0表示缩容到零而非注销
	Scale(ctx context.Context, serviceName string, replicas int) (*model.DeployResult, error)

	// UpdateImage 更新工作负载的容器镜像
	UpdateImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (*model.DeployResult, error)

	// GetSpec 查询已确认的期望部署状态
	GetSpec(ctx context.Context, serviceName string) (*model.DeploymentSpec, error)

	// ListSpecs 列出所有已确认的期望部署状态，按服务名排序
	ListSpecs(ctx context.Context) ([]*model.DeploymentSpec, error)
}

// controller 实现Controller接口
type controller struct {
	mu      sync.Mutex
	backend cluster.Backend
	store   store.Store
	logger  config.Logger
}

// NewController 创建部署控制器
func NewController(backend cluster.Backend, s store.Store, logger config.Logger) Controller {
	return &controller{
		backend: backend,
		store:   s,
		logger:  logger,
	}
}

// Deploy 创建新的工作负载
func (c *controller) Deploy(ctx context.Context, spec *model.DeploymentSpec) (*model.DeployResult, error) {
	if err := validateSpec(spec); err != nil {
		metrics.ObserveDeployOperation(string(model.OperationDeploy), metricOutcomeInvalid)
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	backendID, err := c.backend.CreateWorkload(ctx, spec)
	result := c.finish(model.OperationDeploy, spec.ServiceName, backendID, err)
	if err != nil {
		return result, err
	}

	c.persistSpec(ctx, spec, result)
	return result, nil
}

// Scale 调整工作负载的副本数
func (c *controller) Scale(ctx context.Context, serviceName string, replicas int) (*model.DeployResult, error) {
	if serviceName == "" {
		metrics.ObserveDeployOperation(string(model.OperationScale), metricOutcomeInvalid)
		return nil, model.NewInvalidArgumentError("服务名称不能为空")
	}
	if replicas < 0 {
		metrics.ObserveDeployOperation(string(model.OperationScale), metricOutcomeInvalid)
		return nil, model.NewInvalidArgumentError("副本数不能为负数")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	backendID, err := c.backend.ScaleWorkload(ctx, serviceName, replicas)
	result := c.finish(model.OperationScale, serviceName, backendID, err)
	if err != nil {
		return result, err
	}

	// 只更新已记录的期望状态，不为未经本控制面部署的工作负载补建记录
	if spec := c.loadSpec(ctx, serviceName); spec != nil {
		spec.DesiredReplicas = replicas
		c.persistSpec(ctx, spec, result)
	}
	return result, nil
}

// UpdateImage 更新工作负载的容器镜像
func (c *controller) UpdateImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (*model.DeployResult, error) {
	if serviceName == "" {
		metrics.ObserveDeployOperation(string(model.OperationUpdateImage), metricOutcomeInvalid)
		return nil, model.NewInvalidArgumentError("服务名称不能为空")
	}
	if image == "" {
		metrics.ObserveDeployOperation(string(model.OperationUpdateImage), metricOutcomeInvalid)
		return nil, model.NewInvalidArgumentError("镜像不能为空")
	}
	if strategy != model.UpdateStrategyRolling && strategy != model.UpdateStrategyRecreate {
		metrics.ObserveDeployOperation(string(model.OperationUpdateImage), metricOutcomeInvalid)
		return nil, model.NewInvalidArgumentError(fmt.Sprintf("未知的更新策略: %s", strategy))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	backendID, err := c.backend.UpdateWorkloadImage(ctx, serviceName, image, strategy)
	result := c.finish(model.OperationUpdateImage, serviceName, backendID, err)
	if err != nil {
		return result, err
	}

	if spec := c.loadSpec(ctx, serviceName); spec != nil {
		spec.Image = image
		c.persistSpec(ctx, spec, result)
	}
	return result, nil
}

// GetSpec 查询已确认的期望部署状态
func (c *controller) GetSpec(ctx context.Context, serviceName string) (*model.DeploymentSpec, error) {
	data, err := c.store.Get(ctx, store.CollectionDeployments, serviceName)
	if err != nil {
		return nil, err
	}

	var spec model.DeploymentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, model.NewInternalError(fmt.Sprintf("解析部署规格失败 [%s]: %v", serviceName, err))
	}
	return &spec, nil
}

// ListSpecs 列出所有已确认的期望部署状态
func (c *controller) ListSpecs(ctx context.Context) ([]*model.DeploymentSpec, error) {
	items, err := c.store.List(ctx, store.CollectionDeployments)
	if err != nil {
		return nil, err
	}

	specs := make([]*model.DeploymentSpec, 0, len(items))
	for key, data := range items {
		var spec model.DeploymentSpec
		if err := json.Unmarshal(data, &spec); err != nil {
			// 忽略无法解析的数据，继续处理其他数据
			c.logger.Warn("解析部署规格失败", zap.String("service", key), zap.Error(err))
			continue
		}
		specs = append(specs, &spec)
	}

	sort.Slice(specs, func(i, j int) bool {
		return specs[i].ServiceName < specs[j].ServiceName
	})
	return specs, nil
}

// finish 根据后端返回构造操作结果并记录指标
func (c *controller) finish(op model.DeployOperation, serviceName, backendID string, err error) *model.DeployResult {
	result := &model.DeployResult{
		ServiceName: serviceName,
		Operation:   op,
		BackendID:   backendID,
		CompletedAt: time.Now(),
	}

	switch {
	case err == nil:
		result.Outcome = model.OutcomeSucceeded
	case model.IsIndeterminate(err):
		// 后端可能已经执行，留给调用方先查询再决定是否重试
		result.Outcome = model.OutcomeIndeterminate
		result.Message = err.Error()
	default:
		result.Outcome = model.OutcomeFailed
		result.Message = err.Error()
	}

	metrics.ObserveDeployOperation(string(op), string(result.Outcome))

	if err != nil {
		c.logger.Warn("部署操作未成功",
			zap.String("service", serviceName),
			zap.String("operation", string(op)),
			zap.String("outcome", string(result.Outcome)),
			zap.Error(err))
	} else {
		c.logger.Info("部署操作成功",
			zap.String("service", serviceName),
			zap.String("operation", string(op)),
			zap.String("backend_id", backendID))
	}

	return result
}

// persistSpec 在后端确认成功后记录期望状态
//
// 记录失败不改变操作结果，只在结果说明中注明，期望状态会在下一次
// 成功操作时重写。
func (c *controller) persistSpec(ctx context.Context, spec *model.DeploymentSpec, result *model.DeployResult) {
	data, err := json.Marshal(spec)
	if err != nil {
		c.logger.Error("序列化部署规格失败", zap.String("service", spec.ServiceName), zap.Error(err))
		result.Message = fmt.Sprintf("操作已生效，但记录期望状态失败: %v", err)
		return
	}

	if err := c.store.Put(ctx, store.CollectionDeployments, spec.ServiceName, data); err != nil {
		c.logger.Error("保存部署规格失败", zap.String("service", spec.ServiceName), zap.Error(err))
		result.Message = fmt.Sprintf("操作已生效，但记录期望状态失败: %v", err)
	}
}

// loadSpec 读取已记录的期望状态，不存在或无法解析时返回nil
func (c *controller) loadSpec(ctx context.Context, serviceName string) *model.DeploymentSpec {
	data, err := c.store.Get(ctx, store.CollectionDeployments, serviceName)
	if err != nil {
		if !model.IsNotFound(err) {
			c.logger.Warn("读取部署规格失败", zap.String("service", serviceName), zap.Error(err))
		}
		return nil
	}

	var spec model.DeploymentSpec
	if err := json.Unmarshal(data, &spec); err != nil {
		c.logger.Warn("解析部署规格失败", zap.String("service", serviceName), zap.Error(err))
		return nil
	}
	return &spec
}

// validateSpec 校验部署规格
func validateSpec(spec *model.DeploymentSpec) error {
	if spec == nil {
		return model.NewInvalidArgumentError("部署规格不能为空")
	}
	if spec.ServiceName == "" {
		return model.NewInvalidArgumentError("服务名称不能为空")
	}
	if spec.Image == "" {
		return model.NewInvalidArgumentError("镜像不能为空")
	}
	if spec.DesiredReplicas < 0 {
		return model.NewInvalidArgumentError("副本数不能为负数")
	}
	for _, port := range spec.Ports {
		if port < 1 || port > 65535 {
			return model.NewInvalidArgumentError(fmt.Sprintf("端口超出有效范围: %d", port))
		}
	}
	if spec.ResourceRequest.CPU != "" {
		if _, err := resource.ParseQuantity(spec.ResourceRequest.CPU); err != nil {
			return model.NewInvalidArgumentError(fmt.Sprintf("无效的CPU请求 [%s]: %v", spec.ResourceRequest.CPU, err))
		}
	}
	if spec.ResourceRequest.Memory != "" {
		if _, err := resource.ParseQuantity(spec.ResourceRequest.Memory); err != nil {
			return model.NewInvalidArgumentError(fmt.Sprintf("无效的内存请求 [%s]: %v", spec.ResourceRequest.Memory, err))
		}
	}
	return nil
}
