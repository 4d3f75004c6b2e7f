package cluster

import (
	"context"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// Backend 对接实际运行工作负载的集群系统
//
// 每个方法对应一次后端请求，返回后端分配的工作负载标识。
// 错误使用统一的错误代码：工作负载不存在为NotFound，重名创建为Conflict，
// 后端不可达为Unavailable，请求已提交但确认超时为Indeterminate。
type Backend interface {
	// CreateWorkload 创建新的工作负载
	CreateWorkload(ctx context.Context, spec *model.DeploymentSpec) (string, error)

	// ScaleWorkload 调整工作负载的副本数
	ScaleWorkload(ctx context.Context, serviceName string, replicas int) (string, error)

	// UpdateWorkloadImage 更新工作负载的容器镜像
	UpdateWorkloadImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (string, error)
}
