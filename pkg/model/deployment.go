package model

import "time"

// UpdateStrategy 表示镜像更新策略
type UpdateStrategy string

const (
	// UpdateStrategyRolling 滚动更新，全程保留至少一个就绪副本
	UpdateStrategyRolling UpdateStrategy = "rolling"
	// UpdateStrategyRecreate 先销毁再重建
	UpdateStrategyRecreate UpdateStrategy = "recreate"
)

// ResourceRequest 表示工作负载的资源请求
type ResourceRequest struct {
	CPU    string `json:"cpu,omitempty"`    // CPU请求，如"100m"
	Memory string `json:"memory,omitempty"` // 内存请求，如"128Mi"
}

// DeploymentSpec 表示一个服务的期望部署状态
//
// 期望状态与集群后端观测到的实际状态是两回事，控制面只记录已被后端
// 确认过的期望状态。
type DeploymentSpec struct {
	ServiceName     string          `json:"service_name"`           // 服务名称
	Image           string          `json:"image"`                  // 容器镜像
	DesiredReplicas int             `json:"desired_replicas"`       // 期望副本数
	Ports           []int           `json:"ports,omitempty"`        // 端口列表
	ResourceRequest ResourceRequest `json:"resource_request"`       // 资源请求
	Dependencies    []string        `json:"dependencies,omitempty"` // 依赖的服务名称
}

// Clone 返回部署规格的深拷贝，避免调用方共享端口和依赖切片
func (s *DeploymentSpec) Clone() *DeploymentSpec {
	if s == nil {
		return nil
	}
	c := *s
	if s.Ports != nil {
		c.Ports = append([]int(nil), s.Ports...)
	}
	if s.Dependencies != nil {
		c.Dependencies = append([]string(nil), s.Dependencies...)
	}
	return &c
}

// DeployOperation 表示部署操作类型
type DeployOperation string

const (
	// OperationDeploy 创建工作负载
	OperationDeploy DeployOperation = "deploy"
	// OperationScale 调整副本数
	OperationScale DeployOperation = "scale"
	// OperationUpdateImage 更新镜像
	OperationUpdateImage DeployOperation = "update-image"
)

// OperationOutcome 表示部署操作结果
type OperationOutcome string

const (
	// OutcomeSucceeded 操作成功
	OutcomeSucceeded OperationOutcome = "succeeded"
	// OutcomeFailed 操作失败，原因明确
	OutcomeFailed OperationOutcome = "failed"
	// OutcomeIndeterminate 后端已收到请求但结果无法确认，调用方需先查询再决定是否重试
	OutcomeIndeterminate OperationOutcome = "indeterminate"
)

// DeployResult 表示一次部署操作的结果
type DeployResult struct {
	ServiceName string           `json:"service_name"`         // 服务名称
	Operation   DeployOperation  `json:"operation"`            // 操作类型
	Outcome     OperationOutcome `json:"outcome"`              // 操作结果
	BackendID   string           `json:"backend_id,omitempty"` // 后端分配的工作负载标识
	Message     string           `json:"message,omitempty"`    // 结果说明
	CompletedAt time.Time        `json:"completed_at"`         // 完成时间
}
