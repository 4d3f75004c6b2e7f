package model

import "time"

// HealthStatus 表示服务健康状态
type HealthStatus string

const (
	// HealthStatusHealthy 健康状态
	HealthStatusHealthy HealthStatus = "healthy"
	// HealthStatusUnhealthy 不健康状态
	HealthStatusUnhealthy HealthStatus = "unhealthy"
	// HealthStatusUnknown 未知状态（尚未探测）
	HealthStatusUnknown HealthStatus = "unknown"
)

// ServiceDescriptor 表示一个已注册的服务
type ServiceDescriptor struct {
	Name            string            `json:"name"`                       // 服务名称，全局唯一
	EndpointURL     string            `json:"endpoint_url"`               // 服务访问地址
	HealthCheckPath string            `json:"health_check_path"`          // 健康检查路径
	Metadata        map[string]string `json:"metadata,omitempty"`         // 服务元数据
	RegisteredAt    time.Time         `json:"registered_at"`              // 注册时间
	Status          HealthStatus      `json:"status"`                     // 当前健康状态
	LastCheckedAt   time.Time         `json:"last_checked_at"`            // 最后探测时间
	LastProbeError  string            `json:"last_probe_error,omitempty"` // 最近一次探测失败原因
}

// Clone 返回描述符的深拷贝，避免调用方共享内部状态
func (d *ServiceDescriptor) Clone() *ServiceDescriptor {
	if d == nil {
		return nil
	}
	c := *d
	if d.Metadata != nil {
		c.Metadata = make(map[string]string, len(d.Metadata))
		for k, v := range d.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// ListFilter 服务列表过滤条件，零值表示不过滤
type ListFilter struct {
	Status     HealthStatus `json:"status,omitempty"`      // 按健康状态过滤
	NamePrefix string       `json:"name_prefix,omitempty"` // 按名称前缀过滤
}

// ServiceSnapshot 服务的聚合视图：描述符 + 熔断器状态 + 生效策略
type ServiceSnapshot struct {
	Descriptor *ServiceDescriptor `json:"descriptor"`
	Breaker    BreakerSnapshot    `json:"breaker"`
	Policy     PolicyRecord       `json:"policy"`
}
