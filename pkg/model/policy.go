package model

// LoadBalanceStrategy 表示负载均衡策略
type LoadBalanceStrategy string

const (
	// StrategyRoundRobin 轮询策略
	StrategyRoundRobin LoadBalanceStrategy = "round-robin"
	// StrategyWeighted 加权策略
	StrategyWeighted LoadBalanceStrategy = "weighted"
	// StrategyLeastConnections 最少连接策略
	StrategyLeastConnections LoadBalanceStrategy = "least-connections"
)

// 默认策略参数
const (
	DefaultRetryAttempts    = 3
	DefaultRetryDelayMs     = 1000
	DefaultRequestTimeoutMs = 30000
)

// PolicyRecord 表示一个服务的流量策略配置
//
// 策略与服务注册的生命周期相互独立：策略可以在服务注册之前预先配置，
// 服务注销后策略仍然保留，直到被显式删除。
type PolicyRecord struct {
	ServiceName      string              `json:"service_name"`       // 服务名称
	Strategy         LoadBalanceStrategy `json:"strategy"`           // 负载均衡策略
	Weights          map[string]int      `json:"weights,omitempty"`  // 实例权重，仅加权策略使用
	RetryAttempts    int                 `json:"retry_attempts"`     // 重试次数
	RetryDelayMs     int                 `json:"retry_delay_ms"`     // 重试间隔（毫秒）
	RequestTimeoutMs int                 `json:"request_timeout_ms"` // 请求超时（毫秒）
	BreakerThreshold int                 `json:"breaker_threshold"`  // 熔断失败阈值，0表示使用全局默认值
	BreakerResetMs   int                 `json:"breaker_reset_ms"`   // 熔断重置时间（毫秒），0表示使用全局默认值
}

// Clone 返回策略记录的深拷贝，避免调用方共享权重表
func (p PolicyRecord) Clone() PolicyRecord {
	c := p
	if p.Weights != nil {
		c.Weights = make(map[string]int, len(p.Weights))
		for k, v := range p.Weights {
			c.Weights[k] = v
		}
	}
	return c
}

// DefaultPolicy 返回指定服务的默认策略：
// 轮询、3次重试、1000ms重试间隔、30000ms请求超时，熔断参数使用全局默认值
func DefaultPolicy(serviceName string) PolicyRecord {
	return PolicyRecord{
		ServiceName:      serviceName,
		Strategy:         StrategyRoundRobin,
		RetryAttempts:    DefaultRetryAttempts,
		RetryDelayMs:     DefaultRetryDelayMs,
		RequestTimeoutMs: DefaultRequestTimeoutMs,
	}
}
