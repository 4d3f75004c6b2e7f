package model

import "time"

// BreakerState 表示熔断器状态
type BreakerState string

const (
	// BreakerClosed 闭合状态，允许流量，统计连续失败
	BreakerClosed BreakerState = "closed"
	// BreakerOpen 断开状态，拒绝流量
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen 半开状态，只允许一次试探调用
	BreakerHalfOpen BreakerState = "half-open"
)

// 熔断器全局默认参数
const (
	DefaultBreakerThreshold = 5
	DefaultBreakerReset     = 60 * time.Second
)

// BreakerSnapshot 表示某个服务熔断器的即时状态
type BreakerSnapshot struct {
	ServiceName         string       `json:"service_name"`         // 服务名称
	State               BreakerState `json:"state"`                // 当前状态
	ConsecutiveFailures int          `json:"consecutive_failures"` // 连续失败次数
	OpenedAt            time.Time    `json:"opened_at"`            // 进入断开状态的时间
	Threshold           int          `json:"threshold"`            // 生效的失败阈值
	ResetTimeoutMs      int          `json:"reset_timeout_ms"`     // 生效的重置时间（毫秒）
	TrialInFlight       bool         `json:"trial_in_flight"`      // 半开状态下是否有试探调用在途
}
