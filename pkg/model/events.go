package model

import "time"

// EventType 表示生命周期事件类型
type EventType string

const (
	// EventServiceRegistered 服务注册事件
	EventServiceRegistered EventType = "service_registered"
	// EventServiceDeregistered 服务注销事件
	EventServiceDeregistered EventType = "service_deregistered"
	// EventHealthChanged 健康状态变化事件，每次状态翻转只发一次
	EventHealthChanged EventType = "health_changed"
	// EventBreakerStateChanged 熔断器状态变化事件
	EventBreakerStateChanged EventType = "breaker_state_changed"
)

// Event 表示一次控制面生命周期事件
type Event struct {
	ID          string    `json:"id"`            // 事件唯一ID
	Type        EventType `json:"type"`          // 事件类型
	ServiceName string    `json:"service_name"`  // 关联的服务名称
	Old         string    `json:"old,omitempty"` // 变化前的状态
	New         string    `json:"new,omitempty"` // 变化后的状态
	Time        time.Time `json:"time"`          // 事件时间
}
