package breaker

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/internal/events"
	"github.com/hewenyu/mesh-control/internal/metrics"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
)

// Settings 表示单个服务生效的熔断参数
type Settings struct {
	Threshold    int           // 连续失败阈值
	ResetTimeout time.Duration // 断开后进入半开的等待时间
}

// SettingsFunc 按服务名解析熔断参数，返回的零值字段使用全局默认值
type SettingsFunc func(serviceName string) Settings

// Manager 管理各服务的熔断器状态机
//
// 熔断器状态只保存在内存中，进程重启后所有服务回到闭合状态。
// 断开到半开的切换不依赖定时器，在下一次访问时惰性推进。
type Manager interface {
	// AllowRequest 判断是否放行对指定服务的一次调用
	AllowRequest(serviceName string) bool

	// RecordOutcome 记录一次对指定服务调用的结果
	RecordOutcome(serviceName string, success bool)

	// Snapshot 返回指定服务熔断器的即时状态
	Snapshot(serviceName string) model.BreakerSnapshot

	// Remove 移除指定服务的熔断器状态
	Remove(serviceName string)
}

// machine 单个服务的熔断器状态机
type machine struct {
	state         model.BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// manager 实现 Manager 接口
type manager struct {
	mu       sync.Mutex
	machines map[string]*machine
	defaults Settings
	resolve  SettingsFunc
	bus      *events.Bus
	logger   config.Logger
}

// NewManager 创建熔断器管理器
//
// defaults提供全局默认参数，resolve按服务名解析策略中的覆盖值，可以为nil。
func NewManager(defaults Settings, resolve SettingsFunc, bus *events.Bus, logger config.Logger) Manager {
	if defaults.Threshold <= 0 {
		defaults.Threshold = model.DefaultBreakerThreshold
	}
	if defaults.ResetTimeout <= 0 {
		defaults.ResetTimeout = model.DefaultBreakerReset
	}

	return &manager{
		machines: make(map[string]*machine),
		defaults: defaults,
		resolve:  resolve,
		bus:      bus,
		logger:   logger,
	}
}

// AllowRequest 判断是否放行对指定服务的一次调用
func (m *manager) AllowRequest(serviceName string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc := m.machineFor(serviceName)
	settings := m.settingsFor(serviceName)
	m.advance(serviceName, mc, settings)

	switch mc.state {
	case model.BreakerHalfOpen:
		// 半开状态只放行一次试探调用
		if mc.trialInFlight {
			return false
		}
		mc.trialInFlight = true
		return true
	case model.BreakerOpen:
		return false
	default:
		return true
	}
}

// RecordOutcome 记录一次对指定服务调用的结果
func (m *manager) RecordOutcome(serviceName string, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc := m.machineFor(serviceName)
	settings := m.settingsFor(serviceName)
	m.advance(serviceName, mc, settings)

	switch mc.state {
	case model.BreakerClosed:
		if success {
			mc.failures = 0
			return
		}
		mc.failures++
		if mc.failures >= settings.Threshold {
			mc.openedAt = time.Now()
			m.transition(serviceName, mc, model.BreakerOpen)
		}
	case model.BreakerHalfOpen:
		// 半开状态下的任何结果都当作试探结果
		mc.trialInFlight = false
		if success {
			mc.failures = 0
			m.transition(serviceName, mc, model.BreakerClosed)
		} else {
			mc.openedAt = time.Now()
			m.transition(serviceName, mc, model.BreakerOpen)
		}
	default:
		// 断开状态且未到恢复时间，忽略调用结果
	}
}

// Snapshot 返回指定服务熔断器的即时状态
func (m *manager) Snapshot(serviceName string) model.BreakerSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	settings := m.settingsFor(serviceName)

	// 未知服务返回默认的闭合状态快照，不创建状态机
	mc, ok := m.machines[serviceName]
	if !ok {
		return model.BreakerSnapshot{
			ServiceName:    serviceName,
			State:          model.BreakerClosed,
			Threshold:      settings.Threshold,
			ResetTimeoutMs: int(settings.ResetTimeout / time.Millisecond),
		}
	}

	m.advance(serviceName, mc, settings)

	return model.BreakerSnapshot{
		ServiceName:         serviceName,
		State:               mc.state,
		ConsecutiveFailures: mc.failures,
		OpenedAt:            mc.openedAt,
		Threshold:           settings.Threshold,
		ResetTimeoutMs:      int(settings.ResetTimeout / time.Millisecond),
		TrialInFlight:       mc.trialInFlight,
	}
}

// Remove 移除指定服务的熔断器状态
func (m *manager) Remove(serviceName string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.machines, serviceName)
}

// machineFor 获取或创建指定服务的状态机，调用方需持有锁
func (m *manager) machineFor(serviceName string) *machine {
	mc, ok := m.machines[serviceName]
	if !ok {
		mc = &machine{state: model.BreakerClosed}
		m.machines[serviceName] = mc
	}
	return mc
}

// settingsFor 解析指定服务生效的熔断参数，调用方需持有锁
func (m *manager) settingsFor(serviceName string) Settings {
	settings := m.defaults
	if m.resolve == nil {
		return settings
	}

	resolved := m.resolve(serviceName)
	if resolved.Threshold > 0 {
		settings.Threshold = resolved.Threshold
	}
	if resolved.ResetTimeout > 0 {
		settings.ResetTimeout = resolved.ResetTimeout
	}
	return settings
}

// advance 推进断开状态的超时切换，调用方需持有锁
func (m *manager) advance(serviceName string, mc *machine, settings Settings) {
	if mc.state == model.BreakerOpen && time.Since(mc.openedAt) >= settings.ResetTimeout {
		mc.trialInFlight = false
		m.transition(serviceName, mc, model.BreakerHalfOpen)
	}
}

// transition 执行状态切换并广播事件，调用方需持有锁
func (m *manager) transition(serviceName string, mc *machine, newState model.BreakerState) {
	oldState := mc.state
	if oldState == newState {
		return
	}
	mc.state = newState

	metrics.ObserveBreakerTransition(string(newState))
	m.logger.Info("熔断器状态切换",
		zap.String("service_name", serviceName),
		zap.String("old_state", string(oldState)),
		zap.String("new_state", string(newState)),
	)

	if m.bus != nil {
		m.bus.Publish(model.Event{
			Type:        model.EventBreakerStateChanged,
			ServiceName: serviceName,
			Old:         string(oldState),
			New:         string(newState),
		})
	}
}
