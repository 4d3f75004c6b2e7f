package breaker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/mesh-control/internal/events"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
)

func newTestManager(defaults Settings, resolve SettingsFunc) Manager {
	return NewManager(defaults, resolve, nil, config.NopLogger{})
}

func TestManager_ClosedState(t *testing.T) {
	m := newTestManager(Settings{Threshold: 3, ResetTimeout: time.Minute}, nil)

	// 初始状态为闭合，放行请求
	assert.True(t, m.AllowRequest("orders"))

	snapshot := m.Snapshot("orders")
	assert.Equal(t, model.BreakerClosed, snapshot.State)
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)

	// 低于阈值的失败不触发熔断
	m.RecordOutcome("orders", false)
	m.RecordOutcome("orders", false)

	snapshot = m.Snapshot("orders")
	assert.Equal(t, model.BreakerClosed, snapshot.State)
	assert.Equal(t, 2, snapshot.ConsecutiveFailures)
	assert.True(t, m.AllowRequest("orders"))

	// 成功重置连续失败计数
	m.RecordOutcome("orders", true)

	snapshot = m.Snapshot("orders")
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
}

func TestManager_OpensAtThreshold(t *testing.T) {
	m := newTestManager(Settings{Threshold: 3, ResetTimeout: time.Minute}, nil)

	// 连续失败达到阈值后熔断
	m.RecordOutcome("orders", false)
	m.RecordOutcome("orders", false)
	m.RecordOutcome("orders", false)

	snapshot := m.Snapshot("orders")
	assert.Equal(t, model.BreakerOpen, snapshot.State)
	assert.False(t, snapshot.OpenedAt.IsZero())

	// 断开状态拒绝请求
	assert.False(t, m.AllowRequest("orders"))

	// 未到恢复时间时忽略调用结果
	m.RecordOutcome("orders", true)
	snapshot = m.Snapshot("orders")
	assert.Equal(t, model.BreakerOpen, snapshot.State)
}

func TestManager_HalfOpenSingleTrial(t *testing.T) {
	m := newTestManager(Settings{Threshold: 1, ResetTimeout: 50 * time.Millisecond}, nil)

	// 触发熔断
	m.RecordOutcome("orders", false)
	assert.False(t, m.AllowRequest("orders"))

	// 等待恢复时间
	time.Sleep(80 * time.Millisecond)

	// 半开状态只放行一次试探
	assert.True(t, m.AllowRequest("orders"))
	assert.False(t, m.AllowRequest("orders"))

	snapshot := m.Snapshot("orders")
	assert.Equal(t, model.BreakerHalfOpen, snapshot.State)
	assert.True(t, snapshot.TrialInFlight)
}

func TestManager_HalfOpenTrialSuccess(t *testing.T) {
	m := newTestManager(Settings{Threshold: 1, ResetTimeout: 50 * time.Millisecond}, nil)

	m.RecordOutcome("orders", false)
	time.Sleep(80 * time.Millisecond)

	// 试探成功后恢复闭合
	require.True(t, m.AllowRequest("orders"))
	m.RecordOutcome("orders", true)

	snapshot := m.Snapshot("orders")
	assert.Equal(t, model.BreakerClosed, snapshot.State)
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
	assert.False(t, snapshot.TrialInFlight)
	assert.True(t, m.AllowRequest("orders"))
}

func TestManager_HalfOpenTrialFailure(t *testing.T) {
	m := newTestManager(Settings{Threshold: 1, ResetTimeout: 50 * time.Millisecond}, nil)

	m.RecordOutcome("orders", false)
	firstOpenedAt := m.Snapshot("orders").OpenedAt
	time.Sleep(80 * time.Millisecond)

	// 试探失败后重新断开，重新计时
	require.True(t, m.AllowRequest("orders"))
	m.RecordOutcome("orders", false)

	snapshot := m.Snapshot("orders")
	assert.Equal(t, model.BreakerOpen, snapshot.State)
	assert.True(t, snapshot.OpenedAt.After(firstOpenedAt))
	assert.False(t, m.AllowRequest("orders"))
}

func TestManager_SettingsFromResolver(t *testing.T) {
	// 策略解析函数只覆盖orders的阈值
	resolve := func(serviceName string) Settings {
		if serviceName == "orders" {
			return Settings{Threshold: 2}
		}
		return Settings{}
	}
	m := newTestManager(Settings{Threshold: 5, ResetTimeout: time.Minute}, resolve)

	// orders使用覆盖后的阈值
	m.RecordOutcome("orders", false)
	m.RecordOutcome("orders", false)
	assert.Equal(t, model.BreakerOpen, m.Snapshot("orders").State)

	// 其他服务使用默认阈值
	m.RecordOutcome("payments", false)
	m.RecordOutcome("payments", false)
	assert.Equal(t, model.BreakerClosed, m.Snapshot("payments").State)

	snapshot := m.Snapshot("payments")
	assert.Equal(t, 5, snapshot.Threshold)
	assert.Equal(t, int(time.Minute/time.Millisecond), snapshot.ResetTimeoutMs)
}

func TestManager_Remove(t *testing.T) {
	m := newTestManager(Settings{Threshold: 1, ResetTimeout: time.Minute}, nil)

	// 熔断后移除状态机
	m.RecordOutcome("orders", false)
	require.Equal(t, model.BreakerOpen, m.Snapshot("orders").State)

	m.Remove("orders")

	// 重新出现的同名服务从闭合状态开始
	snapshot := m.Snapshot("orders")
	assert.Equal(t, model.BreakerClosed, snapshot.State)
	assert.Equal(t, 0, snapshot.ConsecutiveFailures)
	assert.True(t, m.AllowRequest("orders"))
}

func TestManager_TransitionEvents(t *testing.T) {
	bus := events.NewBus(16, config.NopLogger{})
	defer bus.Close()

	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	m := NewManager(Settings{Threshold: 1, ResetTimeout: 50 * time.Millisecond}, nil, bus, config.NopLogger{})

	// 闭合→断开→半开→闭合，每次切换恰好一条事件
	m.RecordOutcome("orders", false)
	time.Sleep(80 * time.Millisecond)
	require.True(t, m.AllowRequest("orders"))
	m.RecordOutcome("orders", true)

	expected := [][2]string{
		{string(model.BreakerClosed), string(model.BreakerOpen)},
		{string(model.BreakerOpen), string(model.BreakerHalfOpen)},
		{string(model.BreakerHalfOpen), string(model.BreakerClosed)},
	}

	for _, want := range expected {
		select {
		case event := <-ch:
			assert.Equal(t, model.EventBreakerStateChanged, event.Type)
			assert.Equal(t, "orders", event.ServiceName)
			assert.Equal(t, want[0], event.Old)
			assert.Equal(t, want[1], event.New)
		case <-time.After(time.Second):
			t.Fatalf("未收到 %s → %s 的状态切换事件", want[0], want[1])
		}
	}

	// 没有多余的事件
	select {
	case event := <-ch:
		t.Fatalf("收到多余的事件: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestManager_IndependentServices(t *testing.T) {
	m := newTestManager(Settings{Threshold: 1, ResetTimeout: time.Minute}, nil)

	// 不同服务的熔断器互不影响
	m.RecordOutcome("orders", false)

	assert.False(t, m.AllowRequest("orders"))
	assert.True(t, m.AllowRequest("payments"))
}
