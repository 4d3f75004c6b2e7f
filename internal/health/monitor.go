package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/hewenyu/mesh-control/internal/breaker"
	"github.com/hewenyu/mesh-control/internal/metrics"
	"github.com/hewenyu/mesh-control/internal/registry"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
)

// Monitor 周期性探测注册表中所有服务的健康状态
//
// 每个探测周期对注册表做一次快照，并发探测所有服务，并发数由信号量限制。
// 探测结果通过注册表写回并反馈给熔断器；服务在探测期间被注销时，
// 迟到的结果被丢弃（注销优先）。
type Monitor struct {
	registry registry.Registry
	breakers breaker.Manager
	prober   Prober
	cfg      config.HealthConfig
	logger   config.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
}

// NewMonitor 创建健康监控器，prober为nil时使用HTTP探测器
func NewMonitor(reg registry.Registry, breakers breaker.Manager, prober Prober, cfg config.HealthConfig, logger config.Logger) *Monitor {
	if prober == nil {
		prober = NewHTTPProber()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.MaxConcurrentProbes <= 0 {
		cfg.MaxConcurrentProbes = 50
	}

	return &Monitor{
		registry: reg,
		breakers: breakers,
		prober:   prober,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start 启动探测循环，重复调用无效果
func (m *Monitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.doneChan = make(chan struct{})

	go m.run(m.stopChan, m.doneChan)

	m.logger.Info("健康监控已启动",
		zap.Duration("interval", m.cfg.Interval),
		zap.Duration("probe_timeout", m.cfg.ProbeTimeout),
		zap.Int("max_concurrent_probes", m.cfg.MaxConcurrentProbes),
	)
}

// Stop 停止探测循环，等待进行中的探测批次完成后返回
//
// 进行中的探测不会被立即取消，而是在各自的超时时间内自然结束。
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stopChan)
	done := m.doneChan
	m.mu.Unlock()

	<-done
	m.logger.Info("健康监控已停止")
}

// run 探测主循环，启动后立即执行第一轮探测
func (m *Monitor) run(stopChan <-chan struct{}, doneChan chan<- struct{}) {
	defer close(doneChan)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	m.runTick()

	for {
		select {
		case <-ticker.C:
			m.runTick()
		case <-stopChan:
			return
		}
	}
}

// runTick 执行一轮探测，所有探测完成后返回
func (m *Monitor) runTick() {
	services, err := m.registry.List(context.Background(), model.ListFilter{})
	if err != nil {
		m.logger.Error("获取服务列表失败", zap.Error(err))
		return
	}

	if len(services) == 0 {
		return
	}

	sem := semaphore.NewWeighted(int64(m.cfg.MaxConcurrentProbes))
	var wg sync.WaitGroup

	for _, descriptor := range services {
		if err := sem.Acquire(context.Background(), 1); err != nil {
			break
		}

		wg.Add(1)
		go func(descriptor *model.ServiceDescriptor) {
			defer wg.Done()
			defer sem.Release(1)
			m.probeOne(descriptor)
		}(descriptor)
	}

	wg.Wait()
}

// probeOne 探测单个服务并处理结果
func (m *Monitor) probeOne(descriptor *model.ServiceDescriptor) {
	// 每次探测使用独立的超时上下文，Stop不会中断进行中的探测
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	probeErr := m.prober.Probe(ctx, descriptor)
	duration := time.Since(start)

	success := probeErr == nil
	metrics.ObserveProbe(duration, success)

	status := model.HealthStatusHealthy
	errText := ""
	if !success {
		status = model.HealthStatusUnhealthy
		errText = probeErr.Error()
		m.logger.Warn("健康探测失败",
			zap.String("service_name", descriptor.Name),
			zap.Duration("duration", duration),
			zap.Error(probeErr),
		)
	}

	if _, err := m.registry.UpdateHealth(context.Background(), descriptor.Name, status, time.Now(), errText); err != nil {
		if model.IsNotFound(err) {
			// 注销优先：服务已不在注册表中，丢弃探测结果
			return
		}
		// 写回失败不影响熔断信号，探测本身已有结论
		m.logger.Error("写回健康状态失败",
			zap.String("service_name", descriptor.Name),
			zap.Error(err),
		)
	}

	m.breakers.RecordOutcome(descriptor.Name, success)
}
