package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// ProbeOutcomeSuccess 探测成功的标签值
	ProbeOutcomeSuccess = "success"
	// ProbeOutcomeFailure 探测失败的标签值
	ProbeOutcomeFailure = "failure"
)

var (
	probesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh_control",
			Name:      "health_probes_total",
			Help:      "健康探测总次数，按结果分类",
		},
		[]string{"outcome"},
	)

	probeDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mesh_control",
			Name:      "health_probe_seconds",
			Help:      "健康探测耗时（秒）",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	breakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh_control",
			Name:      "breaker_transitions_total",
			Help:      "熔断器状态切换总次数，按目标状态分类",
		},
		[]string{"state"},
	)

	registeredServices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mesh_control",
			Name:      "registered_services",
			Help:      "当前注册的服务数量",
		},
	)

	deployOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mesh_control",
			Name:      "deploy_operations_total",
			Help:      "部署操作总次数，按操作和结果分类",
		},
		[]string{"operation", "outcome"},
	)
)

// Register 将所有采集器注册到指定的Prometheus注册器
//
// 同一采集器重复注册不视为错误，便于测试中多次初始化。
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		probesTotal,
		probeDurationSeconds,
		breakerTransitionsTotal,
		registeredServices,
		deployOperationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveProbe 记录一次健康探测的结果和耗时
func ObserveProbe(duration time.Duration, success bool) {
	outcome := ProbeOutcomeFailure
	if success {
		outcome = ProbeOutcomeSuccess
	}
	probesTotal.WithLabelValues(outcome).Inc()
	if duration < 0 {
		duration = 0
	}
	probeDurationSeconds.Observe(duration.Seconds())
}

// ObserveBreakerTransition 记录一次熔断器状态切换
func ObserveBreakerTransition(state string) {
	breakerTransitionsTotal.WithLabelValues(state).Inc()
}

// SetRegisteredServices 更新当前注册的服务数量
func SetRegisteredServices(count int) {
	registeredServices.Set(float64(count))
}

// ObserveDeployOperation 记录一次部署操作的结果
func ObserveDeployOperation(operation, outcome string) {
	deployOperationsTotal.WithLabelValues(operation, outcome).Inc()
}
