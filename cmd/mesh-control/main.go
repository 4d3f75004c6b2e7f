package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/internal/apiserver"
	"github.com/hewenyu/mesh-control/internal/cluster"
	"github.com/hewenyu/mesh-control/internal/controlplane"
	"github.com/hewenyu/mesh-control/internal/dnsdiscovery"
	"github.com/hewenyu/mesh-control/internal/metrics"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/store"
	"github.com/hewenyu/mesh-control/pkg/store/etcd"
	"github.com/hewenyu/mesh-control/pkg/store/memory"
)

var configFile string

func init() {
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	logger.Info("Mesh Control Plane Starting...",
		zap.String("store_backend", cfg.Store.Backend),
		zap.String("deploy_backend", cfg.Deploy.Backend),
		zap.Int("api_port", cfg.Server.Port),
		zap.Bool("dns_enabled", cfg.DNS.Enabled),
	)

	// 创建持久化存储
	s, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("初始化存储失败", zap.Error(err))
	}
	defer s.Close()

	// 创建集群后端
	backend, err := newClusterBackend(cfg, logger)
	if err != nil {
		logger.Fatal("初始化集群后端失败", zap.Error(err))
	}

	// 注册监控指标
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Fatal("注册监控指标失败", zap.Error(err))
	}

	// 创建控制面并从存储恢复状态
	plane := controlplane.New(cfg, s, backend, logger)
	if err := plane.Start(context.Background()); err != nil {
		logger.Fatal("启动控制面失败", zap.Error(err))
	}

	// 启动管理API
	apiServer := apiserver.NewServer(cfg.Server, plane, logger)
	if err := apiServer.Start(); err != nil {
		logger.Fatal("启动管理API失败", zap.Error(err))
	}

	// 启动DNS发现服务
	var dnsServer *dnsdiscovery.Server
	if cfg.DNS.Enabled {
		dnsServer = dnsdiscovery.NewServer(cfg.DNS, plane, logger)
		if err := dnsServer.Start(); err != nil {
			logger.Fatal("启动DNS发现服务失败", zap.Error(err))
		}
	}

	// 等待终止信号
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Info("接收到关闭信号，正在优雅关闭...", zap.String("signal", sig.String()))

	// 按启动的逆序关闭
	const shutdownTimeout = 5 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if dnsServer != nil {
		dnsServer.Stop()
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("关闭管理API失败", zap.Error(err))
	}
	plane.Stop()

	logger.Info("服务已关闭")
}

// newStore 根据配置选择持久化存储后端
func newStore(cfg *config.Config, logger config.Logger) (store.Store, error) {
	switch cfg.Store.Backend {
	case "etcd":
		logger.Info("使用etcd存储", zap.Strings("endpoints", cfg.Etcd.Endpoints))
		return etcd.NewEtcdStore(&cfg.Etcd)
	case "memory":
		logger.Warn("使用内存存储，进程重启后状态会丢失")
		return memory.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("不支持的存储后端: %s", cfg.Store.Backend)
	}
}

// newClusterBackend 根据配置选择集群后端
func newClusterBackend(cfg *config.Config, logger config.Logger) (cluster.Backend, error) {
	switch cfg.Deploy.Backend {
	case "kubernetes":
		logger.Info("使用Kubernetes集群后端", zap.String("namespace", cfg.Deploy.Namespace))
		return cluster.NewKubernetesBackend(&cfg.Deploy)
	case "memory":
		logger.Warn("使用内存集群后端，部署操作不会触达真实集群")
		return cluster.NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("不支持的集群后端: %s", cfg.Deploy.Backend)
	}
}
