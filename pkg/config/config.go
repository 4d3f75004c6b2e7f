package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 定义整个应用的配置结构
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	DNS     DNSConfig     `mapstructure:"dns"`
	Store   StoreConfig   `mapstructure:"store"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`
	Health  HealthConfig  `mapstructure:"health"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Log     LogConfig     `mapstructure:"log"`
}

// ServerConfig 管理API服务器配置
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DNSConfig DNS发现服务配置
type DNSConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Domain  string `mapstructure:"domain"`
	TTL     int    `mapstructure:"ttl"`
}

// StoreConfig 持久化存储配置
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "etcd" 或 "memory"
}

// EtcdConfig etcd配置
type EtcdConfig struct {
	Endpoints      []string      `mapstructure:"endpoints"`
	DialTimeout    time.Duration `mapstructure:"dial_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
}

// HealthConfig 健康探测配置
type HealthConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	ProbeTimeout        time.Duration `mapstructure:"probe_timeout"`
	MaxConcurrentProbes int           `mapstructure:"max_concurrent_probes"`
}

// BreakerConfig 熔断器全局默认配置
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
}

// DeployConfig 部署后端配置
type DeployConfig struct {
	Backend        string        `mapstructure:"backend"` // "kubernetes" 或 "memory"
	Namespace      string        `mapstructure:"namespace"`
	Kubeconfig     string        `mapstructure:"kubeconfig"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// LoadConfig 从文件和环境变量加载配置
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 设置配置文件
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 默认查找路径
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/mesh-control")
		v.SetConfigName("config")
	}
	v.SetConfigType("yaml")

	// 读取配置文件
	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时不返回错误，使用默认值和环境变量
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 从环境变量读取配置
	v.SetEnvPrefix("MESH_CONTROL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 解析配置到结构体
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 管理API默认配置
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	// DNS发现默认配置
	v.SetDefault("dns.enabled", true)
	v.SetDefault("dns.host", "0.0.0.0")
	v.SetDefault("dns.port", 8053)
	v.SetDefault("dns.domain", "mesh.local")
	v.SetDefault("dns.ttl", 30)

	// 存储默认配置
	v.SetDefault("store.backend", "etcd")

	// etcd默认配置
	v.SetDefault("etcd.endpoints", []string{"localhost:2379"})
	v.SetDefault("etcd.dial_timeout", "5s")
	v.SetDefault("etcd.request_timeout", "3s")

	// 健康探测默认配置
	v.SetDefault("health.interval", "10s")
	v.SetDefault("health.probe_timeout", "3s")
	v.SetDefault("health.max_concurrent_probes", 50)

	// 熔断器默认配置
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout", "60s")

	// 部署后端默认配置
	v.SetDefault("deploy.backend", "memory")
	v.SetDefault("deploy.namespace", "default")
	v.SetDefault("deploy.kubeconfig", "")
	v.SetDefault("deploy.request_timeout", "10s")

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}
