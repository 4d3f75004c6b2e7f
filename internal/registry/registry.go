package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/internal/events"
	"github.com/hewenyu/mesh-control/internal/metrics"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
	"github.com/hewenyu/mesh-control/pkg/store"
)

// DefaultHealthCheckPath 未指定时使用的健康检查路径
const DefaultHealthCheckPath = "/health"

// Registry 管理服务注册表
//
// 所有变更先写入持久化存储再更新内存，调用返回时数据已落盘。
type Registry interface {
	// Register 注册服务
	//
	// 同名服务重复注册时覆盖可变字段，保留原注册时间和健康状态；
	// force为true时视为全新注册，刷新注册时间并将状态重置为未知。
	Register(ctx context.Context, descriptor *model.ServiceDescriptor, force bool) (*model.ServiceDescriptor, error)

	// Deregister 注销服务
	Deregister(ctx context.Context, name string) error

	// Get 获取服务描述符
	Get(ctx context.Context, name string) (*model.ServiceDescriptor, error)

	// List 按过滤条件列出服务，结果按名称排序
	List(ctx context.Context, filter model.ListFilter) ([]*model.ServiceDescriptor, error)

	// UpdateHealth 写回健康探测结果，返回状态是否发生翻转
	//
	// 服务已被注销时返回NotFound错误，探测结果被丢弃而不是重新写入。
	UpdateHealth(ctx context.Context, name string, status model.HealthStatus, checkedAt time.Time, probeErr string) (bool, error)

	// Load 从持久化存储恢复注册表，用于进程启动
	Load(ctx context.Context) error
}

// registry 实现 Registry 接口
type registry struct {
	mu       sync.RWMutex
	services map[string]*model.ServiceDescriptor
	store    store.Store
	bus      *events.Bus
	logger   config.Logger
}

// NewRegistry 创建服务注册表
func NewRegistry(s store.Store, bus *events.Bus, logger config.Logger) Registry {
	return &registry{
		services: make(map[string]*model.ServiceDescriptor),
		store:    s,
		bus:      bus,
		logger:   logger,
	}
}

// Register 注册服务
func (r *registry) Register(ctx context.Context, descriptor *model.ServiceDescriptor, force bool) (*model.ServiceDescriptor, error) {
	if err := validateDescriptor(descriptor); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entry := descriptor.Clone()
	if entry.HealthCheckPath == "" {
		entry.HealthCheckPath = DefaultHealthCheckPath
	}

	if existing, ok := r.services[entry.Name]; ok && !force {
		// 重复注册只覆盖可变字段，保留注册时间和健康状态
		entry.RegisteredAt = existing.RegisteredAt
		entry.Status = existing.Status
		entry.LastCheckedAt = existing.LastCheckedAt
		entry.LastProbeError = existing.LastProbeError
	} else {
		entry.RegisteredAt = time.Now()
		entry.Status = model.HealthStatusUnknown
		entry.LastCheckedAt = time.Time{}
		entry.LastProbeError = ""
	}

	// 先持久化再更新内存
	if err := r.persist(ctx, entry); err != nil {
		return nil, err
	}
	r.services[entry.Name] = entry
	metrics.SetRegisteredServices(len(r.services))

	r.logger.Info("服务注册成功",
		zap.String("service_name", entry.Name),
		zap.String("endpoint_url", entry.EndpointURL),
		zap.Bool("force", force),
	)
	r.bus.Publish(model.Event{
		Type:        model.EventServiceRegistered,
		ServiceName: entry.Name,
	})

	return entry.Clone(), nil
}

// Deregister 注销服务
func (r *registry) Deregister(ctx context.Context, name string) error {
	if name == "" {
		return model.NewInvalidArgumentError("服务名称不能为空")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.services[name]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("服务不存在: %s", name))
	}

	// 先删除持久化数据再更新内存
	if err := r.store.Delete(ctx, store.CollectionServices, name); err != nil {
		return err
	}
	delete(r.services, name)
	metrics.SetRegisteredServices(len(r.services))

	r.logger.Info("服务注销成功", zap.String("service_name", name))
	r.bus.Publish(model.Event{
		Type:        model.EventServiceDeregistered,
		ServiceName: name,
	})

	return nil
}

// Get 获取服务描述符
func (r *registry) Get(ctx context.Context, name string) (*model.ServiceDescriptor, error) {
	if name == "" {
		return nil, model.NewInvalidArgumentError("服务名称不能为空")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptor, ok := r.services[name]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("服务不存在: %s", name))
	}

	return descriptor.Clone(), nil
}

// List 按过滤条件列出服务，结果按名称排序
func (r *registry) List(ctx context.Context, filter model.ListFilter) ([]*model.ServiceDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*model.ServiceDescriptor, 0, len(r.services))
	for _, descriptor := range r.services {
		if filter.Status != "" && descriptor.Status != filter.Status {
			continue
		}
		if filter.NamePrefix != "" && !strings.HasPrefix(descriptor.Name, filter.NamePrefix) {
			continue
		}
		result = append(result, descriptor.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result, nil
}

// UpdateHealth 写回健康探测结果
func (r *registry) UpdateHealth(ctx context.Context, name string, status model.HealthStatus, checkedAt time.Time, probeErr string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.services[name]
	if !ok {
		// 注销优先：服务已不在注册表中时丢弃探测结果
		return false, model.NewNotFoundError(fmt.Sprintf("服务不存在: %s", name))
	}

	updated := existing.Clone()
	changed := updated.Status != status
	updated.Status = status
	updated.LastCheckedAt = checkedAt
	updated.LastProbeError = probeErr

	if err := r.persist(ctx, updated); err != nil {
		return false, err
	}
	r.services[name] = updated

	if changed {
		r.bus.Publish(model.Event{
			Type:        model.EventHealthChanged,
			ServiceName: name,
			Old:         string(existing.Status),
			New:         string(status),
		})
	}

	return changed, nil
}

// Load 从持久化存储恢复注册表
func (r *registry) Load(ctx context.Context) error {
	entries, err := r.store.List(ctx, store.CollectionServices)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.services = make(map[string]*model.ServiceDescriptor, len(entries))
	for key, data := range entries {
		var descriptor model.ServiceDescriptor
		if err := json.Unmarshal(data, &descriptor); err != nil {
			// 忽略无法解析的数据，继续处理其他数据
			r.logger.Warn("解析服务数据失败，已跳过", zap.String("key", key), zap.Error(err))
			continue
		}
		r.services[descriptor.Name] = &descriptor
	}
	metrics.SetRegisteredServices(len(r.services))

	r.logger.Info("服务注册表恢复完成", zap.Int("count", len(r.services)))
	return nil
}

// persist 将描述符写入持久化存储
func (r *registry) persist(ctx context.Context, descriptor *model.ServiceDescriptor) error {
	data, err := json.Marshal(descriptor)
	if err != nil {
		return model.NewInternalError(fmt.Sprintf("序列化服务数据失败: %v", err))
	}
	return r.store.Put(ctx, store.CollectionServices, descriptor.Name, data)
}

// validateDescriptor 校验注册请求的描述符字段
func validateDescriptor(descriptor *model.ServiceDescriptor) error {
	if descriptor == nil {
		return model.NewInvalidArgumentError("服务描述符不能为空")
	}
	if descriptor.Name == "" {
		return model.NewInvalidArgumentError("服务名称不能为空")
	}
	if descriptor.EndpointURL == "" {
		return model.NewInvalidArgumentError("服务地址不能为空")
	}
	parsed, err := url.Parse(descriptor.EndpointURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return model.NewInvalidArgumentError(fmt.Sprintf("服务地址无效: %s", descriptor.EndpointURL))
	}
	if descriptor.HealthCheckPath != "" && !strings.HasPrefix(descriptor.HealthCheckPath, "/") {
		return model.NewInvalidArgumentError(fmt.Sprintf("健康检查路径必须以/开头: %s", descriptor.HealthCheckPath))
	}
	return nil
}
