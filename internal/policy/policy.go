package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
	"github.com/hewenyu/mesh-control/pkg/store"
)

// PolicyStore 管理服务的流量策略
//
// 策略生命周期与服务注册相互独立：可以为未注册的服务预先配置策略，
// 服务注销后策略保留。写操作先持久化再更新内存。
type PolicyStore interface {
	// Set 设置服务的流量策略，全量替换并立即持久化
	Set(ctx context.Context, record model.PolicyRecord) error

	// Get 获取服务生效的流量策略，未设置时返回默认策略，从不报错
	Get(serviceName string) model.PolicyRecord

	// List 返回所有显式设置过的流量策略
	List() map[string]model.PolicyRecord

	// Delete 删除服务的流量策略
	Delete(ctx context.Context, serviceName string) error

	// Load 从持久化存储恢复策略表，用于进程启动
	Load(ctx context.Context) error
}

// policyStore 实现 PolicyStore 接口
type policyStore struct {
	mu       sync.RWMutex
	policies map[string]model.PolicyRecord
	store    store.Store
	logger   config.Logger
}

// NewPolicyStore 创建流量策略存储
func NewPolicyStore(s store.Store, logger config.Logger) PolicyStore {
	return &policyStore{
		policies: make(map[string]model.PolicyRecord),
		store:    s,
		logger:   logger,
	}
}

// Set 设置服务的流量策略
func (p *policyStore) Set(ctx context.Context, record model.PolicyRecord) error {
	if err := validatePolicy(record); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	entry := record.Clone()

	// 先持久化再更新内存
	data, err := json.Marshal(entry)
	if err != nil {
		return model.NewInternalError(fmt.Sprintf("序列化策略数据失败: %v", err))
	}
	if err := p.store.Put(ctx, store.CollectionPolicies, entry.ServiceName, data); err != nil {
		return err
	}
	p.policies[entry.ServiceName] = entry

	p.logger.Info("流量策略已更新",
		zap.String("service_name", entry.ServiceName),
		zap.String("strategy", string(entry.Strategy)),
	)

	return nil
}

// Get 获取服务生效的流量策略
func (p *policyStore) Get(serviceName string) model.PolicyRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if record, ok := p.policies[serviceName]; ok {
		return record.Clone()
	}

	return model.DefaultPolicy(serviceName)
}

// List 返回所有显式设置过的流量策略
func (p *policyStore) List() map[string]model.PolicyRecord {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make(map[string]model.PolicyRecord, len(p.policies))
	for name, record := range p.policies {
		result[name] = record.Clone()
	}

	return result
}

// Delete 删除服务的流量策略
func (p *policyStore) Delete(ctx context.Context, serviceName string) error {
	if serviceName == "" {
		return model.NewInvalidArgumentError("服务名称不能为空")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.policies[serviceName]; !ok {
		return model.NewNotFoundError(fmt.Sprintf("策略不存在: %s", serviceName))
	}

	// 先删除持久化数据再更新内存
	if err := p.store.Delete(ctx, store.CollectionPolicies, serviceName); err != nil {
		return err
	}
	delete(p.policies, serviceName)

	p.logger.Info("流量策略已删除", zap.String("service_name", serviceName))

	return nil
}

// Load 从持久化存储恢复策略表
func (p *policyStore) Load(ctx context.Context) error {
	entries, err := p.store.List(ctx, store.CollectionPolicies)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.policies = make(map[string]model.PolicyRecord, len(entries))
	for key, data := range entries {
		var record model.PolicyRecord
		if err := json.Unmarshal(data, &record); err != nil {
			// 忽略无法解析的数据，继续处理其他数据
			p.logger.Warn("解析策略数据失败，已跳过", zap.String("key", key), zap.Error(err))
			continue
		}
		p.policies[record.ServiceName] = record
	}

	p.logger.Info("流量策略恢复完成", zap.Int("count", len(p.policies)))
	return nil
}

// validatePolicy 校验策略字段
func validatePolicy(record model.PolicyRecord) error {
	if record.ServiceName == "" {
		return model.NewInvalidArgumentError("服务名称不能为空")
	}

	switch record.Strategy {
	case model.StrategyRoundRobin, model.StrategyWeighted, model.StrategyLeastConnections:
	default:
		return model.NewInvalidArgumentError(fmt.Sprintf("未知的负载均衡策略: %s", record.Strategy))
	}

	if len(record.Weights) > 0 && record.Strategy != model.StrategyWeighted {
		return model.NewInvalidArgumentError("实例权重仅在加权策略下有效")
	}
	if record.RetryAttempts < 0 {
		return model.NewInvalidArgumentError("重试次数不能为负数")
	}
	if record.RetryDelayMs < 0 {
		return model.NewInvalidArgumentError("重试间隔不能为负数")
	}
	if record.RequestTimeoutMs <= 0 {
		return model.NewInvalidArgumentError("请求超时必须大于0")
	}
	if record.BreakerThreshold < 0 {
		return model.NewInvalidArgumentError("熔断失败阈值不能为负数")
	}
	if record.BreakerResetMs < 0 {
		return model.NewInvalidArgumentError("熔断重置时间不能为负数")
	}

	return nil
}
