package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// memoryWorkload 内存后端中的单个工作负载
type memoryWorkload struct {
	id       string
	spec     *model.DeploymentSpec
	replicas int
	image    string
}

// MemoryBackend 基于内存实现集群后端，用于本地开发和测试
type MemoryBackend struct {
	mu        sync.Mutex
	workloads map[string]*memoryWorkload
	failure   error
}

// NewMemoryBackend 创建内存集群后端
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		workloads: make(map[string]*memoryWorkload),
	}
}

// SetFailure 注入后续操作返回的错误，传入nil恢复正常
func (b *MemoryBackend) SetFailure(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failure = err
}

// CreateWorkload 创建新的工作负载
func (b *MemoryBackend) CreateWorkload(ctx context.Context, spec *model.DeploymentSpec) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		return "", b.failure
	}

	if _, exists := b.workloads[spec.ServiceName]; exists {
		return "", model.NewConflictError(fmt.Sprintf("工作负载已存在: %s", spec.ServiceName))
	}

	workload := &memoryWorkload{
		id:       uuid.New().String(),
		spec:     spec.Clone(),
		replicas: spec.DesiredReplicas,
		image:    spec.Image,
	}
	b.workloads[spec.ServiceName] = workload

	return workload.id, nil
}

// ScaleWorkload 调整工作负载的副本数
func (b *MemoryBackend) ScaleWorkload(ctx context.Context, serviceName string, replicas int) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		return "", b.failure
	}

	workload, exists := b.workloads[serviceName]
	if !exists {
		return "", model.NewNotFoundError(fmt.Sprintf("工作负载不存在: %s", serviceName))
	}

	workload.replicas = replicas
	return workload.id, nil
}

// UpdateWorkloadImage 更新工作负载的容器镜像
func (b *MemoryBackend) UpdateWorkloadImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.failure != nil {
		return "", b.failure
	}

	workload, exists := b.workloads[serviceName]
	if !exists {
		return "", model.NewNotFoundError(fmt.Sprintf("工作负载不存在: %s", serviceName))
	}

	workload.image = image
	return workload.id, nil
}

// WorkloadReplicas 返回工作负载当前的副本数，用于测试验证
func (b *MemoryBackend) WorkloadReplicas(serviceName string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	workload, exists := b.workloads[serviceName]
	if !exists {
		return 0, false
	}
	return workload.replicas, true
}

// WorkloadImage 返回工作负载当前的镜像，用于测试验证
func (b *MemoryBackend) WorkloadImage(serviceName string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	workload, exists := b.workloads[serviceName]
	if !exists {
		return "", false
	}
	return workload.image, true
}
