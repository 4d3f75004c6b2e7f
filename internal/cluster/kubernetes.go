package cluster

import (
	"context"
	"errors"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
)

// managedByLabel 标记由控制面管理的工作负载
const managedByLabel = "mesh-control"

// KubernetesBackend 基于Kubernetes Deployment实现集群后端
type KubernetesBackend struct {
	client    kubernetes.Interface
	namespace string
}

// NewKubernetesBackend 创建Kubernetes集群后端
//
// kubeconfig路径为空时使用集群内配置。
func NewKubernetesBackend(cfg *config.DeployConfig) (*KubernetesBackend, error) {
	var restConfig *rest.Config
	var err error

	if cfg.Kubeconfig != "" {
		restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubeconfig)
	} else {
		restConfig, err = rest.InClusterConfig()
	}
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Sprintf("加载Kubernetes配置失败: %v", err))
	}

	client, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Sprintf("创建Kubernetes客户端失败: %v", err))
	}

	return NewKubernetesBackendWithClient(client, cfg.Namespace), nil
}

// NewKubernetesBackendWithClient 使用现有客户端创建Kubernetes集群后端
func NewKubernetesBackendWithClient(client kubernetes.Interface, namespace string) *KubernetesBackend {
	if namespace == "" {
		namespace = metav1.NamespaceDefault
	}

	return &KubernetesBackend{
		client:    client,
		namespace: namespace,
	}
}

// CreateWorkload 创建新的工作负载
func (b *KubernetesBackend) CreateWorkload(ctx context.Context, spec *model.DeploymentSpec) (string, error) {
	deployment := buildDeployment(spec)

	created, err := b.client.AppsV1().Deployments(b.namespace).Create(ctx, deployment, metav1.CreateOptions{})
	if err != nil {
		return "", classifyMutationError(err, spec.ServiceName)
	}

	return string(created.UID), nil
}

// ScaleWorkload 调整工作负载的副本数
func (b *KubernetesBackend) ScaleWorkload(ctx context.Context, serviceName string, replicas int) (string, error) {
	scale, err := b.client.AppsV1().Deployments(b.namespace).GetScale(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return "", classifyReadError(err, serviceName)
	}

	scale.Spec.Replicas = int32(replicas)
	updated, err := b.client.AppsV1().Deployments(b.namespace).UpdateScale(ctx, serviceName, scale, metav1.UpdateOptions{})
	if err != nil {
		return "", classifyMutationError(err, serviceName)
	}

	return string(updated.UID), nil
}

// UpdateWorkloadImage 更新工作负载的容器镜像
func (b *KubernetesBackend) UpdateWorkloadImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (string, error) {
	deployment, err := b.client.AppsV1().Deployments(b.namespace).Get(ctx, serviceName, metav1.GetOptions{})
	if err != nil {
		return "", classifyReadError(err, serviceName)
	}

	for i := range deployment.Spec.Template.Spec.Containers {
		deployment.Spec.Template.Spec.Containers[i].Image = image
	}
	deployment.Spec.Strategy = deploymentStrategy(strategy)

	updated, err := b.client.AppsV1().Deployments(b.namespace).Update(ctx, deployment, metav1.UpdateOptions{})
	if err != nil {
		return "", classifyMutationError(err, serviceName)
	}

	return string(updated.UID), nil
}

// buildDeployment 将部署规格转换为Kubernetes Deployment对象
func buildDeployment(spec *model.DeploymentSpec) *appsv1.Deployment {
	labels := map[string]string{
		"app":        spec.ServiceName,
		"managed-by": managedByLabel,
	}

	ports := make([]corev1.ContainerPort, 0, len(spec.Ports))
	for _, port := range spec.Ports {
		ports = append(ports, corev1.ContainerPort{ContainerPort: int32(port)})
	}

	container := corev1.Container{
		Name:  spec.ServiceName,
		Image: spec.Image,
		Ports: ports,
	}

	// 资源格式由部署控制器在进入后端前校验
	requests := corev1.ResourceList{}
	if spec.ResourceRequest.CPU != "" {
		requests[corev1.ResourceCPU] = resource.MustParse(spec.ResourceRequest.CPU)
	}
	if spec.ResourceRequest.Memory != "" {
		requests[corev1.ResourceMemory] = resource.MustParse(spec.ResourceRequest.Memory)
	}
	if len(requests) > 0 {
		container.Resources = corev1.ResourceRequirements{Requests: requests}
	}

	replicas := int32(spec.DesiredReplicas)

	return &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:   spec.ServiceName,
			Labels: labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: &replicas,
			Selector: &metav1.LabelSelector{
				MatchLabels: map[string]string{"app": spec.ServiceName},
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
			Strategy: deploymentStrategy(model.UpdateStrategyRolling),
		},
	}
}

// deploymentStrategy 将更新策略转换为Deployment的更新配置
//
// 滚动更新时maxUnavailable固定为0，保证更新全程始终有就绪副本。
func deploymentStrategy(strategy model.UpdateStrategy) appsv1.DeploymentStrategy {
	if strategy == model.UpdateStrategyRecreate {
		return appsv1.DeploymentStrategy{Type: appsv1.RecreateDeploymentStrategyType}
	}

	maxUnavailable := intstr.FromInt32(0)
	maxSurge := intstr.FromInt32(1)
	return appsv1.DeploymentStrategy{
		Type: appsv1.RollingUpdateDeploymentStrategyType,
		RollingUpdate: &appsv1.RollingUpdateDeployment{
			MaxUnavailable: &maxUnavailable,
			MaxSurge:       &maxSurge,
		},
	}
}

// classifyReadError 分类读取阶段的错误，读取失败说明变更未提交
func classifyReadError(err error, serviceName string) error {
	switch {
	case apierrors.IsNotFound(err):
		return model.NewNotFoundError(fmt.Sprintf("工作负载不存在: %s", serviceName))
	default:
		return model.NewUnavailableError(fmt.Sprintf("集群后端不可达: %v", err))
	}
}

// classifyMutationError 分类变更阶段的错误
//
// 变更请求发出后的超时意味着后端可能已经执行，结果无法确认。
func classifyMutationError(err error, serviceName string) error {
	switch {
	case apierrors.IsNotFound(err):
		return model.NewNotFoundError(fmt.Sprintf("工作负载不存在: %s", serviceName))
	case apierrors.IsAlreadyExists(err):
		return model.NewConflictError(fmt.Sprintf("工作负载已存在: %s", serviceName))
	case errors.Is(err, context.DeadlineExceeded) || apierrors.IsTimeout(err) || apierrors.IsServerTimeout(err):
		return model.NewIndeterminateError(fmt.Sprintf("等待集群确认超时，操作结果未知: %v", err))
	default:
		return model.NewUnavailableError(fmt.Sprintf("集群后端不可达: %v", err))
	}
}
