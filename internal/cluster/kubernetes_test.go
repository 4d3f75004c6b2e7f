package cluster

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv1 "k8s.io/api/autoscaling/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// 确保KubernetesBackend实现了Backend接口
var _ Backend = (*KubernetesBackend)(nil)

func newTestSpec() *model.DeploymentSpec {
	return &model.DeploymentSpec{
		ServiceName:     "orders",
		Image:           "registry.example.com/orders:1.2.0",
		DesiredReplicas: 3,
		Ports:           []int{8080},
		ResourceRequest: model.ResourceRequest{
			CPU:    "100m",
			Memory: "128Mi",
		},
	}
}

func TestKubernetesBackend_CreateWorkload(t *testing.T) {
	client := fake.NewSimpleClientset()
	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	// 创建工作负载
	_, err := backend.CreateWorkload(context.Background(), newTestSpec())
	require.NoError(t, err)

	// 验证生成的Deployment
	deployment, err := client.AppsV1().Deployments("mesh-system").Get(context.Background(), "orders", metav1.GetOptions{})
	require.NoError(t, err)

	assert.Equal(t, int32(3), *deployment.Spec.Replicas)
	assert.Equal(t, "orders", deployment.Labels["app"])
	assert.Equal(t, "mesh-control", deployment.Labels["managed-by"])
	assert.Equal(t, "orders", deployment.Spec.Selector.MatchLabels["app"])

	require.Len(t, deployment.Spec.Template.Spec.Containers, 1)
	container := deployment.Spec.Template.Spec.Containers[0]
	assert.Equal(t, "registry.example.com/orders:1.2.0", container.Image)
	require.Len(t, container.Ports, 1)
	assert.Equal(t, int32(8080), container.Ports[0].ContainerPort)
	assert.Equal(t, "100m", container.Resources.Requests.Cpu().String())
	assert.Equal(t, "128Mi", container.Resources.Requests.Memory().String())

	// 默认使用滚动更新，且不允许出现不可用副本
	assert.Equal(t, appsv1.RollingUpdateDeploymentStrategyType, deployment.Spec.Strategy.Type)
	require.NotNil(t, deployment.Spec.Strategy.RollingUpdate)
	assert.Equal(t, int32(0), deployment.Spec.Strategy.RollingUpdate.MaxUnavailable.IntVal)
	assert.Equal(t, int32(1), deployment.Spec.Strategy.RollingUpdate.MaxSurge.IntVal)
}

func TestKubernetesBackend_CreateWorkloadConflict(t *testing.T) {
	client := fake.NewSimpleClientset()
	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	// 首次创建成功
	_, err := backend.CreateWorkload(context.Background(), newTestSpec())
	require.NoError(t, err)

	// 重复创建返回冲突错误
	_, err = backend.CreateWorkload(context.Background(), newTestSpec())
	require.Error(t, err)
	assert.True(t, model.IsConflict(err))
}

func TestKubernetesBackend_ScaleWorkload(t *testing.T) {
	client := fake.NewSimpleClientset()

	// 拦截scale子资源请求，记录提交的副本数
	var submitted *autoscalingv1.Scale
	client.PrependReactor("get", "deployments/scale", func(action k8stesting.Action) (bool, runtime.Object, error) {
		scale := &autoscalingv1.Scale{
			ObjectMeta: metav1.ObjectMeta{
				Name:      "orders",
				Namespace: "mesh-system",
				UID:       types.UID("workload-1"),
			},
			Spec: autoscalingv1.ScaleSpec{Replicas: 3},
		}
		return true, scale, nil
	})
	client.PrependReactor("update", "deployments/scale", func(action k8stesting.Action) (bool, runtime.Object, error) {
		submitted = action.(k8stesting.UpdateAction).GetObject().(*autoscalingv1.Scale)
		return true, submitted, nil
	})

	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	id, err := backend.ScaleWorkload(context.Background(), "orders", 5)
	require.NoError(t, err)
	assert.Equal(t, "workload-1", id)

	require.NotNil(t, submitted)
	assert.Equal(t, int32(5), submitted.Spec.Replicas)
}

func TestKubernetesBackend_ScaleWorkloadNotFound(t *testing.T) {
	client := fake.NewSimpleClientset()
	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	// 不存在的工作负载返回NotFound
	_, err := backend.ScaleWorkload(context.Background(), "missing", 2)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestKubernetesBackend_UpdateWorkloadImage(t *testing.T) {
	client := fake.NewSimpleClientset()
	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	_, err := backend.CreateWorkload(context.Background(), newTestSpec())
	require.NoError(t, err)

	// 以重建策略更新镜像
	_, err = backend.UpdateWorkloadImage(context.Background(), "orders", "registry.example.com/orders:1.3.0", model.UpdateStrategyRecreate)
	require.NoError(t, err)

	deployment, err := client.AppsV1().Deployments("mesh-system").Get(context.Background(), "orders", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "registry.example.com/orders:1.3.0", deployment.Spec.Template.Spec.Containers[0].Image)
	assert.Equal(t, appsv1.RecreateDeploymentStrategyType, deployment.Spec.Strategy.Type)
}

func TestKubernetesBackend_UpdateWorkloadImageNotFound(t *testing.T) {
	client := fake.NewSimpleClientset()
	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	_, err := backend.UpdateWorkloadImage(context.Background(), "missing", "registry.example.com/orders:1.3.0", model.UpdateStrategyRolling)
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err))
}

func TestKubernetesBackend_TimeoutIsIndeterminate(t *testing.T) {
	client := fake.NewSimpleClientset()

	// 变更请求超时无法确认结果
	client.PrependReactor("create", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, context.DeadlineExceeded
	})

	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	_, err := backend.CreateWorkload(context.Background(), newTestSpec())
	require.Error(t, err)
	assert.True(t, model.IsIndeterminate(err))
}

func TestKubernetesBackend_ReadFailureIsUnavailable(t *testing.T) {
	client := fake.NewSimpleClientset()

	// 读取阶段的失败说明变更未提交，归类为后端不可达
	client.PrependReactor("get", "deployments", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, errors.New("connection refused")
	})

	backend := NewKubernetesBackendWithClient(client, "mesh-system")

	_, err := backend.UpdateWorkloadImage(context.Background(), "orders", "registry.example.com/orders:1.3.0", model.UpdateStrategyRolling)
	require.Error(t, err)
	assert.True(t, model.IsUnavailable(err))
}
