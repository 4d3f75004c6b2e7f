package integration

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/mesh-control/internal/apiserver"
	"github.com/hewenyu/mesh-control/internal/cluster"
	"github.com/hewenyu/mesh-control/internal/controlplane"
	"github.com/hewenyu/mesh-control/internal/dnsdiscovery"
	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
	"github.com/hewenyu/mesh-control/pkg/store/memory"
	sdk "github.com/hewenyu/mesh-control/sdk/go"
)

const (
	apiPort = 18090
	dnsPort = 15455
)

// waitForHealthChange 等待指定服务翻转到目标健康状态
func waitForHealthChange(t *testing.T, ch <-chan model.Event, serviceName string, status model.HealthStatus) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-ch:
			require.True(t, ok, "事件通道已关闭")
			if event.Type == model.EventHealthChanged && event.ServiceName == serviceName && event.New == string(status) {
				return
			}
		case <-deadline:
			t.Fatalf("等待服务 %s 变为 %s 超时", serviceName, status)
		}
	}
}

// waitForBreakerState 等待指定服务的熔断器进入目标状态
func waitForBreakerState(t *testing.T, ch <-chan model.Event, serviceName string, state model.BreakerState) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case event, ok := <-ch:
			require.True(t, ok, "事件通道已关闭")
			if event.Type == model.EventBreakerStateChanged && event.ServiceName == serviceName && event.New == string(state) {
				return
			}
		case <-deadline:
			t.Fatalf("等待服务 %s 熔断器进入 %s 超时", serviceName, state)
		}
	}
}

// dnsExchange 向本地DNS发现服务发起一次查询
func dnsExchange(t *testing.T, name string, qtype uint16) *dns.Msg {
	t.Helper()

	client := new(dns.Client)
	msg := new(dns.Msg)
	msg.SetQuestion(name, qtype)
	msg.RecursionDesired = true

	response, _, err := client.Exchange(msg, fmt.Sprintf("127.0.0.1:%d", dnsPort))
	require.NoError(t, err, "DNS查询失败")
	require.NotNil(t, response, "没有收到DNS响应")
	return response
}

// TestControlPlaneEndToEnd 覆盖完整生命周期：
// 注册 → 健康探测 → DNS发现 → 策略与熔断 → 部署 → 重启恢复
func TestControlPlaneEndToEnd(t *testing.T) {
	// 被纳管的后端服务，可在健康与持续失败之间切换
	var healthy atomic.Bool
	healthy.Store(true)
	backendSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer backendSrv.Close()

	backendURL, err := url.Parse(backendSrv.URL)
	require.NoError(t, err)
	backendPort, err := strconv.Atoi(backendURL.Port())
	require.NoError(t, err)

	// 完整控制面：内存存储 + 内存集群后端 + 管理API + DNS发现
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: apiPort},
		DNS: config.DNSConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    dnsPort,
			Domain:  "mesh.local",
			TTL:     30,
		},
		Health: config.HealthConfig{
			Interval:            20 * time.Millisecond,
			ProbeTimeout:        200 * time.Millisecond,
			MaxConcurrentProbes: 4,
		},
		Breaker: config.BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     time.Minute,
		},
	}

	sharedStore := memory.NewMemoryStore()
	plane := controlplane.New(cfg, sharedStore, cluster.NewMemoryBackend(), config.NopLogger{})
	eventsCh, unsubscribe := plane.Subscribe()
	defer unsubscribe()
	require.NoError(t, plane.Start(context.Background()))
	defer plane.Stop()

	apiSrv := apiserver.NewServer(cfg.Server, plane, config.NopLogger{})
	require.NoError(t, apiSrv.Start())
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = apiSrv.Shutdown(shutdownCtx)
	}()

	dnsSrv := dnsdiscovery.NewServer(cfg.DNS, plane, config.NopLogger{})
	require.NoError(t, dnsSrv.Start())
	defer dnsSrv.Stop()

	// 等待HTTP服务器就绪
	require.Eventually(t, func() bool {
		resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", apiPort))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond, "管理API未就绪")

	// 等待DNS服务器完全启动
	time.Sleep(1 * time.Second)

	client, err := sdk.NewClient(&sdk.Config{ServerAddr: fmt.Sprintf("127.0.0.1:%d", apiPort)})
	require.NoError(t, err)
	ctx := context.Background()

	// ---- 阶段一：注册与健康探测 ----

	descriptor, err := client.Register(ctx, sdk.RegisterRequest{
		Name:            "orders",
		EndpointURL:     backendSrv.URL,
		HealthCheckPath: "/healthz",
	})
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusUnknown, descriptor.Status)

	waitForHealthChange(t, eventsCh, "orders", model.HealthStatusHealthy)

	snapshot, err := client.GetServiceSnapshot(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, model.HealthStatusHealthy, snapshot.Descriptor.Status)
	assert.Equal(t, model.BreakerClosed, snapshot.Breaker.State)

	// ---- 阶段二：DNS发现 ----

	dnsResp := dnsExchange(t, "orders.mesh.local.", dns.TypeA)
	require.Equal(t, dns.RcodeSuccess, dnsResp.Rcode)
	require.Len(t, dnsResp.Answer, 1)
	aRecord, ok := dnsResp.Answer[0].(*dns.A)
	require.True(t, ok, "响应不是A记录")
	assert.Equal(t, backendURL.Hostname(), aRecord.A.String())

	dnsResp = dnsExchange(t, "_orders._tcp.mesh.local.", dns.TypeSRV)
	require.Equal(t, dns.RcodeSuccess, dnsResp.Rcode)
	require.Len(t, dnsResp.Answer, 1)
	srvRecord, ok := dnsResp.Answer[0].(*dns.SRV)
	require.True(t, ok, "响应不是SRV记录")
	assert.Equal(t, uint16(backendPort), srvRecord.Port)

	// SDK的DNS发现客户端组合SRV端口与A记录地址
	resolver := sdk.NewDNSDiscovery(fmt.Sprintf("127.0.0.1:%d", dnsPort), "mesh.local", time.Minute)
	serviceAddr, err := resolver.ResolveService(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s:%d", backendURL.Hostname(), backendPort), serviceAddr)

	// ---- 阶段三：策略与熔断 ----

	// 策略中的熔断参数覆盖全局默认值
	err = client.SetPolicy(ctx, model.PolicyRecord{
		ServiceName:      "orders",
		Strategy:         model.StrategyWeighted,
		Weights:          map[string]int{"instance-1": 2, "instance-2": 1},
		RetryAttempts:    2,
		BreakerThreshold: 2,
		BreakerResetMs:   500,
	})
	require.NoError(t, err)

	// 后端持续失败，连续第二次失败时熔断器断开
	healthy.Store(false)
	waitForBreakerState(t, eventsCh, "orders", model.BreakerOpen)

	admitted, err := client.AdmitRequest(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, admitted, "断开的熔断器应当拦截请求")

	// 熔断器断开期间服务从DNS应答中消失
	dnsResp = dnsExchange(t, "orders.mesh.local.", dns.TypeA)
	assert.Equal(t, dns.RcodeNameError, dnsResp.Rcode)

	// 后端恢复后，重置时间到达，探测成功作为试探结果闭合熔断器
	healthy.Store(true)
	waitForBreakerState(t, eventsCh, "orders", model.BreakerClosed)
	waitForHealthChange(t, eventsCh, "orders", model.HealthStatusHealthy)

	dnsResp = dnsExchange(t, "orders.mesh.local.", dns.TypeA)
	assert.Equal(t, dns.RcodeSuccess, dnsResp.Rcode)

	admitted, err = client.AdmitRequest(ctx, "orders")
	require.NoError(t, err)
	assert.True(t, admitted)

	// ---- 阶段四：部署 ----

	result, err := client.Deploy(ctx, &model.DeploymentSpec{
		ServiceName:     "orders",
		Image:           "registry.example.com/orders:1.2.0",
		DesiredReplicas: 2,
		Ports:           []int{8080},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, result.Outcome)

	result, err = client.Scale(ctx, "orders", 4)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSucceeded, result.Outcome)

	spec, err := client.GetDeploymentSpec(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 4, spec.DesiredReplicas)

	// ---- 阶段五：重启恢复 ----

	// 停止第一个控制面，在同一个存储上重建新的控制面
	plane.Stop()

	recoveredCfg := *cfg
	recoveredCfg.Health.Interval = time.Minute
	recovered := controlplane.New(&recoveredCfg, sharedStore, cluster.NewMemoryBackend(), config.NopLogger{})
	require.NoError(t, recovered.Start(context.Background()))
	defer recovered.Stop()

	// 服务描述符、策略和期望部署状态都从存储恢复
	recoveredDesc, err := recovered.GetService(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, backendSrv.URL, recoveredDesc.EndpointURL)

	recoveredPolicy := recovered.GetPolicy("orders")
	assert.Equal(t, model.StrategyWeighted, recoveredPolicy.Strategy)
	assert.Equal(t, 2, recoveredPolicy.BreakerThreshold)

	recoveredSpec, err := recovered.GetDeploymentSpec(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 4, recoveredSpec.DesiredReplicas)
	assert.Equal(t, "registry.example.com/orders:1.2.0", recoveredSpec.Image)

	// 熔断器状态只存在于内存，重启后回到闭合状态
	recoveredSnapshot, err := recovered.GetServiceSnapshot(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, model.BreakerClosed, recoveredSnapshot.Breaker.State)
	assert.Equal(t, 0, recoveredSnapshot.Breaker.ConsecutiveFailures)
}
