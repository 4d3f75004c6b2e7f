package main

import (
	"context"
	"log"
	"time"

	sdk "github.com/hewenyu/mesh-control/sdk/go"
	"github.com/hewenyu/mesh-control/pkg/model"
)

func main() {
	// 配置SDK客户端
	config := &sdk.Config{
		ServerAddr: "localhost:8080",
		Timeout:    5 * time.Second,
	}

	// 创建SDK客户端
	client, err := sdk.NewClient(config)
	if err != nil {
		log.Fatalf("创建SDK客户端失败: %v", err)
	}

	ctx := context.Background()

	// 注册服务
	descriptor, err := client.Register(ctx, sdk.RegisterRequest{
		Name:            "example-service",
		EndpointURL:     "http://127.0.0.1:8000",
		HealthCheckPath: "/healthz",
		Metadata:        map[string]string{"version": "1.0.0"},
	})
	if err != nil {
		log.Fatalf("服务注册失败: %v", err)
	}
	log.Printf("服务注册成功，注册时间: %s", descriptor.RegisteredAt)

	// 设置加权负载均衡策略
	err = client.SetPolicy(ctx, model.PolicyRecord{
		ServiceName:   "example-service",
		Strategy:      model.StrategyWeighted,
		Weights:       map[string]int{"instance-1": 2, "instance-2": 1},
		RetryAttempts: 2,
	})
	if err != nil {
		log.Fatalf("设置策略失败: %v", err)
	}

	// 部署工作负载
	result, err := client.Deploy(ctx, &model.DeploymentSpec{
		ServiceName:     "example-service",
		Image:           "registry.example.com/example-service:1.0.0",
		DesiredReplicas: 2,
		Ports:           []int{8000},
	})
	if err != nil {
		// 结果不确定时需要先查询实际状态，不能盲目重试
		if result != nil && result.Outcome == model.OutcomeIndeterminate {
			log.Fatalf("部署结果不确定，请先查询实际状态: %v", err)
		}
		log.Fatalf("部署失败: %v", err)
	}
	log.Printf("部署成功，工作负载标识: %s", result.BackendID)

	// 调用前询问熔断器
	admitted, err := client.AdmitRequest(ctx, "example-service")
	if err != nil {
		log.Fatalf("熔断判断失败: %v", err)
	}
	if !admitted {
		log.Println("请求被熔断器拦截，放弃本次调用")
		return
	}

	// 调用完成后上报结果
	if err := client.ReportOutcome(ctx, "example-service", true); err != nil {
		log.Printf("上报调用结果失败: %v", err)
	}

	// 查询服务聚合视图
	snapshot, err := client.GetServiceSnapshot(ctx, "example-service")
	if err != nil {
		log.Fatalf("查询服务快照失败: %v", err)
	}
	log.Printf("服务状态: %s, 熔断器: %s, 策略: %s",
		snapshot.Descriptor.Status, snapshot.Breaker.State, snapshot.Policy.Strategy)
}
