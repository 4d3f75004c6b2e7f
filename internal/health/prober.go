package health

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// Prober 对单个服务执行一次健康探测，返回nil表示探测成功
type Prober interface {
	Probe(ctx context.Context, descriptor *model.ServiceDescriptor) error
}

// HTTPProber 通过HTTP GET访问服务的健康检查路径
//
// 2xx状态码视为成功；连接失败、超时、非2xx状态码都视为失败。
type HTTPProber struct {
	client *http.Client
}

// NewHTTPProber 创建HTTP健康探测器，探测超时由调用方通过context控制
func NewHTTPProber() *HTTPProber {
	return &HTTPProber{
		client: &http.Client{},
	}
}

// Probe 执行一次健康探测
func (p *HTTPProber) Probe(ctx context.Context, descriptor *model.ServiceDescriptor) error {
	url := strings.TrimRight(descriptor.EndpointURL, "/") + descriptor.HealthCheckPath

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("构造探测请求失败: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("探测请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("健康检查返回状态码 %d", resp.StatusCode)
	}

	return nil
}
