package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// RegisterRequest 服务注册请求
type RegisterRequest struct {
	Name            string            `json:"name"`
	EndpointURL     string            `json:"endpoint_url"`
	HealthCheckPath string            `json:"health_check_path,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Force           bool              `json:"force,omitempty"`
}

// listServicesData 服务列表响应数据
type listServicesData struct {
	Services []*model.ServiceDescriptor `json:"services"`
	Total    int                        `json:"total"`
}

// Register 注册服务，重复注册同名服务时返回服务端保留的注册信息
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*model.ServiceDescriptor, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/services", req)
	if err != nil {
		return nil, fmt.Errorf("服务注册失败: %w", err)
	}

	var descriptor model.ServiceDescriptor
	if err := json.Unmarshal(resp.Data, &descriptor); err != nil {
		return nil, fmt.Errorf("解析注册响应失败: %w", err)
	}

	return &descriptor, nil
}

// Deregister 注销服务
func (c *Client) Deregister(ctx context.Context, serviceName string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/services/%s", serviceName), nil)
	if err != nil {
		return fmt.Errorf("服务注销失败: %w", err)
	}
	return nil
}

// GetService 查询服务详情
func (c *Client) GetService(ctx context.Context, serviceName string) (*model.ServiceDescriptor, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/services/%s", serviceName), nil)
	if err != nil {
		return nil, fmt.Errorf("查询服务失败: %w", err)
	}

	var descriptor model.ServiceDescriptor
	if err := json.Unmarshal(resp.Data, &descriptor); err != nil {
		return nil, fmt.Errorf("解析服务详情失败: %w", err)
	}

	return &descriptor, nil
}

// GetServiceSnapshot 查询服务聚合视图：描述符、熔断器状态、生效策略
func (c *Client) GetServiceSnapshot(ctx context.Context, serviceName string) (*model.ServiceSnapshot, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/services/%s/snapshot", serviceName), nil)
	if err != nil {
		return nil, fmt.Errorf("查询服务快照失败: %w", err)
	}

	var snapshot model.ServiceSnapshot
	if err := json.Unmarshal(resp.Data, &snapshot); err != nil {
		return nil, fmt.Errorf("解析服务快照失败: %w", err)
	}

	return &snapshot, nil
}

// ListServices 按过滤条件查询服务列表，零值过滤条件返回全部服务
func (c *Client) ListServices(ctx context.Context, filter model.ListFilter) ([]*model.ServiceDescriptor, error) {
	query := url.Values{}
	if filter.Status != "" {
		query.Set("status", string(filter.Status))
	}
	if filter.NamePrefix != "" {
		query.Set("prefix", filter.NamePrefix)
	}

	path := "/api/v1/services"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	resp, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("查询服务列表失败: %w", err)
	}

	var data listServicesData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("解析服务列表失败: %w", err)
	}

	return data.Services, nil
}

// AdmitRequest 询问熔断器是否放行对指定服务的一次调用
//
// 返回false表示请求被熔断器拦截，这不是错误。
func (c *Client) AdmitRequest(ctx context.Context, serviceName string) (bool, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/services/%s/admit", serviceName), nil)
	if err != nil {
		// 熔断器拦截通过403返回，与其他错误区分开
		if resp != nil && resp.Code == http.StatusForbidden {
			return false, nil
		}
		return false, fmt.Errorf("熔断判断失败: %w", err)
	}

	return true, nil
}

// ReportOutcome 上报一次对指定服务调用的结果
func (c *Client) ReportOutcome(ctx context.Context, serviceName string, success bool) error {
	body := map[string]bool{"success": success}
	_, err := c.doRequest(ctx, http.MethodPost, fmt.Sprintf("/api/v1/services/%s/outcome", serviceName), body)
	if err != nil {
		return fmt.Errorf("上报调用结果失败: %w", err)
	}
	return nil
}
