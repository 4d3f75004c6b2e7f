package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// listPoliciesData 策略列表响应数据
type listPoliciesData struct {
	Policies map[string]model.PolicyRecord `json:"policies"`
	Total    int                           `json:"total"`
}

// SetPolicy 设置服务的流量策略，路径中的服务名以record.ServiceName为准
func (c *Client) SetPolicy(ctx context.Context, record model.PolicyRecord) error {
	if record.ServiceName == "" {
		return fmt.Errorf("服务名称不能为空")
	}

	_, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/policies/%s", record.ServiceName), record)
	if err != nil {
		return fmt.Errorf("设置策略失败: %w", err)
	}
	return nil
}

// GetPolicy 查询服务的生效策略，未显式设置时返回默认策略
func (c *Client) GetPolicy(ctx context.Context, serviceName string) (*model.PolicyRecord, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/policies/%s", serviceName), nil)
	if err != nil {
		return nil, fmt.Errorf("查询策略失败: %w", err)
	}

	var record model.PolicyRecord
	if err := json.Unmarshal(resp.Data, &record); err != nil {
		return nil, fmt.Errorf("解析策略失败: %w", err)
	}

	return &record, nil
}

// DeletePolicy 删除服务的流量策略，服务回落到默认策略
func (c *Client) DeletePolicy(ctx context.Context, serviceName string) error {
	_, err := c.doRequest(ctx, http.MethodDelete, fmt.Sprintf("/api/v1/policies/%s", serviceName), nil)
	if err != nil {
		return fmt.Errorf("删除策略失败: %w", err)
	}
	return nil
}

// ListPolicies 查询所有显式设置过的策略
func (c *Client) ListPolicies(ctx context.Context) (map[string]model.PolicyRecord, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/policies", nil)
	if err != nil {
		return nil, fmt.Errorf("查询策略列表失败: %w", err)
	}

	var data listPoliciesData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("解析策略列表失败: %w", err)
	}

	return data.Policies, nil
}
