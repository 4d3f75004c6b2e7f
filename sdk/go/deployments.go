package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// scaleRequest 副本数调整请求
type scaleRequest struct {
	Replicas *int `json:"replicas"`
}

// updateImageRequest 镜像更新请求
type updateImageRequest struct {
	Image    string `json:"image"`
	Strategy string `json:"strategy,omitempty"`
}

// listDeploymentsData 部署列表响应数据
type listDeploymentsData struct {
	Deployments []*model.DeploymentSpec `json:"deployments"`
	Total       int                     `json:"total"`
}

// Deploy 创建新的工作负载
//
// 失败的响应也可能附带操作结果，结果为indeterminate时调用方应先查询
// 实际状态再决定是否重试。
func (c *Client) Deploy(ctx context.Context, spec *model.DeploymentSpec) (*model.DeployResult, error) {
	resp, err := c.doRequest(ctx, http.MethodPost, "/api/v1/deployments", spec)
	if err != nil {
		return deployResultFrom(resp), fmt.Errorf("部署失败: %w", err)
	}

	result, err := decodeDeployResult(resp)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Scale 调整工作负载的副本数，副本数可以为零
func (c *Client) Scale(ctx context.Context, serviceName string, replicas int) (*model.DeployResult, error) {
	body := scaleRequest{Replicas: &replicas}

	resp, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/deployments/%s/scale", serviceName), body)
	if err != nil {
		return deployResultFrom(resp), fmt.Errorf("副本数调整失败: %w", err)
	}

	result, err := decodeDeployResult(resp)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateImage 更新工作负载的容器镜像，策略为空时使用滚动更新
func (c *Client) UpdateImage(ctx context.Context, serviceName, image string, strategy model.UpdateStrategy) (*model.DeployResult, error) {
	body := updateImageRequest{
		Image:    image,
		Strategy: string(strategy),
	}

	resp, err := c.doRequest(ctx, http.MethodPut, fmt.Sprintf("/api/v1/deployments/%s/image", serviceName), body)
	if err != nil {
		return deployResultFrom(resp), fmt.Errorf("镜像更新失败: %w", err)
	}

	result, err := decodeDeployResult(resp)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetDeploymentSpec 查询已确认的期望部署状态
func (c *Client) GetDeploymentSpec(ctx context.Context, serviceName string) (*model.DeploymentSpec, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, fmt.Sprintf("/api/v1/deployments/%s", serviceName), nil)
	if err != nil {
		return nil, fmt.Errorf("查询部署状态失败: %w", err)
	}

	var spec model.DeploymentSpec
	if err := json.Unmarshal(resp.Data, &spec); err != nil {
		return nil, fmt.Errorf("解析部署状态失败: %w", err)
	}

	return &spec, nil
}

// ListDeploymentSpecs 查询所有已确认的期望部署状态
func (c *Client) ListDeploymentSpecs(ctx context.Context) ([]*model.DeploymentSpec, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/api/v1/deployments", nil)
	if err != nil {
		return nil, fmt.Errorf("查询部署列表失败: %w", err)
	}

	var data listDeploymentsData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("解析部署列表失败: %w", err)
	}

	return data.Deployments, nil
}

// decodeDeployResult 解析成功响应中的操作结果
func decodeDeployResult(resp *Response) (*model.DeployResult, error) {
	var result model.DeployResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("解析操作结果失败: %w", err)
	}
	return &result, nil
}

// deployResultFrom 从错误响应中尽力提取操作结果，提取不到时返回nil
func deployResultFrom(resp *Response) *model.DeployResult {
	if resp == nil || len(resp.Data) == 0 {
		return nil
	}
	var result model.DeployResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil
	}
	return &result
}
