package apiserver

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// apiResponse 统一API响应格式
type apiResponse struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// registerServiceRequest 服务注册请求
type registerServiceRequest struct {
	Name            string            `json:"name"`
	EndpointURL     string            `json:"endpoint_url"`
	HealthCheckPath string            `json:"health_check_path"`
	Metadata        map[string]string `json:"metadata"`
	Force           bool              `json:"force"`
}

// reportOutcomeRequest 调用结果上报请求
type reportOutcomeRequest struct {
	Success bool `json:"success"`
}

// scaleRequest 副本数调整请求，副本数为必填项以区分缩容到零和字段缺失
type scaleRequest struct {
	Replicas *int `json:"replicas"`
}

// updateImageRequest 镜像更新请求
type updateImageRequest struct {
	Image    string `json:"image"`
	Strategy string `json:"strategy"`
}

// 返回成功响应
func successResponse(message string, data interface{}) *apiResponse {
	return &apiResponse{
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	}
}

// 返回错误响应
func errorResponse(code int, message string) *apiResponse {
	return &apiResponse{
		Code:    code,
		Message: message,
	}
}

// httpStatus 将错误代码映射为HTTP状态码
func httpStatus(err error) int {
	switch model.ErrorCode(err) {
	case model.ErrNotFound:
		return http.StatusNotFound
	case model.ErrConflict:
		return http.StatusConflict
	case model.ErrInvalidArgument:
		return http.StatusBadRequest
	case model.ErrUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrIndeterminate:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// fail 按错误代码返回映射后的错误响应
func fail(c echo.Context, err error) error {
	status := httpStatus(err)
	return c.JSON(status, errorResponse(status, err.Error()))
}

// healthCheck 处理健康检查请求
func (s *Server) healthCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"service":   "mesh-control",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// registerService 处理服务注册请求
func (s *Server) registerService(c echo.Context) error {
	// 解析请求参数
	req := new(registerServiceRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}

	descriptor := &model.ServiceDescriptor{
		Name:            req.Name,
		EndpointURL:     req.EndpointURL,
		HealthCheckPath: req.HealthCheckPath,
		Metadata:        req.Metadata,
	}

	registered, err := s.plane.RegisterService(c.Request().Context(), descriptor, req.Force)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("服务注册成功", registered))
}

// deregisterService 处理服务注销请求
func (s *Server) deregisterService(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	if err := s.plane.DeregisterService(c.Request().Context(), name); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("服务注销成功", nil))
}

// getService 处理查询服务详情请求
func (s *Server) getService(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	descriptor, err := s.plane.GetService(c.Request().Context(), name)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("查询成功", descriptor))
}

// getServiceSnapshot 处理查询服务聚合视图请求
func (s *Server) getServiceSnapshot(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	snapshot, err := s.plane.GetServiceSnapshot(c.Request().Context(), name)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("查询成功", snapshot))
}

// listServices 处理查询服务列表请求
func (s *Server) listServices(c echo.Context) error {
	filter := model.ListFilter{
		Status:     model.HealthStatus(c.QueryParam("status")),
		NamePrefix: c.QueryParam("prefix"),
	}

	services, err := s.plane.ListServices(c.Request().Context(), filter)
	if err != nil {
		return fail(c, err)
	}

	data := map[string]interface{}{
		"services": services,
		"total":    len(services),
	}
	return c.JSON(http.StatusOK, successResponse("查询成功", data))
}

// admitRequest 处理熔断器放行判断请求
func (s *Server) admitRequest(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	admitted, err := s.plane.AdmitRequest(c.Request().Context(), name)
	if err != nil {
		return fail(c, err)
	}

	// 熔断器断开是独立的拦截状态，不同于后端不可达
	if !admitted {
		return c.JSON(http.StatusForbidden, errorResponse(http.StatusForbidden, "请求被熔断器拦截"))
	}

	return c.JSON(http.StatusOK, successResponse("放行", map[string]interface{}{"admitted": true}))
}

// reportOutcome 处理调用结果上报请求
func (s *Server) reportOutcome(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	req := new(reportOutcomeRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}

	if err := s.plane.ReportOutcome(c.Request().Context(), name, req.Success); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("上报成功", nil))
}

// setPolicy 处理设置流量策略请求
func (s *Server) setPolicy(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	record := new(model.PolicyRecord)
	if err := c.Bind(record); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}

	// 路径中的服务名优先于请求体
	record.ServiceName = name

	if err := s.plane.SetPolicy(c.Request().Context(), *record); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("策略设置成功", record))
}

// getPolicy 处理查询流量策略请求
func (s *Server) getPolicy(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	record := s.plane.GetPolicy(name)
	return c.JSON(http.StatusOK, successResponse("查询成功", record))
}

// deletePolicy 处理删除流量策略请求
func (s *Server) deletePolicy(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	if err := s.plane.DeletePolicy(c.Request().Context(), name); err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("策略删除成功", nil))
}

// listPolicies 处理查询流量策略列表请求
func (s *Server) listPolicies(c echo.Context) error {
	policies := s.plane.ListPolicies()

	data := map[string]interface{}{
		"policies": policies,
		"total":    len(policies),
	}
	return c.JSON(http.StatusOK, successResponse("查询成功", data))
}

// deploy 处理创建工作负载请求
func (s *Server) deploy(c echo.Context) error {
	spec := new(model.DeploymentSpec)
	if err := c.Bind(spec); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}

	result, err := s.plane.Deploy(c.Request().Context(), spec)
	if err != nil {
		return failWithResult(c, err, result)
	}

	return c.JSON(http.StatusOK, successResponse("部署成功", result))
}

// scale 处理调整副本数请求
func (s *Server) scale(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	req := new(scaleRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}
	if req.Replicas == nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "副本数不能为空"))
	}

	result, err := s.plane.Scale(c.Request().Context(), name, *req.Replicas)
	if err != nil {
		return failWithResult(c, err, result)
	}

	return c.JSON(http.StatusOK, successResponse("副本数调整成功", result))
}

// updateImage 处理更新镜像请求
func (s *Server) updateImage(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	req := new(updateImageRequest)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "无效的请求参数: "+err.Error()))
	}
	// 未指定策略时使用滚动更新
	if req.Strategy == "" {
		req.Strategy = string(model.UpdateStrategyRolling)
	}

	result, err := s.plane.UpdateImage(c.Request().Context(), name, req.Image, model.UpdateStrategy(req.Strategy))
	if err != nil {
		return failWithResult(c, err, result)
	}

	return c.JSON(http.StatusOK, successResponse("镜像更新成功", result))
}

// getDeploymentSpec 处理查询期望部署状态请求
func (s *Server) getDeploymentSpec(c echo.Context) error {
	name := c.Param("name")
	if name == "" {
		return c.JSON(http.StatusBadRequest, errorResponse(http.StatusBadRequest, "服务名称不能为空"))
	}

	spec, err := s.plane.GetDeploymentSpec(c.Request().Context(), name)
	if err != nil {
		return fail(c, err)
	}

	return c.JSON(http.StatusOK, successResponse("查询成功", spec))
}

// listDeploymentSpecs 处理查询期望部署状态列表请求
func (s *Server) listDeploymentSpecs(c echo.Context) error {
	specs, err := s.plane.ListDeploymentSpecs(c.Request().Context())
	if err != nil {
		return fail(c, err)
	}

	data := map[string]interface{}{
		"deployments": specs,
		"total":       len(specs),
	}
	return c.JSON(http.StatusOK, successResponse("查询成功", data))
}

// failWithResult 返回错误响应，部署操作附带操作结果
func failWithResult(c echo.Context, err error, result *model.DeployResult) error {
	status := httpStatus(err)
	resp := errorResponse(status, err.Error())
	if result != nil {
		resp.Data = result
	}
	return c.JSON(status, resp)
}
