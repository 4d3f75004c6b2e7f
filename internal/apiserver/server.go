package apiserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/internal/controlplane"
	"github.com/hewenyu/mesh-control/pkg/config"
)

// Server 管理API服务器，把控制面操作一比一映射为HTTP路由
type Server struct {
	e      *echo.Echo
	cfg    config.ServerConfig
	plane  controlplane.ControlPlane
	logger config.Logger
}

// NewServer 创建管理API服务器
func NewServer(cfg config.ServerConfig, plane controlplane.ControlPlane, logger config.Logger) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true

	// 添加中间件
	e.Use(middleware.Recover())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPut, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	server := &Server{
		e:      e,
		cfg:    cfg,
		plane:  plane,
		logger: logger,
	}

	// 注册路由
	server.registerRoutes()

	return server
}

// registerRoutes 注册API路由
func (s *Server) registerRoutes() {
	s.e.GET("/health", s.healthCheck)
	s.e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.e.Group("/api/v1")

	// 服务注册与查询
	api.POST("/services", s.registerService)
	api.GET("/services", s.listServices)
	api.GET("/services/:name", s.getService)
	api.DELETE("/services/:name", s.deregisterService)
	api.GET("/services/:name/snapshot", s.getServiceSnapshot)
	api.POST("/services/:name/admit", s.admitRequest)
	api.POST("/services/:name/outcome", s.reportOutcome)

	// 流量策略
	api.GET("/policies", s.listPolicies)
	api.PUT("/policies/:name", s.setPolicy)
	api.GET("/policies/:name", s.getPolicy)
	api.DELETE("/policies/:name", s.deletePolicy)

	// 部署
	api.POST("/deployments", s.deploy)
	api.GET("/deployments", s.listDeploymentSpecs)
	api.GET("/deployments/:name", s.getDeploymentSpec)
	api.PUT("/deployments/:name/scale", s.scale)
	api.PUT("/deployments/:name/image", s.updateImage)
}

// Start 启动服务（非阻塞）
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.logger.Info("管理API服务启动", zap.String("address", addr))

	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Error("管理API服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("正在关闭管理API服务...")
	return s.e.Shutdown(ctx)
}
