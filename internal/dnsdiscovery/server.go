package dnsdiscovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/internal/controlplane"
	"github.com/hewenyu/mesh-control/pkg/config"
)

// resolveTimeout 单次查询的解析超时
const resolveTimeout = 5 * time.Second

// Handler DNS请求处理器
type Handler struct {
	resolver *Resolver
	domain   string
	logger   config.Logger
}

// NewHandler 创建DNS请求处理器
func NewHandler(resolver *Resolver, domain string, logger config.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		domain:   strings.TrimSuffix(domain, "."),
		logger:   logger,
	}
}

// ServeDNS 处理DNS请求
func (h *Handler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	// 创建响应消息
	m := new(dns.Msg)
	m.SetReply(r)
	m.Authoritative = false

	// 只处理标准查询
	if r.Opcode != dns.OpcodeQuery {
		m.Rcode = dns.RcodeNotImplemented
		w.WriteMsg(m)
		return
	}

	if len(r.Question) == 0 {
		m.Rcode = dns.RcodeFormatError
		w.WriteMsg(m)
		return
	}

	q := r.Question[0]
	name := strings.ToLower(q.Name)

	// 本服务只对发现域授权，不转发其他域的查询
	if !strings.HasSuffix(name, h.domain+".") && !strings.HasSuffix(name, h.domain) {
		m.Rcode = dns.RcodeRefused
		w.WriteMsg(m)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), resolveTimeout)
	defer cancel()

	records, err := h.resolver.Records(ctx, name, q.Qtype)
	if err != nil {
		h.logger.Error("解析DNS记录失败", zap.String("name", name), zap.Error(err))
		m.Rcode = dns.RcodeServerFailure
		w.WriteMsg(m)
		return
	}

	// 没有可用记录时返回NXDOMAIN
	if len(records) == 0 {
		m.Rcode = dns.RcodeNameError
		w.WriteMsg(m)
		return
	}

	m.Answer = append(m.Answer, records...)
	m.Authoritative = true
	w.WriteMsg(m)
}

// Server DNS发现服务器，同时监听UDP和TCP
type Server struct {
	udpServer *dns.Server
	tcpServer *dns.Server
	handler   *Handler
	cfg       config.DNSConfig
	logger    config.Logger
}

// NewServer 创建DNS发现服务器
func NewServer(cfg config.DNSConfig, plane controlplane.ControlPlane, logger config.Logger) *Server {
	resolver := NewResolver(plane, cfg.Domain, cfg.TTL)
	handler := NewHandler(resolver, cfg.Domain, logger)
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		udpServer: &dns.Server{
			Addr:    addr,
			Net:     "udp",
			Handler: handler,
		},
		tcpServer: &dns.Server{
			Addr:    addr,
			Net:     "tcp",
			Handler: handler,
		},
		handler: handler,
		cfg:     cfg,
		logger:  logger,
	}
}

// Start 启动UDP和TCP监听（非阻塞）
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	go func() {
		s.logger.Info("DNS发现服务启动(UDP)", zap.String("address", addr), zap.String("domain", s.cfg.Domain))
		if err := s.udpServer.ListenAndServe(); err != nil {
			s.logger.Error("DNS UDP服务器退出", zap.Error(err))
		}
	}()

	go func() {
		s.logger.Info("DNS发现服务启动(TCP)", zap.String("address", addr), zap.String("domain", s.cfg.Domain))
		if err := s.tcpServer.ListenAndServe(); err != nil {
			s.logger.Error("DNS TCP服务器退出", zap.Error(err))
		}
	}()

	return nil
}

// Stop 关闭UDP和TCP监听
func (s *Server) Stop() {
	if err := s.udpServer.Shutdown(); err != nil {
		s.logger.Error("关闭DNS UDP服务器失败", zap.Error(err))
	}
	if err := s.tcpServer.Shutdown(); err != nil {
		s.logger.Error("关闭DNS TCP服务器失败", zap.Error(err))
	}
	s.logger.Info("DNS发现服务已停止")
}
