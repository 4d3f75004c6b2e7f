package dnsdiscovery

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/miekg/dns"

	"github.com/hewenyu/mesh-control/internal/controlplane"
	"github.com/hewenyu/mesh-control/pkg/model"
)

// Resolver 把注册表中的服务解析为DNS记录
//
// 只有健康且熔断器未处于断开状态的服务才会被解析；半开状态的服务仍然
// 可以被解析，试探请求需要能够找到服务地址。
type Resolver struct {
	plane  controlplane.ControlPlane
	domain string
	ttl    uint32
}

// NewResolver 创建DNS记录解析器
func NewResolver(plane controlplane.ControlPlane, domain string, ttl int) *Resolver {
	return &Resolver{
		plane:  plane,
		domain: strings.TrimSuffix(domain, "."),
		ttl:    uint32(ttl),
	}
}

// Records 获取指定域名和类型的DNS记录，没有可用记录时返回空切片
func (r *Resolver) Records(ctx context.Context, name string, qtype uint16) ([]dns.RR, error) {
	// 规范化域名以去除末尾的点
	name = strings.TrimSuffix(name, ".")

	serviceName := extractServiceName(name, r.domain)
	if serviceName == "" {
		return nil, nil
	}

	snapshot, err := r.plane.GetServiceSnapshot(ctx, serviceName)
	if err != nil {
		if model.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}

	if !resolvable(snapshot) {
		return nil, nil
	}

	host, port, err := endpointHostPort(snapshot.Descriptor.EndpointURL)
	if err != nil {
		return nil, nil
	}

	var records []dns.RR

	switch qtype {
	case dns.TypeA:
		// A记录只在服务地址是IPv4字面量时生成
		ip := net.ParseIP(host)
		if ip == nil || ip.To4() == nil {
			return nil, nil
		}
		rr, err := createARecord(name, ip.To4().String(), r.ttl)
		if err != nil {
			return nil, nil
		}
		records = append(records, rr)
	case dns.TypeSRV:
		target := fmt.Sprintf("%s.%s", serviceName, r.domain)
		rr, err := createSRVRecord(name, target, port, r.ttl)
		if err != nil {
			return nil, nil
		}
		records = append(records, rr)
	}

	return records, nil
}

// resolvable 判断服务当前是否应该出现在DNS应答中
//
// 健康状态必须为healthy；熔断器断开期间不解析，到达重置时间后快照会把
// 状态推进到半开，服务随之恢复解析。
func resolvable(snapshot *model.ServiceSnapshot) bool {
	if snapshot.Descriptor.Status != model.HealthStatusHealthy {
		return false
	}
	return snapshot.Breaker.State != model.BreakerOpen
}

// extractServiceName 从查询域名中提取服务名称
//
// 支持两种格式：A记录查询"<service>.<domain>"，SRV记录查询
// "_<service>._tcp.<domain>"。不匹配时返回空字符串。
func extractServiceName(name, baseDomain string) string {
	// 处理SRV格式
	if strings.HasPrefix(name, "_") {
		parts := strings.Split(name, ".")
		if len(parts) >= 3 && parts[1] == "_tcp" && strings.Join(parts[2:], ".") == baseDomain {
			return strings.TrimPrefix(parts[0], "_")
		}
		return ""
	}

	// 处理A格式
	prefix := strings.TrimSuffix(name, "."+baseDomain)
	if prefix == name || prefix == "" {
		return ""
	}
	// 服务名称是单级标签，不支持多级子域
	if strings.Contains(prefix, ".") {
		return ""
	}
	return prefix
}

// endpointHostPort 从服务访问地址中解析主机和端口
//
// 未显式指定端口时按协议取默认值：https为443，其他为80。
func endpointHostPort(endpointURL string) (string, int, error) {
	u, err := url.Parse(endpointURL)
	if err != nil {
		return "", 0, err
	}

	host := u.Hostname()
	if host == "" {
		return "", 0, fmt.Errorf("服务地址缺少主机名: %s", endpointURL)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, err
		}
		return host, port, nil
	}

	if u.Scheme == "https" {
		return host, 443, nil
	}
	return host, 80, nil
}

// createARecord 创建A记录
func createARecord(name, ip string, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN A %s", name, ttl, ip))
}

// createSRVRecord 创建SRV记录
func createSRVRecord(name, target string, port int, ttl uint32) (dns.RR, error) {
	return dns.NewRR(fmt.Sprintf("%s %d IN SRV 10 10 %d %s", name, ttl, port, target))
}
