package sdk

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// DNSDiscovery 基于DNS发现服务的解析客户端
//
// 解析结果在本地缓存一个TTL周期，期间服务的健康与熔断变化不会立即
// 反映到解析结果上。
type DNSDiscovery struct {
	dnsServer string
	domain    string
	cacheTTL  time.Duration

	mu        sync.RWMutex
	hostCache map[string]hostCacheEntry
	srvCache  map[string]srvCacheEntry
}

type hostCacheEntry struct {
	addrs      []string
	expiration time.Time
}

type srvCacheEntry struct {
	targets    []*net.SRV
	expiration time.Time
}

// NewDNSDiscovery 创建DNS服务发现客户端
func NewDNSDiscovery(dnsServer, domain string, cacheTTL time.Duration) *DNSDiscovery {
	if dnsServer == "" {
		dnsServer = "127.0.0.1:8053"
	}
	if domain == "" {
		domain = "mesh.local"
	}
	if cacheTTL <= 0 {
		cacheTTL = 60 * time.Second
	}

	return &DNSDiscovery{
		dnsServer: dnsServer,
		domain:    strings.TrimSuffix(domain, "."),
		cacheTTL:  cacheTTL,
		hostCache: make(map[string]hostCacheEntry),
		srvCache:  make(map[string]srvCacheEntry),
	}
}

// ResolveHost 解析服务的IPv4地址，多个地址时随机返回一个
func (d *DNSDiscovery) ResolveHost(ctx context.Context, serviceName string) (string, error) {
	// 检查缓存
	if addr := d.hostFromCache(serviceName); addr != "" {
		return addr, nil
	}

	queryName := fmt.Sprintf("%s.%s", serviceName, d.domain)

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(queryName), dns.TypeA)
	m.RecursionDesired = true

	c := new(dns.Client)
	r, _, err := c.ExchangeContext(ctx, m, d.dnsServer)
	if err != nil {
		return "", fmt.Errorf("解析服务[%s]失败: %w", queryName, err)
	}
	if r == nil || r.Rcode != dns.RcodeSuccess {
		return "", fmt.Errorf("未找到服务[%s]的地址", queryName)
	}

	var ips []string
	for _, a := range r.Answer {
		if aRecord, ok := a.(*dns.A); ok {
			ips = append(ips, aRecord.A.String())
		}
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("未找到服务[%s]的地址", queryName)
	}

	d.updateHostCache(serviceName, ips)

	return ips[rand.Intn(len(ips))], nil
}

// ResolveSRV 解析服务的SRV记录，多条记录时按权重选择一条
func (d *DNSDiscovery) ResolveSRV(ctx context.Context, serviceName string) (*net.SRV, error) {
	// 检查缓存
	if srv := d.srvFromCache(serviceName); srv != nil {
		return srv, nil
	}

	queryName := fmt.Sprintf("_%s._tcp.%s", serviceName, d.domain)

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(queryName), dns.TypeSRV)
	m.RecursionDesired = true

	c := new(dns.Client)
	r, _, err := c.ExchangeContext(ctx, m, d.dnsServer)
	if err != nil {
		return nil, fmt.Errorf("解析SRV记录[%s]失败: %w", queryName, err)
	}
	if r == nil || r.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("未找到服务[%s]的SRV记录", queryName)
	}

	var srvRecords []*net.SRV
	for _, a := range r.Answer {
		if srvRecord, ok := a.(*dns.SRV); ok {
			srvRecords = append(srvRecords, &net.SRV{
				Target:   srvRecord.Target,
				Port:     srvRecord.Port,
				Priority: srvRecord.Priority,
				Weight:   srvRecord.Weight,
			})
		}
	}
	if len(srvRecords) == 0 {
		return nil, fmt.Errorf("未找到服务[%s]的SRV记录", queryName)
	}

	d.updateSRVCache(serviceName, srvRecords)

	return selectSRVByWeight(srvRecords), nil
}

// ResolveService 解析服务的访问地址，返回"主机:端口"格式
//
// 服务端点是IPv4字面量时返回IP地址，否则返回SRV目标域名，后者需要
// 调用方的解析器指向DNS发现服务。
func (d *DNSDiscovery) ResolveService(ctx context.Context, serviceName string) (string, error) {
	srv, err := d.ResolveSRV(ctx, serviceName)
	if err != nil {
		return "", err
	}

	if host, err := d.ResolveHost(ctx, serviceName); err == nil {
		return fmt.Sprintf("%s:%d", host, srv.Port), nil
	}
	return fmt.Sprintf("%s:%d", strings.TrimSuffix(srv.Target, "."), srv.Port), nil
}

// hostFromCache 从缓存中获取主机地址，过期或不存在时返回空字符串
func (d *DNSDiscovery) hostFromCache(serviceName string) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if entry, ok := d.hostCache[serviceName]; ok {
		if time.Now().Before(entry.expiration) {
			return entry.addrs[rand.Intn(len(entry.addrs))]
		}
	}
	return ""
}

func (d *DNSDiscovery) updateHostCache(serviceName string, ips []string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.hostCache[serviceName] = hostCacheEntry{
		addrs:      ips,
		expiration: time.Now().Add(d.cacheTTL),
	}
}

// srvFromCache 从缓存中获取SRV记录，过期或不存在时返回nil
func (d *DNSDiscovery) srvFromCache(serviceName string) *net.SRV {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if entry, ok := d.srvCache[serviceName]; ok {
		if time.Now().Before(entry.expiration) {
			return selectSRVByWeight(entry.targets)
		}
	}
	return nil
}

func (d *DNSDiscovery) updateSRVCache(serviceName string, srvs []*net.SRV) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.srvCache[serviceName] = srvCacheEntry{
		targets:    srvs,
		expiration: time.Now().Add(d.cacheTTL),
	}
}

// selectSRVByWeight 按权重随机选择一条SRV记录
func selectSRVByWeight(srvs []*net.SRV) *net.SRV {
	if len(srvs) == 0 {
		return nil
	}
	if len(srvs) == 1 {
		return srvs[0]
	}

	totalWeight := 0
	for _, srv := range srvs {
		totalWeight += int(srv.Weight)
	}

	// 所有权重为零时随机选择
	if totalWeight == 0 {
		return srvs[rand.Intn(len(srvs))]
	}

	n := rand.Intn(totalWeight)
	for _, srv := range srvs {
		n -= int(srv.Weight)
		if n < 0 {
			return srv
		}
	}

	return srvs[0]
}
