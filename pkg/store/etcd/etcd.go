package etcd

import (
	"context"
	"fmt"
	"strings"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
)

// keyPrefix 所有键统一使用的etcd存储前缀
const keyPrefix = "/mesh-control/"

// EtcdStore 实现基于etcd的持久化存储
type EtcdStore struct {
	client *clientv3.Client
	cfg    *config.EtcdConfig
}

// NewEtcdStore 创建基于etcd的存储
func NewEtcdStore(cfg *config.EtcdConfig) (*EtcdStore, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Sprintf("连接etcd失败: %v", err))
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if _, err := client.Status(ctx, cfg.Endpoints[0]); err != nil {
		client.Close()
		return nil, model.NewUnavailableError(fmt.Sprintf("etcd连接测试失败: %v", err))
	}

	return &EtcdStore{
		client: client,
		cfg:    cfg,
	}, nil
}

// storeKey 拼接集合和键的完整存储键
func storeKey(collection, key string) string {
	return keyPrefix + collection + "/" + key
}

// collectionPrefix 拼接集合的存储前缀
func collectionPrefix(collection string) string {
	return keyPrefix + collection + "/"
}

// Put 写入指定集合中的键值
func (s *EtcdStore) Put(ctx context.Context, collection, key string, value []byte) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	_, err := s.client.Put(ctx, storeKey(collection, key), string(value))
	if err != nil {
		return model.NewUnavailableError(fmt.Sprintf("etcd写入键值失败 [%s/%s]: %v", collection, key, err))
	}

	return nil
}

// Get 读取指定集合中的键值
func (s *EtcdStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	resp, err := s.client.Get(ctx, storeKey(collection, key))
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Sprintf("etcd读取键值失败 [%s/%s]: %v", collection, key, err))
	}

	if len(resp.Kvs) == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("键不存在: %s/%s", collection, key))
	}

	return resp.Kvs[0].Value, nil
}

// Delete 删除指定集合中的键，键不存在时不报错
func (s *EtcdStore) Delete(ctx context.Context, collection, key string) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	_, err := s.client.Delete(ctx, storeKey(collection, key))
	if err != nil {
		return model.NewUnavailableError(fmt.Sprintf("etcd删除键值失败 [%s/%s]: %v", collection, key, err))
	}

	return nil
}

// List 返回指定集合中的所有键值对，键为去掉前缀后的裸键名
func (s *EtcdStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	prefix := collectionPrefix(collection)
	resp, err := s.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, model.NewUnavailableError(fmt.Sprintf("etcd读取前缀键值失败 [%s]: %v", prefix, err))
	}

	result := make(map[string][]byte, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		result[strings.TrimPrefix(string(kv.Key), prefix)] = kv.Value
	}

	return result, nil
}

// Close 关闭etcd客户端连接
func (s *EtcdStore) Close() error {
	return s.client.Close()
}
