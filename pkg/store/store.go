package store

import (
	"context"
)

// 定义存储集合名称
const (
	// CollectionServices 服务描述符集合
	CollectionServices = "services"
	// CollectionPolicies 流量策略集合
	CollectionPolicies = "policies"
	// CollectionDeployments 部署规格集合
	CollectionDeployments = "deployments"
)

// Store 定义控制平面的持久化存储接口
//
// 所有写操作必须在返回前完成持久化，调用方依赖该语义实现"先落盘后更新内存"。
type Store interface {
	// Put 写入指定集合中的键值
	Put(ctx context.Context, collection, key string, value []byte) error

	// Get 读取指定集合中的键值，键不存在时返回NotFound错误
	Get(ctx context.Context, collection, key string) ([]byte, error)

	// Delete 删除指定集合中的键，键不存在时不报错
	Delete(ctx context.Context, collection, key string) error

	// List 返回指定集合中的所有键值对
	List(ctx context.Context, collection string) (map[string][]byte, error)

	// Close 关闭存储连接
	Close() error
}
