package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/hewenyu/mesh-control/pkg/model"
)

// MemoryStore 实现基于内存的存储，主要用于测试和单机部署
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
	}
}

// Put 写入指定集合中的键值
func (s *MemoryStore) Put(ctx context.Context, collection, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string][]byte)
		s.collections[collection] = coll
	}

	// 复制数据，避免调用方后续修改切片影响存储内容
	data := make([]byte, len(value))
	copy(data, value)
	coll[key] = data

	return nil
}

// Get 读取指定集合中的键值
func (s *MemoryStore) Get(ctx context.Context, collection, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("键不存在: %s/%s", collection, key))
	}

	value, ok := coll[key]
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("键不存在: %s/%s", collection, key))
	}

	data := make([]byte, len(value))
	copy(data, value)

	return data, nil
}

// Delete 删除指定集合中的键，键不存在时不报错
func (s *MemoryStore) Delete(ctx context.Context, collection, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if coll, ok := s.collections[collection]; ok {
		delete(coll, key)
	}

	return nil
}

// List 返回指定集合中的所有键值对
func (s *MemoryStore) List(ctx context.Context, collection string) (map[string][]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coll, ok := s.collections[collection]
	if !ok {
		return map[string][]byte{}, nil
	}

	result := make(map[string][]byte, len(coll))
	for key, value := range coll {
		data := make([]byte, len(value))
		copy(data, value)
		result[key] = data
	}

	return result, nil
}

// Close 关闭存储连接，内存实现无需任何操作
func (s *MemoryStore) Close() error {
	return nil
}
