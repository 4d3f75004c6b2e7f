package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/mesh-control/pkg/model"
	"github.com/hewenyu/mesh-control/pkg/store"
)

func TestMemoryStore_PutAndGet(t *testing.T) {
	// 确保实现了存储接口
	var _ store.Store = (*MemoryStore)(nil)

	s := NewMemoryStore()
	ctx := context.Background()

	// 写入键值
	err := s.Put(ctx, store.CollectionServices, "orders", []byte(`{"name":"orders"}`))
	require.NoError(t, err)

	// 读取键值
	value, err := s.Get(ctx, store.CollectionServices, "orders")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"orders"}`), value)

	// 覆盖写入
	err = s.Put(ctx, store.CollectionServices, "orders", []byte(`{"name":"orders-v2"}`))
	require.NoError(t, err)

	value, err = s.Get(ctx, store.CollectionServices, "orders")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"name":"orders-v2"}`), value)
}

func TestMemoryStore_GetNotFound(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// 读取不存在的键
	_, err := s.Get(ctx, store.CollectionServices, "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err), "应返回NotFound错误")

	// 集合存在但键不存在
	err = s.Put(ctx, store.CollectionServices, "orders", []byte("x"))
	require.NoError(t, err)

	_, err = s.Get(ctx, store.CollectionServices, "missing")
	require.Error(t, err)
	assert.True(t, model.IsNotFound(err), "应返回NotFound错误")
}

func TestMemoryStore_Delete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.Put(ctx, store.CollectionPolicies, "orders", []byte("policy"))
	require.NoError(t, err)

	// 删除已有键
	err = s.Delete(ctx, store.CollectionPolicies, "orders")
	require.NoError(t, err)

	_, err = s.Get(ctx, store.CollectionPolicies, "orders")
	assert.True(t, model.IsNotFound(err))

	// 删除不存在的键不报错
	err = s.Delete(ctx, store.CollectionPolicies, "missing")
	assert.NoError(t, err)

	// 删除不存在的集合不报错
	err = s.Delete(ctx, "unknown-collection", "missing")
	assert.NoError(t, err)
}

func TestMemoryStore_List(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// 空集合返回空map
	result, err := s.List(ctx, store.CollectionDeployments)
	require.NoError(t, err)
	assert.Empty(t, result)

	// 写入多个键值
	err = s.Put(ctx, store.CollectionDeployments, "orders", []byte("a"))
	require.NoError(t, err)
	err = s.Put(ctx, store.CollectionDeployments, "payments", []byte("b"))
	require.NoError(t, err)

	// 其他集合的键不应出现在结果中
	err = s.Put(ctx, store.CollectionServices, "orders", []byte("c"))
	require.NoError(t, err)

	result, err = s.List(ctx, store.CollectionDeployments)
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, []byte("a"), result["orders"])
	assert.Equal(t, []byte("b"), result["payments"])
}

func TestMemoryStore_ValueIsolation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// 写入后修改原切片不应影响存储内容
	value := []byte("original")
	err := s.Put(ctx, store.CollectionServices, "orders", value)
	require.NoError(t, err)

	value[0] = 'X'

	stored, err := s.Get(ctx, store.CollectionServices, "orders")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), stored)

	// 修改读取结果不应影响存储内容
	stored[0] = 'Y'

	again, err := s.Get(ctx, store.CollectionServices, "orders")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), again)
}
