package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hewenyu/mesh-control/pkg/config"
	"github.com/hewenyu/mesh-control/pkg/model"
)

// DefaultBufferSize 订阅通道的默认缓冲大小
const DefaultBufferSize = 64

// Bus 实现进程内的事件广播
//
// 发布端永不阻塞：订阅通道使用固定缓冲，缓冲满时丢弃事件并记录告警。
// 订阅者因此可能丢失事件，需要完整状态时应主动查询控制平面。
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan model.Event
	bufferSize  int
	closed      bool
	logger      config.Logger
}

// NewBus 创建事件总线，bufferSize小于等于0时使用默认缓冲大小
func NewBus(bufferSize int, logger config.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Bus{
		subscribers: make(map[string]chan model.Event),
		bufferSize:  bufferSize,
		logger:      logger,
	}
}

// Subscribe 注册订阅者，返回事件通道和取消订阅函数
//
// 取消订阅函数可以安全地多次调用，调用后事件通道会被关闭。
func (b *Bus) Subscribe() (<-chan model.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan model.Event, b.bufferSize)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := uuid.New().String()
	b.subscribers[id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(sub)
		}
	}

	return ch, unsubscribe
}

// Publish 向所有订阅者广播事件
//
// 事件ID和时间为空时自动填充。订阅通道已满时丢弃该订阅者的本条事件。
func (b *Bus) Publish(event model.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("订阅通道已满，丢弃事件",
				zap.String("event_type", string(event.Type)),
				zap.String("service_name", event.ServiceName),
			)
		}
	}
}

// Close 关闭事件总线，关闭所有订阅通道
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
