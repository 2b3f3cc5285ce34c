package collect

import (
	"context"
	"sync"

	"coin/internal/domain/model"
)

// DefaultBusSize 默认缓冲大小
const DefaultBusSize = 1024

// Bus multiplexes events from any number of feeds onto per-subscriber
// channels. Publish blocks while a subscriber buffer is full; nothing is
// dropped. Order is preserved per producer only. The lock is never held while
// a producer waits, so Subscribe is not held up by backpressure.
type Bus struct {
	size int

	mu       sync.RWMutex
	subs     []chan model.Event
	closed   bool
	inflight sync.WaitGroup

	done      chan struct{}
	closeOnce sync.Once
}

// NewBus 创建事件总线
func NewBus(size int) *Bus {
	if size <= 0 {
		size = DefaultBusSize
	}
	return &Bus{size: size, done: make(chan struct{})}
}

// Subscribe returns a channel that receives every event published after the
// call. It is closed once the bus is closed and its buffer drained.
func (b *Bus) Subscribe() (<-chan model.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosedBus
	}
	ch := make(chan model.Event, b.size)
	b.subs = append(b.subs, ch)
	return ch, nil
}

// Publish delivers ev to every subscriber registered when the call starts.
func (b *Bus) Publish(ctx context.Context, ev model.Event) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosedBus
	}
	subs := b.subs
	// Add under the read lock: Close sets closed before waiting
	b.inflight.Add(1)
	b.mu.RUnlock()
	defer b.inflight.Done()

	for _, ch := range subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case ch <- ev:
		case <-b.done:
			return ErrClosedBus
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close 幂等；唤醒阻塞中的 Publish，等待其返回后关闭所有订阅通道
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
		b.mu.Lock()
		b.closed = true
		subs := b.subs
		b.mu.Unlock()

		b.inflight.Wait()
		for _, ch := range subs {
			close(ch)
		}
	})
}
