// Package bus provides a small typed pub/sub bus. It fans events out to
// bounded per-subscriber buffers so a slow consumer cannot stall a
// time-sensitive producer: lossless events are published with backpressure,
// lossy ones (high-frequency position samples) are dropped when a buffer is
// full.
package bus

import (
	"context"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const defaultBuffer = 64

// Message pairs a published value with the key it was published under.
type Message[K comparable, V any] struct {
	Key   K
	Value V
}

// Publisher publishes values under a fixed key.
type Publisher[V any] func(ctx context.Context, value V)

type subscription[K comparable, V any] struct {
	keys map[K]struct{} // nil matches every key
	ch   chan Message[K, V]
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func (s *subscription[K, V]) matches(key K) bool {
	if s.keys == nil {
		return true
	}
	_, ok := s.keys[key]
	return ok
}

// deliver blocks until the message is buffered, the subscription ends, or
// ctx is done. Sends hold the read lock so teardown cannot close the channel
// under an in-flight send.
func (s *subscription[K, V]) deliver(ctx context.Context, msg Message[K, V]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// tryDeliver buffers the message if there is room, never blocking.
func (s *subscription[K, V]) tryDeliver(msg Message[K, V]) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- msg:
		return true
	default:
		return false
	}
}

// teardown closes the channel once no delivery is inside a send. Closing
// done first releases deliveries blocked on a full buffer; the write lock
// then waits out their read locks.
func (s *subscription[K, V]) teardown() {
	close(s.done)
	s.mu.Lock()
	s.closed = true
	close(s.ch)
	s.mu.Unlock()
}

type Bus[K comparable, V any] struct {
	log    *zap.Logger
	buffer int

	subs    *xsync.MapOf[*subscription[K, V], struct{}]
	dropped atomic.Uint64
}

type Option func(*options)

type options struct {
	buffer int
}

// WithBuffer sets the per-subscriber buffer capacity.
func WithBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
	}
}

func New[K comparable, V any](log *zap.Logger, opts ...Option) *Bus[K, V] {
	o := options{buffer: defaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &Bus[K, V]{
		log:    log,
		buffer: o.buffer,
		subs:   xsync.NewMapOf[*subscription[K, V], struct{}](),
	}
}

// Subscribe returns a channel of messages for the given keys (all keys when
// none are given). The channel is closed and removed when ctx is done.
func (b *Bus[K, V]) Subscribe(ctx context.Context, keys ...K) <-chan Message[K, V] {
	sub := &subscription[K, V]{
		ch:   make(chan Message[K, V], b.buffer),
		done: make(chan struct{}),
	}
	if len(keys) > 0 {
		sub.keys = make(map[K]struct{}, len(keys))
		for _, k := range keys {
			sub.keys[k] = struct{}{}
		}
	}
	b.subs.Store(sub, struct{}{})
	go func() {
		<-ctx.Done()
		b.subs.Delete(sub)
		sub.teardown()
	}()
	return sub.ch
}

// Publish delivers to every matching subscriber, blocking on full buffers.
// Delivery order is preserved per subscriber for a single publishing
// goroutine.
func (b *Bus[K, V]) Publish(ctx context.Context, key K, value V) {
	msg := Message[K, V]{Key: key, Value: value}
	b.subs.Range(func(sub *subscription[K, V], _ struct{}) bool {
		if !sub.matches(key) {
			return true
		}
		if !sub.deliver(ctx, msg) && ctx.Err() != nil {
			return false
		}
		return true
	})
}

// TryPublish delivers without blocking; a subscriber with a full buffer
// misses the message. Returns false if any subscriber missed it.
func (b *Bus[K, V]) TryPublish(key K, value V) bool {
	msg := Message[K, V]{Key: key, Value: value}
	delivered := true
	b.subs.Range(func(sub *subscription[K, V], _ struct{}) bool {
		if !sub.matches(key) {
			return true
		}
		if !sub.tryDeliver(msg) {
			delivered = false
			b.dropped.Inc()
		}
		return true
	})
	return delivered
}

// CreatePublisher binds a key so producers need not know about keys.
func (b *Bus[K, V]) CreatePublisher(key K) Publisher[V] {
	return func(ctx context.Context, value V) {
		b.Publish(ctx, key, value)
	}
}

// Dropped reports the total number of messages lost to full buffers.
func (b *Bus[K, V]) Dropped() uint64 {
	return b.dropped.Load()
}
