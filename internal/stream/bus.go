// Package stream provides a topic based fan-out bus for live subscribers.
//
// Every subscriber owns a bounded mailbox. When a mailbox is full the oldest
// buffered message is discarded to make room for the new one, so a slow
// subscriber loses history but never stalls Publish or other subscribers.
// Publishing to a topic without subscribers is a no-op.
package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

const DefaultBufferSize = 100

type BusOption func(*busConfig)

type busConfig struct {
	bufferSize int
	onDrop     func(topic string)
}

// WithBufferSize sets the per-subscriber mailbox size.
func WithBufferSize(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.bufferSize = n
		}
	}
}

// WithDropHandler is called once for every message discarded from a full mailbox.
func WithDropHandler(fn func(topic string)) BusOption {
	return func(c *busConfig) { c.onDrop = fn }
}

// Bus fans messages out to the subscribers of a topic.
type Bus[T any] struct {
	cfg   busConfig
	rooms sync.Map // topic -> *room[T]
}

type room[T any] struct {
	mu   sync.RWMutex
	subs map[*Subscription[T]]struct{}
	dead bool
}

// Subscription is a single listener registration.
type Subscription[T any] struct {
	bus     *Bus[T]
	topic   string
	ch      chan T
	dropped atomic.Uint64
	once    sync.Once
	stop    atomic.Pointer[func() bool]
}

// NewBus creates an empty bus.
func NewBus[T any](opts ...BusOption) *Bus[T] {
	cfg := busConfig{bufferSize: DefaultBufferSize}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Bus[T]{cfg: cfg}
}

// Subscribe registers a listener on topic. The listener is removed and its
// channel closed when ctx is done or Close is called.
func (b *Bus[T]) Subscribe(ctx context.Context, topic string) *Subscription[T] {
	sub := &Subscription[T]{
		bus:   b,
		topic: topic,
		ch:    make(chan T, b.cfg.bufferSize),
	}

	for {
		v, _ := b.rooms.LoadOrStore(topic, &room[T]{subs: make(map[*Subscription[T]]struct{})})
		r := v.(*room[T])
		r.mu.Lock()
		if r.dead {
			// lost a race with the last unsubscribe; the room is gone from the map
			r.mu.Unlock()
			continue
		}
		r.subs[sub] = struct{}{}
		r.mu.Unlock()
		break
	}

	stop := context.AfterFunc(ctx, sub.Close)
	sub.stop.Store(&stop)
	return sub
}

// Publish delivers msg to every subscriber of topic and returns how many
// subscribers it reached.
func (b *Bus[T]) Publish(topic string, msg T) int {
	v, ok := b.rooms.Load(topic)
	if !ok {
		return 0
	}
	r := v.(*room[T])

	r.mu.RLock()
	defer r.mu.RUnlock()

	for sub := range r.subs {
		sub.deliver(msg, b.cfg.onDrop)
	}
	return len(r.subs)
}

// Subscribers returns the number of live subscribers on topic.
func (b *Bus[T]) Subscribers(topic string) int {
	v, ok := b.rooms.Load(topic)
	if !ok {
		return 0
	}
	r := v.(*room[T])
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

func (b *Bus[T]) unsubscribe(sub *Subscription[T]) {
	v, ok := b.rooms.Load(sub.topic)
	if !ok {
		return
	}
	r := v.(*room[T])

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[sub]; !ok {
		return
	}
	delete(r.subs, sub)
	close(sub.ch)

	if len(r.subs) == 0 {
		r.dead = true
		b.rooms.CompareAndDelete(sub.topic, r)
	}
}

// deliver never blocks. Callers hold the room read lock, which keeps the
// channel open for the duration of the call.
func (s *Subscription[T]) deliver(msg T, onDrop func(string)) {
	for {
		select {
		case s.ch <- msg:
			return
		default:
		}

		select {
		case <-s.ch:
			s.dropped.Add(1)
			if onDrop != nil {
				onDrop(s.topic)
			}
		default:
		}
	}
}

// C returns the receive side of the mailbox. It is closed on unsubscribe.
func (s *Subscription[T]) C() <-chan T { return s.ch }

// Topic returns the topic this subscription listens on.
func (s *Subscription[T]) Topic() string { return s.topic }

// Dropped returns how many messages were discarded for this subscriber.
func (s *Subscription[T]) Dropped() uint64 { return s.dropped.Load() }

// Close unregisters the subscription. It is safe to call more than once.
func (s *Subscription[T]) Close() {
	s.once.Do(func() {
		if stop := s.stop.Load(); stop != nil {
			(*stop)()
		}
		s.bus.unsubscribe(s)
	})
}
