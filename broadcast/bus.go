package broadcast

import (
	"sync"

	"github.com/themindlocksyndicate/tmls-companion/logger"
)

// Handler receives a published payload.
type Handler func(payload any)

type subscriber struct {
	id int64
	fn Handler
}

// Bus is a publish/subscribe hub scoped to one room session. Closing it
// drops every subscriber at once.
type Bus struct {
	mutex  sync.RWMutex
	subs   map[string][]subscriber
	nextID int64
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string][]subscriber)}
}

// Subscribe registers fn for topic and returns its unsubscribe func.
// Subscribing to a closed bus is a no-op.
func (b *Bus) Subscribe(topic string, fn Handler) func() {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.closed {
		return func() {}
	}
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic string, id int64) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			b.subs[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[topic]) == 0 {
		delete(b.subs, topic)
	}
}

// Publish delivers payload to the topic's subscribers in subscription order.
// A panicking handler is logged and does not stop delivery to the rest.
func (b *Bus) Publish(topic string, payload any) {
	b.mutex.RLock()
	if b.closed {
		b.mutex.RUnlock()
		return
	}
	subs := append([]subscriber(nil), b.subs[topic]...)
	b.mutex.RUnlock()

	for _, s := range subs {
		deliver(topic, s.fn, payload)
	}
}

func deliver(topic string, fn Handler, payload any) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Errorf("Handler for %s panicked: %v", topic, r)
		}
	}()
	fn(payload)
}

// Subscribers returns how many handlers listen on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subs[topic])
}

// Close drops all subscribers; later publishes are ignored.
func (b *Bus) Close() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.closed = true
	b.subs = make(map[string][]subscriber)
}
