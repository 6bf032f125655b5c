// Package eventbus implements a small synchronous pub/sub registry used to
// fan run-time events (build progress, test results, container activity)
// out to the dashboard and CLI without coupling producers to consumers.
package eventbus

import (
	"sync"

	"e2eforge/pkg/logging"
)

const subsystem = "EventBus"

// Core channel names used throughout e2eforge.
const (
	ChannelBuild      = "build"
	ChannelTest       = "test"
	ChannelSetup      = "setup"
	ChannelClean      = "clean"
	ChannelContainer  = "container"
	ChannelActivity   = "activity"
	ChannelResilience = "resilience"
	ChannelQueue      = "queue"
	ChannelSession    = "session"
)

// Handler receives a message emitted on a channel.
type Handler func(msg interface{})

// Bus is a (channel, handler) registry. Emit invokes every handler
// subscribed to a channel synchronously, in registration order. A handler
// that panics is recovered and logged; it never affects its peers or
// propagates back to the emitter.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	nextID      uint64
}

type subscription struct {
	id      uint64
	handler Handler
}

// New returns an empty event bus.
func New() *Bus {
	return &Bus{subscribers: make(map[string][]*subscription)}
}

// Subscribe registers handler on channel and returns an idempotent
// unsubscribe function.
func (b *Bus) Subscribe(channel string, handler Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	sub := &subscription{id: id, handler: handler}
	b.subscribers[channel] = append(b.subscribers[channel], sub)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subscribers[channel]
			for i, s := range subs {
				if s.id == id {
					b.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
		})
	}
}

// Emit invokes every handler subscribed to channel, in registration order.
// Handlers registered after Emit begins are not invoked for this call
// (no persistence, no delivery to late subscribers).
func (b *Bus) Emit(channel string, msg interface{}) {
	b.mu.RLock()
	subs := make([]*subscription, len(b.subscribers[channel]))
	copy(subs, b.subscribers[channel])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.invoke(channel, sub, msg)
	}
}

func (b *Bus) invoke(channel string, sub *subscription, msg interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warn(subsystem, "handler on channel %s panicked: %v", channel, r)
		}
	}()
	sub.handler(msg)
}

// SubscriberCount returns the number of handlers currently subscribed to
// channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[channel])
}

// Clear removes every subscriber from every channel.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]*subscription)
}
