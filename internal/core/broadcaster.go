// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Anvil Contributors

package core

import (
	"log/slog"
	"sync"
)

// DefaultSubscriberBuffer is the channel capacity handed to each subscriber.
const DefaultSubscriberBuffer = 100

// Broadcaster distributes events to subscribers of a stream.
// Delivery is best effort: a subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[string][]chan Event
	buffer int
	closed bool
}

// NewBroadcaster creates a new broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string][]chan Event),
		buffer: DefaultSubscriberBuffer,
	}
}

// Subscribe creates a channel for receiving events on a stream.
// Subscribing to a closed broadcaster returns a closed channel.
func (b *Broadcaster) Subscribe(stream string) chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.buffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs[stream] = append(b.subs[stream], ch)
	return ch
}

// Unsubscribe removes a channel from a stream and closes it.
func (b *Broadcaster) Unsubscribe(stream string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[stream]
	for i, sub := range subs {
		if sub == ch {
			b.subs[stream] = append(subs[:i], subs[i+1:]...)
			if len(b.subs[stream]) == 0 {
				delete(b.subs, stream)
			}
			close(ch)
			return
		}
	}
}

// Broadcast sends an event to all subscribers of its stream.
func (b *Broadcaster) Broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs[event.Stream] {
		select {
		case ch <- event:
		default:
			slog.Warn("event dropped: subscriber buffer full",
				"stream", event.Stream,
				"event_id", event.ID.String(),
				"event_type", event.Type,
			)
		}
	}
}

// Close closes every subscriber channel. Later broadcasts are no-ops.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for stream, subs := range b.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subs, stream)
	}
}
