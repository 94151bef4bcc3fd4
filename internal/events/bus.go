// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package events

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/FireflyF09/phira-mp/pkg/errutil"
)

// broadcastBuffer is the per-receiver channel depth. Slow receivers past
// this depth lose events.
const broadcastBuffer = 100

// Handler processes one event synchronously during Emit.
type Handler func(Event) error

// subscription binds a handler to a subscriber identity so it can be
// removed later.
type subscription struct {
	handler    Handler
	subscriber string
}

// Bus routes events to synchronous handlers and to broadcast channels.
// Handlers for one Emit run in registration order; a failing handler is
// logged and does not stop fan-out. It is safe for concurrent use.
type Bus struct {
	mu        sync.RWMutex
	subs      map[string][]subscription
	receivers []chan Event
	logger    *slog.Logger
}

// NewBus creates an empty event bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscription),
		logger: logger,
	}
}

// Subscribe registers handler for eventType under the subscriber identity
// (normally the plugin name).
func (b *Bus) Subscribe(eventType string, handler Handler, subscriber string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Debug("event subscription added",
		"event_type", eventType,
		"subscriber", subscriber,
	)
	b.subs[eventType] = append(b.subs[eventType], subscription{
		handler:    handler,
		subscriber: subscriber,
	})
}

// Unsubscribe removes every handler the subscriber registered for
// eventType. Event types left without subscribers are pruned.
func (b *Bus) Unsubscribe(eventType, subscriber string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Debug("event subscription removed",
		"event_type", eventType,
		"subscriber", subscriber,
	)
	b.prune(eventType, subscriber)
}

// UnsubscribeAll removes every subscription held by subscriber across all
// event types.
func (b *Bus) UnsubscribeAll(subscriber string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.Debug("all event subscriptions removed", "subscriber", subscriber)
	for eventType := range b.subs {
		b.prune(eventType, subscriber)
	}
}

// prune drops subscriber's entries for eventType and deletes the type when
// empty. Caller must hold the write lock. The kept slice is freshly
// allocated: an in-flight Emit may still be iterating the old backing
// array outside the lock.
func (b *Bus) prune(eventType, subscriber string) {
	subs := b.subs[eventType]
	kept := make([]subscription, 0, len(subs))
	for _, sub := range subs {
		if sub.subscriber != subscriber {
			kept = append(kept, sub)
		}
	}
	if len(kept) == 0 {
		delete(b.subs, eventType)
		return
	}
	b.subs[eventType] = kept
}

// Emit delivers the event to synchronous handlers in registration order,
// then pushes it to broadcast receivers. Full receiver buffers drop the
// event with a warning.
func (b *Bus) Emit(event Event) {
	b.mu.RLock()
	subs := b.subs[event.Type]
	b.mu.RUnlock()

	b.logger.Debug("emitting event",
		"event_type", event.Type,
		"source", event.Source,
	)

	for _, sub := range subs {
		if err := sub.handler(event); err != nil {
			errutil.LogError(b.logger.With(
				"event_type", event.Type,
				"subscriber", sub.subscriber,
			), "event handler failed", err)
		}
	}

	// Sends happen under the read lock so UnsubscribeBroadcast cannot
	// close a channel mid-send. The sends never block.
	b.mu.RLock()
	for _, ch := range b.receivers {
		select {
		case ch <- event:
		default:
			b.logger.Warn("event dropped: receiver buffer full",
				"event_type", event.Type,
				"event_id", event.ID.String(),
			)
		}
	}
	b.mu.RUnlock()
}

// SubscribeBroadcast returns a channel receiving every emitted event.
// The caller must drain it or accept drops, and must release it with
// UnsubscribeBroadcast.
func (b *Bus) SubscribeBroadcast() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, broadcastBuffer)
	b.receivers = append(b.receivers, ch)
	return ch
}

// UnsubscribeBroadcast removes and closes a channel returned by
// SubscribeBroadcast.
func (b *Bus) UnsubscribeBroadcast(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, receiver := range b.receivers {
		if receiver == ch {
			b.receivers = append(b.receivers[:i], b.receivers[i+1:]...)
			close(receiver)
			return
		}
	}
}

// Subscribers returns the subscriber identities registered for eventType,
// in registration order.
func (b *Bus) Subscribers(eventType string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subs[eventType]
	out := make([]string, 0, len(subs))
	for _, sub := range subs {
		out = append(out, sub.subscriber)
	}
	return out
}

// HasSubscribers reports whether eventType has at least one handler.
func (b *Bus) HasSubscribers(eventType string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subs[eventType]) > 0
}

// EventTypes returns the event types that currently have subscribers,
// sorted by name.
func (b *Bus) EventTypes() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.subs))
	for eventType := range b.subs {
		out = append(out, eventType)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the bus.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, subs := range b.subs {
		total += len(subs)
	}
	return Stats{
		EventTypes:         len(b.subs),
		Subscriptions:      total,
		BroadcastReceivers: len(b.receivers),
	}
}

// Stats describes event bus occupancy.
type Stats struct {
	EventTypes         int
	Subscriptions      int
	BroadcastReceivers int
}
