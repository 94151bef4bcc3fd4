// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Phira MP Contributors

package events_test

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FireflyF09/phira-mp/internal/events"
)

func TestNewEvent(t *testing.T) {
	event := events.New("chart_select", map[string]any{"chart": "cyaegha"}, "stats")

	assert.Equal(t, "chart_select", event.Type)
	assert.Equal(t, "cyaegha", event.Data["chart"])
	assert.Equal(t, "stats", event.Source)
	assert.False(t, event.Timestamp.IsZero())
	assert.NotZero(t, event.ID)

	system := events.NewSystem("server_start", nil)
	assert.Equal(t, events.SourceSystem, system.Source)
}

func TestEmitInvokesHandlersInRegistrationOrder(t *testing.T) {
	bus := events.NewBus(nil)

	var order []string
	bus.Subscribe("user_connect", func(events.Event) error {
		order = append(order, "first")
		return nil
	}, "chat")
	bus.Subscribe("user_connect", func(events.Event) error {
		order = append(order, "second")
		return nil
	}, "stats")

	bus.Emit(events.NewSystem("user_connect", nil))

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestEmitContinuesPastHandlerError(t *testing.T) {
	bus := events.NewBus(nil)

	var called int
	bus.Subscribe("game_end", func(events.Event) error {
		return oops.Errorf("handler broke")
	}, "flaky")
	bus.Subscribe("game_end", func(events.Event) error {
		called++
		return nil
	}, "stats")

	bus.Emit(events.NewSystem("game_end", nil))

	assert.Equal(t, 1, called)
}

func TestUnsubscribeRemovesOnlyThatSubscriber(t *testing.T) {
	bus := events.NewBus(nil)

	var chatCalls, statsCalls int
	bus.Subscribe("message_send", func(events.Event) error {
		chatCalls++
		return nil
	}, "chat")
	bus.Subscribe("message_send", func(events.Event) error {
		statsCalls++
		return nil
	}, "stats")

	bus.Unsubscribe("message_send", "chat")
	bus.Emit(events.NewSystem("message_send", nil))

	assert.Zero(t, chatCalls)
	assert.Equal(t, 1, statsCalls)
	assert.Equal(t, []string{"stats"}, bus.Subscribers("message_send"))
}

func TestUnsubscribePrunesEmptyEventTypes(t *testing.T) {
	bus := events.NewBus(nil)
	bus.Subscribe("room_create", func(events.Event) error { return nil }, "chat")

	require.True(t, bus.HasSubscribers("room_create"))
	bus.Unsubscribe("room_create", "chat")

	assert.False(t, bus.HasSubscribers("room_create"))
	assert.Empty(t, bus.EventTypes())
}

func TestUnsubscribeAll(t *testing.T) {
	bus := events.NewBus(nil)
	nop := func(events.Event) error { return nil }

	bus.Subscribe("user_connect", nop, "chat")
	bus.Subscribe("user_disconnect", nop, "chat")
	bus.Subscribe("user_connect", nop, "stats")

	bus.UnsubscribeAll("chat")

	assert.Equal(t, []string{"stats"}, bus.Subscribers("user_connect"))
	assert.False(t, bus.HasSubscribers("user_disconnect"))
	assert.Equal(t, []string{"user_connect"}, bus.EventTypes())
}

func TestBroadcastDelivery(t *testing.T) {
	bus := events.NewBus(nil)
	ch := bus.SubscribeBroadcast()

	emitted := events.NewSystem("server_start", map[string]any{"port": 12345})
	bus.Emit(emitted)

	got := <-ch
	assert.Equal(t, emitted.ID, got.ID)
	assert.Equal(t, "server_start", got.Type)

	bus.UnsubscribeBroadcast(ch)
	_, open := <-ch
	assert.False(t, open)
}

func TestBroadcastDropsWhenBufferFull(t *testing.T) {
	bus := events.NewBus(nil)
	ch := bus.SubscribeBroadcast()

	// One more than the buffer; the excess event is dropped, not blocked on.
	for range 101 {
		bus.Emit(events.NewSystem("message_send", nil))
	}

	count := 0
	for range len(ch) {
		<-ch
		count++
	}
	assert.Equal(t, 100, count)
	bus.UnsubscribeBroadcast(ch)
}

func TestBroadcastUnsubscribeDuringEmit(t *testing.T) {
	bus := events.NewBus(nil)
	ch := bus.SubscribeBroadcast()

	entered := make(chan struct{})
	released := make(chan struct{})
	bus.Subscribe("server_shutdown", func(events.Event) error {
		close(entered)
		<-released
		return nil
	}, "slow")

	done := make(chan struct{})
	go func() {
		defer close(done)
		bus.Emit(events.NewSystem("server_shutdown", nil))
	}()

	// Close the broadcast channel while Emit is paused inside handler
	// fan-out; the broadcast phase must not send on it afterwards.
	<-entered
	bus.UnsubscribeBroadcast(ch)
	close(released)
	<-done

	_, open := <-ch
	assert.False(t, open)
}

func TestConcurrentEmitAndUnsubscribe(t *testing.T) {
	bus := events.NewBus(nil)
	nop := func(events.Event) error { return nil }

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 200 {
			bus.Subscribe("message_send", nop, "chat")
			bus.Subscribe("message_send", nop, "stats")
			bus.Unsubscribe("message_send", "chat")
			bus.UnsubscribeAll("stats")
		}
	}()

	for range 200 {
		bus.Emit(events.NewSystem("message_send", nil))
	}
	<-done

	assert.False(t, bus.HasSubscribers("message_send"))
}

func TestStats(t *testing.T) {
	bus := events.NewBus(nil)
	nop := func(events.Event) error { return nil }

	bus.Subscribe("user_connect", nop, "chat")
	bus.Subscribe("user_connect", nop, "stats")
	bus.Subscribe("game_end", nop, "stats")
	ch := bus.SubscribeBroadcast()
	defer bus.UnsubscribeBroadcast(ch)

	stats := bus.Stats()
	assert.Equal(t, 2, stats.EventTypes)
	assert.Equal(t, 3, stats.Subscriptions)
	assert.Equal(t, 1, stats.BroadcastReceivers)
}
