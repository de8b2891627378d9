package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishNotifiesSubscribers(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	var received []Event
	done := make(chan struct{})

	bus.Subscribe(func(e Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		done <- struct{}{}
	})

	bus.PublishRoundStarted("r_20260730_0000", 65000.12)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("subscriber was not notified")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, EventRoundStarted, received[0].Type)
	assert.Equal(t, "r_20260730_0000", received[0].Data["round_id"])
	assert.Equal(t, 65000.12, received[0].Data["start_price"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := NewBus()

	calls := make(chan struct{}, 1)
	unsubscribe := bus.Subscribe(func(e Event) {
		calls <- struct{}{}
	})
	unsubscribe()

	bus.PublishRoundLocked("r_20260730_0000")

	select {
	case <-calls:
		t.Fatal("unsubscribed subscriber should not be notified")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishOnNilBusIsNoop(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.PublishRoundSettled("r_20260730_0000", "UP", 1.2)
	})
}
