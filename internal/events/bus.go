// Package events implements the coarse round-lifecycle broadcast channel: a
// minimal pub/sub bus that the Round Service publishes transitions to and
// that the API layer fans out to SSE clients. Adapted from the teacher's
// event bus, trimmed to the single event family this system emits.
package events

import (
	"sync"
	"time"
)

// EventType identifies a round lifecycle transition.
type EventType string

const (
	EventRoundStarted   EventType = "ROUND_STARTED"
	EventRoundLocked    EventType = "ROUND_LOCKED"
	EventRoundSettled   EventType = "ROUND_SETTLED"
	EventRoundCancelled EventType = "ROUND_CANCELLED"
)

// Event is one round lifecycle notification.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber receives published events. Bus.Publish invokes it in its own
// goroutine so a slow or blocked subscriber cannot stall the publisher.
type Subscriber func(Event)

// Bus is a coarse fan-out channel for round lifecycle events. It makes no
// delivery guarantees: subscribers that are gone or slow simply miss events.
type Bus struct {
	mu   sync.RWMutex
	subs []Subscriber
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber and returns an unsubscribe function.
func (b *Bus) Subscribe(sub Subscriber) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := len(b.subs)
	b.subs = append(b.subs, sub)
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if id < len(b.subs) {
			b.subs[id] = nil
		}
	}
}

// Publish notifies every live subscriber. Safe to call on a nil *Bus.
func (b *Bus) Publish(event Event) {
	if b == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub != nil {
			go sub(event)
		}
	}
}

// PublishRoundStarted notifies subscribers that a new round entered betting.
func (b *Bus) PublishRoundStarted(roundID string, startPrice float64) {
	b.Publish(Event{Type: EventRoundStarted, Data: map[string]interface{}{
		"round_id": roundID, "start_price": startPrice,
	}})
}

// PublishRoundLocked notifies subscribers that a round stopped accepting judgments.
func (b *Bus) PublishRoundLocked(roundID string) {
	b.Publish(Event{Type: EventRoundLocked, Data: map[string]interface{}{
		"round_id": roundID,
	}})
}

// PublishRoundSettled notifies subscribers that a round's verdict was computed.
func (b *Bus) PublishRoundSettled(roundID, result string, deltaPct float64) {
	b.Publish(Event{Type: EventRoundSettled, Data: map[string]interface{}{
		"round_id": roundID, "result": result, "delta_pct": deltaPct,
	}})
}

// PublishRoundCancelled notifies subscribers that a round was dropped for lack
// of submissions.
func (b *Bus) PublishRoundCancelled(roundID string) {
	b.Publish(Event{Type: EventRoundCancelled, Data: map[string]interface{}{
		"round_id": roundID,
	}})
}
