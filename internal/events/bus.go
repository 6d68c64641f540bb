// Package events provides the supervisor's in-process event bus. Lifecycle
// and routing events are published here and consumed by metrics and the
// admin surface.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	Timestamp() time.Time
	WorkerName() string
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"timestamp"`
	Worker string    `json:"worker"`
}

func (e BaseEvent) EventType() string    { return e.Type }
func (e BaseEvent) Timestamp() time.Time { return e.Time }
func (e BaseEvent) WorkerName() string   { return e.Worker }

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType, worker string) BaseEvent {
	return BaseEvent{
		Type:   eventType,
		Time:   time.Now(),
		Worker: worker,
	}
}

type subscriber struct {
	ch       chan Event
	types    map[string]bool // empty means all types
	priority bool
}

func (s *subscriber) wants(eventType string) bool {
	return len(s.types) == 0 || s.types[eventType]
}

// Bus is a pub/sub hub. Regular subscribers drop the oldest event when
// their buffer is full; priority subscribers never drop.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*subscriber
	bufferSize  int
	dropped     atomic.Int64
	closed      bool
}

// New creates a Bus with the given per-subscriber buffer size.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe returns a channel receiving events of the given types, or all
// events when no type is given.
func (b *Bus) Subscribe(types ...string) <-chan Event {
	return b.subscribe(false, b.bufferSize, types)
}

// SubscribePriority returns a channel that never drops events. Publishers
// block while it is full, so it must be drained promptly.
func (b *Bus) SubscribePriority(types ...string) <-chan Event {
	return b.subscribe(true, 50, types)
}

func (b *Bus) subscribe(priority bool, size int, types []string) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{
		ch:       make(chan Event, size),
		types:    make(map[string]bool, len(types)),
		priority: priority,
	}
	for _, t := range types {
		sub.types[t] = true
	}
	if b.closed {
		close(sub.ch)
		return sub.ch
	}
	b.subscribers = append(b.subscribers, sub)
	return sub.ch
}

// Unsubscribe removes and closes a subscription.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	kept := b.subscribers[:0]
	for _, sub := range b.subscribers {
		if sub.ch == ch {
			close(sub.ch)
			continue
		}
		kept = append(kept, sub)
	}
	b.subscribers = kept
}

// Publish delivers event to every matching subscriber.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	eventType := event.EventType()
	for _, sub := range b.subscribers {
		if !sub.wants(eventType) {
			continue
		}
		if sub.priority {
			sub.ch <- event
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Ring buffer: drop the oldest and retry once.
			select {
			case <-sub.ch:
				b.dropped.Add(1)
			default:
			}
			select {
			case sub.ch <- event:
			default:
				b.dropped.Add(1)
			}
		}
	}
}

// DroppedCount returns the total number of dropped events.
func (b *Bus) DroppedCount() int64 {
	return b.dropped.Load()
}

// Close closes the bus and all subscriber channels.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subscribers {
		close(sub.ch)
	}
	b.subscribers = nil
}
